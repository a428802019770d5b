// Package service publishes circulation events to RabbitMQ.  Errors are
// logged and returned so callers can ignore failures without interrupting the
// request that produced the event.
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/iliyamo/library-circulation/internal/circulation"
	"github.com/iliyamo/library-circulation/internal/queue"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// RabbitPublisher implements circulation.Publisher.  The connection and
// channel are opened on first use and re-opened after a failure; messages are
// persistent and routed through the default exchange to queue.QueueName.
type RabbitPublisher struct {
	url string
	log *zap.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

var _ circulation.Publisher = (*RabbitPublisher)(nil)

// NewRabbitPublisher returns a publisher for the broker at url.  No network
// I/O happens until the first Publish.
func NewRabbitPublisher(url string, log *zap.Logger) *RabbitPublisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &RabbitPublisher{url: url, log: log.Named("publisher")}
}

// Publish sends ev.  A broken channel is dropped and the send retried once on
// a fresh connection.
func (p *RabbitPublisher) Publish(ctx context.Context, ev queue.CirculationEvent) error {
	msg, err := newPublishing(ev)
	if err != nil {
		p.log.Error("marshal event failed", zap.String("type", ev.Type), zap.Error(err))
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for attempt := 0; attempt < 2; attempt++ {
		if err = p.ensureChannel(); err != nil {
			continue
		}
		err = p.ch.PublishWithContext(ctx,
			"",              // default exchange
			queue.QueueName, // routing key = queue name
			false,           // mandatory
			false,           // immediate
			msg,
		)
		if err == nil {
			return nil
		}
		p.reset()
		if ctx.Err() != nil {
			break
		}
	}
	p.log.Warn("publish failed", zap.String("type", ev.Type), zap.String("event_id", ev.EventID), zap.Error(err))
	return err
}

// Close shuts the channel and connection down.
func (p *RabbitPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reset()
	return nil
}

func (p *RabbitPublisher) ensureChannel() error {
	if p.ch != nil && !p.ch.IsClosed() {
		return nil
	}
	p.reset()
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("channel open: %w", err)
	}
	// durable so events survive broker restarts
	if _, err := ch.QueueDeclare(queue.QueueName, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("queue declare: %w", err)
	}
	p.conn, p.ch = conn, ch
	return nil
}

func (p *RabbitPublisher) reset() {
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}

func newPublishing(ev queue.CirculationEvent) (amqp.Publishing, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return amqp.Publishing{}, err
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.EventID,
		Type:         ev.Type,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}, nil
}
