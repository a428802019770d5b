package main // Entry point package

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/library-circulation/internal/circulation"
	"github.com/iliyamo/library-circulation/internal/config"
	"github.com/iliyamo/library-circulation/internal/database"
	"github.com/iliyamo/library-circulation/internal/handler"
	"github.com/iliyamo/library-circulation/internal/logger"
	"github.com/iliyamo/library-circulation/internal/queue"
	"github.com/iliyamo/library-circulation/internal/repository"
	"github.com/iliyamo/library-circulation/internal/repository/memory"
	"github.com/iliyamo/library-circulation/internal/router"
	"github.com/iliyamo/library-circulation/internal/service"
	"github.com/iliyamo/library-circulation/internal/worker"
)

// stores bundles the persistence each handler needs.  The MySQL driver fills
// it with one repository per table; the memory driver uses a single store
// for everything.
type stores struct {
	engine       circulation.Store
	books        handler.BookStore
	genres       handler.GenreStore
	members      handler.MemberStore
	borrows      handler.BorrowHistory
	reservations handler.ReservationHistory
	users        handler.UserStore
	tokens       handler.TokenStore
	checks       map[string]handler.Check
}

func main() {
	cfg := config.Load()
	logCfg := config.LoadLogConfig()
	log, flush := logger.New(logCfg)
	defer flush()

	circCfg := config.LoadCirculationConfig()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := openStores(ctx, cfg, log)
	if err != nil {
		log.Fatal("open store", zap.String("driver", cfg.StoreDriver), zap.Error(err))
	}
	defer closeStore()

	rdb := config.NewRedisClient(config.LoadRedisConfig(), log)
	if rdb != nil {
		defer func() { _ = rdb.Close() }()
		st.checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	var pub circulation.Publisher = circulation.NopPublisher{}
	if cfg.BrokerEnabled {
		rp := service.NewRabbitPublisher(cfg.BrokerURL, log)
		defer func() { _ = rp.Close() }()
		pub = rp

		consumer := queue.NewConsumer(cfg.BrokerURL, logCfg.AuditDir, log)
		go func() {
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("audit consumer stopped", zap.Error(err))
			}
		}()
	}

	engine := circulation.NewEngine(st.engine, circCfg.Policy, circulation.SystemClock{}, pub, log)
	go worker.NewSweeper(engine, circCfg.SweepInterval, log).Run(ctx)

	e := router.New(router.Handlers{
		Auth:        handler.NewAuthHandler(cfg, st.users, st.tokens, st.members, log),
		Catalog:     handler.NewCatalogHandler(st.books, st.genres, log),
		Members:     handler.NewMemberHandler(st.members, log),
		Circulation: handler.NewCirculationHandler(engine, st.members, st.borrows, st.reservations, log),
		Health:      handler.Health(st.checks),
	}, router.Options{
		JWTSecret: cfg.JWTSecret,
		Cache:     config.LoadCacheConfig(),
		RateLimit: config.LoadRateLimitConfig(),
		Redis:     rdb,
		Log:       log,
	})

	addr := ":" + cfg.Port
	go func() {
		log.Info("listening", zap.String("addr", addr), zap.String("env", cfg.Env), zap.String("store", cfg.StoreDriver))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", zap.Error(err))
	}
}

// openStores connects the configured driver and returns a close func.
func openStores(ctx context.Context, cfg config.Config, log *zap.Logger) (stores, func(), error) {
	if cfg.StoreDriver == config.DriverMemory {
		log.Warn("using in-memory store; data is lost on restart")
		m := memory.New(circulation.SystemClock{})
		return stores{
			engine: m, books: m, genres: m, members: m,
			borrows: m, reservations: m, users: m, tokens: m,
			checks: map[string]handler.Check{},
		}, func() {}, nil
	}

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		return stores{}, nil, err
	}
	if cfg.DBMigrate {
		mctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := database.Migrate(mctx, db); err != nil {
			_ = db.Close()
			return stores{}, nil, err
		}
	}
	return stores{
		engine:       repository.NewStore(db),
		books:        repository.NewBookRepo(db),
		genres:       repository.NewGenreRepo(db),
		members:      repository.NewMemberRepo(db),
		borrows:      repository.NewBorrowRepo(db),
		reservations: repository.NewReservationRepo(db),
		users:        repository.NewUserRepo(db),
		tokens:       repository.NewTokenRepo(db),
		checks:       map[string]handler.Check{"mysql": pingDB(db)},
	}, func() { _ = db.Close() }, nil
}

func pingDB(db *sql.DB) handler.Check {
	return func(ctx context.Context) error { return db.PingContext(ctx) }
}
