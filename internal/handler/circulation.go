package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/library-circulation/internal/circulation"
	"github.com/iliyamo/library-circulation/internal/middleware"
	"github.com/iliyamo/library-circulation/internal/model"
)

// Circulation is the engine surface used by the HTTP layer.
type Circulation interface {
	Borrow(ctx context.Context, bookID, memberID uint64) (circulation.BorrowReceipt, error)
	Return(ctx context.Context, borrowID uint64) (circulation.ReturnReceipt, error)
	Renew(ctx context.Context, borrowID uint64) (circulation.BorrowReceipt, error)
	Reserve(ctx context.Context, bookID, memberID uint64) (circulation.ReservationReceipt, error)
	Cancel(ctx context.Context, reservationID, memberID uint64) error
	ExpireReservations(ctx context.Context, now time.Time) (int, error)
	Now() time.Time
	Policy() circulation.Policy
}

// BorrowHistory lists a member's loans.
type BorrowHistory interface {
	ListBorrowsByMember(ctx context.Context, memberID uint64) ([]model.BorrowRecord, error)
}

// ReservationHistory lists a member's reservations.
type ReservationHistory interface {
	ListReservationsByMember(ctx context.Context, memberID uint64) ([]model.Reservation, error)
}

// CirculationHandler exposes borrowing, returning, renewing and reservations.
// Librarians act on behalf of any member; members act for themselves.
type CirculationHandler struct {
	responder
	Engine       Circulation
	Members      MemberStore
	Borrows      BorrowHistory
	Reservations ReservationHistory
}

func NewCirculationHandler(engine Circulation, members MemberStore, borrows BorrowHistory, reservations ReservationHistory, log *zap.Logger) *CirculationHandler {
	if engine == nil || members == nil || borrows == nil || reservations == nil {
		panic("nil dependency passed to NewCirculationHandler")
	}
	return &CirculationHandler{
		responder:    newResponder(log),
		Engine:       engine,
		Members:      members,
		Borrows:      borrows,
		Reservations: reservations,
	}
}

// errNoMembership is returned when a MEMBER account has no member record.
var errNoMembership = fmt.Errorf("no library membership linked to this account: %w", circulation.ErrMemberIneligible)

type onBehalfReq struct {
	MemberID uint64 `json:"member_id" validate:"required"`
}

type borrowView struct {
	ID           uint64     `json:"id"`
	BookID       uint64     `json:"book_id"`
	BorrowDate   time.Time  `json:"borrow_date"`
	DueDate      time.Time  `json:"due_date"`
	ReturnDate   *time.Time `json:"return_date,omitempty"`
	Returned     bool       `json:"returned"`
	RenewalCount uint32     `json:"renewal_count"`
	OverdueDays  int        `json:"overdue_days"`
	FineAmount   string     `json:"fine_amount"`
}

type reservationView struct {
	ID        uint64    `json:"id"`
	BookID    uint64    `json:"book_id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ----- librarian -----

// Borrow: POST /v1/books/:id/borrow with {"member_id": n}
func (h *CirculationHandler) Borrow(c echo.Context) error {
	bookID, ok := pathID(c, "id")
	if !ok {
		return badID(c)
	}
	var req onBehalfReq
	if err := bind(c, &req); err != nil {
		return invalid(c, err)
	}
	receipt, err := h.Engine.Borrow(c.Request().Context(), bookID, req.MemberID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, receipt)
}

// Return: POST /v1/borrows/:id/return
func (h *CirculationHandler) Return(c echo.Context) error {
	borrowID, ok := pathID(c, "id")
	if !ok {
		return badID(c)
	}
	receipt, err := h.Engine.Return(c.Request().Context(), borrowID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, receipt)
}

// Renew: POST /v1/borrows/:id/renew
func (h *CirculationHandler) Renew(c echo.Context) error {
	borrowID, ok := pathID(c, "id")
	if !ok {
		return badID(c)
	}
	receipt, err := h.Engine.Renew(c.Request().Context(), borrowID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, receipt)
}

// ReserveFor: POST /v1/books/:id/reservations with {"member_id": n}
func (h *CirculationHandler) ReserveFor(c echo.Context) error {
	bookID, ok := pathID(c, "id")
	if !ok {
		return badID(c)
	}
	var req onBehalfReq
	if err := bind(c, &req); err != nil {
		return invalid(c, err)
	}
	return h.reserve(c, bookID, req.MemberID)
}

// ExpireReservations: POST /v1/reservations/expire runs one sweep now.
func (h *CirculationHandler) ExpireReservations(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 30*time.Second)
	defer cancel()
	n, err := h.Engine.ExpireReservations(ctx, h.Engine.Now())
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"expired": n})
}

// MemberBorrows: GET /v1/members/:id/borrows
func (h *CirculationHandler) MemberBorrows(c echo.Context) error {
	memberID, ok := pathID(c, "id")
	if !ok {
		return badID(c)
	}
	if _, err := h.Members.FindMember(c.Request().Context(), memberID); err != nil {
		return h.fail(c, err)
	}
	return h.history(c, memberID)
}

// ----- member -----

// Reserve: POST /v1/books/:id/reserve for the signed-in member.
func (h *CirculationHandler) Reserve(c echo.Context) error {
	bookID, ok := pathID(c, "id")
	if !ok {
		return badID(c)
	}
	m, err := h.currentMember(c)
	if err != nil {
		return h.fail(c, err)
	}
	return h.reserve(c, bookID, m.ID)
}

// CancelReservation: DELETE /v1/reservations/:id.  Members may only cancel
// their own reservations; librarians may cancel any.
func (h *CirculationHandler) CancelReservation(c echo.Context) error {
	resID, ok := pathID(c, "id")
	if !ok {
		return badID(c)
	}
	var owner uint64
	if middleware.Role(c) != model.RoleLibrarian {
		m, err := h.currentMember(c)
		if err != nil {
			return h.fail(c, err)
		}
		owner = m.ID
	}
	if err := h.Engine.Cancel(c.Request().Context(), resID, owner); err != nil {
		return h.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// MyBorrows: GET /v1/me/borrows
func (h *CirculationHandler) MyBorrows(c echo.Context) error {
	m, err := h.currentMember(c)
	if err != nil {
		return h.fail(c, err)
	}
	return h.history(c, m.ID)
}

// ----- helpers -----

func (h *CirculationHandler) reserve(c echo.Context, bookID, memberID uint64) error {
	receipt, err := h.Engine.Reserve(c.Request().Context(), bookID, memberID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, receipt)
}

func (h *CirculationHandler) currentMember(c echo.Context) (model.Member, error) {
	uid, ok := middleware.UserID(c)
	if !ok {
		return model.Member{}, errNoMembership
	}
	m, err := h.Members.FindMemberByUserID(c.Request().Context(), uid)
	if errors.Is(err, circulation.ErrNotFound) {
		return model.Member{}, errNoMembership
	}
	return m, err
}

func (h *CirculationHandler) history(c echo.Context, memberID uint64) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	borrows, err := h.Borrows.ListBorrowsByMember(ctx, memberID)
	if err != nil {
		return h.fail(c, err)
	}
	reservations, err := h.Reservations.ListReservationsByMember(ctx, memberID)
	if err != nil {
		return h.fail(c, err)
	}

	policy, now := h.Engine.Policy(), h.Engine.Now()
	loans := make([]borrowView, 0, len(borrows))
	for _, r := range borrows {
		end := now
		if r.ReturnDate != nil {
			end = *r.ReturnDate
		}
		loans = append(loans, borrowView{
			ID:           r.ID,
			BookID:       r.BookID,
			BorrowDate:   r.BorrowDate,
			DueDate:      r.DueDate,
			ReturnDate:   r.ReturnDate,
			Returned:     r.Returned,
			RenewalCount: r.RenewalCount,
			OverdueDays:  policy.OverdueDays(r.DueDate, end),
			FineAmount:   r.FineAmount.StringFixed(2),
		})
	}
	holds := make([]reservationView, 0, len(reservations))
	for _, r := range reservations {
		holds = append(holds, reservationView{
			ID:        r.ID,
			BookID:    r.BookID,
			Status:    string(r.Status),
			CreatedAt: r.CreatedAt,
			ExpiresAt: r.ExpiresAt,
		})
	}
	return c.JSON(http.StatusOK, echo.Map{"borrows": loans, "reservations": holds})
}
