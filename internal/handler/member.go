package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/library-circulation/internal/model"
)

// MemberStore manages library members.
type MemberStore interface {
	CreateMember(ctx context.Context, m *model.Member) error
	FindMember(ctx context.Context, id uint64) (model.Member, error)
	FindMemberByUserID(ctx context.Context, userID uint64) (model.Member, error)
	DeactivateMember(ctx context.Context, id uint64) error
}

// MemberHandler serves librarian member administration.
type MemberHandler struct {
	responder
	Members MemberStore
}

func NewMemberHandler(members MemberStore, log *zap.Logger) *MemberHandler {
	if members == nil {
		panic("nil store passed to NewMemberHandler")
	}
	return &MemberHandler{responder: newResponder(log), Members: members}
}

const dateLayout = "2006-01-02"

type createMemberReq struct {
	UserID          *uint64 `json:"user_id"`
	FirstName       string  `json:"first_name" validate:"required,max=100"`
	LastName        string  `json:"last_name" validate:"max=100"`
	MembershipID    string  `json:"membership_id" validate:"required,max=32"`
	StudentID       *string `json:"student_id" validate:"omitempty,max=32"`
	Email           string  `json:"email" validate:"required,email"`
	Phone           *string `json:"phone" validate:"omitempty,max=32"`
	Category        string  `json:"category" validate:"required,oneof=student professor staff guest"`
	MembershipStart string  `json:"membership_start" validate:"required,datetime=2006-01-02"`
	MembershipEnd   string  `json:"membership_end" validate:"required,datetime=2006-01-02"`
	MaxBorrowLimit  *uint32 `json:"max_borrow_limit" validate:"omitempty,min=1,max=50"`
	Notes           string  `json:"notes"`
}

type memberResp struct {
	ID              uint64  `json:"id"`
	UserID          *uint64 `json:"user_id,omitempty"`
	Name            string  `json:"name"`
	MembershipID    string  `json:"membership_id"`
	Email           string  `json:"email"`
	Category        string  `json:"category"`
	MembershipStart string  `json:"membership_start"`
	MembershipEnd   string  `json:"membership_end"`
	Active          bool    `json:"active"`
	MaxBorrowLimit  uint32  `json:"max_borrow_limit"`
}

func toMemberResp(m model.Member) memberResp {
	return memberResp{
		ID:              m.ID,
		UserID:          m.UserID,
		Name:            m.FullName(),
		MembershipID:    m.MembershipID,
		Email:           m.Email,
		Category:        string(m.Category),
		MembershipStart: m.MembershipStart.Format(dateLayout),
		MembershipEnd:   m.MembershipEnd.Format(dateLayout),
		Active:          m.Active,
		MaxBorrowLimit:  m.MaxBorrowLimit,
	}
}

// CreateMember: POST /v1/members
func (h *MemberHandler) CreateMember(c echo.Context) error {
	var req createMemberReq
	if err := bind(c, &req); err != nil {
		return invalid(c, err)
	}
	start, _ := time.Parse(dateLayout, req.MembershipStart) // validated above
	end, _ := time.Parse(dateLayout, req.MembershipEnd)
	if end.Before(start) {
		return errorJSON(c, http.StatusBadRequest, kindValidation, "membership_end before membership_start")
	}
	limit := uint32(5)
	if req.MaxBorrowLimit != nil {
		limit = *req.MaxBorrowLimit
	}
	m := model.Member{
		UserID:          req.UserID,
		FirstName:       strings.TrimSpace(req.FirstName),
		LastName:        strings.TrimSpace(req.LastName),
		MembershipID:    strings.TrimSpace(req.MembershipID),
		StudentID:       req.StudentID,
		Email:           strings.ToLower(strings.TrimSpace(req.Email)),
		Phone:           req.Phone,
		Category:        model.Category(req.Category),
		MembershipStart: start,
		MembershipEnd:   end,
		Active:          true,
		MaxBorrowLimit:  limit,
		Notes:           req.Notes,
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	if err := h.Members.CreateMember(ctx, &m); err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, toMemberResp(m))
}

// GetMember: GET /v1/members/:id
func (h *MemberHandler) GetMember(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badID(c)
	}
	m, err := h.Members.FindMember(c.Request().Context(), id)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, toMemberResp(m))
}

// DeactivateMember: DELETE /v1/members/:id.  The member is kept for history.
func (h *MemberHandler) DeactivateMember(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badID(c)
	}
	if err := h.Members.DeactivateMember(c.Request().Context(), id); err != nil {
		return h.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
