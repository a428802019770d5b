package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/library-circulation/internal/circulation"
	"github.com/iliyamo/library-circulation/internal/config"
	"github.com/iliyamo/library-circulation/internal/middleware"
	"github.com/iliyamo/library-circulation/internal/model"
	"github.com/iliyamo/library-circulation/internal/repository"
	"github.com/iliyamo/library-circulation/internal/utils"
)

// UserStore persists accounts.
type UserStore interface {
	CreateUser(ctx context.Context, email, password, role string, cost int) (uint64, error)
	UserByEmail(ctx context.Context, email string) (model.User, error)
	UserByID(ctx context.Context, id uint64) (model.User, error)
}

// TokenStore persists hashed refresh tokens.
type TokenStore interface {
	StoreRefresh(ctx context.Context, userID uint64, tokenHash string, exp time.Time) error
	ValidateRefresh(ctx context.Context, tokenHash string) (uint64, error)
	RevokeByHash(ctx context.Context, tokenHash string) error
	RevokeAllForUser(ctx context.Context, userID uint64) error
}

// AuthHandler bundles dependencies for auth endpoints.
type AuthHandler struct {
	responder
	Cfg     config.Config
	Users   UserStore
	Tokens  TokenStore
	Members MemberStore
}

func NewAuthHandler(cfg config.Config, u UserStore, t TokenStore, m MemberStore, log *zap.Logger) *AuthHandler {
	if u == nil || t == nil || m == nil {
		panic("nil store passed to NewAuthHandler")
	}
	return &AuthHandler{responder: newResponder(log), Cfg: cfg, Users: u, Tokens: t, Members: m}
}

// ----- DTOs -----

type registerReq struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	Role     string `json:"role"` // honoured only in development
}
type loginReq struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}
type refreshReq struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenPart struct {
	Token   string    `json:"token"`
	Expires time.Time `json:"expires"`
}
type userPart struct {
	ID    uint64 `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}
type authResp struct {
	User    userPart  `json:"user"`
	Access  tokenPart `json:"access"`
	Refresh tokenPart `json:"refresh"`
}

// Register: create a MEMBER account and return tokens immediately.  Outside
// development every self-registered account is a MEMBER; librarians are
// provisioned by an operator.
func (h *AuthHandler) Register(c echo.Context) error {
	var req registerReq
	if err := bind(c, &req); err != nil {
		return invalid(c, err)
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	role := model.RoleMember
	if h.Cfg.IsDev() && strings.EqualFold(strings.TrimSpace(req.Role), model.RoleLibrarian) {
		role = model.RoleLibrarian
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	uid, err := h.Users.CreateUser(ctx, req.Email, req.Password, role, h.Cfg.BcryptCost)
	if err != nil {
		return h.fail(c, err)
	}
	resp, err := h.issue(ctx, userPart{ID: uid, Email: req.Email, Role: role})
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, resp)
}

// Login: verify and return a new pair.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if err := bind(c, &req); err != nil {
		return invalid(c, err)
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	u, err := h.Users.UserByEmail(ctx, req.Email)
	if errors.Is(err, circulation.ErrNotFound) {
		utils.RejectUnknownAccount(req.Password)
		return errorJSON(c, http.StatusUnauthorized, kindUnauthorized, "invalid credentials")
	}
	if err != nil {
		return h.fail(c, err)
	}
	if !u.IsActive || !utils.VerifyPassword(u.PasswordHash, req.Password) {
		return errorJSON(c, http.StatusUnauthorized, kindUnauthorized, "invalid credentials")
	}
	resp, err := h.issue(ctx, userPart{ID: u.ID, Email: u.Email, Role: u.Role})
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

// Refresh: validate by hash, revoke old, issue new.
func (h *AuthHandler) Refresh(c echo.Context) error {
	raw, ok := refreshFromBody(c)
	if !ok {
		return errorJSON(c, http.StatusBadRequest, kindValidation, "refresh_token required")
	}
	hash := utils.HashRefreshRaw(raw)

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	u, err := h.refreshOwner(ctx, hash)
	if err != nil {
		return h.authFail(c, err)
	}
	if err := h.Tokens.RevokeByHash(ctx, hash); err != nil {
		return h.fail(c, err)
	}
	resp, err := h.issue(ctx, userPart{ID: u.ID, Email: u.Email, Role: u.Role})
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

// RefreshAccess returns a new access token without rotating the refresh
// token.
func (h *AuthHandler) RefreshAccess(c echo.Context) error {
	raw, ok := refreshFromBody(c)
	if !ok {
		return errorJSON(c, http.StatusBadRequest, kindValidation, "refresh_token required")
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	u, err := h.refreshOwner(ctx, utils.HashRefreshRaw(raw))
	if err != nil {
		return h.authFail(c, err)
	}
	access, err := utils.NewAccessToken(h.Cfg.JWTSecret, u.ID, u.Role, h.Cfg.AccessTTLMin)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"access": tokenPart{Token: access.Token, Expires: access.Exp},
	})
}

// Logout revokes one session when a refresh_token is posted, or every
// session of the bearer when only an Authorization header is present.
func (h *AuthHandler) Logout(c echo.Context) error {
	var uid uint64
	if raw, found := strings.CutPrefix(c.Request().Header.Get(echo.HeaderAuthorization), "Bearer "); found {
		if claims, err := utils.ParseAccessToken(h.Cfg.JWTSecret, strings.TrimSpace(raw)); err == nil {
			uid, _ = claims.UserID()
		}
	}
	refreshToken, _ := refreshFromBody(c)

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	switch {
	case refreshToken != "":
		hash := utils.HashRefreshRaw(refreshToken)
		if _, err := h.Tokens.ValidateRefresh(ctx, hash); err != nil {
			return h.authFail(c, err)
		}
		if err := h.Tokens.RevokeByHash(ctx, hash); err != nil {
			return h.fail(c, err)
		}
	case uid != 0:
		if err := h.Tokens.RevokeAllForUser(ctx, uid); err != nil {
			return h.fail(c, err)
		}
	default:
		return errorJSON(c, http.StatusBadRequest, kindValidation, "provide Authorization header or refresh_token")
	}
	return c.NoContent(http.StatusNoContent)
}

// Me: the signed-in account plus its member id when one is linked.
func (h *AuthHandler) Me(c echo.Context) error {
	uid, ok := middleware.UserID(c)
	if !ok {
		return errorJSON(c, http.StatusUnauthorized, kindUnauthorized, "unauthorized")
	}
	ctx := c.Request().Context()
	u, err := h.Users.UserByID(ctx, uid)
	if err != nil {
		return h.fail(c, err)
	}
	out := echo.Map{"user": userPart{ID: u.ID, Email: u.Email, Role: u.Role}}
	m, err := h.Members.FindMemberByUserID(ctx, uid)
	switch {
	case err == nil:
		out["member_id"] = m.ID
	case !errors.Is(err, circulation.ErrNotFound):
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

// ----- helpers -----

func refreshFromBody(c echo.Context) (string, bool) {
	var req refreshReq
	if err := c.Bind(&req); err != nil {
		return "", false
	}
	raw := strings.TrimSpace(req.RefreshToken)
	return raw, raw != ""
}

// refreshOwner resolves the active account behind a refresh token hash.
func (h *AuthHandler) refreshOwner(ctx context.Context, hash string) (model.User, error) {
	userID, err := h.Tokens.ValidateRefresh(ctx, hash)
	if err != nil {
		return model.User{}, err
	}
	u, err := h.Users.UserByID(ctx, userID)
	if errors.Is(err, circulation.ErrNotFound) || (err == nil && !u.IsActive) {
		return model.User{}, errInvalidRefresh
	}
	return u, err
}

var errInvalidRefresh = errors.New("invalid refresh token")

// authFail answers 401 for token problems and defers to fail otherwise.
func (h *AuthHandler) authFail(c echo.Context, err error) error {
	if errors.Is(err, errInvalidRefresh) || errors.Is(err, repository.ErrInvalidToken) {
		return errorJSON(c, http.StatusUnauthorized, kindUnauthorized, "invalid refresh token")
	}
	return h.fail(c, err)
}

func (h *AuthHandler) issue(ctx context.Context, u userPart) (authResp, error) {
	access, err := utils.NewAccessToken(h.Cfg.JWTSecret, u.ID, u.Role, h.Cfg.AccessTTLMin)
	if err != nil {
		return authResp{}, err
	}
	refresh, err := utils.NewRefreshToken(h.Cfg.RefreshTTLDays)
	if err != nil {
		return authResp{}, err
	}
	if err := h.Tokens.StoreRefresh(ctx, u.ID, utils.HashRefreshRaw(refresh.Raw), refresh.Exp); err != nil {
		return authResp{}, err
	}
	return authResp{
		User:    u,
		Access:  tokenPart{Token: access.Token, Expires: access.Exp},
		Refresh: tokenPart{Token: refresh.Raw, Expires: refresh.Exp}, // raw back to client
	}, nil
}
