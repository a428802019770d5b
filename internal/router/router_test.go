package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"

	"github.com/iliyamo/library-circulation/internal/circulation"
	"github.com/iliyamo/library-circulation/internal/config"
	"github.com/iliyamo/library-circulation/internal/handler"
	"github.com/iliyamo/library-circulation/internal/model"
	"github.com/iliyamo/library-circulation/internal/repository/memory"
	"github.com/iliyamo/library-circulation/internal/utils"
)

const secret = "router-secret"

func newServer(t *testing.T) *echo.Echo {
	t.Helper()
	log := zaptest.NewLogger(t)
	store := memory.New(circulation.SystemClock{})
	engine := circulation.NewEngine(store, circulation.DefaultPolicy(), nil, nil, log)
	cfg := config.Config{Env: "prod", JWTSecret: secret, AccessTTLMin: 5, RefreshTTLDays: 1, BcryptCost: bcrypt.MinCost}

	return New(Handlers{
		Auth:        handler.NewAuthHandler(cfg, store, store, store, log),
		Catalog:     handler.NewCatalogHandler(store, store, log),
		Members:     handler.NewMemberHandler(store, log),
		Circulation: handler.NewCirculationHandler(engine, store, store, store, log),
		Health:      handler.Health(map[string]handler.Check{"memory": func(context.Context) error { return nil }}),
	}, Options{JWTSecret: secret, Log: log})
}

func send(e *echo.Echo, method, path, body, role string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if role != "" {
		tok, _ := utils.NewAccessToken(secret, 7, role, 5)
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+tok.Token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestRouterPublicRoutes(t *testing.T) {
	e := newServer(t)

	rec := send(e, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = send(e, http.MethodGet, "/v1/books", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))

	rec = send(e, http.MethodGet, "/v1/genres", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	for _, path := range []string{"/v1/books/recent", "/v1/books/popular"} {
		rec = send(e, http.MethodGet, path, "", "")
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.JSONEq(t, `[]`, rec.Body.String(), path)
	}
}

func TestRouterRoleEnforcement(t *testing.T) {
	e := newServer(t)
	book := `{"title":"Dune","authors":["Frank Herbert"],"isbn":"9780441013593","quantity":1}`

	assert.Equal(t, http.StatusUnauthorized, send(e, http.MethodPost, "/v1/books", book, "").Code)
	assert.Equal(t, http.StatusForbidden, send(e, http.MethodPost, "/v1/books", book, model.RoleMember).Code)
	assert.Equal(t, http.StatusCreated, send(e, http.MethodPost, "/v1/books", book, model.RoleLibrarian).Code)

	assert.Equal(t, http.StatusForbidden, send(e, http.MethodPost, "/v1/books/1/reserve", "", model.RoleLibrarian).Code)
	assert.Equal(t, http.StatusForbidden, send(e, http.MethodGet, "/v1/me/borrows", "", model.RoleLibrarian).Code)

	// Librarians may cancel any reservation; the unknown id reaches the handler.
	assert.Equal(t, http.StatusNotFound, send(e, http.MethodDelete, "/v1/reservations/99", "", model.RoleLibrarian).Code)
}

func TestRouterErrorBodies(t *testing.T) {
	e := newServer(t)

	rec := send(e, http.MethodGet, "/nowhere", "", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"Not Found","kind":"not_found","retryable":false}`, rec.Body.String())

	rec = send(e, http.MethodGet, "/v1/me", "", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestKindForStatus(t *testing.T) {
	assert.Equal(t, "not_found", kindForStatus(http.StatusNotFound))
	assert.Equal(t, "validation", kindForStatus(http.StatusBadRequest))
	assert.Equal(t, "internal", kindForStatus(http.StatusBadGateway))
	assert.Equal(t, "bad_request", kindForStatus(http.StatusTeapot))
}
