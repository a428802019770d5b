package router // package router defines how HTTP routes are registered for the API

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/iliyamo/library-circulation/internal/config"
	"github.com/iliyamo/library-circulation/internal/handler"
	"github.com/iliyamo/library-circulation/internal/middleware"
	"github.com/iliyamo/library-circulation/internal/model"
)

// Handlers groups every HTTP handler the router mounts.
type Handlers struct {
	Auth        *handler.AuthHandler
	Catalog     *handler.CatalogHandler
	Members     *handler.MemberHandler
	Circulation *handler.CirculationHandler
	Health      echo.HandlerFunc
}

// Options carries the cross-cutting settings.  A nil Redis client disables
// response caching and rate limiting.
type Options struct {
	JWTSecret string
	Cache     config.CacheConfig
	RateLimit config.RateLimitConfig
	Redis     *redis.Client
	Log       *zap.Logger
}

// New builds the echo instance with global middleware and every route.
func New(h Handlers, opt Options) *echo.Echo {
	if opt.Log == nil {
		opt.Log = zap.NewNop()
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.JSONSerializer = handler.JSONSerializer{}
	e.HTTPErrorHandler = errorHandler(opt.Log)

	e.Use(echomw.RequestID())
	e.Use(echomw.Recover())
	e.Use(middleware.RequestLogger(opt.Log))
	e.Use(middleware.NewTokenBucket(opt.RateLimit, opt.Redis, opt.Log))

	RegisterRoutes(e, h.Health)
	RegisterPublic(e, h.Catalog, middleware.NewRedisCache(opt.Cache, opt.Redis))
	RegisterAuth(e, h.Auth, opt.JWTSecret)

	invalidate := middleware.InvalidateCache(opt.Cache, opt.Redis, opt.Log)
	RegisterLibrarian(e, h.Catalog, h.Members, h.Circulation, opt.JWTSecret, invalidate)
	RegisterMember(e, h.Circulation, opt.JWTSecret, invalidate)
	return e
}

// RegisterRoutes registers routes that do not touch the API surface.
func RegisterRoutes(e *echo.Echo, health echo.HandlerFunc) {
	e.GET("/healthz", health)
}

// RegisterPublic registers unauthenticated catalog browsing.  Responses go
// through the Redis cache when one is configured.
func RegisterPublic(e *echo.Echo, p *handler.CatalogHandler, cache echo.MiddlewareFunc) {
	g := e.Group("/v1")
	g.GET("/books", p.ListBooks, cache)
	g.GET("/books/recent", p.RecentBooks, cache)
	g.GET("/books/popular", p.PopularBooks, cache)
	g.GET("/books/:id", p.GetBook, cache)
	g.GET("/genres", p.ListGenres, cache)
}

// RegisterAuth registers session endpoints under /v1/auth and the
// authenticated /v1/me.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, jwtSecret string) {
	g := e.Group("/v1/auth")
	g.POST("/register", a.Register)
	g.POST("/login", a.Login)
	g.POST("/refresh", a.Refresh) // rotates the refresh token
	g.POST("/refresh-access", a.RefreshAccess)
	g.POST("/logout", a.Logout) // refresh_token body or bearer header

	auth := e.Group("/v1",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(model.RoleLibrarian, model.RoleMember),
	)
	auth.GET("/me", a.Me)
}

// errorHandler renders echo's own errors (unknown route, bad JSON, panics)
// in the same body shape the handlers use.
func errorHandler(log *zap.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		status, msg := http.StatusInternalServerError, "internal error"
		var he *echo.HTTPError
		if errors.As(err, &he) {
			status = he.Code
			if m, ok := he.Message.(string); ok {
				msg = m
			} else {
				msg = http.StatusText(status)
			}
		}
		if status >= 500 {
			log.Error("unhandled error", zap.String("path", c.Path()), zap.Error(err))
		}
		body := map[string]any{"error": msg, "kind": kindForStatus(status), "retryable": false}
		if c.Request().Method == http.MethodHead {
			err = c.NoContent(status)
		} else {
			err = c.JSON(status, body)
		}
		if err != nil {
			log.Warn("write error response", zap.Error(err))
		}
	}
}

func kindForStatus(status int) string {
	switch status {
	case http.StatusNotFound:
		return "not_found"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusMethodNotAllowed:
		return "method_not_allowed"
	case http.StatusRequestEntityTooLarge, http.StatusBadRequest, http.StatusUnsupportedMediaType:
		return "validation"
	}
	if status >= 500 {
		return "internal"
	}
	return "bad_request"
}
