package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/library-circulation/internal/handler"
	"github.com/iliyamo/library-circulation/internal/middleware"
	"github.com/iliyamo/library-circulation/internal/model"
)

// RegisterMember registers patron endpoints under /v1.  Reserving and
// history need the MEMBER role; cancelling is open to librarians as well and
// ownership is checked in the handler.
func RegisterMember(e *echo.Echo, h *handler.CirculationHandler, jwtSecret string, invalidate echo.MiddlewareFunc) {
	g := e.Group("/v1", middleware.JWTAuth(jwtSecret))

	member := middleware.RequireRole(model.RoleMember)
	g.POST("/books/:id/reserve", h.Reserve, member, invalidate)
	g.GET("/me/borrows", h.MyBorrows, member)

	g.DELETE("/reservations/:id", h.CancelReservation,
		middleware.RequireRole(model.RoleMember, model.RoleLibrarian), invalidate)
}
