package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/library-circulation/internal/handler"
	"github.com/iliyamo/library-circulation/internal/middleware"
	"github.com/iliyamo/library-circulation/internal/model"
)

// RegisterLibrarian registers LIBRARIAN-scoped endpoints under /v1.  Every
// successful write drops the cached catalog responses.
func RegisterLibrarian(e *echo.Echo, cat *handler.CatalogHandler, mem *handler.MemberHandler, circ *handler.CirculationHandler, jwtSecret string, invalidate echo.MiddlewareFunc) {
	g := e.Group(
		"/v1",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(model.RoleLibrarian),
	)

	// ---- Catalog ----
	g.POST("/books", cat.CreateBook, invalidate)
	g.POST("/genres", cat.CreateGenre, invalidate)
	g.PUT("/genres/:id/parent", cat.SetGenreParent, invalidate)
	g.DELETE("/genres/:id", cat.DeleteGenre, invalidate)

	// ---- Members ----
	g.POST("/members", mem.CreateMember)
	g.GET("/members/:id", mem.GetMember)
	g.DELETE("/members/:id", mem.DeactivateMember)
	g.GET("/members/:id/borrows", circ.MemberBorrows)

	// ---- Circulation ----
	g.POST("/books/:id/borrow", circ.Borrow, invalidate)
	g.POST("/borrows/:id/return", circ.Return, invalidate)
	g.POST("/borrows/:id/renew", circ.Renew)
	g.POST("/books/:id/reservations", circ.ReserveFor, invalidate)
	g.POST("/reservations/expire", circ.ExpireReservations, invalidate)
}
