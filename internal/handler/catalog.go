package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/library-circulation/internal/model"
)

// BookStore is the catalog persistence the handlers need.
type BookStore interface {
	CreateBook(ctx context.Context, b *model.Book) error
	FindBook(ctx context.Context, id uint64) (model.Book, error)
	ListBooks(ctx context.Context, limit, offset int) ([]model.Book, error)
	RecentBooks(ctx context.Context, sinceYear uint32, limit int) ([]model.Book, error)
	PopularBooks(ctx context.Context, limit int) ([]model.RankedBook, error)
}

// GenreStore manages the genre tree.
type GenreStore interface {
	CreateGenre(ctx context.Context, g *model.Genre) error
	ListGenres(ctx context.Context) ([]model.Genre, error)
	SetGenreParent(ctx context.Context, id uint64, parent *uint64) error
	DeleteGenre(ctx context.Context, id uint64) error
}

// CatalogHandler serves public browsing and librarian catalog maintenance.
type CatalogHandler struct {
	responder
	Books  BookStore
	Genres GenreStore
	Now    func() time.Time
}

// NewCatalogHandler panics if a store is nil.
func NewCatalogHandler(books BookStore, genres GenreStore, log *zap.Logger) *CatalogHandler {
	if books == nil || genres == nil {
		panic("nil store passed to NewCatalogHandler")
	}
	return &CatalogHandler{responder: newResponder(log), Books: books, Genres: genres, Now: time.Now}
}

// ----- DTOs -----

type bookResp struct {
	ID              uint64    `json:"id"`
	Title           string    `json:"title"`
	Authors         []string  `json:"authors"`
	ISBN            string    `json:"isbn"`
	GenreID         *uint64   `json:"genre_id,omitempty"`
	Publisher       string    `json:"publisher,omitempty"`
	PublicationYear uint32    `json:"publication_year,omitempty"`
	Pages           uint32    `json:"pages,omitempty"`
	Quantity        uint32    `json:"quantity"`
	Available       uint32    `json:"available"`
	Condition       string    `json:"condition"`
	Status          string    `json:"status"`
	Description     string    `json:"description,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

func toBookResp(b model.Book) bookResp {
	return bookResp{
		ID:              b.ID,
		Title:           b.Title,
		Authors:         b.Authors,
		ISBN:            b.ISBN,
		GenreID:         b.GenreID,
		Publisher:       b.Publisher,
		PublicationYear: b.PublicationYear,
		Pages:           b.Pages,
		Quantity:        b.Quantity,
		Available:       b.Available,
		Condition:       string(b.Condition),
		Status:          string(b.Status),
		Description:     b.Description,
		CreatedAt:       b.CreatedAt,
	}
}

type createBookReq struct {
	Title           string   `json:"title" validate:"required,max=255"`
	Authors         []string `json:"authors" validate:"required,min=1,dive,required"`
	ISBN            string   `json:"isbn" validate:"required,max=32"`
	GenreID         *uint64  `json:"genre_id"`
	Publisher       string   `json:"publisher" validate:"max=255"`
	PublicationYear uint32   `json:"publication_year" validate:"omitempty,min=1000,max=9999"`
	Pages           uint32   `json:"pages"`
	Quantity        uint32   `json:"quantity" validate:"required,min=1"`
	Condition       string   `json:"condition" validate:"omitempty,oneof=excellent good fair poor damaged"`
	Description     string   `json:"description"`
}

type genreResp struct {
	ID       uint64  `json:"id"`
	Name     string  `json:"name"`
	ParentID *uint64 `json:"parent_id"`
}

type createGenreReq struct {
	Name     string  `json:"name" validate:"required,max=100"`
	ParentID *uint64 `json:"parent_id"`
}

type setParentReq struct {
	ParentID *uint64 `json:"parent_id"`
}

// ----- public -----

// ListBooks: GET /v1/books?page=&page_size=
func (h *CatalogHandler) ListBooks(c echo.Context) error {
	limit, offset := paging(c)
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	books, err := h.Books.ListBooks(ctx, limit, offset)
	if err != nil {
		return h.fail(c, err)
	}
	out := make([]bookResp, 0, len(books))
	for _, b := range books {
		out = append(out, toBookResp(b))
	}
	return c.JSON(http.StatusOK, echo.Map{"items": out, "page_size": limit, "offset": offset})
}

// recentWindow: titles published in the year this long ago, or later, are recent.
const recentWindow = 180 * 24 * time.Hour

// RecentBooks: GET /v1/books/recent?limit=
func (h *CatalogHandler) RecentBooks(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	since := uint32(h.Now().UTC().Add(-recentWindow).Year())
	books, err := h.Books.RecentBooks(ctx, since, shortList(c))
	if err != nil {
		return h.fail(c, err)
	}
	out := make([]bookResp, 0, len(books))
	for _, b := range books {
		out = append(out, toBookResp(b))
	}
	return c.JSON(http.StatusOK, out)
}

type rankedBookResp struct {
	bookResp
	BorrowCount int `json:"borrow_count"`
}

// PopularBooks: GET /v1/books/popular?limit=
func (h *CatalogHandler) PopularBooks(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	books, err := h.Books.PopularBooks(ctx, shortList(c))
	if err != nil {
		return h.fail(c, err)
	}
	out := make([]rankedBookResp, 0, len(books))
	for _, b := range books {
		out = append(out, rankedBookResp{bookResp: toBookResp(b.Book), BorrowCount: b.Borrows})
	}
	return c.JSON(http.StatusOK, out)
}

// shortList reads ?limit= for the highlight lists: 10 by default, at most 50.
func shortList(c echo.Context) int {
	n, err := strconv.Atoi(c.QueryParam("limit"))
	if err != nil || n < 1 {
		return 10
	}
	return min(n, 50)
}

// GetBook: GET /v1/books/:id
func (h *CatalogHandler) GetBook(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badID(c)
	}
	b, err := h.Books.FindBook(c.Request().Context(), id)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, toBookResp(b))
}

// ListGenres: GET /v1/genres
func (h *CatalogHandler) ListGenres(c echo.Context) error {
	genres, err := h.Genres.ListGenres(c.Request().Context())
	if err != nil {
		return h.fail(c, err)
	}
	out := make([]genreResp, 0, len(genres))
	for _, g := range genres {
		out = append(out, genreResp{ID: g.ID, Name: g.Name, ParentID: g.ParentID})
	}
	return c.JSON(http.StatusOK, out)
}

// ----- librarian -----

// CreateBook: POST /v1/books
func (h *CatalogHandler) CreateBook(c echo.Context) error {
	var req createBookReq
	if err := bind(c, &req); err != nil {
		return invalid(c, err)
	}
	b := model.NewBook(strings.TrimSpace(req.Title), req.Authors, strings.TrimSpace(req.ISBN), req.Quantity, model.Condition(req.Condition))
	b.GenreID = req.GenreID
	b.Publisher = req.Publisher
	b.PublicationYear = req.PublicationYear
	b.Pages = req.Pages
	b.Description = req.Description

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	if err := h.Books.CreateBook(ctx, &b); err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, toBookResp(b))
}

// CreateGenre: POST /v1/genres
func (h *CatalogHandler) CreateGenre(c echo.Context) error {
	var req createGenreReq
	if err := bind(c, &req); err != nil {
		return invalid(c, err)
	}
	g := model.Genre{Name: strings.TrimSpace(req.Name), ParentID: req.ParentID}
	if err := h.Genres.CreateGenre(c.Request().Context(), &g); err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, genreResp{ID: g.ID, Name: g.Name, ParentID: g.ParentID})
}

// SetGenreParent: PUT /v1/genres/:id/parent with {"parent_id": n|null}
func (h *CatalogHandler) SetGenreParent(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badID(c)
	}
	var req setParentReq
	if err := bind(c, &req); err != nil {
		return invalid(c, err)
	}
	if err := h.Genres.SetGenreParent(c.Request().Context(), id, req.ParentID); err != nil {
		return h.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// DeleteGenre: DELETE /v1/genres/:id
func (h *CatalogHandler) DeleteGenre(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badID(c)
	}
	if err := h.Genres.DeleteGenre(c.Request().Context(), id); err != nil {
		return h.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
