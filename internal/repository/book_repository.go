package repository

import (
	"context"
	"database/sql"
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"github.com/iliyamo/library-circulation/internal/circulation"
	"github.com/iliyamo/library-circulation/internal/model"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const bookColumns = `id, title, authors, isbn, genre_id, publisher, publication_year, pages,
	quantity, available, physical_condition, status, COALESCE(description, ''), version, created_at, updated_at`

// BookRepo encapsulates database operations for books.
type BookRepo struct {
	db *sql.DB
}

// NewBookRepo constructs a BookRepo given a DB handle.
func NewBookRepo(db *sql.DB) *BookRepo {
	return &BookRepo{db: db}
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanBook(s scanner) (model.Book, error) {
	var (
		b       model.Book
		authors []byte
		genreID sql.NullInt64
	)
	err := s.Scan(&b.ID, &b.Title, &authors, &b.ISBN, &genreID, &b.Publisher, &b.PublicationYear, &b.Pages,
		&b.Quantity, &b.Available, &b.Condition, &b.Status, &b.Description, &b.Version, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return model.Book{}, err
	}
	if len(authors) > 0 {
		if err := json.Unmarshal(authors, &b.Authors); err != nil {
			return model.Book{}, fmt.Errorf("book %d authors: %w", b.ID, err)
		}
	}
	if genreID.Valid {
		g := uint64(genreID.Int64)
		b.GenreID = &g
	}
	return b, nil
}

// CreateBook inserts a newly catalogued title and sets its ID.  Available
// and Status must already be initialised (see model.NewBook).
func (r *BookRepo) CreateBook(ctx context.Context, b *model.Book) error {
	if b.Authors == nil {
		b.Authors = []string{}
	}
	authors, err := json.Marshal(b.Authors)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO books (title, authors, isbn, genre_id, publisher, publication_year, pages,
			quantity, available, physical_condition, status, description)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		b.Title, authors, b.ISBN, b.GenreID, b.Publisher, b.PublicationYear, b.Pages,
		b.Quantity, b.Available, b.Condition, b.Status, b.Description)
	if err != nil {
		return translate(err, ErrDuplicate)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	b.ID = uint64(id)
	return nil
}

// FindBook fetches a book by id without locking it.
func (r *BookRepo) FindBook(ctx context.Context, id uint64) (model.Book, error) {
	b, err := scanBook(r.db.QueryRowContext(ctx, "SELECT "+bookColumns+" FROM books WHERE id = ?", id))
	return b, translate(err, nil)
}

// ListBooks pages through the catalog ordered by id.
func (r *BookRepo) ListBooks(ctx context.Context, limit, offset int) ([]model.Book, error) {
	return r.queryBooks(ctx, "SELECT "+bookColumns+" FROM books ORDER BY id LIMIT ? OFFSET ?", limit, offset)
}

// RecentBooks lists titles published in sinceYear or later, newest
// catalogue entries first.
func (r *BookRepo) RecentBooks(ctx context.Context, sinceYear uint32, limit int) ([]model.Book, error) {
	return r.queryBooks(ctx,
		"SELECT "+bookColumns+" FROM books WHERE publication_year >= ? ORDER BY created_at DESC, id DESC LIMIT ?",
		sinceYear, limit)
}

// PopularBooks ranks titles by the number of borrow records they have,
// most borrowed first.
func (r *BookRepo) PopularBooks(ctx context.Context, limit int) ([]model.RankedBook, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+bookColumns+`, (SELECT COUNT(*) FROM borrow_records br WHERE br.book_id = books.id) AS borrows
		 FROM books ORDER BY borrows DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.RankedBook{}
	for rows.Next() {
		var rb model.RankedBook
		rb.Book, err = scanBook(withExtra{s: rows, extra: []any{&rb.Borrows}})
		if err != nil {
			return nil, err
		}
		out = append(out, rb)
	}
	return out, rows.Err()
}

func (r *BookRepo) queryBooks(ctx context.Context, query string, args ...any) ([]model.Book, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Book{}
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// withExtra appends destinations for columns selected after bookColumns.
type withExtra struct {
	s     scanner
	extra []any
}

func (w withExtra) Scan(dest ...any) error {
	return w.s.Scan(append(dest, w.extra...)...)
}

// GetForUpdateTx loads a book and locks its row for the rest of tx.
func (r *BookRepo) GetForUpdateTx(ctx context.Context, tx *sql.Tx, id uint64) (model.Book, error) {
	b, err := scanBook(tx.QueryRowContext(ctx, "SELECT "+bookColumns+" FROM books WHERE id = ? FOR UPDATE", id))
	return b, translate(err, nil)
}

// UpdateAvailabilityTx applies delta to the available counter, provided the
// row still has expectedVersion and the result stays within [0, quantity].
// A version mismatch yields circulation.ErrConflict; an out of range counter
// is an invariant violation.
func (r *BookRepo) UpdateAvailabilityTx(ctx context.Context, tx *sql.Tx, bookID uint64, delta int, status model.BookStatus, expectedVersion uint32) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE books
		    SET available = available + ?, status = ?, version = version + 1
		  WHERE id = ? AND version = ?
		    AND available + ? >= 0 AND available + ? <= quantity`,
		delta, status, bookID, expectedVersion, delta, delta)
	if err != nil {
		return translate(err, nil)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	// tell a stale version apart from a counter that would leave its range
	var version uint32
	err = tx.QueryRowContext(ctx, "SELECT version FROM books WHERE id = ?", bookID).Scan(&version)
	if err != nil {
		return translate(err, nil)
	}
	if version != expectedVersion {
		return circulation.ErrConflict
	}
	return &model.InvariantError{Entity: "book", ID: bookID, Reason: fmt.Sprintf("available change %+d out of range", delta)}
}
