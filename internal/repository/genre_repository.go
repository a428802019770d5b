package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/library-circulation/internal/circulation"
	"github.com/iliyamo/library-circulation/internal/model"
)

// GenreRepo encapsulates database operations for the genre tree.
type GenreRepo struct {
	db *sql.DB
}

// NewGenreRepo constructs a GenreRepo given a DB handle.
func NewGenreRepo(db *sql.DB) *GenreRepo {
	return &GenreRepo{db: db}
}

// CreateGenre inserts g and sets its ID.  A missing parent yields
// circulation.ErrNotFound.
func (r *GenreRepo) CreateGenre(ctx context.Context, g *model.Genre) error {
	res, err := r.db.ExecContext(ctx, "INSERT INTO genres (name, parent_id) VALUES (?, ?)", g.Name, g.ParentID)
	if err != nil {
		return translate(err, ErrDuplicate)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	g.ID = uint64(id)
	return nil
}

// ListGenres returns all genres ordered by id.
func (r *GenreRepo) ListGenres(ctx context.Context) ([]model.Genre, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT id, name, parent_id, created_at FROM genres ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Genre{}
	for rows.Next() {
		var (
			g      model.Genre
			parent sql.NullInt64
		)
		if err := rows.Scan(&g.ID, &g.Name, &parent, &g.CreatedAt); err != nil {
			return nil, err
		}
		if parent.Valid {
			p := uint64(parent.Int64)
			g.ParentID = &p
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// SetGenreParent re-parents genre id inside a transaction.  The whole tree is
// locked while the new ancestry is checked so two concurrent moves cannot
// close a loop between them.
func (r *GenreRepo) SetGenreParent(ctx context.Context, id uint64, parent *uint64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	rows, err := tx.QueryContext(ctx, "SELECT id, parent_id FROM genres FOR UPDATE")
	if err != nil {
		return translate(err, nil)
	}
	parents := map[uint64]*uint64{}
	for rows.Next() {
		var (
			gid uint64
			p   sql.NullInt64
		)
		if err := rows.Scan(&gid, &p); err != nil {
			rows.Close()
			return err
		}
		if p.Valid {
			v := uint64(p.Int64)
			parents[gid] = &v
		} else {
			parents[gid] = nil
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	if _, ok := parents[id]; !ok {
		return circulation.ErrNotFound
	}
	if parent != nil {
		if _, ok := parents[*parent]; !ok {
			return circulation.ErrNotFound
		}
		err := model.CheckGenreParent(id, *parent, func(gid uint64) (*uint64, bool) {
			p, ok := parents[gid]
			return p, ok
		})
		if err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, "UPDATE genres SET parent_id = ? WHERE id = ?", parent, id); err != nil {
		return translate(err, nil)
	}
	if err := tx.Commit(); err != nil {
		return translate(err, nil)
	}
	committed = true
	return nil
}

// DeleteGenre removes a genre.  The foreign keys set children's parent and
// books' genre to NULL.
func (r *GenreRepo) DeleteGenre(ctx context.Context, id uint64) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM genres WHERE id = ?", id)
	if err != nil {
		return err
	}
	return expectOne(res)
}
