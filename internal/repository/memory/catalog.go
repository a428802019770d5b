package memory

import (
	"context"
	"sort"

	"github.com/iliyamo/library-circulation/internal/circulation"
	"github.com/iliyamo/library-circulation/internal/model"
	"github.com/iliyamo/library-circulation/internal/repository"
)

// CreateBook catalogues b and sets its ID.  ISBNs are unique.
func (s *Store) CreateBook(_ context.Context, b *model.Book) error {
	return s.view(func(st *state) error {
		for _, o := range st.books {
			if o.ISBN == b.ISBN {
				return repository.ErrDuplicate
			}
		}
		if b.GenreID != nil {
			if _, ok := st.genres[*b.GenreID]; !ok {
				return circulation.ErrNotFound
			}
		}
		b.ID = st.next("books")
		b.CreatedAt = s.clock.Now()
		b.UpdatedAt = b.CreatedAt
		st.books[b.ID] = *b
		return nil
	})
}

// FindBook returns a book without locking it.
func (s *Store) FindBook(_ context.Context, id uint64) (model.Book, error) {
	var b model.Book
	err := s.view(func(st *state) error {
		var ok bool
		if b, ok = st.books[id]; !ok {
			return circulation.ErrNotFound
		}
		return nil
	})
	return b, err
}

// ListBooks pages through the catalog ordered by id.
func (s *Store) ListBooks(_ context.Context, limit, offset int) ([]model.Book, error) {
	var out []model.Book
	err := s.view(func(st *state) error {
		for _, b := range st.books {
			out = append(out, b)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return page(out, limit, offset), err
}

// RecentBooks lists titles published in sinceYear or later, newest
// catalogue entries first.
func (s *Store) RecentBooks(_ context.Context, sinceYear uint32, limit int) ([]model.Book, error) {
	var out []model.Book
	err := s.view(func(st *state) error {
		for _, b := range st.books {
			if b.PublicationYear >= sinceYear {
				out = append(out, b)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return page(out, limit, 0), err
}

// PopularBooks ranks titles by how many borrow records they have.
func (s *Store) PopularBooks(_ context.Context, limit int) ([]model.RankedBook, error) {
	var out []model.RankedBook
	err := s.view(func(st *state) error {
		counts := make(map[uint64]int, len(st.books))
		for _, r := range st.borrows {
			counts[r.BookID]++
		}
		for _, b := range st.books {
			out = append(out, model.RankedBook{Book: b, Borrows: counts[b.ID]})
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Borrows != out[j].Borrows {
			return out[i].Borrows > out[j].Borrows
		}
		return out[i].ID < out[j].ID
	})
	return page(out, limit, 0), err
}

// CreateGenre adds g below its parent, if any.
func (s *Store) CreateGenre(_ context.Context, g *model.Genre) error {
	return s.view(func(st *state) error {
		if g.ParentID != nil {
			if _, ok := st.genres[*g.ParentID]; !ok {
				return circulation.ErrNotFound
			}
		}
		g.ID = st.next("genres")
		g.CreatedAt = s.clock.Now()
		st.genres[g.ID] = *g
		return nil
	})
}

// ListGenres returns all genres ordered by id.
func (s *Store) ListGenres(_ context.Context) ([]model.Genre, error) {
	var out []model.Genre
	err := s.view(func(st *state) error {
		for _, g := range st.genres {
			out = append(out, g)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

// SetGenreParent re-parents genre id.  A nil parent makes it a root.
func (s *Store) SetGenreParent(_ context.Context, id uint64, parent *uint64) error {
	return s.view(func(st *state) error {
		g, ok := st.genres[id]
		if !ok {
			return circulation.ErrNotFound
		}
		if parent != nil {
			if _, ok := st.genres[*parent]; !ok {
				return circulation.ErrNotFound
			}
			err := model.CheckGenreParent(id, *parent, func(gid uint64) (*uint64, bool) {
				p, ok := st.genres[gid]
				return p.ParentID, ok
			})
			if err != nil {
				return err
			}
		}
		g.ParentID = parent
		st.genres[id] = g
		return nil
	})
}

// DeleteGenre removes a genre.  Children become roots and books lose the
// reference.
func (s *Store) DeleteGenre(_ context.Context, id uint64) error {
	return s.view(func(st *state) error {
		if _, ok := st.genres[id]; !ok {
			return circulation.ErrNotFound
		}
		delete(st.genres, id)
		for k, g := range st.genres {
			if g.ParentID != nil && *g.ParentID == id {
				g.ParentID = nil
				st.genres[k] = g
			}
		}
		for k, b := range st.books {
			if b.GenreID != nil && *b.GenreID == id {
				b.GenreID = nil
				st.books[k] = b
			}
		}
		return nil
	})
}

// CreateMember enrols m and sets its ID.  Membership numbers are unique.
func (s *Store) CreateMember(_ context.Context, m *model.Member) error {
	return s.view(func(st *state) error {
		for _, o := range st.members {
			if o.MembershipID == m.MembershipID {
				return repository.ErrDuplicate
			}
		}
		m.ID = st.next("members")
		m.CreatedAt = s.clock.Now()
		st.members[m.ID] = *m
		return nil
	})
}

// FindMember returns a member without locking it.
func (s *Store) FindMember(_ context.Context, id uint64) (model.Member, error) {
	var m model.Member
	err := s.view(func(st *state) error {
		var ok bool
		if m, ok = st.members[id]; !ok {
			return circulation.ErrNotFound
		}
		return nil
	})
	return m, err
}

// FindMemberByUserID returns the member linked to an auth account.
func (s *Store) FindMemberByUserID(_ context.Context, userID uint64) (model.Member, error) {
	var m model.Member
	err := s.view(func(st *state) error {
		for _, o := range st.members {
			if o.UserID != nil && *o.UserID == userID {
				m = o
				return nil
			}
		}
		return circulation.ErrNotFound
	})
	return m, err
}

// DeactivateMember soft-deletes a member.
func (s *Store) DeactivateMember(_ context.Context, id uint64) error {
	return s.view(func(st *state) error {
		m, ok := st.members[id]
		if !ok {
			return circulation.ErrNotFound
		}
		m.Active = false
		st.members[id] = m
		return nil
	})
}

// ListBorrowsByMember returns a member's loan history, newest first.
func (s *Store) ListBorrowsByMember(_ context.Context, memberID uint64) ([]model.BorrowRecord, error) {
	var out []model.BorrowRecord
	err := s.view(func(st *state) error {
		for _, r := range st.borrows {
			if r.MemberID == memberID {
				out = append(out, r)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].BorrowDate.Equal(out[j].BorrowDate) {
			return out[i].BorrowDate.After(out[j].BorrowDate)
		}
		return out[i].ID > out[j].ID
	})
	return out, err
}

// ListReservationsByMember returns a member's reservations, newest first.
func (s *Store) ListReservationsByMember(_ context.Context, memberID uint64) ([]model.Reservation, error) {
	var out []model.Reservation
	err := s.view(func(st *state) error {
		for _, r := range st.reservations {
			if r.MemberID == memberID {
				out = append(out, r)
			}
		}
		return nil
	})
	sortQueue(out)
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, err
}

// FindReservation returns a reservation without locking it.
func (s *Store) FindReservation(_ context.Context, id uint64) (model.Reservation, error) {
	var r model.Reservation
	err := s.view(func(st *state) error {
		var ok bool
		if r, ok = st.reservations[id]; !ok {
			return circulation.ErrNotFound
		}
		return nil
	})
	return r, err
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
