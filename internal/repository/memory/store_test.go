package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/library-circulation/internal/circulation"
	"github.com/iliyamo/library-circulation/internal/model"
	"github.com/iliyamo/library-circulation/internal/repository"
)

func seedBook(t *testing.T, s *Store, qty uint32) model.Book {
	t.Helper()
	b := model.NewBook("Ficciones", []string{"Jorge Luis Borges"}, "9780802130303", qty, model.ConditionGood)
	require.NoError(t, s.CreateBook(context.Background(), &b))
	return b
}

func TestInTxRollsBackOnError(t *testing.T) {
	s := New(nil)
	ctx := context.Background()
	b := seedBook(t, s, 2)
	boom := errors.New("boom")

	err := s.InTx(ctx, func(ctx context.Context, tx circulation.Tx) error {
		require.NoError(t, tx.UpdateAvailability(ctx, b.ID, -1, model.BookAvailable, b.Version))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := s.FindBook(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), got.Available)
	assert.Equal(t, b.Version, got.Version)
}

func TestUpdateAvailabilityChecksVersionAndBounds(t *testing.T) {
	s := New(nil)
	ctx := context.Background()
	b := seedBook(t, s, 1)

	err := s.InTx(ctx, func(ctx context.Context, tx circulation.Tx) error {
		return tx.UpdateAvailability(ctx, b.ID, -1, model.BookBorrowed, b.Version+1)
	})
	assert.ErrorIs(t, err, circulation.ErrConflict)

	err = s.InTx(ctx, func(ctx context.Context, tx circulation.Tx) error {
		return tx.UpdateAvailability(ctx, b.ID, 1, model.BookAvailable, b.Version)
	})
	var inv *model.InvariantError
	assert.ErrorAs(t, err, &inv)

	require.NoError(t, s.InTx(ctx, func(ctx context.Context, tx circulation.Tx) error {
		return tx.UpdateAvailability(ctx, b.ID, -1, model.BookBorrowed, b.Version)
	}))
	got, err := s.FindBook(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), got.Available)
	assert.Equal(t, model.BookBorrowed, got.Status)
	assert.Equal(t, b.Version+1, got.Version)
}

func TestReservationQueueOrderAndCAS(t *testing.T) {
	s := New(nil)
	ctx := context.Background()
	b := seedBook(t, s, 1)
	at := time.Date(2025, time.May, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, s.InTx(ctx, func(ctx context.Context, tx circulation.Tx) error {
		for _, m := range []uint64{3, 1, 2} {
			r := model.Reservation{BookID: b.ID, MemberID: m, CreatedAt: at, ExpiresAt: at.Add(time.Hour), Status: model.ReservationPending}
			if err := tx.CreateReservation(ctx, &r); err != nil {
				return err
			}
		}
		dup := model.Reservation{BookID: b.ID, MemberID: 1, CreatedAt: at, Status: model.ReservationPending}
		assert.ErrorIs(t, tx.CreateReservation(ctx, &dup), circulation.ErrDuplicateReservation)
		return nil
	}))

	require.NoError(t, s.InTx(ctx, func(ctx context.Context, tx circulation.Tx) error {
		queue, err := tx.ListReservationsByBook(ctx, b.ID, model.ReservationPending)
		require.NoError(t, err)
		require.Len(t, queue, 3)
		assert.Equal(t, []uint64{3, 1, 2}, []uint64{queue[0].MemberID, queue[1].MemberID, queue[2].MemberID})

		first := queue[0]
		first.Status = model.ReservationApproved
		require.NoError(t, tx.UpdateReservation(ctx, first, model.ReservationPending))
		assert.ErrorIs(t, tx.UpdateReservation(ctx, first, model.ReservationPending), circulation.ErrConflict)

		expired, err := tx.ExpirePendingReservations(ctx, at.Add(time.Hour))
		require.NoError(t, err)
		assert.Len(t, expired, 2)
		return nil
	}))
}

func TestReservationOneOpenRowPerMember(t *testing.T) {
	s := New(nil)
	ctx := context.Background()
	b := seedBook(t, s, 1)
	at := time.Date(2025, time.May, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, s.InTx(ctx, func(ctx context.Context, tx circulation.Tx) error {
		held := model.Reservation{BookID: b.ID, MemberID: 1, CreatedAt: at, ExpiresAt: at.Add(time.Hour), Status: model.ReservationPending}
		require.NoError(t, tx.CreateReservation(ctx, &held))
		held.Status = model.ReservationApproved
		require.NoError(t, tx.UpdateReservation(ctx, held, model.ReservationPending))

		again := model.Reservation{BookID: b.ID, MemberID: 1, CreatedAt: at.Add(2 * time.Hour), ExpiresAt: at.Add(3 * time.Hour), Status: model.ReservationPending}
		assert.ErrorIs(t, tx.CreateReservation(ctx, &again), circulation.ErrDuplicateReservation, "an approved row still occupies the slot")

		held.Status = model.ReservationExpired
		require.NoError(t, tx.UpdateReservation(ctx, held, model.ReservationApproved))
		require.NoError(t, tx.CreateReservation(ctx, &again))

		again.Status = model.ReservationExpired
		require.NoError(t, tx.UpdateReservation(ctx, again, model.ReservationPending), "closed statuses may repeat")

		third := model.Reservation{BookID: b.ID, MemberID: 1, CreatedAt: at.Add(4 * time.Hour), ExpiresAt: at.Add(5 * time.Hour), Status: model.ReservationPending}
		require.NoError(t, tx.CreateReservation(ctx, &third))
		return nil
	}))
}

func TestGenreTree(t *testing.T) {
	s := New(nil)
	ctx := context.Background()
	root := model.Genre{Name: "Fiction"}
	require.NoError(t, s.CreateGenre(ctx, &root))
	child := model.Genre{Name: "Science fiction", ParentID: &root.ID}
	require.NoError(t, s.CreateGenre(ctx, &child))

	assert.ErrorIs(t, s.SetGenreParent(ctx, root.ID, &child.ID), model.ErrGenreCycle)
	missing := uint64(99)
	assert.ErrorIs(t, s.SetGenreParent(ctx, child.ID, &missing), circulation.ErrNotFound)

	require.NoError(t, s.DeleteGenre(ctx, root.ID))
	genres, err := s.ListGenres(ctx)
	require.NoError(t, err)
	require.Len(t, genres, 1)
	assert.Nil(t, genres[0].ParentID)
}

func TestCatalogUniqueKeys(t *testing.T) {
	s := New(nil)
	ctx := context.Background()
	seedBook(t, s, 1)
	dup := model.NewBook("Other", nil, "9780802130303", 1, "")
	assert.ErrorIs(t, s.CreateBook(ctx, &dup), repository.ErrDuplicate)

	m := model.Member{MembershipID: "LIB-1", Active: true}
	require.NoError(t, s.CreateMember(ctx, &m))
	again := model.Member{MembershipID: "LIB-1"}
	assert.ErrorIs(t, s.CreateMember(ctx, &again), repository.ErrDuplicate)
}

func TestRefreshTokens(t *testing.T) {
	now := time.Date(2025, time.May, 1, 9, 0, 0, 0, time.UTC)
	s := New(circulation.ClockFunc(func() time.Time { return now }))
	ctx := context.Background()

	uid, err := s.CreateUser(ctx, " Ada@Example.org ", "secret-pass", model.RoleMember, 4)
	require.NoError(t, err)
	_, err = s.CreateUser(ctx, "ada@example.org", "x", model.RoleMember, 4)
	assert.ErrorIs(t, err, repository.ErrEmailExists)

	u, err := s.UserByEmail(ctx, "ADA@example.org")
	require.NoError(t, err)
	assert.Equal(t, uid, u.ID)

	require.NoError(t, s.StoreRefresh(ctx, uid, "h1", now.Add(time.Hour)))
	got, err := s.ValidateRefresh(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, uid, got)

	require.NoError(t, s.RevokeAllForUser(ctx, uid))
	_, err = s.ValidateRefresh(ctx, "h1")
	assert.ErrorIs(t, err, repository.ErrInvalidToken)
}
