package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	db "github.com/sundayezeilo/shortspace/internal/db/sqlc"
	"github.com/sundayezeilo/shortspace/internal/errx"
	"github.com/sundayezeilo/shortspace/internal/shortener"
)

// mockQueries implements the querier interface for testing.
type mockQueries struct {
	createLinkFunc      func(ctx context.Context, arg db.CreateLinkParams) (db.Link, error)
	getLinkFunc         func(ctx context.Context, arg db.GetLinkParams) (db.Link, error)
	incrementClicksFunc func(ctx context.Context, arg db.IncrementLinkClicksParams) (int64, error)
	listRecentFunc      func(ctx context.Context, arg db.ListRecentLinksParams) ([]db.Link, error)
}

func (m *mockQueries) CreateLink(ctx context.Context, arg db.CreateLinkParams) (db.Link, error) {
	if m.createLinkFunc != nil {
		return m.createLinkFunc(ctx, arg)
	}
	return db.Link{
		ID:             arg.ID,
		NamespaceID:    arg.NamespaceID,
		Slug:           arg.Slug,
		DestinationUrl: arg.DestinationUrl,
		CreatedAt:      arg.CreatedAt,
	}, nil
}

func (m *mockQueries) GetLink(ctx context.Context, arg db.GetLinkParams) (db.Link, error) {
	if m.getLinkFunc != nil {
		return m.getLinkFunc(ctx, arg)
	}
	return db.Link{}, pgx.ErrNoRows
}

func (m *mockQueries) IncrementLinkClicks(ctx context.Context, arg db.IncrementLinkClicksParams) (int64, error) {
	if m.incrementClicksFunc != nil {
		return m.incrementClicksFunc(ctx, arg)
	}
	return 1, nil
}

func (m *mockQueries) ListRecentLinks(ctx context.Context, arg db.ListRecentLinksParams) ([]db.Link, error) {
	if m.listRecentFunc != nil {
		return m.listRecentFunc(ctx, arg)
	}
	return nil, nil
}

type mockPool struct {
	pingErr error
	closed  bool
}

func (p *mockPool) Ping(context.Context) error { return p.pingErr }
func (p *mockPool) Close()                     { p.closed = true }

func makeDBLink(now time.Time) db.Link {
	return db.Link{
		ID:             uuid.New(),
		NamespaceID:    "links_shortly",
		Slug:           "sh-Ab3dE9xQ",
		DestinationUrl: "https://example.com/a?b=c",
		Clicks:         7,
		CreatedAt:      pgtype.Timestamptz{Time: now, Valid: true},
	}
}

func uniqueViolation(constraint string) error {
	return &pgconn.PgError{Code: "23505", ConstraintName: constraint}
}

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"namespace slug constraint", uniqueViolation(uniqueConstraint), true},
		{"wrapped", errors.Join(errors.New("ctx"), uniqueViolation(uniqueConstraint)), true},
		{"other constraint", uniqueViolation("links_pkey"), false},
		{"other code", &pgconn.PgError{Code: "23503", ConstraintName: uniqueConstraint}, false},
		{"plain error", errors.New("boom"), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isUniqueViolation(tt.err); got != tt.want {
				t.Errorf("isUniqueViolation() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantKind errx.Kind
		wantIs   error
	}{
		{"no rows", pgx.ErrNoRows, errx.NotFound, shortener.ErrNotFound},
		{"unique violation", uniqueViolation(uniqueConstraint), errx.Conflict, shortener.ErrAlreadyExists},
		{"connection failure", errors.New("connection refused"), errx.Unavailable, nil},
		{"deadline", context.DeadlineExceeded, errx.Unavailable, context.DeadlineExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := mapError("store.postgres.Test", tt.err)
			if got := errx.KindOf(err); got != tt.wantKind {
				t.Errorf("KindOf() = %v, want %v", got, tt.wantKind)
			}
			if got := errx.OpOf(err); got != "store.postgres.Test" {
				t.Errorf("OpOf() = %q", got)
			}
			if tt.wantIs != nil && !errors.Is(err, tt.wantIs) {
				t.Errorf("error %v does not wrap %v", err, tt.wantIs)
			}
		})
	}
}

func TestStore_Get(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("maps row to link", func(t *testing.T) {
		row := makeDBLink(now)
		var gotArg db.GetLinkParams
		s := &Store{q: &mockQueries{
			getLinkFunc: func(_ context.Context, arg db.GetLinkParams) (db.Link, error) {
				gotArg = arg
				return row, nil
			},
		}}

		link, err := s.Get(context.Background(), "links_shortly", "sh-Ab3dE9xQ")
		if err != nil {
			t.Fatalf("Get() unexpected error: %v", err)
		}
		if gotArg.NamespaceID != "links_shortly" || gotArg.Slug != "sh-Ab3dE9xQ" {
			t.Errorf("query args = %+v", gotArg)
		}
		if link.ID != row.ID || link.DestinationURL != row.DestinationUrl || link.Clicks != 7 {
			t.Errorf("Get() = %+v", link)
		}
		if !link.CreatedAt.Equal(now) {
			t.Errorf("CreatedAt = %v, want %v", link.CreatedAt, now)
		}
	})

	t.Run("missing row is NotFound", func(t *testing.T) {
		s := &Store{q: &mockQueries{}}
		_, err := s.Get(context.Background(), "ns", "missing")
		if errx.KindOf(err) != errx.NotFound {
			t.Errorf("KindOf() = %v, want NotFound", errx.KindOf(err))
		}
	})

	t.Run("null created_at is Internal", func(t *testing.T) {
		row := makeDBLink(now)
		row.CreatedAt = pgtype.Timestamptz{}
		s := &Store{q: &mockQueries{
			getLinkFunc: func(context.Context, db.GetLinkParams) (db.Link, error) { return row, nil },
		}}
		_, err := s.Get(context.Background(), "ns", "x")
		if errx.KindOf(err) != errx.Internal {
			t.Errorf("KindOf() = %v, want Internal", errx.KindOf(err))
		}
	})
}

func TestStore_InsertIfAbsent(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	link := shortener.Link{
		ID:             uuid.New(),
		NamespaceID:    "links_pendekin",
		Slug:           "pk-x1Y2z3W4",
		DestinationURL: "https://example.org/",
		CreatedAt:      now,
	}

	t.Run("passes link through", func(t *testing.T) {
		var gotArg db.CreateLinkParams
		s := &Store{q: &mockQueries{
			createLinkFunc: func(_ context.Context, arg db.CreateLinkParams) (db.Link, error) {
				gotArg = arg
				return db.Link{
					ID: arg.ID, NamespaceID: arg.NamespaceID, Slug: arg.Slug,
					DestinationUrl: arg.DestinationUrl, CreatedAt: arg.CreatedAt,
				}, nil
			},
		}}

		got, err := s.InsertIfAbsent(context.Background(), link)
		if err != nil {
			t.Fatalf("InsertIfAbsent() unexpected error: %v", err)
		}
		if gotArg.ID != link.ID || gotArg.NamespaceID != link.NamespaceID || gotArg.Slug != link.Slug {
			t.Errorf("query args = %+v", gotArg)
		}
		if !gotArg.CreatedAt.Valid || !gotArg.CreatedAt.Time.Equal(now) {
			t.Errorf("CreatedAt arg = %+v", gotArg.CreatedAt)
		}
		if got.DestinationURL != link.DestinationURL {
			t.Errorf("InsertIfAbsent() = %+v", got)
		}
	})

	t.Run("unique violation is Conflict", func(t *testing.T) {
		s := &Store{q: &mockQueries{
			createLinkFunc: func(context.Context, db.CreateLinkParams) (db.Link, error) {
				return db.Link{}, uniqueViolation(uniqueConstraint)
			},
		}}
		_, err := s.InsertIfAbsent(context.Background(), link)
		if errx.KindOf(err) != errx.Conflict {
			t.Errorf("KindOf() = %v, want Conflict", errx.KindOf(err))
		}
		if !errors.Is(err, shortener.ErrAlreadyExists) {
			t.Errorf("error %v does not wrap ErrAlreadyExists", err)
		}
	})

	t.Run("primary key clash is not a slug conflict", func(t *testing.T) {
		s := &Store{q: &mockQueries{
			createLinkFunc: func(context.Context, db.CreateLinkParams) (db.Link, error) {
				return db.Link{}, uniqueViolation("links_pkey")
			},
		}}
		_, err := s.InsertIfAbsent(context.Background(), link)
		if errx.KindOf(err) != errx.Unavailable {
			t.Errorf("KindOf() = %v, want Unavailable", errx.KindOf(err))
		}
	})
}

func TestStore_IncrementClicks(t *testing.T) {
	tests := []struct {
		name     string
		rows     int64
		err      error
		wantKind errx.Kind
	}{
		{"updated", 1, nil, errx.Unknown},
		{"no such link", 0, nil, errx.NotFound},
		{"database down", 0, errors.New("connection reset"), errx.Unavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotArg db.IncrementLinkClicksParams
			s := &Store{q: &mockQueries{
				incrementClicksFunc: func(_ context.Context, arg db.IncrementLinkClicksParams) (int64, error) {
					gotArg = arg
					return tt.rows, tt.err
				},
			}}

			err := s.IncrementClicks(context.Background(), "ns", "slug", 2)
			if got := errx.KindOf(err); got != tt.wantKind {
				t.Errorf("KindOf() = %v, want %v (err = %v)", got, tt.wantKind, err)
			}
			if gotArg.Delta != 2 || gotArg.NamespaceID != "ns" || gotArg.Slug != "slug" {
				t.Errorf("query args = %+v", gotArg)
			}
		})
	}
}

func TestStore_ListRecent(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		limit     int
		wantLimit int32
	}{
		{"default", 0, shortener.DefaultRecentLimit},
		{"explicit", 5, 5},
		{"clamped", 1000, shortener.MaxRecentLimit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotArg db.ListRecentLinksParams
			s := &Store{q: &mockQueries{
				listRecentFunc: func(_ context.Context, arg db.ListRecentLinksParams) ([]db.Link, error) {
					gotArg = arg
					return []db.Link{makeDBLink(now), makeDBLink(now.Add(-time.Minute))}, nil
				},
			}}

			links, err := s.ListRecent(context.Background(), "links_shortly", tt.limit)
			if err != nil {
				t.Fatalf("ListRecent() unexpected error: %v", err)
			}
			if gotArg.Limit != tt.wantLimit {
				t.Errorf("limit arg = %d, want %d", gotArg.Limit, tt.wantLimit)
			}
			if len(links) != 2 {
				t.Errorf("len(links) = %d, want 2", len(links))
			}
		})
	}
}

func TestStore_PingAndClose(t *testing.T) {
	p := &mockPool{pingErr: errors.New("no route to host")}
	s := &Store{q: &mockQueries{}, pool: p}

	if err := s.Ping(context.Background()); errx.KindOf(err) != errx.Unavailable {
		t.Errorf("Ping() kind = %v, want Unavailable", errx.KindOf(err))
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close() unexpected error: %v", err)
	}
	if !p.closed {
		t.Error("Close() did not close the pool")
	}
}
