package store

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dhcgn/mhtml/model"
	"github.com/dhcgn/mhtml/state"
)

type execCall struct {
	sql  string
	args []any
}

// fakeDB records Exec calls and serves QueryRow from the last upserted row.
type fakeDB struct {
	execs   []execCall
	execErr error
	rows    map[string][]any
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, execCall{sql, args})
	if f.execErr != nil {
		return pgconn.CommandTag{}, f.execErr
	}
	if strings.Contains(sql, "INSERT INTO captures") {
		f.rows[args[0].(string)] = args
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (f *fakeDB) QueryRow(_ context.Context, _ string, args ...any) pgx.Row {
	return fakeRow{values: f.rows[args[0].(string)]}
}

type fakeRow struct {
	values []any
}

// Scan maps the INSERT arguments (hash, url, title, captured_at, parts,
// skipped, raw) onto the SELECT destinations, which use the same order.
func (r fakeRow) Scan(dest ...any) error {
	if r.values == nil {
		return pgx.ErrNoRows
	}
	*dest[0].(*string) = r.values[0].(string)
	*dest[1].(*string) = r.values[1].(string)
	*dest[2].(*string) = r.values[2].(string)
	*dest[3].(*time.Time) = r.values[3].(time.Time)
	*dest[4].(*int) = r.values[4].(int)
	*dest[5].(*[]string) = r.values[5].([]string)
	*dest[6].(*[]byte) = r.values[6].([]byte)
	return nil
}

func TestStore_DeliverAndGet(t *testing.T) {
	ctx := context.Background()
	db := &fakeDB{rows: map[string][]any{}}

	s, err := NewStore(ctx, db, nil)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	if len(db.execs) != 1 || !strings.Contains(db.execs[0].sql, "CREATE TABLE IF NOT EXISTS captures") {
		t.Fatalf("schema not created: %+v", db.execs)
	}

	c := model.Capture{
		URL:        "https://example.com/",
		Title:      "Example",
		CapturedAt: time.Date(2026, 10, 15, 9, 30, 0, 0, time.UTC),
		Parts:      2,
		Raw:        []byte("raw message"),
	}
	if err := s.Deliver(ctx, c); err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}

	insert := db.execs[1]
	if insert.args[0] != state.Key(c.URL) {
		t.Errorf("url_hash = %v, want key of the url", insert.args[0])
	}
	if skipped, ok := insert.args[5].([]string); !ok || skipped == nil {
		t.Errorf("skipped = %#v, want empty non-nil slice", insert.args[5])
	}

	got, err := s.Get(ctx, c.URL)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Title != c.Title || got.Parts != c.Parts || string(got.Raw) != string(c.Raw) || !got.CapturedAt.Equal(c.CapturedAt) {
		t.Errorf("Get() = %+v, want %+v", got, c)
	}

	if _, err := s.Get(ctx, "https://example.com/missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
	}
	if s.Name() != "postgres" {
		t.Errorf("Name() = %q", s.Name())
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestStore_Errors(t *testing.T) {
	ctx := context.Background()
	down := errors.New("connection refused")

	if _, err := NewStore(ctx, &fakeDB{execErr: down}, nil); !errors.Is(err, down) {
		t.Errorf("NewStore() error = %v, want %v", err, down)
	}

	db := &fakeDB{rows: map[string][]any{}}
	s, err := NewStore(ctx, db, nil)
	if err != nil {
		t.Fatal(err)
	}
	db.execErr = down
	if err := s.Deliver(ctx, model.Capture{URL: "https://example.com/"}); !errors.Is(err, down) {
		t.Errorf("Deliver() error = %v, want %v", err, down)
	}
}
