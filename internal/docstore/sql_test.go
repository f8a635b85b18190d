package docstore

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func ownerIndex(fields map[string]any) []string {
	owners, _ := fields["owners"].([]any)
	keys := make([]string, 0, len(owners))
	for _, o := range owners {
		if s, ok := o.(string); ok {
			keys = append(keys, "owner:"+s)
		}
	}
	return keys
}

func setupStore(t *testing.T, opts Options) *SQLStore {
	t.Helper()
	db, err := Open(SQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	if opts.Now == nil {
		opts.Now = func() time.Time { return fixedNow }
	}
	if opts.Indexes == nil {
		opts.Indexes = map[string]IndexFunc{"things": ownerIndex}
	}
	return New(db, SQLite, opts)
}

func seed(t *testing.T, s *SQLStore, writes ...Write) {
	t.Helper()
	b := s.NewBatch()
	for _, w := range writes {
		b.Add(w)
	}
	require.NoError(t, b.Commit(context.Background()))
}

func TestSetAndGet(t *testing.T) {
	s := setupStore(t, Options{})
	ref := Ref{Collection: "users", ID: "u1"}
	seed(t, s, Set(ref, map[string]any{"name": "Ada", "points": 3}))

	doc, err := s.Get(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, 1, doc.Version)

	var got struct {
		Name   string `json:"name"`
		Points int    `json:"points"`
	}
	require.NoError(t, doc.DataTo(&got))
	assert.Equal(t, "Ada", got.Name)
	assert.Equal(t, 3, got.Points)
}

func TestGetMissing(t *testing.T) {
	s := setupStore(t, Options{})
	_, err := s.Get(context.Background(), Ref{Collection: "users", ID: "nope"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))

	var storeErr *Error
	require.True(t, errors.As(err, &storeErr))
	assert.Equal(t, "get", storeErr.Op)
}

func TestUpdateTransforms(t *testing.T) {
	s := setupStore(t, Options{})
	ref := Ref{Collection: "users", ID: "u1"}
	seed(t, s, Set(ref, map[string]any{
		"balance": decimal.RequireFromString("10.10"),
		"tags":    []string{"a"},
	}))

	seed(t, s, Update(ref, map[string]any{
		"balance":    Increment(decimal.RequireFromString("-0.10")),
		"expired":    Increment(5),
		"tags":       ArrayUnion("a", "b"),
		"updated_at": ServerTimestamp,
	}))

	doc, err := s.Get(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, 2, doc.Version)

	fields, err := doc.Fields()
	require.NoError(t, err)
	balance, ok := toDecimal(fields["balance"])
	require.True(t, ok)
	assert.True(t, balance.Equal(decimal.NewFromInt(10)), "balance = %s", balance)
	expired, _ := toDecimal(fields["expired"])
	assert.True(t, expired.Equal(decimal.NewFromInt(5)))
	assert.Equal(t, []any{"a", "b"}, fields["tags"])
	assert.Equal(t, fixedNow.Format(time.RFC3339Nano), fields["updated_at"])
}

func TestArrayUnionDoesNotDuplicateAcrossBatches(t *testing.T) {
	s := setupStore(t, Options{})
	ref := Ref{Collection: "things", ID: "g1"}
	seed(t, s, Set(ref, map[string]any{"owners": []string{"x"}}))

	for i := 0; i < 3; i++ {
		seed(t, s, Update(ref, map[string]any{"flagged": ArrayUnion("m1")}))
	}

	doc, err := s.Get(context.Background(), ref)
	require.NoError(t, err)
	fields, err := doc.Fields()
	require.NoError(t, err)
	assert.Equal(t, []any{"m1"}, fields["flagged"])
}

func TestUpdateMissingDocumentFailsWholeBatch(t *testing.T) {
	s := setupStore(t, Options{})
	created := Ref{Collection: "users", ID: "new"}

	b := s.NewBatch()
	b.Add(Set(created, map[string]any{"name": "x"}))
	b.Add(Update(Ref{Collection: "users", ID: "ghost"}, map[string]any{"name": "y"}))
	err := b.Commit(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = s.Get(context.Background(), created)
	assert.True(t, errors.Is(err, ErrNotFound), "set from the failed batch must not persist")
}

func TestVersionPrecondition(t *testing.T) {
	s := setupStore(t, Options{})
	ref := Ref{Collection: "users", ID: "u1"}
	seed(t, s, Set(ref, map[string]any{"points": 1}))

	doc, err := s.Get(context.Background(), ref)
	require.NoError(t, err)

	// A concurrent writer bumps the version.
	seed(t, s, Update(ref, map[string]any{"points": 2}))

	b := s.NewBatch()
	b.Add(Update(ref, map[string]any{"points": 0}).WithVersion(doc.Version))
	err = b.Commit(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConflict))

	doc, err = s.Get(context.Background(), ref)
	require.NoError(t, err)
	fields, _ := doc.Fields()
	assert.Equal(t, "2", fmt.Sprint(fields["points"]))
}

func TestBatchTooLarge(t *testing.T) {
	s := setupStore(t, Options{MaxBatchSize: 2})
	b := s.NewBatch()
	for i := 0; i < 3; i++ {
		b.Add(Set(Ref{Collection: "users", ID: fmt.Sprintf("u%d", i)}, map[string]any{}))
	}
	err := b.Commit(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBatchTooLarge))
}

func TestEmptyBatchIsNoop(t *testing.T) {
	s := setupStore(t, Options{})
	assert.NoError(t, s.NewBatch().Commit(context.Background()))
}

func TestBatchCannotCommitTwice(t *testing.T) {
	s := setupStore(t, Options{})
	b := s.NewBatch()
	b.Add(Set(Ref{Collection: "users", ID: "u1"}, map[string]any{}))
	require.NoError(t, b.Commit(context.Background()))
	assert.True(t, errors.Is(b.Commit(context.Background()), ErrCommitted))
}

func TestQueryFiltersAndPaging(t *testing.T) {
	s := setupStore(t, Options{})
	var writes []Write
	for i := 0; i < 7; i++ {
		status := "active"
		if i%3 == 0 {
			status = "suspended"
		}
		writes = append(writes, Set(Ref{Collection: "users", ID: fmt.Sprintf("u%02d", i)}, map[string]any{
			"status":  status,
			"tier":    []string{"member", "vip"}[i%2],
			"borrows": i,
		}))
	}
	writes = append(writes, Set(Ref{Collection: "other", ID: "u99"}, map[string]any{"status": "active"}))
	seed(t, s, writes...)

	q := Query{
		Collection: "users",
		Filters:    []Filter{Eq("status", "active"), In("tier", "member", "client"), Gt("borrows", 0)},
		Limit:      3,
	}

	var ids []string
	pages := 0
	for {
		page, err := s.Query(context.Background(), q)
		require.NoError(t, err)
		pages++
		for _, d := range page.Docs {
			ids = append(ids, d.ID)
		}
		if page.Done {
			break
		}
		q.After = page.Next
	}

	// u02 and u04 are active members with borrows > 0; u00/u03/u06 suspended, odd ids are vip.
	assert.Equal(t, []string{"u02", "u04"}, ids)
	assert.Equal(t, 3, pages)
}

func TestQueryMissingFieldNeverMatches(t *testing.T) {
	s := setupStore(t, Options{})
	seed(t, s,
		Set(Ref{Collection: "users", ID: "a"}, map[string]any{"status": "active"}),
		Set(Ref{Collection: "users", ID: "b"}, map[string]any{"status": "active", "total": 1}),
	)

	page, err := s.Query(context.Background(), Query{Collection: "users", Filters: []Filter{Gt("total", 0)}})
	require.NoError(t, err)
	require.Len(t, page.Docs, 1)
	assert.Equal(t, "b", page.Docs[0].ID)
	assert.True(t, page.Done)
}

func TestReverseIndexFollowsWrites(t *testing.T) {
	s := setupStore(t, Options{})
	ctx := context.Background()
	seed(t, s,
		Set(Ref{Collection: "things", ID: "g1"}, map[string]any{"owners": []string{"m1", "m2"}}),
		Set(Ref{Collection: "things", ID: "g2"}, map[string]any{"owners": []string{"m1"}}),
	)

	ids, err := s.Lookup(ctx, "things", "owner:m1")
	require.NoError(t, err)
	assert.Equal(t, []string{"g1", "g2"}, ids)

	// Replacing a document drops its stale keys.
	seed(t, s, Set(Ref{Collection: "things", ID: "g1"}, map[string]any{"owners": []string{"m2"}}))
	ids, err = s.Lookup(ctx, "things", "owner:m1")
	require.NoError(t, err)
	assert.Equal(t, []string{"g2"}, ids)

	ids, err = s.Lookup(ctx, "things", "owner:nobody")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestRebind(t *testing.T) {
	pg := &SQLStore{dialect: Postgres}
	assert.Equal(t, "a = $1 AND b = $2", pg.rebind("a = ? AND b = ?"))
	lite := &SQLStore{dialect: SQLite}
	assert.Equal(t, "a = ?", lite.rebind("a = ?"))
}

func TestSchemaVersion(t *testing.T) {
	db, err := Open(SQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	version, err := SchemaVersion(db, SQLite)
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)
}
