package docstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

// Dialect selects placeholder style and transaction options.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

const (
	DefaultMaxBatchSize = 500
	defaultPageSize     = 500
)

// Options configures a SQLStore.
type Options struct {
	// MaxBatchSize bounds the number of writes a single batch may commit.
	MaxBatchSize int
	// Indexes maps a collection name to the reverse-index keys of its documents.
	Indexes map[string]IndexFunc
	// Now is the clock used to resolve ServerTimestamp. Defaults to time.Now.
	Now func() time.Time
}

// SQLStore keeps documents in the `documents` table and reverse-index rows in
// `document_index`.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	opts    Options
	tracer  trace.Tracer

	commits   metric.Int64Counter
	mutations metric.Int64Counter
}

// New creates a store over an already migrated database.
func New(db *sql.DB, dialect Dialect, opts Options) *SQLStore {
	if opts.MaxBatchSize <= 0 {
		opts.MaxBatchSize = DefaultMaxBatchSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	meter := otel.Meter("membercycle/docstore")
	commits, err := meter.Int64Counter("docstore.batch.commits",
		metric.WithDescription("Committed batches by outcome."))
	if err != nil {
		commits = noop.Int64Counter{}
	}
	mutations, err := meter.Int64Counter("docstore.batch.writes",
		metric.WithDescription("Writes applied by committed batches."))
	if err != nil {
		mutations = noop.Int64Counter{}
	}

	return &SQLStore{
		db:        db,
		dialect:   dialect,
		opts:      opts,
		tracer:    otel.Tracer("membercycle/docstore"),
		commits:   commits,
		mutations: mutations,
	}
}

func (s *SQLStore) MaxBatchSize() int { return s.opts.MaxBatchSize }

// Query scans one page of a collection. Filters are evaluated on the decoded
// documents; the page limit counts scanned rows, so a page may hold fewer
// matches than Limit while Done is still false.
func (s *SQLStore) Query(ctx context.Context, q Query) (*Page, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}

	ctx, span := s.tracer.Start(ctx, "docstore.query",
		trace.WithAttributes(
			attribute.String("collection", q.Collection),
			attribute.String("after", q.After),
			attribute.Int("limit", limit),
		),
	)
	defer span.End()

	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, data, version
		FROM documents
		WHERE collection = ? AND id > ?
		ORDER BY id ASC
		LIMIT ?
	`), q.Collection, q.After, limit)
	if err != nil {
		span.RecordError(err)
		return nil, &Error{Op: "query", Err: err}
	}
	defer rows.Close()

	page := &Page{Next: q.After}
	scanned := 0
	for rows.Next() {
		doc := Document{Collection: q.Collection}
		var data string
		if err := rows.Scan(&doc.ID, &data, &doc.Version); err != nil {
			return nil, &Error{Op: "query", Err: fmt.Errorf("scan document: %w", err)}
		}
		scanned++
		page.Next = doc.ID
		doc.Data = []byte(data)

		fields, err := decodeFields(doc.Data)
		if err != nil {
			return nil, &Error{Op: "query", Ref: doc.Ref(), Err: err}
		}
		if matches(fields, q.Filters) {
			page.Docs = append(page.Docs, doc)
		}
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, &Error{Op: "query", Err: fmt.Errorf("iterate documents: %w", err)}
	}

	page.Done = scanned < limit
	span.SetAttributes(
		attribute.Int("documents.scanned", scanned),
		attribute.Int("documents.matched", len(page.Docs)),
	)
	return page, nil
}

// Get reads a single document.
func (s *SQLStore) Get(ctx context.Context, ref Ref) (*Document, error) {
	ctx, span := s.tracer.Start(ctx, "docstore.get",
		trace.WithAttributes(attribute.String("ref", ref.String())),
	)
	defer span.End()

	doc := Document{Collection: ref.Collection, ID: ref.ID}
	var data string
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT data, version
		FROM documents
		WHERE collection = ? AND id = ?
	`), ref.Collection, ref.ID).Scan(&data, &doc.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &Error{Op: "get", Ref: ref, Err: ErrNotFound}
	}
	if err != nil {
		span.RecordError(err)
		return nil, &Error{Op: "get", Ref: ref, Err: err}
	}
	doc.Data = []byte(data)
	return &doc, nil
}

// Lookup returns the ids indexed under key, in id order.
func (s *SQLStore) Lookup(ctx context.Context, collection, key string) ([]string, error) {
	ctx, span := s.tracer.Start(ctx, "docstore.lookup",
		trace.WithAttributes(
			attribute.String("collection", collection),
			attribute.String("key", key),
		),
	)
	defer span.End()

	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT doc_id
		FROM document_index
		WHERE collection = ? AND index_key = ?
		ORDER BY doc_id ASC
	`), collection, key)
	if err != nil {
		span.RecordError(err)
		return nil, &Error{Op: "lookup", Err: err}
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, &Error{Op: "lookup", Err: err}
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, &Error{Op: "lookup", Err: err}
	}
	return ids, nil
}

// NewBatch starts an empty batch bound to this store.
func (s *SQLStore) NewBatch() Batch {
	return &sqlBatch{store: s}
}

// rebind rewrites `?` placeholders to `$n` for Postgres.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != Postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) txOptions() *sql.TxOptions {
	if s.dialect == Postgres {
		return &sql.TxOptions{Isolation: sql.LevelSerializable}
	}
	return nil
}
