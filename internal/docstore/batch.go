package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

type sqlBatch struct {
	store     *SQLStore
	writes    []Write
	committed bool
}

func (b *sqlBatch) Add(w Write) { b.writes = append(b.writes, w) }

func (b *sqlBatch) Len() int { return len(b.writes) }

// Commit applies every write inside one transaction. Writes see the effects
// of earlier writes in the same batch.
func (b *sqlBatch) Commit(ctx context.Context) error {
	s := b.store
	ctx, span := s.tracer.Start(ctx, "docstore.commit",
		trace.WithAttributes(attribute.Int("batch.size", len(b.writes))),
	)
	defer span.End()

	if b.committed {
		return &Error{Op: "commit", Err: ErrCommitted}
	}
	if len(b.writes) > s.opts.MaxBatchSize {
		return &Error{Op: "commit", Err: fmt.Errorf("%w: %d writes, limit %d", ErrBatchTooLarge, len(b.writes), s.opts.MaxBatchSize)}
	}
	if len(b.writes) == 0 {
		return nil
	}

	err := b.commit(ctx)
	outcome := "ok"
	if err != nil {
		outcome = "error"
		span.RecordError(err)
	} else {
		b.committed = true
		s.mutations.Add(ctx, int64(len(b.writes)))
	}
	s.commits.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	span.SetAttributes(attribute.Bool("commit.success", err == nil))
	return err
}

func (b *sqlBatch) commit(ctx context.Context) error {
	s := b.store
	tx, err := s.db.BeginTx(ctx, s.txOptions())
	if err != nil {
		return &Error{Op: "commit", Err: fmt.Errorf("begin transaction: %w", err)}
	}
	defer tx.Rollback()

	now := s.opts.Now()
	for _, w := range b.writes {
		if err := b.apply(ctx, tx, w, now); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return &Error{Op: "commit", Err: classify(err)}
	}
	return nil
}

func (b *sqlBatch) apply(ctx context.Context, tx *sql.Tx, w Write, now time.Time) error {
	s := b.store

	var data string
	version := 0
	err := tx.QueryRowContext(ctx, s.rebind(`
		SELECT data, version
		FROM documents
		WHERE collection = ? AND id = ?
	`), w.Ref.Collection, w.Ref.ID).Scan(&data, &version)
	exists := err == nil
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return &Error{Op: "commit", Ref: w.Ref, Err: classify(err)}
	}

	if w.Kind == KindUpdate && !exists {
		return &Error{Op: "commit", Ref: w.Ref, Err: ErrNotFound}
	}
	if w.Version != 0 && w.Version != version {
		return &Error{Op: "commit", Ref: w.Ref, Err: fmt.Errorf("%w: expected %d, found %d", ErrConflict, w.Version, version)}
	}

	fields := map[string]any{}
	if w.Kind == KindUpdate {
		fields, err = decodeFields([]byte(data))
		if err != nil {
			return &Error{Op: "commit", Ref: w.Ref, Err: err}
		}
	}
	if err := applyFields(fields, w.Fields, now); err != nil {
		return &Error{Op: "commit", Ref: w.Ref, Err: err}
	}

	encoded, err := json.Marshal(fields)
	if err != nil {
		return &Error{Op: "commit", Ref: w.Ref, Err: fmt.Errorf("encode document: %w", err)}
	}

	if exists {
		res, err := tx.ExecContext(ctx, s.rebind(`
			UPDATE documents
			SET data = ?, version = ?
			WHERE collection = ? AND id = ? AND version = ?
		`), string(encoded), version+1, w.Ref.Collection, w.Ref.ID, version)
		if err != nil {
			return &Error{Op: "commit", Ref: w.Ref, Err: classify(err)}
		}
		if n, err := res.RowsAffected(); err == nil && n != 1 {
			return &Error{Op: "commit", Ref: w.Ref, Err: ErrConflict}
		}
	} else {
		_, err := tx.ExecContext(ctx, s.rebind(`
			INSERT INTO documents (collection, id, data, version)
			VALUES (?, ?, ?, ?)
		`), w.Ref.Collection, w.Ref.ID, string(encoded), 1)
		if err != nil {
			return &Error{Op: "commit", Ref: w.Ref, Err: classify(err)}
		}
	}

	return b.reindex(ctx, tx, w.Ref, fields)
}

func (b *sqlBatch) reindex(ctx context.Context, tx *sql.Tx, ref Ref, fields map[string]any) error {
	s := b.store
	index, ok := s.opts.Indexes[ref.Collection]
	if !ok {
		return nil
	}

	if _, err := tx.ExecContext(ctx, s.rebind(`
		DELETE FROM document_index
		WHERE collection = ? AND doc_id = ?
	`), ref.Collection, ref.ID); err != nil {
		return &Error{Op: "reindex", Ref: ref, Err: classify(err)}
	}

	seen := map[string]bool{}
	for _, key := range index(fields) {
		if seen[key] {
			continue
		}
		seen[key] = true
		if _, err := tx.ExecContext(ctx, s.rebind(`
			INSERT INTO document_index (collection, index_key, doc_id)
			VALUES (?, ?, ?)
		`), ref.Collection, key, ref.ID); err != nil {
			return &Error{Op: "reindex", Ref: ref, Err: classify(err)}
		}
	}
	return nil
}

// classify maps driver errors that signal a lost race to ErrConflict.
func classify(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505", "40001":
			return fmt.Errorf("%w: %s", ErrConflict, pqErr.Message)
		}
	}
	return err
}
