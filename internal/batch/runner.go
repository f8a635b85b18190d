// Package batch scans a collection in pages, lets a job turn each document
// into writes, and commits those writes in atomic batches bounded by the
// store's maximum batch size.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"membercycle/internal/docstore"
)

// ErrUnitTooLarge is returned when the writes of a single record exceed the
// store's batch limit and therefore cannot commit atomically.
var ErrUnitTooLarge = errors.New("record writes exceed maximum batch size")

// State is the phase of a run.
type State string

const (
	StateIdle       State = "idle"
	StateScanning   State = "scanning"
	StateEvaluating State = "evaluating"
	StateCommitting State = "committing"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

// Job evaluates the documents matched by its query.
type Job interface {
	Name() string
	Query() docstore.Query
	// Visit is called once per matched document, in id order. Returning an
	// error aborts the run.
	Visit(ctx context.Context, doc docstore.Document, run *Run) error
}

// Finisher is implemented by jobs that can only decide after seeing the
// whole population. Finish runs after the last page; its queued writes are
// committed before the run completes.
type Finisher interface {
	Finish(ctx context.Context, run *Run) error
}

// Summary describes a completed or failed run.
type Summary struct {
	Job       string
	State     State
	Checked   int
	Affected  int
	Skipped   int
	Batches   int
	Counts    map[string]int
	Totals    map[string]decimal.Decimal
	StartedAt time.Time
	Duration  time.Duration
}

// Run is the per-run accumulator handed to a job.
type Run struct {
	summary *Summary
	pending [][]docstore.Write
	limit   int
}

// Queue adds the writes of one record. They always commit in the same batch
// and count as one affected record.
func (r *Run) Queue(writes ...docstore.Write) {
	if len(writes) == 0 {
		return
	}
	r.pending = append(r.pending, writes)
	r.summary.Affected++
}

// QueueWithSideEffects adds the writes of one record together with writes to
// other documents that follow from it. Side effects share the record's batch
// while they fit; the remainder commits in later batches of its own. It
// returns how many side effects were split off.
func (r *Run) QueueWithSideEffects(record []docstore.Write, sideEffects []docstore.Write) int {
	room := r.limit - len(record)
	if r.limit <= 0 || len(sideEffects) <= room {
		r.Queue(append(append([]docstore.Write{}, record...), sideEffects...)...)
		return 0
	}
	room = max(room, 0)

	unit := append(append([]docstore.Write{}, record...), sideEffects[:room]...)
	r.pending = append(r.pending, unit)
	r.summary.Affected++

	rest := sideEffects[room:]
	for len(rest) > 0 {
		n := min(len(rest), r.limit)
		r.pending = append(r.pending, rest[:n])
		rest = rest[n:]
	}
	return len(sideEffects) - room
}

// Skip counts a record that could not be evaluated.
func (r *Run) Skip() { r.summary.Skipped++ }

// Add increments a named counter.
func (r *Run) Add(counter string, n int) { r.summary.Counts[counter] += n }

// AddAmount increments a named monetary total.
func (r *Run) AddAmount(key string, amount decimal.Decimal) {
	r.summary.Totals[key] = r.summary.Totals[key].Add(amount)
}

// Runner drives jobs against a store. A Runner is safe for sequential use;
// runs share no state.
type Runner struct {
	store    docstore.Store
	pageSize int
	logger   *slog.Logger
	tracer   trace.Tracer
}

// NewRunner creates a runner scanning pageSize documents per query.
func NewRunner(store docstore.Store, pageSize int, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		store:    store,
		pageSize: pageSize,
		logger:   logger,
		tracer:   otel.Tracer("membercycle/batch"),
	}
}

// Run scans the job's query page by page. Writes queued while visiting a
// page are committed before the next page is read. A failed read or commit
// stops the run; batches committed earlier stay committed.
func (rn *Runner) Run(ctx context.Context, job Job) (*Summary, error) {
	ctx, span := rn.tracer.Start(ctx, "batch.run",
		trace.WithAttributes(attribute.String("job", job.Name())),
	)
	defer span.End()

	summary := &Summary{
		Job:       job.Name(),
		State:     StateIdle,
		Counts:    map[string]int{},
		Totals:    map[string]decimal.Decimal{},
		StartedAt: time.Now(),
	}
	run := &Run{summary: summary, limit: rn.store.MaxBatchSize()}

	fail := func(err error) (*Summary, error) {
		summary.State = StateFailed
		summary.Duration = time.Since(summary.StartedAt)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		rn.logger.Error("batch run failed",
			"job", summary.Job,
			"checked", summary.Checked,
			"affected", summary.Affected,
			"batches", summary.Batches,
			"error", err,
		)
		return summary, err
	}

	q := job.Query()
	if q.Limit <= 0 {
		q.Limit = rn.pageSize
	}

	for {
		summary.State = StateScanning
		page, err := rn.store.Query(ctx, q)
		if err != nil {
			return fail(fmt.Errorf("scan %s after %q: %w", q.Collection, q.After, err))
		}

		summary.State = StateEvaluating
		for _, doc := range page.Docs {
			summary.Checked++
			if err := job.Visit(ctx, doc, run); err != nil {
				return fail(fmt.Errorf("evaluate %s: %w", doc.Ref(), err))
			}
		}

		if err := rn.flush(ctx, run); err != nil {
			return fail(err)
		}

		if page.Done {
			break
		}
		q.After = page.Next
	}

	if f, ok := job.(Finisher); ok {
		summary.State = StateEvaluating
		if err := f.Finish(ctx, run); err != nil {
			return fail(fmt.Errorf("finish %s: %w", job.Name(), err))
		}
		if err := rn.flush(ctx, run); err != nil {
			return fail(err)
		}
	}

	summary.State = StateDone
	summary.Duration = time.Since(summary.StartedAt)
	span.SetAttributes(
		attribute.Int("checked", summary.Checked),
		attribute.Int("affected", summary.Affected),
		attribute.Int("batches", summary.Batches),
	)
	return summary, nil
}

// flush packs pending record units into as few batches as the store limit
// allows, never splitting a unit.
func (rn *Runner) flush(ctx context.Context, run *Run) error {
	if len(run.pending) == 0 {
		return nil
	}
	run.summary.State = StateCommitting
	limit := rn.store.MaxBatchSize()

	b := rn.store.NewBatch()
	for _, unit := range run.pending {
		if len(unit) > limit {
			return fmt.Errorf("%w: %d writes for %s, limit %d", ErrUnitTooLarge, len(unit), unit[0].Ref, limit)
		}
		if b.Len()+len(unit) > limit {
			if err := rn.commit(ctx, run, b); err != nil {
				return err
			}
			b = rn.store.NewBatch()
		}
		for _, w := range unit {
			b.Add(w)
		}
	}
	if err := rn.commit(ctx, run, b); err != nil {
		return err
	}
	run.pending = nil
	return nil
}

func (rn *Runner) commit(ctx context.Context, run *Run, b docstore.Batch) error {
	if b.Len() == 0 {
		return nil
	}
	if err := b.Commit(ctx); err != nil {
		return fmt.Errorf("commit batch %d (%d writes): %w", run.summary.Batches+1, b.Len(), err)
	}
	run.summary.Batches++
	rn.logger.Debug("batch committed",
		"job", run.summary.Job,
		"batch", run.summary.Batches,
		"writes", b.Len(),
	)
	return nil
}
