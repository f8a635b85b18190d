// Package gameday runs chaos experiments against the lifecycle jobs on a
// throwaway in-memory store.
package gameday

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"membercycle/internal/catalog"
	"membercycle/internal/chaos"
	"membercycle/internal/docstore"
	"membercycle/internal/jobs"
	"membercycle/internal/lifecycle"
	"membercycle/internal/membership"
)

// Scenario seeds a fresh environment and builds an experiment over it.
type Scenario func(ctx context.Context, e *Env) (chaos.Experiment, error)

// GameDay is a named series of scenarios.
type GameDay struct {
	Name      string
	Date      time.Time
	Scenarios []Scenario
}

// Env is one isolated store with the services the scenarios drive.
type Env struct {
	Store   *chaos.Store
	Members membership.Service
	Games   catalog.Service
	Logger  *slog.Logger

	db  *sql.DB
	app *lifecycle.Applicator
	now time.Time
}

// NewEnv opens an in-memory store wrapped for fault injection.
func NewEnv(logger *slog.Logger) (*Env, error) {
	db, err := docstore.Open(docstore.SQLite, ":memory:")
	if err != nil {
		return nil, err
	}
	app, err := lifecycle.NewApplicator(lifecycle.DefaultRules(), lifecycle.DefaultBalanceFields())
	if err != nil {
		db.Close()
		return nil, err
	}
	store := chaos.NewStore(docstore.New(db, docstore.SQLite, docstore.Options{
		Indexes: catalog.Indexes(),
	}))
	return &Env{
		Store:   store,
		Members: membership.NewService(store),
		Games:   catalog.NewService(store),
		Logger:  logger,
		db:      db,
		app:     app,
		now:     time.Now().UTC(),
	}, nil
}

func (e *Env) Close() error { return e.db.Close() }

// Jobs returns a jobs service over the environment's store.
func (e *Env) Jobs(opts jobs.Options) jobs.Service {
	opts.Logger = e.Logger
	opts.Now = func() time.Time { return e.now }
	return jobs.NewService(e.Store, e.app, opts)
}

// Seed commits writes in one batch.
func (e *Env) Seed(ctx context.Context, writes ...docstore.Write) error {
	b := e.Store.NewBatch()
	for _, w := range writes {
		b.Add(w)
	}
	return b.Commit(ctx)
}

// Count pages through collection and counts the documents matching filters.
func (e *Env) Count(ctx context.Context, collection string, filters ...docstore.Filter) (float64, error) {
	q := docstore.Query{Collection: collection, Filters: filters, Limit: 100}
	n := 0
	for {
		page, err := e.Store.Query(ctx, q)
		if err != nil {
			return 0, err
		}
		n += len(page.Docs)
		if page.Done {
			return float64(n), nil
		}
		q.After = page.Next
	}
}

// Execute runs every scenario in its own environment. It returns an error
// when a scenario cannot be set up; violated hypotheses are reported in the
// results.
func Execute(ctx context.Context, day GameDay, logger *slog.Logger) ([]chaos.ExperimentResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, span := otel.Tracer("membercycle/gameday").Start(ctx, "gameday.execute",
		trace.WithAttributes(attribute.String("gameday.name", day.Name)),
	)
	defer span.End()

	engine := chaos.NewEngine()
	logger.Info("starting game day", "name", day.Name, "date", day.Date.Format(time.DateOnly), "scenarios", len(day.Scenarios))

	for i, scenario := range day.Scenarios {
		env, err := NewEnv(logger)
		if err != nil {
			return engine.Results(), fmt.Errorf("scenario %d: %w", i+1, err)
		}
		exp, err := scenario(ctx, env)
		if err != nil {
			env.Close()
			return engine.Results(), fmt.Errorf("scenario %d: seed: %w", i+1, err)
		}
		logger.Info("running experiment", "n", i+1, "name", exp.Name, "hypothesis", exp.Hypothesis)

		result, err := engine.RunExperiment(ctx, exp)
		env.Close()
		if err != nil {
			logger.Error("experiment aborted", "name", exp.Name, "error", err)
			continue
		}
		if result.HypothesisHeld {
			logger.Info("hypothesis held", "name", exp.Name, "duration", result.Duration)
		} else {
			logger.Warn("hypothesis violated", "name", exp.Name, "failed", result.Failed)
		}
	}
	return engine.Results(), nil
}
