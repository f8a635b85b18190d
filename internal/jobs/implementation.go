// internal/jobs/implementation.go
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"membercycle/internal/auth"
	"membercycle/internal/batch"
	"membercycle/internal/catalog"
	"membercycle/internal/docstore"
	"membercycle/internal/lifecycle"
	"membercycle/internal/membership"
	"membercycle/internal/runlock"
	"membercycle/internal/telemetry"
)

var tracer = otel.Tracer("membercycle/jobs")

// Options tunes a Service. Zero values select the defaults.
type Options struct {
	Now         func() time.Time
	Logger      *slog.Logger
	Locker      runlock.Locker
	PageSize    int
	ManualRate  rate.Limit
	ManualBurst int
}

// service implements the Service interface.
type service struct {
	app     *lifecycle.Applicator
	members membership.Service
	games   catalog.Service
	runner  *batch.Runner
	locker  runlock.Locker
	limiter *rate.Limiter
	now     func() time.Time
	logger  *slog.Logger
}

// NewService creates a new jobs service over store.
func NewService(store docstore.Store, app *lifecycle.Applicator, opts Options) Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Locker == nil {
		opts.Locker = runlock.Noop{}
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 200
	}
	if opts.ManualRate <= 0 {
		opts.ManualRate = rate.Every(time.Minute)
	}
	if opts.ManualBurst <= 0 {
		opts.ManualBurst = 3
	}
	return &service{
		app:     app,
		members: membership.NewService(store),
		games:   catalog.NewService(store),
		runner:  batch.NewRunner(store, opts.PageSize, opts.Logger),
		locker:  opts.Locker,
		limiter: rate.NewLimiter(opts.ManualRate, opts.ManualBurst),
		now:     opts.Now,
		logger:  opts.Logger,
	}
}

func (s *service) newJob(kind Kind, trigger lifecycle.Trigger, now time.Time) (batch.Job, error) {
	switch kind {
	case KindSuspension:
		return &suspensionJob{app: s.app, games: s.games, now: now, logger: s.logger}, nil
	case KindBalanceExpiry:
		return &expiryJob{app: s.app, now: now, logger: s.logger}, nil
	case KindVIPPromotion:
		return &promotionJob{app: s.app, trigger: trigger}, nil
	case KindScoring:
		return &scoringJob{app: s.app}, nil
	case KindRenewal:
		return &renewalJob{app: s.app}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownJob, kind)
}

// Run executes one job while holding its run lock.
func (s *service) Run(ctx context.Context, kind Kind, trigger lifecycle.Trigger) (*Result, error) {
	ctx, span := tracer.Start(ctx, "jobs.run",
		trace.WithAttributes(
			attribute.String("job", string(kind)),
			attribute.String("trigger", string(trigger.Origin)),
		),
	)
	defer span.End()

	job, err := s.newJob(kind, trigger, s.now())
	if err != nil {
		return nil, err
	}

	release, err := s.locker.Acquire(ctx, string(kind))
	if errors.Is(err, runlock.ErrLocked) {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRunning, kind)
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: %s lock: %w", ErrInternal, kind, err)
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("failed to release run lock", "job", kind, "error", err)
		}
	}()

	s.logger.Info("job started", "job", kind, "trigger", trigger.Origin)

	summary, err := s.runner.Run(ctx, job)
	telemetry.ObserveRun(string(kind), err, summary.Checked, summary.Affected, summary.Duration)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: %s run failed: %w", ErrInternal, kind, err)
	}

	s.logger.Info("job finished",
		"job", kind,
		"trigger", trigger.Origin,
		"checked", summary.Checked,
		"affected", summary.Affected,
		"skipped", summary.Skipped,
		"batches", summary.Batches,
		"duration", summary.Duration,
	)
	return &Result{
		Kind:    kind,
		Origin:  trigger.Origin,
		Message: message(kind, trigger.Origin),
		Summary: summary,
	}, nil
}

// RunManual runs an admin-triggered job. Only admin calls draw from the
// manual trigger budget.
func (s *service) RunManual(ctx context.Context, kind Kind, callerID string) (*Result, error) {
	if !kind.Manual() {
		return nil, fmt.Errorf("%w: %q cannot be triggered manually", ErrUnknownJob, kind)
	}
	if err := auth.RequireAdmin(ctx, s.members, callerID); err != nil {
		return nil, err
	}
	if !s.limiter.Allow() {
		return nil, ErrRateLimited
	}
	return s.Run(ctx, kind, lifecycle.Manual(callerID))
}

// RunPipeline runs expiry, suspension, promotion and scoring in sequence so
// each phase sees the writes of the previous one.
func (s *service) RunPipeline(ctx context.Context) ([]*Result, error) {
	ctx, span := tracer.Start(ctx, "jobs.pipeline")
	defer span.End()

	results := make([]*Result, 0, len(PipelineKinds))
	for _, kind := range PipelineKinds {
		res, err := s.Run(ctx, kind, lifecycle.Scheduled)
		if err != nil {
			span.RecordError(err)
			return results, fmt.Errorf("pipeline stopped at %s: %w", kind, err)
		}
		results = append(results, res)
	}
	return results, nil
}
