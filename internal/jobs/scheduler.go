package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"membercycle/internal/lifecycle"
)

// Schedule holds one standard cron spec per job, evaluated in UTC. An empty
// spec disables the job.
type Schedule struct {
	Expiry     string
	Suspension string
	Promotion  string
	Scoring    string
	Renewal    string
	// Pipeline runs expiry, suspension, promotion and scoring as one ordered
	// run at the Expiry slot.
	Pipeline bool
}

// Scheduler fires jobs on their cron schedule.
type Scheduler struct {
	mu      sync.Mutex
	cron    *cron.Cron
	service Service
	logger  *slog.Logger
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewScheduler registers the schedule's entries.
func NewScheduler(svc Service, sched Schedule, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		service: svc,
		logger:  logger,
		ctx:     context.Background(),
	}

	type entry struct {
		name string
		spec string
		fn   func()
	}
	entries := []entry{
		{"renewal", sched.Renewal, func() { s.runJob(KindRenewal) }},
	}
	if sched.Pipeline {
		entries = append(entries, entry{"pipeline", sched.Expiry, s.runPipeline})
	} else {
		slots := map[Kind]string{
			KindBalanceExpiry: sched.Expiry,
			KindSuspension:    sched.Suspension,
			KindVIPPromotion:  sched.Promotion,
			KindScoring:       sched.Scoring,
		}
		for _, kind := range PipelineKinds {
			kind := kind
			entries = append(entries, entry{string(kind), slots[kind], func() { s.runJob(kind) }})
		}
	}

	for _, e := range entries {
		if e.spec == "" {
			continue
		}
		if _, err := s.cron.AddFunc(e.spec, e.fn); err != nil {
			return nil, fmt.Errorf("schedule %s %q: %w", e.name, e.spec, err)
		}
	}
	return s, nil
}

// Entries returns the number of registered cron entries.
func (s *Scheduler) Entries() int { return len(s.cron.Entries()) }

// Start begins firing entries. Runs use ctx until Stop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()
	s.cron.Start()
}

// Stop prevents new runs and waits for running ones to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	if cancel != nil {
		cancel()
	}
}

func (s *Scheduler) runContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

func (s *Scheduler) runJob(kind Kind) {
	if _, err := s.service.Run(s.runContext(), kind, lifecycle.Scheduled); err != nil {
		s.logger.Error("scheduled job failed", "job", kind, "error", err)
	}
}

func (s *Scheduler) runPipeline() {
	results, err := s.service.RunPipeline(s.runContext())
	if err != nil {
		s.logger.Error("scheduled pipeline failed", "completed", len(results), "error", err)
	}
}
