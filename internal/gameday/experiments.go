package gameday

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"membercycle/internal/catalog"
	"membercycle/internal/chaos"
	"membercycle/internal/docstore"
	"membercycle/internal/jobs"
	"membercycle/internal/lifecycle"
	"membercycle/internal/membership"
)

// Weekly is the default game day.
func Weekly() GameDay {
	return GameDay{
		Name: "Weekly lifecycle game day",
		Date: time.Now(),
		Scenarios: []Scenario{
			StoreLatency(25 * time.Millisecond),
			GameIndexOutage,
			CommitFailureMidRun,
			ConcurrentPromotionRace,
		},
	}
}

func inactiveMembers(e *Env, n int) []docstore.Write {
	var writes []docstore.Write
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("inactive-%02d", i)
		writes = append(writes,
			docstore.Set(docstore.Ref{Collection: membership.CollectionUsers, ID: id}, map[string]any{
				"status":       membership.StatusActive,
				"tier":         membership.TierMember,
				"join_date":    e.now.AddDate(0, 0, -200),
				"total_shares": 4,
				"borrow_value": 25,
			}),
			docstore.Set(docstore.Ref{Collection: catalog.CollectionGames, ID: "game-" + id}, map[string]any{
				"title":    "Game of " + id,
				"accounts": []map[string]any{{"contributor_id": id}},
			}),
		)
	}
	return writes
}

func eligibleMembers(n int) []docstore.Write {
	var writes []docstore.Write
	for i := 0; i < n; i++ {
		writes = append(writes, docstore.Set(
			docstore.Ref{Collection: membership.CollectionUsers, ID: fmt.Sprintf("eligible-%02d", i)},
			map[string]any{
				"status":       membership.StatusActive,
				"tier":         membership.TierMember,
				"total_shares": 20,
				"fund_shares":  6,
			},
		))
	}
	return writes
}

func (e *Env) counter(collection string, filters ...docstore.Filter) func(context.Context) (float64, error) {
	return func(ctx context.Context) (float64, error) {
		return e.Count(ctx, collection, filters...)
	}
}

func clearFaults(e *Env) chaos.Action {
	return chaos.Action{Target: "store", Execute: func(context.Context) error {
		e.Store.Clear()
		return nil
	}}
}

// StoreLatency slows every scan down; suspension must still finish.
func StoreLatency(latency time.Duration) Scenario {
	return func(ctx context.Context, e *Env) (chaos.Experiment, error) {
		const members = 4
		if err := e.Seed(ctx, inactiveMembers(e, members)...); err != nil {
			return chaos.Experiment{}, err
		}
		svc := e.Jobs(jobs.Options{PageSize: 1})

		return chaos.Experiment{
			Name:       "store-latency",
			Hypothesis: "Suspension completes when every store query is slow",
			SteadyState: []chaos.Metric{{
				Name:      "suspended_members",
				Query:     e.counter(membership.CollectionUsers, docstore.Eq(membership.FieldStatus, membership.StatusSuspended)),
				Threshold: chaos.Threshold{Operator: "==", Value: 0},
			}},
			Method: []chaos.Action{{Target: "query", Execute: func(context.Context) error {
				e.Store.Inject(chaos.Fault{Op: chaos.OpQuery, Latency: latency, Repeat: true})
				return nil
			}}},
			Workload: func(ctx context.Context) error {
				_, err := svc.Run(ctx, jobs.KindSuspension, lifecycle.Scheduled)
				return err
			},
			Rollback: []chaos.Action{clearFaults(e)},
			Validation: []chaos.Assertion{{
				Metric:    "suspended_members",
				Condition: func(v float64) bool { return v == members },
				Message:   "every inactive member is suspended",
			}},
		}, nil
	}
}

// GameIndexOutage makes every contributor lookup fail. Suspensions go ahead
// and the games stay unflagged.
func GameIndexOutage(ctx context.Context, e *Env) (chaos.Experiment, error) {
	const members = 3
	if err := e.Seed(ctx, inactiveMembers(e, members)...); err != nil {
		return chaos.Experiment{}, err
	}
	svc := e.Jobs(jobs.Options{})

	return chaos.Experiment{
		Name:       "game-index-outage",
		Hypothesis: "Suspensions proceed when contributed games cannot be resolved",
		SteadyState: []chaos.Metric{
			{
				Name:      "suspended_members",
				Query:     e.counter(membership.CollectionUsers, docstore.Eq(membership.FieldStatus, membership.StatusSuspended)),
				Threshold: chaos.Threshold{Operator: "==", Value: 0},
			},
			{
				Name:      "flagged_games",
				Query:     e.counter(catalog.CollectionGames, docstore.Eq(catalog.FieldHasSuspendedContributor, true)),
				Threshold: chaos.Threshold{Operator: "==", Value: 0},
			},
		},
		Method: []chaos.Action{{Target: "lookup", Execute: func(context.Context) error {
			e.Store.Inject(chaos.Fault{Op: chaos.OpLookup, Repeat: true})
			return nil
		}}},
		Workload: func(ctx context.Context) error {
			_, err := svc.Run(ctx, jobs.KindSuspension, lifecycle.Scheduled)
			return err
		},
		Rollback: []chaos.Action{clearFaults(e)},
		Validation: []chaos.Assertion{
			{
				Metric:    "suspended_members",
				Condition: func(v float64) bool { return v == members },
				Message:   "members are suspended despite the lookup outage",
			},
			{
				Metric:    "flagged_games",
				Condition: func(v float64) bool { return v == 0 },
				Message:   "no game is flagged without a successful lookup",
			},
		},
	}, nil
}

// CommitFailureMidRun fails the second batch of a promotion run. The first
// batch stays durable and nothing is half-applied.
func CommitFailureMidRun(ctx context.Context, e *Env) (chaos.Experiment, error) {
	const members = 3
	if err := e.Seed(ctx, eligibleMembers(members)...); err != nil {
		return chaos.Experiment{}, err
	}
	svc := e.Jobs(jobs.Options{PageSize: 1})

	return chaos.Experiment{
		Name:       "commit-failure-mid-run",
		Hypothesis: "Batches committed before a failure stay committed and every promotion has its log",
		SteadyState: []chaos.Metric{
			{
				Name:      "vip_members",
				Query:     e.counter(membership.CollectionUsers, docstore.Eq(membership.FieldTier, membership.TierVIP)),
				Threshold: chaos.Threshold{Operator: "==", Value: 0},
			},
			{
				Name:      "promotion_logs",
				Query:     e.counter(membership.CollectionPromotions),
				Threshold: chaos.Threshold{Operator: "==", Value: 0},
			},
		},
		Method: []chaos.Action{{Target: "commit", Execute: func(context.Context) error {
			e.Store.Inject(chaos.Fault{Op: chaos.OpCommit, After: 1})
			return nil
		}}},
		Workload: func(ctx context.Context) error {
			_, err := svc.Run(ctx, jobs.KindVIPPromotion, lifecycle.Scheduled)
			if !errors.Is(err, jobs.ErrInternal) {
				return fmt.Errorf("expected an internal failure, got %v", err)
			}
			return nil
		},
		Rollback: []chaos.Action{clearFaults(e)},
		Validation: []chaos.Assertion{
			{
				Metric:    "vip_members",
				Condition: func(v float64) bool { return v == 1 },
				Message:   "only the first batch is applied",
			},
			{
				Metric:    "promotion_logs",
				Condition: func(v float64) bool { return v == 1 },
				Message:   "promotion and log commit together",
			},
		},
	}, nil
}

// ConcurrentPromotionRace runs several promotion jobs at once without a run
// lock. Version checks must keep each member to a single promotion log.
func ConcurrentPromotionRace(ctx context.Context, e *Env) (chaos.Experiment, error) {
	const members = 5
	const concurrency = 4
	if err := e.Seed(ctx, eligibleMembers(members)...); err != nil {
		return chaos.Experiment{}, err
	}
	svc := e.Jobs(jobs.Options{PageSize: 2})

	return chaos.Experiment{
		Name:       "concurrent-promotion-race",
		Hypothesis: "Concurrent promotion runs never write a second log for the same member",
		SteadyState: []chaos.Metric{{
			Name:      "promotion_logs",
			Query:     e.counter(membership.CollectionPromotions),
			Threshold: chaos.Threshold{Operator: "==", Value: 0},
		}},
		Workload: func(ctx context.Context) error {
			var wg sync.WaitGroup
			for i := 0; i < concurrency; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if _, err := svc.Run(ctx, jobs.KindVIPPromotion, lifecycle.Scheduled); err != nil && !errors.Is(err, docstore.ErrConflict) {
						e.Logger.Warn("promotion run failed", "error", err)
					}
				}()
			}
			wg.Wait()

			// Runs that lost a race leave their members for the next run.
			_, err := svc.Run(ctx, jobs.KindVIPPromotion, lifecycle.Scheduled)
			return err
		},
		Validation: []chaos.Assertion{{
			Metric:    "promotion_logs",
			Condition: func(v float64) bool { return v == members },
			Message:   "exactly one promotion log per member",
		}},
	}, nil
}
