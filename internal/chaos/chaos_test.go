package chaos

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"membercycle/internal/docstore"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	db, err := docstore.Open(docstore.SQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(docstore.New(db, docstore.SQLite, docstore.Options{}))
}

func TestFaultFiresOnNthCall(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	q := docstore.Query{Collection: "users"}

	s.Inject(Fault{Op: OpQuery, After: 1})

	_, err := s.Query(ctx, q)
	require.NoError(t, err)

	_, err = s.Query(ctx, q)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInjected))

	_, err = s.Query(ctx, q)
	assert.NoError(t, err, "non-repeating fault fires once")

	require.Len(t, s.Events(), 1)
	assert.Equal(t, "query", s.Events()[0].Component)
	assert.Equal(t, 3, s.Calls(OpQuery))
}

func TestRepeatingCommitFault(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	boom := errors.New("disk full")
	s.Inject(Fault{Op: OpCommit, Err: boom, Repeat: true})

	for i := 0; i < 2; i++ {
		b := s.NewBatch()
		b.Add(docstore.Set(docstore.Ref{Collection: "users", ID: "u1"}, map[string]any{}))
		err := b.Commit(ctx)
		assert.True(t, errors.Is(err, boom))
	}

	s.Clear()
	b := s.NewBatch()
	b.Add(docstore.Set(docstore.Ref{Collection: "users", ID: "u1"}, map[string]any{}))
	require.NoError(t, b.Commit(ctx))
}

func TestRunExperiment(t *testing.T) {
	s := setupStore(t)
	engine := NewEngine()
	ctx := context.Background()

	docs := func(ctx context.Context) (float64, error) {
		page, err := s.Query(ctx, docstore.Query{Collection: "users"})
		if err != nil {
			return 0, err
		}
		return float64(len(page.Docs)), nil
	}

	result, err := engine.RunExperiment(ctx, Experiment{
		Name:        "commit failure leaves store untouched",
		Hypothesis:  "a failed batch writes nothing",
		SteadyState: []Metric{{Name: "docs", Query: docs, Threshold: Threshold{Operator: "==", Value: 0}}},
		Method: []Action{{Target: "store", Execute: func(context.Context) error {
			s.Inject(Fault{Op: OpCommit})
			return nil
		}}},
		Workload: func(ctx context.Context) error {
			b := s.NewBatch()
			b.Add(docstore.Set(docstore.Ref{Collection: "users", ID: "u1"}, map[string]any{}))
			return b.Commit(ctx)
		},
		Rollback: []Action{{Target: "store", Execute: func(context.Context) error {
			s.Clear()
			return nil
		}}},
		Validation: []Assertion{{Metric: "docs", Condition: func(v float64) bool { return v == 0 }, Message: "no documents written"}},
	})
	require.NoError(t, err)
	assert.True(t, result.SteadyStateValid)
	assert.True(t, result.HypothesisHeld)
	assert.Contains(t, result.WorkloadError, ErrInjected.Error())
	assert.Len(t, engine.Results(), 1)
}

func TestSteadyStateViolationAborts(t *testing.T) {
	engine := NewEngine()
	_, err := engine.RunExperiment(context.Background(), Experiment{
		Name: "broken precondition",
		SteadyState: []Metric{{
			Name:      "always one",
			Query:     func(context.Context) (float64, error) { return 1, nil },
			Threshold: Threshold{Operator: "<", Value: 1},
		}},
	})
	assert.True(t, errors.Is(err, ErrSteadyStateInvalid))
}

func TestLatencyOnlyFault(t *testing.T) {
	s := setupStore(t)
	s.Inject(Fault{Op: OpGet, Latency: 20 * time.Millisecond, Repeat: true})

	start := time.Now()
	_, err := s.Get(context.Background(), docstore.Ref{Collection: "users", ID: "missing"})
	assert.True(t, errors.Is(err, docstore.ErrNotFound), "the inner store still answers")
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	assert.Empty(t, s.Events())
}
