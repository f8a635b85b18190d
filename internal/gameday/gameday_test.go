package gameday

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"membercycle/internal/chaos"
	"membercycle/internal/logging"
)

func TestWeeklyGameDay(t *testing.T) {
	day := Weekly()
	results, err := Execute(context.Background(), day, logging.New(io.Discard, "error"))
	require.NoError(t, err)
	require.Len(t, results, len(day.Scenarios))

	for _, r := range results {
		assert.True(t, r.SteadyStateValid, r.ExperimentName)
		assert.True(t, r.HypothesisHeld, "%s: %v (workload error %q)", r.ExperimentName, r.Failed, r.WorkloadError)
	}
}

func TestScenarioSeedFailureStopsGameDay(t *testing.T) {
	broken := func(ctx context.Context, e *Env) (chaos.Experiment, error) {
		return chaos.Experiment{}, errors.New("seed failed")
	}
	_, err := Execute(context.Background(), GameDay{Name: "broken", Scenarios: []Scenario{broken}}, logging.New(io.Discard, "error"))
	assert.Error(t, err)
}

func TestViolatedHypothesisIsReported(t *testing.T) {
	wrong := func(ctx context.Context, e *Env) (chaos.Experiment, error) {
		exp, err := GameIndexOutage(ctx, e)
		exp.Validation[1].Condition = func(v float64) bool { return v > 0 }
		return exp, err
	}
	results, err := Execute(context.Background(), GameDay{Name: "wrong", Scenarios: []Scenario{wrong}}, logging.New(io.Discard, "error"))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.False(t, results[0].HypothesisHeld)
	assert.Equal(t, []string{"no game is flagged without a successful lookup"}, results[0].Failed)
}
