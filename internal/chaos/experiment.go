// internal/chaos/experiment.go
package chaos

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ErrSteadyStateInvalid aborts an experiment whose preconditions do not hold.
var ErrSteadyStateInvalid = errors.New("steady state invalid - aborting experiment")

// Experiment injects faults, runs a workload and checks what the system
// looks like afterwards.
type Experiment struct {
	Name        string
	Hypothesis  string
	SteadyState []Metric
	Method      []Action
	// Workload is the operation under test. Its error is recorded, not fatal.
	Workload   func(context.Context) error
	Rollback   []Action
	Validation []Assertion
}

// Metric is a measurable property of the system.
type Metric struct {
	Name      string
	Query     func(context.Context) (float64, error)
	Threshold Threshold
}

type Threshold struct {
	Operator string // >, <, >=, <=, ==
	Value    float64
}

// Action is a fault injection or recovery step.
type Action struct {
	Target  string
	Execute func(context.Context) error
}

// Assertion checks the final observation of a metric.
type Assertion struct {
	Metric    string
	Condition func(float64) bool
	Message   string
}

// ExperimentResult captures one execution.
type ExperimentResult struct {
	ExperimentName   string             `json:"experiment_name"`
	StartTime        time.Time          `json:"start_time"`
	Duration         time.Duration      `json:"duration"`
	HypothesisHeld   bool               `json:"hypothesis_held"`
	SteadyStateValid bool               `json:"steady_state_valid"`
	WorkloadError    string             `json:"workload_error,omitempty"`
	Observations     map[string]float64 `json:"observations"`
	Failed           []string           `json:"failed_assertions,omitempty"`
	ErrorEvents      []ErrorEvent       `json:"error_events"`
}

// Engine runs experiments and keeps their results.
type Engine struct {
	tracer  trace.Tracer
	mu      sync.Mutex
	results []ExperimentResult
}

func NewEngine() *Engine {
	return &Engine{tracer: otel.Tracer("membercycle/chaos")}
}

// Results returns the results of every experiment run so far.
func (e *Engine) Results() []ExperimentResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]ExperimentResult, len(e.results))
	copy(out, e.results)
	return out
}

// RunExperiment validates the steady state, injects the method, runs the
// workload, rolls back and evaluates the assertions.
func (e *Engine) RunExperiment(ctx context.Context, exp Experiment) (*ExperimentResult, error) {
	ctx, span := e.tracer.Start(ctx, "chaos.run_experiment",
		trace.WithAttributes(attribute.String("experiment.name", exp.Name)),
	)
	defer span.End()

	result := &ExperimentResult{
		ExperimentName: exp.Name,
		StartTime:      time.Now(),
		Observations:   map[string]float64{},
	}

	span.AddEvent("validating_steady_state")
	for _, m := range exp.SteadyState {
		v, err := m.Query(ctx)
		if err != nil || !m.Threshold.holds(v) {
			return result, ErrSteadyStateInvalid
		}
	}
	result.SteadyStateValid = true

	span.AddEvent("injecting_chaos")
	for _, a := range exp.Method {
		if err := a.Execute(ctx); err != nil {
			result.ErrorEvents = append(result.ErrorEvents, ErrorEvent{Timestamp: time.Now(), Error: err.Error(), Component: a.Target})
			span.RecordError(err)
		}
	}

	if exp.Workload != nil {
		span.AddEvent("running_workload")
		if err := exp.Workload(ctx); err != nil {
			result.WorkloadError = err.Error()
		}
	}

	span.AddEvent("rolling_back")
	for _, a := range exp.Rollback {
		if err := a.Execute(ctx); err != nil {
			span.RecordError(err)
		}
	}

	span.AddEvent("observing_system")
	for _, m := range exp.SteadyState {
		v, err := m.Query(ctx)
		if err != nil {
			result.ErrorEvents = append(result.ErrorEvents, ErrorEvent{Timestamp: time.Now(), Error: err.Error(), Component: m.Name})
			continue
		}
		result.Observations[m.Name] = v
	}

	result.HypothesisHeld = true
	for _, a := range exp.Validation {
		v, ok := result.Observations[a.Metric]
		if !ok || !a.Condition(v) {
			result.HypothesisHeld = false
			result.Failed = append(result.Failed, a.Message)
		}
	}
	result.Duration = time.Since(result.StartTime)

	e.mu.Lock()
	e.results = append(e.results, *result)
	e.mu.Unlock()

	span.SetAttributes(
		attribute.Bool("hypothesis_held", result.HypothesisHeld),
		attribute.Int("failed_assertions", len(result.Failed)),
	)
	return result, nil
}

func (t Threshold) holds(v float64) bool {
	switch t.Operator {
	case ">":
		return v > t.Value
	case "<":
		return v < t.Value
	case ">=":
		return v >= t.Value
	case "<=":
		return v <= t.Value
	case "==":
		return v == t.Value
	}
	return false
}
