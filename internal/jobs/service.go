// internal/jobs/service.go
package jobs

import (
	"context"

	"membercycle/internal/lifecycle"
)

// Service runs lifecycle jobs.
type Service interface {
	// Run executes one job to completion.
	Run(ctx context.Context, kind Kind, trigger lifecycle.Trigger) (*Result, error)
	// RunManual checks that callerID is an admin before any job read, then
	// runs the job with a manual trigger.
	RunManual(ctx context.Context, kind Kind, callerID string) (*Result, error)
	// RunPipeline runs PipelineKinds in order and stops at the first failure.
	RunPipeline(ctx context.Context) ([]*Result, error)
}
