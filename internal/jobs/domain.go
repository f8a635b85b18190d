// internal/jobs/domain.go
package jobs

import (
	"encoding/json"
	"errors"
	"fmt"

	"membercycle/internal/batch"
	"membercycle/internal/membership"
)

var (
	// ErrInternal wraps every failure of a job run. The cause stays
	// reachable through errors.Is.
	ErrInternal       = errors.New("internal")
	ErrRateLimited    = errors.New("rate limit exceeded")
	ErrAlreadyRunning = errors.New("job already running")
	ErrUnknownJob     = errors.New("unknown job")
)

// Kind names a lifecycle job.
type Kind string

const (
	KindBalanceExpiry Kind = "balance-expiry"
	KindSuspension    Kind = "suspension"
	KindVIPPromotion  Kind = "vip-promotion"
	KindScoring       Kind = "score-calculation"
	KindRenewal       Kind = "client-renewal"
)

// Kinds lists every job.
var Kinds = []Kind{KindBalanceExpiry, KindSuspension, KindVIPPromotion, KindScoring, KindRenewal}

// PipelineKinds is the order of a pipeline run.
var PipelineKinds = []Kind{KindBalanceExpiry, KindSuspension, KindVIPPromotion, KindScoring}

// ParseKind validates a job name.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownJob, s)
}

// Manual reports whether admins may trigger the job on demand.
func (k Kind) Manual() bool {
	switch k {
	case KindSuspension, KindBalanceExpiry, KindVIPPromotion:
		return true
	}
	return false
}

// Summary counter keys.
const (
	countExpired    = "expired"
	countUnmapped   = "unmapped"
	amountExpired   = "totalExpired"
	amountForfeited = "forfeited"
)

var descriptions = map[Kind]string{
	KindSuspension:    "suspension check",
	KindBalanceExpiry: "balance expiry check",
	KindVIPPromotion:  "VIP promotion check",
	KindScoring:       "score calculation",
	KindRenewal:       "client renewal check",
}

func message(kind Kind, origin membership.Origin) string {
	switch {
	case origin == membership.OriginManual:
		return fmt.Sprintf("Manual %s completed", descriptions[kind])
	case kind == KindRenewal:
		return fmt.Sprintf("Weekly %s completed", descriptions[kind])
	default:
		return fmt.Sprintf("Daily %s completed", descriptions[kind])
	}
}

// Result is the outcome of a successful run.
type Result struct {
	Kind    Kind
	Origin  membership.Origin
	Message string
	Summary *batch.Summary
}

// MarshalJSON renders the caller-facing summary with the job-specific
// counts.
func (r Result) MarshalJSON() ([]byte, error) {
	s := r.Summary
	out := map[string]any{
		"success": true,
		"message": r.Message,
		"checked": s.Checked,
	}
	switch r.Kind {
	case KindSuspension:
		out["suspended"] = s.Affected
	case KindBalanceExpiry:
		out["expired"] = s.Counts[countExpired]
		out["usersAffected"] = s.Affected
		out["totalExpired"] = json.Number(s.Totals[amountExpired].String())
		if n := s.Counts[countUnmapped]; n > 0 {
			out["unmapped"] = n
		}
	case KindVIPPromotion:
		out["promoted"] = s.Affected
	case KindScoring:
		out["usersUpdated"] = s.Affected
	case KindRenewal:
		out["needsRenewal"] = s.Affected
	}
	return json.Marshal(out)
}
