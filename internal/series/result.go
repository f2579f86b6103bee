package series

type Outcome string

const (
	OutcomePublished    Outcome = "published"
	OutcomeGapHealed    Outcome = "gap_healed"
	OutcomeLooped       Outcome = "looped"
	OutcomeCompleted    Outcome = "completed"
	OutcomeWaiting      Outcome = "waiting"
	OutcomeProcessing   Outcome = "already_processing"
	OutcomeRateLimited  Outcome = "rate_limited"
	OutcomeCooldown     Outcome = "cooldown"
	OutcomeInactive     Outcome = "inactive"
	OutcomeEmpty        Outcome = "empty_folder"
	OutcomeConfig       Outcome = "configuration"
	OutcomeConnectivity Outcome = "connectivity"
	OutcomeFailed       Outcome = "failed"
	OutcomeFatal        Outcome = "fatal"
	OutcomeNotFound     Outcome = "not_found"
)

// Result is all a caller learns about a run.
type Result struct {
	SeriesID  int64   `json:"series_id"`
	Success   bool    `json:"success"`
	Outcome   Outcome `json:"outcome"`
	Message   string  `json:"message"`
	Err       error   `json:"-"`
	Error     string  `json:"error,omitempty"`
	PostID    string  `json:"post_id,omitempty"`
	FileIndex int     `json:"file_index"`
}

// Waiting reports a result that is not a failure and needs no action: the
// next scheduled cycle simply tries again.
func (r Result) Waiting() bool {
	switch r.Outcome {
	case OutcomeWaiting, OutcomeProcessing, OutcomeRateLimited, OutcomeCooldown, OutcomeInactive:
		return true
	}
	return false
}

// Fatal reports an invariant violation that must not be retried.
func (r Result) Fatal() bool {
	return r.Outcome == OutcomeFatal
}

func done(outcome Outcome, message string) *Result {
	return &Result{Success: true, Outcome: outcome, Message: message}
}

func stop(outcome Outcome, message string) *Result {
	return &Result{Outcome: outcome, Message: message}
}

func fail(outcome Outcome, message string, err error) *Result {
	r := &Result{Outcome: outcome, Message: message, Err: err}
	if err != nil {
		r.Error = err.Error()
	}
	return r
}
