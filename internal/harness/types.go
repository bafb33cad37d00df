package harness

// TraceEvent records one executed step.
//
// Result only holds strings, int64s, bools, nil, []any and map[string]any so
// the trace serializes with ir.MarshalCanonical.
type TraceEvent struct {
	Seq   int64  `json:"seq"`
	Op    string `json:"op"`
	Table string `json:"table,omitempty"`
	// Key is the idempotency key of reserve steps.
	Key string `json:"key,omitempty"`
	Ref string `json:"ref,omitempty"`
	// Outcome is "ok", "replay", "takeover", or the error code.
	Outcome string         `json:"outcome"`
	Reason  string         `json:"reason,omitempty"`
	Result  map[string]any `json:"result,omitempty"`
}

// Outcomes other than error codes.
const (
	OutcomeOK       = "ok"
	OutcomeReplay   = "replay"
	OutcomeTakeover = "takeover"
)

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if all expect clauses and assertions hold.
	Pass bool `json:"pass"`

	// Trace contains every executed step in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends ev with the next sequence number.
func (r *Result) AddTrace(ev TraceEvent) {
	ev.Seq = int64(len(r.Trace) + 1)
	r.Trace = append(r.Trace, ev)
}
