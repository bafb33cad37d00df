package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario is a data-layer test scenario.
type Scenario struct {
	// Name uniquely identifies this scenario; it also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Tenant and User are the defaults for steps that do not set their own.
	Tenant string `yaml:"tenant"`
	User   string `yaml:"user,omitempty"`

	// ClockStep is how far the clock moves per reading. Zero freezes it,
	// which produces created_at ties. Nil means one second.
	ClockStep *time.Duration `yaml:"clock_step,omitempty"`

	// Idempotency overrides the coordinator configuration.
	Idempotency *IdempotencySettings `yaml:"idempotency,omitempty"`

	Steps      []Step      `yaml:"steps"`
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// IdempotencySettings overrides idempotency.Config fields.
type IdempotencySettings struct {
	TTL              *time.Duration `yaml:"ttl,omitempty"`
	Lease            *time.Duration `yaml:"lease,omitempty"`
	MaxResponseBytes *int           `yaml:"max_response_bytes,omitempty"`
	RedactHeaders    []string       `yaml:"redact_headers,omitempty"`
}

// Step is one operation.
type Step struct {
	Op string `yaml:"op"`

	// Tenant overrides Scenario.Tenant for this step.
	Tenant string `yaml:"tenant,omitempty"`
	// User overrides Scenario.User (reserve).
	User string `yaml:"user,omitempty"`

	// Table is the domain table (create, get, update, delete, list).
	Table string `yaml:"table,omitempty"`
	// As names the record or reservation the step produces.
	As string `yaml:"as,omitempty"`
	// Ref refers to an earlier As name.
	Ref string `yaml:"ref,omitempty"`
	// ID addresses a record directly (create: caller-chosen id).
	ID string `yaml:"id,omitempty"`

	Fields  map[string]any `yaml:"fields,omitempty"`
	Set     map[string]any `yaml:"set,omitempty"`
	Version int64          `yaml:"version,omitempty"`

	Limit   int      `yaml:"limit,omitempty"`
	Order   string   `yaml:"order,omitempty"`
	Cursor  string   `yaml:"cursor,omitempty"`
	Filters []Filter `yaml:"filters,omitempty"`

	Key     string            `yaml:"key,omitempty"`
	Method  string            `yaml:"method,omitempty"`
	Path    string            `yaml:"path,omitempty"`
	Body    string            `yaml:"body,omitempty"`
	Status  int               `yaml:"status,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	TTL     time.Duration     `yaml:"ttl,omitempty"`

	// Duration is the advance step's clock movement.
	Duration time.Duration `yaml:"duration,omitempty"`

	Expect *Expect `yaml:"expect,omitempty"`
}

// Filter is a list filter.
type Filter struct {
	Field string `yaml:"field"`
	Op    string `yaml:"op"`
	Value any    `yaml:"value,omitempty"`
}

// Expect checks a step outcome. Only the fields that are set are checked.
// Without an expect clause, any error fails the scenario.
type Expect struct {
	// Error is the expected error code, e.g. CONCURRENCY.
	Error  string `yaml:"error,omitempty"`
	Reason string `yaml:"reason,omitempty"`

	Version *int64         `yaml:"version,omitempty"`
	Fields  map[string]any `yaml:"fields,omitempty"`
	Found   *bool          `yaml:"found,omitempty"`
	Deleted *bool          `yaml:"deleted,omitempty"`

	Count   *int     `yaml:"count,omitempty"`
	HasMore *bool    `yaml:"has_more,omitempty"`
	IDs     []string `yaml:"ids,omitempty"`

	Owned     *bool   `yaml:"owned,omitempty"`
	Replay    *bool   `yaml:"replay,omitempty"`
	TookOver  *bool   `yaml:"took_over,omitempty"`
	Status    *int    `yaml:"status,omitempty"`
	Body      *string `yaml:"body,omitempty"`
	Truncated *bool   `yaml:"truncated,omitempty"`
	Purged    *int64  `yaml:"purged,omitempty"`
}

// Assertion validates the trace or final state.
type Assertion struct {
	// Type is trace_count, trace_order or final_state.
	Type string `yaml:"type"`

	// Op and Outcome select trace events (trace_count).
	Op      string `yaml:"op,omitempty"`
	Outcome string `yaml:"outcome,omitempty"`
	Count   int    `yaml:"count,omitempty"`

	// Ops is the expected order (trace_order).
	Ops []string `yaml:"ops,omitempty"`

	// Table, Ref and Where select one row (final_state). Ref resolves to
	// the record id; tenant_id is always the scenario tenant unless Where
	// sets it.
	Table  string         `yaml:"table,omitempty"`
	Ref    string         `yaml:"ref,omitempty"`
	Where  map[string]any `yaml:"where,omitempty"`
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceOrder = "trace_order"
	AssertTraceCount = "trace_count"
	AssertFinalState = "final_state"
)

// Step op constants.
const (
	OpCreate   = "create"
	OpGet      = "get"
	OpUpdate   = "update"
	OpDelete   = "delete"
	OpList     = "list"
	OpReserve  = "reserve"
	OpComplete = "complete"
	OpRelease  = "release"
	OpPurge    = "purge"
	OpAdvance  = "advance"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict decoding catches typos like "assertion:" vs "assertions:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Tenant == "" {
		return fmt.Errorf("tenant is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if s.ClockStep != nil && *s.ClockStep < 0 {
		return fmt.Errorf("clock_step must not be negative")
	}

	names := map[string]bool{}
	for i, step := range s.Steps {
		if err := validateStep(step, names); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
		if step.As != "" {
			names[step.As] = true
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(step Step, names map[string]bool) error {
	needTable := func() error {
		if step.Table == "" {
			return fmt.Errorf("%s: table is required", step.Op)
		}
		return nil
	}
	needRef := func() error {
		if step.Ref == "" && step.ID == "" {
			return fmt.Errorf("%s: ref or id is required", step.Op)
		}
		if step.Ref != "" && !names[step.Ref] {
			return fmt.Errorf("%s: ref %q is not defined by an earlier step", step.Op, step.Ref)
		}
		return nil
	}

	switch step.Op {
	case OpCreate:
		if err := needTable(); err != nil {
			return err
		}
		if step.Fields == nil {
			return fmt.Errorf("create: fields is required")
		}
	case OpGet, OpDelete:
		if err := needTable(); err != nil {
			return err
		}
		return needRef()
	case OpUpdate:
		if err := needTable(); err != nil {
			return err
		}
		return needRef()
	case OpList:
		return needTable()
	case OpReserve:
		if step.Key == "" {
			return fmt.Errorf("reserve: key is required")
		}
	case OpComplete, OpRelease:
		if step.Ref == "" || !names[step.Ref] {
			return fmt.Errorf("%s: ref must name an earlier reserve step", step.Op)
		}
	case OpPurge:
	case OpAdvance:
		if step.Duration <= 0 {
			return fmt.Errorf("advance: duration must be positive")
		}
	case "":
		return fmt.Errorf("op is required")
	default:
		return fmt.Errorf("unknown op %q", step.Op)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceOrder:
		if len(a.Ops) == 0 {
			return fmt.Errorf("assertions[%d]: ops list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		}
		if a.Ref == "" && len(a.Where) == 0 {
			return fmt.Errorf("assertions[%d]: ref or where is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
