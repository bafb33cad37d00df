package harness

import (
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/tenantcore/internal/ir"
)

// TraceSnapshot captures the complete trace for a scenario execution.
// All fields use canonical JSON serialization for deterministic comparison.
type TraceSnapshot struct {
	ScenarioName string       `json:"scenario_name"`
	Tenant       string       `json:"tenant"`
	Trace        []TraceEvent `json:"trace"`
}

// toCanonicalMap converts a TraceSnapshot to a map[string]any for canonical JSON serialization.
// This is required because ir.MarshalCanonical only handles IR types and primitives.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	traceList := make([]any, len(s.Trace))
	for i, ev := range s.Trace {
		m := map[string]any{
			"seq":     ev.Seq,
			"op":      ev.Op,
			"outcome": ev.Outcome,
		}
		if ev.Table != "" {
			m["table"] = ev.Table
		}
		if ev.Key != "" {
			m["key"] = ev.Key
		}
		if ev.Ref != "" {
			m["ref"] = ev.Ref
		}
		if ev.Reason != "" {
			m["reason"] = ev.Reason
		}
		if ev.Result != nil {
			m["result"] = ev.Result
		}
		traceList[i] = m
	}

	return map[string]any{
		"scenario_name": s.ScenarioName,
		"tenant":        s.Tenant,
		"trace":         traceList,
	}
}

// MarshalTrace returns the canonical JSON form of a scenario trace, the
// format golden files are stored in.
func MarshalTrace(scenario *Scenario, result *Result) ([]byte, error) {
	snapshot := TraceSnapshot{
		ScenarioName: scenario.Name,
		Tenant:       scenario.Tenant,
		Trace:        result.Trace,
	}
	return ir.MarshalCanonical(snapshot.toCanonicalMap())
}

// RunWithGolden executes a scenario and compares the trace against a golden file.
// The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if trace doesn't match golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares the given result's trace against a golden file.
// This is useful when you've already run a scenario and want to compare
// the result against a golden file without re-running.
func AssertGolden(t *testing.T, scenario *Scenario, result *Result) error {
	t.Helper()

	traceJSON, err := MarshalTrace(scenario, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, traceJSON)
	return nil
}
