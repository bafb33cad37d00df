package harness

import (
	"fmt"
	"maps"
	"slices"

	"github.com/roach88/tenantcore/internal/errs"
)

// checkExpect compares a step outcome with its expect clause and returns one
// message per mismatch.
func (h *Harness) checkExpect(step Step, out outcome, err error) []string {
	exp := step.Expect
	if exp == nil {
		if err != nil {
			return []string{fmt.Sprintf("unexpected error: %v", err)}
		}
		return nil
	}

	if exp.Error != "" {
		switch {
		case err == nil:
			return []string{fmt.Sprintf("expected error %s, got success", exp.Error)}
		case string(errs.CodeOf(err)) != exp.Error:
			return []string{fmt.Sprintf("expected error %s, got %v", exp.Error, err)}
		case exp.Reason != "" && errs.ReasonOf(err) != exp.Reason:
			return []string{fmt.Sprintf("expected reason %s, got %s", exp.Reason, errs.ReasonOf(err))}
		}
		return nil
	}
	if err != nil {
		return []string{fmt.Sprintf("unexpected error: %v", err)}
	}

	var msgs []string
	fail := func(format string, args ...any) {
		msgs = append(msgs, fmt.Sprintf(format, args...))
	}

	if exp.Found != nil && (out.found == nil || *out.found != *exp.Found) {
		fail("expected found=%v", *exp.Found)
	}
	if exp.Deleted != nil && (out.deleted == nil || *out.deleted != *exp.Deleted) {
		fail("expected deleted=%v", *exp.Deleted)
	}
	if exp.Version != nil || len(exp.Fields) > 0 {
		if out.row == nil {
			fail("expected a record")
		} else {
			if exp.Version != nil && out.row.Version != *exp.Version {
				fail("expected version %d, got %d", *exp.Version, out.row.Version)
			}
			for _, k := range slices.Sorted(maps.Keys(exp.Fields)) {
				if got, ok := out.row.Fields[k]; !ok || !stateValuesEqual(exp.Fields[k], got) {
					fail("field %q: expected %v, got %v", k, exp.Fields[k], got)
				}
			}
		}
	}

	if exp.Count != nil && len(out.rows) != *exp.Count {
		fail("expected %d items, got %d", *exp.Count, len(out.rows))
	}
	if exp.HasMore != nil && (out.cursor != "") != *exp.HasMore {
		fail("expected has_more=%v", *exp.HasMore)
	}
	if exp.IDs != nil {
		got := make([]string, len(out.rows))
		for i, r := range out.rows {
			got[i] = h.refName(r.ID)
		}
		if !slices.Equal(got, exp.IDs) {
			fail("expected ids %v, got %v", exp.IDs, got)
		}
	}

	if exp.Owned != nil || exp.Replay != nil || exp.TookOver != nil {
		if out.res == nil {
			fail("expected a reservation")
		} else {
			if exp.Owned != nil && out.res.Owned != *exp.Owned {
				fail("expected owned=%v", *exp.Owned)
			}
			if exp.Replay != nil && (out.res.Replay != nil) != *exp.Replay {
				fail("expected replay=%v", *exp.Replay)
			}
			if exp.TookOver != nil && out.res.TookOver != *exp.TookOver {
				fail("expected took_over=%v", *exp.TookOver)
			}
		}
	}

	if exp.Status != nil || exp.Body != nil || exp.Truncated != nil {
		resp := out.stored
		if resp == nil && out.res != nil {
			resp = out.res.Replay
		}
		if resp == nil {
			fail("expected a response")
		} else {
			if exp.Status != nil && resp.StatusCode != *exp.Status {
				fail("expected status %d, got %d", *exp.Status, resp.StatusCode)
			}
			if exp.Body != nil && string(resp.Body) != *exp.Body {
				fail("expected body %q, got %q", *exp.Body, resp.Body)
			}
			if exp.Truncated != nil && resp.Truncated != *exp.Truncated {
				fail("expected truncated=%v", *exp.Truncated)
			}
		}
	}

	if exp.Purged != nil && (out.purged == nil || *out.purged != *exp.Purged) {
		fail("expected %d purged", *exp.Purged)
	}
	return msgs
}
