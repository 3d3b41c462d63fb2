package harness

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/roach88/rostersync/internal/ledger"
)

// AssertionError is returned when an assertion fails.
// It includes the platform calls to help debug the failure.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
	Calls    []Call
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Calls) > 0 {
		fmt.Fprintf(&buf, "\nPlatform calls:\n")
		for i, c := range e.Calls {
			fmt.Fprintf(&buf, "  [%d] %s %d at %s\n", i+1, c.Op, c.UserID, c.At)
		}
	}
	return buf.String()
}

// EvaluateAssertions checks every assertion against result and returns the
// failure messages, in assertion order.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var failures []string
	for i, a := range assertions {
		if err := evaluate(result, a); err != nil {
			failures = append(failures, fmt.Sprintf("assertion %d: %v", i, err))
		}
	}
	return failures
}

func evaluate(result *Result, a Assertion) error {
	switch a.Type {
	case AssertStatus:
		return assertStatus(result, a)
	case AssertField:
		return assertField(result, a)
	case AssertLedger:
		return assertLedger(result, a)
	case AssertCallCount:
		return assertCallCount(result, a)
	case AssertNotifyCount:
		return assertNotifyCount(result, a)
	case AssertErrors:
		return assertErrors(result, a)
	case AssertMinSpacing:
		return assertMinSpacing(result, a)
	default:
		return fmt.Errorf("unknown assertion type: %s", a.Type)
	}
}

func (r *Result) fail(a Assertion, expected, actual string) *AssertionError {
	return &AssertionError{Type: a.Type, Expected: expected, Actual: actual, Calls: r.Trace.Calls}
}

func assertStatus(result *Result, a Assertion) error {
	got := fmt.Sprint(result.Rows[a.Record]["status"])
	if got != a.Status {
		return result.fail(a, fmt.Sprintf("record %s status %s", a.Record, a.Status), got)
	}
	return nil
}

func assertField(result *Result, a Assertion) error {
	v, ok := result.Rows[a.Record][a.Field]
	want := fmt.Sprint(a.Value)
	if !ok {
		return result.fail(a, fmt.Sprintf("record %s %s=%s", a.Record, a.Field, want), "field not set")
	}
	if got := fmt.Sprint(v); got != want {
		return result.fail(a, fmt.Sprintf("record %s %s=%s", a.Record, a.Field, want), got)
	}
	return nil
}

// assertLedger compares sets; insertion order is not asserted.
func assertLedger(result *Result, a Assertion) error {
	got := slices.Clone(result.Trace.Ledger[ledger.ActionKind(a.Kind)])
	want := slices.Clone(a.Identities)
	sort.Strings(got)
	sort.Strings(want)
	if !slices.Equal(got, want) {
		return result.fail(a, fmt.Sprintf("%s = %v", a.Kind, want), fmt.Sprintf("%v", got))
	}
	return nil
}

func assertCallCount(result *Result, a Assertion) error {
	count := 0
	for _, c := range result.calls {
		if c.Op == a.Op {
			count++
		}
	}
	if count != a.Count {
		return result.fail(a, fmt.Sprintf("%d %s call(s)", a.Count, a.Op), fmt.Sprintf("%d", count))
	}
	return nil
}

func assertNotifyCount(result *Result, a Assertion) error {
	count := len(result.Trace.Notifications[a.Kind])
	if count != a.Count {
		return result.fail(a, fmt.Sprintf("%d %s notification(s)", a.Count, a.Kind), fmt.Sprintf("%d", count))
	}
	return nil
}

func assertErrors(result *Result, a Assertion) error {
	want := a.Codes
	if want == nil {
		want = []string{}
	}
	if !slices.Equal(result.Trace.Errors, want) {
		return result.fail(a, fmt.Sprintf("%v", want), fmt.Sprintf("%v", result.Trace.Errors))
	}
	return nil
}

func assertMinSpacing(result *Result, a Assertion) error {
	spacing, err := time.ParseDuration(a.Spacing)
	if err != nil {
		return err
	}
	var last time.Time
	seen := false
	for _, c := range result.calls {
		if !c.Mutating() {
			continue
		}
		if seen {
			if gap := c.At.Sub(last); gap < spacing {
				return result.fail(a, fmt.Sprintf("mutations at least %s apart", spacing),
					fmt.Sprintf("%s %d only %s after the previous mutation", c.Op, c.UserID, gap))
			}
		}
		last, seen = c.At, true
	}
	return nil
}
