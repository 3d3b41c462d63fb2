package harness

import (
	"github.com/roach88/rostersync/internal/engine"
	"github.com/roach88/rostersync/internal/ledger"
	"github.com/roach88/rostersync/internal/testutil"
)

// Call is one platform call, timed from the start of the run.
type Call struct {
	Op     string `json:"op"`
	UserID int64  `json:"user_id,omitempty"`
	At     string `json:"at"`
}

// Trace is everything the engine did to the outside world, per channel.
// Each channel is in the order the engine issued it.
type Trace struct {
	Calls         []Call                      `json:"calls"`
	Patches       [][]testutil.Row            `json:"patches"`
	Notifications map[string][]map[string]any `json:"notifications"`
	Errors        []string                    `json:"errors"`
	Ledger        ledger.Snapshot             `json:"ledger"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool `json:"pass"`

	Trace Trace `json:"trace"`

	// Errors contains assertion failure messages.
	Errors []string `json:"errors,omitempty"`

	// Rows is the final table content keyed by record id.
	Rows map[string]map[string]any `json:"rows"`

	// Reports holds every cycle report, in order.
	Reports []engine.CycleReport `json:"-"`

	// calls keeps the raw platform calls for timing assertions.
	calls []testutil.PlatformCall
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass: true,
		Trace: Trace{
			Calls:         []Call{},
			Patches:       [][]testutil.Row{},
			Notifications: map[string][]map[string]any{},
			Errors:        []string{},
			Ledger:        ledger.Snapshot{},
		},
		Errors: []string{},
		Rows:   map[string]map[string]any{},
	}
}

// AddError adds an assertion failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
