package record

import "fmt"

// Trigger names the event that moves a record from one status to another.
type Trigger string

const (
	// TriggerReceived: a submission with no active member sharing its identity
	// was acknowledged.
	TriggerReceived Trigger = "received"
	// TriggerDuplicate: an active member already holds the identity.
	TriggerDuplicate Trigger = "duplicate"
	// TriggerAdded: the actuator confirmed the add.
	TriggerAdded Trigger = "added"
	// TriggerInvited: direct add was impossible and the invite-fallback
	// notification was delivered.
	TriggerInvited Trigger = "invited"
	// TriggerInviteRejected: the invite-fallback endpoint answered with a
	// server error.
	TriggerInviteRejected Trigger = "invite_rejected"
	// TriggerRemoved: the actuator confirmed the removal.
	TriggerRemoved Trigger = "removed"
)

// Transition is one row of the lifecycle table.
type Transition struct {
	From    Status
	Trigger Trigger
	To      Status
}

// transitions is the complete lifecycle. approved and refused are entered by
// an external reviewer and therefore only appear as sources.
var transitions = []Transition{
	{StatusSubmitted, TriggerReceived, StatusPending},
	{StatusSubmitted, TriggerDuplicate, StatusDouble},
	{StatusApproved, TriggerAdded, StatusTelegram},
	{StatusApproved, TriggerDuplicate, StatusDouble},
	{StatusApproved, TriggerInvited, StatusInvited},
	{StatusApproved, TriggerInviteRejected, StatusBlocked},
	{StatusRefused, TriggerRemoved, StatusRemoved},
}

// Transitions returns a copy of the lifecycle table.
func Transitions() []Transition {
	out := make([]Transition, len(transitions))
	copy(out, transitions)
	return out
}

// InvalidTransitionError reports a trigger that is not declared for a status.
type InvalidTransitionError struct {
	From    Status
	Trigger Trigger
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("no transition from %s on %s", e.From, e.Trigger)
}

// Next returns the status reached from `from` when `trig` fires.
func Next(from Status, trig Trigger) (Status, error) {
	for _, t := range transitions {
		if t.From == from && t.Trigger == trig {
			return t.To, nil
		}
	}
	return "", &InvalidTransitionError{From: from, Trigger: trig}
}

// Terminal reports whether no declared transition leaves s.
func Terminal(s Status) bool {
	for _, t := range transitions {
		if t.From == s {
			return false
		}
	}
	return true
}
