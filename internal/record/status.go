package record

import "fmt"

// Status is the lifecycle state stored in a record's status field.
type Status string

const (
	StatusSubmitted Status = "submitted"
	StatusPending   Status = "pending"
	StatusDouble    Status = "double"
	StatusApproved  Status = "approved"
	StatusRefused   Status = "refused"
	StatusTelegram  Status = "telegram"
	StatusRemoved   Status = "removed"
	StatusInvited   Status = "invited"
	StatusBlocked   Status = "blocked"
)

var allStatuses = []Status{
	StatusSubmitted,
	StatusPending,
	StatusDouble,
	StatusApproved,
	StatusRefused,
	StatusTelegram,
	StatusRemoved,
	StatusInvited,
	StatusBlocked,
}

// Statuses returns every known status in lifecycle order.
func Statuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	for _, known := range allStatuses {
		if s == known {
			return true
		}
	}
	return false
}

func (s Status) String() string {
	return string(s)
}

// ParseStatus converts a raw status value into a Status.
// Unknown values are rejected so a typo in the table never routes a record.
func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if !s.Valid() {
		return "", fmt.Errorf("unknown status %q", raw)
	}
	return s, nil
}
