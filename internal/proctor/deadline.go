package proctor

import "time"

// EffectiveDeadline resolves the single deadline used for overdue checks.
// A hard lock time always wins over a soft due date (quiz cutoffs take
// precedence over essay-style due dates). Returns nil when neither is set.
// openAt does not participate in the deadline; it only gates opening.
func EffectiveDeadline(openAt, dueDate, lockAt *time.Time) *time.Time {
	_ = openAt
	if lockAt != nil {
		return lockAt
	}
	return dueDate
}

// IsOverdue reports whether the effective deadline has passed. An attempt
// with no deadline is never overdue.
func IsOverdue(openAt, dueDate, lockAt *time.Time, now time.Time) bool {
	deadline := EffectiveDeadline(openAt, dueDate, lockAt)
	if deadline == nil {
		return false
	}
	return deadline.Before(now)
}
