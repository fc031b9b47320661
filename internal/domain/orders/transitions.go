package orders

import "subscription-billing/internal/domain/apperr"

var transitions = map[Status][]Status{
	StatusPending: {StatusPaid, StatusCancelled, StatusExpired},
	StatusPaid:    {StatusRefunded},
}

// CanTransition reports whether from -> to is in the order state machine.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CheckTransition returns ErrInvalidStateTransition when from -> to is not allowed.
func CheckTransition(from, to Status) error {
	if CanTransition(from, to) {
		return nil
	}
	return apperr.ErrInvalidStateTransition.WithMessage("cannot move order from %s to %s", from, to)
}

// IsTerminal reports whether no transition leaves s.
func IsTerminal(s Status) bool {
	return len(transitions[s]) == 0
}
