package billing

import (
	"fmt"
	"slices"
)

// transitions lists the statuses reachable from each status. An update may
// always keep the current status. Nothing transitions back to none, and
// pending is unreachable from an entitled status so a checkout racing an
// activation can never demote the user.
var transitions = map[Status][]Status{
	StatusNone:      {StatusPending, StatusActive, StatusCanceling, StatusInactive},
	StatusPending:   {StatusPending, StatusActive, StatusCanceling, StatusInactive},
	StatusActive:    {StatusActive, StatusCanceling, StatusInactive},
	StatusCanceling: {StatusCanceling, StatusActive, StatusInactive},
	StatusInactive:  {StatusInactive, StatusPending, StatusActive, StatusCanceling},
}

// CanTransition reports whether a record in status from may move to status to.
func CanTransition(from, to Status) bool {
	return slices.Contains(transitions[from], to)
}

func checkTransition(from, to Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// Guard is an extra precondition evaluated against the current record inside
// the engine's atomic step. A non-nil error aborts the write.
type Guard func(current Record, next Fields) error

// BoundSubscriptionGuard rejects updates that would end access on the basis of
// a subscription other than the one currently bound to the user, for example a
// late deletion of a subscription the user already replaced.
func BoundSubscriptionGuard(subscriptionID string) Guard {
	return func(current Record, next Fields) error {
		if next.Status.Entitled() {
			return nil
		}
		switch current.Status {
		case StatusNone, StatusInactive:
			return nil
		case StatusPending:
			return fmt.Errorf("%w: %s while checkout is pending", ErrEventSuperseded, subscriptionID)
		}
		if current.RemoteSubscriptionID != subscriptionID {
			return fmt.Errorf("%w: %s, bound %s", ErrEventSuperseded, subscriptionID, current.RemoteSubscriptionID)
		}
		return nil
	}
}
