package billing

// Project maps a provider snapshot to record fields. It is pure: the same
// snapshot always yields the same fields.
//
//	nil snapshot               -> inactive, no subscription binding
//	live, not cancelling       -> active
//	live, cancel at period end -> canceling
func Project(s *Snapshot) Fields {
	if s == nil {
		return Fields{Status: StatusInactive}
	}

	end := s.CurrentPeriodEnd.UTC()
	f := Fields{
		Status:               StatusActive,
		RemoteSubscriptionID: s.SubscriptionID,
		CurrentPeriodEnd:     &end,
		RemoteCustomerID:     s.CustomerID,
	}
	if s.CurrentPeriodEnd.IsZero() {
		f.CurrentPeriodEnd = nil
	}
	if s.CancelAtPeriodEnd {
		f.Status = StatusCanceling
		f.CancelAtPeriodEnd = true
	}
	return f
}
