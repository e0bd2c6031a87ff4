package storage

// Matches reports whether a decision record satisfies the filter's field
// criteria. Limit and Offset are applied by the backends after matching.
func (f DecisionFilter) Matches(rec DecisionRecord) bool {
	if f.App != "" && rec.App != f.App {
		return false
	}
	if f.Reason != "" && rec.Reason != f.Reason {
		return false
	}
	if f.StartTime != nil && rec.Timestamp.Before(*f.StartTime) {
		return false
	}
	if f.EndTime != nil && rec.Timestamp.After(*f.EndTime) {
		return false
	}
	return true
}
