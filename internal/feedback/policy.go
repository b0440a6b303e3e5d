package feedback

// Default trigger thresholds.
const (
	DefaultMinPending      = 3
	DefaultRatingThreshold = 3.0
)

// Policy decides when pending feedback should be folded into a new prompt.
type Policy struct {
	MinPending      int
	RatingThreshold float64
	// AverageWindow limits the average to the newest pending records; zero
	// uses all of them.
	AverageWindow int
}

// DefaultPolicy returns the policy with default thresholds.
func DefaultPolicy() Policy {
	return Policy{MinPending: DefaultMinPending, RatingThreshold: DefaultRatingThreshold}
}

// ShouldTrigger fires when enough feedback is pending, or when any is pending
// and its average rating is below the threshold.
func (p Policy) ShouldTrigger(pending int, avg float64) bool {
	if pending <= 0 {
		return false
	}
	if pending >= p.MinPending {
		return true
	}
	return avg < p.RatingThreshold
}

// Decision is a policy evaluation against a store snapshot.
type Decision struct {
	Pending    int     `json:"pending"`
	Average    float64 `json:"average"`
	HasAverage bool    `json:"has_average"`
	Fire       bool    `json:"fire"`
}

// Evaluate applies the policy to the store's current pending records.
func (p Policy) Evaluate(s *Store) Decision {
	pending, avg, ok := s.Snapshot(p.AverageWindow)
	return Decision{
		Pending:    len(pending),
		Average:    avg,
		HasAverage: ok,
		Fire:       p.ShouldTrigger(len(pending), avg),
	}
}
