package curator

import "fmt"

// OutcomeKind tags the variant held by a PageOutcome.
type OutcomeKind int

// Supported page outcomes.
const (
	OutcomeFailed OutcomeKind = iota
	OutcomeData
	OutcomeRateLimited
)

// String implements fmt.Stringer for logs and metric labels.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeData:
		return "data"
	case OutcomeRateLimited:
		return "rate_limited"
	case OutcomeFailed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(k))
	}
}

// PageOutcome is the classified result of one follower-page request.
// Records, TotalPages, AggregateTotal, Raw and Dropped are only set for OutcomeData;
// Dropped counts upstream records discarded for lacking an ID. Err is only
// set for OutcomeFailed.
type PageOutcome struct {
	Kind           OutcomeKind
	Records        []DiscoveredCurator
	TotalPages     int
	AggregateTotal int64
	StatusCode     int
	Raw            []byte
	Dropped        int
	Err            error
}

// DataOutcome builds a successful outcome.
func DataOutcome(records []DiscoveredCurator, totalPages int, aggregate int64) PageOutcome {
	return PageOutcome{
		Kind:           OutcomeData,
		Records:        records,
		TotalPages:     totalPages,
		AggregateTotal: aggregate,
	}
}

// RateLimitedOutcome builds a throttled outcome.
func RateLimitedOutcome() PageOutcome {
	return PageOutcome{Kind: OutcomeRateLimited}
}

// FailedOutcome builds a hard-failure outcome.
func FailedOutcome(err error) PageOutcome {
	return PageOutcome{Kind: OutcomeFailed, Err: err}
}
