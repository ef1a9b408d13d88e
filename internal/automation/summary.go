package automation

import "time"

// Run statuses reported in RunSummary.Status.
const (
	StatusCompleted = "completed"
	StatusCanceled  = "canceled"
	StatusFailed    = "failed"
)

// SeedReport captures what happened to one seed during a run.
type SeedReport struct {
	SeedID         string `json:"seed_id"`
	Handle         string `json:"handle"`
	PagesFetched   int    `json:"pages_fetched"`
	Discovered     int    `json:"discovered"`
	Upserted       int    `json:"upserted"`
	UpsertFailures int    `json:"upsert_failures"`
	RateLimitHits  int    `json:"rate_limit_hits"`
	AggregateTotal *int64 `json:"aggregate_total,omitempty"`
	Complete       bool   `json:"complete"`
	Processed      bool   `json:"processed"`
	Error          string `json:"error,omitempty"`
}

// RunSummary is kept as the last-run status and published when a run ends.
type RunSummary struct {
	RunID           string       `json:"run_id"`
	Status          string       `json:"status"`
	StartedAt       time.Time    `json:"started_at"`
	FinishedAt      time.Time    `json:"finished_at"`
	SeedsAttempted  int          `json:"seeds_attempted"`
	SeedsProcessed  int          `json:"seeds_processed"`
	SeedsFailed     int          `json:"seeds_failed"`
	RecordsUpserted int          `json:"records_upserted"`
	UpsertFailures  int          `json:"upsert_failures"`
	RateLimitHits   int          `json:"rate_limit_hits"`
	Seeds           []SeedReport `json:"seeds"`
	Error           string       `json:"error,omitempty"`
}

// Duration is the wall time between start and finish.
func (s RunSummary) Duration() time.Duration {
	if s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

func (s *RunSummary) add(r SeedReport) {
	s.Seeds = append(s.Seeds, r)
	s.SeedsAttempted++
	if r.Processed {
		s.SeedsProcessed++
	} else {
		s.SeedsFailed++
	}
	s.RecordsUpserted += r.Upserted
	s.UpsertFailures += r.UpsertFailures
	s.RateLimitHits += r.RateLimitHits
}
