package curator

import (
	"context"
	"io"
	"time"
)

// PageFetcher issues one paginated follower request against the scoring API.
type PageFetcher interface {
	FetchPage(ctx context.Context, seedID string, page, pageSize int) PageOutcome
}

// Store is the persistence gateway. Writes are idempotent upserts keyed on external IDs.
type Store interface {
	ListUnprocessedSeeds(ctx context.Context) ([]SeedCurator, error)
	MarkSeedProcessed(ctx context.Context, seedID string, at time.Time) error
	UpsertCurator(ctx context.Context, rec DiscoveredCurator) error
	// UpsertSeeds inserts seeds; rows that already exist keep their processed flag.
	UpsertSeeds(ctx context.Context, seeds []SeedCurator) error
}

// Reader is the read-only query surface over the store.
type Reader interface {
	ListSeeds(ctx context.Context) ([]SeedCurator, error)
	ListCurators(ctx context.Context, filter CuratorFilter) ([]DiscoveredCurator, error)
	GetCurator(ctx context.Context, id string) (DiscoveredCurator, error)
	Summary(ctx context.Context) (Summary, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes run notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// RunGuard grants at most one in-flight automation run at a time.
type RunGuard interface {
	// Acquire returns a release func, or an error when the guard is already held.
	// lost is closed if the guard is taken away before release; it is nil for
	// guards that cannot be lost.
	Acquire(ctx context.Context, owner string) (release func(), lost <-chan struct{}, err error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Sleeper blocks for d or until ctx is done, whichever comes first.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
