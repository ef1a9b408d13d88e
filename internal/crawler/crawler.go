package crawler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/curator-discovery/internal/backoff"
	"github.com/JakeFAU/curator-discovery/internal/curator"
	"github.com/JakeFAU/curator-discovery/internal/metrics"
)

// Defaults applied when Config fields are left at zero.
const (
	DefaultPageSize       = 100
	DefaultInterPageDelay = 2 * time.Second
)

// ErrPageFailed wraps the cause of a hard page failure.
var ErrPageFailed = errors.New("follower page failed")

// Config holds the per-crawl knobs.
type Config struct {
	PageSize       int
	InterPageDelay time.Duration
	Backoff        backoff.Config
	// ArchivePrefix is prepended to raw page object paths.
	ArchivePrefix string
}

// PageHandler receives the records first seen on a page, in page order.
type PageHandler func(ctx context.Context, page int, records []curator.DiscoveredCurator)

// Request describes one seed crawl.
type Request struct {
	Seed   curator.SeedCurator
	RunID  string
	OnPage PageHandler
}

// Result is what a crawl accumulated. Err is nil only when the crawl reached
// its last page.
type Result struct {
	SeedID         string
	AggregateTotal *int64
	Discovered     []curator.DiscoveredCurator
	PagesFetched   int
	TotalPages     int
	RateLimitHits  int
	Complete       bool
	Err            error
}

// Crawler drives a PageFetcher for a single seed at a time.
type Crawler struct {
	cfg     Config
	fetcher curator.PageFetcher
	sleeper curator.Sleeper
	archive curator.BlobStore
	logger  *zap.Logger
}

// New constructs a Crawler. archive may be nil to skip raw page archival.
func New(
	cfg Config,
	fetcher curator.PageFetcher,
	sleeper curator.Sleeper,
	archive curator.BlobStore,
	logger *zap.Logger,
) *Crawler {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.InterPageDelay < 0 {
		cfg.InterPageDelay = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Crawler{
		cfg:     cfg,
		fetcher: fetcher,
		sleeper: sleeper,
		archive: archive,
		logger:  logger,
	}
}

// Crawl fetches pages 1..N for req.Seed, retrying rate-limited pages in place.
func (c *Crawler) Crawl(ctx context.Context, req Request) Result {
	seedID := req.Seed.ID
	res := Result{SeedID: seedID}
	log := c.logger.With(zap.String("seed_id", seedID), zap.String("handle", req.Seed.Handle))

	ctrl := backoff.New(c.cfg.Backoff)
	seen := make(map[string]struct{})
	page := 1

	for {
		if err := ctx.Err(); err != nil {
			res.Err = fmt.Errorf("crawl canceled before page %d: %w", page, err)
			return res
		}

		out := c.fetcher.FetchPage(ctx, seedID, page, c.cfg.PageSize)
		metrics.ObservePage(out.Kind.String())

		switch out.Kind {
		case curator.OutcomeData:
			ctrl.OnSuccess()
			res.PagesFetched++
			res.TotalPages = out.TotalPages
			if page == 1 {
				total := out.AggregateTotal
				res.AggregateTotal = &total
			}
			fresh := dedupe(out.Records, seen)
			res.Discovered = append(res.Discovered, fresh...)
			c.archivePage(ctx, log, req, page, out.Raw)
			if req.OnPage != nil {
				req.OnPage(ctx, page, fresh)
			}
			log.Debug("follower page fetched",
				zap.Int("page", page),
				zap.Int("total_pages", out.TotalPages),
				zap.Int("records", len(out.Records)),
				zap.Int("new_records", len(fresh)),
			)

			if page >= out.TotalPages {
				res.Complete = true
				return res
			}
			page++
			if err := c.sleep(ctx, c.cfg.InterPageDelay); err != nil {
				res.Err = fmt.Errorf("inter-page delay before page %d: %w", page, err)
				return res
			}

		case curator.OutcomeRateLimited:
			res.RateLimitHits++
			wait := ctrl.OnRateLimited()
			metrics.ObserveRateLimitWait(wait)
			log.Warn("follower page rate limited; backing off",
				zap.Int("page", page),
				zap.Int("attempt", ctrl.Attempts()),
				zap.Duration("wait", wait),
			)
			if err := c.sleep(ctx, wait); err != nil {
				res.Err = fmt.Errorf("backoff wait on page %d: %w", page, err)
				return res
			}

		default:
			cause := out.Err
			if cause == nil {
				cause = errors.New("unknown page outcome")
			}
			res.Err = fmt.Errorf("%w: page %d: %w", ErrPageFailed, page, cause)
			log.Error("follower page failed; abandoning seed",
				zap.Int("page", page),
				zap.Int("status_code", out.StatusCode),
				zap.Error(cause),
			)
			return res
		}
	}
}

func (c *Crawler) sleep(ctx context.Context, d time.Duration) error {
	if c.sleeper == nil {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("sleep canceled: %w", err)
		}
		return nil
	}
	if err := c.sleeper.Sleep(ctx, d); err != nil {
		return fmt.Errorf("sleep: %w", err)
	}
	return nil
}

func (c *Crawler) archivePage(ctx context.Context, log *zap.Logger, req Request, page int, raw []byte) {
	if c.archive == nil || len(raw) == 0 {
		return
	}
	objectPath := c.archivePath(req.Seed.ID, req.RunID, page)
	uri, err := c.archive.PutObject(ctx, objectPath, "application/json", bytes.NewReader(raw))
	if err != nil {
		log.Warn("archive follower page failed", zap.Int("page", page), zap.Error(err))
		return
	}
	log.Debug("follower page archived", zap.Int("page", page), zap.String("uri", uri))
}

func (c *Crawler) archivePath(seedID, runID string, page int) string {
	if runID == "" {
		runID = "adhoc"
	}
	name := fmt.Sprintf("page-%04d.json", page)
	prefix := strings.Trim(c.cfg.ArchivePrefix, "/")
	if prefix == "" {
		return path.Join(seedID, runID, name)
	}
	return path.Join(prefix, seedID, runID, name)
}

func dedupe(records []curator.DiscoveredCurator, seen map[string]struct{}) []curator.DiscoveredCurator {
	fresh := make([]curator.DiscoveredCurator, 0, len(records))
	for _, rec := range records {
		if _, dup := seen[rec.ID]; dup {
			continue
		}
		seen[rec.ID] = struct{}{}
		fresh = append(fresh, rec)
	}
	return fresh
}
