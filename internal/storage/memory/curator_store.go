package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/curator-discovery/internal/curator"
)

// CuratorStore is an in-memory curator.Store and curator.Reader for development/testing.
type CuratorStore struct {
	mu        sync.RWMutex
	seedOrder []string
	seeds     map[string]curator.SeedCurator
	curators  map[string]curator.DiscoveredCurator
	now       func() time.Time
}

// NewCuratorStore constructs an empty CuratorStore.
func NewCuratorStore() *CuratorStore {
	return &CuratorStore{
		seeds:    make(map[string]curator.SeedCurator),
		curators: make(map[string]curator.DiscoveredCurator),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// UpsertSeeds inserts new seeds in the given order; existing rows only get their handle refreshed.
func (s *CuratorStore) UpsertSeeds(_ context.Context, seeds []curator.SeedCurator) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, seed := range seeds {
		if seed.ID == "" {
			return errors.New("seed id is required")
		}
		existing, ok := s.seeds[seed.ID]
		if ok {
			if seed.Handle != "" {
				existing.Handle = seed.Handle
			}
			s.seeds[seed.ID] = existing
			continue
		}
		s.seedOrder = append(s.seedOrder, seed.ID)
		s.seeds[seed.ID] = seed
	}
	return nil
}

// ListUnprocessedSeeds returns unprocessed seeds in insertion order.
func (s *CuratorStore) ListUnprocessedSeeds(_ context.Context) ([]curator.SeedCurator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]curator.SeedCurator, 0, len(s.seedOrder))
	for _, id := range s.seedOrder {
		if seed := s.seeds[id]; !seed.Processed {
			out = append(out, seed)
		}
	}
	return out, nil
}

// MarkSeedProcessed flips the processed flag.
func (s *CuratorStore) MarkSeedProcessed(_ context.Context, seedID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	seed, ok := s.seeds[seedID]
	if !ok {
		return curator.ErrNotFound
	}
	ts := at
	seed.Processed = true
	seed.ProcessedAt = &ts
	s.seeds[seedID] = seed
	return nil
}

// UpsertCurator inserts or overwrites the record keyed on its ID.
func (s *CuratorStore) UpsertCurator(_ context.Context, rec curator.DiscoveredCurator) error {
	if rec.ID == "" {
		return errors.New("curator id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := rec.Clone()
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = s.now()
	}
	s.curators[rec.ID] = cp
	return nil
}

// ListSeeds returns every seed in insertion order.
func (s *CuratorStore) ListSeeds(_ context.Context) ([]curator.SeedCurator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]curator.SeedCurator, 0, len(s.seedOrder))
	for _, id := range s.seedOrder {
		out = append(out, s.seeds[id])
	}
	return out, nil
}

// ListCurators returns curators ordered by score descending, then ID.
func (s *CuratorStore) ListCurators(_ context.Context, filter curator.CuratorFilter) ([]curator.DiscoveredCurator, error) {
	s.mu.RLock()
	out := make([]curator.DiscoveredCurator, 0, len(s.curators))
	for _, rec := range s.curators {
		if filter.MinScore > 0 && rec.Score < filter.MinScore {
			continue
		}
		if filter.Category != "" && !rec.HasCategory(filter.Category) {
			continue
		}
		out = append(out, rec.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return []curator.DiscoveredCurator{}, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// GetCurator fetches one curator by ID.
func (s *CuratorStore) GetCurator(_ context.Context, id string) (curator.DiscoveredCurator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.curators[id]
	if !ok {
		return curator.DiscoveredCurator{}, curator.ErrNotFound
	}
	return rec.Clone(), nil
}

// Summary reports store-wide counts.
func (s *CuratorStore) Summary(_ context.Context) (curator.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sum := curator.Summary{
		Seeds:      len(s.seeds),
		Discovered: len(s.curators),
	}
	for _, seed := range s.seeds {
		if seed.Processed {
			sum.ProcessedSeeds++
		}
	}
	sum.DiscoveredBeyondSeeds = sum.Discovered - sum.Seeds
	return sum, nil
}
