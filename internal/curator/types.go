// Package curator defines the core types shared across the discovery subsystems.
package curator

import (
	"errors"
	"time"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("curator record not found")

// SeedCurator is an account nominated as a crawl root.
type SeedCurator struct {
	ID          string     `json:"id"`
	Handle      string     `json:"handle"`
	Processed   bool       `json:"processed"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

// Category is an opaque label attached to a discovered curator by the scoring API.
type Category struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// DiscoveredCurator is a follower record surfaced while crawling a seed. Records are
// shared across seeds and keyed on ID.
type DiscoveredCurator struct {
	ID              string     `json:"id"`
	Handle          string     `json:"handle"`
	DisplayName     string     `json:"display_name"`
	Description     string     `json:"description,omitempty"`
	ProfileImageURL string     `json:"profile_image_url,omitempty"`
	Tags            []string   `json:"tags"`
	Categories      []Category `json:"categories"`
	Score           float64    `json:"score"`
	FollowersCount  int64      `json:"followers_count"`
	SubscribedAt    time.Time  `json:"subscribed_at"`
	// DiscoveredVia is the seed whose crawl last wrote this row.
	DiscoveredVia string    `json:"discovered_via,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// CuratorFilter narrows ListCurators results. Zero values mean "no filter".
type CuratorFilter struct {
	Limit    int
	Offset   int
	MinScore float64
	Category string
}

// Summary reports store-wide counts for the read surface.
type Summary struct {
	Seeds                 int `json:"seeds"`
	ProcessedSeeds        int `json:"processed_seeds"`
	Discovered            int `json:"discovered"`
	DiscoveredBeyondSeeds int `json:"discovered_beyond_seeds"`
}

// Clone returns a deep copy so callers can hand records across goroutines safely.
func (c DiscoveredCurator) Clone() DiscoveredCurator {
	cp := c
	if c.Tags != nil {
		cp.Tags = append([]string(nil), c.Tags...)
	}
	if c.Categories != nil {
		cp.Categories = append([]Category(nil), c.Categories...)
	}
	return cp
}

// HasCategory reports whether the record carries a category with the given name.
func (c DiscoveredCurator) HasCategory(name string) bool {
	for _, cat := range c.Categories {
		if cat.Name == name {
			return true
		}
	}
	return false
}
