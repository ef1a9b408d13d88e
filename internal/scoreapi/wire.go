package scoreapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/JakeFAU/curator-discovery/internal/curator"
)

type followersResponse struct {
	Success      bool             `json:"success"`
	Total        flexNumber       `json:"total"`
	Page         int              `json:"page"`
	Size         int              `json:"size"`
	Pages        int              `json:"pages"`
	TopFollowers []followerRecord `json:"top_followers"`
}

type followerRecord struct {
	ID             flexString     `json:"twitter_id"`
	Username       string         `json:"username"`
	Name           string         `json:"name"`
	Description    string         `json:"description"`
	Score          flexNumber     `json:"twitter_score"`
	FollowersCount flexNumber     `json:"followers_count"`
	ProfileImage   string         `json:"profile_image"`
	Tags           []tagWire      `json:"tags"`
	Categories     []categoryWire `json:"categories"`
	SubscribedAt   string         `json:"subscribed_at"`
}

type categoryWire struct {
	ID   flexNumber `json:"id"`
	Name string     `json:"name"`
}

func (f followerRecord) toCurator(seedID string) curator.DiscoveredCurator {
	tags := make([]string, 0, len(f.Tags))
	for _, t := range f.Tags {
		if t != "" {
			tags = append(tags, string(t))
		}
	}
	cats := make([]curator.Category, 0, len(f.Categories))
	for _, c := range f.Categories {
		cats = append(cats, curator.Category{ID: int64(c.ID), Name: c.Name})
	}
	return curator.DiscoveredCurator{
		ID:              string(f.ID),
		Handle:          f.Username,
		DisplayName:     f.Name,
		Description:     f.Description,
		ProfileImageURL: f.ProfileImage,
		Tags:            tags,
		Categories:      cats,
		Score:           float64(f.Score),
		FollowersCount:  int64(f.FollowersCount),
		SubscribedAt:    parseTimestamp(f.SubscribedAt),
		DiscoveredVia:   seedID,
	}
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseTimestamp returns the zero time for empty or unrecognized values.
func parseTimestamp(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC()
		}
	}
	return time.Time{}
}

// flexString accepts both JSON strings and numbers (ids are sometimes numeric).
type flexString string

func (s *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return fmt.Errorf("decode string: %w", err)
		}
		*s = flexString(str)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return fmt.Errorf("decode numeric string: %w", err)
	}
	*s = flexString(num.String())
	return nil
}

// tagWire accepts a bare string/number or an object carrying a name.
type tagWire string

func (t *tagWire) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		var obj struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return fmt.Errorf("decode tag object: %w", err)
		}
		*t = tagWire(obj.Name)
		return nil
	}
	var s flexString
	if err := s.UnmarshalJSON(data); err != nil {
		return err
	}
	*t = tagWire(s)
	return nil
}

// flexNumber accepts numbers, numeric strings, and null.
type flexNumber float64

func (n *flexNumber) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) || bytes.Equal(data, []byte(`""`)) {
		*n = 0
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return fmt.Errorf("decode number string: %w", err)
		}
		data = []byte(str)
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("decode number: %w", err)
	}
	*n = flexNumber(f)
	return nil
}
