package automation

import "github.com/JakeFAU/curator-discovery/internal/curator"

// Prioritize moves seeds named in priority to the front, in priority order.
// IDs that are absent are ignored; every other seed keeps its original order.
func Prioritize(seeds []curator.SeedCurator, priority []string) []curator.SeedCurator {
	if len(priority) == 0 || len(seeds) == 0 {
		return append([]curator.SeedCurator(nil), seeds...)
	}

	index := make(map[string]int, len(seeds))
	for i, s := range seeds {
		if _, dup := index[s.ID]; !dup {
			index[s.ID] = i
		}
	}

	ordered := make([]curator.SeedCurator, 0, len(seeds))
	taken := make(map[int]struct{}, len(priority))
	for _, id := range priority {
		i, ok := index[id]
		if !ok {
			continue
		}
		if _, done := taken[i]; done {
			continue
		}
		taken[i] = struct{}{}
		ordered = append(ordered, seeds[i])
	}
	for i, s := range seeds {
		if _, done := taken[i]; done {
			continue
		}
		ordered = append(ordered, s)
	}
	return ordered
}
