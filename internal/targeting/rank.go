package targeting

import "sort"

// rank orders targets by distance, treating targets within tieBandKM of a
// group's closest member as tied. A group starts at the closest unplaced
// target; members rank by asset value descending, then distance, then ID.
//
// Anchoring each group on its closest member keeps the relation transitive,
// so the order is deterministic for a fixed input.
func rank(targets []Target, tieBandKM float64) {
	sort.SliceStable(targets, func(i, j int) bool {
		return lessByDistance(targets[i], targets[j])
	})

	for start := 0; start < len(targets); {
		anchor := targets[start].DistanceKM
		end := start + 1
		for end < len(targets) && targets[end].DistanceKM-anchor <= tieBandKM {
			end++
		}
		group := targets[start:end]
		sort.SliceStable(group, func(i, j int) bool {
			a, b := group[i], group[j]
			if a.Candidate.AssetValue != b.Candidate.AssetValue {
				return a.Candidate.AssetValue > b.Candidate.AssetValue
			}
			return lessByDistance(a, b)
		})
		start = end
	}
}

func lessByDistance(a, b Target) bool {
	if a.DistanceKM != b.DistanceKM {
		return a.DistanceKM < b.DistanceKM
	}
	return a.Candidate.ID < b.Candidate.ID
}
