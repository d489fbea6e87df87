package hierarchy

import (
	"clustertalk/internal/vectormath"
)

// Merge is one agglomeration step. Left and Right index either an input row
// (0..N-1) or an earlier merge result (N+k for merge k).
type Merge struct {
	Left  int `json:"left"`
	Right int `json:"right"`
}

// Linkage computes the average-linkage merge order of rows under cosine
// distance. The result has len(rows)-1 merges; merge k creates node
// len(rows)+k. Ties resolve to the lowest node indices, so the order is
// deterministic.
func Linkage(rows [][]float64) []Merge {
	n := len(rows)
	if n < 2 {
		return nil
	}

	// dist holds pairwise distances between active nodes, keyed by node
	// index. sizes drive the average-linkage update.
	dist := make(map[int]map[int]float64, 2*n)
	sizes := make(map[int]int, 2*n)
	for i := 0; i < n; i++ {
		dist[i] = make(map[int]float64, n)
		sizes[i] = 1
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d := vectormath.CosineDistance(rows[i], rows[j])
			dist[i][j] = d
			dist[j][i] = d
		}
	}

	active := make([]int, n)
	for i := range active {
		active[i] = i
	}

	merges := make([]Merge, 0, n-1)
	for next := n; len(active) > 1; next++ {
		bi, bj := -1, -1
		best := 0.0
		for a := 0; a < len(active); a++ {
			for b := a + 1; b < len(active); b++ {
				i, j := active[a], active[b]
				d := dist[i][j]
				if bi == -1 || d < best {
					best = d
					bi, bj = i, j
				}
			}
		}

		// Lance-Williams update for average linkage.
		dist[next] = make(map[int]float64, len(active))
		ni, nj := float64(sizes[bi]), float64(sizes[bj])
		for _, k := range active {
			if k == bi || k == bj {
				continue
			}
			d := (ni*dist[bi][k] + nj*dist[bj][k]) / (ni + nj)
			dist[next][k] = d
			dist[k][next] = d
		}
		sizes[next] = sizes[bi] + sizes[bj]

		remaining := make([]int, 0, len(active)-1)
		for _, k := range active {
			if k != bi && k != bj {
				remaining = append(remaining, k)
			}
		}
		active = append(remaining, next)

		delete(dist, bi)
		delete(dist, bj)
		merges = append(merges, Merge{Left: bi, Right: bj})
	}
	return merges
}
