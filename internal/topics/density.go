package topics

import (
	"sort"

	"clustertalk/internal/vectormath"
)

// Outlier is the topic id assigned to points that belong to no cluster.
const Outlier = -1

// clusterDensity groups rows by density over cosine distance. minSize is
// both the core-point neighbor count and the minimum cluster size; smaller
// groups are dissolved into outliers. The neighborhood radius is derived
// from the data: the median distance to each point's minSize-th neighbor.
func clusterDensity(rows [][]float64, minSize int) []int {
	n := len(rows)
	assignments := make([]int, n)
	for i := range assignments {
		assignments[i] = Outlier
	}
	if n < minSize {
		return assignments
	}

	dist := distanceMatrix(rows)
	eps := neighborRadius(dist, minSize)

	neighbors := make([][]int, n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i != j && dist[i][j] <= eps {
				neighbors[i] = append(neighbors[i], j)
			}
		}
	}

	// Standard density expansion: grow each cluster from an unvisited core
	// point through density-reachable neighbors.
	visited := make([]bool, n)
	next := 0
	for i := 0; i < n; i++ {
		if visited[i] || len(neighbors[i]) < minSize-1 {
			continue
		}
		members := expand(i, neighbors, visited, assignments, next, minSize)
		if members < minSize {
			// Too small to stand as a topic; dissolve it.
			for j := range assignments {
				if assignments[j] == next {
					assignments[j] = Outlier
				}
			}
			continue
		}
		next++
	}
	return assignments
}

func expand(seed int, neighbors [][]int, visited []bool, assignments []int, cluster, minSize int) int {
	queue := []int{seed}
	visited[seed] = true
	assignments[seed] = cluster
	members := 1

	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		if len(neighbors[p]) < minSize-1 {
			continue
		}
		for _, q := range neighbors[p] {
			if assignments[q] == Outlier {
				assignments[q] = cluster
				members++
			}
			if !visited[q] {
				visited[q] = true
				queue = append(queue, q)
			}
		}
	}
	return members
}

func distanceMatrix(rows [][]float64) [][]float64 {
	n := len(rows)
	dist := make([][]float64, n)
	for i := range dist {
		dist[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d := vectormath.CosineDistance(rows[i], rows[j])
			dist[i][j] = d
			dist[j][i] = d
		}
	}
	return dist
}

// neighborRadius returns the median distance to the (minSize-1)-th nearest
// neighbor across all points.
func neighborRadius(dist [][]float64, minSize int) float64 {
	n := len(dist)
	k := minSize - 1
	if k < 1 {
		k = 1
	}
	kth := make([]float64, 0, n)
	row := make([]float64, 0, n-1)
	for i := 0; i < n; i++ {
		row = row[:0]
		for j := 0; j < n; j++ {
			if i != j {
				row = append(row, dist[i][j])
			}
		}
		sort.Float64s(row)
		idx := k - 1
		if idx >= len(row) {
			idx = len(row) - 1
		}
		kth = append(kth, row[idx])
	}
	sort.Float64s(kth)
	return kth[len(kth)/2]
}
