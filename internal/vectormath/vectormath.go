// Package vectormath holds the dense-vector helpers shared by the topic,
// hierarchy, indexing and retrieval stages.
package vectormath

import "math"

// CosineSimilarity computes the cosine similarity between two vectors.
// Mismatched or zero vectors yield 0. The result is clamped to [-1, 1]
// to absorb floating point error.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += a[i] * b[i]
		magA += a[i] * a[i]
		magB += b[i] * b[i]
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(magA) * math.Sqrt(magB))
	if sim > 1 {
		sim = 1
	} else if sim < -1 {
		sim = -1
	}
	return sim
}

// CosineDistance is 1 - CosineSimilarity, in [0, 2].
func CosineDistance(a, b []float64) float64 {
	return 1 - CosineSimilarity(a, b)
}

// Mean returns the unweighted element-wise mean of the given vectors.
// Returns nil for empty input.
func Mean(vectors [][]float64) []float64 {
	if len(vectors) == 0 {
		return nil
	}
	out := make([]float64, len(vectors[0]))
	for _, v := range vectors {
		for i := range v {
			out[i] += v[i]
		}
	}
	n := float64(len(vectors))
	for i := range out {
		out[i] /= n
	}
	return out
}

// MidPoint returns the element-wise mean of exactly two vectors.
func MidPoint(a, b []float64) []float64 {
	out := make([]float64, len(a))
	for i := range a {
		out[i] = (a[i] + b[i]) / 2
	}
	return out
}

// ArgmaxSimilarity returns, for each row, the index of the most similar
// centroid by cosine similarity. Centroids must be non-empty.
func ArgmaxSimilarity(rows, centroids [][]float64) []int {
	out := make([]int, len(rows))
	for i, row := range rows {
		best, bestSim := 0, math.Inf(-1)
		for j, c := range centroids {
			if sim := CosineSimilarity(row, c); sim > bestSim {
				best, bestSim = j, sim
			}
		}
		out[i] = best
	}
	return out
}
