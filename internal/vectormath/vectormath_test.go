package vectormath

import (
	"math"
	"testing"
)

func TestCosineSimilarity(t *testing.T) {
	a := []float64{1, 0, 0}
	b := []float64{0, 1, 0}

	if sim := CosineSimilarity(a, a); math.Abs(sim-1) > 1e-12 {
		t.Errorf("identical vectors: got %f, want 1", sim)
	}
	if sim := CosineSimilarity(a, b); math.Abs(sim) > 1e-12 {
		t.Errorf("orthogonal vectors: got %f, want 0", sim)
	}
	if sim := CosineSimilarity(a, []float64{-1, 0, 0}); math.Abs(sim+1) > 1e-12 {
		t.Errorf("opposite vectors: got %f, want -1", sim)
	}
	if sim := CosineSimilarity(a, []float64{0, 0}); sim != 0 {
		t.Errorf("mismatched dims: got %f, want 0", sim)
	}
	if sim := CosineSimilarity(a, []float64{0, 0, 0}); sim != 0 {
		t.Errorf("zero vector: got %f, want 0", sim)
	}
}

func TestMean(t *testing.T) {
	got := Mean([][]float64{{1, 2}, {3, 4}})
	want := []float64{2, 3}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Mean = %v, want %v", got, want)
		}
	}
	if Mean(nil) != nil {
		t.Error("Mean(nil) should be nil")
	}
}

func TestArgmaxSimilarity(t *testing.T) {
	centroids := [][]float64{{1, 0}, {0, 1}}
	rows := [][]float64{{0.9, 0.1}, {0.2, 0.8}, {1, 0}}

	got := ArgmaxSimilarity(rows, centroids)
	want := []int{0, 1, 0}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ArgmaxSimilarity = %v, want %v", got, want)
		}
	}
}
