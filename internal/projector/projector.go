// Package projector reduces embedding dimensionality with principal
// component analysis. The topic stage fits a 50-component model per slice;
// a separate 2-component model fitted on the consolidated topic centroids
// places clusters and documents on the map. Components are found one at a
// time by power iteration with deflation, so the full covariance matrix is
// never materialized.
package projector

import (
	"fmt"
	"math"
	"math/rand"

	"clustertalk/internal/artifact"
)

const (
	maxIterations = 200
	tolerance     = 1e-7

	// seed fixes the power-iteration start vectors so repeated fits on the
	// same data produce the same axes.
	seed = 42
)

// PCA is a fitted projection: mean vector plus orthonormal components.
type PCA struct {
	Mean       []float64   `json:"mean"`
	Components [][]float64 `json:"components"`
}

// Fit computes the top dims principal components of rows. It requires at
// least two rows; dims is clamped to the input dimensionality.
func Fit(rows [][]float64, dims int) (*PCA, error) {
	if len(rows) < 2 {
		return nil, fmt.Errorf("pca needs at least 2 rows, got %d", len(rows))
	}
	width := len(rows[0])
	for i, row := range rows {
		if len(row) != width {
			return nil, fmt.Errorf("row %d has dimension %d, want %d", i, len(row), width)
		}
	}
	if dims > width {
		dims = width
	}
	if dims < 1 {
		return nil, fmt.Errorf("pca needs at least 1 component, got %d", dims)
	}

	mean := make([]float64, width)
	for _, row := range rows {
		for j, v := range row {
			mean[j] += v
		}
	}
	for j := range mean {
		mean[j] /= float64(len(rows))
	}

	// Centered working copy; deflation subtracts each found component.
	centered := make([][]float64, len(rows))
	for i, row := range rows {
		centered[i] = make([]float64, width)
		for j, v := range row {
			centered[i][j] = v - mean[j]
		}
	}

	rng := rand.New(rand.NewSource(seed))
	components := make([][]float64, 0, dims)
	for k := 0; k < dims; k++ {
		component, ok := powerIteration(centered, rng)
		if !ok {
			// Remaining variance is numerically zero; stop early.
			break
		}
		components = append(components, component)
		deflate(centered, component)
	}
	if len(components) == 0 {
		return nil, fmt.Errorf("pca found no components: input has no variance")
	}
	return &PCA{Mean: mean, Components: components}, nil
}

// Transform projects rows onto the fitted components.
func (p *PCA) Transform(rows [][]float64) ([][]float64, error) {
	out := make([][]float64, len(rows))
	for i, row := range rows {
		if len(row) != len(p.Mean) {
			return nil, fmt.Errorf("row %d has dimension %d, want %d", i, len(row), len(p.Mean))
		}
		projected := make([]float64, len(p.Components))
		for k, component := range p.Components {
			sum := 0.0
			for j, v := range row {
				sum += (v - p.Mean[j]) * component[j]
			}
			projected[k] = sum
		}
		out[i] = projected
	}
	return out, nil
}

// TransformOne projects a single vector.
func (p *PCA) TransformOne(row []float64) ([]float64, error) {
	out, err := p.Transform([][]float64{row})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// Dims returns the number of fitted components.
func (p *PCA) Dims() int { return len(p.Components) }

// Save persists the model as a JSON artifact.
func (p *PCA) Save(store *artifact.Store, name string) error {
	return store.SaveJSON(name, p)
}

// Load reads a previously saved model.
func Load(store *artifact.Store, name string) (*PCA, error) {
	var p PCA
	if err := store.LoadJSON(name, &p); err != nil {
		return nil, fmt.Errorf("loading projector %s: %w", name, err)
	}
	if len(p.Components) == 0 {
		return nil, fmt.Errorf("projector %s has no components", name)
	}
	return &p, nil
}

// powerIteration finds the dominant eigenvector of centered's covariance.
// Returns false when the data has no remaining variance.
func powerIteration(centered [][]float64, rng *rand.Rand) ([]float64, bool) {
	width := len(centered[0])
	v := make([]float64, width)
	for j := range v {
		v[j] = rng.NormFloat64()
	}
	if !normalize(v) {
		return nil, false
	}

	prev := make([]float64, width)
	scores := make([]float64, len(centered))
	for iter := 0; iter < maxIterations; iter++ {
		copy(prev, v)

		// v <- X^T X v without forming X^T X.
		for i, row := range centered {
			sum := 0.0
			for j, x := range row {
				sum += x * v[j]
			}
			scores[i] = sum
		}
		for j := range v {
			v[j] = 0
		}
		for i, row := range centered {
			s := scores[i]
			for j, x := range row {
				v[j] += s * x
			}
		}
		if !normalize(v) {
			return nil, false
		}

		delta := 0.0
		for j := range v {
			d := v[j] - prev[j]
			delta += d * d
		}
		if delta < tolerance {
			break
		}
	}
	return v, true
}

// deflate removes the component direction from every row.
func deflate(centered [][]float64, component []float64) {
	for _, row := range centered {
		sum := 0.0
		for j, x := range row {
			sum += x * component[j]
		}
		for j := range row {
			row[j] -= sum * component[j]
		}
	}
}

func normalize(v []float64) bool {
	sum := 0.0
	for _, x := range v {
		sum += x * x
	}
	norm := math.Sqrt(sum)
	if norm < 1e-12 {
		return false
	}
	for j := range v {
		v[j] /= norm
	}
	return true
}
