// Package topics fits a topic model per date window over the chunk index
// and persists one slice artifact per window. Later stages consolidate the
// slices into a global topic set.
package topics

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"clustertalk/internal/artifact"
	"clustertalk/internal/core"
	"clustertalk/internal/logger"
	"clustertalk/internal/projector"
	"clustertalk/internal/store"
	"clustertalk/internal/vectormath"
)

const (
	// DefaultWindowDays is the slice width of the windowed fit.
	DefaultWindowDays = 15

	// ModelListFile tracks the artifact paths of all fitted slices.
	ModelListFile = "models.list"

	defaultScrollSize     = 500
	defaultMinClusterSize = 15
	defaultTopWords       = 10
	defaultReducedDims    = 50
	defaultDiversity      = 0.3
)

// Store is the slice of the document store the modeler reads.
type Store interface {
	SearchScroll(ctx context.Context, index string, body any, size int) (*store.Page, error)
	Scroll(ctx context.Context, scrollID string) (*store.Page, error)
	ClearScroll(ctx context.Context, scrollID string) error
}

// Window is one date range of the windowed fit, inclusive on both ends.
type Window struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Windows splits [start, end] into consecutive windows of deltaDays days.
// The last window is clamped to end.
func Windows(start, end time.Time, deltaDays int) []Window {
	if deltaDays < 1 {
		deltaDays = DefaultWindowDays
	}
	var windows []Window
	for current := start; !current.After(end); {
		windowEnd := current.AddDate(0, 0, deltaDays-1)
		if windowEnd.After(end) {
			windowEnd = end
		}
		windows = append(windows, Window{
			Start: current.Format("2006-01-02"),
			End:   windowEnd.Format("2006-01-02"),
		})
		current = windowEnd.AddDate(0, 0, 1)
	}
	return windows
}

// SliceTopic is one topic of a fitted slice.
type SliceTopic struct {
	ID       int              `json:"id"`
	Size     int              `json:"size"`
	Words    []core.WordScore `json:"words"`
	Centroid []float64        `json:"centroid"`
}

// DocumentInfo is one chunk's row in a slice's document table.
type DocumentInfo struct {
	DocumentID  string    `json:"DocumentID"`
	Document    string    `json:"Document"`
	Embedding   []float64 `json:"Embedding"`
	ArticleDate string    `json:"ArticleDate"`
	Title       string    `json:"Title"`
	Journal     string    `json:"Journal"`
	MeshTerms   []string  `json:"MeshTerms"`
	Chemicals   []string  `json:"Chemicals"`
	Authors     []string  `json:"Authors"`
	Topic       int       `json:"Topic"`
}

// Slice is the persisted artifact of one fitted window.
type Slice struct {
	Window    Window         `json:"window"`
	Topics    []SliceTopic   `json:"topics"`
	Documents []DocumentInfo `json:"documents"`
}

// Modeler fits one topic model per window.
type Modeler struct {
	DB         Store
	Artifacts  *artifact.Store
	ChunkIndex string

	ScrollSize     int
	MinClusterSize int
	TopWords       int
	ReducedDims    int
	Diversity      float64
}

// Run fits every window in [start, end] and appends each written artifact
// path to the model list. Windows without chunks are skipped.
func (m *Modeler) Run(ctx context.Context, start, end time.Time) error {
	for _, window := range Windows(start, end, DefaultWindowDays) {
		if err := m.FitWindow(ctx, window); err != nil {
			return fmt.Errorf("fitting window %s..%s: %w", window.Start, window.End, err)
		}
	}
	return nil
}

// FitWindow fits the model for one window and persists the slice artifact.
func (m *Modeler) FitWindow(ctx context.Context, window Window) error {
	docs, err := m.fetchWindow(ctx, window)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		logger.Info("no chunks in window, skipping", "start", window.Start, "end", window.End)
		return nil
	}

	slice := m.fit(window, docs)
	name := fmt.Sprintf("topic_slice_%s_%s.json", window.Start, window.End)
	if err := m.Artifacts.SaveJSON(name, slice); err != nil {
		return err
	}
	if err := m.Artifacts.AppendLine(ModelListFile, m.Artifacts.Path(name)); err != nil {
		return err
	}
	logger.Info("window fitted",
		"start", window.Start, "end", window.End,
		"chunks", len(docs), "topics", len(slice.Topics))
	return nil
}

// fit clusters the window's embeddings and derives topic words and
// centroids. When the window is too small or degenerate for a reduction,
// every chunk becomes an outlier and the slice carries no topics.
func (m *Modeler) fit(window Window, docs []DocumentInfo) *Slice {
	embeddings := make([][]float64, len(docs))
	texts := make([]string, len(docs))
	for i, doc := range docs {
		embeddings[i] = doc.Embedding
		texts[i] = doc.Document
	}

	assignments := make([]int, len(docs))
	for i := range assignments {
		assignments[i] = Outlier
	}
	reduced, err := m.reduce(embeddings)
	if err != nil {
		logger.Warn("reduction failed, window yields no topics",
			"start", window.Start, "end", window.End, "error", err)
	} else {
		assignments = clusterDensity(reduced, m.minClusterSize())
	}
	for i := range docs {
		docs[i].Topic = assignments[i]
	}

	words := topicWords(texts, assignments, m.topWords(), m.diversity())

	members := map[int][][]float64{}
	for i, topic := range assignments {
		if topic != Outlier {
			members[topic] = append(members[topic], embeddings[i])
		}
	}
	var topics []SliceTopic
	for topic := 0; ; topic++ {
		vectors, ok := members[topic]
		if !ok {
			break
		}
		topics = append(topics, SliceTopic{
			ID:       topic,
			Size:     len(vectors),
			Words:    words[topic],
			Centroid: vectormath.Mean(vectors),
		})
	}
	return &Slice{Window: window, Topics: topics, Documents: docs}
}

func (m *Modeler) reduce(embeddings [][]float64) ([][]float64, error) {
	dims := m.ReducedDims
	if dims <= 0 {
		dims = defaultReducedDims
	}
	pca, err := projector.Fit(embeddings, dims)
	if err != nil {
		return nil, err
	}
	return pca.Transform(embeddings)
}

// fetchWindow scrolls the chunk index for the window, newest first.
func (m *Modeler) fetchWindow(ctx context.Context, window Window) ([]DocumentInfo, error) {
	query := map[string]any{
		"sort": []any{map[string]any{"articleDate": map[string]any{"order": "desc"}}},
		"query": map[string]any{
			"range": map[string]any{
				"articleDate": map[string]any{"gte": window.Start, "lte": window.End},
			},
		},
	}
	scrollSize := m.ScrollSize
	if scrollSize <= 0 {
		scrollSize = defaultScrollSize
	}

	page, err := m.DB.SearchScroll(ctx, m.ChunkIndex, query, scrollSize)
	if err != nil {
		return nil, err
	}
	scrollID := page.ScrollID
	defer func() {
		if err := m.DB.ClearScroll(context.WithoutCancel(ctx), scrollID); err != nil {
			logger.Error("clearing scroll", err)
		}
	}()

	var docs []DocumentInfo
	for len(page.Hits) > 0 {
		for _, hit := range page.Hits {
			var chunk core.Chunk
			if err := json.Unmarshal(hit.Source, &chunk); err != nil {
				return nil, fmt.Errorf("decoding chunk %s: %w", hit.ID, err)
			}
			docs = append(docs, DocumentInfo{
				DocumentID:  chunk.DocumentID,
				Document:    chunk.Text,
				Embedding:   chunk.Embedding,
				ArticleDate: chunk.ArticleDate,
				Title:       chunk.Title,
				Journal:     chunk.JournalTitle,
				MeshTerms:   chunk.MeshTerms,
				Chemicals:   chunk.Chemicals,
				Authors:     chunk.AuthorNames,
				Topic:       Outlier,
			})
		}
		page, err = m.DB.Scroll(ctx, scrollID)
		if err != nil {
			return nil, err
		}
		scrollID = page.ScrollID
	}
	return docs, nil
}

func (m *Modeler) minClusterSize() int {
	if m.MinClusterSize > 0 {
		return m.MinClusterSize
	}
	return defaultMinClusterSize
}

func (m *Modeler) topWords() int {
	if m.TopWords > 0 {
		return m.TopWords
	}
	return defaultTopWords
}

func (m *Modeler) diversity() float64 {
	if m.Diversity > 0 {
		return m.Diversity
	}
	return defaultDiversity
}
