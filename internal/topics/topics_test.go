package topics

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"clustertalk/internal/artifact"
	"clustertalk/internal/core"
	"clustertalk/internal/store"
)

func TestWindowsClampToEnd(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 2, 4, 0, 0, 0, 0, time.UTC)

	windows := Windows(start, end, 15)
	want := []Window{
		{Start: "2024-01-01", End: "2024-01-15"},
		{Start: "2024-01-16", End: "2024-01-30"},
		{Start: "2024-01-31", End: "2024-02-04"},
	}
	if len(windows) != len(want) {
		t.Fatalf("windows = %v", windows)
	}
	for i := range want {
		if windows[i] != want[i] {
			t.Errorf("window[%d] = %v, want %v", i, windows[i], want[i])
		}
	}
}

func TestWindowsSingleDay(t *testing.T) {
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	windows := Windows(day, day, 15)
	if len(windows) != 1 || windows[0].Start != "2024-01-01" || windows[0].End != "2024-01-01" {
		t.Errorf("windows = %v", windows)
	}
}

// two tight direction groups plus a stray point.
func groupedVectors() [][]float64 {
	return [][]float64{
		{1, 0.00, 0, 0}, {1, 0.01, 0, 0}, {1, 0.02, 0, 0}, {1, 0.03, 0, 0},
		{0, 0.00, 0, 1}, {0, 0.01, 0, 1}, {0, 0.02, 0, 1}, {0, 0.03, 0, 1},
		{1, 0, 1, 1},
	}
}

func TestClusterDensityFindsGroups(t *testing.T) {
	assignments := clusterDensity(groupedVectors(), 3)

	first := assignments[0]
	if first == Outlier {
		t.Fatalf("first group unassigned: %v", assignments)
	}
	for i := 1; i < 4; i++ {
		if assignments[i] != first {
			t.Errorf("point %d not with first group: %v", i, assignments)
		}
	}
	second := assignments[4]
	if second == Outlier || second == first {
		t.Fatalf("second group must form its own cluster: %v", assignments)
	}
	for i := 5; i < 8; i++ {
		if assignments[i] != second {
			t.Errorf("point %d not with second group: %v", i, assignments)
		}
	}
	if assignments[8] != Outlier {
		t.Errorf("stray point must stay an outlier: %v", assignments)
	}
}

func TestClusterDensityTooFewPoints(t *testing.T) {
	assignments := clusterDensity([][]float64{{1, 0}, {0, 1}}, 3)
	for _, a := range assignments {
		if a != Outlier {
			t.Errorf("assignments = %v", assignments)
		}
	}
}

func TestTokenizeDropsStopwordsAndShortTokens(t *testing.T) {
	got := tokenize("The gene-therapy of a T cell, CAR-T!")
	want := []string{"gene", "therapy", "cell", "car"}
	if len(got) != len(want) {
		t.Fatalf("tokens = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("token[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestTopicWordsSeparateVocabularies(t *testing.T) {
	texts := []string{
		"tumor cancer oncology tumor growth", "cancer tumor oncology therapy",
		"cardiac heart arrhythmia heart failure", "heart cardiac arrhythmia valve",
		"noise noise",
	}
	assignments := []int{0, 0, 1, 1, Outlier}

	words := topicWords(texts, assignments, 3, 0.3)
	if len(words) != 2 {
		t.Fatalf("words = %v", words)
	}
	if !hasWord(words[0], "tumor") && !hasWord(words[0], "cancer") {
		t.Errorf("topic 0 words = %v", words[0])
	}
	if !hasWord(words[1], "heart") && !hasWord(words[1], "cardiac") {
		t.Errorf("topic 1 words = %v", words[1])
	}
	if hasWord(words[0], "noise") || hasWord(words[1], "noise") {
		t.Errorf("outlier text must not contribute words: %v", words)
	}
}

func hasWord(words []core.WordScore, word string) bool {
	for _, w := range words {
		if w.Word == word {
			return true
		}
	}
	return false
}

type fakeStore struct {
	pages   [][]store.Hit
	pageIdx int
	cleared bool
}

func (f *fakeStore) SearchScroll(_ context.Context, _ string, _ any, _ int) (*store.Page, error) {
	f.pageIdx = 0
	return f.nextPage(), nil
}

func (f *fakeStore) Scroll(context.Context, string) (*store.Page, error) {
	return f.nextPage(), nil
}

func (f *fakeStore) nextPage() *store.Page {
	if f.pageIdx >= len(f.pages) {
		return &store.Page{ScrollID: "cursor"}
	}
	page := &store.Page{Hits: f.pages[f.pageIdx], ScrollID: "cursor"}
	f.pageIdx++
	return page
}

func (f *fakeStore) ClearScroll(context.Context, string) error {
	f.cleared = true
	return nil
}

func chunkHit(t *testing.T, id, text string, embedding []float64) store.Hit {
	t.Helper()
	raw, err := json.Marshal(core.Chunk{
		DocumentID:  id,
		ArticleDate: "2024-01-02",
		Title:       "t",
		Text:        text,
		Embedding:   embedding,
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return store.Hit{ID: id + "_0", Source: raw}
}

func TestFitWindowWritesSliceArtifact(t *testing.T) {
	hits := make([]store.Hit, 0, len(groupedVectors()))
	texts := []string{
		"tumor cancer oncology growth", "cancer tumor oncology therapy",
		"tumor oncology cancer", "cancer growth tumor",
		"cardiac heart arrhythmia failure", "heart cardiac arrhythmia valve",
		"cardiac heart valve", "heart failure cardiac",
		"unrelated stray text",
	}
	for i, v := range groupedVectors() {
		hits = append(hits, chunkHit(t, "doc"+string(rune('a'+i)), texts[i], v))
	}
	db := &fakeStore{pages: [][]store.Hit{hits}}
	artifacts, err := artifact.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	m := &Modeler{
		DB:             db,
		Artifacts:      artifacts,
		ChunkIndex:     "chunks",
		MinClusterSize: 3,
		ReducedDims:    2,
	}

	window := Window{Start: "2024-01-01", End: "2024-01-15"}
	if err := m.FitWindow(context.Background(), window); err != nil {
		t.Fatalf("FitWindow: %v", err)
	}
	if !db.cleared {
		t.Error("scroll must be cleared")
	}

	var slice Slice
	if err := artifacts.LoadJSON("topic_slice_2024-01-01_2024-01-15.json", &slice); err != nil {
		t.Fatalf("loading slice: %v", err)
	}
	if len(slice.Topics) != 2 {
		t.Fatalf("topics = %d, want 2", len(slice.Topics))
	}
	for _, topic := range slice.Topics {
		if topic.Size < 3 {
			t.Errorf("topic %d size = %d", topic.ID, topic.Size)
		}
		if len(topic.Centroid) != 4 {
			t.Errorf("topic %d centroid dims = %d", topic.ID, len(topic.Centroid))
		}
		if len(topic.Words) == 0 {
			t.Errorf("topic %d has no words", topic.ID)
		}
	}
	if len(slice.Documents) != 9 {
		t.Errorf("documents = %d", len(slice.Documents))
	}

	paths, err := artifacts.ReadLines(ModelListFile)
	if err != nil || len(paths) != 1 {
		t.Fatalf("model list = %v, %v", paths, err)
	}
}

func TestFitWindowSkipsEmptyWindow(t *testing.T) {
	artifacts, err := artifact.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	m := &Modeler{DB: &fakeStore{}, Artifacts: artifacts, ChunkIndex: "chunks"}

	if err := m.FitWindow(context.Background(), Window{Start: "2024-01-01", End: "2024-01-15"}); err != nil {
		t.Fatalf("FitWindow: %v", err)
	}
	if artifacts.Exists("topic_slice_2024-01-01_2024-01-15.json") {
		t.Error("empty window must not write an artifact")
	}
}
