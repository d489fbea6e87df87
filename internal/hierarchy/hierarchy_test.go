package hierarchy

import (
	"context"
	"errors"
	"testing"

	"clustertalk/internal/artifact"
	"clustertalk/internal/core"
	"clustertalk/internal/llm"
	"clustertalk/internal/projector"
)

type fakeGenerator struct {
	responses []string
	failAfter int
	calls     int
}

func (f *fakeGenerator) GenerateText(_ context.Context, _ string, _ llm.GenerationOptions) (string, error) {
	if f.failAfter > 0 && f.calls >= f.failAfter {
		return "", errors.New("llm unavailable")
	}
	r := f.responses[f.calls%len(f.responses)]
	f.calls++
	return r, nil
}

func TestLinkageMergesClosestFirst(t *testing.T) {
	// Rows 0/1 point one way, rows 2/3 another.
	rows := [][]float64{
		{1, 0, 0}, {1, 0.01, 0},
		{0, 0, 1}, {0, 0.01, 1},
	}
	merges := Linkage(rows)
	if len(merges) != 3 {
		t.Fatalf("merges = %v", merges)
	}
	if merges[0].Left != 0 || merges[0].Right != 1 {
		t.Errorf("first merge = %v, want {0 1}", merges[0])
	}
	if merges[1].Left != 2 || merges[1].Right != 3 {
		t.Errorf("second merge = %v, want {2 3}", merges[1])
	}
	// Final merge joins the two merge results (nodes 4 and 5).
	if merges[2].Left != 4 || merges[2].Right != 5 {
		t.Errorf("last merge = %v, want {4 5}", merges[2])
	}
}

func TestLinkageTrivialInputs(t *testing.T) {
	if m := Linkage(nil); m != nil {
		t.Errorf("merges = %v", m)
	}
	if m := Linkage([][]float64{{1, 0}}); m != nil {
		t.Errorf("merges = %v", m)
	}
}

func testTopics() []core.Topic {
	return []core.Topic{
		{ID: "0", Label: "Oncology", Description: "Tumor research.",
			Words:    []core.WordScore{{Word: "tumor", Score: 1}},
			WordList: []string{"tumor", "cancer"},
			Centroid: []float64{1, 0, 0}},
		{ID: "1", Label: "Immunotherapy", Description: "Immune treatment.",
			Words:    []core.WordScore{{Word: "immune", Score: 1}},
			WordList: []string{"immune", "cancer"},
			Centroid: []float64{1, 0.05, 0}},
		{ID: "2", Label: "Cardiology", Description: "Heart research.",
			Words:    []core.WordScore{{Word: "heart", Score: 1}},
			WordList: []string{"heart"},
			Centroid: []float64{0, 0, 1}},
	}
}

func testBuilder(t *testing.T, gen llm.Generator) *Builder {
	t.Helper()
	store, err := artifact.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	centroids := make([][]float64, 0, 3)
	for _, topic := range testTopics() {
		centroids = append(centroids, topic.Centroid)
	}
	pca, err := projector.Fit(centroids, 2)
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	return &Builder{Artifacts: store, Generator: gen, Projector: pca}
}

func TestBuildConstructsBinaryTree(t *testing.T) {
	gen := &fakeGenerator{responses: []string{
		`{"label": "Cancer Medicine", "description": "Tumor and immune research."}`,
		`{"label": "Biomedicine", "description": "All biomedical research."}`,
	}}
	b := testBuilder(t, gen)

	result, err := b.Build(context.Background(), testTopics())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(result.Clusters) != 5 {
		t.Fatalf("clusters = %d, want 5", len(result.Clusters))
	}

	// Topics 0 and 1 are closest; they merge into cluster_3 first.
	parent := result.Clusters["cluster_3"]
	if parent == nil {
		t.Fatal("cluster_3 missing")
	}
	if parent.Label != "Cancer Medicine" || parent.Depth != 1 || parent.Size != 2 {
		t.Errorf("parent = %+v", parent)
	}
	if len(parent.Children) != 2 || parent.Children[0] != "0" || parent.Children[1] != "1" {
		t.Errorf("children = %v", parent.Children)
	}
	if parent.Path != "cluster_3/0/1" {
		t.Errorf("path = %q", parent.Path)
	}
	wantWords := []string{"cancer", "immune", "tumor"}
	if len(parent.TopicWords) != len(wantWords) {
		t.Fatalf("topic words = %v", parent.TopicWords)
	}
	for i, w := range wantWords {
		if parent.TopicWords[i] != w {
			t.Errorf("topic word[%d] = %q, want %q", i, parent.TopicWords[i], w)
		}
	}

	root := result.Clusters["cluster_4"]
	if root == nil || root.Size != 3 || root.Depth != 2 {
		t.Fatalf("root = %+v", root)
	}
	if root.Path != "cluster_4/2/cluster_3/0/1" {
		t.Errorf("root path = %q", root.Path)
	}

	// Parent centroid is the midpoint of its children.
	emb := result.Embeddings["cluster_3"]
	if emb[0] != 1 || emb[1] != 0.025 {
		t.Errorf("cluster_3 embedding = %v", emb)
	}

	// Every cluster holds a similarity entry for every other cluster.
	for id, cluster := range result.Clusters {
		if len(cluster.PairwiseSimilarity) != 4 {
			t.Errorf("cluster %s has %d similarity entries", id, len(cluster.PairwiseSimilarity))
		}
	}

	if b.Artifacts.Exists(CheckpointFile) {
		t.Error("checkpoint must be removed after success")
	}
	if !b.Artifacts.Exists(ClustersFile) || !b.Artifacts.Exists(EmbeddingsFile) {
		t.Error("final artifacts missing")
	}
}

func TestBuildWeightsCoordinatesBySize(t *testing.T) {
	gen := &fakeGenerator{responses: []string{`{"label": "L", "description": "D."}`}}
	b := testBuilder(t, gen)

	result, err := b.Build(context.Background(), testTopics())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	c0 := result.Clusters["0"]
	c1 := result.Clusters["1"]
	c3 := result.Clusters["cluster_3"]
	if c3.X != (c0.X+c1.X)/2 || c3.Y != (c0.Y+c1.Y)/2 {
		t.Errorf("equal-size children must average evenly: %+v", c3)
	}

	c2 := result.Clusters["2"]
	root := result.Clusters["cluster_4"]
	wantX := (2*c3.X + c2.X) / 3
	if root.X != wantX {
		t.Errorf("root x = %v, want size-weighted %v", root.X, wantX)
	}
}

func TestBuildResumesFromCheckpoint(t *testing.T) {
	gen := &fakeGenerator{
		responses: []string{`{"label": "Cancer Medicine", "description": "D."}`},
		failAfter: 1,
	}
	b := testBuilder(t, gen)

	if _, err := b.Build(context.Background(), testTopics()); err == nil {
		t.Fatal("second merge must fail")
	}
	if !b.Artifacts.Exists(CheckpointFile) {
		t.Fatal("checkpoint must survive the failure")
	}

	// Resume with a working generator; the first merge must not repeat.
	gen2 := &fakeGenerator{responses: []string{`{"label": "Biomedicine", "description": "D."}`}}
	b.Generator = gen2
	result, err := b.Build(context.Background(), testTopics())
	if err != nil {
		t.Fatalf("resumed Build: %v", err)
	}
	if gen2.calls != 1 {
		t.Errorf("resumed run made %d LLM calls, want 1", gen2.calls)
	}
	if result.Clusters["cluster_3"].Label != "Cancer Medicine" {
		t.Errorf("first merge result lost on resume: %+v", result.Clusters["cluster_3"])
	}
	if result.Clusters["cluster_4"].Label != "Biomedicine" {
		t.Errorf("root = %+v", result.Clusters["cluster_4"])
	}
}

func TestBuildToleratesUnparseableParentMetadata(t *testing.T) {
	gen := &fakeGenerator{responses: []string{"no json here"}}
	b := testBuilder(t, gen)

	result, err := b.Build(context.Background(), testTopics())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if result.Clusters["cluster_3"].Label != "" {
		t.Errorf("label = %q, want empty", result.Clusters["cluster_3"].Label)
	}
	// The tree is still structurally complete.
	if result.Clusters["cluster_4"].Size != 3 {
		t.Errorf("root size = %d", result.Clusters["cluster_4"].Size)
	}
}

func TestVerifyRejectsBrokenTrees(t *testing.T) {
	leaf := func(id string) *core.Cluster {
		return &core.Cluster{ClusterID: id, IsLeaf: true, Path: id, Children: []string{}, Size: 1}
	}

	// Two roots.
	twoRoots := map[string]*core.Cluster{"0": leaf("0"), "1": leaf("1")}
	if err := verify(twoRoots); err == nil {
		t.Error("two roots must fail")
	}

	// Size mismatch.
	badSize := map[string]*core.Cluster{
		"0": leaf("0"), "1": leaf("1"),
		"cluster_2": {ClusterID: "cluster_2", Children: []string{"0", "1"},
			Size: 3, Path: "cluster_2/0/1"},
	}
	if err := verify(badSize); err == nil {
		t.Error("size mismatch must fail")
	}

	// Valid tree.
	good := map[string]*core.Cluster{
		"0": leaf("0"), "1": leaf("1"),
		"cluster_2": {ClusterID: "cluster_2", Children: []string{"0", "1"},
			Size: 2, Path: "cluster_2/0/1"},
	}
	if err := verify(good); err != nil {
		t.Errorf("valid tree rejected: %v", err)
	}
}
