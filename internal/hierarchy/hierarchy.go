// Package hierarchy builds the binary cluster tree over the consolidated
// topics: leaves come straight from the topic set, internal nodes from an
// average-linkage merge replay with LLM-synthesized labels. Every merge is
// checkpointed so an interrupted build resumes at the next merge.
package hierarchy

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"clustertalk/internal/artifact"
	"clustertalk/internal/core"
	"clustertalk/internal/llm"
	"clustertalk/internal/logger"
	"clustertalk/internal/projector"
	"clustertalk/internal/vectormath"
)

const (
	// CheckpointFile holds the per-merge build state.
	CheckpointFile = "hierarchy_checkpoint.json"

	// ClustersFile and EmbeddingsFile are the final build outputs.
	ClustersFile   = "clusters.json"
	EmbeddingsFile = "cluster_embeddings.json"
)

// Result is the finished hierarchy: every cluster plus its centroid.
type Result struct {
	Clusters   map[string]*core.Cluster
	Embeddings map[string][]float64
}

// state is the checkpointed build state.
type state struct {
	Clusters         map[string]*core.Cluster `json:"clusters"`
	Embeddings       map[string][]float64     `json:"cluster_embeddings"`
	Linkage          []Merge                  `json:"linkage_matrix"`
	CompletedMergeID int                      `json:"completed_merge_id"`
}

// Builder constructs the cluster hierarchy.
type Builder struct {
	Artifacts *artifact.Store
	Generator llm.Generator
	Projector *projector.PCA
}

// Build creates the full hierarchy over the consolidated topics, resuming
// from a checkpoint when one exists.
func (b *Builder) Build(ctx context.Context, topics []core.Topic) (*Result, error) {
	if len(topics) < 2 {
		return nil, fmt.Errorf("hierarchy needs at least 2 topics, got %d", len(topics))
	}

	checkpointer := artifact.JSONCheckpointer[state]{Store: b.Artifacts, Name: CheckpointFile}
	st, found, err := checkpointer.Load()
	if err != nil {
		return nil, fmt.Errorf("loading checkpoint: %w", err)
	}
	if found {
		logger.Info("resuming hierarchy build", "completed_merge_id", st.CompletedMergeID)
	} else {
		st, err = b.initState(topics)
		if err != nil {
			return nil, err
		}
	}

	// Merge k creates linkage node leafCount+k; the parent id reuses that
	// index so child lookups resolve the same way on fresh and resumed runs.
	leafCount := len(st.Linkage) + 1
	for mergeID, merge := range st.Linkage {
		if mergeID <= st.CompletedMergeID {
			continue
		}
		if err := b.applyMerge(ctx, &st, merge, leafCount+mergeID); err != nil {
			if saveErr := checkpointer.Save(st); saveErr != nil {
				logger.Error("saving checkpoint after failure", saveErr)
			}
			return nil, fmt.Errorf("merge %d: %w", mergeID, err)
		}
		st.CompletedMergeID = mergeID
		if err := checkpointer.Save(st); err != nil {
			return nil, fmt.Errorf("saving checkpoint: %w", err)
		}
	}

	fillPairwiseSimilarity(st.Clusters, st.Embeddings)
	if err := verify(st.Clusters); err != nil {
		return nil, err
	}

	if err := b.Artifacts.SaveJSON(ClustersFile, st.Clusters); err != nil {
		return nil, err
	}
	if err := b.Artifacts.SaveJSON(EmbeddingsFile, st.Embeddings); err != nil {
		return nil, err
	}
	if err := b.Artifacts.Remove(CheckpointFile); err != nil {
		return nil, err
	}
	logger.Info("hierarchy built", "clusters", len(st.Clusters))
	return &Result{Clusters: st.Clusters, Embeddings: st.Embeddings}, nil
}

// initState creates the leaf clusters and the merge order.
func (b *Builder) initState(topics []core.Topic) (state, error) {
	centroids := make([][]float64, len(topics))
	for i, topic := range topics {
		centroids[i] = topic.Centroid
	}
	coords, err := b.Projector.Transform(centroids)
	if err != nil {
		return state{}, fmt.Errorf("projecting topic centroids: %w", err)
	}

	st := state{
		Clusters:         make(map[string]*core.Cluster, 2*len(topics)),
		Embeddings:       make(map[string][]float64, 2*len(topics)),
		Linkage:          Linkage(centroids),
		CompletedMergeID: -1,
	}
	for i, topic := range topics {
		st.Clusters[topic.ID] = &core.Cluster{
			ClusterID:        topic.ID,
			Label:            topic.Label,
			Description:      topic.Description,
			TopicInformation: topic.Words,
			TopicWords:       topic.WordList,
			IsLeaf:           true,
			Depth:            0,
			Path:             topic.ID,
			X:                coords[i][0],
			Y:                coords[i][1],
			Children:         []string{},
			Size:             1,
		}
		st.Embeddings[topic.ID] = topic.Centroid
	}
	return st, nil
}

// applyMerge creates the parent cluster of one merge step.
func (b *Builder) applyMerge(ctx context.Context, st *state, merge Merge, nextIndex int) error {
	left := resolveID(st.Clusters, merge.Left)
	right := resolveID(st.Clusters, merge.Right)
	ci, okLeft := st.Clusters[left]
	cj, okRight := st.Clusters[right]
	if !okLeft || !okRight {
		logger.Warn("skipping merge with missing children", "left", left, "right", right)
		return nil
	}

	metadata, err := llm.ParentMetadata(ctx, b.Generator,
		[]string{ci.Label, cj.Label}, []string{ci.Description, cj.Description})
	if err != nil {
		var parseErr *llm.ParseFailureError
		if !errors.As(err, &parseErr) {
			return err
		}
		logger.Warn("parent metadata unparseable",
			"left", left, "right", right, "raw_output", parseErr.RawOutput)
		metadata = llm.Metadata{}
	}

	parentID := "cluster_" + strconv.Itoa(nextIndex)
	totalSize := ci.Size + cj.Size
	depth := ci.Depth
	if cj.Depth > depth {
		depth = cj.Depth
	}

	st.Clusters[parentID] = &core.Cluster{
		ClusterID:   parentID,
		Label:       metadata.Label,
		Description: metadata.Description,
		TopicWords:  unionWords(ci.TopicWords, cj.TopicWords),
		IsLeaf:      false,
		Depth:       depth + 1,
		Path:        parentID + "/" + ci.Path + "/" + cj.Path,
		X:           (float64(ci.Size)*ci.X + float64(cj.Size)*cj.X) / float64(totalSize),
		Y:           (float64(ci.Size)*ci.Y + float64(cj.Size)*cj.Y) / float64(totalSize),
		Children:    []string{left, right},
		Size:        totalSize,
	}
	st.Embeddings[parentID] = vectormath.MidPoint(st.Embeddings[left], st.Embeddings[right])
	return nil
}

// resolveID maps a linkage node index to a cluster id: leaves keep their
// numeric id, merge results carry the cluster_ prefix.
func resolveID(clusters map[string]*core.Cluster, idx int) string {
	plain := strconv.Itoa(idx)
	if _, ok := clusters[plain]; ok {
		return plain
	}
	return "cluster_" + plain
}

// fillPairwiseSimilarity stores the cosine similarity of every cluster to
// every other cluster, ordered by cluster id.
func fillPairwiseSimilarity(clusters map[string]*core.Cluster, embeddings map[string][]float64) {
	ids := make([]string, 0, len(clusters))
	for id := range clusters {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, i := range ids {
		entries := make([]core.SimilarityEntry, 0, len(ids)-1)
		for _, j := range ids {
			if i == j {
				continue
			}
			entries = append(entries, core.SimilarityEntry{
				OtherClusterID:  j,
				SimilarityScore: vectormath.CosineSimilarity(embeddings[i], embeddings[j]),
			})
		}
		clusters[i].PairwiseSimilarity = entries
	}
}

// verify checks the structural invariants of the finished tree.
func verify(clusters map[string]*core.Cluster) error {
	isChild := map[string]bool{}
	for _, cluster := range clusters {
		for _, child := range cluster.Children {
			isChild[child] = true
		}
	}

	var roots []string
	for id, cluster := range clusters {
		if !isChild[id] {
			roots = append(roots, id)
		}
		if cluster.IsLeaf {
			if len(cluster.Children) != 0 {
				return fmt.Errorf("leaf %s has children %v", id, cluster.Children)
			}
			continue
		}
		if len(cluster.Children) != 2 {
			return fmt.Errorf("cluster %s has %d children, want 2", id, len(cluster.Children))
		}
		size := 0
		for _, child := range cluster.Children {
			node, ok := clusters[child]
			if !ok {
				return fmt.Errorf("cluster %s references missing child %s", id, child)
			}
			size += node.Size
		}
		if size != cluster.Size {
			return fmt.Errorf("cluster %s has size %d, children sum to %d", id, cluster.Size, size)
		}
	}
	if len(roots) != 1 {
		sort.Strings(roots)
		return fmt.Errorf("hierarchy has %d roots: %v", len(roots), roots)
	}
	root := roots[0]
	if !strings.HasPrefix(clusters[root].Path, root) {
		return fmt.Errorf("root path %q does not start with root id %s", clusters[root].Path, root)
	}
	return nil
}

func unionWords(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var union []string
	for _, w := range a {
		if !seen[w] {
			seen[w] = true
			union = append(union, w)
		}
	}
	for _, w := range b {
		if !seen[w] {
			seen[w] = true
			union = append(union, w)
		}
	}
	sort.Strings(union)
	return union
}
