// Package indexer writes the finished hierarchy into the store: the cluster
// index itself, repaired root-to-node paths, and the per-document projection
// index with nearest-topic assignments and 2D coordinates.
package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"
	"unicode/utf8"

	"clustertalk/internal/batch"
	"clustertalk/internal/core"
	"clustertalk/internal/logger"
	"clustertalk/internal/projector"
	"clustertalk/internal/store"
	"clustertalk/internal/vectormath"
)

const (
	// MaxPathBytes is the store's hard keyword length limit.
	MaxPathBytes = 32766

	clusterBulkSize    = 50
	documentBulkSize   = 1000
	projectorBatchSize = 500
	defaultScrollSize  = 500
)

// Store is the slice of the document store the indexer needs.
type Store interface {
	EnsureIndex(ctx context.Context, name, mapping string) error
	Get(ctx context.Context, index, id string) (json.RawMessage, error)
	BulkUpsert(ctx context.Context, index string, items []store.BulkItem) ([]store.BulkFailure, error)
	BulkUpdate(ctx context.Context, index string, items []store.BulkItem) ([]store.BulkFailure, error)
	SearchScroll(ctx context.Context, index string, body any, size int) (*store.Page, error)
	Scroll(ctx context.Context, scrollID string) (*store.Page, error)
	ClearScroll(ctx context.Context, scrollID string) error
}

// Indexer writes clusters and document projections.
type Indexer struct {
	DB            Store
	ClusterIndex  string
	ChunkIndex    string
	DocumentIndex string
}

// IndexClusters writes every cluster not already present. Existing clusters
// are skipped so a re-run never overwrites repaired paths.
func (x *Indexer) IndexClusters(ctx context.Context, clusters map[string]*core.Cluster, embeddings map[string][]float64) error {
	if err := x.DB.EnsureIndex(ctx, x.ClusterIndex, store.ClusterMapping); err != nil {
		return err
	}

	ids := make([]string, 0, len(clusters))
	for id := range clusters {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var items []store.BulkItem
	for _, id := range ids {
		_, err := x.DB.Get(ctx, x.ClusterIndex, id)
		if err == nil {
			logger.Debug("cluster already indexed, skipping", "cluster_id", id)
			continue
		}
		if !errors.Is(err, store.ErrNotFound) {
			logger.Error("checking cluster existence", err, "cluster_id", id)
			continue
		}

		doc := *clusters[id]
		doc.Path = truncatePath(doc.Path, id)
		doc.Embedding = embeddings[id]
		items = append(items, store.BulkItem{ID: id, Doc: doc})
	}

	indexed := 0
	for _, group := range batch.Batches(items, clusterBulkSize) {
		failures, err := x.DB.BulkUpsert(ctx, x.ClusterIndex, group)
		if err != nil {
			return fmt.Errorf("indexing clusters: %w", err)
		}
		for _, failure := range failures {
			logger.Warn("cluster insert failed",
				"cluster_id", failure.ID, "status", failure.Status, "reason", failure.Reason)
		}
		indexed += len(group) - len(failures)
	}
	logger.Info("clusters indexed", "total", len(clusters), "written", indexed)
	return nil
}

// truncatePath caps the path at the store's keyword byte limit, cutting at a
// rune boundary.
func truncatePath(path, clusterID string) string {
	if len(path) <= MaxPathBytes {
		return path
	}
	logger.Warn("truncating cluster path to fit byte limit", "cluster_id", clusterID)
	cut := MaxPathBytes - 10
	for cut > 0 && !utf8.RuneStart(path[cut]) {
		cut--
	}
	return path[:cut]
}

// RepairPaths rebuilds every cluster's path as the id chain from its root,
// walking the stored children links. When no children links exist at all,
// parents are guessed from depth; that guess is unreliable and is logged as
// such.
func (x *Indexer) RepairPaths(ctx context.Context) error {
	clusters, err := x.fetchAllClusters(ctx)
	if err != nil {
		return err
	}
	if len(clusters) == 0 {
		return fmt.Errorf("cluster index %s is empty", x.ClusterIndex)
	}

	childToParent := map[string]string{}
	for id, cluster := range clusters {
		for _, child := range cluster.Children {
			childToParent[child] = id
		}
	}
	if len(childToParent) == 0 {
		logger.Error("no children links found, inferring parents from depth",
			fmt.Errorf("children fields empty in index %s", x.ClusterIndex))
		childToParent = parentsFromDepth(clusters)
	}

	roots := 0
	for id := range clusters {
		if _, hasParent := childToParent[id]; !hasParent {
			roots++
		}
	}
	if roots == 0 {
		return fmt.Errorf("no root clusters found in %s", x.ClusterIndex)
	}

	var items []store.BulkItem
	for id := range clusters {
		chain := []string{}
		for current := id; ; {
			chain = append([]string{current}, chain...)
			parent, ok := childToParent[current]
			if !ok {
				break
			}
			current = parent
		}
		path := chain[0]
		for _, part := range chain[1:] {
			path += "/" + part
		}
		items = append(items, store.BulkItem{ID: id, Doc: map[string]string{"path": path}})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })

	for _, group := range batch.Batches(items, clusterBulkSize) {
		failures, err := x.DB.BulkUpdate(ctx, x.ClusterIndex, group)
		if err != nil {
			return fmt.Errorf("updating cluster paths: %w", err)
		}
		for _, failure := range failures {
			logger.Warn("path update failed",
				"cluster_id", failure.ID, "status", failure.Status, "reason", failure.Reason)
		}
	}
	logger.Info("cluster paths repaired", "clusters", len(items))
	return nil
}

// parentsFromDepth pairs each depth level with the level above it. This
// recovers a chain, not the true tree; it only exists to keep a corrupted
// index navigable.
func parentsFromDepth(clusters map[string]*core.Cluster) map[string]string {
	byDepth := map[int][]string{}
	for id, cluster := range clusters {
		byDepth[cluster.Depth] = append(byDepth[cluster.Depth], id)
	}
	depths := make([]int, 0, len(byDepth))
	for depth := range byDepth {
		sort.Strings(byDepth[depth])
		depths = append(depths, depth)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(depths)))

	childToParent := map[string]string{}
	for i := 0; i+1 < len(depths); i++ {
		parent := byDepth[depths[i]][0]
		for _, child := range byDepth[depths[i+1]] {
			childToParent[child] = parent
		}
	}
	return childToParent
}

func (x *Indexer) fetchAllClusters(ctx context.Context) (map[string]*core.Cluster, error) {
	query := map[string]any{"query": map[string]any{"match_all": map[string]any{}}}
	page, err := x.DB.SearchScroll(ctx, x.ClusterIndex, query, defaultScrollSize)
	if err != nil {
		return nil, err
	}
	scrollID := page.ScrollID
	defer func() {
		if err := x.DB.ClearScroll(context.WithoutCancel(ctx), scrollID); err != nil {
			logger.Error("clearing scroll", err)
		}
	}()

	clusters := map[string]*core.Cluster{}
	for len(page.Hits) > 0 {
		for _, hit := range page.Hits {
			var cluster core.Cluster
			if err := json.Unmarshal(hit.Source, &cluster); err != nil {
				return nil, fmt.Errorf("decoding cluster %s: %w", hit.ID, err)
			}
			if cluster.ClusterID == "" {
				continue
			}
			clusters[cluster.ClusterID] = &cluster
		}
		page, err = x.DB.Scroll(ctx, scrollID)
		if err != nil {
			return nil, err
		}
		scrollID = page.ScrollID
	}
	return clusters, nil
}

// AssignDocuments scrolls the chunk index for the date range, assigns every
// chunk its nearest topic and 2D coordinates, and writes the projections.
func (x *Indexer) AssignDocuments(ctx context.Context, topics []core.Topic, pca *projector.PCA, startDate, endDate time.Time) error {
	if len(topics) == 0 {
		return fmt.Errorf("no topics to assign documents to")
	}
	if err := x.DB.EnsureIndex(ctx, x.DocumentIndex, store.DocumentMapping); err != nil {
		return err
	}

	centroids := make([][]float64, len(topics))
	for i, topic := range topics {
		centroids[i] = topic.Centroid
	}

	query := map[string]any{
		"sort": []any{map[string]any{"articleDate": map[string]any{"order": "desc"}}},
		"query": map[string]any{
			"range": map[string]any{"articleDate": map[string]any{
				"gte": startDate.Format("2006-01-02"),
				"lte": endDate.Format("2006-01-02"),
			}},
		},
	}
	page, err := x.DB.SearchScroll(ctx, x.ChunkIndex, query, defaultScrollSize)
	if err != nil {
		return err
	}
	scrollID := page.ScrollID
	defer func() {
		if err := x.DB.ClearScroll(context.WithoutCancel(ctx), scrollID); err != nil {
			logger.Error("clearing scroll", err)
		}
	}()

	for len(page.Hits) > 0 {
		if err := x.assignPage(ctx, page.Hits, topics, centroids, pca); err != nil {
			return err
		}
		page, err = x.DB.Scroll(ctx, scrollID)
		if err != nil {
			return err
		}
		scrollID = page.ScrollID
	}
	return nil
}

func (x *Indexer) assignPage(ctx context.Context, hits []store.Hit, topics []core.Topic, centroids [][]float64, pca *projector.PCA) error {
	chunks := make([]core.Chunk, len(hits))
	embeddings := make([][]float64, len(hits))
	for i, hit := range hits {
		if err := json.Unmarshal(hit.Source, &chunks[i]); err != nil {
			return fmt.Errorf("decoding chunk %s: %w", hit.ID, err)
		}
		embeddings[i] = chunks[i].Embedding
	}

	assigned := vectormath.ArgmaxSimilarity(embeddings, centroids)
	coords := x.transformCoords(embeddings, pca)

	items := make([]store.BulkItem, len(chunks))
	for i, chunk := range chunks {
		items[i] = store.BulkItem{
			ID: chunk.DocumentID,
			Doc: core.DocumentProjection{
				DocumentID:         chunk.DocumentID,
				Title:              chunk.Title,
				Abstract:           chunk.Text,
				Date:               chunk.ArticleDate,
				AuthorNames:        chunk.AuthorNames,
				AuthorAffiliations: chunk.AuthorAffiliations,
				Keywords:           chunk.Keywords,
				MeshTerms:          chunk.MeshTerms,
				Chemicals:          chunk.Chemicals,
				JournalTitle:       chunk.JournalTitle,
				ClusterID:          topics[assigned[i]].ID,
				X:                  coords[i][0],
				Y:                  coords[i][1],
				Embedding:          chunk.Embedding,
			},
		}
	}

	for _, group := range batch.Batches(items, documentBulkSize) {
		failures, err := x.DB.BulkUpsert(ctx, x.DocumentIndex, group)
		if err != nil {
			return fmt.Errorf("indexing document projections: %w", err)
		}
		for _, failure := range failures {
			logger.Warn("document projection insert failed",
				"document_id", failure.ID, "status", failure.Status, "reason", failure.Reason)
		}
	}
	logger.Info("document page assigned", "documents", len(items))
	return nil
}

// transformCoords projects embeddings to 2D in sub-batches. A failed
// sub-batch falls back to the origin so one bad batch cannot sink the run.
func (x *Indexer) transformCoords(embeddings [][]float64, pca *projector.PCA) [][]float64 {
	coords := make([][]float64, 0, len(embeddings))
	for _, group := range batch.Batches(embeddings, projectorBatchSize) {
		transformed, err := pca.Transform(group)
		if err != nil {
			logger.Error("2d transformation failed for sub-batch", err, "size", len(group))
			for range group {
				coords = append(coords, []float64{0, 0})
			}
			continue
		}
		for _, row := range transformed {
			for len(row) < 2 {
				row = append(row, 0)
			}
			coords = append(coords, row)
		}
	}
	return coords
}
