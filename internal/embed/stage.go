// Package embed turns stored abstracts into embedded chunks in the chunk
// index. The stage walks the source index day by day, newest first, so an
// interrupted run can be restarted with a narrower date range.
package embed

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"clustertalk/internal/batch"
	"clustertalk/internal/chunk"
	"clustertalk/internal/core"
	"clustertalk/internal/logger"
	"clustertalk/internal/store"
)

// Store is the slice of the document store the stage needs.
type Store interface {
	EnsureIndex(ctx context.Context, name, mapping string) error
	SearchScroll(ctx context.Context, index string, body any, size int) (*store.Page, error)
	Scroll(ctx context.Context, scrollID string) (*store.Page, error)
	ClearScroll(ctx context.Context, scrollID string) error
	BulkUpsert(ctx context.Context, index string, items []store.BulkItem) ([]store.BulkFailure, error)
}

const (
	defaultScrollSize = 500
	defaultBulkSize   = 1000
	embedBatchSize    = 100
)

// Stage embeds source articles into the chunk index.
type Stage struct {
	DB          Store
	Embedder    Embedder
	Chunker     chunk.Chunker
	SourceIndex string
	TargetIndex string

	ScrollSize int
	BulkSize   int
}

// sourceFields is the projection pulled from the article index.
var sourceFields = []string{
	"title",
	"abstract",
	"articleDate",
	"authors",
	"keywords.name",
	"journalInformation.journalTitle",
	"meshTerms.meshID",
	"meshTerms.name",
	"chemicals.name",
}

// sourceArticle is the projected source document.
type sourceArticle struct {
	Title       string          `json:"title"`
	Abstract    string          `json:"abstract"`
	ArticleDate string          `json:"articleDate"`
	Authors     []core.Author   `json:"authors"`
	Keywords    []core.Keyword  `json:"keywords"`
	MeshTerms   []core.MeshTerm `json:"meshTerms"`
	Chemicals   []core.Chemical `json:"chemicals"`
	Journal     struct {
		JournalTitle string `json:"journalTitle"`
	} `json:"journalInformation"`
}

// Run embeds every eligible article dated within [startDate, endDate],
// walking one day at a time from endDate backwards.
func (s *Stage) Run(ctx context.Context, startDate, endDate time.Time) error {
	if err := s.DB.EnsureIndex(ctx, s.TargetIndex, store.ChunkMapping); err != nil {
		return err
	}

	for current := endDate; !current.Before(startDate); current = current.AddDate(0, 0, -1) {
		day := current.Format("2006-01-02")
		query := map[string]any{
			"sort": []any{map[string]any{"articleDate": map[string]any{"order": "desc"}}},
			"query": map[string]any{
				"bool": map[string]any{
					"must": []any{
						map[string]any{"range": map[string]any{"articleDate": map[string]any{"gte": day, "lte": day}}},
					},
					"must_not": []any{
						map[string]any{"match_phrase": map[string]any{"abstract": core.PlaceholderAbstract}},
						map[string]any{"match_phrase": map[string]any{"abstract": core.TruncatedAbstractMarker}},
					},
				},
			},
			"_source": sourceFields,
		}
		if err := s.processQuery(ctx, query); err != nil {
			return fmt.Errorf("embedding articles for %s: %w", day, err)
		}
		logger.Info("day embedded", "date", day)
	}
	return nil
}

// RunIDs embeds a fixed list of article ids regardless of date.
func (s *Stage) RunIDs(ctx context.Context, ids []string) error {
	if err := s.DB.EnsureIndex(ctx, s.TargetIndex, store.ChunkMapping); err != nil {
		return err
	}
	query := map[string]any{
		"query":   map[string]any{"ids": map[string]any{"values": ids}},
		"_source": sourceFields,
	}
	return s.processQuery(ctx, query)
}

// processQuery scrolls the source index and pipelines page processing: the
// next page is fetched while the current one is chunked and embedded.
func (s *Stage) processQuery(ctx context.Context, query map[string]any) error {
	scrollSize := s.ScrollSize
	if scrollSize <= 0 {
		scrollSize = defaultScrollSize
	}

	page, err := s.DB.SearchScroll(ctx, s.SourceIndex, query, scrollSize)
	if err != nil {
		return err
	}
	scrollID := page.ScrollID
	defer func() {
		if err := s.DB.ClearScroll(context.WithoutCancel(ctx), scrollID); err != nil {
			logger.Error("clearing scroll", err)
		}
	}()

	pages := make(chan []store.Hit, 1)
	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		defer close(pages)
		hits := page.Hits
		for len(hits) > 0 {
			select {
			case pages <- hits:
			case <-groupCtx.Done():
				return groupCtx.Err()
			}
			next, err := s.DB.Scroll(groupCtx, scrollID)
			if err != nil {
				return err
			}
			scrollID = next.ScrollID
			hits = next.Hits
		}
		return nil
	})

	group.Go(func() error {
		for hits := range pages {
			if err := s.processPage(groupCtx, hits); err != nil {
				return err
			}
		}
		return nil
	})

	return group.Wait()
}

func (s *Stage) processPage(ctx context.Context, hits []store.Hit) error {
	var chunks []core.Chunk
	for _, hit := range hits {
		var src sourceArticle
		if err := json.Unmarshal(hit.Source, &src); err != nil {
			return fmt.Errorf("decoding article %s: %w", hit.ID, err)
		}
		chunks = append(chunks, s.buildChunks(hit.ID, src)...)
	}
	if len(chunks) == 0 {
		return nil
	}

	// Embed in bounded batches, then attach vectors in order.
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	offset := 0
	for _, group := range batch.Batches(texts, embedBatchSize) {
		vectors, err := s.Embedder.Embed(ctx, group)
		if err != nil {
			return fmt.Errorf("embedding %d chunks: %w", len(group), err)
		}
		for i, v := range vectors {
			chunks[offset+i].Embedding = v
		}
		offset += len(group)
	}

	bulkSize := s.BulkSize
	if bulkSize <= 0 {
		bulkSize = defaultBulkSize
	}
	items := make([]store.BulkItem, len(chunks))
	for i, c := range chunks {
		items[i] = store.BulkItem{ID: c.ID(), Doc: c}
	}
	for _, group := range batch.Batches(items, bulkSize) {
		failures, err := s.DB.BulkUpsert(ctx, s.TargetIndex, group)
		if err != nil {
			return err
		}
		for _, failure := range failures {
			logger.Warn("chunk insert failed",
				"chunk_id", failure.ID, "status", failure.Status, "reason", failure.Reason)
		}
	}
	logger.Info("page embedded", "documents", len(hits), "chunks", len(chunks))
	return nil
}

// buildChunks normalizes the article metadata and splits the abstract.
func (s *Stage) buildChunks(docID string, src sourceArticle) []core.Chunk {
	title := src.Title
	if title == "" {
		title = core.PlaceholderTitle
	}
	journal := src.Journal.JournalTitle
	if journal == "" {
		journal = core.PlaceholderJournal
	}

	var keywords, meshNames, meshIDs, chemicals, authorNames, affiliations []string
	for _, k := range src.Keywords {
		keywords = appendUnique(keywords, strings.ToLower(k.Name))
	}
	for _, m := range src.MeshTerms {
		meshNames = appendUnique(meshNames, strings.ToLower(m.Name))
		meshIDs = appendUnique(meshIDs, m.MeshID)
	}
	for _, c := range src.Chemicals {
		chemicals = appendUnique(chemicals, strings.ToLower(c.Name))
	}
	for _, a := range src.Authors {
		authorNames = appendUnique(authorNames, a.FirstName+" "+a.LastName)
		for _, affiliation := range a.Affiliations {
			institute := affiliation.Institute
			if institute == "" || institute == core.PlaceholderNone {
				institute = core.PlaceholderAffiliation
			}
			affiliations = appendUnique(affiliations, institute)
		}
	}
	if len(keywords) == 0 {
		keywords = []string{core.PlaceholderKeywords}
	}
	if len(meshNames) == 0 {
		meshNames = []string{core.PlaceholderMeshNames}
	}
	if len(meshIDs) == 0 {
		meshIDs = []string{core.PlaceholderMeshIDs}
	}
	if len(chemicals) == 0 {
		chemicals = []string{core.PlaceholderChemicals}
	}
	if len(authorNames) == 0 {
		authorNames = []string{core.PlaceholderAuthors}
	}
	if len(affiliations) == 0 {
		affiliations = []string{core.PlaceholderAffiliation}
	}

	var chunks []core.Chunk
	for j, text := range s.Chunker.Split(src.Abstract) {
		chunks = append(chunks, core.Chunk{
			DocumentSource:     s.SourceIndex,
			DocumentID:         docID,
			ArticleDate:        src.ArticleDate,
			Title:              title,
			JournalTitle:       journal,
			Keywords:           keywords,
			MeshTerms:          meshNames,
			MeshIDs:            meshIDs,
			Chemicals:          chemicals,
			AuthorNames:        authorNames,
			AuthorAffiliations: affiliations,
			ChunkID:            j,
			Text:               text,
		})
	}
	return chunks
}

func appendUnique(list []string, value string) []string {
	if value == "" || value == " " {
		return list
	}
	for _, existing := range list {
		if existing == value {
			return list
		}
	}
	return append(list, value)
}
