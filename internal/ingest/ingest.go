// Package ingest drives article collection: it walks a date range one day
// at a time, newest first, fetches the day's article ids from the external
// article service, and loads every article not yet present in the source
// index. Days run independently so an interrupted run can be resumed with a
// narrower range.
package ingest

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"clustertalk/internal/batch"
	"clustertalk/internal/core"
	"clustertalk/internal/logger"
	"clustertalk/internal/pubmed"
	"clustertalk/internal/store"
)

const (
	defaultBatchSize   = 100
	insertBatchSize    = 50
	defaultDayAttempts = 3
)

// Store is the slice of the document store the ingestor needs.
type Store interface {
	EnsureIndex(ctx context.Context, name, mapping string) error
	MgetMissing(ctx context.Context, index string, ids []string) ([]string, error)
	BulkUpsert(ctx context.Context, index string, items []store.BulkItem) ([]store.BulkFailure, error)
}

// Source lists and fetches articles from the external article service.
type Source interface {
	SearchIDs(ctx context.Context, minDate, maxDate string) ([]string, error)
	FetchArticles(ctx context.Context, ids []string) ([]byte, error)
}

// Ingestor loads articles for a date range into the source index.
type Ingestor struct {
	DB     Store
	Source Source
	Index  string

	BatchSize   int
	DayAttempts int

	// Acknowledge blocks until the operator has seen a fatal parse failure.
	// Left nil, it waits for Enter on stdin.
	Acknowledge func()
}

// Run ingests every day in [startDate, endDate], walking backwards from
// endDate. A day that still fails after DayAttempts passes is recorded and
// skipped; the returned slice lists the days that need a re-run. A parse
// failure means the upstream payload shape changed and every later batch
// would silently drop articles, so it stops the run instead of being
// retried: the failing article is reported, the operator acknowledges, and
// Run returns the error.
func (g *Ingestor) Run(ctx context.Context, startDate, endDate time.Time) ([]string, error) {
	if err := g.DB.EnsureIndex(ctx, g.Index, store.ArticleMapping); err != nil {
		return nil, err
	}

	attempts := g.DayAttempts
	if attempts <= 0 {
		attempts = defaultDayAttempts
	}

	var stuckDays []string
	for current := endDate; !current.Before(startDate); current = current.AddDate(0, 0, -1) {
		day := current.Format("2006/01/02")

		var err error
		for attempt := 1; attempt <= attempts; attempt++ {
			if err = g.ingestDay(ctx, day); err == nil {
				break
			}
			if ctx.Err() != nil {
				return stuckDays, err
			}
			var parseErr *pubmed.ParseError
			if errors.As(err, &parseErr) {
				logger.Error("article parse failed, terminating run", err, "date", day, "pmid", parseErr.PMID)
				g.acknowledge()
				return stuckDays, err
			}
			logger.Warn("day ingest failed", "date", day, "attempt", attempt, "error", err)
		}
		if err != nil {
			logger.Error("giving up on day after repeated failures", err, "date", day)
			stuckDays = append(stuckDays, day)
		}
	}

	if len(stuckDays) > 0 {
		logger.Warn("run finished with incomplete days", "days", stuckDays)
	}
	return stuckDays, nil
}

// acknowledge pauses the run so the operator sees the parse failure before
// the process exits.
func (g *Ingestor) acknowledge() {
	if g.Acknowledge != nil {
		g.Acknowledge()
		return
	}
	fmt.Println("Press Enter to acknowledge the error and terminate the script...")
	_, _ = bufio.NewReader(os.Stdin).ReadString('\n')
}

// ingestDay loads all new articles published on one day. Any failure leaves
// the day incomplete; already-indexed articles are simply re-skipped on
// retry.
func (g *Ingestor) ingestDay(ctx context.Context, day string) error {
	ids, err := g.Source.SearchIDs(ctx, day, day)
	if err != nil {
		return fmt.Errorf("listing articles for %s: %w", day, err)
	}
	if len(ids) == 0 {
		logger.Info("no articles for day", "date", day)
		return nil
	}

	missing, err := g.DB.MgetMissing(ctx, g.Index, ids)
	if err != nil {
		return fmt.Errorf("checking existing articles for %s: %w", day, err)
	}
	if len(missing) == 0 {
		logger.Info("day already ingested", "date", day, "found", len(ids))
		return nil
	}

	batchSize := g.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	loaded := 0
	failedBatches := 0
	for _, idBatch := range batch.Batches(missing, batchSize) {
		if err := g.ingestBatch(ctx, idBatch); err != nil {
			var parseErr *pubmed.ParseError
			if errors.As(err, &parseErr) || ctx.Err() != nil {
				return err
			}
			// A failed batch leaves the day incomplete but must not block
			// the remaining batches.
			logger.Warn("batch ingest failed", "date", day, "size", len(idBatch), "error", err)
			failedBatches++
			continue
		}
		loaded += len(idBatch)
	}
	if failedBatches > 0 {
		return fmt.Errorf("%d batches failed for %s", failedBatches, day)
	}
	logger.Info("day ingested", "date", day, "found", len(ids), "new", loaded)
	return nil
}

func (g *Ingestor) ingestBatch(ctx context.Context, ids []string) error {
	data, err := g.Source.FetchArticles(ctx, ids)
	if err != nil {
		return fmt.Errorf("fetching %d articles: %w", len(ids), err)
	}
	articles, err := pubmed.ParseArticleSet(data)
	if err != nil {
		return err
	}

	items := make([]store.BulkItem, len(articles))
	for i := range articles {
		normalizeArticle(&articles[i])
		items[i] = store.BulkItem{ID: articles[i].PMID, Doc: articles[i]}
	}
	failed := 0
	for _, insertBatch := range batch.Batches(items, insertBatchSize) {
		failures, err := g.DB.BulkUpsert(ctx, g.Index, insertBatch)
		if err != nil {
			return fmt.Errorf("indexing %d articles: %w", len(insertBatch), err)
		}
		for _, failure := range failures {
			logger.Warn("article insert failed",
				"pmid", failure.ID, "status", failure.Status, "reason", failure.Reason)
		}
		failed += len(failures)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d articles failed to index", failed, len(items))
	}
	return nil
}

// normalizeArticle replaces empty text fields with the store placeholders so
// downstream filters can rely on literal values instead of null checks.
func normalizeArticle(a *core.Article) {
	if a.Title == "" {
		a.Title = core.PlaceholderNone
	}
	if a.VernacularTitle == "" {
		a.VernacularTitle = core.PlaceholderNone
	}
	if a.Abstract == "" {
		a.Abstract = core.PlaceholderAbstract
	}
	if a.OtherAbstract == "" {
		a.OtherAbstract = core.PlaceholderNone
	}
	for i := range a.Authors {
		author := &a.Authors[i]
		if len(author.Affiliations) == 0 {
			author.Affiliations = []core.Affiliation{{Institute: core.PlaceholderNone}}
			continue
		}
		for j := range author.Affiliations {
			if author.Affiliations[j].Institute == "" {
				author.Affiliations[j].Institute = core.PlaceholderNone
			}
		}
	}
	for i := range a.Chemicals {
		if a.Chemicals[i].Name == "" {
			a.Chemicals[i].Name = core.PlaceholderNone
		}
	}
	for i := range a.Keywords {
		if a.Keywords[i].Name == "" {
			a.Keywords[i].Name = core.PlaceholderNone
		}
	}
	for i := range a.MeshTerms {
		if a.MeshTerms[i].Name == "" {
			a.MeshTerms[i].Name = core.PlaceholderNone
		}
	}
}
