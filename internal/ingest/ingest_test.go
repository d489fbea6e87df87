package ingest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"clustertalk/internal/core"
	"clustertalk/internal/pubmed"
	"clustertalk/internal/store"
)

type fakeDB struct {
	ensured   []string
	existing  map[string]bool
	upserted  []store.BulkItem
	bulkSizes []int
	failIDs   map[string]bool
}

func (f *fakeDB) EnsureIndex(_ context.Context, name, _ string) error {
	f.ensured = append(f.ensured, name)
	return nil
}

func (f *fakeDB) MgetMissing(_ context.Context, _ string, ids []string) ([]string, error) {
	var missing []string
	for _, id := range ids {
		if !f.existing[id] {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

func (f *fakeDB) BulkUpsert(_ context.Context, _ string, items []store.BulkItem) ([]store.BulkFailure, error) {
	f.bulkSizes = append(f.bulkSizes, len(items))
	var failures []store.BulkFailure
	for _, item := range items {
		if f.failIDs[item.ID] {
			failures = append(failures, store.BulkFailure{ID: item.ID, Status: 400, Reason: "mapper_parsing_exception"})
			continue
		}
		f.upserted = append(f.upserted, item)
	}
	return failures, nil
}

type fakeSource struct {
	idsByDay    map[string][]string
	searched    []string
	fetched     [][]string
	fetchErrors int
	malformed   map[string]bool
}

func (f *fakeSource) SearchIDs(_ context.Context, minDate, maxDate string) ([]string, error) {
	if minDate != maxDate {
		return nil, fmt.Errorf("day search must use a single day, got %s..%s", minDate, maxDate)
	}
	f.searched = append(f.searched, minDate)
	return f.idsByDay[minDate], nil
}

func (f *fakeSource) FetchArticles(_ context.Context, ids []string) ([]byte, error) {
	if f.fetchErrors > 0 {
		f.fetchErrors--
		return nil, errors.New("service unavailable")
	}
	f.fetched = append(f.fetched, ids)
	set := "<PubmedArticleSet>"
	for _, id := range ids {
		if f.malformed[id] {
			// A citation with no PMID, as seen when the upstream schema drifts.
			set += `<PubmedArticle><MedlineCitation Status="MEDLINE">
				<Article><ArticleTitle>Untitled</ArticleTitle></Article>
			</MedlineCitation></PubmedArticle>`
			continue
		}
		set += fmt.Sprintf(`<PubmedArticle><MedlineCitation Status="MEDLINE">
			<PMID>%s</PMID>
			<Article>
				<ArticleTitle>Title %s</ArticleTitle>
				<ArticleDate><Year>2024</Year><Month>03</Month><Day>02</Day></ArticleDate>
			</Article>
		</MedlineCitation></PubmedArticle>`, id, id)
	}
	return []byte(set + "</PubmedArticleSet>"), nil
}

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestRunIngestsOnlyMissingArticles(t *testing.T) {
	db := &fakeDB{existing: map[string]bool{"1": true}}
	src := &fakeSource{idsByDay: map[string][]string{
		"2024/03/02": {"1", "2"},
		"2024/03/01": {"3"},
	}}
	ing := &Ingestor{DB: db, Source: src, Index: "articles"}

	stuck, err := ing.Run(context.Background(), day("2024-03-01"), day("2024-03-02"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(stuck) != 0 {
		t.Errorf("stuck days = %v", stuck)
	}
	if len(db.ensured) != 1 || db.ensured[0] != "articles" {
		t.Errorf("ensured = %v", db.ensured)
	}

	// Newest day first.
	if len(src.searched) != 2 || src.searched[0] != "2024/03/02" || src.searched[1] != "2024/03/01" {
		t.Errorf("searched = %v", src.searched)
	}

	// The already-indexed article must not be fetched again.
	if len(src.fetched) != 2 || len(src.fetched[0]) != 1 || src.fetched[0][0] != "2" {
		t.Errorf("fetched = %v", src.fetched)
	}
	if len(db.upserted) != 2 || db.upserted[0].ID != "2" || db.upserted[1].ID != "3" {
		t.Errorf("upserted = %v", db.upserted)
	}
}

func TestRunRecordsStuckDayAndContinues(t *testing.T) {
	db := &fakeDB{}
	src := &fakeSource{
		idsByDay: map[string][]string{
			"2024/03/02": {"5"},
			"2024/03/01": {"6"},
		},
		fetchErrors: 3,
	}
	ing := &Ingestor{DB: db, Source: src, Index: "articles"}

	stuck, err := ing.Run(context.Background(), day("2024-03-01"), day("2024-03-02"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(stuck) != 1 || stuck[0] != "2024/03/02" {
		t.Errorf("stuck days = %v", stuck)
	}

	// The newer day exhausted its three attempts; the older day still ran.
	if len(src.searched) != 4 {
		t.Errorf("searched %d times: %v", len(src.searched), src.searched)
	}
	if len(db.upserted) != 1 || db.upserted[0].ID != "6" {
		t.Errorf("upserted = %v", db.upserted)
	}
}

func TestRunStopsOnParseFailure(t *testing.T) {
	db := &fakeDB{}
	src := &fakeSource{
		idsByDay: map[string][]string{
			"2024/03/03": {"7"},
			"2024/03/02": {"8"},
			"2024/03/01": {"9"},
		},
		malformed: map[string]bool{"7": true},
	}
	acknowledged := false
	ing := &Ingestor{DB: db, Source: src, Index: "articles",
		Acknowledge: func() { acknowledged = true }}

	stuck, err := ing.Run(context.Background(), day("2024-03-01"), day("2024-03-03"))
	if err == nil {
		t.Fatal("Run must fail when an article cannot be parsed")
	}
	var parseErr *pubmed.ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("Run error = %v, want a parse error", err)
	}
	if !acknowledged {
		t.Error("parse failure must wait for operator acknowledgement")
	}

	// No retries on the broken day, and no descent into earlier days.
	if len(src.searched) != 1 || len(src.fetched) != 1 {
		t.Errorf("searched %v, fetched %v after parse failure", src.searched, src.fetched)
	}
	if len(stuck) != 0 || len(db.upserted) != 0 {
		t.Errorf("stuck = %v, upserted = %v", stuck, db.upserted)
	}
}

func TestIngestDayContinuesPastFailedBatch(t *testing.T) {
	db := &fakeDB{failIDs: map[string]bool{"2": true}}
	src := &fakeSource{idsByDay: map[string][]string{
		"2024/03/02": {"1", "2", "3"},
	}}
	ing := &Ingestor{DB: db, Source: src, Index: "articles", BatchSize: 1, DayAttempts: 1}

	stuck, err := ing.Run(context.Background(), day("2024-03-02"), day("2024-03-02"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(stuck) != 1 || stuck[0] != "2024/03/02" {
		t.Errorf("stuck days = %v", stuck)
	}

	// The failing batch must not block the ones after it.
	if len(src.fetched) != 3 {
		t.Errorf("fetched %d batches: %v", len(src.fetched), src.fetched)
	}
	if len(db.upserted) != 2 || db.upserted[0].ID != "1" || db.upserted[1].ID != "3" {
		t.Errorf("upserted = %v", db.upserted)
	}
}

func TestIngestBatchInsertsInSubBatches(t *testing.T) {
	ids := make([]string, 120)
	for i := range ids {
		ids[i] = fmt.Sprintf("%d", i+1)
	}
	db := &fakeDB{}
	src := &fakeSource{idsByDay: map[string][]string{"2024/03/02": ids}}
	ing := &Ingestor{DB: db, Source: src, Index: "articles"}

	if _, err := ing.Run(context.Background(), day("2024-03-02"), day("2024-03-02")); err != nil {
		t.Fatalf("Run: %v", err)
	}
	// 120 ids arrive as fetch batches of 100 and 20, inserted 50 at a time.
	want := []int{50, 50, 20}
	if len(db.bulkSizes) != len(want) {
		t.Fatalf("bulk sizes = %v, want %v", db.bulkSizes, want)
	}
	for i, n := range want {
		if db.bulkSizes[i] != n {
			t.Errorf("bulk sizes = %v, want %v", db.bulkSizes, want)
			break
		}
	}
	if len(db.upserted) != 120 {
		t.Errorf("upserted %d articles, want 120", len(db.upserted))
	}
}

func TestRunSkipsEmptyDays(t *testing.T) {
	db := &fakeDB{}
	src := &fakeSource{idsByDay: map[string][]string{}}
	ing := &Ingestor{DB: db, Source: src, Index: "articles"}

	stuck, err := ing.Run(context.Background(), day("2024-03-02"), day("2024-03-02"))
	if err != nil || len(stuck) != 0 {
		t.Fatalf("Run: %v, stuck %v", err, stuck)
	}
	if len(src.fetched) != 0 || len(db.upserted) != 0 {
		t.Errorf("empty day must not fetch or insert")
	}
}

func TestNormalizeArticleFillsPlaceholders(t *testing.T) {
	a := core.Article{
		Authors: []core.Author{
			{FirstName: "Ada", LastName: "Smith"},
			{FirstName: "Bo", LastName: "Li", Affiliations: []core.Affiliation{{Institute: ""}}},
		},
		Chemicals: []core.Chemical{{ChemicalMeshID: "D1"}},
		Keywords:  []core.Keyword{{Major: true}},
		MeshTerms: []core.MeshTerm{{MeshID: "D2"}},
	}
	normalizeArticle(&a)

	if a.Title != core.PlaceholderNone || a.VernacularTitle != core.PlaceholderNone {
		t.Errorf("titles = %q / %q", a.Title, a.VernacularTitle)
	}
	if a.Abstract != core.PlaceholderAbstract {
		t.Errorf("abstract = %q", a.Abstract)
	}
	if a.OtherAbstract != core.PlaceholderNone {
		t.Errorf("otherAbstract = %q", a.OtherAbstract)
	}
	if len(a.Authors[0].Affiliations) != 1 || a.Authors[0].Affiliations[0].Institute != core.PlaceholderNone {
		t.Errorf("missing affiliations = %v", a.Authors[0].Affiliations)
	}
	if a.Authors[1].Affiliations[0].Institute != core.PlaceholderNone {
		t.Errorf("empty institute = %v", a.Authors[1].Affiliations)
	}
	if a.Chemicals[0].Name != core.PlaceholderNone ||
		a.Keywords[0].Name != core.PlaceholderNone ||
		a.MeshTerms[0].Name != core.PlaceholderNone {
		t.Errorf("names = %q %q %q", a.Chemicals[0].Name, a.Keywords[0].Name, a.MeshTerms[0].Name)
	}
}
