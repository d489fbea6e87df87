package eutils

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient("pubmed")
	c.baseURL = srv.URL
	c.pagePause = time.Millisecond
	c.retryDelay = time.Millisecond
	return c
}

func TestSearchIDsSmallResult(t *testing.T) {
	var query map[string]string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "esearch.fcgi") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		query = map[string]string{}
		for key := range r.URL.Query() {
			query[key] = r.URL.Query().Get(key)
		}
		fmt.Fprint(w, `<?xml version="1.0"?>
<eSearchResult>
  <Count>2</Count>
  <WebEnv>WE1</WebEnv>
  <QueryKey>1</QueryKey>
  <IdList><Id>100</Id><Id>101</Id></IdList>
</eSearchResult>`)
	}))

	ids, err := c.SearchIDs(context.Background(), "2024/01/01", "2024/01/01")
	if err != nil {
		t.Fatalf("SearchIDs: %v", err)
	}
	if len(ids) != 2 || ids[0] != "100" || ids[1] != "101" {
		t.Errorf("ids = %v", ids)
	}
	for key, want := range map[string]string{
		"db": "pubmed", "datetype": "pdat", "usehistory": "y",
		"mindate": "2024/01/01", "maxdate": "2024/01/01",
	} {
		if query[key] != want {
			t.Errorf("query[%s] = %q, want %q", key, query[key], want)
		}
	}
}

func TestSearchIDsPagesLargeResult(t *testing.T) {
	var fetchStarts []string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "esearch.fcgi") {
			fmt.Fprint(w, `<?xml version="1.0"?>
<eSearchResult>
  <Count>2000</Count>
  <WebEnv>WE9</WebEnv>
  <QueryKey>1</QueryKey>
  <IdList></IdList>
</eSearchResult>`)
			return
		}
		q := r.URL.Query()
		if q.Get("WebEnv") != "WE9" || q.Get("query_key") != "1" {
			t.Errorf("history params missing: %v", q)
		}
		fetchStarts = append(fetchStarts, q.Get("retstart"))
		fmt.Fprintf(w, `<?xml version="1.0"?>
<PubmedArticleSet>
  <PubmedArticle><MedlineCitation><PMID>%s0</PMID></MedlineCitation></PubmedArticle>
  <PubmedArticle><MedlineCitation><PMID>%s1</PMID></MedlineCitation></PubmedArticle>
</PubmedArticleSet>`, q.Get("retstart"), q.Get("retstart"))
	}))

	// Drop the paging threshold by faking Count >= 10000 through the
	// real path: count 2000 is under the threshold, so run pageHistory
	// directly with a large synthetic result instead.
	ids, err := c.pageHistory(context.Background(), esearchResult{
		Count: 2000, WebEnv: "WE9", QueryKey: "1",
	})
	if err != nil {
		t.Fatalf("pageHistory: %v", err)
	}
	if len(fetchStarts) != 2 || fetchStarts[0] != "0" || fetchStarts[1] != "1000" {
		t.Errorf("retstarts = %v, want [0 1000]", fetchStarts)
	}
	if len(ids) != 4 || ids[0] != "00" || ids[2] != "10000" {
		t.Errorf("ids = %v", ids)
	}
}

func TestSearchIDsRetriesTransientFailures(t *testing.T) {
	calls := 0
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `<eSearchResult><Count>1</Count><IdList><Id>7</Id></IdList></eSearchResult>`)
	}))
	ids, err := c.SearchIDs(context.Background(), "2024/01/01", "2024/01/02")
	if err != nil {
		t.Fatalf("SearchIDs: %v", err)
	}
	if len(ids) != 1 || ids[0] != "7" {
		t.Errorf("ids = %v", ids)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestFetchArticlesJoinsIDs(t *testing.T) {
	var gotIDs string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotIDs = r.URL.Query().Get("id")
		fmt.Fprint(w, `<PubmedArticleSet></PubmedArticleSet>`)
	}))
	body, err := c.FetchArticles(context.Background(), []string{"1", "2", "3"})
	if err != nil {
		t.Fatalf("FetchArticles: %v", err)
	}
	if gotIDs != "1,2,3" {
		t.Errorf("id param = %q", gotIDs)
	}
	if !strings.Contains(string(body), "PubmedArticleSet") {
		t.Errorf("body = %s", body)
	}
}

func TestArticleIDsSkipsMissingPMID(t *testing.T) {
	ids, err := articleIDs([]byte(`<PubmedArticleSet>
  <PubmedArticle><MedlineCitation><PMID>42</PMID></MedlineCitation></PubmedArticle>
  <PubmedArticle><MedlineCitation></MedlineCitation></PubmedArticle>
</PubmedArticleSet>`))
	if err != nil {
		t.Fatalf("articleIDs: %v", err)
	}
	if len(ids) != 1 || ids[0] != "42" {
		t.Errorf("ids = %v", ids)
	}
}
