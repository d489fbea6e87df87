package store

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/opensearch-project/opensearch-go/v2"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	osc, err := opensearch.NewClient(opensearch.Config{Addresses: []string{srv.URL}})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return &Client{os: osc}
}

func TestEnsureIndexSkipsExisting(t *testing.T) {
	var created bool
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusOK)
			return
		}
		created = true
		w.WriteHeader(http.StatusOK)
	}))
	if err := c.EnsureIndex(context.Background(), "articles", ArticleMapping); err != nil {
		t.Fatalf("EnsureIndex: %v", err)
	}
	if created {
		t.Error("existing index must not be recreated")
	}
}

func TestEnsureIndexCreatesMissing(t *testing.T) {
	var gotMapping map[string]any
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodHead:
			w.WriteHeader(http.StatusNotFound)
		case http.MethodPut:
			if err := json.NewDecoder(r.Body).Decode(&gotMapping); err != nil {
				t.Errorf("decoding mapping: %v", err)
			}
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"acknowledged":true}`))
		default:
			t.Errorf("unexpected method %s", r.Method)
		}
	}))
	if err := c.EnsureIndex(context.Background(), "chunks", ChunkMapping); err != nil {
		t.Fatalf("EnsureIndex: %v", err)
	}
	if gotMapping == nil {
		t.Fatal("mapping body was not sent")
	}
	if _, ok := gotMapping["mappings"]; !ok {
		t.Error("mapping body missing mappings section")
	}
}

func TestMgetMissing(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"docs":[
			{"_id":"1","found":true},
			{"_id":"2","found":false},
			{"_id":"3","found":false}
		]}`))
	}))
	missing, err := c.MgetMissing(context.Background(), "articles", []string{"1", "2", "3"})
	if err != nil {
		t.Fatalf("MgetMissing: %v", err)
	}
	if len(missing) != 2 || missing[0] != "2" || missing[1] != "3" {
		t.Errorf("missing = %v, want [2 3]", missing)
	}

	if got, err := c.MgetMissing(context.Background(), "articles", nil); err != nil || got != nil {
		t.Errorf("empty input: got %v, %v", got, err)
	}
}

func TestBulkUpsertReportsItemFailures(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"errors":true,"items":[
			{"index":{"_id":"a","status":201}},
			{"index":{"_id":"b","status":400,"error":{"type":"mapper_parsing_exception","reason":"failed to parse"}}}
		]}`))
	}))
	failures, err := c.BulkUpsert(context.Background(), "articles", []BulkItem{
		{ID: "a", Doc: map[string]string{"title": "x"}},
		{ID: "b", Doc: map[string]string{"title": "y"}},
	})
	if err != nil {
		t.Fatalf("BulkUpsert: %v", err)
	}
	if len(failures) != 1 {
		t.Fatalf("failures = %v, want one", failures)
	}
	if failures[0].ID != "b" || failures[0].Status != 400 || !strings.Contains(failures[0].Reason, "failed to parse") {
		t.Errorf("failure = %+v", failures[0])
	}
}

func TestBulkUpdateWrapsPartialDoc(t *testing.T) {
	var body string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		body = string(data)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"errors":false,"items":[{"update":{"_id":"a","status":200}}]}`))
	}))
	failures, err := c.BulkUpdate(context.Background(), "articles", []BulkItem{
		{ID: "a", Doc: map[string]string{"vectorisedFlag": "Y"}},
	})
	if err != nil {
		t.Fatalf("BulkUpdate: %v", err)
	}
	if len(failures) != 0 {
		t.Errorf("failures = %v, want none", failures)
	}
	if !strings.Contains(body, `"doc":{"vectorisedFlag":"Y"}`) {
		t.Errorf("update body must wrap the partial in doc, got %s", body)
	}
}

func TestGetNotFound(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	if _, err := c.Get(context.Background(), "clusters", "cluster_999"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestSearchScrollAndDrain(t *testing.T) {
	page := 0
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if strings.Contains(r.URL.Path, "_search/scroll") {
			w.Write([]byte(`{"_scroll_id":"cursor-2","hits":{"total":{"value":3},"hits":[]}}`))
			return
		}
		page++
		w.Write([]byte(`{"_scroll_id":"cursor-1","hits":{"total":{"value":3},"hits":[
			{"_id":"1","_score":1.0,"_source":{"documentID":"1"}},
			{"_id":"2","_score":0.9,"_source":{"documentID":"2"}}
		]}}`))
	}))

	first, err := c.SearchScroll(context.Background(), "chunks", map[string]any{"query": map[string]any{"match_all": map[string]any{}}}, 2)
	if err != nil {
		t.Fatalf("SearchScroll: %v", err)
	}
	if len(first.Hits) != 2 || first.Total != 3 || first.ScrollID != "cursor-1" {
		t.Fatalf("first page = %+v", first)
	}

	next, err := c.Scroll(context.Background(), first.ScrollID)
	if err != nil {
		t.Fatalf("Scroll: %v", err)
	}
	if len(next.Hits) != 0 {
		t.Errorf("drained page should be empty, got %d hits", len(next.Hits))
	}

	if err := c.ClearScroll(context.Background(), ""); err != nil {
		t.Errorf("ClearScroll with empty id: %v", err)
	}
}

func TestMaxDepth(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"hits":{"total":{"value":10},"hits":[]},"aggregations":{"max_depth":{"value":37}}}`))
	}))
	depth, err := c.MaxDepth(context.Background(), "clusters")
	if err != nil {
		t.Fatalf("MaxDepth: %v", err)
	}
	if depth != 37 {
		t.Errorf("depth = %d, want 37", depth)
	}
}

func TestMappingsAreValidJSON(t *testing.T) {
	for name, mapping := range map[string]string{
		"article":  ArticleMapping,
		"chunk":    ChunkMapping,
		"cluster":  ClusterMapping,
		"document": DocumentMapping,
	} {
		var parsed map[string]any
		if err := json.Unmarshal([]byte(mapping), &parsed); err != nil {
			t.Errorf("%s mapping: %v", name, err)
		}
	}
}
