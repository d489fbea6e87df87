// Package store wraps the OpenSearch client with the typed operations the
// pipeline stages need: idempotent index creation, mget-based dedupe,
// scrolled reads and bulk writes with per-item failure reporting.
package store

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"

	"clustertalk/internal/config"
	"clustertalk/internal/logger"
)

// ErrNotFound is returned by Get when the document does not exist.
var ErrNotFound = errors.New("store: document not found")

// ScrollKeepAlive is the keep-alive window for every scroll cursor.
const ScrollKeepAlive = 10 * time.Minute

// Client is a thin typed wrapper around the OpenSearch API client.
type Client struct {
	os *opensearch.Client
}

// Hit is one search result.
type Hit struct {
	ID     string          `json:"_id"`
	Score  float64         `json:"_score"`
	Source json.RawMessage `json:"_source"`
}

// Page is one page of search results plus the cursor to the next page.
type Page struct {
	Hits     []Hit
	Total    int
	ScrollID string
}

// BulkItem is one document of a bulk request.
type BulkItem struct {
	ID  string
	Doc any
}

// BulkFailure reports a single failed item of a bulk request. Per-item
// failures are data, not errors: the caller decides whether to continue.
type BulkFailure struct {
	ID     string
	Status int
	Reason string
}

// NewClient connects to the store described by cfg.
func NewClient(cfg config.Store) (*Client, error) {
	address := fmt.Sprintf("https://%s:%d", cfg.Host, cfg.Port)
	osc, err := opensearch.NewClient(opensearch.Config{
		Addresses: []string{address},
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: cfg.Insecure},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("creating store client: %w", err)
	}
	return &Client{os: osc}, nil
}

// EnsureIndex creates the index with the given mapping if it does not exist.
func (c *Client) EnsureIndex(ctx context.Context, name, mapping string) error {
	res, err := c.os.Indices.Exists(
		[]string{name},
		c.os.Indices.Exists.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("checking index %s: %w", name, err)
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusOK {
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("checking index %s: unexpected status %d", name, res.StatusCode)
	}

	createRes, err := c.os.Indices.Create(
		name,
		c.os.Indices.Create.WithContext(ctx),
		c.os.Indices.Create.WithBody(strings.NewReader(mapping)),
	)
	if err != nil {
		return fmt.Errorf("creating index %s: %w", name, err)
	}
	defer createRes.Body.Close()
	if createRes.IsError() {
		return fmt.Errorf("creating index %s: %s", name, responseError(createRes))
	}
	logger.Info("index created", "index", name)
	return nil
}

// MgetMissing returns the subset of ids that are not present in the index.
func (c *Client) MgetMissing(ctx context.Context, index string, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	docs := make([]map[string]string, 0, len(ids))
	for _, id := range ids {
		docs = append(docs, map[string]string{"_id": id})
	}
	body, err := json.Marshal(map[string]any{"docs": docs})
	if err != nil {
		return nil, fmt.Errorf("encoding mget request: %w", err)
	}

	res, err := c.os.Mget(
		bytes.NewReader(body),
		c.os.Mget.WithContext(ctx),
		c.os.Mget.WithIndex(index),
		c.os.Mget.WithSourceIncludes("_id"),
	)
	if err != nil {
		return nil, fmt.Errorf("mget on %s: %w", index, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("mget on %s: %s", index, responseError(res))
	}

	var parsed struct {
		Docs []struct {
			ID    string `json:"_id"`
			Found bool   `json:"found"`
		} `json:"docs"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decoding mget response: %w", err)
	}

	var missing []string
	for _, doc := range parsed.Docs {
		if !doc.Found {
			missing = append(missing, doc.ID)
		}
	}
	return missing, nil
}

// Search runs a plain (non-scrolled) search and returns one page.
func (c *Client) Search(ctx context.Context, index string, body any) (*Page, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding search request: %w", err)
	}
	res, err := c.os.Search(
		c.os.Search.WithContext(ctx),
		c.os.Search.WithIndex(index),
		c.os.Search.WithBody(bytes.NewReader(payload)),
	)
	if err != nil {
		return nil, fmt.Errorf("search on %s: %w", index, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("search on %s: %s", index, responseError(res))
	}
	return decodePage(res.Body)
}

// SearchScroll opens a scroll cursor over the query and returns the first
// page. The caller must drain with Scroll and finish with ClearScroll.
func (c *Client) SearchScroll(ctx context.Context, index string, body any, size int) (*Page, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding search request: %w", err)
	}
	res, err := c.os.Search(
		c.os.Search.WithContext(ctx),
		c.os.Search.WithIndex(index),
		c.os.Search.WithBody(bytes.NewReader(payload)),
		c.os.Search.WithSize(size),
		c.os.Search.WithScroll(ScrollKeepAlive),
	)
	if err != nil {
		return nil, fmt.Errorf("scrolled search on %s: %w", index, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("scrolled search on %s: %s", index, responseError(res))
	}
	return decodePage(res.Body)
}

// Scroll fetches the next page of an open scroll cursor.
func (c *Client) Scroll(ctx context.Context, scrollID string) (*Page, error) {
	res, err := c.os.Scroll(
		c.os.Scroll.WithContext(ctx),
		c.os.Scroll.WithScrollID(scrollID),
		c.os.Scroll.WithScroll(ScrollKeepAlive),
	)
	if err != nil {
		return nil, fmt.Errorf("scroll: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("scroll: %s", responseError(res))
	}
	return decodePage(res.Body)
}

// ClearScroll releases a scroll cursor. Safe to call with an empty id.
func (c *Client) ClearScroll(ctx context.Context, scrollID string) error {
	if scrollID == "" {
		return nil
	}
	res, err := c.os.ClearScroll(
		c.os.ClearScroll.WithContext(ctx),
		c.os.ClearScroll.WithScrollID(scrollID),
	)
	if err != nil {
		return fmt.Errorf("clearing scroll: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("clearing scroll: %s", responseError(res))
	}
	return nil
}

// BulkUpsert indexes all items and returns the per-item failures. It only
// returns an error for request-level failures; per-item failures never
// abort the batch.
func (c *Client) BulkUpsert(ctx context.Context, index string, items []BulkItem) ([]BulkFailure, error) {
	return c.bulk(ctx, index, "index", items)
}

// BulkUpdate applies partial documents to all items, reporting per-item
// failures the same way BulkUpsert does.
func (c *Client) BulkUpdate(ctx context.Context, index string, items []BulkItem) ([]BulkFailure, error) {
	return c.bulk(ctx, index, "update", items)
}

func (c *Client) bulk(ctx context.Context, index, op string, items []BulkItem) ([]BulkFailure, error) {
	if len(items) == 0 {
		return nil, nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, item := range items {
		action := map[string]map[string]string{
			op: {"_index": index, "_id": item.ID},
		}
		if err := enc.Encode(action); err != nil {
			return nil, fmt.Errorf("encoding bulk action: %w", err)
		}
		doc := item.Doc
		if op == "update" {
			doc = map[string]any{"doc": item.Doc}
		}
		if err := enc.Encode(doc); err != nil {
			return nil, fmt.Errorf("encoding bulk document %s: %w", item.ID, err)
		}
	}

	res, err := c.os.Bulk(
		bytes.NewReader(buf.Bytes()),
		c.os.Bulk.WithContext(ctx),
	)
	if err != nil {
		return nil, fmt.Errorf("bulk %s on %s: %w", op, index, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("bulk %s on %s: %s", op, index, responseError(res))
	}

	var parsed struct {
		Items []map[string]struct {
			ID     string `json:"_id"`
			Status int    `json:"status"`
			Error  *struct {
				Type   string `json:"type"`
				Reason string `json:"reason"`
			} `json:"error"`
		} `json:"items"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decoding bulk response: %w", err)
	}

	var failures []BulkFailure
	for _, item := range parsed.Items {
		for _, result := range item {
			if result.Status >= 300 {
				failure := BulkFailure{ID: result.ID, Status: result.Status}
				if result.Error != nil {
					failure.Reason = result.Error.Reason
				}
				failures = append(failures, failure)
			}
		}
	}
	return failures, nil
}

// Get fetches a document source by id. Returns ErrNotFound when absent.
func (c *Client) Get(ctx context.Context, index, id string) (json.RawMessage, error) {
	res, err := c.os.Get(index, id, c.os.Get.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", index, id, err)
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if res.IsError() {
		return nil, fmt.Errorf("get %s/%s: %s", index, id, responseError(res))
	}
	var parsed struct {
		Source json.RawMessage `json:"_source"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decoding get response: %w", err)
	}
	return parsed.Source, nil
}

// Update applies a partial document to a single id.
func (c *Client) Update(ctx context.Context, index, id string, partial any) error {
	body, err := json.Marshal(map[string]any{"doc": partial})
	if err != nil {
		return fmt.Errorf("encoding update: %w", err)
	}
	res, err := c.os.Update(index, id, bytes.NewReader(body), c.os.Update.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", index, id, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("update %s/%s: %s", index, id, responseError(res))
	}
	return nil
}

// DeleteByQuery removes every document matching the query.
func (c *Client) DeleteByQuery(ctx context.Context, index string, query any) error {
	body, err := json.Marshal(map[string]any{"query": query})
	if err != nil {
		return fmt.Errorf("encoding delete-by-query: %w", err)
	}
	res, err := c.os.DeleteByQuery(
		[]string{index},
		bytes.NewReader(body),
		c.os.DeleteByQuery.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("delete-by-query on %s: %w", index, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("delete-by-query on %s: %s", index, responseError(res))
	}
	return nil
}

// Count returns the number of documents in an index.
func (c *Client) Count(ctx context.Context, index string) (int, error) {
	res, err := c.os.Count(
		c.os.Count.WithContext(ctx),
		c.os.Count.WithIndex(index),
	)
	if err != nil {
		return 0, fmt.Errorf("count on %s: %w", index, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return 0, fmt.Errorf("count on %s: %s", index, responseError(res))
	}
	var parsed struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return 0, fmt.Errorf("decoding count response: %w", err)
	}
	return parsed.Count, nil
}

// MaxDepth returns the maximum value of the depth field across the index.
func (c *Client) MaxDepth(ctx context.Context, index string) (int, error) {
	body := map[string]any{
		"size": 0,
		"aggs": map[string]any{
			"max_depth": map[string]any{
				"max": map[string]any{"field": "depth"},
			},
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("encoding max-depth request: %w", err)
	}
	res, err := c.os.Search(
		c.os.Search.WithContext(ctx),
		c.os.Search.WithIndex(index),
		c.os.Search.WithBody(bytes.NewReader(payload)),
	)
	if err != nil {
		return 0, fmt.Errorf("max-depth on %s: %w", index, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return 0, fmt.Errorf("max-depth on %s: %s", index, responseError(res))
	}
	var parsed struct {
		Aggregations struct {
			MaxDepth struct {
				Value *float64 `json:"value"`
			} `json:"max_depth"`
		} `json:"aggregations"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return 0, fmt.Errorf("decoding max-depth response: %w", err)
	}
	if parsed.Aggregations.MaxDepth.Value == nil {
		return 0, fmt.Errorf("max-depth on %s: index has no depth values", index)
	}
	return int(*parsed.Aggregations.MaxDepth.Value), nil
}

func decodePage(body io.Reader) (*Page, error) {
	var parsed struct {
		ScrollID string `json:"_scroll_id"`
		Hits     struct {
			Total struct {
				Value int `json:"value"`
			} `json:"total"`
			Hits []Hit `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}
	return &Page{
		Hits:     parsed.Hits.Hits,
		Total:    parsed.Hits.Total.Value,
		ScrollID: parsed.ScrollID,
	}, nil
}

func responseError(res *opensearchapi.Response) string {
	data, err := io.ReadAll(res.Body)
	if err != nil || len(data) == 0 {
		return res.Status()
	}
	var parsed struct {
		Error struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &parsed); err == nil && parsed.Error.Reason != "" {
		return fmt.Sprintf("%s: %s", parsed.Error.Type, parsed.Error.Reason)
	}
	return res.Status()
}
