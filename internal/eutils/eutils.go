// Package eutils is a client for the NCBI E-utilities endpoints used to
// discover and fetch PubMed articles. Publication date (pdat) is the search
// date type: it is the date the article became public, which is what a
// recency-ordered ingest needs.
package eutils

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"clustertalk/internal/batch"
	"clustertalk/internal/logger"
)

// BaseURL is the production E-utilities endpoint.
const BaseURL = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"

const (
	esearchUtility = "esearch.fcgi"
	efetchUtility  = "efetch.fcgi"

	// retmax large enough that a single esearch reports every match.
	maxArticles = 10_000_000

	// esearch truncates its id list at 10000; above that the history
	// server has to be paged instead.
	historyThreshold = 10_000
	historyPageSize  = 1000

	retryAttempts = 3
)

// Client talks to one E-utilities database.
type Client struct {
	baseURL  string
	database string
	http     *http.Client

	// pagePause throttles history-server paging. NCBI rate-limits
	// unauthenticated clients to 3 requests per second.
	pagePause  time.Duration
	retryDelay time.Duration
}

// NewClient returns a client for the given database (normally "pubmed").
func NewClient(database string) *Client {
	return &Client{
		baseURL:    BaseURL,
		database:   database,
		http:       &http.Client{Timeout: 60 * time.Second},
		pagePause:  time.Second,
		retryDelay: 5 * time.Second,
	}
}

// SearchIDs returns every article id published in [minDate, maxDate]
// (format YYYY/MM/DD). Result sets past the esearch limit are paged
// through the history server.
func (c *Client) SearchIDs(ctx context.Context, minDate, maxDate string) ([]string, error) {
	params := url.Values{
		"db":         {c.database},
		"mindate":    {minDate},
		"maxdate":    {maxDate},
		"retmode":    {"xml"},
		"datetype":   {"pdat"},
		"retmax":     {strconv.Itoa(maxArticles)},
		"usehistory": {"y"},
	}

	var result esearchResult
	err := batch.Retry(ctx, retryAttempts, c.retryDelay, batch.Linear, func() error {
		body, err := c.get(ctx, esearchUtility, params)
		if err != nil {
			return err
		}
		result = esearchResult{}
		if err := xml.Unmarshal(body, &result); err != nil {
			return fmt.Errorf("parsing esearch response: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("esearch %s to %s: %w", minDate, maxDate, err)
	}

	logger.Info("esearch completed",
		"mindate", minDate, "maxdate", maxDate, "count", result.Count)

	if result.Count < historyThreshold {
		return result.IDList.IDs, nil
	}
	return c.pageHistory(ctx, result)
}

// pageHistory walks a large result set through the history server in
// fixed-size pages, pausing between requests.
func (c *Client) pageHistory(ctx context.Context, result esearchResult) ([]string, error) {
	var all []string
	for start := 0; start < result.Count; start += historyPageSize {
		params := url.Values{
			"db":        {c.database},
			"WebEnv":    {result.WebEnv},
			"query_key": {result.QueryKey},
			"retmode":   {"xml"},
			"retstart":  {strconv.Itoa(start)},
			"retmax":    {strconv.Itoa(historyPageSize)},
		}

		var ids []string
		err := batch.Retry(ctx, retryAttempts, c.retryDelay, batch.Linear, func() error {
			body, err := c.get(ctx, efetchUtility, params)
			if err != nil {
				return err
			}
			ids, err = articleIDs(body)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("paging history results at offset %d: %w", start, err)
		}
		all = append(all, ids...)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.pagePause):
		}
	}
	return all, nil
}

// FetchArticles returns the raw article XML for a batch of ids.
func (c *Client) FetchArticles(ctx context.Context, ids []string) ([]byte, error) {
	params := url.Values{
		"db":      {c.database},
		"retmode": {"xml"},
		"id":      {strings.Join(ids, ",")},
	}
	var body []byte
	err := batch.Retry(ctx, retryAttempts, c.retryDelay, batch.Linear, func() error {
		var err error
		body, err = c.get(ctx, efetchUtility, params)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("efetch of %d articles: %w", len(ids), err)
	}
	return body, nil
}

func (c *Client) get(ctx context.Context, utility string, params url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/%s?%s", c.baseURL, utility, params.Encode()), nil)
	if err != nil {
		return nil, fmt.Errorf("building %s request: %w", utility, err)
	}
	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling %s: %w", utility, err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned status %d", utility, res.StatusCode)
	}
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s response: %w", utility, err)
	}
	return body, nil
}

type esearchResult struct {
	Count    int    `xml:"Count"`
	WebEnv   string `xml:"WebEnv"`
	QueryKey string `xml:"QueryKey"`
	IDList   struct {
		IDs []string `xml:"Id"`
	} `xml:"IdList"`
}

// articleIDs extracts the citation PMID of every PubmedArticle in an
// efetch response.
func articleIDs(body []byte) ([]string, error) {
	var set struct {
		Articles []struct {
			PMID string `xml:"MedlineCitation>PMID"`
		} `xml:"PubmedArticle"`
	}
	if err := xml.Unmarshal(body, &set); err != nil {
		return nil, fmt.Errorf("parsing efetch response: %w", err)
	}
	ids := make([]string, 0, len(set.Articles))
	for _, a := range set.Articles {
		if a.PMID != "" {
			ids = append(ids, a.PMID)
		}
	}
	return ids, nil
}
