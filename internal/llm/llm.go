// Package llm wraps the Gemini client for the three generation duties of the
// pipeline: topic metadata, parent-cluster metadata, and RAG answers. Calls
// are paced so long labeling runs stay inside the API rate limits.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"google.golang.org/genai"

	"clustertalk/internal/config"
	"clustertalk/internal/core"
	"clustertalk/internal/logger"
)

const (
	// TopicMetadataPromptTemplate asks for a label and description for one
	// topic's ranked keywords. The model must return bare JSON.
	TopicMetadataPromptTemplate = "You are a helpful assistant that returns structured JSON data for topic modeling.\n\n" +
		"You are given topic keywords in order of importance: %s. " +
		"Generate a JSON object with the following two fields:\n" +
		"- 'label': A concise topic label using **at most three words**, summarizing the topic clearly. Do not use punctuation.\n" +
		"- 'description': A short informative sentence of **at most 15 words** that summarizes the topic, emphasizing the most important terms.\n\n" +
		"Return only a valid JSON object and nothing else."

	// ParentMetadataPromptTemplate asks for combined metadata over the
	// labeled children of a merged cluster.
	ParentMetadataPromptTemplate = "You are a helpful assistant that returns structured JSON data for topic modeling.\n\n" +
		"You are given several topics and their descriptions:\n\n%s\n\n" +
		"Generate a JSON object with:\n" +
		"- 'label': A concise topic label using **at most three words**, summarizing the topic clearly. Do not use punctuation.\n" +
		"- 'description': A short informative sentence of **at most 15 words** that summarizes the combined meaning of all topics.\n\n" +
		"Return only a valid JSON object and nothing else."
)

// metadataMaxTokens bounds label+description generations.
const metadataMaxTokens = 50

// metadataTemperature keeps labels deterministic across reruns.
const metadataTemperature = 0.1

// DefaultPace is the minimum interval between generation calls.
const DefaultPace = 2 * time.Second

// Metadata is the labeled summary of a topic or cluster.
type Metadata struct {
	Label       string `json:"label"`
	Description string `json:"description"`
}

// ParseFailureError reports model output that was not the requested JSON.
// Callers treat it as degradable: the pipeline continues with empty
// metadata rather than aborting a long run.
type ParseFailureError struct {
	RawOutput string
	Err       error
}

func (e *ParseFailureError) Error() string {
	return fmt.Sprintf("failed to parse JSON from model output: %v (raw: %q)", e.Err, e.RawOutput)
}

func (e *ParseFailureError) Unwrap() error { return e.Err }

// GenerationOptions control a single generation call.
type GenerationOptions struct {
	MaxTokens   int32
	Temperature float32
}

// Generator is the generation surface the pipeline stages depend on.
type Generator interface {
	GenerateText(ctx context.Context, prompt string, opts GenerationOptions) (string, error)
}

// Client is a paced Gemini client.
type Client struct {
	modelName string
	gClient   *genai.Client

	mu   sync.Mutex
	last time.Time
	pace time.Duration
}

// NewClient creates a Gemini client from the LLM configuration.
func NewClient(ctx context.Context, cfg config.LLM) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm api key is required")
	}
	gClient, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating Gemini client: %w", err)
	}
	return &Client{
		modelName: cfg.Model,
		gClient:   gClient,
		pace:      DefaultPace,
	}, nil
}

// GenerateText runs one paced generation call. Transient failures are
// retried once; client errors (4xx) are not.
func (c *Client) GenerateText(ctx context.Context, prompt string, opts GenerationOptions) (string, error) {
	c.throttle(ctx)

	text, err := c.generate(ctx, prompt, opts)
	if err == nil {
		return text, nil
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) && apiErr.Code >= 400 && apiErr.Code < 500 {
		return "", err
	}

	logger.Warn("generation failed, retrying once", "error", err.Error())
	c.throttle(ctx)
	return c.generate(ctx, prompt, opts)
}

func (c *Client) generate(ctx context.Context, prompt string, opts GenerationOptions) (string, error) {
	contents := []*genai.Content{{
		Parts: []*genai.Part{{Text: prompt}},
		Role:  "user",
	}}

	var config *genai.GenerateContentConfig
	if opts.MaxTokens > 0 || opts.Temperature > 0 {
		config = &genai.GenerateContentConfig{}
		if opts.MaxTokens > 0 {
			config.MaxOutputTokens = opts.MaxTokens
		}
		if opts.Temperature > 0 {
			config.Temperature = genai.Ptr(opts.Temperature)
		}
	}

	resp, err := c.gClient.Models.GenerateContent(ctx, c.modelName, contents, config)
	if err != nil {
		return "", fmt.Errorf("generating content: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("empty response from model")
	}
	return text, nil
}

// throttle blocks until the pace interval since the previous call elapsed.
func (c *Client) throttle(ctx context.Context) {
	c.mu.Lock()
	wait := c.pace - time.Since(c.last)
	c.last = time.Now().Add(wait)
	c.mu.Unlock()
	if wait <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(wait):
	}
}

// TopicMetadata generates a label and description for a topic's ranked
// keywords.
func TopicMetadata(ctx context.Context, gen Generator, words []core.WordScore) (Metadata, error) {
	names := make([]string, 0, len(words))
	for _, w := range words {
		names = append(names, w.Word)
	}
	prompt := fmt.Sprintf(TopicMetadataPromptTemplate, strings.Join(names, ", "))
	return generateMetadata(ctx, gen, prompt)
}

// ParentMetadata generates combined metadata for a merged cluster from its
// children's labels and descriptions.
func ParentMetadata(ctx context.Context, gen Generator, labels, descriptions []string) (Metadata, error) {
	blocks := make([]string, 0, len(labels))
	for i, label := range labels {
		desc := ""
		if i < len(descriptions) {
			desc = descriptions[i]
		}
		blocks = append(blocks, fmt.Sprintf("Topic %d: %s - %s", i+1, label, desc))
	}
	prompt := fmt.Sprintf(ParentMetadataPromptTemplate, strings.Join(blocks, "\n"))
	return generateMetadata(ctx, gen, prompt)
}

func generateMetadata(ctx context.Context, gen Generator, prompt string) (Metadata, error) {
	content, err := gen.GenerateText(ctx, prompt, GenerationOptions{
		MaxTokens:   metadataMaxTokens,
		Temperature: metadataTemperature,
	})
	if err != nil {
		return Metadata{}, err
	}

	raw, err := ExtractJSON(content)
	if err != nil {
		return Metadata{}, &ParseFailureError{RawOutput: content, Err: err}
	}
	var meta Metadata
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return Metadata{}, &ParseFailureError{RawOutput: content, Err: err}
	}
	return meta, nil
}

// ExtractJSON returns the first balanced top-level JSON object in s. Models
// regularly wrap their JSON in prose or code fences.
func ExtractJSON(s string) (string, error) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", fmt.Errorf("no JSON object found in output")
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("unbalanced JSON object in output")
}
