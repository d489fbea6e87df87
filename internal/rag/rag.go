// Package rag answers questions over the indexed corpus. Document-specific
// questions retrieve the nearest sentence chunks by vector similarity and
// ground the answer strictly in them; corpus-specific questions retrieve
// cluster metadata, either by the labels the caller supplies or by parsing
// the question into a structured intent first.
package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"clustertalk/internal/config"
	"clustertalk/internal/embed"
	"clustertalk/internal/llm"
	"clustertalk/internal/logger"
	"clustertalk/internal/store"
)

const (
	// TopK is the number of chunks retrieved for a document question.
	TopK = 10

	// MaxSourceDocuments caps the document ids reported as sources.
	MaxSourceDocuments = 5

	// knowledgeReserve is the token headroom kept free for the model's
	// own answer framing on top of prompt, question and knowledge.
	knowledgeReserve = 100

	// corpusInfoDepthBand selects the top hierarchy levels for general
	// corpus questions: everything within this many levels of the
	// deepest cluster.
	corpusInfoDepthBand = 4

	corpusInfoSize = 10000

	defaultContextWindow = 4096
	defaultAnswerTokens  = 200
	defaultTemperature   = 0.1
)

// ContextPromptTemplate grounds the answer in the retrieved chunks. The
// first verb is knowledge, the second the question.
const ContextPromptTemplate = `Your primary task is to answer questions based STRICTLY on the provided context.
<context>
CONTEXT: %s
<context>

RULES:
- ONLY answer if the question relates directly to the provided context.
- Do NOT provide information that is not explicitly mentioned in the context. Avoid adding details from outside the context.
- If the question does NOT directly match with the context, respond with I do not know.
- If no context is provided, always respond with I do not know.
- Avoid adding QUESTION in the answer.

REMEMBER: Stick to the context.
<question>
QUESTION: %s
<question>

ANSWER: `

// ParseQueryPromptTemplate turns a free-form corpus question into a
// structured intent.
const ParseQueryPromptTemplate = `You are an assistant that parses user queries into structured intents for querying a corpus.

Given the following user query, extract the intent and relevant parameters in JSON format ONLY. Do not include any additional text or comments.

Supported intents:
1. list_topics_in_cluster
2. list_questions_in_cluster
3. get_corpus_info

User Query: "%s"

Output JSON ONLY in the following format without any additional text:
{
    "intent": "<intent_name>",
    "parameters": {
        // parameters based on intent
    }
}`

// GenerateAnswerPromptTemplate phrases an answer over retrieved cluster
// metadata. The first verb is the question, the second the retrieved data.
const GenerateAnswerPromptTemplate = `You are an assistant that provides answers based on the retrieved data from a corpus.

Given the user query and the retrieved data, generate a concise and informative answer.

User Query: "%s"

Retrieved Data:
%s

Answer:`

// Supported corpus intents.
const (
	IntentListTopics    = "list_topics_in_cluster"
	IntentListQuestions = "list_questions_in_cluster"
	IntentCorpusInfo    = "get_corpus_info"
)

// Store is the slice of the document store the processor needs.
type Store interface {
	Search(ctx context.Context, index string, body any) (*store.Page, error)
	MaxDepth(ctx context.Context, index string) (int, error)
}

// Processor answers document-specific and corpus-specific questions.
type Processor struct {
	DB        Store
	Generator llm.Generator
	Embedder  embed.Embedder

	// ChunkIndex holds the sentence chunks with their vectors,
	// ClusterIndex the hierarchy metadata.
	ChunkIndex   string
	ClusterIndex string

	// Profile bounds the context window and answer length. Zero fields
	// fall back to the defaults.
	Profile config.ModelProfile
}

// chunkSource is the retrieved slice of a sentence chunk.
type chunkSource struct {
	Text       string `json:"abstract_chunk"`
	DocumentID string `json:"documentID"`
}

// clusterSource is the retrieved slice of a cluster document.
type clusterSource struct {
	Label       string   `json:"label"`
	Description string   `json:"description"`
	TopicWords  []string `json:"topic_words"`
}

type parsedIntent struct {
	Intent     string          `json:"intent"`
	Parameters json.RawMessage `json:"parameters"`
}

// AnswerDocumentQuestion retrieves the chunks nearest to the question,
// packs as many as the context window allows and generates a grounded
// answer. When documentIDs is non-empty, retrieval is restricted to them.
// It returns the answer and the ids of the documents that contributed.
func (p *Processor) AnswerDocumentQuestion(ctx context.Context, question string, documentIDs []string) (string, []string, error) {
	vectors, err := p.Embedder.Embed(ctx, []string{question})
	if err != nil {
		return "", nil, fmt.Errorf("embedding question: %w", err)
	}

	knowledge, sources, err := p.retrieveKnowledge(ctx, question, vectors[0], documentIDs)
	if err != nil {
		return "", nil, err
	}

	prompt := fmt.Sprintf(ContextPromptTemplate, knowledge, question)
	answer, err := p.Generator.GenerateText(ctx, prompt, p.answerOptions())
	if err != nil {
		return "", nil, fmt.Errorf("generating answer: %w", err)
	}
	return strings.TrimSpace(answer), sources, nil
}

// retrieveKnowledge runs the similarity search and packs hits in score
// order until the token budget is spent.
func (p *Processor) retrieveKnowledge(ctx context.Context, question string, vector []float64, documentIDs []string) (string, []string, error) {
	filter := []any{}
	if len(documentIDs) > 0 {
		filter = append(filter, map[string]any{"terms": map[string]any{"documentID": documentIDs}})
	}
	body := map[string]any{
		"size": TopK,
		"query": map[string]any{
			"script_score": map[string]any{
				"query": map[string]any{"bool": map[string]any{"filter": filter}},
				"script": map[string]any{
					"source": `cosineSimilarity(params.query_value, doc["pubmed_bert_vector"]) + 1.0`,
					"params": map[string]any{"query_value": vector},
				},
			},
		},
		"_source": []string{"abstract_chunk", "documentID"},
	}
	page, err := p.DB.Search(ctx, p.ChunkIndex, body)
	if err != nil {
		return "", nil, fmt.Errorf("searching chunks: %w", err)
	}

	budget := p.contextWindow() - estimateTokens(question) - estimateTokens(ContextPromptTemplate) - knowledgeReserve

	var knowledge strings.Builder
	var ids []string
	for _, hit := range page.Hits {
		var chunk chunkSource
		if err := json.Unmarshal(hit.Source, &chunk); err != nil {
			return "", nil, fmt.Errorf("decoding chunk %s: %w", hit.ID, err)
		}
		added := chunk.Text
		if knowledge.Len() > 0 {
			added = "\n" + added
		}
		if estimateTokens(knowledge.String())+estimateTokens(added) > budget {
			logger.Warn("token budget reached, stopping knowledge accumulation",
				"chunks_used", len(ids), "budget", budget)
			break
		}
		knowledge.WriteString(added)
		ids = append(ids, chunk.DocumentID)
	}
	return knowledge.String(), uniqueHead(ids, MaxSourceDocuments), nil
}

// AnswerCorpusQuestion answers a question about the cluster hierarchy. With
// clusterLabels given, it retrieves those clusters directly; otherwise the
// question is parsed into an intent first. It returns the answer and the
// ids of the clusters it drew on.
func (p *Processor) AnswerCorpusQuestion(ctx context.Context, question string, clusterLabels []string) (string, []string, error) {
	var body map[string]any
	if len(clusterLabels) > 0 {
		logger.Info("retrieving clusters by label", "labels", strings.Join(clusterLabels, ", "))
		body = labelQuery(clusterLabels, []string{"cluster_id", "label", "description", "topic_words"})
	} else {
		var err error
		body, err = p.queryFromIntent(ctx, question)
		if err != nil {
			return "", nil, err
		}
	}

	page, err := p.DB.Search(ctx, p.ClusterIndex, body)
	if err != nil {
		return "", nil, fmt.Errorf("searching clusters: %w", err)
	}
	if len(page.Hits) == 0 {
		return "", nil, fmt.Errorf("no relevant clusters found for the given query")
	}

	var blocks []string
	var sources []string
	for _, hit := range page.Hits {
		var cluster clusterSource
		if err := json.Unmarshal(hit.Source, &cluster); err != nil {
			return "", nil, fmt.Errorf("decoding cluster %s: %w", hit.ID, err)
		}
		if cluster.Description == "" {
			cluster.Description = "No description available."
		}
		block, err := json.MarshalIndent(cluster, "", "  ")
		if err != nil {
			return "", nil, err
		}
		blocks = append(blocks, string(block))
		sources = append(sources, hit.ID)
	}

	prompt := fmt.Sprintf(GenerateAnswerPromptTemplate, question, strings.Join(blocks, "\n"))
	answer, err := p.Generator.GenerateText(ctx, prompt, p.answerOptions())
	if err != nil {
		return "", nil, fmt.Errorf("generating answer: %w", err)
	}
	return strings.TrimSpace(answer), sources, nil
}

// queryFromIntent parses the question and builds the matching cluster query.
func (p *Processor) queryFromIntent(ctx context.Context, question string) (map[string]any, error) {
	intent, labels, err := p.parseIntent(ctx, question)
	if err != nil {
		return nil, err
	}

	switch intent {
	case IntentCorpusInfo:
		logger.Info("retrieving top hierarchy clusters for corpus overview")
		return p.corpusInfoQuery(ctx)
	case IntentListTopics:
		if len(labels) == 0 {
			return nil, fmt.Errorf("no cluster labels extracted from the question")
		}
		logger.Info("retrieving clusters by parsed labels", "labels", strings.Join(labels, ", "))
		return labelQuery(labels, []string{"label", "description", "topic_words"}), nil
	case IntentListQuestions:
		if len(labels) == 0 {
			return nil, fmt.Errorf("no cluster labels extracted from the question")
		}
		logger.Info("retrieving clusters by parsed labels", "labels", strings.Join(labels, ", "))
		return labelQuery(labels, []string{"description", "topic_words"}), nil
	default:
		return nil, fmt.Errorf("unsupported intent %q for corpus-specific query", intent)
	}
}

// parseIntent asks the model for the structured intent of the question.
func (p *Processor) parseIntent(ctx context.Context, question string) (string, []string, error) {
	prompt := fmt.Sprintf(ParseQueryPromptTemplate, question)
	response, err := p.Generator.GenerateText(ctx, prompt, p.answerOptions())
	if err != nil {
		return "", nil, fmt.Errorf("parsing question intent: %w", err)
	}

	raw, err := llm.ExtractJSON(response)
	if err != nil {
		return "", nil, &llm.ParseFailureError{RawOutput: response, Err: err}
	}
	var parsed parsedIntent
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return "", nil, &llm.ParseFailureError{RawOutput: response, Err: err}
	}
	return parsed.Intent, clusterParameters(parsed.Parameters), nil
}

// clusterParameters pulls the cluster labels out of the parameters object.
// Models return the value as a string or a list, under either key form.
func clusterParameters(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var params map[string]any
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil
	}

	for _, key := range []string{"cluster", "cluster_labels"} {
		switch value := params[key].(type) {
		case string:
			if value != "" {
				return []string{value}
			}
		case []any:
			var labels []string
			for _, item := range value {
				if s, ok := item.(string); ok && s != "" {
					labels = append(labels, s)
				}
			}
			if len(labels) > 0 {
				return labels
			}
		}
	}
	return nil
}

// labelQuery matches clusters whose label contains any of the phrases.
func labelQuery(labels []string, fields []string) map[string]any {
	should := make([]any, len(labels))
	for i, label := range labels {
		should[i] = map[string]any{"match_phrase": map[string]any{"label": label}}
	}
	return map[string]any{
		"query": map[string]any{
			"bool": map[string]any{"should": should, "minimum_should_match": 1},
		},
		"_source": fields,
	}
}

// corpusInfoQuery selects the top levels of the hierarchy relative to its
// measured depth.
func (p *Processor) corpusInfoQuery(ctx context.Context) (map[string]any, error) {
	maxDepth, err := p.DB.MaxDepth(ctx, p.ClusterIndex)
	if err != nil {
		return nil, fmt.Errorf("measuring hierarchy depth: %w", err)
	}
	minDepth := maxDepth - corpusInfoDepthBand
	if minDepth < 0 {
		minDepth = 0
	}
	return map[string]any{
		"query": map[string]any{
			"bool": map[string]any{
				"filter": map[string]any{"range": map[string]any{"depth": map[string]any{"gte": minDepth}}},
			},
		},
		"size":    corpusInfoSize,
		"_source": []string{"label", "description"},
	}, nil
}

// EncodeText returns the embedding of a single text.
func (p *Processor) EncodeText(ctx context.Context, text string) ([]float64, error) {
	vectors, err := p.Embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("embedding service returned no vector")
	}
	return vectors[0], nil
}

func (p *Processor) contextWindow() int {
	if p.Profile.NCtx > 0 {
		return p.Profile.NCtx
	}
	return defaultContextWindow
}

func (p *Processor) answerOptions() llm.GenerationOptions {
	opts := llm.GenerationOptions{
		MaxTokens:   defaultAnswerTokens,
		Temperature: defaultTemperature,
	}
	if p.Profile.MaxTokens > 0 {
		opts.MaxTokens = int32(p.Profile.MaxTokens)
	}
	if p.Profile.Temperature > 0 {
		opts.Temperature = float32(p.Profile.Temperature)
	}
	return opts
}

// estimateTokens approximates the model's token count at four bytes per
// token. The estimate errs on the generous side for scientific text, which
// the budget's reserve absorbs.
func estimateTokens(s string) int {
	return (len(s) + 3) / 4
}

// uniqueHead keeps the first occurrence of each id, up to limit.
func uniqueHead(ids []string, limit int) []string {
	seen := make(map[string]bool, len(ids))
	var unique []string
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		unique = append(unique, id)
		if len(unique) == limit {
			break
		}
	}
	return unique
}
