// Package consolidate merges the per-window topic slices into one global
// topic set: every slice topic gets a monotone global id and LLM-generated
// label and description, then near-identical topics are folded together.
// Progress is checkpointed after every slice so an interrupted run resumes
// where it stopped.
package consolidate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"clustertalk/internal/artifact"
	"clustertalk/internal/core"
	"clustertalk/internal/llm"
	"clustertalk/internal/logger"
	"clustertalk/internal/topics"
	"clustertalk/internal/vectormath"
)

const (
	// CheckpointFile holds the merge state between runs.
	CheckpointFile = "consolidate_checkpoint.json"

	// ResultFile is the final consolidated topic set.
	ResultFile = "merged_topics.json"

	// dedupe thresholds: labels and centroids must both agree.
	labelSimilarityThreshold    = 0.9
	centroidSimilarityThreshold = 0.9
)

// state is the checkpointed merge state. Maps are keyed by global topic id.
type state struct {
	Topics       map[int][]core.WordScore `json:"merged_topics"`
	Centroids    [][]float64              `json:"merged_topic_embeddings"`
	TopicIndex   map[int]int              `json:"topic_id_to_index"`
	NextTopicID  int                      `json:"current_topic_id"`
	Labels       map[int]string           `json:"topic_label"`
	Descriptions map[int]string           `json:"topic_description"`
	Words        map[int][]string         `json:"topic_words"`
	Processed    []string                 `json:"processed_models"`
}

func newState() state {
	return state{
		Topics:       map[int][]core.WordScore{},
		TopicIndex:   map[int]int{},
		Labels:       map[int]string{},
		Descriptions: map[int]string{},
		Words:        map[int][]string{},
	}
}

// Consolidator merges slice artifacts into the global topic set.
type Consolidator struct {
	Artifacts *artifact.Store
	Generator llm.Generator
}

// Run merges all unprocessed slices, deduplicates the result and persists
// it. The checkpoint is removed only after a fully successful run.
func (c *Consolidator) Run(ctx context.Context) ([]core.Topic, error) {
	checkpointer := artifact.JSONCheckpointer[state]{Store: c.Artifacts, Name: CheckpointFile}
	st, found, err := checkpointer.Load()
	if err != nil {
		return nil, fmt.Errorf("loading checkpoint: %w", err)
	}
	if !found {
		st = newState()
	} else {
		logger.Info("resuming from checkpoint", "processed_slices", len(st.Processed))
	}

	paths, err := c.Artifacts.ReadLines(topics.ModelListFile)
	if err != nil {
		return nil, fmt.Errorf("reading model list: %w", err)
	}
	pending := unprocessed(paths, st.Processed)
	logger.Info("consolidating slices", "total", len(paths), "pending", len(pending))

	for _, path := range pending {
		if err := c.mergeSlice(ctx, &st, path); err != nil {
			// Persist what was merged so the re-run skips completed work.
			if saveErr := checkpointer.Save(st); saveErr != nil {
				logger.Error("saving checkpoint after failure", saveErr)
			}
			return nil, fmt.Errorf("merging slice %s: %w", path, err)
		}
		st.Processed = append(st.Processed, path)
		if err := checkpointer.Save(st); err != nil {
			return nil, fmt.Errorf("saving checkpoint: %w", err)
		}
	}

	merged := c.dedupe(&st)
	if err := c.Artifacts.SaveJSON(ResultFile, merged); err != nil {
		return nil, err
	}
	if err := c.Artifacts.Remove(CheckpointFile); err != nil {
		return nil, err
	}
	logger.Info("consolidation complete", "topics", len(merged))
	return merged, nil
}

// mergeSlice folds one slice artifact into the running state.
func (c *Consolidator) mergeSlice(ctx context.Context, st *state, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var slice topics.Slice
	if err := json.Unmarshal(data, &slice); err != nil {
		return fmt.Errorf("decoding slice: %w", err)
	}

	for _, topic := range slice.Topics {
		if topic.ID == topics.Outlier {
			continue
		}
		id := st.NextTopicID
		st.NextTopicID++

		st.Topics[id] = topic.Words
		st.TopicIndex[id] = len(st.Centroids)
		st.Centroids = append(st.Centroids, topic.Centroid)
		st.Words[id] = wordList(topic.Words)

		metadata, err := llm.TopicMetadata(ctx, c.Generator, topic.Words)
		if err != nil {
			var parseErr *llm.ParseFailureError
			if !errors.As(err, &parseErr) {
				return err
			}
			// Degraded metadata is tolerable; the id and centroid are not.
			logger.Warn("topic metadata unparseable",
				"topic_id", id, "raw_output", parseErr.RawOutput)
			continue
		}
		st.Labels[id] = metadata.Label
		st.Descriptions[id] = metadata.Description
	}
	logger.Info("slice merged", "path", path, "topics", len(slice.Topics))
	return nil
}

// dedupe folds near-identical topics and reassigns compact ids.
func (c *Consolidator) dedupe(st *state) []core.Topic {
	ids := make([]int, 0, len(st.Topics))
	for id := range st.Topics {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	discarded := map[int]bool{}
	for a := 0; a < len(ids); a++ {
		i := ids[a]
		if discarded[i] {
			continue
		}
		for b := a + 1; b < len(ids); b++ {
			j := ids[b]
			if discarded[j] {
				continue
			}
			if !labelsSimilar(st.Labels[i], st.Labels[j]) {
				continue
			}
			sim := vectormath.CosineSimilarity(
				st.Centroids[st.TopicIndex[i]], st.Centroids[st.TopicIndex[j]])
			if sim < centroidSimilarityThreshold {
				continue
			}
			discarded[j] = true
			logger.Info("duplicate topic folded",
				"kept", i, "discarded", j, "label", st.Labels[i], "similarity", sim)
		}
	}

	var merged []core.Topic
	for _, id := range ids {
		if discarded[id] {
			continue
		}
		merged = append(merged, core.Topic{
			ID:          strconv.Itoa(len(merged)),
			Label:       st.Labels[id],
			Description: st.Descriptions[id],
			Words:       st.Topics[id],
			WordList:    st.Words[id],
			Centroid:    st.Centroids[st.TopicIndex[id]],
		})
	}
	return merged
}

// labelsSimilar reports whether two labels match exactly or by edit-distance
// ratio, case-insensitive and trimmed. Empty labels never match: a missing
// label says nothing about topic identity.
func labelsSimilar(a, b string) bool {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == "" || b == "" {
		return false
	}
	if a == b {
		return true
	}
	return levenshteinRatio(a, b) >= labelSimilarityThreshold
}

// levenshteinRatio is 1 - editDistance/maxLen.
func levenshteinRatio(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	maxLen := len(ra)
	if len(rb) > maxLen {
		maxLen = len(rb)
	}
	if maxLen == 0 {
		return 1
	}
	return 1 - float64(levenshtein(ra, rb))/float64(maxLen)
}

func levenshtein(a, b []rune) int {
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min3(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}

func wordList(words []core.WordScore) []string {
	out := make([]string, len(words))
	for i, w := range words {
		out[i] = w.Word
	}
	return out
}

func unprocessed(paths, processed []string) []string {
	done := make(map[string]bool, len(processed))
	for _, p := range processed {
		done[p] = true
	}
	var pending []string
	for _, p := range paths {
		if !done[p] {
			pending = append(pending, p)
		}
	}
	return pending
}
