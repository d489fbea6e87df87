package topics

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"clustertalk/internal/core"
)

const (
	// mmrCandidates is how many top-scored words feed the diversity rerank.
	mmrCandidates = 30
)

// topicWords computes the representative words per topic: class-based tf-idf
// with BM25 weighting and frequent-word damping, then a maximal-marginal-
// relevance rerank for diversity.
func topicWords(texts []string, assignments []int, topN int, diversity float64) map[int][]core.WordScore {
	classTokens := map[int][]string{}
	for i, text := range texts {
		topic := assignments[i]
		if topic == Outlier {
			continue
		}
		classTokens[topic] = append(classTokens[topic], tokenize(text)...)
	}
	if len(classTokens) == 0 {
		return map[int][]core.WordScore{}
	}

	// Per-class damped term frequencies and corpus-wide term totals.
	classCounts := map[int]map[string]float64{}
	classTotals := map[int]float64{}
	termTotals := map[string]float64{}
	for topic, tokens := range classTokens {
		counts := map[string]float64{}
		for _, token := range tokens {
			counts[token]++
		}
		damped := map[string]float64{}
		for token, count := range counts {
			damped[token] = math.Sqrt(count)
			termTotals[token] += count
		}
		classCounts[topic] = damped
		classTotals[topic] = float64(len(tokens))
	}

	avgClassSize := 0.0
	for _, total := range classTotals {
		avgClassSize += total
	}
	avgClassSize /= float64(len(classTotals))

	idf := map[string]float64{}
	for term, freq := range termTotals {
		w := math.Log(1 + (avgClassSize-freq+0.5)/(freq+0.5))
		if w < 0 {
			w = 0
		}
		idf[term] = w
	}

	out := map[int][]core.WordScore{}
	for topic, damped := range classCounts {
		scored := make([]core.WordScore, 0, len(damped))
		for term, tf := range damped {
			score := tf / classTotals[topic] * idf[term]
			if score > 0 {
				scored = append(scored, core.WordScore{Word: term, Score: score})
			}
		}
		sort.Slice(scored, func(i, j int) bool {
			if scored[i].Score != scored[j].Score {
				return scored[i].Score > scored[j].Score
			}
			return scored[i].Word < scored[j].Word
		})
		if len(scored) > mmrCandidates {
			scored = scored[:mmrCandidates]
		}
		out[topic] = rerankMMR(scored, classCounts, topic, topN, diversity)
	}
	return out
}

// rerankMMR selects topN candidates balancing score against redundancy.
// Word similarity is the cosine of their per-class score profiles, so words
// that always score together are treated as near-duplicates.
func rerankMMR(candidates []core.WordScore, classCounts map[int]map[string]float64, topic, topN int, diversity float64) []core.WordScore {
	if len(candidates) <= 1 {
		return candidates
	}

	classIDs := make([]int, 0, len(classCounts))
	for id := range classCounts {
		classIDs = append(classIDs, id)
	}
	sort.Ints(classIDs)
	profile := func(word string) []float64 {
		v := make([]float64, len(classIDs))
		for i, id := range classIDs {
			v[i] = classCounts[id][word]
		}
		return v
	}
	profiles := make([][]float64, len(candidates))
	for i, c := range candidates {
		profiles[i] = profile(c.Word)
	}

	selected := []int{0}
	remaining := make([]int, 0, len(candidates)-1)
	for i := 1; i < len(candidates); i++ {
		remaining = append(remaining, i)
	}

	for len(selected) < topN && len(remaining) > 0 {
		best, bestScore := -1, math.Inf(-1)
		for pos, i := range remaining {
			maxSim := math.Inf(-1)
			for _, j := range selected {
				if sim := cosineProfile(profiles[i], profiles[j]); sim > maxSim {
					maxSim = sim
				}
			}
			mmr := (1-diversity)*candidates[i].Score - diversity*maxSim
			if mmr > bestScore {
				bestScore = mmr
				best = pos
			}
		}
		selected = append(selected, remaining[best])
		remaining = append(remaining[:best], remaining[best+1:]...)
	}

	out := make([]core.WordScore, len(selected))
	for i, idx := range selected {
		out[i] = candidates[idx]
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Word < out[j].Word
	})
	return out
}

func cosineProfile(a, b []float64) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// tokenize lowercases and splits on non-alphanumerics, dropping stopwords
// and single-character tokens.
func tokenize(text string) []string {
	var tokens []string
	var b strings.Builder
	flush := func() {
		if b.Len() < 2 {
			b.Reset()
			return
		}
		token := b.String()
		b.Reset()
		if !stopwords[token] {
			tokens = append(tokens, token)
		}
	}
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return tokens
}

// stopwords is the standard English list used by text vectorizers.
var stopwords = func() map[string]bool {
	list := []string{
		"a", "about", "above", "across", "after", "afterwards", "again",
		"against", "all", "almost", "alone", "along", "already", "also",
		"although", "always", "am", "among", "amongst", "an", "and",
		"another", "any", "anyhow", "anyone", "anything", "anyway",
		"anywhere", "are", "around", "as", "at", "back", "be", "became",
		"because", "become", "becomes", "becoming", "been", "before",
		"beforehand", "behind", "being", "below", "beside", "besides",
		"between", "beyond", "both", "bottom", "but", "by", "call", "can",
		"cannot", "could", "did", "do", "does", "doing", "done", "down",
		"due", "during", "each", "eight", "either", "eleven", "else",
		"elsewhere", "empty", "enough", "etc", "even", "ever", "every",
		"everyone", "everything", "everywhere", "except", "few", "fifteen",
		"fifty", "fill", "find", "first", "five", "for", "former",
		"formerly", "forty", "found", "four", "from", "front", "full",
		"further", "get", "give", "go", "had", "has", "have", "he", "hence",
		"her", "here", "hereafter", "hereby", "herein", "hereupon", "hers",
		"herself", "him", "himself", "his", "how", "however", "hundred",
		"i", "ie", "if", "in", "inc", "indeed", "into", "is", "it", "its",
		"itself", "keep", "last", "latter", "latterly", "least", "less",
		"made", "many", "may", "me", "meanwhile", "might", "mine", "more",
		"moreover", "most", "mostly", "move", "much", "must", "my",
		"myself", "name", "namely", "neither", "never", "nevertheless",
		"next", "nine", "no", "nobody", "none", "noone", "nor", "not",
		"nothing", "now", "nowhere", "of", "off", "often", "on", "once",
		"one", "only", "onto", "or", "other", "others", "otherwise", "our",
		"ours", "ourselves", "out", "over", "own", "per", "perhaps",
		"please", "put", "rather", "re", "same", "see", "seem", "seemed",
		"seeming", "seems", "serious", "several", "she", "should", "show",
		"side", "since", "six", "sixty", "so", "some", "somehow",
		"someone", "something", "sometime", "sometimes", "somewhere",
		"still", "such", "take", "ten", "than", "that", "the", "their",
		"them", "themselves", "then", "thence", "there", "thereafter",
		"thereby", "therefore", "therein", "thereupon", "these", "they",
		"third", "this", "those", "though", "three", "through",
		"throughout", "thus", "to", "together", "too", "top", "toward",
		"towards", "twelve", "twenty", "two", "under", "until", "up",
		"upon", "us", "very", "via", "was", "we", "well", "were", "what",
		"whatever", "when", "whence", "whenever", "where", "whereafter",
		"whereas", "whereby", "wherein", "whereupon", "wherever",
		"whether", "which", "while", "whither", "who", "whoever", "whole",
		"whom", "whose", "why", "will", "with", "within", "without",
		"would", "yet", "you", "your", "yours", "yourself", "yourselves",
	}
	m := make(map[string]bool, len(list))
	for _, w := range list {
		m[w] = true
	}
	return m
}()
