package kb

import (
	"strings"

	"github.com/ashureev/souq-assistant/internal/textnorm"
)

// DefaultThreshold is the minimum similarity a candidate needs to be accepted.
const DefaultThreshold = 0.75

// minFuzzyLen is the shortest label (in runes) that may match by edit
// distance. Shorter labels only match exactly.
const minFuzzyLen = 4

// Candidate is a named catalog entry with optional alternative spellings.
type Candidate struct {
	ID      string
	Label   string
	Aliases []string
}

// Matcher scores free text against candidate labels.
type Matcher struct {
	threshold float64
}

// NewMatcher returns a matcher accepting scores strictly above threshold. A
// threshold of 1 accepts exact matches only.
// Non-positive values fall back to DefaultThreshold.
func NewMatcher(threshold float64) *Matcher {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	return &Matcher{threshold: threshold}
}

// Threshold returns the acceptance threshold.
func (m *Matcher) Threshold() float64 {
	return m.threshold
}

// FindBestMatch returns the candidate scoring highest against query, or nil
// when nothing clears the threshold. Ties go to the candidate declared first.
func (m *Matcher) FindBestMatch(query string, candidates []Candidate) *Candidate {
	idx, _ := m.best(query, candidates)
	if idx < 0 {
		return nil
	}
	return &candidates[idx]
}

func (m *Matcher) best(query string, candidates []Candidate) (int, float64) {
	q := textnorm.Normalize(query)
	if q == "" {
		return -1, 0
	}
	bestIdx, bestScore := -1, m.threshold
	for i, c := range candidates {
		score := scoreLabel(q, c.Label)
		for _, a := range c.Aliases {
			if s := scoreLabel(q, a); s > score {
				score = s
			}
		}
		exact := bestIdx < 0 && m.threshold == 1 && score == 1
		if score > bestScore || exact {
			bestIdx, bestScore = i, score
		}
	}
	return bestIdx, bestScore
}

// scoreLabel compares a normalized query with one label. A label found as a
// whole-token phrase scores 1; otherwise the best edit-distance similarity
// over query windows of the label's token length is used.
func scoreLabel(query, label string) float64 {
	l := textnorm.Normalize(label)
	if l == "" {
		return 0
	}
	if textnorm.ContainsPhrase(query, l) {
		return 1
	}
	if len([]rune(l)) < minFuzzyLen {
		return 0
	}
	qt := strings.Fields(query)
	n := len(strings.Fields(l))
	best := normalizedLevenshtein(query, l)
	for i := 0; i+n <= len(qt); i++ {
		if s := normalizedLevenshtein(strings.Join(qt[i:i+n], " "), l); s > best {
			best = s
		}
	}
	return best
}

func normalizedLevenshtein(a, b string) float64 {
	ar := []rune(a)
	br := []rune(b)
	maxLen := max(len(ar), len(br))
	if maxLen == 0 {
		return 1
	}
	prev := make([]int, len(br)+1)
	cur := make([]int, len(br)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ar); i++ {
		cur[0] = i
		for j := 1; j <= len(br); j++ {
			cost := 1
			if ar[i-1] == br[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return 1 - float64(prev[len(br)])/float64(maxLen)
}
