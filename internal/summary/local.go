package summary

import (
	"context"
	"regexp"
	"sort"
	"strings"
)

// MaxBullets bounds how many sentences the local fallback selects as bullets.
const MaxBullets = 5

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "but": {},
	"by": {}, "for": {}, "from": {}, "had": {}, "has": {}, "have": {}, "he": {},
	"her": {}, "his": {}, "in": {}, "is": {}, "it": {}, "its": {}, "of": {}, "on": {},
	"or": {}, "our": {}, "she": {}, "that": {}, "the": {}, "their": {}, "this": {},
	"to": {}, "was": {}, "we": {}, "were": {}, "with": {}, "you": {}, "your": {},
	"i": {}, "so": {}, "if": {}, "they": {}, "them": {}, "not": {},
}

var actionCues = []string{
	"will", "should", "must", "need to", "needs to", "todo", "to-do",
	"action item", "follow up", "follow-up", "assign", "by friday",
	"by monday", "deadline", "next step", "let's", "lets",
}

var sentenceSplit = regexp.MustCompile(`[.!?]+\s+`)
var wordSplit = regexp.MustCompile(`[^\p{L}\p{N}']+`)

// LocalSummarizer is a deterministic scored-sentence-extraction fallback,
// used when the remote summarizer is unavailable or unconfigured (no
// summarizer token set). Given the same input it always returns the same
// output — no randomness, no wall-clock dependence.
type LocalSummarizer struct{}

func (LocalSummarizer) Summarize(_ context.Context, transcriptText string) (*Summary, error) {
	sentences := splitSentences(transcriptText)
	if len(sentences) == 0 {
		return &Summary{}, nil
	}

	freq := wordFrequency(sentences)
	scores := make([]float64, len(sentences))
	isAction := make([]bool, len(sentences))

	for i, s := range sentences {
		scores[i] = scoreSentence(s, freq)
		isAction[i] = containsActionCue(s)
		if isAction[i] {
			scores[i] *= 1.5
		}
	}

	order := make([]int, len(sentences))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		if scores[order[a]] != scores[order[b]] {
			return scores[order[a]] > scores[order[b]]
		}
		return order[a] < order[b]
	})

	bulletCount := MaxBullets
	if len(order) < bulletCount {
		bulletCount = len(order)
	}
	chosen := order[:bulletCount]
	sort.Ints(chosen)

	bullets := make([]string, 0, len(chosen))
	var actionItems []string
	for _, idx := range chosen {
		bullets = append(bullets, sentences[idx])
		if isAction[idx] {
			actionItems = append(actionItems, sentences[idx])
		}
	}

	return &Summary{
		Headline:    sentences[order[0]],
		Bullets:     bullets,
		ActionItems: actionItems,
	}, nil
}

func splitSentences(text string) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	parts := sentenceSplit.Split(trimmed, -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func wordFrequency(sentences []string) map[string]int {
	freq := make(map[string]int)
	for _, s := range sentences {
		for _, w := range tokenize(s) {
			if _, stop := stopwords[w]; stop {
				continue
			}
			freq[w]++
		}
	}
	return freq
}

func tokenize(s string) []string {
	lower := strings.ToLower(s)
	raw := wordSplit.Split(lower, -1)
	out := make([]string, 0, len(raw))
	for _, w := range raw {
		if w != "" {
			out = append(out, w)
		}
	}
	return out
}

func scoreSentence(s string, freq map[string]int) float64 {
	words := tokenize(s)
	if len(words) == 0 {
		return 0
	}
	var total float64
	for _, w := range words {
		total += float64(freq[w])
	}
	return total / float64(len(words))
}

func containsActionCue(s string) bool {
	lower := strings.ToLower(s)
	for _, cue := range actionCues {
		if strings.Contains(lower, cue) {
			return true
		}
	}
	return false
}
