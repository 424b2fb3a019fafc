package search

import (
	"math"
	"strings"

	"github.com/koustreak/pistas/internal/catalog"
)

// Weights are the points each relevance signal contributes.
type Weights struct {
	// Phrase: the whole query appears in the searchable text.
	Phrase float64
	// TitlePhrase: the whole query appears in the title or the key.
	TitlePhrase float64
	// Ordered: every query word appears, left to right. Needs two words or more.
	Ordered float64
	// AllWords: every query word appears, in any order.
	AllWords float64

	// PartialWordCap caps the points of one matching word when not all match.
	PartialWordCap float64
	// PartialRatio is scaled by the share of matching words, once half match.
	PartialRatio float64

	// FuzzyFloor is the score an entry needs before similarity counts.
	FuzzyFloor float64
	// FuzzyWordCap caps the similarity points of one query word.
	FuzzyWordCap float64
}

// DefaultWeights returns the stock weights.
func DefaultWeights() Weights {
	return Weights{
		Phrase:         100,
		TitlePhrase:    75,
		Ordered:        50,
		AllWords:       25,
		PartialWordCap: 15,
		PartialRatio:   20,
		FuzzyFloor:     5,
		FuzzyWordCap:   15,
	}
}

// Boost adds Weight to entries whose normalized key contains Pattern.
// A negative Weight demotes.
type Boost struct {
	Pattern string  `yaml:"pattern"`
	Weight  float64 `yaml:"weight"`
}

// query is a search query prepared once per search.
type query struct {
	phrase string
	words  []string
}

func prepare(raw string) query {
	phrase := Normalize(raw)
	return query{phrase: phrase, words: queryWords(phrase)}
}

// scorer computes the relevance of one entry for a prepared query.
type scorer struct {
	w      Weights
	boosts []Boost
}

func newScorer(w Weights, boosts []Boost) scorer {
	normalized := make([]Boost, 0, len(boosts))
	for _, b := range boosts {
		if p := Normalize(b.Pattern); p != "" && b.Weight != 0 {
			normalized = append(normalized, Boost{Pattern: p, Weight: b.Weight})
		}
	}
	return scorer{w: w, boosts: normalized}
}

func (s scorer) score(q query, e catalog.Entry) float64 {
	key := Normalize(e.Key)
	title := Normalize(e.Title)
	text := key + " " + title + " " + Normalize(e.Artist)

	var score float64

	if strings.Contains(text, q.phrase) {
		score += s.w.Phrase
	}
	if strings.Contains(title, q.phrase) || strings.Contains(key, q.phrase) {
		score += s.w.TitlePhrase
	}

	if len(q.words) > 1 && inOrder(text, q.words) {
		score += s.w.Ordered
	}

	matched := 0
	for _, w := range q.words {
		if strings.Contains(text, w) {
			matched++
		}
	}
	switch {
	case len(q.words) > 0 && matched == len(q.words):
		score += s.w.AllWords
	case matched > 0:
		for _, w := range q.words {
			if strings.Contains(text, w) {
				score += math.Min(s.w.PartialWordCap, float64(2*len(w)))
			}
		}
		if ratio := float64(matched) / float64(len(q.words)); ratio >= 0.5 {
			score += ratio * s.w.PartialRatio
		}
	}

	if score >= s.w.FuzzyFloor {
		tokens := strings.Fields(text)
		for _, w := range q.words {
			best := 0.0
			for _, tok := range tokens {
				if sim := similarity(w, tok); sim > best {
					best = sim
				}
			}
			score += best * math.Min(s.w.FuzzyWordCap, float64(3*len(w)))
		}
	}

	if score > 0 {
		for _, b := range s.boosts {
			if strings.Contains(key, b.Pattern) {
				score += b.Weight
			}
		}
	}
	return score
}

// inOrder reports whether words occur in text at strictly increasing offsets.
func inOrder(text string, words []string) bool {
	last := -1
	for _, w := range words {
		i := strings.Index(text[last+1:], w)
		if i < 0 {
			return false
		}
		last += 1 + i
	}
	return true
}

// similarity rates how close two tokens are, from 0 (unrelated) to 1 (equal).
func similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	if strings.HasPrefix(a, b) || strings.HasPrefix(b, a) {
		diff := len(a) - len(b)
		if diff < 0 {
			diff = -diff
		}
		switch {
		case diff <= 1:
			return 0.9
		case diff <= 2:
			return 0.8
		}
	}
	if strings.Contains(a, b) || strings.Contains(b, a) {
		return 0.7
	}
	return 0
}
