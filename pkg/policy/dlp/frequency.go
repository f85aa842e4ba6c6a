package dlp

import (
	"cmp"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// FrequencyAggregator counts normalized whitespace-delimited tokens. A token
// cut by a chunk boundary is held back until its terminating whitespace arrives.
type FrequencyAggregator struct {
	counts  map[string]uint64
	pending []byte
	lower   cases.Caser
}

// NewFrequencyAggregator returns an empty aggregator.
func NewFrequencyAggregator() *FrequencyAggregator {
	return &FrequencyAggregator{
		counts: make(map[string]uint64),
		lower:  cases.Lower(language.Und),
	}
}

// Update tokenizes text and folds completed tokens into the counts. text must
// not end inside a rune.
func (f *FrequencyAggregator) Update(text []byte) {
	start := 0
	for i := 0; i < len(text); {
		r, size := rune(text[i]), 1
		if r >= utf8.RuneSelf {
			r, size = utf8.DecodeRune(text[i:])
		}
		if unicode.IsSpace(r) {
			if len(f.pending) > 0 {
				f.pending = append(f.pending, text[start:i]...)
				f.add(f.pending)
				f.pending = f.pending[:0]
			} else if i > start {
				f.add(text[start:i])
			}
			start = i + size
		}
		i += size
	}
	f.pending = append(f.pending, text[start:]...)
}

func (f *FrequencyAggregator) add(raw []byte) {
	if token := f.normalize(raw); token != "" {
		f.counts[token]++
	}
}

// normalize lower-cases a token and strips everything that is not a letter or
// digit.
func (f *FrequencyAggregator) normalize(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.Grow(len(raw))
	for _, r := range f.lower.String(string(raw)) {
		if isAlnum(r) {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// pendingToken returns the normalized held-back token, if any.
func (f *FrequencyAggregator) pendingToken() string {
	return f.normalize(f.pending)
}

// Unique returns the number of distinct tokens that are not stopwords,
// including a held-back token.
func (f *FrequencyAggregator) Unique(stopwords map[string]struct{}) int {
	n := 0
	for token := range f.counts {
		if _, stop := stopwords[token]; !stop {
			n++
		}
	}
	if token := f.pendingToken(); token != "" {
		if _, stop := stopwords[token]; !stop {
			if _, seen := f.counts[token]; !seen {
				n++
			}
		}
	}
	return n
}

// Top ranks tokens by count descending, then lexicographically, skipping
// stopwords. The held-back token is counted as if the stream ended here;
// Top never mutates the aggregator.
func (f *FrequencyAggregator) Top(n int, stopwords map[string]struct{}) []WordCount {
	if n <= 0 {
		return []WordCount{}
	}

	pending := f.pendingToken()
	ranked := make([]WordCount, 0, len(f.counts)+1)
	for token, count := range f.counts {
		if _, stop := stopwords[token]; stop {
			continue
		}
		if token == pending {
			count++
		}
		ranked = append(ranked, WordCount{Word: token, Count: count})
	}
	if pending != "" {
		_, stop := stopwords[pending]
		_, seen := f.counts[pending]
		if !stop && !seen {
			ranked = append(ranked, WordCount{Word: pending, Count: 1})
		}
	}

	slices.SortFunc(ranked, func(a, b WordCount) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return strings.Compare(a.Word, b.Word)
	})

	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

// TopWords ranks the tokens of a complete text.
func TopWords(text string, n int, stopwords []string) []WordCount {
	f := NewFrequencyAggregator()
	f.Update([]byte(text))
	return f.Top(n, stopwordSet(stopwords))
}

// stopwordSet normalizes stopwords the same way stream tokens are normalized.
func stopwordSet(words []string) map[string]struct{} {
	f := NewFrequencyAggregator()
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		if token := f.normalize([]byte(w)); token != "" {
			set[token] = struct{}{}
		}
	}
	return set
}
