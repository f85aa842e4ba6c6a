package dlp

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
)

// compiledPhrase is a banned phrase with its case-insensitive literal matcher.
type compiledPhrase struct {
	phrase string
	folded string
	expr   *regexp.Regexp
}

// PhraseMatcher finds configured phrases case-insensitively on word boundaries.
type PhraseMatcher struct {
	phrases []compiledPhrase
	maxLen  int
	fold    cases.Caser
}

// NewPhraseMatcher compiles phrases. Blank and duplicate phrases are skipped.
func NewPhraseMatcher(phrases []string) *PhraseMatcher {
	m := &PhraseMatcher{fold: cases.Fold()}
	seen := make(map[string]struct{}, len(phrases))
	for _, phrase := range phrases {
		if strings.TrimSpace(phrase) == "" {
			continue
		}
		if _, dup := seen[phrase]; dup {
			continue
		}
		seen[phrase] = struct{}{}

		m.phrases = append(m.phrases, compiledPhrase{
			phrase: phrase,
			folded: m.fold.String(phrase),
			expr:   regexp.MustCompile(`(?i)` + regexp.QuoteMeta(phrase)),
		})
		// Case folding may widen a rune, e.g. 'k' matches U+212A.
		if n := utf8.RuneCountInString(phrase) * utf8.UTFMax; n > m.maxLen {
			m.maxLen = n
		}
	}
	return m
}

// MaxLen returns an upper bound on the byte length of any match.
func (m *PhraseMatcher) MaxLen() int {
	return m.maxLen
}

// Scan reports the phrase matches in w that the window owns. marks holds, per
// phrase, the global offset where the previous candidate ended; Scan advances
// it so that candidates seen again through the carry are not reported twice.
func (m *PhraseMatcher) Scan(w Window, marks map[string]int64) []PhraseMatch {
	var out []PhraseMatch
	for _, cp := range m.phrases {
		find := func(text string, off int) (int, int, bool) {
			loc := cp.expr.FindStringIndex(text[off:])
			if loc == nil {
				return 0, 0, false
			}
			return off + loc[0], off + loc[1], true
		}
		marks[cp.phrase] = w.walk(marks[cp.phrase], find, func(start, end int) {
			if !wordBounded(w.Text, start, end) {
				return
			}
			out = append(out, PhraseMatch{
				Phrase:   cp.phrase,
				Position: w.Base + int64(start),
				Context:  snippet(w.Text, start, end),
				Severity: m.severity(cp, w.Text[start:end]),
			})
		})
	}
	sortPhraseMatches(out, m.phrases)
	return out
}

func (m *PhraseMatcher) severity(cp compiledPhrase, matched string) Severity {
	if m.fold.String(matched) == cp.folded {
		return SeverityHigh
	}
	return SeverityMedium
}

// wordBounded reports whether s[start:end] is neither preceded nor followed by
// a letter or digit.
func wordBounded(s string, start, end int) bool {
	if start > 0 {
		if r, _ := utf8.DecodeLastRuneInString(s[:start]); isAlnum(r) {
			return false
		}
	}
	if end < len(s) {
		if r, _ := utf8.DecodeRuneInString(s[end:]); isAlnum(r) {
			return false
		}
	}
	return true
}

// snippet returns up to contextRadius bytes on each side of s[start:end],
// clipped at the edges of s and at rune boundaries.
func snippet(s string, start, end int) string {
	from := start - contextRadius
	if from < 0 {
		from = 0
	}
	to := end + contextRadius
	if to > len(s) {
		to = len(s)
	}
	from, _ = clampToRunes(s, from, start)
	_, to = clampToRunes(s, end, to)
	return s[from:to]
}

func sortPhraseMatches(matches []PhraseMatch, order []compiledPhrase) {
	if len(matches) < 2 {
		return
	}
	rank := make(map[string]int, len(order))
	for i, cp := range order {
		rank[cp.phrase] = i
	}
	sortByPosition(matches, func(pm PhraseMatch) (int64, int) {
		return pm.Position, rank[pm.Phrase]
	})
}

// FindPhrases scans a complete text for phrases.
func FindPhrases(phrases []string, text string) []PhraseMatch {
	m := NewPhraseMatcher(phrases)
	found := m.Scan(wholeText(text), make(map[string]int64))
	if found == nil {
		return []PhraseMatch{}
	}
	return found
}
