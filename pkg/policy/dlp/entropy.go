package dlp

import (
	"math"
	"slices"
	"unicode"
	"unicode/utf8"
)

// EntropyAccumulator keeps a running character histogram of the normalized
// stream. Memory is bounded by the alphabet, not by the stream length.
type EntropyAccumulator struct {
	ascii [utf8.RuneSelf]uint64
	other map[rune]uint64
	total uint64
}

// Update folds text into the histogram. text must not end inside a rune; the
// Analyzer guarantees this across chunk boundaries.
func (e *EntropyAccumulator) Update(text []byte) {
	for i := 0; i < len(text); {
		b := text[i]
		if b < utf8.RuneSelf {
			switch {
			case 'A' <= b && b <= 'Z':
				e.ascii[b+'a'-'A']++
				e.total++
			case ('a' <= b && b <= 'z') || ('0' <= b && b <= '9'):
				e.ascii[b]++
				e.total++
			}
			i++
			continue
		}

		r, size := utf8.DecodeRune(text[i:])
		i += size
		r = unicode.ToLower(r)
		if !isAlnum(r) {
			continue
		}
		if r < utf8.RuneSelf {
			e.ascii[r]++
		} else {
			if e.other == nil {
				e.other = make(map[rune]uint64)
			}
			e.other[r]++
		}
		e.total++
	}
}

// Total returns the number of normalized characters seen.
func (e *EntropyAccumulator) Total() uint64 {
	return e.total
}

// Entropy returns the Shannon entropy in bits of the histogram, or 0 when it
// is empty. Terms are summed in a fixed order so the result depends only on
// the multiset of characters.
func (e *EntropyAccumulator) Entropy() float64 {
	if e.total == 0 {
		return 0
	}

	logTotal := math.Log2(float64(e.total))
	entropy := 0.0
	term := func(count uint64) {
		p := float64(count) / float64(e.total)
		entropy -= p * (math.Log2(float64(count)) - logTotal)
	}

	for _, count := range e.ascii {
		if count > 0 {
			term(count)
		}
	}

	if len(e.other) > 0 {
		runes := make([]rune, 0, len(e.other))
		for r := range e.other {
			runes = append(runes, r)
		}
		slices.Sort(runes)
		for _, r := range runes {
			term(e.other[r])
		}
	}

	if entropy < 0 {
		return 0
	}
	return entropy
}

// ShannonEntropy computes the entropy of a complete text.
func ShannonEntropy(text string) float64 {
	var acc EntropyAccumulator
	acc.Update([]byte(text))
	return acc.Entropy()
}
