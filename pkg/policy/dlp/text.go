package dlp

import (
	"unicode"
	"unicode/utf8"
)

// isAlnum reports whether r counts toward normalized text.
func isAlnum(r rune) bool {
	if r < utf8.RuneSelf {
		return ('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z') || ('0' <= r && r <= '9')
	}
	return unicode.IsLetter(r) || unicode.IsNumber(r)
}

// incompleteTail returns the length of a truncated UTF-8 sequence at the end of p.
// Invalid bytes are not considered truncated.
func incompleteTail(p []byte) int {
	limit := len(p) - utf8.UTFMax + 1
	if limit < 0 {
		limit = 0
	}
	for i := len(p) - 1; i >= limit; i-- {
		if !utf8.RuneStart(p[i]) {
			continue
		}
		if utf8.FullRune(p[i:]) {
			return 0
		}
		return len(p) - i
	}
	return 0
}

// runeJoiner reassembles UTF-8 sequences that were split across chunks so that
// decoding never depends on where the chunk boundaries fell.
type runeJoiner struct {
	tail [utf8.UTFMax]byte
	n    int
	buf  []byte
}

// join returns the decodable prefix of the held tail followed by chunk. The
// returned slice is only valid until the next call.
func (j *runeJoiner) join(chunk []byte) []byte {
	data := chunk
	if j.n > 0 {
		j.buf = append(j.buf[:0], j.tail[:j.n]...)
		j.buf = append(j.buf, chunk...)
		data = j.buf
	}
	cut := incompleteTail(data)
	j.n = copy(j.tail[:], data[len(data)-cut:])
	return data[:len(data)-cut]
}

// clampToRunes narrows [start,end) of s so neither edge splits a rune.
func clampToRunes(s string, start, end int) (int, int) {
	for start < end && start < len(s) && !utf8.RuneStart(s[start]) {
		start++
	}
	for end > start && end < len(s) && !utf8.RuneStart(s[end]) {
		end--
	}
	return start, end
}
