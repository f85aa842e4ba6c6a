package dlp

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBoundaryBuffer_Windows(t *testing.T) {
	b := NewBoundaryBuffer(4)

	w := b.Extend([]byte("abcdef"))
	assert.Equal(t, Window{Text: "abcdef", Base: 0, Decided: 0, Settle: 2}, w)
	b.Advance(w)
	assert.Equal(t, 6, b.Len())

	w = b.Extend([]byte("gh"))
	assert.Equal(t, Window{Text: "abcdefgh", Base: 0, Decided: 2, Settle: 4}, w)
	b.Advance(w)

	w = b.Extend([]byte("ij"))
	assert.Equal(t, int64(6), w.Settle)
	b.Advance(w)
	assert.Equal(t, 8, b.Len())

	tail := b.Tail()
	assert.Equal(t, Window{Text: "cdefghij", Base: 2, Decided: 6, Settle: 10, Final: true}, tail)
	assert.Equal(t, tail, b.Tail())
}

func TestBoundaryBuffer_ShortChunksDoNotSettle(t *testing.T) {
	b := NewBoundaryBuffer(10)
	w := b.Extend([]byte("abc"))
	assert.Equal(t, int64(0), w.Settle)
	assert.False(t, w.accepts(0))
	b.Advance(w)

	tail := b.Tail()
	assert.True(t, tail.accepts(0))
}

func TestWindow_WalkResumesAtMark(t *testing.T) {
	find := func(text string, off int) (int, int, bool) {
		i := strings.Index(text[off:], "aa")
		if i < 0 {
			return 0, 0, false
		}
		return off + i, off + i + 2, true
	}
	collect := func(w Window, mark int64) ([]int64, int64) {
		var starts []int64
		mark = w.walk(mark, find, func(start, _ int) {
			starts = append(starts, w.Base+int64(start))
		})
		return starts, mark
	}

	// A whole-text scan of "aaaaa" pairs bytes 0-1 and 2-3.
	starts, mark := collect(wholeText("aaaaa"), 0)
	assert.Equal(t, []int64{0, 2}, starts)
	assert.Equal(t, int64(4), mark)

	// A window whose carry begins mid-pair resumes at the mark, not at Base.
	w := Window{Text: "aaaa", Base: 1, Decided: 2, Settle: 5, Final: true}
	starts, _ = collect(w, 2)
	assert.Equal(t, []int64{2}, starts)

	// Candidates at or past Settle are left for a later window.
	w = Window{Text: "aaaaaa", Base: 0, Settle: 2}
	starts, mark = collect(w, 0)
	assert.Equal(t, []int64{0}, starts)
	assert.Equal(t, int64(2), mark)
}

func TestBoundaryBuffer_CarryIsBounded(t *testing.T) {
	b := NewBoundaryBuffer(5)
	for range 100 {
		b.Advance(b.Extend([]byte("0123456789")))
		assert.LessOrEqual(t, b.Len(), 10+5)
	}
	assert.Equal(t, 10, b.Len())
}

func TestRuneJoiner(t *testing.T) {
	var j runeJoiner
	assert.Equal(t, "a", string(j.join([]byte("a\xc3"))))
	assert.Equal(t, "éb", string(j.join([]byte("\xa9b"))))

	euro := []byte("€")
	assert.Empty(t, j.join(euro[:1]))
	assert.Empty(t, j.join(euro[1:2]))
	assert.Equal(t, "€", string(j.join(euro[2:])))
}

func TestIncompleteTail(t *testing.T) {
	assert.Equal(t, 0, incompleteTail([]byte("abc")))
	assert.Equal(t, 1, incompleteTail([]byte("a\xc3")))
	assert.Equal(t, 2, incompleteTail([]byte("a\xe2\x82")))
	assert.Equal(t, 0, incompleteTail([]byte("a\xff")))
	assert.Equal(t, 0, incompleteTail(nil))
}
