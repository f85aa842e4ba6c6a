package dlp

// Window is the text a matcher scans for one chunk: the carried tail of the
// stream followed by the new chunk.
type Window struct {
	// Text holds the raw bytes of the window.
	Text string
	// Base is the global offset of Text[0].
	Base int64
	// Decided is the global offset below which every match start was already
	// accepted or rejected by an earlier window.
	Decided int64
	// Settle is the global offset at which match starts stop being final for
	// this window; they are rescanned with more right context later. Ignored
	// when Final is set.
	Settle int64
	// Final marks the end of the stream.
	Final bool
}

// accepts reports whether a match starting at the global offset start belongs
// to this window.
func (w Window) accepts(start int64) bool {
	if start < w.Decided {
		return false
	}
	return w.Final || start < w.Settle
}

// finder returns the leftmost candidate in text starting at or after byte
// offset off.
type finder func(text string, off int) (start, end int, ok bool)

// walk visits the non-overlapping candidates of find in w, resuming at the
// later of next and w.Decided. This is the sequence a scan of the whole stream
// visits, whatever the chunking. emit is called for every candidate the window
// accepts; the returned mark is the end of the last one.
func (w Window) walk(next int64, find finder, emit func(start, end int)) int64 {
	off := int(max(next, w.Decided) - w.Base)
	for off <= len(w.Text) {
		start, end, ok := find(w.Text, off)
		if !ok || !w.accepts(w.Base+int64(start)) {
			break
		}
		next = w.Base + int64(end)
		emit(start, end)
		off = end
	}
	return next
}

// BoundaryBuffer carries the tail of the stream between chunks so that matches
// straddling a chunk boundary are still found, at their global positions.
//
// The carry holds up to 2*reach bytes: reach bytes of left context for matches
// that are still undecided, and the reach bytes whose matches could not yet be
// confirmed because their right context had not arrived.
type BoundaryBuffer struct {
	reach   int
	carry   []byte
	base    int64
	decided int64
}

// NewBoundaryBuffer returns a buffer sized for matches of at most reach-1 bytes
// plus the context they need.
func NewBoundaryBuffer(reach int) *BoundaryBuffer {
	if reach < 1 {
		reach = 1
	}
	return &BoundaryBuffer{reach: reach}
}

// SetReach changes the carry size for subsequent chunks.
func (b *BoundaryBuffer) SetReach(reach int) {
	if reach < 1 {
		reach = 1
	}
	b.reach = reach
}

// Len returns the number of carried bytes.
func (b *BoundaryBuffer) Len() int {
	return len(b.carry)
}

// Extend builds the window for chunk.
func (b *BoundaryBuffer) Extend(chunk []byte) Window {
	text := make([]byte, 0, len(b.carry)+len(chunk))
	text = append(text, b.carry...)
	text = append(text, chunk...)

	end := b.base + int64(len(text))
	settle := end - int64(b.reach)
	if settle < b.decided {
		settle = b.decided
	}

	return Window{
		Text:    string(text),
		Base:    b.base,
		Decided: b.decided,
		Settle:  settle,
	}
}

// Advance retains the tail of w for the next chunk.
func (b *BoundaryBuffer) Advance(w Window) {
	keepFrom := w.Settle - int64(b.reach)
	if keepFrom < w.Base {
		keepFrom = w.Base
	}
	tail := w.Text[keepFrom-w.Base:]

	b.carry = append(b.carry[:0], tail...)
	b.base = keepFrom
	b.decided = w.Settle
}

// Tail returns the final window over the carried bytes. It does not modify the
// buffer.
func (b *BoundaryBuffer) Tail() Window {
	return Window{
		Text:    string(b.carry),
		Base:    b.base,
		Decided: b.decided,
		Settle:  b.base + int64(len(b.carry)),
		Final:   true,
	}
}

// wholeText returns a final window over a complete text.
func wholeText(text string) Window {
	return Window{Text: text, Settle: int64(len(text)), Final: true}
}
