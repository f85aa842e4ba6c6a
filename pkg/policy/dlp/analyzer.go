package dlp

import (
	"cmp"
	"maps"
	"slices"
)

// Analyzer incrementally classifies a stream delivered in chunks. It keeps
// only aggregate state plus a bounded carry window; previously seen bytes are
// never rescanned.
//
// An Analyzer is not safe for concurrent use. Callers must serialize
// ProcessChunk, Finalize, Stats and UpdateConfig on one instance. Separate
// instances share no mutable state.
type Analyzer struct {
	cfg       Config
	stopwords map[string]struct{}

	runes    runeJoiner
	entropy  EntropyAccumulator
	words    *FrequencyAggregator
	boundary *BoundaryBuffer
	phrases  *PhraseMatcher
	pii      *PIIExtractor

	phraseMarks map[string]int64
	piiMarks    map[PIIKind]int64

	phraseMatches []PhraseMatch
	piiMatches    []PIIMatch

	chunks uint64
	bytes  uint64
}

// NewAnalyzer returns an Analyzer in the accumulating state.
func NewAnalyzer(cfg Config) *Analyzer {
	a := &Analyzer{
		words:       NewFrequencyAggregator(),
		pii:         NewPIIExtractor(),
		phraseMarks: make(map[string]int64),
		piiMarks:    make(map[PIIKind]int64),
	}
	a.applyConfig(cfg)
	a.boundary = NewBoundaryBuffer(a.reach())
	return a
}

// Config returns the active configuration.
func (a *Analyzer) Config() Config {
	return cloneConfig(a.cfg)
}

// UpdateConfig replaces the configuration. Accumulated counts and matches are
// kept as they are; stopwords are applied when results are read, so the new
// list affects already counted words too.
func (a *Analyzer) UpdateConfig(cfg Config) {
	a.applyConfig(cfg)
	a.boundary.SetReach(a.reach())

	for phrase := range a.phraseMarks {
		if !slices.ContainsFunc(a.phrases.phrases, func(cp compiledPhrase) bool { return cp.phrase == phrase }) {
			delete(a.phraseMarks, phrase)
		}
	}
}

func (a *Analyzer) applyConfig(cfg Config) {
	a.cfg = cloneConfig(cfg)
	if a.cfg.MaxWords < 0 {
		a.cfg.MaxWords = 0
	}
	a.stopwords = stopwordSet(a.cfg.Stopwords)
	a.phrases = NewPhraseMatcher(a.cfg.BannedPhrases)
}

// reach is the carry needed for the longest match plus the right context its
// verdict and snippet depend on.
func (a *Analyzer) reach() int {
	return max(a.pii.MaxLen()+1, a.phrases.MaxLen()+contextRadius+1)
}

// ProcessChunk folds one chunk into the running state. Empty chunks are
// accepted and only advance the chunk counter. Any byte sequence is accepted;
// bytes that do not decode to letters or digits contribute nothing.
func (a *Analyzer) ProcessChunk(chunk []byte) error {
	a.chunks++
	if len(chunk) == 0 {
		return nil
	}
	a.bytes += uint64(len(chunk))

	text := a.runes.join(chunk)
	a.entropy.Update(text)
	a.words.Update(text)

	w := a.boundary.Extend(chunk)
	a.phraseMatches = append(a.phraseMatches, a.phrases.Scan(w, a.phraseMarks)...)
	a.piiMatches = append(a.piiMatches, a.pii.Scan(w, a.piiMarks)...)
	a.boundary.Advance(w)
	return nil
}

// ProcessString is ProcessChunk for text input.
func (a *Analyzer) ProcessString(chunk string) error {
	return a.ProcessChunk([]byte(chunk))
}

// Write implements io.Writer; each call is one chunk.
func (a *Analyzer) Write(p []byte) (int, error) {
	if err := a.ProcessChunk(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Finalize computes the verdict for everything processed so far. It does not
// modify the Analyzer and may be called repeatedly; more chunks may follow.
func (a *Analyzer) Finalize() (Result, error) {
	if a.chunks == 0 || a.bytes == 0 {
		return Result{}, ErrEmptyStream
	}

	pendingPhrases, pendingPII := a.pending()
	phrases := slices.Concat(a.phraseMatches, pendingPhrases)
	pii := slices.Concat(a.piiMatches, pendingPII)
	if phrases == nil {
		phrases = []PhraseMatch{}
	}
	if pii == nil {
		pii = []PIIMatch{}
	}

	entropy := a.entropy.Entropy()
	risk := ScoreRisk(RiskInput{
		PhraseMatches:    len(phrases),
		PIIMatches:       len(pii),
		Entropy:          entropy,
		EntropyThreshold: a.cfg.EntropyThreshold,
		RiskThreshold:    a.cfg.RiskThreshold,
	})

	return Result{
		TopWords:      a.words.Top(a.cfg.MaxWords, a.stopwords),
		BannedPhrases: phrases,
		PIIPatterns:   pii,
		Entropy:       entropy,
		IsObfuscated:  risk.IsObfuscated,
		Decision:      risk.Decision,
		Reason:        risk.Reason,
		RiskScore:     risk.Score,
	}, nil
}

// pending scans the carry as if the stream ended now. The marks are cloned so
// the Analyzer is left untouched.
func (a *Analyzer) pending() ([]PhraseMatch, []PIIMatch) {
	tail := a.boundary.Tail()
	return a.phrases.Scan(tail, maps.Clone(a.phraseMarks)),
		a.pii.Scan(tail, maps.Clone(a.piiMarks))
}

// Stats reports counters as of the last ProcessChunk. Match counts are the
// ones Finalize would report at this point.
func (a *Analyzer) Stats() Stats {
	phrases, pii := a.pending()
	return Stats{
		ChunksProcessed:     a.chunks,
		TotalBytesProcessed: a.bytes,
		UniqueWords:         a.words.Unique(a.stopwords),
		PhraseMatchCount:    len(a.phraseMatches) + len(phrases),
		PIIMatchCount:       len(a.piiMatches) + len(pii),
	}
}

func cloneConfig(cfg Config) Config {
	cfg.Stopwords = slices.Clone(cfg.Stopwords)
	cfg.BannedPhrases = slices.Clone(cfg.BannedPhrases)
	return cfg
}

func sortByPosition[T any](items []T, key func(T) (int64, int)) {
	slices.SortStableFunc(items, func(a, b T) int {
		pa, ra := key(a)
		pb, rb := key(b)
		if c := cmp.Compare(pa, pb); c != 0 {
			return c
		}
		return cmp.Compare(ra, rb)
	})
}
