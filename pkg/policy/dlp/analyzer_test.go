package dlp

import (
	"context"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestAnalyzer_FinalizeWithoutData(t *testing.T) {
	a := NewAnalyzer(DefaultConfig())
	_, err := a.Finalize()
	require.ErrorIs(t, err, ErrEmptyStream)

	require.NoError(t, a.ProcessChunk(nil))
	assert.Equal(t, uint64(1), a.Stats().ChunksProcessed)
	_, err = a.Finalize()
	require.ErrorIs(t, err, ErrEmptyStream, "empty chunks carry no content")

	require.NoError(t, a.ProcessString("now there is text"))
	_, err = a.Finalize()
	require.NoError(t, err)
}

func TestAnalyzer_CountsChunksAndBytes(t *testing.T) {
	a := NewAnalyzer(DefaultConfig())
	require.NoError(t, a.ProcessString("Test content"))
	require.NoError(t, a.ProcessString(""))
	require.NoError(t, a.ProcessString("More content"))

	stats := a.Stats()
	assert.Equal(t, uint64(3), stats.ChunksProcessed)
	assert.Equal(t, uint64(24), stats.TotalBytesProcessed)
	assert.Equal(t, 3, stats.UniqueWords, "test, contentmore and the held back content")
}

func TestAnalyzer_FinalizeIsPure(t *testing.T) {
	a := NewAnalyzer(DefaultConfig())
	require.NoError(t, a.ProcessString("This is confidential. Call 123-456-7890"))

	before := a.Stats()
	first, err := a.Finalize()
	require.NoError(t, err)
	second, err := a.Finalize()
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, before, a.Stats())

	require.NoError(t, a.ProcessString(" and user@example.com"))
	third, err := a.Finalize()
	require.NoError(t, err)
	assert.Len(t, third.BannedPhrases, 1)
	assert.Len(t, third.PIIPatterns, 2)
}

func TestAnalyzer_BannedPhraseOnlyIsAllowed(t *testing.T) {
	a := NewAnalyzer(DefaultConfig())
	require.NoError(t, a.ProcessString("This document is confidential and should not be shared."))

	result, err := a.Finalize()
	require.NoError(t, err)

	require.Len(t, result.BannedPhrases, 1)
	assert.Equal(t, "confidential", result.BannedPhrases[0].Phrase)
	assert.Empty(t, result.PIIPatterns)
	// Letters only, so entropy stays below log2(26) and the score below 0.6.
	assert.Equal(t, DecisionAllow, result.Decision)
	assert.Equal(t, "Found 1 banned phrase(s)", result.Reason)
	assert.Greater(t, result.RiskScore, 0.4)
	assert.Less(t, result.RiskScore, 0.6)
}

func TestAnalyzer_PhraseAndPIIBlocks(t *testing.T) {
	a := NewAnalyzer(DefaultConfig())
	require.NoError(t, a.ProcessString("confidential: call 123-456-7890"))

	result, err := a.Finalize()
	require.NoError(t, err)

	assert.Equal(t, DecisionBlock, result.Decision)
	assert.Equal(t, "Found 1 banned phrase(s); Detected 1 PII pattern(s)", result.Reason)
	assert.GreaterOrEqual(t, result.RiskScore, 0.7)
}

func TestAnalyzer_NoConcerns(t *testing.T) {
	a := NewAnalyzer(DefaultConfig())
	require.NoError(t, a.ProcessString("hello world"))

	result, err := a.Finalize()
	require.NoError(t, err)

	assert.Equal(t, DecisionAllow, result.Decision)
	assert.Equal(t, "No security concerns detected.", result.Reason)
	assert.False(t, result.IsObfuscated)
	assert.Equal(t, []WordCount{{"hello", 1}, {"world", 1}}, result.TopWords)
}

func TestAnalyzer_HighEntropy(t *testing.T) {
	a := NewAnalyzer(DefaultConfig())
	require.NoError(t, a.ProcessString("abcdefghijklmnopqrstuvwxyz0123456789"))

	result, err := a.Finalize()
	require.NoError(t, err)

	assert.True(t, result.IsObfuscated)
	assert.Equal(t, "High entropy content detected (possible obfuscation)", result.Reason)
	assert.InDelta(t, 0.2, result.RiskScore, 1e-9)
	assert.Equal(t, DecisionAllow, result.Decision)
}

func TestAnalyzer_CustomConfig(t *testing.T) {
	a := NewAnalyzer(Config{
		Stopwords:        []string{"custom"},
		EntropyThreshold: 3.0,
		RiskThreshold:    0.3,
		MaxWords:         5,
		BannedPhrases:    []string{"secret"},
	})
	require.NoError(t, a.ProcessString("This is a secret document with custom content."))

	result, err := a.Finalize()
	require.NoError(t, err)

	require.Len(t, result.BannedPhrases, 1)
	assert.Equal(t, DecisionBlock, result.Decision)
	assert.LessOrEqual(t, len(result.TopWords), 5)
	for _, wc := range result.TopWords {
		assert.NotEqual(t, "custom", wc.Word)
	}
}

func TestAnalyzer_ZeroMaxWords(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxWords = 0
	a := NewAnalyzer(cfg)
	require.NoError(t, a.ProcessString("plenty of words here"))

	result, err := a.Finalize()
	require.NoError(t, err)
	assert.NotNil(t, result.TopWords)
	assert.Empty(t, result.TopWords)
}

func TestAnalyzer_UpdateConfigAppliesStopwordsAtReadTime(t *testing.T) {
	cfg := DefaultConfig()
	a := NewAnalyzer(cfg)
	require.NoError(t, a.ProcessString("alpha beta alpha gamma "))

	cfg.Stopwords = append(cfg.Stopwords, "alpha")
	a.UpdateConfig(cfg)

	result, err := a.Finalize()
	require.NoError(t, err)
	assert.Equal(t, []WordCount{{"beta", 1}, {"gamma", 1}}, result.TopWords)
	assert.Equal(t, 2, a.Stats().UniqueWords)
	assert.Contains(t, a.Config().Stopwords, "alpha")
}

func TestAnalyzer_UpdateConfigIsNotRetroactiveForMatches(t *testing.T) {
	a := NewAnalyzer(DefaultConfig())
	require.NoError(t, a.ProcessString(strings.Repeat("filler ", 100)+"confidential "))
	require.NoError(t, a.ProcessString(strings.Repeat("filler ", 100)))
	require.Equal(t, 1, a.Stats().PhraseMatchCount)

	cfg := DefaultConfig()
	cfg.BannedPhrases = []string{"filler"}
	a.UpdateConfig(cfg)

	result, err := a.Finalize()
	require.NoError(t, err)
	assert.Equal(t, "confidential", result.BannedPhrases[0].Phrase)
	for _, m := range result.BannedPhrases[1:] {
		assert.Equal(t, "filler", m.Phrase)
		assert.Greater(t, m.Position, int64(707), "only text after the update is scanned for new phrases")
	}
}

func TestAnalyzer_ConfigIsCopied(t *testing.T) {
	cfg := DefaultConfig()
	a := NewAnalyzer(cfg)
	cfg.BannedPhrases[0] = "mutated"
	assert.Equal(t, "confidential", a.Config().BannedPhrases[0])
}

func TestAnalyzer_CrossChunkPhrase(t *testing.T) {
	whole := NewAnalyzer(DefaultConfig())
	require.NoError(t, whole.ProcessString("this is confidential"))
	want, err := whole.Finalize()
	require.NoError(t, err)

	split := NewAnalyzer(DefaultConfig())
	require.NoError(t, split.ProcessString("this is confi"))
	require.NoError(t, split.ProcessString("dential"))
	got, err := split.Finalize()
	require.NoError(t, err)

	require.Len(t, got.BannedPhrases, 1)
	assert.Equal(t, int64(8), got.BannedPhrases[0].Position)
	assert.Equal(t, want.BannedPhrases, got.BannedPhrases)
}

func TestAnalyzer_CrossChunkPII(t *testing.T) {
	a := NewAnalyzer(DefaultConfig())
	require.NoError(t, a.ProcessString("card 4532 0151 "))
	require.NoError(t, a.ProcessString("1283 0366 and ip 10.0."))
	require.NoError(t, a.ProcessString("0.1 done"))

	result, err := a.Finalize()
	require.NoError(t, err)

	require.Len(t, result.PIIPatterns, 2)
	assert.Equal(t, PIIMatch{Kind: KindCreditCard, Text: "4532 0151 1283 0366", Position: 5, Confidence: 0.95}, result.PIIPatterns[0])
	assert.Equal(t, PIIMatch{Kind: KindIPAddress, Text: "10.0.0.1", Position: 32, Confidence: 0.9}, result.PIIPatterns[1])
}

func TestAnalyzer_NoPrematureMatchAtChunkEnd(t *testing.T) {
	a := NewAnalyzer(DefaultConfig())
	require.NoError(t, a.ProcessString(strings.Repeat("x ", 200)+"123-456-7890"))
	require.NoError(t, a.ProcessString("1 "+strings.Repeat("y ", 200)))

	result, err := a.Finalize()
	require.NoError(t, err)
	assert.Empty(t, result.PIIPatterns, "123-456-78901 is not a phone number")
}

func TestAnalyzer_LongStreamSettlesMatches(t *testing.T) {
	a := NewAnalyzer(DefaultConfig())
	chunk := strings.Repeat("confidential document 123-45-6789 normal text ", 50)
	for range 10 {
		require.NoError(t, a.ProcessString(chunk))
	}

	stats := a.Stats()
	assert.Greater(t, stats.PhraseMatchCount, 0)
	assert.Greater(t, stats.PIIMatchCount, 0)

	result, err := a.Finalize()
	require.NoError(t, err)
	assert.Len(t, result.BannedPhrases, 500)
	assert.Len(t, result.PIIPatterns, 500)
	assert.LessOrEqual(t, a.boundary.Len(), 2*a.reach())

	for i := 1; i < len(result.PIIPatterns); i++ {
		assert.Less(t, result.PIIPatterns[i-1].Position, result.PIIPatterns[i].Position)
	}
}

func TestAnalyzer_SplitRune(t *testing.T) {
	text := "naïve café ÄÖÜ"
	whole, err := Analyze(context.Background(), DefaultConfig(), text)
	require.NoError(t, err)

	a := NewAnalyzer(DefaultConfig())
	raw := []byte(text)
	for i := range raw {
		require.NoError(t, a.ProcessChunk(raw[i:i+1]))
	}
	split, err := a.Finalize()
	require.NoError(t, err)

	assert.Equal(t, whole.Entropy, split.Entropy)
	assert.Equal(t, whole.TopWords, split.TopWords)
	assert.Equal(t, []WordCount{{"café", 1}, {"naïve", 1}, {"äöü", 1}}, split.TopWords)
}

var invarianceVocabulary = []string{
	"alpha", "Beta", "confidential", "CONFIDENTIAL", "do", "not", "share", "secretive",
	"123-456-7890", "987.654.3210", "user@example.com", "4532015112830366",
	"4532-0151-1283-0367", "192.168.1.1", "999.1.1.1", "123-45-6789", "zebra",
	"ÄÖÜ", "naïve", "x", "the", "1234567890", "1.2.3.4.5.6.7.8", "a", "a", "a",
}

func invarianceConfig() Config {
	cfg := DefaultConfig()
	cfg.BannedPhrases = append(cfg.BannedPhrases, "a a")
	return cfg
}

var invarianceSeparators = []string{" ", "\n", "  ", ", ", ". ", "\t"}

func TestAnalyzer_ChunkInvarianceProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		words := rapid.SliceOfN(rapid.SampledFrom(invarianceVocabulary), 1, 400).Draw(t, "words")
		var sb strings.Builder
		for i, w := range words {
			if i > 0 {
				sb.WriteString(rapid.SampledFrom(invarianceSeparators).Draw(t, "sep"))
			}
			sb.WriteString(w)
		}
		text := []byte(sb.String())

		cuts := rapid.SliceOfN(rapid.IntRange(0, len(text)), 0, 16).Draw(t, "cuts")
		slices.Sort(cuts)

		whole := NewAnalyzer(invarianceConfig())
		require.NoError(t, whole.ProcessChunk(text))
		want, err := whole.Finalize()
		require.NoError(t, err)

		split := NewAnalyzer(invarianceConfig())
		prev := 0
		for _, cut := range cuts {
			require.NoError(t, split.ProcessChunk(text[prev:cut]))
			prev = cut
		}
		require.NoError(t, split.ProcessChunk(text[prev:]))
		got, err := split.Finalize()
		require.NoError(t, err)

		assert.Equal(t, want, got)
		assert.Equal(t, whole.Stats().PhraseMatchCount, split.Stats().PhraseMatchCount)
		assert.Equal(t, whole.Stats().PIIMatchCount, split.Stats().PIIMatchCount)
	})
}

func TestAnalyzer_BackToBackCandidatesAcrossChunks(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		phrases []string
		count   func(Result) int
		want    int
	}{
		{
			name:  "dotted version run",
			text:  "x " + strings.Repeat("1.", 400) + "1",
			count: func(r Result) int { return len(r.PIIPatterns) },
			want:  100,
		},
		{
			name:    "overlapping phrase run",
			text:    "x " + strings.Repeat("a ", 400),
			phrases: []string{"a a"},
			count:   func(r Result) int { return len(r.BannedPhrases) },
			want:    200,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.BannedPhrases = tt.phrases

			want, err := Analyze(context.Background(), cfg, tt.text)
			require.NoError(t, err)
			require.Equal(t, tt.want, tt.count(want))

			for _, size := range []int{1, 7, 50, 97, 100, 333} {
				got, err := AnalyzeStream(context.Background(), cfg, strings.NewReader(tt.text), size)
				require.NoError(t, err)
				assert.Equal(t, want.PIIPatterns, got.PIIPatterns, "chunk size %d", size)
				assert.Equal(t, want.BannedPhrases, got.BannedPhrases, "chunk size %d", size)
			}
		})
	}
}

func TestAnalyzer_StatsCountPendingMatches(t *testing.T) {
	a := NewAnalyzer(DefaultConfig())
	require.NoError(t, a.ProcessString("This is confidential. Call 123-456-7890"))

	stats := a.Stats()
	assert.Equal(t, 1, stats.PhraseMatchCount)
	assert.Equal(t, 1, stats.PIIMatchCount)

	// Reading stats twice must not settle anything.
	assert.Equal(t, stats, a.Stats())
	result, err := a.Finalize()
	require.NoError(t, err)
	assert.Len(t, result.BannedPhrases, 1)
	assert.Len(t, result.PIIPatterns, 1)
}
