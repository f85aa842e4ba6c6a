// Package dlp classifies streamed text for data loss prevention.
//
// An Analyzer ingests chunks one at a time and maintains four signals across
// chunk boundaries: character entropy, banned phrase occurrences, personal
// data (PII) occurrences and token frequencies. Finalize combines them into a
// deterministic allow/block verdict. Phrase and PII matches that straddle a
// chunk boundary are found through a bounded carry window and are reported at
// their position in the whole stream.
package dlp

import (
	"context"
)

// DefaultConfig returns the baseline configuration.
func DefaultConfig() Config {
	return Config{
		Stopwords: []string{
			"the", "a", "an", "and", "or", "but", "in", "on", "at", "to", "for", "of", "with",
			"by", "is", "are", "was", "were", "be", "been", "have", "has", "had", "do", "does",
			"did", "will", "would", "could", "should", "may", "might", "can", "this", "that",
			"these", "those", "i", "you", "he", "she", "it", "we", "they", "me", "him", "her",
			"us", "them", "my", "your", "his", "its", "our", "their", "mine", "yours",
			"hers", "ours", "theirs",
		},
		EntropyThreshold: 4.8,
		RiskThreshold:    0.6,
		MaxWords:         10,
		BannedPhrases:    []string{"confidential", "do not share"},
	}
}

// Analyze classifies a complete text in one call.
func Analyze(ctx context.Context, cfg Config, text string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	a := NewAnalyzer(cfg)
	if err := a.ProcessString(text); err != nil {
		return Result{}, err
	}
	return a.Finalize()
}
