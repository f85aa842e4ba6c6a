package dlp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestScoreRisk(t *testing.T) {
	tests := []struct {
		name     string
		in       RiskInput
		score    float64
		decision Decision
		reason   string
	}{
		{
			name:     "phrase only",
			in:       RiskInput{PhraseMatches: 1, EntropyThreshold: 4.8, RiskThreshold: 0.6},
			score:    0.4,
			decision: DecisionAllow,
			reason:   "Found 1 banned phrase(s)",
		},
		{
			name:     "phrase and pii",
			in:       RiskInput{PhraseMatches: 1, PIIMatches: 2, EntropyThreshold: 4.8, RiskThreshold: 0.6},
			score:    0.7,
			decision: DecisionBlock,
			reason:   "Found 1 banned phrase(s); Detected 2 PII pattern(s)",
		},
		{
			name:     "nothing",
			in:       RiskInput{EntropyThreshold: 4.8, RiskThreshold: 0.6},
			score:    0,
			decision: DecisionAllow,
			reason:   "No security concerns detected.",
		},
		{
			name:     "obfuscated",
			in:       RiskInput{Entropy: 5.0, EntropyThreshold: 4.8, RiskThreshold: 0.6},
			score:    0.2,
			decision: DecisionAllow,
			reason:   "High entropy content detected (possible obfuscation)",
		},
		{
			name:     "everything",
			in:       RiskInput{PhraseMatches: 3, PIIMatches: 1, Entropy: 6, EntropyThreshold: 4.8, RiskThreshold: 0.6},
			score:    0.9,
			decision: DecisionBlock,
			reason:   "Found 3 banned phrase(s); Detected 1 PII pattern(s); High entropy content detected (possible obfuscation)",
		},
		{
			name:     "entropy proportional",
			in:       RiskInput{Entropy: 2.4, EntropyThreshold: 4.8, RiskThreshold: 0.6},
			score:    0.1,
			decision: DecisionAllow,
			reason:   "No security concerns detected.",
		},
		{
			name:     "zero entropy threshold",
			in:       RiskInput{EntropyThreshold: 0, RiskThreshold: 0.6},
			score:    0,
			decision: DecisionAllow,
			reason:   "No security concerns detected.",
		},
		{
			name:     "threshold met exactly blocks",
			in:       RiskInput{PhraseMatches: 1, EntropyThreshold: 4.8, RiskThreshold: 0.4},
			score:    0.4,
			decision: DecisionBlock,
			reason:   "Found 1 banned phrase(s)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ScoreRisk(tt.in)
			assert.InDelta(t, tt.score, got.Score, 1e-9)
			assert.Equal(t, tt.decision, got.Decision)
			assert.Equal(t, tt.reason, got.Reason)
		})
	}
}

func TestScoreRisk_Bounds(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		in := RiskInput{
			PhraseMatches:    rapid.IntRange(0, 5).Draw(t, "phrases"),
			PIIMatches:       rapid.IntRange(0, 5).Draw(t, "pii"),
			Entropy:          rapid.Float64Range(0, 8).Draw(t, "entropy"),
			EntropyThreshold: rapid.Float64Range(0, 8).Draw(t, "entropyThreshold"),
			RiskThreshold:    rapid.Float64Range(0, 1).Draw(t, "riskThreshold"),
		}
		got := ScoreRisk(in)

		assert.GreaterOrEqual(t, got.Score, 0.0)
		assert.LessOrEqual(t, got.Score, 1.0)
		assert.Equal(t, got.Score >= in.RiskThreshold, got.Decision == DecisionBlock)
		assert.Equal(t, in.Entropy > in.EntropyThreshold, got.IsObfuscated)

		more := in
		more.PhraseMatches++
		assert.GreaterOrEqual(t, ScoreRisk(more).Score, got.Score)
	})
}
