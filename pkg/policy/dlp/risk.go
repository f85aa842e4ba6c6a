package dlp

import (
	"fmt"
	"strings"
)

// Risk weights. They sum to 0.9: the remaining 0.1 is held for a content size
// signal that is not implemented, and the weights are not
// renormalized.
const (
	bannedWeight  = 0.4
	piiWeight     = 0.3
	entropyWeight = 0.2
	sizeWeight    = 0.1
)

const noConcernsReason = "No security concerns detected."

// RiskInput carries the signals the scorer combines.
type RiskInput struct {
	PhraseMatches    int
	PIIMatches       int
	Entropy          float64
	EntropyThreshold float64
	RiskThreshold    float64
}

// RiskScore is the scorer's verdict.
type RiskScore struct {
	Score        float64
	Decision     Decision
	Reason       string
	IsObfuscated bool
}

// ScoreRisk combines the signals into a weighted score and a decision. It is a
// pure function of its input.
func ScoreRisk(in RiskInput) RiskScore {
	obfuscated := in.Entropy > in.EntropyThreshold

	bannedScore := 0.0
	if in.PhraseMatches > 0 {
		bannedScore = 1.0
	}
	piiScore := 0.0
	if in.PIIMatches > 0 {
		piiScore = 1.0
	}

	var entropyScore float64
	switch {
	case obfuscated:
		entropyScore = 1.0
	case in.EntropyThreshold > 0:
		entropyScore = in.Entropy / in.EntropyThreshold
	}

	score := bannedScore*bannedWeight + piiScore*piiWeight + entropyScore*entropyWeight
	if score > 1 {
		score = 1
	}

	decision := DecisionAllow
	if score >= in.RiskThreshold {
		decision = DecisionBlock
	}

	return RiskScore{
		Score:        score,
		Decision:     decision,
		Reason:       riskReason(in, obfuscated),
		IsObfuscated: obfuscated,
	}
}

func riskReason(in RiskInput, obfuscated bool) string {
	var clauses []string
	if in.PhraseMatches > 0 {
		clauses = append(clauses, fmt.Sprintf("Found %d banned phrase(s)", in.PhraseMatches))
	}
	if in.PIIMatches > 0 {
		clauses = append(clauses, fmt.Sprintf("Detected %d PII pattern(s)", in.PIIMatches))
	}
	if obfuscated {
		clauses = append(clauses, "High entropy content detected (possible obfuscation)")
	}
	if len(clauses) == 0 {
		return noConcernsReason
	}
	return strings.Join(clauses, "; ")
}
