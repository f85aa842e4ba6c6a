package policy

import (
	"context"
	"maps"
	"slices"

	"github.com/polisai/streamguard/pkg/policy/dlp"
)

// Action defines the outcome of a policy evaluation.
type Action string

const (
	// ActionAllow lets the content pass.
	ActionAllow Action = "allow"
	// ActionRedact asks the caller to redact findings before passing content on.
	ActionRedact Action = "redact"
	// ActionBlock asks the caller to reject the content.
	ActionBlock Action = "block"
)

// Decision captures the result of a policy evaluation.
type Decision struct {
	Action   Action            `json:"action"`
	Reason   string            `json:"reason,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Input provides context for policy evaluation.
type Input struct {
	Profile      string
	Result       dlp.Result
	Attributes   map[string]any
	Entrypoint   string
	DisableCache bool
}

// Evaluator produces an advisory decision for a finalized result.
type Evaluator interface {
	Evaluate(ctx context.Context, input Input) (Decision, error)
}

// Flusher is implemented by evaluators that cache decisions.
type Flusher interface {
	FlushCache()
}

// payload converts the input into the document exposed to Rego as `input`.
// Matched text is not included; policies see phrase names and PII kinds only.
func (in Input) payload() map[string]any {
	phrases := make([]string, 0, len(in.Result.BannedPhrases))
	for _, m := range in.Result.BannedPhrases {
		phrases = append(phrases, m.Phrase)
	}
	slices.Sort(phrases)
	phrases = slices.Compact(phrases)

	pii := make(map[string]any)
	for _, m := range in.Result.PIIPatterns {
		n, _ := pii[string(m.Kind)].(int)
		pii[string(m.Kind)] = n + 1
	}

	return map[string]any{
		"profile":        in.Profile,
		"decision":       string(in.Result.Decision),
		"reason":         in.Result.Reason,
		"risk_score":     in.Result.RiskScore,
		"entropy":        in.Result.Entropy,
		"is_obfuscated":  in.Result.IsObfuscated,
		"banned_phrases": phrases,
		"phrase_count":   len(in.Result.BannedPhrases),
		"pii":            pii,
		"pii_count":      len(in.Result.PIIPatterns),
		"attributes":     cloneAnyMap(in.Attributes),
	}
}

func cloneAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	return maps.Clone(in)
}

func cloneStringMap(in map[string]string) map[string]string {
	if len(in) == 0 {
		return map[string]string{}
	}
	return maps.Clone(in)
}
