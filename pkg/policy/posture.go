package policy

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Mode indicates whether policy evaluation fails open or closed when an error
// occurs.
type Mode string

const (
	// ModeFailClosed reports a block decision when evaluation fails.
	ModeFailClosed Mode = "fail-closed"
	// ModeFailOpen reports an allow decision when evaluation fails.
	ModeFailOpen Mode = "fail-open"
)

// ParseMode converts a textual representation into a Mode constant.
func ParseMode(value string) (Mode, error) {
	mode := Mode(strings.TrimSpace(strings.ToLower(value)))
	if mode == "" {
		return "", errors.New("mode is required")
	}
	if !mode.IsValid() {
		return "", fmt.Errorf("invalid mode %q", value)
	}
	return mode, nil
}

// IsValid reports whether the mode is recognised.
func (m Mode) IsValid() bool {
	switch m {
	case ModeFailClosed, ModeFailOpen:
		return true
	default:
		return false
	}
}

// Fallback returns the decision reported in place of a failed evaluation.
func (m Mode) Fallback(err error) Decision {
	action := ActionAllow
	if m == ModeFailClosed {
		action = ActionBlock
	}
	return Decision{
		Action:   action,
		Reason:   "policy evaluation failed",
		Metadata: map[string]string{"posture": string(m), "error": err.Error()},
	}
}

// Guarded wraps an Evaluator so that evaluation errors resolve to the posture's
// fallback decision instead of failing the caller.
type Guarded struct {
	Evaluator Evaluator
	Mode      Mode
}

// Evaluate implements Evaluator. The returned error is the original
// evaluation error, if any, so callers can still log it.
func (g Guarded) Evaluate(ctx context.Context, input Input) (Decision, error) {
	decision, err := g.Evaluator.Evaluate(ctx, input)
	if err != nil {
		return g.Mode.Fallback(err), err
	}
	return decision, nil
}

// FlushCache forwards to the wrapped evaluator when it caches decisions.
func (g Guarded) FlushCache() {
	if f, ok := g.Evaluator.(Flusher); ok {
		f.FlushCache()
	}
}
