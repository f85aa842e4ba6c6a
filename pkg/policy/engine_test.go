package policy

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/polisai/streamguard/pkg/logging"
	"github.com/polisai/streamguard/pkg/policy/dlp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testModule = `package streamguard

default decision := {"action": "allow"}

decision := {"action": "block", "reason": "card numbers never leave", "metadata": {"rule": "pci"}} if {
	input.pii.credit_card > 0
}

decision := {"action": "redact", "reason": "mask contact data"} if {
	not input.pii.credit_card
	input.pii.email > 0
}
`

func newTestEngine(t *testing.T, cacheEntries int) *Engine {
	t.Helper()
	engine, err := NewEngine(context.Background(), EngineOptions{
		Modules:         map[string]string{"streamguard.rego": testModule},
		CacheMaxEntries: cacheEntries,
		Logger:          logging.Discard(),
	})
	require.NoError(t, err)
	return engine
}

func analyze(t *testing.T, text string) dlp.Result {
	t.Helper()
	result, err := dlp.Analyze(context.Background(), dlp.DefaultConfig(), text)
	require.NoError(t, err)
	return result
}

func TestEngine_Decisions(t *testing.T) {
	engine := newTestEngine(t, 0)
	ctx := context.Background()

	tests := []struct {
		name   string
		text   string
		action Action
		reason string
	}{
		{"clean", "hello world", ActionAllow, ""},
		{"email", "write to user@example.com", ActionRedact, "mask contact data"},
		{"card", "card 4532015112830366 and user@example.com", ActionBlock, "card numbers never leave"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision, err := engine.Evaluate(ctx, Input{Profile: "default", Result: analyze(t, tt.text)})
			require.NoError(t, err)
			assert.Equal(t, tt.action, decision.Action)
			assert.Equal(t, tt.reason, decision.Reason)
		})
	}
}

func TestEngine_Metadata(t *testing.T) {
	engine := newTestEngine(t, 0)
	decision, err := engine.Evaluate(context.Background(), Input{Result: analyze(t, "4532015112830366")})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"rule": "pci"}, decision.Metadata)
}

func TestEngine_Cache(t *testing.T) {
	engine := newTestEngine(t, 2)
	ctx := context.Background()
	input := Input{Result: analyze(t, "user@example.com")}

	first, err := engine.Evaluate(ctx, input)
	require.NoError(t, err)
	assert.Equal(t, 1, engine.cache.Len())

	first.Metadata["mutated"] = "yes"
	second, err := engine.Evaluate(ctx, input)
	require.NoError(t, err)
	assert.NotContains(t, second.Metadata, "mutated")

	_, err = engine.Evaluate(ctx, Input{Result: analyze(t, "hello")})
	require.NoError(t, err)
	_, err = engine.Evaluate(ctx, Input{Result: analyze(t, "goodbye")})
	require.NoError(t, err)
	assert.Equal(t, 2, engine.cache.Len())

	_, err = engine.Evaluate(ctx, Input{Result: analyze(t, "again"), DisableCache: true})
	require.NoError(t, err)
	assert.Equal(t, 2, engine.cache.Len())

	Guarded{Evaluator: engine, Mode: ModeFailOpen}.FlushCache()
	assert.Equal(t, 0, engine.cache.Len())
}

func TestEngine_UndefinedEntrypointAllows(t *testing.T) {
	engine := newTestEngine(t, -1)
	decision, err := engine.Evaluate(context.Background(), Input{
		Result:     analyze(t, "4532015112830366"),
		Entrypoint: "streamguard/missing",
	})
	require.NoError(t, err)
	assert.Equal(t, ActionAllow, decision.Action)
}

func TestNewEngine_Errors(t *testing.T) {
	_, err := NewEngine(context.Background(), EngineOptions{})
	assert.Error(t, err)

	_, err = NewEngine(context.Background(), EngineOptions{
		Modules: map[string]string{"bad.rego": "package streamguard\n\ndecision := {"},
	})
	assert.Error(t, err)
}

func TestEngine_InvalidAction(t *testing.T) {
	engine, err := NewEngine(context.Background(), EngineOptions{
		Modules: map[string]string{"x.rego": "package streamguard\n\ndecision := {\"action\": \"explode\"}\n"},
		Logger:  logging.Discard(),
	})
	require.NoError(t, err)

	_, err = engine.Evaluate(context.Background(), Input{Result: analyze(t, "hi")})
	assert.Error(t, err)
}

func TestLoadModules(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.rego"), []byte(testModule), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o600))

	modules, err := LoadModules(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.rego"}, keys(modules))

	modules, err = LoadModules(filepath.Join(dir, "a.rego"))
	require.NoError(t, err)
	assert.Contains(t, modules, "a.rego")

	_, err = LoadModules(filepath.Join(dir, "missing.rego"))
	assert.Error(t, err)
}

func TestGuarded_Fallback(t *testing.T) {
	boom := errors.New("boom")
	failing := evaluatorFunc(func(context.Context, Input) (Decision, error) { return Decision{}, boom })

	open, err := Guarded{Evaluator: failing, Mode: ModeFailOpen}.Evaluate(context.Background(), Input{})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, ActionAllow, open.Action)
	assert.Equal(t, "fail-open", open.Metadata["posture"])

	closed, _ := Guarded{Evaluator: failing, Mode: ModeFailClosed}.Evaluate(context.Background(), Input{})
	assert.Equal(t, ActionBlock, closed.Action)
}

func TestParseMode(t *testing.T) {
	mode, err := ParseMode(" Fail-Closed ")
	require.NoError(t, err)
	assert.Equal(t, ModeFailClosed, mode)

	_, err = ParseMode("")
	assert.Error(t, err)
	_, err = ParseMode("sometimes")
	assert.Error(t, err)
}

func TestInputPayload(t *testing.T) {
	in := Input{Profile: "p", Result: analyze(t, "confidential confidential 123-45-6789 a@b.io")}
	doc := in.payload()

	assert.Equal(t, []string{"confidential"}, doc["banned_phrases"])
	assert.Equal(t, 2, doc["phrase_count"])
	assert.Equal(t, map[string]any{"ssn": 1, "email": 1}, doc["pii"])
	assert.Equal(t, map[string]any{}, doc["attributes"])
}

type evaluatorFunc func(context.Context, Input) (Decision, error)

func (f evaluatorFunc) Evaluate(ctx context.Context, in Input) (Decision, error) {
	return f(ctx, in)
}

func keys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
