package policy

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
)

// EngineOptions control OPA engine construction and runtime behaviour.
type EngineOptions struct {
	// Entrypoint is the default policy decision path (e.g. "streamguard/decision").
	Entrypoint string
	// Modules contains the Rego modules that should be loaded into the engine.
	Modules map[string]string
	// CacheMaxEntries bounds the decision cache size (LRU). Zero selects the
	// default size; negative disables caching entirely.
	CacheMaxEntries int
	Logger          *slog.Logger
}

// Engine evaluates policy decisions using an embedded OPA instance.
type Engine struct {
	moduleOrder   []string
	parsedModules map[string]*ast.Module
	entrypoint    string
	cache         *decisionCache
	queries       map[string]*rego.PreparedEvalQuery
	logger        *slog.Logger
	mu            sync.RWMutex
}

const (
	defaultEntrypoint    = "streamguard/decision"
	defaultCacheCapacity = 1024
)

// LoadModules reads a Rego module file, or every .rego file of a directory.
func LoadModules(path string) (map[string]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat policy module: %w", err)
	}

	files := []string{path}
	if info.IsDir() {
		files, err = filepath.Glob(filepath.Join(path, "*.rego"))
		if err != nil {
			return nil, fmt.Errorf("list policy modules: %w", err)
		}
	}

	modules := make(map[string]string, len(files))
	for _, file := range files {
		//nolint:gosec // Module path is controlled by the operator
		src, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read policy module %s: %w", file, err)
		}
		modules[filepath.Base(file)] = string(src)
	}
	return modules, nil
}

// NewEngine constructs an Engine for the supplied modules and entrypoint.
func NewEngine(ctx context.Context, opts EngineOptions) (*Engine, error) {
	entry := strings.TrimSpace(opts.Entrypoint)
	if entry == "" {
		entry = defaultEntrypoint
	}

	if len(opts.Modules) == 0 {
		return nil, errors.New("policy engine requires at least one rego module")
	}

	maxEntries := opts.CacheMaxEntries
	switch {
	case maxEntries == 0:
		maxEntries = defaultCacheCapacity
	case maxEntries < 0:
		maxEntries = 0
	}

	var cache *decisionCache
	if maxEntries > 0 {
		cache = newDecisionCache(maxEntries)
	}

	moduleOrder := make([]string, 0, len(opts.Modules))
	for name := range opts.Modules {
		moduleOrder = append(moduleOrder, name)
	}
	sort.Strings(moduleOrder)

	parsedModules := make(map[string]*ast.Module, len(moduleOrder))
	for _, name := range moduleOrder {
		module, err := ast.ParseModuleWithOpts(name, opts.Modules[name], ast.ParserOptions{RegoVersion: ast.RegoV1})
		if err != nil {
			return nil, fmt.Errorf("parse rego module %q: %w", name, err)
		}
		parsedModules[name] = module
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	engine := &Engine{
		moduleOrder:   moduleOrder,
		parsedModules: parsedModules,
		entrypoint:    entry,
		cache:         cache,
		queries:       make(map[string]*rego.PreparedEvalQuery),
		logger:        logger,
	}

	// Warm the default entrypoint to surface compile errors early.
	if _, err := engine.getPreparedQuery(ctx, entry); err != nil {
		return nil, fmt.Errorf("compile rego modules: %w", err)
	}

	return engine, nil
}

// Evaluate executes the policy using the supplied input and converts the result.
func (e *Engine) Evaluate(ctx context.Context, input Input) (Decision, error) {
	entry := strings.TrimSpace(input.Entrypoint)
	if entry == "" {
		entry = e.entrypoint
	}

	payload := input.payload()

	cacheKey, shouldCache := e.cacheKey(entry, input, payload)
	if shouldCache {
		if cached, ok := e.cache.Get(cacheKey); ok {
			return cloneDecision(cached), nil
		}
	}

	prepared, err := e.getPreparedQuery(ctx, entry)
	if err != nil {
		return Decision{}, fmt.Errorf("prepare query: %w", err)
	}

	e.logger.Debug("Evaluating policy", "entrypoint", entry, "profile", input.Profile)
	results, err := prepared.Eval(ctx, rego.EvalInput(payload))
	if err != nil {
		return Decision{}, fmt.Errorf("opa decision: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		e.logger.Debug("Policy produced no result", "entrypoint", entry)
		return Decision{Action: ActionAllow, Metadata: map[string]string{}}, nil
	}

	decisionPayload, ok := results[0].Expressions[0].Value.(map[string]any)
	if !ok {
		return Decision{}, fmt.Errorf("opa decision: unexpected result type %T", results[0].Expressions[0].Value)
	}

	action, err := parseAction(decisionPayload["action"])
	if err != nil {
		return Decision{}, err
	}

	reason, _ := decisionPayload["reason"].(string)
	decision := Decision{Action: action, Reason: reason, Metadata: parseMetadata(decisionPayload["metadata"])}

	if shouldCache {
		e.cache.Add(cacheKey, decision)
	}

	return cloneDecision(decision), nil
}

// FlushCache clears all cached decisions. Safe to call concurrently.
func (e *Engine) FlushCache() {
	if e.cache != nil {
		e.cache.Clear()
	}
}

func (e *Engine) getPreparedQuery(ctx context.Context, entry string) (*rego.PreparedEvalQuery, error) {
	e.mu.RLock()
	if prepared, ok := e.queries[entry]; ok {
		e.mu.RUnlock()
		return prepared, nil
	}
	e.mu.RUnlock()

	query := "data." + strings.ReplaceAll(entry, "/", ".")

	opts := make([]func(*rego.Rego), 0, len(e.parsedModules)+1)
	opts = append(opts, rego.Query(query))
	for _, name := range e.moduleOrder {
		opts = append(opts, rego.ParsedModule(e.parsedModules[name]))
	}

	prepared, err := rego.New(opts...).PrepareForEval(ctx)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// Another goroutine may have already prepared the query; respect first entry.
	if existing, ok := e.queries[entry]; ok {
		return existing, nil
	}

	e.queries[entry] = &prepared
	return &prepared, nil
}

// cacheKey hashes the entrypoint and the evaluation document. Inputs whose
// document cannot be encoded are not cached.
func (e *Engine) cacheKey(entry string, input Input, payload map[string]any) (string, bool) {
	if e.cache == nil || input.DisableCache {
		return "", false
	}

	doc, err := json.Marshal(payload)
	if err != nil {
		return "", false
	}

	h := sha256.New()
	h.Write([]byte(entry))
	h.Write([]byte{0})
	h.Write(doc)
	return hex.EncodeToString(h.Sum(nil)), true
}

func cloneDecision(dec Decision) Decision {
	return Decision{
		Action:   dec.Action,
		Reason:   dec.Reason,
		Metadata: cloneStringMap(dec.Metadata),
	}
}

type decisionCache struct {
	mu      sync.Mutex
	max     int
	order   *list.List
	entries map[string]*list.Element
}

type cacheItem struct {
	key   string
	value Decision
}

func newDecisionCache(capacity int) *decisionCache {
	return &decisionCache{
		max:     capacity,
		order:   list.New(),
		entries: make(map[string]*list.Element, capacity),
	}
}

func (c *decisionCache) Get(key string) (Decision, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return Decision{}, false
	}
	c.order.MoveToFront(elem)
	return elem.Value.(cacheItem).value, true
}

func (c *decisionCache) Add(key string, value Decision) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		elem.Value = cacheItem{key: key, value: value}
		c.order.MoveToFront(elem)
		return
	}

	c.entries[key] = c.order.PushFront(cacheItem{key: key, value: value})
	if c.order.Len() <= c.max {
		return
	}

	if tail := c.order.Back(); tail != nil {
		c.order.Remove(tail)
		delete(c.entries, tail.Value.(cacheItem).key)
	}
}

func (c *decisionCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *decisionCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.order.Init()
	c.entries = make(map[string]*list.Element, c.max)
}

func parseAction(value any) (Action, error) {
	if value == nil {
		return ActionAllow, nil
	}
	text, ok := value.(string)
	if !ok {
		return Action(""), fmt.Errorf("opa decision: action must be string, got %T", value)
	}
	switch Action(strings.ToLower(text)) {
	case ActionAllow:
		return ActionAllow, nil
	case ActionRedact:
		return ActionRedact, nil
	case ActionBlock:
		return ActionBlock, nil
	default:
		return Action(""), fmt.Errorf("opa decision: unknown action %q", text)
	}
}

func parseMetadata(value any) map[string]string {
	typed, ok := value.(map[string]any)
	if !ok {
		return map[string]string{}
	}
	result := make(map[string]string, len(typed))
	for key, raw := range typed {
		if str, ok := raw.(string); ok {
			result[key] = str
		}
	}
	return result
}
