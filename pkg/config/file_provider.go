package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const debounceDuration = 100 * time.Millisecond

// FileProvider loads the configuration file and republishes it whenever the
// file changes on disk.
type FileProvider struct {
	path        string
	logger      *slog.Logger
	mu          sync.RWMutex
	snapshot    Snapshot
	subscribers []chan Snapshot
	closed      bool
	watcher     *fsnotify.Watcher
	cancel      context.CancelFunc
	reloads     func(error)
}

// ProviderOption customizes a FileProvider.
type ProviderOption func(*FileProvider)

// WithReloadHook registers fn to observe every reload attempt; err is nil on
// success.
func WithReloadHook(fn func(err error)) ProviderOption {
	return func(p *FileProvider) {
		p.reloads = fn
	}
}

// NewFileProvider loads path and starts watching it. The initial load must
// succeed; later reload failures keep the last good snapshot.
func NewFileProvider(path string, logger *slog.Logger, opts ...ProviderOption) (*FileProvider, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	p := &FileProvider{path: absPath, logger: logger}
	for _, opt := range opts {
		opt(p)
	}

	if err := p.load(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	// Watch the directory so editors that replace the file are noticed.
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch directory: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.watcher = watcher
	p.cancel = cancel

	go p.watchLoop(ctx)

	return p, nil
}

// Current returns the last successfully loaded snapshot.
func (p *FileProvider) Current() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snapshot
}

// Subscribe returns a channel that receives the current snapshot immediately
// and every later one. A slow subscriber only ever sees the latest snapshot.
// The channel is closed by Close.
func (p *FileProvider) Subscribe() <-chan Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := make(chan Snapshot, 1)
	if p.closed {
		close(ch)
		return ch
	}
	p.subscribers = append(p.subscribers, ch)
	ch <- p.snapshot
	return ch
}

// Close stops the watcher and closes all subscriber channels.
func (p *FileProvider) Close() error {
	p.cancel()

	p.mu.Lock()
	if !p.closed {
		p.closed = true
		for _, ch := range p.subscribers {
			close(ch)
		}
		p.subscribers = nil
	}
	p.mu.Unlock()

	return p.watcher.Close()
}

func (p *FileProvider) watchLoop(ctx context.Context) {
	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != p.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(debounceDuration, func() {
				if ctx.Err() != nil {
					return
				}
				err := p.load()
				if err != nil {
					p.logger.Error("Config reload failed", "path", p.path, "error", err)
				} else {
					p.logger.Info("Configuration reloaded", "path", p.path, "generation", p.Current().Generation)
				}
				if p.reloads != nil {
					p.reloads(err)
				}
			})
		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			p.logger.Warn("Config watcher error", "error", err)
		}
	}
}

func (p *FileProvider) load() error {
	cfg, err := Load(p.path)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}

	p.snapshot = Snapshot{
		Generation: p.snapshot.Generation + 1,
		ReceivedAt: time.Now(),
		Config:     cfg,
	}
	for _, ch := range p.subscribers {
		publishLatest(ch, p.snapshot)
	}
	return nil
}

// publishLatest replaces an unread snapshot instead of blocking.
func publishLatest(ch chan Snapshot, snap Snapshot) {
	select {
	case ch <- snap:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- snap:
	default:
	}
}
