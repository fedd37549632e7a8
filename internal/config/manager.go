package config

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "dockmate/pkg/logx"
)

const (
	debounceDelay      = 250 * time.Millisecond
	watchBackoffBase   = 250 * time.Millisecond
	watchBackoffMax    = 5 * time.Second
	validateTimeout    = 5 * time.Second
	subscriberBufferHi = 4
)

// Manager loads a config file and republishes it to subscribers when the
// file changes on disk. Reloads are transactional: a revision that fails
// decoding or validation is logged and dropped, the previous config stays
// committed.
type Manager struct {
	path string

	mu  sync.RWMutex
	cfg *Config

	// subsMu guards the subscriber list so publish never races Unsubscribe's close.
	subsMu sync.Mutex
	subs   []chan *Config

	log       logx.Logger
	validator func(ctx context.Context, cfg *Config) error

	// lastHash is the hash of the last committed config, used to skip
	// publishes when editors rewrite the file without content changes.
	lastHash uint64
}

func NewManager(path string) *Manager { return &Manager{path: path} }

func (m *Manager) SetLogger(log logx.Logger) { m.log = log }

// SetValidator installs a hook consulted by Watch before committing a reload.
func (m *Manager) SetValidator(fn func(ctx context.Context, cfg *Config) error) {
	m.validator = fn
}

// Load parses the file, applies env overrides, validates, and commits.
func (m *Manager) Load() (*Config, error) {
	cfg, err := m.parse()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m.commit(cfg)
	return cfg, nil
}

func (m *Manager) parse() (*Config, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	cfg, err := decode(m.path, data)
	if err != nil {
		return nil, err
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (m *Manager) commit(cfg *Config) {
	m.mu.Lock()
	m.cfg = cfg
	m.lastHash = hashConfig(cfg)
	m.mu.Unlock()
}

func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *Manager) Subscribe() chan *Config {
	ch := make(chan *Config, subscriberBufferHi)
	m.subsMu.Lock()
	m.subs = append(m.subs, ch)
	m.subsMu.Unlock()
	return ch
}

func (m *Manager) Unsubscribe(ch chan *Config) {
	if ch == nil {
		return
	}
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for i, s := range m.subs {
		if s == ch {
			last := len(m.subs) - 1
			m.subs[i] = m.subs[last]
			m.subs[last] = nil
			m.subs = m.subs[:last]
			close(ch)
			return
		}
	}
}

func (m *Manager) publish(cfg *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for _, ch := range m.subs {
		if ch == nil {
			continue
		}
		// Slow subscribers lose the oldest pending revision, never the newest.
		select {
		case ch <- cfg:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- cfg:
			default:
				m.log.Debug("config update dropped (subscriber slow)",
					logx.Int("queue_cap", cap(ch)))
			}
		}
	}
}

// Watch blocks until ctx is done, reloading the config whenever the file
// changes. The watcher is recreated with jittered backoff if it breaks.
func (m *Manager) Watch(ctx context.Context) error {
	dir := filepath.Dir(m.path)
	file := filepath.Base(m.path)

	backoff := watchBackoffBase
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	sleep := func() bool {
		wait := backoff + time.Duration(rng.Int63n(int64(backoff/2)+1))
		if backoff < watchBackoffMax {
			backoff *= 2
			if backoff > watchBackoffMax {
				backoff = watchBackoffMax
			}
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(wait):
			return true
		}
	}

	// Debounced reload so partial writes settle before we parse.
	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	scheduleReload := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(debounceDelay, func() { m.reload(ctx) })
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		w, err := fsnotify.NewWatcher()
		if err == nil {
			err = w.Add(dir)
			if err != nil {
				_ = w.Close()
			}
		}
		if err != nil {
			m.log.Warn("config watch init failed", logx.Err(err), logx.String("dir", dir))
			if !sleep() {
				return nil
			}
			continue
		}

		backoff = watchBackoffBase
		m.log.Debug("config watcher started", logx.String("path", m.path))

		broken := false
		for !broken {
			select {
			case <-ctx.Done():
				_ = w.Close()
				return nil
			case ev, ok := <-w.Events:
				if !ok {
					broken = true
					break
				}
				if strings.EqualFold(filepath.Base(ev.Name), file) {
					scheduleReload()
				}
			case werr, ok := <-w.Errors:
				if !ok {
					broken = true
					break
				}
				if werr == nil {
					continue
				}
				// Overflow means missed events; force a reload and continue.
				if strings.Contains(strings.ToLower(werr.Error()), "overflow") {
					scheduleReload()
					continue
				}
				m.log.Warn("config watch error", logx.Err(werr), logx.String("dir", dir))
			}
		}

		_ = w.Close()
		if ctx.Err() != nil {
			return nil
		}
		m.log.Warn("config watcher stopped; restarting", logx.String("path", m.path))
		if !sleep() {
			return nil
		}
	}
}

func (m *Manager) reload(ctx context.Context) {
	cfg, err := m.parse()
	if err != nil {
		m.log.Warn("config reload parse failed", logx.String("path", m.path), logx.Err(err))
		return
	}
	if err := cfg.Validate(); err != nil {
		m.log.Warn("config reload rejected", logx.String("path", m.path), logx.Err(err))
		return
	}

	h := hashConfig(cfg)
	m.mu.RLock()
	unchanged := h != 0 && h == m.lastHash
	m.mu.RUnlock()
	if unchanged {
		m.log.Debug("config unchanged; skipping publish", logx.String("path", m.path))
		return
	}

	if m.validator != nil {
		vctx, cancel := context.WithTimeout(ctx, validateTimeout)
		err := m.validator(vctx, cfg)
		cancel()
		if err != nil {
			m.log.Warn("config reload rejected by validator",
				logx.String("path", m.path), logx.Err(err))
			return
		}
	}

	m.commit(cfg)
	m.publish(cfg)
	m.log.Info("config reloaded", logx.String("path", m.path))
}

func hashConfig(cfg *Config) uint64 {
	if cfg == nil {
		return 0
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}
