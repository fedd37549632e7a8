// Package notify pushes task outcomes to a chat channel.
//
// It subscribes to the event bus and forwards failures (and optionally
// successes) through a Sender, rate limited so a burst of failing tasks
// cannot flood the chat. Repeated identical failures inside the dedup
// window are suppressed.
package notify

import (
	"context"
	"fmt"
	"hash/fnv"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"dockmate/internal/eventbus"
	logx "dockmate/pkg/logx"
)

// Sender delivers a formatted message to a chat. Implemented by the bot
// package; kept as an interface so tests don't need a Telegram token.
type Sender interface {
	SendText(ctx context.Context, chatID int64, text string) error
}

type Config struct {
	Enabled       bool
	ChatID        int64
	RatePerSec    int           // default 3
	NotifySuccess bool          // also announce successful runs
	DedupWindow   time.Duration // default 10m; 0 disables dedup
	SendTimeout   time.Duration // default 10s
}

func (c Config) withDefaults() Config {
	if c.RatePerSec <= 0 {
		c.RatePerSec = 3
	}
	if c.DedupWindow < 0 {
		c.DedupWindow = 0
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
	return c
}

type Service struct {
	mu  sync.Mutex
	cfg Config

	sender  Sender
	bus     eventbus.Bus
	log     logx.Logger
	limiter *rate.Limiter

	stopCh   chan struct{}
	stopDone chan struct{}
	unsub    func()

	dmu   sync.Mutex
	dedup map[string]time.Time
}

func New(cfg Config, sender Sender, bus eventbus.Bus, log logx.Logger) *Service {
	s := &Service{
		sender: sender,
		bus:    bus,
		log:    log,
		dedup:  map[string]time.Time{},
	}
	s.applyLocked(cfg.withDefaults())
	return s
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg.withDefaults())
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	s.cfg = cfg
	// Burst = rate so short spikes don't block too hard.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.stopCh != nil || !s.cfg.Enabled || s.sender == nil || s.bus == nil {
		s.mu.Unlock()
		return
	}
	events, unsub := s.bus.Subscribe(64)
	s.unsub = unsub
	s.stopCh = make(chan struct{})
	s.stopDone = make(chan struct{})
	stopCh, stopDone := s.stopCh, s.stopDone
	s.mu.Unlock()

	go func() {
		defer close(stopDone)
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("panic in notifier loop",
					logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			}
		}()
		s.loop(ctx, events, stopCh)
	}()
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	stopCh, stopDone, unsub := s.stopCh, s.stopDone, s.unsub
	s.stopCh, s.stopDone, s.unsub = nil, nil, nil
	s.mu.Unlock()
	if stopCh == nil {
		return
	}
	close(stopCh)
	if unsub != nil {
		unsub()
	}
	select {
	case <-stopDone:
	case <-ctx.Done():
	}
}

func (s *Service) loop(ctx context.Context, events <-chan eventbus.Event, stopCh <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.handle(ctx, ev)
		}
	}
}

func (s *Service) handle(ctx context.Context, ev eventbus.Event) {
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	s.mu.Unlock()

	text := formatEvent(ev, cfg.NotifySuccess)
	if text == "" {
		return
	}

	if cfg.DedupWindow > 0 {
		if !s.dedupAllow(messageKey(ev), cfg.DedupWindow) {
			s.log.Debug("notification suppressed (dedup)", logx.String("event", ev.Type))
			return
		}
	}

	if err := lim.Wait(ctx); err != nil {
		return
	}
	sctx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
	err := s.sender.SendText(sctx, cfg.ChatID, text)
	cancel()
	if err != nil {
		s.log.Warn("notification send failed",
			logx.String("event", ev.Type), logx.Err(err))
		return
	}
	s.log.Debug("notification sent", logx.String("event", ev.Type))
}

// messageKey ignores timestamps and durations so the same failure
// repeating every poll hashes to the same key.
func messageKey(ev eventbus.Event) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(ev.Type))
	_, _ = h.Write([]byte("|"))
	switch d := ev.Data.(type) {
	case eventbus.TaskEvent:
		_, _ = h.Write([]byte(d.TaskID))
		_, _ = h.Write([]byte("|"))
		_, _ = h.Write([]byte(d.Error))
	case eventbus.CycleEvent:
		_, _ = h.Write([]byte(d.Err))
	}
	return fmt.Sprintf("%x", h.Sum64())
}

func (s *Service) dedupAllow(key string, window time.Duration) bool {
	now := time.Now()
	s.dmu.Lock()
	defer s.dmu.Unlock()
	if until, ok := s.dedup[key]; ok && now.Before(until) {
		return false
	}
	s.dedup[key] = now.Add(window)
	for k, until := range s.dedup {
		if !now.Before(until) {
			delete(s.dedup, k)
		}
	}
	return true
}
