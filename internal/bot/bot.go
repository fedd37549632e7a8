// Package bot is the Telegram ops surface: inspect the scheduler, pause
// and resume tasks, and trigger on-demand runs from chat.
package bot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"dockmate/internal/scheduler"
	"dockmate/internal/storage"
	logx "dockmate/pkg/logx"
)

type Config struct {
	Token        string
	OwnerUserIDs []int64
	PollTimeout  time.Duration // default 10s
}

// Core is the scheduler API the bot drives. Satisfied by *scheduler.Service.
type Core interface {
	Start(ctx context.Context) bool
	Stop(ctx context.Context) bool
	Running() bool
	Stats() scheduler.Snapshot
	RunNow(ctx context.Context, id string) error
}

type Service struct {
	cfg   Config
	log   logx.Logger
	bot   *tele.Bot
	core  Core
	store storage.Store

	runMu     sync.Mutex
	running   bool
	runCancel context.CancelFunc
	runWG     sync.WaitGroup
}

func New(cfg Config, core Core, store storage.Store, log logx.Logger) (*Service, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	s := &Service{cfg: cfg, log: log, bot: b, core: core, store: store}
	s.register()
	return s, nil
}

func (s *Service) Start(ctx context.Context) error {
	s.runMu.Lock()
	if s.running {
		s.runMu.Unlock()
		return nil
	}
	s.running = true
	rctx, cancel := context.WithCancel(ctx)
	s.runCancel = cancel
	s.runWG.Add(1)
	s.runMu.Unlock()

	go func() {
		defer s.runWG.Done()
		go func() {
			<-rctx.Done()
			s.bot.Stop()
		}()
		s.log.Info("bot polling started")
		s.bot.Start() // blocks until Stop()
	}()
	return nil
}

// Stop is best-effort: a Telegram long-poll still in flight must not hold
// up process shutdown, so we wait at most a short grace window.
func (s *Service) Stop(ctx context.Context) error {
	s.runMu.Lock()
	cancel := s.runCancel
	s.runCancel = nil
	wasRunning := s.running
	s.running = false
	s.runMu.Unlock()
	if !wasRunning {
		return nil
	}
	if cancel != nil {
		cancel()
	}
	go s.bot.Stop()

	done := make(chan struct{})
	go func() {
		s.runWG.Wait()
		close(done)
	}()

	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	t := time.NewTimer(grace)
	defer t.Stop()
	select {
	case <-done:
		s.log.Info("bot polling stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		s.log.Warn("bot stop grace elapsed; continuing shutdown")
		return nil
	}
}

// SendText lets the notifier push through the same bot connection.
func (s *Service) SendText(ctx context.Context, chatID int64, text string) error {
	_, err := s.bot.Send(&tele.Chat{ID: chatID}, text, &tele.SendOptions{
		DisableWebPagePreview: true,
	})
	return err
}

func (s *Service) register() {
	s.bot.Use(s.ownerOnly)

	s.bot.Handle("/status", s.handleStatus)
	s.bot.Handle("/tasks", s.handleTasks)
	s.bot.Handle("/run", s.handleRun)
	s.bot.Handle("/pause", s.handlePause)
	s.bot.Handle("/resume", s.handleResume)
	s.bot.Handle("/scheduler", s.handleScheduler)
	s.bot.Handle("/help", s.handleHelp)
	s.bot.Handle("/start", s.handleHelp)
}

// ownerOnly drops updates from anyone not in the owner allowlist.
// Silence (no reply) is deliberate for unauthorized senders.
func (s *Service) ownerOnly(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		sender := c.Sender()
		if sender == nil || !s.isOwner(sender.ID) {
			if sender != nil {
				s.log.Warn("unauthorized bot command ignored",
					logx.Int64("from", sender.ID))
			}
			return nil
		}
		return next(c)
	}
}

func (s *Service) isOwner(id int64) bool {
	for _, o := range s.cfg.OwnerUserIDs {
		if o == id {
			return true
		}
	}
	return false
}
