// Package commands turns inbound chat updates into schedule mutations and
// replies. Updates are parsed on the receive loop and executed on a small
// worker pool sharded by chat, so one chat's commands run in arrival order;
// the schedule store serialises their effects.
package commands

import (
	"context"
	"errors"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"bumpbot/internal/bump"
	"bumpbot/internal/transport"
	logx "bumpbot/pkg/logx"
)

var ErrQueueFull = errors.New("command queue full")

type Config struct {
	Workers   int
	QueueSize int
	Timeout   time.Duration
	// IgnoreStale drops messages dated before the manager was created.
	IgnoreStale bool
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	return c
}

// Request is one routed update on its way through the middleware chain.
type Request struct {
	Update  transport.Update
	Chat    transport.ChatTarget
	Command bump.Command
	ReqID   string
	Now     int64
	Logger  logx.Logger
}

type Manager struct {
	log    logx.Logger
	sender transport.Sender
	exec   *Executor
	now    func() time.Time

	startedAt time.Time
	cfg       atomic.Pointer[Config]

	mu     sync.RWMutex
	parser *bump.Parser
	// display keeps the configured casing for reply texts; the parser
	// matches on a lower-cased key.
	display string

	// shards[i] is drained by worker i only.
	shards []chan func()
}

type ManagerOption func(*Manager)

// WithManagerClock replaces time.Now for command timestamps and the stale cutoff.
func WithManagerClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

func NewManager(cfg Config, exec *Executor, sender transport.Sender, username string, log logx.Logger, opts ...ManagerOption) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	m := &Manager{
		log:    log.With(logx.String("comp", "commands")),
		sender: sender,
		exec:   exec,
		now:    time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	m.startedAt = m.now()
	m.cfg.Store(&cfg)
	perShard := cfg.QueueSize / cfg.Workers
	if perShard < 1 {
		perShard = 1
	}
	m.shards = make([]chan func(), cfg.Workers)
	for i := range m.shards {
		m.shards[i] = make(chan func(), perShard)
	}
	m.SetUsername(username)
	return m
}

// SetUsername rebuilds the grammar for a new bot handle.
func (m *Manager) SetUsername(username string) {
	display := strings.TrimPrefix(strings.TrimSpace(username), "@")
	p := bump.NewParser(display)
	m.mu.Lock()
	m.parser = p
	m.display = display
	m.mu.Unlock()
}

// Apply updates the timeout and stale filter. Workers and queue size are
// fixed at construction.
func (m *Manager) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	m.cfg.Store(&cfg)
}

func (m *Manager) grammar() (*bump.Parser, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.parser, m.display
}

// shardFor picks the worker that owns chatID.
func (m *Manager) shardFor(chatID int64) chan func() {
	return m.shards[uint64(chatID)%uint64(len(m.shards))]
}

// DispatchLoop consumes updates until ctx is done or updates is closed.
func (m *Manager) DispatchLoop(ctx context.Context, updates <-chan transport.Update) error {
	workers := len(m.shards)
	m.log.Info("command dispatcher started", logx.Int("workers", workers), logx.Int("shard_queue_cap", cap(m.shards[0])))

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		idx := i
		go func() {
			defer wg.Done()
			m.worker(ctx, idx)
		}()
	}

	defer func() {
		for _, ch := range m.shards {
			close(ch)
		}
		wg.Wait()
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				m.log.Info("updates channel closed")
				return nil
			}
			if err := m.route(ctx, up); err != nil && errors.Is(err, ErrQueueFull) {
				m.log.Warn("update dropped", logx.Err(err), logx.String("kind", string(up.Kind)))
			}
		}
	}
}

func (m *Manager) worker(ctx context.Context, idx int) {
	jobs := m.shards[idx]
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-jobs:
			if !ok {
				return
			}
			if job != nil {
				m.runJob(idx, job)
			}
		}
	}
}

// runJob keeps the worker alive past a panic; its shard has no other consumer.
func (m *Manager) runJob(idx int, job func()) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("panic in command worker", logx.Int("worker", idx), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	job()
}

// route parses up and queues its handler. Unmentioned and stale messages are
// dropped here without touching the pool.
func (m *Manager) route(ctx context.Context, up transport.Update) error {
	msg := up.Message
	if msg == nil {
		return nil
	}
	cfg := m.cfg.Load()
	parser, username := m.grammar()

	var cmd bump.Command
	switch up.Kind {
	case transport.UpdateJoined:
		// The welcome is not a grammar command; KindInfo renders the same text.
		cmd = bump.Command{Kind: bump.KindInfo}
	case transport.UpdateMessage:
		if cfg.IgnoreStale && !msg.Date.IsZero() && msg.Date.Before(m.startedAt.Truncate(time.Second)) {
			m.log.Debug("stale message ignored", logx.Int64("chat_id", msg.ChatID), logx.Time("date", msg.Date))
			return nil
		}
		cmd = parser.Parse(msg.Text)
		if cmd.Kind == bump.KindNone {
			return nil
		}
	default:
		return nil
	}

	rid := uuid.NewString()
	req := &Request{
		Update:  up,
		Chat:    transport.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID},
		Command: cmd,
		ReqID:   rid,
		Now:     m.now().Unix(),
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int("thread_id", msg.ThreadID),
			logx.Int64("from_id", msg.FromID),
		),
	}

	handle := func(ctx context.Context, req *Request) error {
		reply := m.exec.Execute(ctx, req.Command, req.Chat.ChatID, req.Now, username)
		if reply.Text == "" {
			return nil
		}
		return m.sender.SendText(ctx, req.Chat, reply.Text, reply.Opt)
	}
	final := Chain(handle,
		MWPanicRecover(m.log),
		MWRequestLog(m.log),
		MWTimeout(cfg.Timeout),
	)

	select {
	case m.shardFor(msg.ChatID) <- func() { _ = final(ctx, req) }:
		return nil
	default:
		return ErrQueueFull
	}
}
