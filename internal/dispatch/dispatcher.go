package dispatch

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"bumpbot/internal/schedule"
	"bumpbot/internal/transport"
	logx "bumpbot/pkg/logx"
)

// Config controls delivery. Zero values take the defaults in withDefaults.
type Config struct {
	Enabled         bool
	Spec            string
	BumpText        string
	DeliveryTimeout time.Duration
	RetryMax        int
	RetryBase       time.Duration
	RatePerSec      int
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.BumpText) == "" {
		c.BumpText = "bump"
	}
	if c.DeliveryTimeout <= 0 {
		c.DeliveryTimeout = 10 * time.Second
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 250 * time.Millisecond
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 20
	}
	return c
}

type Option func(*Dispatcher)

// WithClock replaces time.Now for cron-driven ticks.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// Dispatcher drives the schedule store once per tick.
type Dispatcher struct {
	store  *schedule.Store
	sender transport.Sender
	log    logx.Logger
	now    func() time.Time
	parser cron.Parser

	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter
	c       *cron.Cron
	runCtx  context.Context

	rngMu sync.Mutex
	rng   *rand.Rand

	delivered atomic.Uint64
	failed    atomic.Uint64
}

func New(cfg Config, store *schedule.Store, sender transport.Sender, log logx.Logger, opts ...Option) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	d := &Dispatcher{
		store:   store,
		sender:  sender,
		log:     log.With(logx.String("comp", "dispatch")),
		now:     time.Now,
		parser:  cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

func (d *Dispatcher) config() Config {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg
}

// Stats returns lifetime delivery counters.
func (d *Dispatcher) Stats() (delivered, failed uint64) {
	return d.delivered.Load(), d.failed.Load()
}

// Start registers the tick with cron. It is a no-op when disabled or
// already running.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.runCtx = ctx
	if d.c != nil {
		return nil
	}
	if !d.cfg.Enabled {
		d.log.Warn("dispatch disabled; scheduled bumps will not be delivered")
		return nil
	}
	return d.startLocked()
}

func (d *Dispatcher) startLocked() error {
	spec, err := normalizeSpec(d.cfg.Spec)
	if err != nil {
		return err
	}
	cl := cronLogger{log: d.log}
	c := cron.New(
		cron.WithParser(d.parser),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	ctx := d.runCtx
	if _, err := c.AddFunc(spec, func() {
		if ctx.Err() != nil {
			return
		}
		d.Tick(ctx, d.now().Unix())
	}); err != nil {
		return err
	}
	c.Start()
	d.c = c
	d.log.Info("dispatch started", logx.String("spec", spec), logx.Int("rate_per_sec", d.cfg.RatePerSec))
	return nil
}

// Stop halts cron and waits for an in-flight tick, bounded by ctx.
func (d *Dispatcher) Stop(ctx context.Context) {
	d.mu.Lock()
	c := d.c
	d.c = nil
	d.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	d.log.Info("dispatch stopped")
}

// Apply swaps in a new config. A changed spec or enabled flag restarts cron.
func (d *Dispatcher) Apply(cfg Config) {
	cfg = cfg.withDefaults()

	d.mu.Lock()
	old := d.cfg
	d.cfg = cfg
	if old.RatePerSec != cfg.RatePerSec {
		d.limiter.SetLimit(rate.Limit(cfg.RatePerSec))
		d.limiter.SetBurst(cfg.RatePerSec)
	}
	restart := d.runCtx != nil && (old.Spec != cfg.Spec || old.Enabled != cfg.Enabled)
	c := d.c
	if restart {
		d.c = nil
	}
	d.mu.Unlock()
	if !restart {
		return
	}

	// An in-flight tick reads the config, so stop cron without holding mu.
	if c != nil {
		<-c.Stop().Done()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.c != nil {
		return
	}
	if !d.cfg.Enabled {
		d.log.Warn("dispatch disabled by config reload")
		return
	}
	if err := d.startLocked(); err != nil {
		d.log.Error("dispatch restart failed", logx.String("spec", d.cfg.Spec), logx.Err(err))
	}
}

// Tick fires everything due at now. Exported so tests (and the first tick
// after rehydration) can drive it without cron.
func (d *Dispatcher) Tick(ctx context.Context, now int64) schedule.TickResult {
	cfg := d.config()
	res := d.store.Dispatch(ctx, now, func(ctx context.Context, due []schedule.Due) {
		var wg sync.WaitGroup
		for _, item := range due {
			wg.Add(1)
			go func(item schedule.Due) {
				defer wg.Done()
				d.deliver(ctx, cfg, item)
			}(item)
		}
		wg.Wait()
	})
	if res.Total() > 0 {
		d.log.Debug("tick delivered", logx.Int64("now", now), logx.Int("one_time", res.OneTime), logx.Int("recurring", res.Recurring))
	}
	return res
}

func (d *Dispatcher) deliver(ctx context.Context, cfg Config, item schedule.Due) {
	start := time.Now()
	maxAttempts := cfg.RetryMax + 1
	var err error
	attempts := 0

attemptLoop:
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attempts = attempt
		err = d.sendOnce(ctx, cfg, item.ChatID)
		if err == nil {
			break
		}
		if attempt >= maxAttempts || ctx.Err() != nil {
			break
		}
		delay := d.backoff(cfg, attempt)
		d.log.Debug("bump retry scheduled", logx.Int64("chat_id", item.ChatID), logx.Int("attempt", attempt+1), logx.Duration("delay", delay), logx.Err(err))
		tmr := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			if !tmr.Stop() {
				<-tmr.C
			}
			err = errors.Join(err, ctx.Err())
			break attemptLoop
		case <-tmr.C:
		}
	}

	if err != nil {
		d.failed.Add(1)
		d.log.Warn("bump delivery failed", logx.Int64("chat_id", item.ChatID), logx.Bool("recurring", item.Recurring),
			logx.Int("attempts", attempts), logx.Duration("dur", time.Since(start)), logx.Err(err))
		return
	}
	d.delivered.Add(1)
	d.log.Info("bump delivered", logx.Int64("chat_id", item.ChatID), logx.Bool("recurring", item.Recurring), logx.Int("attempts", attempts))
}

func (d *Dispatcher) sendOnce(ctx context.Context, cfg Config, chatID int64) error {
	sctx, cancel := context.WithTimeout(ctx, cfg.DeliveryTimeout)
	defer cancel()
	if err := d.limiter.Wait(sctx); err != nil {
		return err
	}
	return d.sender.SendText(sctx, transport.ChatTarget{ChatID: chatID}, cfg.BumpText, nil)
}

// backoff doubles RetryBase per attempt with ±20% jitter, capped at the
// delivery timeout.
func (d *Dispatcher) backoff(cfg Config, retry int) time.Duration {
	maxD := cfg.DeliveryTimeout
	delay := cfg.RetryBase
	for i := 1; i < retry; i++ {
		delay *= 2
		if delay > maxD {
			delay = maxD
			break
		}
	}
	d.rngMu.Lock()
	r := (d.rng.Float64()*2 - 1) * 0.2
	d.rngMu.Unlock()
	delay = time.Duration(float64(delay) * (1 + r))
	if delay > maxD {
		delay = maxD
	}
	return delay
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			continue
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
