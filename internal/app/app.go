// Package app wires config, logging, storage, the schedule store, the
// dispatcher and the Telegram transport into one supervised process.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"bumpbot/internal/commands"
	"bumpbot/internal/config"
	"bumpbot/internal/dispatch"
	"bumpbot/internal/runtime/supervisor"
	"bumpbot/internal/schedule"
	"bumpbot/internal/storage"
	"bumpbot/internal/transport"
	"bumpbot/internal/transport/telegram"
	logx "bumpbot/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service

	adapter *telegram.Adapter
	backend storage.Backend
	store   *schedule.Store
	disp    *dispatch.Dispatcher
	cmdm    *commands.Manager

	updates chan transport.Update
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, bootLog)
	if err != nil {
		return nil, err
	}

	// Bootstrap with the chat sink off, set its target, then apply the real
	// config so Apply never sees an enabled sink without a destination.
	logCfg := mapLogConfig(cfg)
	bootCfg := logCfg
	bootCfg.Chat.Enabled = false
	logSvc, log := logx.New(bootCfg, ad)
	logSvc.SetChatTarget(groupLogChat(cfg))
	logSvc.Apply(logCfg)
	log = log.With(logx.String("comp", "app"))

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	backend, err := storage.Open(sc, log)
	if err != nil {
		return nil, err
	}
	log.Info("storage opened", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	warnVolatileStorage(log, sc)

	store := schedule.New(backend, log)

	dc, err := mapDispatchConfig(cfg)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	disp := dispatch.New(dc, store, ad, log)

	cc, err := mapCommandsConfig(cfg)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	username := strings.TrimSpace(cfg.Telegram.BotUsername)
	if username == "" {
		username = ad.Username()
	}
	cmdm := commands.NewManager(cc, commands.NewExecutor(store), ad, username, log)

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		adapter: ad,
		backend: backend,
		store:   store,
		disp:    disp,
		cmdm:    cmdm,
		updates: make(chan transport.Update, 256),
	}, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := mapStorageConfig(cfg); err != nil {
			return fmt.Errorf("storage: %w", err)
		}
		if _, err := mapDispatchConfig(cfg); err != nil {
			return err
		}
		_, err := mapCommandsConfig(cfg)
		return err
	})

	// Rehydrate before anything can tick.
	a.store.Load(a.sup.Context())

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	if err := a.disp.Start(a.sup.Context()); err != nil {
		return fmt.Errorf("dispatch: %w", err)
	}

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.updates)
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.GoRestart("config.watch", a.cfgm.Watch, time.Second, 30*time.Second)

	a.sup.Go0("systemd.watchdog", a.watchdogLoop)
	a.sdNotify(daemon.SdNotifyReady)

	a.log.Info("app started", logx.String("bot", a.adapter.Username()), logx.String("config", a.cfgPath))
	return nil
}

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts; only the newest config matters.
			for drained := false; !drained; {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					drained = true
				}
			}
			a.applyConfig(lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) applyConfig(old, cur *config.Config) {
	sections := changedSections(old, cur)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	for _, s := range sections {
		if s == "storage" {
			a.log.Warn("storage config changed; restart required for changes to take effect")
		}
	}
	if old != nil && old.Telegram.Token != cur.Telegram.Token {
		a.log.Warn("telegram token changed; restart required for changes to take effect")
	}

	a.logs.SetChatTarget(groupLogChat(cur))
	a.logs.Apply(mapLogConfig(cur))

	if u := strings.TrimSpace(cur.Telegram.BotUsername); u != "" {
		a.cmdm.SetUsername(u)
	} else if u := a.adapter.Username(); u != "" {
		a.cmdm.SetUsername(u)
	}

	if dc, err := mapDispatchConfig(cur); err != nil {
		a.log.Warn("invalid dispatch config; keeping previous", logx.Err(err))
	} else {
		a.disp.Apply(dc)
	}
	if cc, err := mapCommandsConfig(cur); err != nil {
		a.log.Warn("invalid commands config; keeping previous", logx.Err(err))
	} else {
		a.cmdm.Apply(cc)
	}

	a.log.Info("config reloaded", logx.String("changed", strings.Join(sections, ",")))
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sdNotify(daemon.SdNotifyStopping)

	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step done", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step timed out", logx.String("name", name), logx.Duration("max", max))
		}
	}

	// Dispatcher first so the last tick can still persist.
	step("dispatch", 5*time.Second, func(c context.Context) error { a.disp.Stop(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", time.Second, func(context.Context) error { return a.backend.Close() })

	delivered, failed := a.disp.Stats()
	a.log.Info("stopped", logx.Uint64("delivered", delivered), logx.Uint64("failed", failed))
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
