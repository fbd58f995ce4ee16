package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"remindbot/internal/commands"
	"remindbot/internal/config"
	"remindbot/internal/eventbus"
	"remindbot/internal/reminder"
	rtsup "remindbot/internal/runtime/supervisor"
	"remindbot/internal/scheduler"
	"remindbot/internal/storage"
	kit "remindbot/internal/transport"
	telegram "remindbot/internal/transport/telegram/adapter"
	logx "remindbot/pkg/logx"
)

// Aliases so the wiring code reads without package stutter.
type (
	logxConfig         = logx.Config
	logxFileConfig     = logx.FileConfig
	logxTelegramConfig = logx.TelegramConfig
)

// StopReason labels why the app is shutting down; it only feeds logs.
type StopReason string

const (
	StopSignal     StopReason = "signal"
	StopFatalError StopReason = "fatal_error"
)

// App owns the full wiring: config, logging, storage, the Telegram adapter,
// the reminder cache/processor, the command router and the firing scheduler.
type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter *telegram.Adapter

	cache  *reminder.Cache
	proc   *reminder.Processor
	router *commands.Router
	sched  *scheduler.Service

	updates chan kit.Update
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

	// logx.New applies immediately; bootstrap with the Telegram sink disabled,
	// set the target chat, then apply the real config so the first Apply
	// doesn't warn about a missing target.
	logSvc, log := logx.New(mapLoggingConfig(cfg, false), ad)
	log = log.With(logx.String("comp", "app"))
	applyTelegramLogTarget(logSvc, cfg)
	logSvc.Apply(mapLoggingConfig(cfg, cfg.Logging.Telegram.Enabled))

	bus := eventbus.New()

	storageCfg, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storageCfg, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	log.Info("storage ready", logx.String("driver", storageCfg.Driver))

	loc, err := defaultLocation(cfg)
	if err != nil {
		return nil, err
	}
	fetchTimeout, err := config.ParseDurationOrDefault("reminders.fetch_timeout", cfg.Reminders.FetchTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}

	cache := reminder.NewCache(store, log.With(logx.String("comp", "cache")))
	proc := &reminder.Processor{
		Dir:        ad,
		Sink:       ad,
		Cache:      cache,
		Fetch:      reminder.NewFetcher(fetchTimeout, cfg.Reminders.FetchMaxBytes),
		Log:        log.With(logx.String("comp", "processor")),
		DefaultLoc: loc,
	}

	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return nil, err
	}
	sched := scheduler.New(schedCfg, cache, proc, bus, log.With(logx.String("comp", "scheduler")))

	router := commands.New(commands.Deps{
		Adapter:    ad,
		Cache:      cache,
		Proc:       proc,
		Notify:     sched.Notify,
		Log:        log.With(logx.String("comp", "commands")),
		MaxPerUser: cfg.Reminders.MaxPerUser,
		DefaultLoc: loc,
	})
	router.SetOperators(cfg.Telegram.OperatorUserIDs)

	// The processor delivers through the router's keyboard (snooze / me too)
	// and executes command reminders through its dispatch path.
	proc.Markup = router.DeliveryMarkup
	proc.Invoker = router

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		adapter: ad,
		cache:   cache,
		proc:    proc,
		router:  router,
		sched:   sched,
		updates: make(chan kit.Update, 256),
	}, nil
}

func applyTelegramLogTarget(logs *logx.Service, cfg *config.Config) {
	target := strings.TrimSpace(cfg.Telegram.GroupLog)
	if target == "" {
		logs.SetTelegramTarget(0, 0)
		return
	}
	if chatID, err := strconv.ParseInt(target, 10, 64); err == nil {
		logs.SetTelegramTarget(chatID, cfg.Logging.Telegram.ThreadID)
	}
}

// Done is closed when the app supervisor context is canceled.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := config.ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
			return err
		}
		if _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		if _, err := mapSchedulerConfig(cfg); err != nil {
			return err
		}
		if _, err := defaultLocation(cfg); err != nil {
			return err
		}
		if _, err := config.ParseDurationField("reminders.fetch_timeout", cfg.Reminders.FetchTimeout); err != nil {
			return err
		}
		if cfg.Reminders.MaxPerUser < 0 {
			return fmt.Errorf("reminders.max_per_user must be >= 0")
		}
		return nil
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	if a.cfgm.Get().Scheduler.Enabled {
		if err := a.sched.Start(a.sup.Context()); err != nil {
			return err
		}
	} else {
		a.log.Warn("scheduler disabled; reminders will be stored but never fire")
	}

	a.sup.Go0("commands.dispatch", func(c context.Context) {
		a.router.Run(c, a.updates)
	})

	// Push the visible command list to the platform menu; best effort.
	a.sup.Go0("commands.menu", func(c context.Context) {
		mctx, cancel := context.WithTimeout(c, 15*time.Second)
		defer cancel()
		if err := a.adapter.UpdateMenuCommands(mctx, a.router.MenuCommands()); err != nil {
			a.log.Warn("command menu update failed", logx.Err(err))
		}
	})

	// Fired/failed events at debug level for operational tracing.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Any("data", e.Data))
			}
		}
	})

	a.startConfigReload()

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

// startConfigReload applies hot-reloadable sections (logging, operators,
// timezone default, per-user limits). Storage and scheduler shape changes
// need a restart and are only reported.
func (a *App) startConfigReload() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				sections, attrs := config.SummarizeConfigChange(lastApplied, newCfg)
				lastApplied = newCfg
				if len(sections) == 0 {
					a.log.Debug("config reload received, but no effective changes detected")
					continue
				}

				for _, s := range sections {
					if s == "storage" || s == "scheduler" {
						a.log.Warn("config section needs a restart to fully apply", logx.String("section", s))
					}
				}

				applyTelegramLogTarget(a.logs, newCfg)
				a.logs.Apply(mapLoggingConfig(newCfg, newCfg.Logging.Telegram.Enabled))

				a.router.SetOperators(newCfg.Telegram.OperatorUserIDs)

				if loc, err := defaultLocation(newCfg); err == nil {
					a.proc.DefaultLoc = loc
				}

				fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
				a.log.Info("config reloaded", fields...)
			}
		}
	})
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	// Run each shutdown phase with an upper bound so one component can't
	// stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem > 0 && rem < max {
					max = rem
				}
			}
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

		start := time.Now()
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
			} else {
				a.log.Debug("stop step done", logx.String("name", name), logx.Duration("took", time.Since(start)))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("scheduler", 3*time.Second, func(c context.Context) error { return a.sched.Stop(c) })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("storage", 2*time.Second, func(context.Context) error { return a.store.Close() })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
