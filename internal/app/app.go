// Package app wires configuration, transport, storage, sources, and the
// per-collection watchers into one runnable unit.
package app

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"nftwatch/internal/config"
	"nftwatch/internal/ens"
	"nftwatch/internal/eventbus"
	"nftwatch/internal/marketplace"
	"nftwatch/internal/metrics"
	"nftwatch/internal/notifier"
	"nftwatch/internal/reconcile"
	"nftwatch/internal/render"
	rtsup "nftwatch/internal/runtime/supervisor"
	"nftwatch/internal/scheduler"
	"nftwatch/internal/storage"
	kit "nftwatch/internal/transport"
	telegram "nftwatch/internal/transport/telegram"
	logx "nftwatch/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter kit.Adapter
	sched   *scheduler.Service
	notif   *notifier.Service

	watchers []*reconcile.Reconciler
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	token, err := resolveTelegramToken(cfg)
	if err != nil {
		return nil, err
	}
	sendTimeout, err := config.ParseDurationOrDefault("telegram.send_timeout", cfg.Telegram.SendTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	adapter, err := telegram.New(telegram.Config{
		Token:       token,
		SendTimeout: sendTimeout,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	bus := eventbus.New()

	storCfg, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storCfg, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	log.Info("storage ready", logx.String("driver", storCfg.Driver), logx.String("dir", storCfg.Dir))

	ensCfg, err := mapENSConfig(cfg)
	if err != nil {
		return nil, err
	}
	resolver := ens.New(ensCfg, log.With(logx.String("comp", "ens")))

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return nil, err
	}
	notif := notifier.New(ncfg, adapter, log.With(logx.String("comp", "notifier")), bus)

	renderer := render.New(resolver, log.With(logx.String("comp", "render")))
	sink := render.NewSink(renderer, notif, log.With(logx.String("comp", "sink")))

	meCfg, err := mapMagicEdenConfig(cfg)
	if err != nil {
		return nil, err
	}
	meClient := marketplace.NewMagicEden(meCfg, log.With(logx.String("comp", "magiceden")))

	osCfg, osEnabled, err := mapOpenSeaConfig(cfg)
	if err != nil {
		return nil, err
	}
	var osClient *marketplace.OpenSeaClient
	if osEnabled {
		spot := marketplace.NewSpotPrice(10 * time.Second)
		osClient, err = marketplace.NewOpenSea(osCfg, spot, log.With(logx.String("comp", "opensea")))
		if err != nil {
			return nil, err
		}
		log.Info("opensea source enabled")
	}

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		adapter: adapter,
		notif:   notif,
		sched:   scheduler.New(log.With(logx.String("comp", "scheduler")), bus),
	}

	for i := range cfg.Collections {
		coll := &cfg.Collections[i]

		sources := []reconcile.Source{&magicEdenSource{client: meClient, coll: coll}}
		if osEnabled && coll.OpenSeaSlug != "" {
			sources = append(sources, &openSeaSource{client: osClient, coll: coll})
		}

		rec, err := reconcile.New(reconcile.Options{
			Collection: coll,
			Store:      store,
			Sources:    sources,
			Sink:       sink,
			Bus:        bus,
			Log:        log.With(logx.String("comp", "reconcile")),
		})
		if err != nil {
			return nil, fmt.Errorf("collection %q: %w", coll.Name, err)
		}
		a.watchers = append(a.watchers, rec)

		name := coll.Key()
		if err := a.sched.Add(name, coll.PollEvery(), 0, func(ctx context.Context) error {
			return rec.RunPass(ctx)
		}); err != nil {
			return nil, err
		}
	}

	return a, nil
}

// Done is closed when the run context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))

	// Warm every collection's ledgers in parallel before the first tick.
	g, gctx := errgroup.WithContext(a.sup.Context())
	for _, rec := range a.watchers {
		rec := rec
		g.Go(func() error { return rec.Warm(gctx) })
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if a.notif.Enabled() {
		a.notif.Start(a.sup.Context())
	}
	a.sched.Start(a.sup.Context())

	cfg := a.cfgm.Get()
	if mc := cfg.Metrics; mc != nil && mc.Enabled {
		addr := mc.Addr
		if addr == "" {
			addr = "127.0.0.1:9109"
		}
		a.sup.GoRestart("metrics", func(c context.Context) error {
			return metrics.Serve(c, addr, a.log.With(logx.String("comp", "metrics")))
		})
	}

	// Debug visibility into bus traffic; components subscribe themselves
	// for anything behavioral.
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

	// Hot reload fan-out. Logging and notifier settings apply live; the
	// collection set is fixed for the process lifetime.
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				a.applyReload(c, last, newCfg)
				last = newCfg
			}
		}
	})

	a.sup.GoRestart("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("started", logx.Int("collections", len(a.watchers)))
	return nil
}

func (a *App) applyReload(ctx context.Context, old, cfg *config.Config) {
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	if ncfg, err := mapNotifierConfig(cfg); err != nil {
		a.log.Warn("invalid notifier config, keeping previous", logx.Err(err))
	} else {
		prev := a.notif.Enabled()
		a.notif.Apply(ncfg)
		if prev && !ncfg.Enabled {
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.notif.Stop(stopCtx)
			cancel()
			a.log.Info("notifier disabled via config")
		} else if !prev && ncfg.Enabled {
			a.notif.Start(ctx)
			a.log.Info("notifier enabled via config")
		}
	}

	if !config.CollectionsEqual(old, cfg) {
		a.log.Warn("collections changed in config; restart required for changes to take effect")
	}

	a.log.Info("config reloaded")
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")
	a.sup.Cancel()

	// Each shutdown step gets an upper bound so one component can't stall
	// the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
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
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached, continuing",
				logx.String("name", name))
		}
	}

	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("notifier", 3*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("ledgers", 2*time.Second, func(c context.Context) error {
		var first error
		for _, rec := range a.watchers {
			if err := rec.Flush(c); err != nil && first == nil {
				first = err
			}
		}
		return first
	})
	step("storage", 1*time.Second, func(context.Context) error { return a.store.Close() })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
