// bgtaskd is a small host daemon around the scheduler, mainly for development
// and manual testing. It wires config, logging, storage and the event bus,
// registers a couple of demo tasks and reloads settings when the config file
// changes.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bgtask/internal/config"
	"bgtask/internal/eventbus"
	"bgtask/internal/storage"
	logx "bgtask/pkg/logx"
	"bgtask/scheduler"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./bgtask.yaml", "path to config yaml")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfgPath); err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfgPath string) error {
	mgr := config.NewManager(cfgPath)
	cfg, err := mgr.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Log.Level,
		Console: cfg.Log.Console,
		File: logx.FileConfig{
			Enabled: cfg.Log.File.Enabled,
			Path:    cfg.Log.File.Path,
		},
		Bridge: logx.BridgeConfig{
			Enabled:    cfg.Log.Bridge.Enabled,
			MinLevel:   cfg.Log.Bridge.MinLevel,
			RatePerSec: cfg.Log.Bridge.RatePerSec,
		},
	})
	defer logSvc.Close()
	mgr.SetLogger(log.With(logx.String("svc", "config")))

	// Bridge lines go to stderr here; a real host would show them on its own
	// surface (notification text, UI toast, ...).
	logSvc.SetBridge(func(level logx.Level, line string) {
		fmt.Fprintf(os.Stderr, "[bridge:%s] %s\n", level, line)
	})

	schedCfg, err := schedulerConfig(cfg)
	if err != nil {
		return err
	}

	store, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	bus := eventbus.New()
	svc := scheduler.New(schedCfg, log.With(logx.String("svc", "scheduler")), bus, store)

	events, unsub := bus.Subscribe(64)
	defer unsub()
	go func() {
		evLog := log.With(logx.String("svc", "events"))
		for ev := range events {
			evLog.Debug("event", logx.String("type", ev.Type), logx.Any("data", ev.Data))
		}
	}()

	registerDemoTasks(svc, log)

	go func() {
		err := mgr.Watch(ctx, func(c *config.Config) {
			sc, cerr := schedulerConfig(c)
			if cerr != nil {
				log.Warn("ignoring reloaded scheduler config", logx.Err(cerr))
			} else {
				svc.Apply(sc)
			}
			logSvc.Apply(logx.Config{
				Level:   c.Log.Level,
				Console: c.Log.Console,
				File: logx.FileConfig{
					Enabled: c.Log.File.Enabled,
					Path:    c.Log.File.Path,
				},
				Bridge: logx.BridgeConfig{
					Enabled:    c.Log.Bridge.Enabled,
					MinLevel:   c.Log.Bridge.MinLevel,
					RatePerSec: c.Log.Bridge.RatePerSec,
				},
			})
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Warn("config watch stopped", logx.Err(err))
		}
	}()

	log.Info("bgtaskd started", logx.String("config", cfgPath))
	<-ctx.Done()

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutCancel()
	return svc.Shutdown(shutCtx)
}

func schedulerConfig(c *config.Config) (scheduler.Config, error) {
	interval, err := config.ParseDurationOrDefault("scheduler.interval", c.Scheduler.Interval, 500*time.Millisecond)
	if err != nil {
		return scheduler.Config{}, err
	}
	timeout, err := config.ParseDurationOrDefault("scheduler.default_timeout", c.Scheduler.DefaultTimeout, 30*time.Second)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{
		Interval:       interval,
		DefaultTimeout: timeout,
		HistorySize:    c.Scheduler.HistorySize,
	}, nil
}

func openStore(c *config.Config, log logx.Logger) (storage.Store, error) {
	switch c.Storage.Driver {
	case "", "memory":
		return storage.NewMemory(c.Storage.MaxRecords), nil
	case "sqlite":
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", c.Storage.BusyTimeout, 5*time.Second)
		if err != nil {
			return nil, err
		}
		st, err := storage.OpenSQLite(storage.Config{
			Path:        c.Storage.Path,
			BusyTimeout: busy,
			MaxRecords:  c.Storage.MaxRecords,
		})
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		log.Info("run history on sqlite", logx.String("path", c.Storage.Path))
		return st, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
}

func registerDemoTasks(svc *scheduler.Service, log logx.Logger) {
	hb := log.With(logx.String("task", "heartbeat"))
	_, _ = svc.Add(func(ctx context.Context) error {
		hb.Info("heartbeat")
		return nil
	}, scheduler.TaskConfig{
		ID:     "heartbeat",
		Delay:  5 * time.Second,
		Repeat: true,
	})

	// Flaky worker exercising retries, timeouts and progress reporting.
	sy := log.With(logx.String("task", "flaky-sync"))
	_, _ = svc.Add(func(ctx context.Context) error {
		for pct := 0; pct <= 100; pct += 25 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(200 * time.Millisecond):
			}
			scheduler.ReportProgress(ctx, pct)
		}
		if rand.Intn(3) == 0 {
			return errors.New("upstream unavailable")
		}
		return nil
	}, scheduler.TaskConfig{
		ID:         "flaky-sync",
		Delay:      15 * time.Second,
		Repeat:     true,
		Priority:   scheduler.PriorityHigh,
		MaxRetries: 2,
		Timeout:    3 * time.Second,
		OnError: func(err error) {
			sy.Warn("sync attempt failed", logx.Err(err))
		},
		OnProgress: func(pct int) {
			sy.Debug("sync progress", logx.Int("pct", pct))
		},
	})
}
