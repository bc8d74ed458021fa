package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"ratesim/internal/alerts"
	"ratesim/internal/api"
	"ratesim/internal/config"
	"ratesim/internal/engine"
	"ratesim/internal/ingest"
	"ratesim/internal/logging"
	"ratesim/internal/metrics"
	"ratesim/internal/publish"
	"ratesim/internal/report"
	"ratesim/internal/shell"
	"ratesim/internal/storage"
)

type RunCmd struct {
	Script  string `short:"s" help:"Replay a request script before the console starts." type:"existingfile"`
	NoShell bool   `help:"Do not read the console from stdin."`
	APIAddr string `name:"api-addr" help:"Serve the admin API on this address, overriding the config."`
}

func (c *RunCmd) Run(cli *CLI) error {
	if err := config.LoadDotEnv(cli.Config); err != nil {
		return err
	}
	cfg, mgr, err := loadConfig(cli.Config)
	if err != nil {
		return err
	}
	if c.APIAddr != "" {
		next := *cfg
		next.API.Enabled = true
		next.API.Addr = c.APIAddr
		cfg = &next
	}
	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat, nil)
	loc, err := cfg.Location()
	if err != nil {
		return fmt.Errorf("timezone %q: %w", cfg.Timezone, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clock := time.Now
	recorder := metrics.NewRecorder()
	opts := engine.Options{
		Logger:  logger,
		Metrics: recorder,
		Alerts:  alerts.NewStore(cfg.Alerts.StoreLimit),
		Clock:   clock,
	}

	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	if store != nil {
		if err := store.Init(ctx); err != nil {
			store.Close()
			return err
		}
		defer store.Close()
		opts.Archive = store
		logger.Info("storage enabled", "driver", cfg.Storage.Driver)
	}

	pub, err := publish.NewKafka(cfg.Publish, logger)
	if err != nil {
		return err
	}
	if pub != nil {
		defer pub.Close()
		opts.Publisher = pub
		logger.Info("publisher enabled", "brokers", cfg.Publish.Brokers, "topic", cfg.Publish.Topic)
	}

	eng := engine.NewEngine(cfg, opts)
	session := shell.New(eng, ingest.NewScript(loc, clock), os.Stdout)

	if c.Script != "" {
		n, err := session.ReplayFile(ctx, c.Script)
		if err != nil {
			return fmt.Errorf("replay %s: %w", c.Script, err)
		}
		logger.Info("script replayed", "path", c.Script, "requests", n)
	}
	if c.NoShell && !cfg.API.Enabled {
		fmt.Print(report.Comparison(eng.Compare()))
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	if cfg.API.Enabled {
		srv := api.NewServer(eng, mgr, recorder.Handler(), logger, buildVersion())
		g.Go(func() error {
			return srv.Serve(gctx, cfg.API.Addr)
		})
	}
	if mgr != nil {
		g.Go(func() error {
			return mgr.Watch(gctx, func(next *config.Config) {
				eng.UpdateConfig(next)
			}, func(err error) {
				logger.Warn("config reload failed", "path", mgr.Path(), "err", err)
			})
		})
	}
	if !c.NoShell {
		g.Go(func() error {
			defer stop()
			if term.IsTerminal(int(os.Stdin.Fd())) {
				session.Prompt = "ratesim> "
				fmt.Println("ratesim console, type :help for commands")
			}
			return session.Run(gctx, os.Stdin)
		})
	}
	err = g.Wait()
	logger.Info("shutdown", "clients", len(eng.Clients()))
	return err
}

func loadConfig(path string) (*config.Config, *config.Manager, error) {
	if path == "" {
		cfg, err := config.FromEnv()
		return cfg, nil, err
	}
	mgr, err := config.NewManager(config.ResolvePath(path))
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	return mgr.Get(), mgr, nil
}
