package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/terifai/terifai/internal/config"
	"github.com/terifai/terifai/internal/control"
	"github.com/terifai/terifai/internal/daily"
	"github.com/terifai/terifai/internal/logging"
	"github.com/terifai/terifai/internal/mcp"
	"github.com/terifai/terifai/internal/metrics"
	"github.com/terifai/terifai/internal/prompts"
	"github.com/terifai/terifai/internal/server"
	"github.com/terifai/terifai/internal/spawn"
)

const (
	version       = "0.1.0"
	shutdownGrace = 20 * time.Second
)

func main() {
	logging.Init()
	defer func() { _ = logging.Sync() }()

	cfg := config.FromEnv()
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	fs.StringVar(&cfg.Host, "host", cfg.Host, "listen host")
	fs.IntVar(&cfg.Port, "port", cfg.Port, "listen port")
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		logging.FatalExitf("invalid arguments", "err", err)
	}
	if err := cfg.ValidateServer(); err != nil {
		logging.FatalExitf("invalid configuration", "err", err)
	}
	if err := run(cfg); err != nil {
		logging.FatalExitf("server exited with error", "err", err)
	}
	logging.Infow("shutdown complete")
}

func newSpawner(cfg config.Config) (spawn.Spawner, func(), error) {
	switch cfg.Spawner {
	case config.SpawnerFly:
		return spawn.NewFly(cfg.FlyAPIKey, cfg.FlyAppName, cfg.FlyAPIHost), func() {}, nil
	case config.SpawnerLocal:
		l := spawn.NewLocal(cfg.BotBinary)
		return l, func() { l.Shutdown(shutdownGrace) }, nil
	}
	return nil, nil, fmt.Errorf("unknown bot spawner %q", cfg.Spawner)
}

func run(cfg config.Config) error {
	cat := prompts.Default()
	if cfg.PromptsFile != "" {
		var err error
		if cat, err = prompts.Load(cfg.PromptsFile); err != nil {
			return err
		}
	}
	spawner, stopBots, err := newSpawner(cfg)
	if err != nil {
		return err
	}
	defer stopBots()

	svc := control.NewService(
		daily.New(cfg.DailyAPIKey, cfg.DailyAPIURL),
		spawner,
		control.WithPrompts(cat),
		control.WithMaxBotsPerRoom(cfg.MaxBotsPerRoom),
	)
	srv := server.New(svc, metrics.NewRegistry(), server.WithMCP(mcp.NewServer(svc, version)))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() { errc <- srv.Listen(cfg.Addr()) }()
	logging.Infow("control server started", "addr", cfg.Addr(), "spawner", spawner.Name(), "max_bots_per_room", cfg.MaxBotsPerRoom)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	logging.Infow("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
