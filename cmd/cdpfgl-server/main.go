package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/cdpfgl/server/applog"
	"github.com/cdpfgl/server/backend"
	"github.com/cdpfgl/server/config"
	"github.com/cdpfgl/server/httpapi"
	"github.com/cdpfgl/server/ingest"
	"github.com/cdpfgl/server/stats"
	"github.com/cdpfgl/server/statsdb"
)

const (
	buildName    = "cdpfgl-server"
	buildVersion = "1.0.0"
	buildDate    = "2026-07-31"
	buildAuthors = "cdpfgl contributors"
	buildLicense = "GPL-3.0-or-later"
)

func main() {
	app := &cli.App{
		Name:    buildName,
		Usage:   "stateless, content-addressed backup server",
		Version: buildVersion,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "debug",
				Usage: "1 enables verbose, human-readable logging",
				Value: 0,
			},
			&cli.StringFlag{
				Name:  "configuration",
				Usage: "path to the server configuration file",
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "bind port (overrides the configuration file)",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.Load(c.String("configuration"))
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if c.IsSet("port") {
		cfg.ServerPort = c.Int("port")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log := applog.New(applog.Options{
		Debug:   c.Int("debug") == 1,
		Name:    buildName,
		Version: buildVersion,
	})

	b, err := backend.NewFileBackend(backend.FileOptions{
		Root:      cfg.FileDirectory,
		DirLevel:  cfg.DirLevel,
		CacheSize: 1024,
		Log:       log,
	})
	if err != nil {
		return fmt.Errorf("open file backend: %w", err)
	}

	ctx := context.Background()
	if err := b.Init(ctx); err != nil {
		return fmt.Errorf("initialise backend: %w", err)
	}

	statsStore, err := statsdb.Open(cfg.FileDirectory + "/stats")
	if err != nil {
		return fmt.Errorf("open stats store: %w", err)
	}
	defer statsStore.Close()

	statsSvc, err := stats.New(ctx, statsStore)
	if err != nil {
		return fmt.Errorf("restore stats: %w", err)
	}

	dispatcher := ingest.New(b, statsSvc, log)

	srv := httpapi.New(b, dispatcher, statsSvc, httpapi.VersionInfo{
		Name:    buildName,
		Date:    buildDate,
		Version: buildVersion,
		Authors: buildAuthors,
		License: buildLicense,
	}, log)

	addr := fmt.Sprintf("%s:%d", cfg.ServerIP, cfg.ServerPort)
	httpServer := &http.Server{
		Addr:    addr,
		Handler: srv.Routes(),
	}

	serveErr := make(chan error, 1)
	go func() {
		log.WithField("addr", addr).Info("listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	case sig := <-sigCh:
		log.WithField("signal", sig.String()).Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http server shutdown did not complete cleanly")
	}
	if err := dispatcher.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("dispatcher did not drain its queues in time")
	}
	if _, err := statsSvc.Snapshot(shutdownCtx); err != nil {
		log.WithError(err).Warn("failed to persist final stats snapshot")
	}
	if err := b.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("backend shutdown reported an error")
	}

	return nil
}
