// Package main wires together the exporter service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kumocrawler/kumocrawler/internal/api"
	"github.com/kumocrawler/kumocrawler/internal/clock/system"
	"github.com/kumocrawler/kumocrawler/internal/config"
	"github.com/kumocrawler/kumocrawler/internal/id/uuid"
	"github.com/kumocrawler/kumocrawler/internal/logging"
	"github.com/kumocrawler/kumocrawler/internal/registry"
	"github.com/kumocrawler/kumocrawler/internal/runner"
	"github.com/kumocrawler/kumocrawler/internal/scraper/headless"
	"github.com/kumocrawler/kumocrawler/internal/scraper/preflight"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := registry.New(uuid.New(), system.New(), logger.Named("registry"))

	prober := preflight.New(cfg.Scraper.UserAgent, 15*time.Second, logger.Named("preflight"))
	scr, err := headless.New(headless.Config{
		Headless:     cfg.Scraper.Headless,
		MaxParallel:  cfg.Scraper.MaxParallel,
		UserAgent:    cfg.Scraper.UserAgent,
		NavTimeout:   cfg.Scraper.NavTimeout(),
		LoginTimeout: cfg.Scraper.LoginTimeout(),
		ScrollPause:  cfg.Scraper.ScrollPause(),
	}, prober, logger.Named("scraper"))
	if err != nil {
		logger.Fatal("scraper init failed", zap.Error(err))
	}
	defer scr.Close()

	run := runner.New(reg, scr, cfg.Scraper.TaskTimeout(), logger.Named("runner"))
	apiServer := api.NewServer(reg, run, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	// Running scrapes are abandoned on shutdown; tasks are in-memory only and
	// do not survive a restart anyway.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
}
