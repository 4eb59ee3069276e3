package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	// Routing rules name IANA zones; embed the database for slim images.
	_ "time/tzdata"

	"call-router/internal/auth"
	"call-router/internal/config"
	"call-router/internal/metrics"
	"call-router/pkg/logger"

	"github.com/gin-gonic/gin"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log, logCloser := logger.NewWithOptions(logger.Options{Env: cfg.App.Env, File: cfg.App.LogFile})
	defer logCloser.Close()
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	a, err := build(rootCtx, cfg, log)
	if err != nil {
		log.Error("router init failed", "err", err)
		os.Exit(1)
	}
	defer a.close()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log, "/healthz", "/metrics"))
	r.Use(metrics.Middleware())
	registerRoutes(r, cfg, a, authManager)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	bgCtx, cancelBg := context.WithCancel(logger.With(context.Background(), log))
	defer cancelBg()
	for _, run := range a.background {
		go run(bgCtx)
	}

	go func() {
		log.Info("router listening", "addr", srv.Addr, "env", cfg.App.Env,
			"state_backend", cfg.StateBackend, "config_backend", cfg.ConfigBackend, "twilio", cfg.Twilio.Enabled())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
	cancelBg()
	a.router.Wait()
	log.Info("shutdown complete", "active_legs", a.router.ActiveLegs(), "dropped_records", a.recorder.Dropped())
}
