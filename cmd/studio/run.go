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

	"github.com/rs/dnscache"

	gateway "github.com/mattdarbro/studio-api/internal"
	"github.com/mattdarbro/studio-api/internal/analytics"
	"github.com/mattdarbro/studio-api/internal/auth"
	"github.com/mattdarbro/studio-api/internal/breaker"
	"github.com/mattdarbro/studio-api/internal/catalog"
	"github.com/mattdarbro/studio-api/internal/config"
	"github.com/mattdarbro/studio-api/internal/images"
	"github.com/mattdarbro/studio-api/internal/pricing"
	"github.com/mattdarbro/studio-api/internal/provider"
	"github.com/mattdarbro/studio-api/internal/provider/anthropic"
	"github.com/mattdarbro/studio-api/internal/provider/elevenlabs"
	"github.com/mattdarbro/studio-api/internal/provider/openai"
	"github.com/mattdarbro/studio-api/internal/provider/replicate"
	"github.com/mattdarbro/studio-api/internal/provider/xai"
	"github.com/mattdarbro/studio-api/internal/ratelimit"
	"github.com/mattdarbro/studio-api/internal/server"
	"github.com/mattdarbro/studio-api/internal/session"
	"github.com/mattdarbro/studio-api/internal/storage/sqlite"
	"github.com/mattdarbro/studio-api/internal/telemetry"
	"github.com/mattdarbro/studio-api/internal/tokencount"
	"github.com/mattdarbro/studio-api/internal/tower"
	"github.com/mattdarbro/studio-api/internal/worker"

	"github.com/prometheus/client_golang/prometheus"
)

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	slog.Info("starting studio", "version", version, "addr", cfg.Server.Addr)

	// Database
	store, err := sqlite.New(cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer store.Close()

	// Shared upstream HTTP client with cached DNS and pooled connections.
	resolver := &dnscache.Resolver{}
	httpClient := &http.Client{Transport: provider.NewTransport(resolver, 100)}

	// Auth
	sessions := session.New(cfg.Session.TTL)
	authenticator := auth.New(cfg.Auth.AppKey, cfg.Auth.SigningSecret, sessions)

	var apple *auth.AppleVerifier
	if len(cfg.Auth.AppleBundles) > 0 {
		apple, err = auth.NewAppleVerifier(cfg.Auth.AppleIssuer, cfg.Auth.AppleBundles, httpClient)
		if err != nil {
			return err
		}
	}

	// Model catalog
	cat := catalog.Default()
	if len(cfg.Catalog) > 0 {
		cat = catalog.New(catalogTable(cfg.Catalog))
	}

	prices := pricing.Default()
	counter := tokencount.NewCounter()

	// Limits
	limiter := ratelimit.New(cfg.Limits.RateWindow, cfg.Limits.RateCeiling)
	costCap := ratelimit.NewCostCap(store, ratelimit.Ceilings{
		DailyUSD:   cfg.Limits.DailyCostUSD,
		WeeklyUSD:  cfg.Limits.WeeklyCostUSD,
		MonthlyUSD: cfg.Limits.MonthlyCostUSD,
	}, cfg.Limits.FailClosed)
	breakers := breaker.NewRegistry(breaker.DefaultSettings())

	// Provider adapters
	reg := provider.NewRegistry()
	anthropicClient := anthropic.New("", httpClient)
	replicateClient, err := replicate.New("", httpClient)
	if err != nil {
		return err
	}
	reg.Register("openai", openai.New("", httpClient))
	reg.Register("anthropic", anthropicClient)
	reg.Register("xai", xai.New("", httpClient))
	reg.Register("replicate", replicateClient)
	reg.Register("elevenlabs", elevenlabs.New("", httpClient))

	// Hosted images
	var imageSvc *images.Service
	if cfg.Images.Enabled {
		imageSvc = images.NewService(store, cfg.Images.Root, cfg.Images.BaseURL,
			cfg.Images.MaxPerUser, cfg.Images.MaxAge, httpClient)
	}

	analyticsSvc := analytics.NewService(store, store)

	// Agent sandbox
	var twr *tower.Tower
	if len(cfg.Tower.Agents) > 0 {
		model := ""
		if mc, err := cat.Resolve("chat.default", gateway.DefaultChannel); err == nil {
			model = mc.Model
		}
		twr = tower.New(agentConfigs(cfg.Tower.Agents), anthropicClient,
			cfg.Providers.Anthropic, model, prices, counter)
	}

	// Telemetry
	var metrics *telemetry.Metrics
	var promReg *prometheus.Registry
	if cfg.Telemetry.Metrics {
		promReg = prometheus.NewRegistry()
		metrics = telemetry.NewMetrics(promReg)
	}

	// Workers
	recorder := worker.NewUsageRecorder(store)

	tasks := []worker.Task{
		{Name: "session_sweep", Every: 5 * time.Minute, Run: func(context.Context) error {
			sessions.Sweep()
			return nil
		}},
		{Name: "ratelimit_sweep", Every: 5 * time.Minute, Run: func(context.Context) error {
			limiter.Sweep()
			return nil
		}},
		{Name: "breaker_evict", Every: 10 * time.Minute, Run: func(context.Context) error {
			breakers.EvictStale(time.Now().Add(-time.Hour))
			return nil
		}},
		{Name: "dns_refresh", Every: 5 * time.Minute, Run: func(context.Context) error {
			resolver.Refresh(true)
			return nil
		}},
	}
	if imageSvc != nil {
		tasks = append(tasks, worker.Task{Name: "image_cull", Every: time.Hour, Run: imageSvc.Cull})
	}
	if twr != nil {
		tasks = append(tasks, worker.Task{Name: "tower_idle_sweep", Every: time.Hour, Run: twr.SweepIdle})
	}
	if metrics != nil {
		tasks = append(tasks, worker.Task{Name: "gauge_update", Every: 15 * time.Second, Run: func(context.Context) error {
			metrics.UsageQueueLength.Set(float64(recorder.QueueLen()))
			metrics.SessionsActive.Set(float64(sessions.Stats().Active))
			return nil
		}})
	}

	runner := worker.NewRunner(recorder, worker.NewReaper(tasks...))

	handler := server.New(server.Deps{
		Auth:        authenticator,
		Apple:       apple,
		Users:       store,
		Catalog:     cat,
		Providers:   reg,
		Keys:        cfg.Providers,
		Prices:      prices,
		Counter:     counter,
		Breakers:    breakers,
		RateLimiter: limiter,
		CostCap:     costCap,
		Usage:       recorder,
		Images:      imageSvc,
		Predictions: replicateClient,
		Analytics:   analyticsSvc,
		Tower:       twr,
		ReadyCheck:  store.Ping,
		Metrics:     metrics,
		Registry:    promReg,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Workers stop after the server so in-flight usage entries drain.
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	workerDone := make(chan error, 1)
	go func() {
		workerDone <- runner.Run(workerCtx)
	}()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info("studio ready", "addr", cfg.Server.Addr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig)
	case err := <-errCh:
		stopWorkers()
		<-workerDone
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		stopWorkers()
		<-workerDone
		return err
	}

	stopWorkers()
	if err := <-workerDone; err != nil {
		return err
	}

	slog.Info("studio stopped")
	return nil
}

// catalogTable converts the YAML catalog layout into the resolver's table.
func catalogTable(channels map[string]config.KindTable) map[string]map[string]gateway.ModelConfig {
	out := make(map[string]map[string]gateway.ModelConfig, len(channels))
	for channel, kinds := range channels {
		table := make(map[string]gateway.ModelConfig, len(kinds))
		for kind, entry := range kinds {
			table[kind] = gateway.ModelConfig{Provider: entry.Provider, Model: entry.Model}
		}
		out[channel] = table
	}
	return out
}

// agentConfigs converts config agent entries into tower agents.
func agentConfigs(entries map[string]config.AgentEntry) []tower.AgentConfig {
	out := make([]tower.AgentConfig, 0, len(entries))
	for name, e := range entries {
		display := e.DisplayName
		if display == "" {
			display = name
		}
		out = append(out, tower.AgentConfig{
			Name:  name,
			Key:   e.Key,
			Admin: e.Admin,
			Profile: gateway.AgentProfile{
				Name:         display,
				Capabilities: e.Capabilities,
				Limits:       e.Limits,
			},
		})
	}
	return out
}
