package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"har-lifecycle/internal/api"
	"har-lifecycle/internal/artifact"
	"har-lifecycle/internal/cfg"
	"har-lifecycle/internal/logging"
	"har-lifecycle/internal/metrics"
	"har-lifecycle/internal/ml"
)

func main() {
	envFile := flag.String("env", ".env", "Optional .env file with overrides")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Str("file", *envFile).Msg("Failed to load env file")
	}

	c, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	logFile, err := logging.Setup(c.LogLevel, c.LogFile)
	if err != nil {
		log.Fatal().Err(err).Msg("logging setup failed")
	}
	defer logFile.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := artifact.Open(c.ModelsDir, artifact.WithCacheSize(c.CacheSize))
	if err != nil {
		log.Fatal().Err(err).Msg("artifact store open failed")
	}

	m := metrics.NewWrapper(metrics.New())

	svc, err := ml.NewInferenceService(store, m)
	if err != nil {
		log.Fatal().Err(err).Str("models_dir", store.Dir()).Msg("no servable model, run the pipeline first")
	}

	srvCfg := api.DefaultConfig()
	srvCfg.Addr = c.ListenAddr
	srvCfg.EnableReload = c.EnableReload
	srvCfg.Gatherer = prometheus.DefaultGatherer
	server := api.NewServer(svc, m, srvCfg)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := server.Start(); err != nil {
			log.Error().Err(err).Msg("inference server failed")
			cancel()
		}
	}()

	if c.WatchModels {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.Watch(ctx, c.WatchDebounce, func() {
				// Reload logs and counts its own failures; the old snapshot keeps serving.
				_ = svc.Reload()
			})
			if err != nil {
				log.Error().Err(err).Msg("models watcher stopped")
			}
		}()
	}

	waitForShutdown(ctx, cancel, server, &wg)
}

// waitForShutdown waits for shutdown signals and stops the server and watcher
func waitForShutdown(ctx context.Context, cancel context.CancelFunc, server *api.Server, wg *sync.WaitGroup) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		log.Info().Msg("shutdown signal received")
	case <-ctx.Done():
		log.Info().Msg("context canceled")
	}

	log.Info().Msg("shutting down gracefully...")
	cancel()

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("failed to shutdown inference server")
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all goroutines stopped")
	case <-time.After(10 * time.Second):
		log.Warn().Msg("shutdown timeout, forcing exit")
	}
}
