package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/agoraflux/chart-export/pkg/api"
	"github.com/agoraflux/chart-export/pkg/bus"
	"github.com/agoraflux/chart-export/pkg/capture"
	"github.com/agoraflux/chart-export/pkg/cron"
	"github.com/agoraflux/chart-export/pkg/export"
	"github.com/agoraflux/chart-export/pkg/history"
	"github.com/agoraflux/chart-export/pkg/model"
	"github.com/agoraflux/chart-export/pkg/store"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("exportd: %v", err)
	}
}

func run() error {
	dbPath := envOr("EXPORTD_DB_PATH", "exportd.db")
	artifactsDir := envOr("EXPORTD_ARTIFACTS_DIR", "artifacts")
	httpAddr := envOr("EXPORTD_HTTP_ADDR", ":8090")

	captureConfig := model.CaptureConfig{
		Backend:        envOr("EXPORTD_CAPTURE_BACKEND", "chromium"),
		TimeoutMS:      envIntOr("EXPORTD_CAPTURE_TIMEOUT_MS", 30000),
		DelayMS:        envIntOr("EXPORTD_CAPTURE_DELAY_MS", 1000),
		ViewportWidth:  envIntOr("EXPORTD_VIEWPORT_WIDTH", 1920),
		ViewportHeight: envIntOr("EXPORTD_VIEWPORT_HEIGHT", 1080),
		ChromiumPath:   os.Getenv("EXPORTD_CHROMIUM_PATH"),
		AuthToken:      os.Getenv("EXPORTD_AUTH_TOKEN"),
		SkipTLSVerify:  os.Getenv("EXPORTD_SKIP_TLS_VERIFY") == "true",
		Headless:       true,
	}

	st, err := store.NewStore(dbPath)
	if err != nil {
		return err
	}
	defer st.Close()

	backend, err := capture.NewBackend(captureConfig)
	if err != nil {
		return err
	}
	defer backend.Close()

	saver, err := export.NewDirSaver(artifactsDir)
	if err != nil {
		return err
	}

	eventBus := bus.New()
	exporter := export.New(backend, eventBus, saver)
	exporter.SetCaptureTimeout(time.Duration(captureConfig.TimeoutMS) * time.Millisecond)

	hist := history.NewStore(envIntOr("EXPORTD_HISTORY_SIZE", 200))
	exporter.SetRecorder(hist)
	eventBus.OnNotification(hist.Notify)

	scheduler := cron.NewScheduler(st, exporter, saver, envIntOr("EXPORTD_MAX_CONCURRENT_RUNS", 2))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	scheduler.SetContext(ctx)

	if err := scheduler.Start(); err != nil {
		return err
	}
	defer scheduler.Stop()

	handler := api.NewHandler(st, scheduler, exporter, hist, saver)

	server := &http.Server{
		Addr:         httpAddr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("exportd listening on %s (backend=%s, artifacts=%s)", httpAddr, backend.Name(), artifactsDir)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Println("exportd shutting down")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("invalid value for %s: %q, using %d", key, v, fallback)
		return fallback
	}
	return n
}
