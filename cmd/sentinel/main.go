// Command sentinel runs the MCP traffic security monitor: an event hub that
// ingests MCP/file/process events from an external source, runs them
// through the command-injection, filesystem-exposure, tool-poisoning, and
// data-exfiltration detection engines, persists every finding, and
// optionally fans results out to a dashboard over WebSocket.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sentinel/internal/audit"
	"sentinel/internal/classifier"
	"sentinel/internal/config"
	"sentinel/internal/correlation"
	"sentinel/internal/detect/exfiltration"
	"sentinel/internal/detect/filesystem"
	"sentinel/internal/detect/injection"
	"sentinel/internal/detect/toolpoison"
	"sentinel/internal/hub"
	"sentinel/internal/persistence"
	"sentinel/internal/source"
	"sentinel/internal/wsfanout"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config.yaml")
	flag.Parse()

	log.Println("sentinel: starting MCP traffic security monitor")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mgr, err := config.NewConfigManager(*configPath)
	if err != nil {
		log.Fatalf("sentinel: failed to build config manager: %v", err)
	}
	if err := mgr.Load(ctx); err != nil {
		log.Fatalf("sentinel: failed to load config: %v", err)
	}
	if err := mgr.Validate(ctx); err != nil {
		log.Fatalf("sentinel: invalid config: %v", err)
	}
	cfg := mgr.Get(ctx)

	log.Printf("sentinel: config loaded (source.mode=%s, port=%d)", cfg.Source.Mode, cfg.Server.Port)

	auditLogger, err := audit.NewLogger(&audit.Config{
		AuditLogPath: "logs/audit.log",
		AppLogPath:   "logs/app.log",
		MaxSize:      100,
		MaxBackups:   10,
		MaxAge:       30,
		Compress:     true,
		LogLevel:     cfg.Logging.Level,
	})
	if err != nil {
		log.Fatalf("sentinel: failed to init audit logger: %v", err)
	}
	defer auditLogger.Close()

	store, err := persistence.NewSQLiteStore(cfg.Database.SQLitePath)
	if err != nil {
		log.Fatalf("sentinel: failed to open store: %v", err)
	}
	defer store.Close()

	registry := correlation.NewSuspiciousEmailRegistry(cfg.Correlation.EmailRegistryCapacity)

	engines := buildEngines(cfg, registry, auditLogger)
	log.Printf("sentinel: %d detection engine(s) enabled", len(engines))

	broadcaster := wsfanout.New(cfg.Server.AllowedOrigins, false)

	h := hub.New(store, auditLogger, broadcaster, engines)

	stream, err := buildSource(ctx, cfg, auditLogger)
	if err != nil {
		log.Fatalf("sentinel: failed to start event source: %v", err)
	}

	go func() {
		for event := range stream.Events() {
			if err := h.Process(ctx, event); err != nil {
				log.Printf("sentinel: hub processing error: %v", err)
			}
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok"}`)
	})
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ws", broadcaster.HandleWS)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("sentinel: listening on :%d (health/metrics/ws)", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Println("sentinel: shutdown signal received")
	case err := <-errCh:
		log.Printf("sentinel: server error: %v", err)
	}

	_ = stream.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("sentinel: forced shutdown: %v", err)
	}

	log.Println("sentinel: exited")
}

// buildEngines constructs the set of enabled detection engines per
// cfg.Engines, wiring the tool-poisoning engine to the classifier only when
// it is enabled (spec §6's per-engine enable flags).
func buildEngines(cfg *config.Config, registry *correlation.SuspiciousEmailRegistry, logger audit.Logger) []hub.Engine {
	var engines []hub.Engine

	if cfg.Engines.CommandInjection {
		engines = append(engines, injection.New())
	}
	if cfg.Engines.FilesystemExposure {
		engines = append(engines, filesystem.New())
	}
	if cfg.Engines.DataExfiltration {
		engines = append(engines, exfiltration.New(registry))
	}
	if cfg.Engines.ToolPoisoning {
		c := classifier.NewAnthropicClassifier(
			cfg.LLM.APIKey,
			cfg.LLM.Model,
			cfg.LLM.BaseURL,
			time.Duration(cfg.LLM.RequestTimeoutSeconds)*time.Second,
		)
		engines = append(engines, toolpoison.New(
			c,
			logger,
			cfg.LLM.MaxRetries,
			time.Duration(cfg.LLM.BaseBackoffSeconds)*time.Second,
			time.Duration(cfg.LLM.InterRequestDelayMS)*time.Millisecond,
		))
	}

	return engines
}

// buildSource constructs the event source per cfg.Source.Mode.
func buildSource(ctx context.Context, cfg *config.Config, logger audit.Logger) (source.Stream, error) {
	switch cfg.Source.Mode {
	case "process":
		return source.NewProcessStream(ctx, cfg.Source.ProcessPath, cfg.Source.QueueCapacity, logger)
	default:
		return source.NewPushStream(cfg.Source.QueueCapacity, logger), nil
	}
}
