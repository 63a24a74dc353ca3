package cmd

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/terminusdev/terminus/internal/bus"
	"github.com/terminusdev/terminus/internal/config"
	"github.com/terminusdev/terminus/internal/gateway"
	"github.com/terminusdev/terminus/internal/planner"
	"github.com/terminusdev/terminus/internal/sandbox"
	"github.com/terminusdev/terminus/internal/sanitize"
	"github.com/terminusdev/terminus/internal/sessions"
	"github.com/terminusdev/terminus/internal/translator"
	"github.com/terminusdev/terminus/internal/workflow"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the Terminus gateway (default command)",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func setupLogging() {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))
}

func setupTracing(ctx context.Context) func() {
	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if endpoint == "" {
		return func() {}
	}
	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(endpoint), otlptracehttp.WithInsecure())
	if err != nil {
		slog.Warn("tracing: failed to build exporter, continuing without spans", "error", err)
		return func() {}
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(tp)
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		tp.Shutdown(shutdownCtx)
	}
}

func runServe() {
	setupLogging()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing := setupTracing(ctx)
	defer shutdownTracing()

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	readiness := checkReadiness(cfg)
	if !readiness.Ready {
		slog.Warn("starting in degraded mode", "reason", readiness.Reason)
	}

	sanitizeOpts := sanitize.Options{
		MaxLen:    cfg.MaxCommandLen,
		Strict:    cfg.SandboxStrictSanitize,
		Allowlist: sanitize.ParseAllowlist(cfg.SandboxCmdAllowlist),
	}
	sandboxExec := sandbox.New(cfg.SandboxUser, cfg.SandboxForceLocal, sanitizeOpts)

	plannerClient := planner.New(planner.Options{
		Model:                  cfg.PlannerModel,
		BaseURL:                cfg.PlannerBaseURL,
		SafetyIdentifierPrefix: cfg.SafetyIdentifierPrefix,
		StrictJSON:             cfg.PlannerStrictJSON,
		EnableWebSearch:        cfg.EnablePlannerWebSearch,
		EnableFileSearch:       cfg.EnablePlannerFileSearch,
		EnableMCP:              cfg.EnablePlannerMCP,
		Offline:                cfg.Offline(),
	})
	translatorClient := translator.New(translator.Options{
		Model:                  cfg.ExecutorModel,
		BaseURL:                cfg.PlannerBaseURL,
		SafetyIdentifierPrefix: cfg.SafetyIdentifierPrefix,
		StrictFunction:         cfg.ExecutorStrictFunction,
		Offline:                cfg.Offline(),
	})

	eventBus := bus.New()
	registry := sessions.New(cfg.ExecuteGoalMinIntervalSec)
	engine := workflow.New(plannerClient, translatorClient, sandboxExec, eventBus, workflow.Config{
		MaxGoalLen:      cfg.MaxGoalLen,
		MaxReplans:      cfg.MaxReplans,
		MaxHistorySteps: cfg.MaxHistorySteps,
	})

	server := gateway.New(cfg.ListenAddr, registry, eventBus, engine, readiness)

	slog.Info("terminus starting", "addr", cfg.ListenAddr, "offline", cfg.Offline())
	if err := server.Start(ctx); err != nil && err != http.ErrServerClosed {
		slog.Error("gateway exited with error", "error", err)
		os.Exit(1)
	}
}
