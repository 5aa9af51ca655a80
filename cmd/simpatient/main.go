package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pavelanni/simpatient/internal/cases"
	"github.com/pavelanni/simpatient/internal/chat"
	"github.com/pavelanni/simpatient/internal/events"
	"github.com/pavelanni/simpatient/internal/handler"
	appI18n "github.com/pavelanni/simpatient/internal/i18n"
	"github.com/pavelanni/simpatient/internal/llm"
	"github.com/pavelanni/simpatient/internal/llm/prompts"
	"github.com/pavelanni/simpatient/internal/model"
	"github.com/pavelanni/simpatient/internal/scoring"
	"github.com/pavelanni/simpatient/internal/store"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "simpatient",
		Short:   "Virtual psychiatric patient for interview training",
		Version: version,
	}

	serve := serveCmd()
	root.AddCommand(serve, exportCmd(), casesCmd(), interviewCmd(), evaluateCmd(), eventsCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `simpatient --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the patient and evaluation API",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8000", "HTTP listen address")
	f.String("db", "simpatient.db", "SQLite database path for recorded evaluations")
	f.String("cases-dir", "cases", "Directory with case JSON files")
	f.String("prompts-dir", "", "Directory overriding the built-in prompt templates")
	f.String("llm-url", "http://localhost:11434/v1", "OpenAI-compatible API base URL")
	f.String("llm-key", "ollama", "API key for LLM")
	f.String("llm-model", "llama3.2", "LLM model name")
	f.Float64("temperature", 0.7, "Sampling temperature for patient replies")
	f.Int("max-history", 0, "Conversation turns kept in the patient prompt (0 = all)")
	f.Duration("request-timeout", 2*time.Minute, "Per-request timeout (0 = none)")
	f.Duration("idle-timeout", time.Hour, "Drop chat memory idle for longer than this")
	f.StringP("lang", "l", "en", "Default language for API messages (en, ru)")
	f.String("base-path", "", "URL prefix for sub-path deployments (e.g. /patient)")
	f.String("nats-url", "", "NATS server URL for session events (empty disables)")
	f.String("nats-token", "", "NATS auth token")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export recorded evaluations as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("db", "simpatient.db", "SQLite database path")
	f.String("case", "", "Only export evaluations of this case")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("SIMPATIENT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("simpatient")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/simpatient")
	v.AddConfigPath("/etc/simpatient")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	cfg := model.ServerConfig{
		CasesDir:       v.GetString("cases-dir"),
		Temperature:    float32(v.GetFloat64("temperature")),
		MaxHistory:     v.GetInt("max-history"),
		RequestTimeout: v.GetDuration("request-timeout"),
	}

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	catalogue := cases.New(cfg.CasesDir, slog.Default())
	n, err := catalogue.Reload(ctx)
	if err != nil {
		return fmt.Errorf("load cases: %w", err)
	}
	slog.Info("cases loaded", "dir", cfg.CasesDir, "count", n)

	llmOpts := []llm.Option{
		llm.WithTemperature(cfg.Temperature),
		llm.WithMaxHistory(cfg.MaxHistory),
	}
	if dir := v.GetString("prompts-dir"); dir != "" {
		set, err := prompts.Load(os.DirFS(dir))
		if err != nil {
			return fmt.Errorf("load prompts from %s: %w", dir, err)
		}
		llmOpts = append(llmOpts, llm.WithPrompts(set))
	}
	llmClient, err := llm.New(v.GetString("llm-url"), v.GetString("llm-key"), v.GetString("llm-model"), llmOpts...)
	if err != nil {
		return fmt.Errorf("create LLM client: %w", err)
	}
	if err := llmClient.Ping(ctx); err != nil {
		return fmt.Errorf("LLM health check: %w", err)
	}
	slog.Info("LLM endpoint OK", "url", v.GetString("llm-url"), "model", llmClient.Model())

	var publisher events.Publisher = events.Nop{}
	if url := v.GetString("nats-url"); url != "" {
		nc, err := events.NewClient(ctx, url, v.GetString("nats-token"), slog.Default())
		if err != nil {
			return fmt.Errorf("connect NATS: %w", err)
		}
		defer nc.Close()
		publisher = nc
		slog.Info("NATS connected", "url", url)
	}
	publisher = events.Safe(publisher, slog.Default())

	chatSvc := chat.New(catalogue, llmClient, publisher, slog.Default())
	scoringSvc := scoring.New(catalogue, llmClient, db, publisher, slog.Default())
	h := handler.New(catalogue, chatSvc, scoringSvc, db, version)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if cfg.RequestTimeout > 0 {
		r.Use(middleware.Timeout(cfg.RequestTimeout))
	}
	r.Use(appI18n.Middleware(lang))

	// Normalize base path.
	basePath := strings.TrimRight(v.GetString("base-path"), "/")
	if basePath != "" && !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	if basePath != "" {
		r.Route(basePath, h.Routes)
	} else {
		h.Routes(r)
	}

	go purgeIdle(ctx, chatSvc, v.GetDuration("idle-timeout"))

	addr := v.GetString("addr")
	srv := &http.Server{Addr: addr, Handler: r}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	slog.Info("starting server",
		"addr", addr,
		"version", version,
		"model", llmClient.Model(),
		"llm_url", v.GetString("llm-url"),
		"lang", lang,
		"temperature", cfg.Temperature,
		"max_history", cfg.MaxHistory,
		"base_path", basePath,
	)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// purgeIdle periodically drops chat memory of abandoned sessions.
func purgeIdle(ctx context.Context, svc *chat.Service, maxIdle time.Duration) {
	if maxIdle <= 0 {
		return
	}
	ticker := time.NewTicker(min(maxIdle, 5*time.Minute))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := svc.PurgeIdle(maxIdle); n > 0 {
				slog.Info("dropped idle conversations", "count", n)
			}
		}
	}
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	export, err := db.ExportEvaluations(cmd.Context(), v.GetString("case"))
	if err != nil {
		return fmt.Errorf("export evaluations: %w", err)
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = cmd.OutOrStdout()
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	// Ensure trailing newline.
	_, _ = fmt.Fprintln(w)

	slog.Info("exported evaluations", "count", export.Count)
	return nil
}
