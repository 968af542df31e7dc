package main

import (
	"context"
	"crypto/rand"
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
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pavelanni/eikenprep/internal/app"
	"github.com/pavelanni/eikenprep/internal/clock"
	"github.com/pavelanni/eikenprep/internal/credential"
	"github.com/pavelanni/eikenprep/internal/gateway"
	"github.com/pavelanni/eikenprep/internal/handler"
	appI18n "github.com/pavelanni/eikenprep/internal/i18n"
	"github.com/pavelanni/eikenprep/internal/llm"
	"github.com/pavelanni/eikenprep/internal/metrics"
	"github.com/pavelanni/eikenprep/internal/progress"
	"github.com/pavelanni/eikenprep/internal/store"
)

const cleanupInterval = time.Hour

func main() {
	// A .env file is optional.
	_ = godotenv.Load()

	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "eikenprep",
		Short: "Eiken practice exams generated by an LLM",
	}

	serve := serveCmd()
	root.AddCommand(serve, exportCmd(), hashPINCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `eikenprep --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE:  runServe,
	}
	rules := progress.DefaultRules()
	retry := llm.DefaultRetryConfig()

	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("db", "eikenprep.db", "SQLite database path")
	f.StringP("lang", "l", "en", "Default UI language (en, ja)")
	f.String("llm-url", "https://generativelanguage.googleapis.com/v1beta/openai/", "OpenAI-compatible API base URL")
	f.String("llm-key", "", "API key for the question generator (falls back to API_KEY)")
	f.String("llm-model", "gemini-3-flash-preview", "LLM model name")
	f.Int("llm-retries", retry.MaxAttempts, "Attempts per generator call")
	f.String("backend-url", "", "Account backend URL (falls back to GOOGLE_SHEET_GAS_URL)")
	f.String("school-pin-hash", "", "bcrypt hash of the school master PIN (see `eikenprep hash-pin`)")
	f.Bool("allow-debug", false, "Offer the local debug login")
	f.String("session-secret", "", "Secret signing device cookies (random per start when empty)")
	f.Bool("secure-cookies", true, "Set Secure flag on device cookies")
	f.Duration("device-idle", handler.DefaultIdleTimeout, "Time a device's in-memory state is kept without requests")
	f.StringSlice("cors-origins", nil, "Origins of a separately hosted frontend allowed to call the API")
	f.String("badge-catalog", "", "YAML badge catalog replacing the built-in one")
	f.Float64("mock-cost", rules.MockCost, "Tickets charged for a mock exam")
	f.Float64("target-cost", rules.TargetCost, "Tickets charged for targeted practice")
	f.Int("daily-mock-cap", rules.DailyMockCap, "Mock exams per day")
	f.Int("daily-target-cap", rules.DailyTargetCap, "Targeted practices per day")
	f.Int("daily-remake-cap", rules.DailyRemakeCap, "Question remakes per day")
	f.Int("theme-monthly-uses", rules.ThemeMonthlyUses, "Themed sessions per month")
	f.Float64("credit-cap", rules.CreditCap, "Maximum ticket balance")
	f.Float64("credit-pack", rules.CreditPack, "Tickets in a credit pack")
	f.Float64("subscription-bonus", rules.SubscriptionBonus, "Tickets granted on subscribing")
	f.Bool("strict-finish", false, "Refuse to finish while questions are unanswered")
	f.String("timezone", "", "IANA time zone for daily and monthly resets (server local when empty)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export logged exam results as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("db", "eikenprep.db", "SQLite database path")
	f.String("user", "", "Only export results of this user id")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func hashPINCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-pin PIN",
		Short: "Print the bcrypt hash to use as school-pin-hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := credential.HashPIN(args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), hash)
			return err
		},
	}
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

	v.SetEnvPrefix("EIKENPREP")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("eikenprep")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/eikenprep")
	v.AddConfigPath("/etc/eikenprep")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

// stringOrEnv returns the configured value or, when empty, the named
// variable of older deployment files.
func stringOrEnv(v *viper.Viper, key, env string) string {
	if s := v.GetString(key); s != "" {
		return s
	}
	return os.Getenv(env)
}

func schoolPINHash(v *viper.Viper) (string, error) {
	if h := v.GetString("school-pin-hash"); h != "" {
		return h, nil
	}
	pin := os.Getenv("SCHOOL_MASTER_PIN")
	if pin == "" {
		return "", nil
	}
	slog.Warn("using SCHOOL_MASTER_PIN from the environment; prefer school-pin-hash")
	return credential.HashPIN(pin)
}

func cookieSecret(v *viper.Viper) ([]byte, error) {
	if s := v.GetString("session-secret"); s != "" {
		return []byte(s), nil
	}
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	slog.Warn("no session-secret set, devices will be forgotten on restart")
	return b, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	// Open database.
	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	// Initialize i18n.
	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	m := metrics.New()

	catalog := progress.DefaultCatalog()
	if path := v.GetString("badge-catalog"); path != "" {
		catalog, err = progress.LoadCatalog(path)
		if err != nil {
			return fmt.Errorf("load badge catalog: %w", err)
		}
		slog.Info("loaded badge catalog", "path", path)
	}
	rules := progress.Rules{
		MockCost:          v.GetFloat64("mock-cost"),
		TargetCost:        v.GetFloat64("target-cost"),
		DailyMockCap:      v.GetInt("daily-mock-cap"),
		DailyTargetCap:    v.GetInt("daily-target-cap"),
		DailyRemakeCap:    v.GetInt("daily-remake-cap"),
		ThemeMonthlyUses:  v.GetInt("theme-monthly-uses"),
		CreditCap:         v.GetFloat64("credit-cap"),
		CreditPack:        v.GetFloat64("credit-pack"),
		SubscriptionBonus: v.GetFloat64("subscription-bonus"),
	}
	progressModel := progress.New(rules, catalog)

	// Create LLM client.
	retry := llm.DefaultRetryConfig()
	retry.MaxAttempts = v.GetInt("llm-retries")
	llmKey := stringOrEnv(v, "llm-key", "API_KEY")
	llmClient, err := llm.New(llm.Config{
		BaseURL: v.GetString("llm-url"),
		APIKey:  llmKey,
		Model:   v.GetString("llm-model"),
		Retry:   retry,
		Metrics: m,
	})
	if err != nil {
		return fmt.Errorf("create LLM client: %w", err)
	}
	if llmKey == "" {
		slog.Warn("no LLM API key configured, question generation will fail")
	}

	backendURL := stringOrEnv(v, "backend-url", "GOOGLE_SHEET_GAS_URL")
	backend := gateway.New(gateway.Config{URL: backendURL, Metrics: m})
	if backendURL == "" {
		slog.Warn("no backend URL configured, home accounts and sync are unavailable")
	}

	pinHash, err := schoolPINHash(v)
	if err != nil {
		return fmt.Errorf("hash school PIN: %w", err)
	}
	secret, err := cookieSecret(v)
	if err != nil {
		return fmt.Errorf("create session secret: %w", err)
	}

	clk := clock.Real{}
	if tz := v.GetString("timezone"); tz != "" {
		clk.Loc, err = time.LoadLocation(tz)
		if err != nil {
			return fmt.Errorf("load timezone: %w", err)
		}
	}

	ctrlCfg := app.Config{
		Generator:     llmClient,
		Backend:       backend,
		Store:         db,
		Progress:      progressModel,
		Clock:         clk,
		Metrics:       m,
		SchoolPINHash: pinHash,
		AllowDebug:    v.GetBool("allow-debug"),
		StrictFinish:  v.GetBool("strict-finish"),
	}
	h, err := handler.New(db, m, handler.Config{
		Secret:        secret,
		SecureCookies: v.GetBool("secure-cookies"),
		SchoolPINHash: pinHash,
		IdleTimeout:   v.GetDuration("device-idle"),
	}, func(device string) (*app.Controller, error) {
		return app.New(device, ctrlCfg)
	})
	if err != nil {
		return fmt.Errorf("create handler: %w", err)
	}
	defer h.Close()

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	if origins := v.GetStringSlice("cors-origins"); len(origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   origins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Content-Type", "Accept-Language"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
	r.Use(appI18n.Middleware(lang))
	h.Routes(r)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go cleanupDevices(ctx, h)

	addr := v.GetString("addr")
	srv := &http.Server{Addr: addr, Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown", "error", err)
		}
	}()

	slog.Info("starting server",
		"addr", addr,
		"model", v.GetString("llm-model"),
		"llm_url", v.GetString("llm-url"),
		"lang", lang,
		"backend", backendURL != "",
		"school_login", pinHash != "",
		"allow_debug", ctrlCfg.AllowDebug,
		"strict_finish", ctrlCfg.StrictFinish,
	)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func cleanupDevices(ctx context.Context, h *handler.Handler) {
	t := time.NewTicker(cleanupInterval)
	defer t.Stop()
	for {
		removed, evicted, err := h.CleanupDevices(time.Now())
		if err != nil {
			slog.Warn("device cleanup failed", "error", err)
		}
		if removed > 0 || evicted > 0 {
			slog.Info("cleaned up devices", "removed", removed, "evicted", evicted)
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
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

	export, err := db.ExportResults(v.GetString("user"))
	if err != nil {
		return fmt.Errorf("export results: %w", err)
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	_, err = w.Write(data)
	if err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	// Ensure trailing newline.
	_, _ = fmt.Fprintln(w)

	return nil
}
