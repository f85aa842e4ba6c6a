// Package main is the entry point for the streamguard binary.
// It analyzes files from the command line and hosts the streaming analysis
// HTTP service.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/polisai/streamguard/pkg/config"
	"github.com/polisai/streamguard/pkg/logging"
	"github.com/polisai/streamguard/pkg/policy"
	"github.com/polisai/streamguard/pkg/policy/dlp"
	"github.com/polisai/streamguard/pkg/server"
	"github.com/polisai/streamguard/pkg/telemetry"
	"github.com/spf13/cobra"
)

const (
	defaultLogLevel = "info"
	// exitBlocked is returned by analyze --fail-on-block when any input is blocked.
	exitBlocked = 2
)

type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		var exitErr *exitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.code)
		}
		os.Exit(1)
	}
}

// newRootCmd creates the root command for streamguard
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "streamguard",
		Short: "Streaming data loss prevention classifier",
		Long: `streamguard classifies text streams for data loss prevention.

It tracks character entropy, banned phrases, personal data and word
frequencies across chunk boundaries and produces an allow/block verdict.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to configuration file (YAML)")
	rootCmd.PersistentFlags().StringP("log-level", "l", defaultLogLevel, "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(newAnalyzeCmd(), newServeCmd())
	return rootCmd
}

func newAnalyzeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze [file...]",
		Short: "Analyze files or standard input",
		Long: `Streams every file (or standard input when no file is given) through an
analyzer and prints one JSON result per input.

Example:
  streamguard analyze --profile strict --fail-on-block report.txt`,
		RunE: runAnalyze,
	}

	cmd.Flags().Int("chunk-size", 0, "Read size in bytes (default from config, else 16384)")
	cmd.Flags().StringP("profile", "p", "", "Analyzer profile (default from config)")
	cmd.Flags().Bool("fail-on-block", false, "Exit with status 2 when any input is blocked")
	return cmd
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the streaming analysis HTTP service",
		Long: `Runs the HTTP service. When --config is given the file is watched and
analyzer profiles are reloaded on change.

Example:
  streamguard serve --config streamguard.yaml`,
		RunE: runServe,
	}

	cmd.Flags().String("addr", "", "Listen address (overrides config)")
	return cmd
}

// report is one line of analyze output.
type report struct {
	Source  string `json:"source"`
	Profile string `json:"profile"`
	dlp.Result
	Policy *policy.Decision `json:"policy,omitempty"`
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cmd, cfg, cmd.ErrOrStderr())

	chunkSize, _ := cmd.Flags().GetInt("chunk-size")
	if chunkSize <= 0 {
		chunkSize = cfg.Analyzer.ChunkSize
	}
	profile, _ := cmd.Flags().GetString("profile")
	if profile == "" {
		profile = cfg.Analyzer.DefaultProfile
	}
	failOnBlock, _ := cmd.Flags().GetBool("fail-on-block")

	registry, err := buildRegistry(cfg)
	if err != nil {
		return err
	}
	analyzerCfg, ok := registry.Resolve(profile)
	if !ok {
		return fmt.Errorf("unknown profile %q (available: %v)", profile, registry.Names())
	}

	evaluator, err := buildPolicy(ctx, cfg.Policy, logger)
	if err != nil {
		return err
	}

	if len(args) == 0 {
		args = []string{"-"}
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	blocked := 0
	for _, source := range args {
		rep, err := analyzeSource(ctx, cmd.InOrStdin(), source, analyzerCfg, chunkSize)
		if err != nil {
			return err
		}
		rep.Profile = profile

		if evaluator != nil {
			decision, err := evaluator.Evaluate(ctx, policy.Input{
				Profile:    profile,
				Result:     rep.Result,
				Attributes: map[string]any{"source": source},
			})
			if err != nil {
				logger.Error("Policy evaluation failed", "source", source, "error", err)
			}
			if decision.Action != "" {
				rep.Policy = &decision
			}
		}

		if rep.Decision == dlp.DecisionBlock {
			blocked++
			logger.Warn("Content blocked", "source", source, "reason", rep.Reason, "risk_score", rep.RiskScore)
		} else {
			logger.Debug("Content allowed", "source", source, "risk_score", rep.RiskScore)
		}

		if err := enc.Encode(rep); err != nil {
			return fmt.Errorf("write result: %w", err)
		}
	}

	if failOnBlock && blocked > 0 {
		return &exitError{code: exitBlocked, err: fmt.Errorf("%d of %d input(s) blocked", blocked, len(args))}
	}
	return nil
}

func analyzeSource(ctx context.Context, stdin io.Reader, source string, cfg dlp.Config, chunkSize int) (report, error) {
	src := stdin
	if source != "-" {
		//nolint:gosec // Paths are supplied by the operator on the command line
		f, err := os.Open(source)
		if err != nil {
			return report{}, fmt.Errorf("open %s: %w", source, err)
		}
		defer f.Close()
		src = f
	}

	result, err := dlp.AnalyzeStream(ctx, cfg, src, chunkSize)
	if err != nil {
		return report{}, fmt.Errorf("analyze %s: %w", source, err)
	}
	return report{Source: source, Result: result}, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	configPath, _ := cmd.Flags().GetString("config")
	metrics := server.NewMetrics()

	var (
		cfg      *config.Config
		provider *config.FileProvider
		updates  <-chan config.Snapshot
	)
	if configPath != "" {
		var err error
		provider, err = config.NewFileProvider(configPath, slog.Default(), config.WithReloadHook(func(err error) {
			if err != nil {
				metrics.RecordConfigReload("error")
			}
		}))
		if err != nil {
			return err
		}
		defer provider.Close()

		updates = provider.Subscribe()
		cfg = (<-updates).Config
	} else {
		var err error
		cfg, err = config.Load("")
		if err != nil {
			return err
		}
	}

	logger := newLogger(cmd, cfg, os.Stderr)
	slog.SetDefault(logger)

	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		local := *cfg
		local.Server.Address = addr
		cfg = &local
	}

	shutdownTracing, err := telemetry.SetupProvider(ctx, telemetry.Config{
		ServiceName: cfg.Telemetry.ServiceName,
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		Environment: cfg.Telemetry.Environment,
		Insecure:    cfg.Telemetry.Insecure,
	})
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Error("Failed to flush traces", "error", err)
		}
	}()

	evaluator, err := buildPolicy(ctx, cfg.Policy, logger)
	if err != nil {
		return err
	}

	tlsConfig, err := cfg.Server.TLS.ServerTLS()
	if err != nil {
		return err
	}

	opts := server.OptionsFromConfig(cfg)
	opts.TLS = tlsConfig
	opts.Logger = logger
	opts.Metrics = metrics
	opts.Policy = evaluator
	srv := server.New(opts)
	if err := srv.ApplyConfig(cfg); err != nil {
		return err
	}
	if updates != nil {
		go srv.WatchConfig(ctx, updates)
	}

	logger.Info("Starting streamguard",
		"addr", cfg.Server.Address,
		"default_profile", cfg.Analyzer.DefaultProfile,
		"policy", cfg.Policy.Enabled(),
		"hot_reload", provider != nil,
	)

	if err := srv.ListenAndServe(ctx); err != nil {
		logger.Error("Server error", "error", err)
		return err
	}
	logger.Info("streamguard stopped")
	return nil
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("failed to get config flag: %w", err)
	}
	return config.Load(path)
}

// newLogger honours an explicit --log-level over the configured level.
func newLogger(cmd *cobra.Command, cfg *config.Config, out io.Writer) *slog.Logger {
	level := cfg.Logging.Level
	if flag := cmd.Flags().Lookup("log-level"); flag != nil && flag.Changed {
		level = flag.Value.String()
	}
	return logging.NewLogger(logging.Config{
		Level:  level,
		Pretty: cfg.Logging.Pretty,
		Output: out,
	})
}

func buildRegistry(cfg *config.Config) (*dlp.Registry, error) {
	profiles, err := cfg.Analyzer.ProfileConfigs()
	if err != nil {
		return nil, err
	}
	registry := dlp.NewRegistry()
	if err := registry.Replace(profiles); err != nil {
		return nil, err
	}
	return registry, nil
}

// buildPolicy loads the configured Rego module. It returns nil when no module
// is configured.
func buildPolicy(ctx context.Context, cfg config.PolicyConfig, logger *slog.Logger) (policy.Evaluator, error) {
	if !cfg.Enabled() {
		return nil, nil
	}

	modules, err := policy.LoadModules(cfg.Module)
	if err != nil {
		return nil, err
	}
	engine, err := policy.NewEngine(ctx, policy.EngineOptions{
		Entrypoint: cfg.Entrypoint,
		Modules:    modules,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("load policy %s: %w", cfg.Module, err)
	}

	mode, err := policy.ParseMode(cfg.FailureMode)
	if err != nil {
		return nil, err
	}
	logger.Info("Decision policy loaded", "module", cfg.Module, "entrypoint", cfg.Entrypoint, "failure_mode", mode)
	return policy.Guarded{Evaluator: engine, Mode: mode}, nil
}
