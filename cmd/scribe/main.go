package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/lexiqai/scribe-gateway/internal/config"
	"github.com/lexiqai/scribe-gateway/internal/llm"
	"github.com/lexiqai/scribe-gateway/internal/observability"
	"github.com/lexiqai/scribe-gateway/internal/realtime"
	"github.com/lexiqai/scribe-gateway/internal/server"
	"github.com/lexiqai/scribe-gateway/internal/stt"
)

const shutdownTimeout = 30 * time.Second

var rootCmd = &cobra.Command{
	Use:           "scribe",
	Short:         "Live and one-shot audio transcription gateway",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and WebSocket server",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

var transcribeCmd = &cobra.Command{
	Use:   "transcribe FILE",
	Short: "Transcribe an audio file once and print the text",
	Args:  cobra.ExactArgs(1),
	RunE:  runTranscribe,
}

var summarizeCmd = &cobra.Command{
	Use:   "summarize FILE",
	Short: "Summarize a transcript text file",
	Args:  cobra.ExactArgs(1),
	RunE:  runSummarize,
}

func init() {
	rootCmd.PersistentFlags().String("port", "", "HTTP port (overrides PORT)")
	summarizeCmd.Flags().String("api-key", "", "Summarization API key (defaults to SUMMARY_API_KEY)")
	summarizeCmd.Flags().String("model", "", "Summarization model (defaults to SUMMARY_DEFAULT_MODEL)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(transcribeCmd)
	rootCmd.AddCommand(summarizeCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads configuration and applies command line overrides
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if port, _ := cmd.Flags().GetString("port"); port != "" {
		cfg.Port = port
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("transcriber", cfg.TranscriberProvider).
		Dur("interval", cfg.TranscribeInterval).
		Int("workers", cfg.TranscribeWorkers).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Scribe Gateway starting")

	pool, err := stt.New(cfg)
	if err != nil {
		return err
	}

	store := realtime.NewStore(cfg.TempDir, cfg.StreamFileExt, cfg.WSWriteTimeout)
	manager := realtime.NewManager(cfg, store, pool)

	checks := map[string]observability.HealthCheckFunc{
		"transcriber": pool.Ready,
		"temp_dir":    tempDirCheck(cfg.TempDir),
	}
	srv := server.New(cfg, manager, pool, llm.NewSummarizer(cfg), checks)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.ListenAndServe)
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Int("sessions", store.Count()).Msg("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("Server stopped with error")
		return err
	}

	logger.Info().Msg("Server exited gracefully")
	return nil
}

// tempDirCheck reports whether session buffers can be created
func tempDirCheck(dir string) observability.HealthCheckFunc {
	return func(ctx context.Context) (bool, error) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return false, err
		}
		f, err := os.CreateTemp(dir, ".ready_*")
		if err != nil {
			return false, err
		}
		f.Close()
		return true, os.Remove(f.Name())
	}
}

func runTranscribe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	observability.InitLogger("warn", cfg.LogPretty)

	pool, err := stt.New(cfg)
	if err != nil {
		return err
	}

	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	text, err := pool.Transcribe(cmd.Context(), f, filepath.Base(args[0]))
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), text)
	return nil
}

func runSummarize(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	observability.InitLogger("warn", cfg.LogPretty)

	text, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}

	apiKey, _ := cmd.Flags().GetString("api-key")
	if apiKey == "" {
		apiKey = config.GetEnv("SUMMARY_API_KEY", "")
	}
	model, _ := cmd.Flags().GetString("model")

	summary, err := llm.NewSummarizer(cfg).Summarize(cmd.Context(), string(text), apiKey, model)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), summary)
	return nil
}
