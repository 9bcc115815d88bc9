package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ajitpratap0/hubble/internal/pipeline"
	"github.com/ajitpratap0/hubble/pkg/config"
	"github.com/ajitpratap0/hubble/pkg/connector/core"
	"github.com/ajitpratap0/hubble/pkg/connector/registry"
	jsonpool "github.com/ajitpratap0/hubble/pkg/json"
	"github.com/ajitpratap0/hubble/pkg/logger"
	"github.com/ajitpratap0/hubble/pkg/observability"
	"github.com/ajitpratap0/hubble/pkg/performance"
	"github.com/ajitpratap0/hubble/pkg/schema"
	"github.com/ajitpratap0/hubble/pkg/state"

	// Import connectors to register them
	_ "github.com/ajitpratap0/hubble/pkg/connector/destinations/csv"
	_ "github.com/ajitpratap0/hubble/pkg/connector/destinations/jsonl"
	_ "github.com/ajitpratap0/hubble/pkg/connector/destinations/kafka"
	_ "github.com/ajitpratap0/hubble/pkg/connector/destinations/mongodb"
	_ "github.com/ajitpratap0/hubble/pkg/connector/destinations/s3"
	_ "github.com/ajitpratap0/hubble/pkg/connector/sources/hubble"
)

var version = "1.0.0"

// checker is implemented by sources that can verify connectivity with a
// single probe.
type checker interface {
	Check(ctx context.Context) error
}

// streamDiscoverer is implemented by sources that expose a per-stream
// schema catalog beyond the single destination-facing schema.
type streamDiscoverer interface {
	DiscoverStreams(ctx context.Context) (map[string]schema.Document, error)
}

func main() {
	_ = godotenv.Load()

	settings := viper.New()
	settings.SetEnvPrefix("HUBBLE")
	settings.AutomaticEnv()
	settings.SetDefault("log_level", "info")
	settings.SetDefault("log_format", "json")
	settings.SetDefault("state_backend", "file")
	settings.SetDefault("state_path", ".hubble/state.json")
	settings.SetDefault("state_dsn", "")
	settings.SetDefault("metrics_addr", "")

	root := &cobra.Command{
		Use:   "hubble",
		Short: "Hubble - incremental REST extraction engine",
		Long: `Hubble extracts paginated record sets from REST sources that speak a
MongoDB-style query dialect, and loads them into pluggable destinations.
Syncs are incremental: each stream resumes from its saved high-water mark.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return logger.Init(logger.Config{
				Level:    settings.GetString("log_level"),
				Encoding: settings.GetString("log_format"),
			})
		},
	}

	flags := root.PersistentFlags()
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.String("log-format", "json", "Log encoding (json, console)")
	flags.String("state-backend", "file", "State backend (file, postgres)")
	flags.String("state-path", ".hubble/state.json", "Checkpoint file path for the file backend")
	flags.String("state-dsn", "", "Postgres DSN for the postgres state backend")
	flags.String("metrics-addr", "", "Listen address for /metrics (empty disables)")
	_ = settings.BindPFlag("log_level", flags.Lookup("log-level"))
	_ = settings.BindPFlag("log_format", flags.Lookup("log-format"))
	_ = settings.BindPFlag("state_backend", flags.Lookup("state-backend"))
	_ = settings.BindPFlag("state_path", flags.Lookup("state-path"))
	_ = settings.BindPFlag("state_dsn", flags.Lookup("state-dsn"))
	_ = settings.BindPFlag("metrics_addr", flags.Lookup("metrics-addr"))

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Hubble v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List available connectors",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("Source connectors:")
			for _, name := range registry.ListSources() {
				fmt.Printf("  - %s\n", name)
			}
			fmt.Println("\nDestination connectors:")
			for _, name := range registry.ListDestinations() {
				fmt.Printf("  - %s\n", name)
			}
		},
	})

	var checkConfigFile string
	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Verify a source connection with a single-record probe",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd.Context(), checkConfigFile)
		},
	}
	checkCmd.Flags().StringVarP(&checkConfigFile, "config", "c", "", "Path to source configuration YAML file (required)")
	_ = checkCmd.MarkFlagRequired("config")
	root.AddCommand(checkCmd)

	var discoverConfigFile string
	discoverCmd := &cobra.Command{
		Use:   "discover",
		Short: "Infer and print the schema of every configured stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDiscover(cmd.Context(), discoverConfigFile)
		},
	}
	discoverCmd.Flags().StringVarP(&discoverConfigFile, "config", "c", "", "Path to source configuration YAML file (required)")
	_ = discoverCmd.MarkFlagRequired("config")
	root.AddCommand(discoverCmd)

	var sourceConfigFile, destConfigFile string
	var timeout time.Duration
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run an extraction pipeline",
		Long: `Run an extraction pipeline from a source to a destination. Saved stream
checkpoints are loaded before the run and updated after it, so repeated runs
sync incrementally.

Example:
  hubble run --source source.yaml --destination destination.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd.Context(), settings, sourceConfigFile, destConfigFile, timeout)
		},
	}
	runCmd.Flags().StringVarP(&sourceConfigFile, "source", "s", "", "Path to source configuration YAML file (required)")
	runCmd.Flags().StringVarP(&destConfigFile, "destination", "d", "", "Path to destination configuration YAML file (required)")
	runCmd.Flags().DurationVar(&timeout, "timeout", 30*time.Minute, "Pipeline timeout")
	_ = runCmd.MarkFlagRequired("source")
	_ = runCmd.MarkFlagRequired("destination")
	root.AddCommand(runCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildSource loads a source configuration and returns the initialized
// connector.
func buildSource(ctx context.Context, configFile string) (core.Source, *config.BaseConfig, error) {
	cfg, err := config.LoadBase(configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("source configuration error: %w", err)
	}

	source, err := registry.CreateSource(cfg.Name, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create source connector %q: %w", cfg.Name, err)
	}
	if err := source.Initialize(ctx, cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to initialize source: %w", err)
	}
	return source, cfg, nil
}

func runCheck(ctx context.Context, configFile string) error {
	source, _, err := buildSource(ctx, configFile)
	if err != nil {
		return err
	}
	defer source.Close(ctx)

	probe, ok := source.(checker)
	if !ok {
		return fmt.Errorf("source does not support connection checks")
	}
	if err := probe.Check(ctx); err != nil {
		return fmt.Errorf("connection check failed: %w", err)
	}

	fmt.Println("Connection check passed.")
	return nil
}

func runDiscover(ctx context.Context, configFile string) error {
	source, cfg, err := buildSource(ctx, configFile)
	if err != nil {
		return err
	}
	defer source.Close(ctx)

	catalog := make(map[string]interface{})
	if discoverer, ok := source.(streamDiscoverer); ok {
		docs, err := discoverer.DiscoverStreams(ctx)
		if err != nil {
			return fmt.Errorf("schema discovery failed: %w", err)
		}
		for stream, doc := range docs {
			catalog[stream] = doc
		}
	} else {
		discovered, err := source.Discover(ctx)
		if err != nil {
			return fmt.Errorf("schema discovery failed: %w", err)
		}
		catalog[cfg.Name] = discovered
	}

	out, err := jsonpool.MarshalIndent(catalog, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to render catalog: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

// openStateStore builds the checkpoint store the run command persists
// stream state through.
func openStateStore(ctx context.Context, settings *viper.Viper) (state.Store, error) {
	switch backend := settings.GetString("state_backend"); backend {
	case "file":
		return state.NewFileStore(settings.GetString("state_path")), nil
	case "postgres":
		dsn := settings.GetString("state_dsn")
		if dsn == "" {
			return nil, fmt.Errorf("postgres state backend requires --state-dsn or HUBBLE_STATE_DSN")
		}
		return state.NewPostgresStore(ctx, dsn)
	default:
		return nil, fmt.Errorf("unknown state backend %q", backend)
	}
}

// serveMetrics exposes /metrics when an address is configured.
func serveMetrics(addr string, log *zap.Logger) *http.Server {
	if addr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn("metrics listener stopped", zap.Error(err))
		}
	}()
	log.Info("metrics listener started", zap.String("addr", addr))
	return srv
}

func runPipeline(ctx context.Context, settings *viper.Viper, sourceConfigFile, destConfigFile string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	sourceConfig, err := config.LoadBase(sourceConfigFile)
	if err != nil {
		return fmt.Errorf("source configuration error: %w", err)
	}
	destConfig, err := config.LoadBase(destConfigFile)
	if err != nil {
		return fmt.Errorf("destination configuration error: %w", err)
	}

	log := logger.Get().With(
		zap.String("component", "hubble-cli"),
		zap.String("source", sourceConfig.Name),
		zap.String("destination", destConfig.Name),
	)

	if sourceConfig.Observability.EnableTracing {
		tracingCfg := observability.DefaultConfig()
		tracingCfg.SampleRate = sourceConfig.Observability.TracingSampleRate
		if err := observability.Init(tracingCfg); err != nil {
			return fmt.Errorf("failed to initialize tracing: %w", err)
		}
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			if err := observability.Shutdown(shutdownCtx); err != nil {
				log.Warn("tracing shutdown failed", zap.Error(err))
			}
		}()
	}

	if srv := serveMetrics(settings.GetString("metrics_addr"), log); srv != nil {
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	if monitor, err := performance.NewMonitor(0, log); err != nil {
		log.Warn("resource monitoring unavailable", zap.Error(err))
	} else {
		monitor.Start(ctx)
		defer monitor.Stop()
	}

	store, err := openStateStore(ctx, settings)
	if err != nil {
		return err
	}
	defer store.Close(ctx)

	source, err := registry.CreateSource(sourceConfig.Name, sourceConfig)
	if err != nil {
		return fmt.Errorf("failed to create source connector %q: %w", sourceConfig.Name, err)
	}
	destination, err := registry.CreateDestination(destConfig.Name, destConfig)
	if err != nil {
		return fmt.Errorf("failed to create destination connector %q: %w", destConfig.Name, err)
	}

	if err := source.Initialize(ctx, sourceConfig); err != nil {
		return fmt.Errorf("failed to initialize source: %w", err)
	}
	defer func() {
		if err := source.Close(ctx); err != nil {
			log.Warn("failed to close source", zap.Error(err))
		}
	}()

	if err := destination.Initialize(ctx, destConfig); err != nil {
		return fmt.Errorf("failed to initialize destination: %w", err)
	}
	defer func() {
		if err := destination.Close(ctx); err != nil {
			log.Warn("failed to close destination", zap.Error(err))
		}
	}()

	if err := seedState(ctx, store, source, sourceConfig); err != nil {
		return err
	}

	if discovered, err := source.Discover(ctx); err != nil {
		log.Warn("schema discovery failed, destination gets no schema", zap.Error(err))
	} else if err := destination.CreateSchema(ctx, discovered); err != nil {
		return fmt.Errorf("failed to prepare destination schema: %w", err)
	}

	run := pipeline.New(source, destination, &pipeline.Config{
		BatchSize:     sourceConfig.Performance.BatchSize,
		Workers:       sourceConfig.Performance.GetWorkers(),
		FlushInterval: sourceConfig.Performance.FlushInterval,
	}, log)

	log.Info("executing pipeline")
	runErr := run.Run(ctx)

	// Persist whatever progress the run committed, even when it failed:
	// the next invocation resumes from the last fully processed page.
	if err := persistState(ctx, store, source); err != nil {
		log.Error("failed to persist stream state", zap.Error(err))
		if runErr == nil {
			runErr = err
		}
	}

	if runErr != nil {
		return fmt.Errorf("pipeline execution failed: %w", runErr)
	}

	m := run.Metrics()
	log.Info("pipeline completed",
		zap.Any("records_moved", m["records_moved"]),
		zap.Any("duration", m["duration"]),
		zap.Any("throughput_rps", m["throughput_rps"]))
	return nil
}

// seedState loads saved checkpoints for the configured streams into the
// source. Streams without saved state start from start_date.
func seedState(ctx context.Context, store state.Store, source core.Source, cfg *config.BaseConfig) error {
	if !source.SupportsIncremental() {
		return nil
	}

	seeded := make(core.State)
	for _, stream := range cfg.Extraction.Streams {
		st, ok, err := store.Load(ctx, stream.Name)
		if err != nil {
			return fmt.Errorf("failed to load state for stream %q: %w", stream.Name, err)
		}
		if ok {
			seeded[stream.Name] = map[string]interface{}{"updatedAt": st.UpdatedAt}
		}
	}
	if len(seeded) == 0 {
		return nil
	}
	return source.SetState(seeded)
}

// persistState writes the source's exported checkpoints back to the store.
func persistState(ctx context.Context, store state.Store, source core.Source) error {
	for stream, raw := range source.GetState() {
		doc, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		mark, ok := doc["updatedAt"].(string)
		if !ok || mark == "" {
			continue
		}
		if err := store.Save(ctx, stream, state.StreamState{UpdatedAt: mark}); err != nil {
			return fmt.Errorf("failed to save state for stream %q: %w", stream, err)
		}
	}
	return nil
}
