package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/chatclean/chatclean/backend"
	"github.com/chatclean/chatclean/cache"
	"github.com/chatclean/chatclean/chunk"
	"github.com/chatclean/chatclean/config"
	"github.com/chatclean/chatclean/extract"
	"github.com/chatclean/chatclean/metrics"
	"github.com/chatclean/chatclean/normalize"
	"github.com/chatclean/chatclean/pipeline"
	"github.com/chatclean/chatclean/record"
	"github.com/chatclean/chatclean/segment"
	"github.com/chatclean/chatclean/source"
)

const version = "v0.1.0"

var configFile string

func main() {
	root := &cobra.Command{
		Use:          "chatclean",
		Short:        "Clean raw chat transcripts into structured CSV records",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "chatclean.yaml", "path to configuration file")

	root.AddCommand(runCmd(), validateCmd(), versionCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <input-path>",
		Short: "Process a file or directory of conversations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFile(configFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return run(cfg, args[0])
		},
	}
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.LoadFile(configFile); err != nil {
				return err
			}
			fmt.Println("Configuration is valid")
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version and exit",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("chatclean %s\n", version)
		},
	}
}

// buildLogger constructs the run logger from config, tagged with a
// unique run identifier so interleaved runs stay distinguishable.
func buildLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	zcfg := zap.NewProductionConfig()
	if cfg.Format == "text" {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := zcfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.With(zap.String("run_id", uuid.NewString())), nil
}

func run(cfg *config.Config, inputPath string) error {
	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
		srv := m.Serve(cfg.Metrics.Address, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := metrics.Shutdown(shutdownCtx, srv); err != nil {
				logger.Warn("metrics server shutdown failed", zap.Error(err))
			}
		}()
	}

	registry := backend.NewRegistry(logger, m.Registry())
	b, err := registry.Get(cfg.Backend)
	if err != nil {
		return fmt.Errorf("create backend: %w", err)
	}
	logger.Info("backend ready",
		zap.String("type", cfg.Backend.Type),
		zap.String("model", cfg.Backend.Model),
		zap.String("endpoint", cfg.Backend.Endpoint),
	)

	var resultStore *cache.Store[[]record.MessageRecord]
	var segmentStore *cache.Store[[]string]
	if cfg.Cache.Enable {
		resultStore, err = cache.NewStore[[]record.MessageRecord](cfg.Cache.Dir, "", logger)
		if err != nil {
			return fmt.Errorf("create result cache: %w", err)
		}
		segmentStore, err = cache.NewStore[[]string](cfg.Cache.Dir, "seg_", logger)
		if err != nil {
			return fmt.Errorf("create segment cache: %w", err)
		}
	}

	var splitter source.Splitter
	if cfg.Segmentation.Enabled {
		splitter = segment.New(b, segmentStore, logger, m, cfg.Backend.MaxOutputTokens)
	}

	conversations, err := source.NewDiscoverer(splitter, logger).Discover(ctx, inputPath)
	if err != nil {
		return fmt.Errorf("discover conversations: %w", err)
	}
	if len(conversations) == 0 {
		logger.Warn("no conversations found", zap.String("input", inputPath))
		return nil
	}
	logger.Info("discovered conversations", zap.Int("count", len(conversations)))

	p, err := pipeline.New(pipeline.Options{
		Normalizer: normalize.NewHeuristic(),
		Splitter:   chunk.NewSplitter(cfg.Backend.MaxContextTokens),
		Extractor:  extract.New(b, cfg.Backend, logger, m),
		Backend:    b,
		Store:      resultStore,
		OutputDir:  cfg.Output.Dir,
		Logger:     logger,
		Metrics:    m,
	})
	if err != nil {
		return fmt.Errorf("create pipeline: %w", err)
	}

	cleaned := p.Run(ctx, conversations)
	logger.Info("run complete",
		zap.Int("cleaned", cleaned),
		zap.Int("total", len(conversations)),
	)
	return nil
}
