// Command emotion serves and runs driver emotion analysis.
package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/nvr-ai/go-emotion/analyzer"
	"github.com/nvr-ai/go-emotion/config"
	"github.com/nvr-ai/go-emotion/images"
	"github.com/nvr-ai/go-emotion/logger"
	"github.com/nvr-ai/go-emotion/metrics"
	"github.com/nvr-ai/go-emotion/models"
	"github.com/nvr-ai/go-emotion/profiler"
	"github.com/nvr-ai/go-emotion/server"
	"github.com/nvr-ai/go-emotion/util"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

type options struct {
	configPath string
	dotenv     string
}

func newRootCommand() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "emotion",
		Short:         "Driver emotion analysis from camera frames",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "YAML configuration file")
	root.PersistentFlags().StringVar(&opts.dotenv, "env-file", ".env", "dotenv file, skipped when missing")

	root.AddCommand(newServeCommand(opts), newAnalyzeCommand(opts))
	return root
}

// pipeline is everything a command needs to analyze frames.
type pipeline struct {
	config   *config.Config
	log      *zap.Logger
	registry *models.Registry
	analyzer *analyzer.Analyzer
}

func newPipeline(opts *options) (*pipeline, error) {
	cfg, err := config.Load(opts.configPath, opts.dotenv)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load configuration")
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build logger")
	}

	registry := models.NewRegistry(cfg.Model, log)
	a := analyzer.New(registry, analyzer.Options{
		Mode:       cfg.Preprocess.Mode,
		FaceMargin: cfg.Preprocess.FaceMargin,
		Logger:     log,
	})

	return &pipeline{config: cfg, log: log, registry: registry, analyzer: a}, nil
}

func (p *pipeline) Close() {
	if err := p.registry.Close(); err != nil {
		p.log.Warn("failed to release model", zap.Error(err))
	}
	_ = p.log.Sync()
}

func newServeCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the emotion HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := newPipeline(opts)
			if err != nil {
				return err
			}
			defer p.Close()

			// The first request would load the model anyway; failing here only warns.
			if _, err := p.registry.Bundle(); err != nil {
				p.log.Warn("emotion model unavailable, analysis requests will fail until it loads",
					zap.String("model_path", p.config.Model.ModelPath),
					zap.Error(err))
			}

			gin.SetMode(gin.ReleaseMode)
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			prof := profiler.New(p.config.Profiler, p.log)
			go prof.Run(ctx)

			return server.New(p.analyzer, p.config.HTTP, p.log, server.WithProfiler(prof)).Run(ctx)
		},
	}
}

// analysis is one line of analyze output.
type analysis struct {
	Path    string           `json:"path"`
	Frame   int              `json:"frame"`
	Result  *analyzer.Result `json:"result,omitempty"`
	Metrics *metrics.Triple  `json:"metrics,omitempty"`
	Error   string           `json:"error,omitempty"`
}

func newAnalyzeCommand(opts *options) *cobra.Command {
	var maxSide int

	cmd := &cobra.Command{
		Use:   "analyze <file|dir>...",
		Short: "Analyze image files and print one JSON line per frame",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := util.LoadImageFiles(args...)
			if err != nil {
				return err
			}

			p, err := newPipeline(opts)
			if err != nil {
				return err
			}
			defer p.Close()

			failed := analyzeFiles(cmd.Context(), p.analyzer, files, maxSide, cmd.OutOrStdout(), p.log)
			if failed > 0 {
				return errors.Errorf("%d of %d frames could not be analyzed", failed, len(files))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&maxSide, "max-side", 1280, "downscale frames whose longest side exceeds this, 0 disables")
	return cmd
}

// frameAnalyzer is the part of analyzer.Analyzer used for files.
type frameAnalyzer interface {
	AnalyzeImage(ctx context.Context, data []byte) (*analyzer.Result, error)
}

func analyzeFiles(ctx context.Context, a frameAnalyzer, files []util.ImageFile, maxSide int, out io.Writer, log *zap.Logger) int {
	enc := json.NewEncoder(out)
	failed := 0

	for _, file := range files {
		line := analysis{Path: file.Path, Frame: file.Frame}

		result, err := analyzeFile(ctx, a, file, maxSide)
		if err != nil {
			failed++
			line.Error = err.Error()
			log.Debug("frame failed", zap.String("path", file.Path), zap.Error(err))
		} else {
			triple := metrics.FromResult(result)
			line.Result = result
			line.Metrics = &triple
		}

		if err := enc.Encode(line); err != nil {
			log.Error("failed to write result", zap.Error(err))
			return failed + 1
		}
	}
	return failed
}

func analyzeFile(ctx context.Context, a frameAnalyzer, file util.ImageFile, maxSide int) (*analyzer.Result, error) {
	data, _, err := images.Downscale(file.Data, maxSide)
	if err != nil {
		// bmp and webp go to the decoder untouched
		data = file.Data
	}

	result, err := a.AnalyzeImage(ctx, data)
	if err != nil {
		return nil, errors.Wrap(err, file.Path)
	}
	return result, nil
}
