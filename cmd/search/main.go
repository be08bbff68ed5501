package main

import (
	"os"
	"strings"
	"time"

	"github.com/kaatchi-tech/search-engine/internal/app"
	"github.com/kaatchi-tech/search-engine/internal/builder"
	config "github.com/kaatchi-tech/search-engine/internal/cfg"
	"github.com/kaatchi-tech/search-engine/internal/index"
	miniorepo "github.com/kaatchi-tech/search-engine/internal/repository/minio"
	"github.com/kaatchi-tech/search-engine/pkg/clients"
	"github.com/kaatchi-tech/search-engine/pkg/logger"
	"github.com/spf13/cobra"

	encoderclient "github.com/kaatchi-tech/search-engine/internal/encoder"
)

type searchFlags struct {
	searchType     string
	query          string
	imagePath      string
	topK           int
	dominantColors string
	colorDetection bool
	rotationCheck  bool
	quiet          bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &searchFlags{}

	cmd := &cobra.Command{
		Use:           "search-engine",
		Short:         "Multimodal fashion catalog search",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, flags)
		},
	}

	cmd.Flags().StringVar(&flags.searchType, "search-type", "", "text, image, multimodal, validate or coherence")
	cmd.Flags().StringVar(&flags.query, "query", "", "text query")
	cmd.Flags().StringVar(&flags.imagePath, "image-path", "", "path to query image")
	cmd.Flags().IntVar(&flags.topK, "top-k", 5, "number of results to return")
	cmd.Flags().StringVar(&flags.dominantColors, "dominant-colors", "", "comma-separated list of dominant colors")
	cmd.Flags().BoolVar(&flags.colorDetection, "color-detection", false, "enable dominant color detection")
	cmd.Flags().BoolVar(&flags.rotationCheck, "rotation-check", false, "retry validation with rotated orientations")
	cmd.Flags().BoolVar(&flags.quiet, "quiet", false, "log errors only")
	_ = cmd.MarkFlagRequired("search-type")

	cmd.AddCommand(newBuildCmd())

	return cmd
}

func runSearch(cmd *cobra.Command, flags *searchFlags) error {
	log := newLogger(flags.quiet)

	cfg, err := config.Load()
	if err != nil {
		log.Errorf(err, "failed to load config")
		return err
	}

	engine, err := app.NewEngine(cfg, log)
	if err != nil {
		log.Errorf(err, "failed to initialize search engine")
		if app.DataUnavailable(err) {
			_ = app.WriteUnavailable(os.Stdout)
		}
		return err
	}
	defer engine.Close()

	req := &app.Request{
		Mode:           flags.searchType,
		Query:          flags.query,
		ImagePath:      flags.imagePath,
		TopK:           flags.topK,
		DominantColors: splitColors(flags.dominantColors),
		ColorDetection: flags.colorDetection,
		RotationCheck:  flags.rotationCheck,
	}

	if err := engine.Execute(cmd.Context(), req, os.Stdout); err != nil {
		log.Errorf(err, "search failed")
		return err
	}

	return nil
}

func newBuildCmd() *cobra.Command {
	var (
		force bool
		quiet bool
	)

	cmd := &cobra.Command{
		Use:           "build",
		Short:         "Build embedding and index artifacts from the catalog",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger(quiet)

			cfg, err := config.Load()
			if err != nil {
				log.Errorf(err, "failed to load config")
				return err
			}

			deps := builder.Deps{
				Dataset: cfg.Dataset,
				Encoder: encoderclient.NewClient(cfg.Encoder, log),
				Logger:  log,
			}

			if cfg.Minio != nil {
				mc, err := clients.NewMinIOClient(cfg.Minio)
				if err != nil {
					log.Errorf(err, "failed to create minio client")
					return err
				}
				if err := clients.EnsureBucket(cmd.Context(), mc, cfg.Minio.BucketName); err != nil {
					log.Errorf(err, "failed to ensure bucket")
					return err
				}
				deps.Mirror = miniorepo.NewAssetRepo(mc, cfg.Minio)
			}

			if cfg.Qdrant != nil {
				client, err := index.NewQdrantClient(cfg.Qdrant)
				if err != nil {
					log.Errorf(err, "failed to create qdrant client")
					return err
				}
				deps.Sink = index.NewQdrant(client, cfg.Qdrant)
			}

			start := time.Now()
			if err := builder.NewBuilder(deps).Build(cmd.Context(), force); err != nil {
				log.Errorf(err, "artifact build failed")
				return err
			}
			log.Infof("artifact build finished in %v", time.Since(start).Round(time.Millisecond))

			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "rebuild artifacts even if present")
	cmd.Flags().BoolVar(&quiet, "quiet", false, "log errors only")

	return cmd
}

func newLogger(quiet bool) logger.Logger {
	if quiet {
		return logger.NewQuietLogger()
	}
	return logger.NewSlogLogger()
}

// splitColors разбирает значение --dominant-colors.
func splitColors(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	colors := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			colors = append(colors, trimmed)
		}
	}

	return colors
}
