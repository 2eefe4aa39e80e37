package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aellingwood/ucimg/internal/build"
	"github.com/aellingwood/ucimg/internal/buildcache"
	"github.com/aellingwood/ucimg/internal/config"
	"github.com/aellingwood/ucimg/internal/uploadcare"
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Render documents with CDN-backed images",
	Long: "Build renders every markdown document below the source directory,\n" +
		"uploads the local images it references and writes HTML pages to the\n" +
		"destination directory.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		cfg.WithOverrides(buildOverrides(cmd))
		if err := cfg.Validate(); err != nil {
			return err
		}

		logger, err := newLogger(cmd, cfg)
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		builder, closeStore, err := newBuilder(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer closeStore()

		out := cmd.OutOrStdout()
		if watch, _ := cmd.Flags().GetBool("watch"); watch {
			return builder.Watch(ctx, func(res *build.Result, err error) {
				if err != nil {
					logger.Error("rebuild failed", zap.Error(err))
					return
				}
				printResult(out, res)
			})
		}

		res, err := builder.Build(ctx)
		if err != nil {
			return err
		}
		printResult(out, res)
		return nil
	},
}

func init() {
	buildCmd.Flags().Bool("watch", false, "rebuild when the source tree changes")
	addBuildFlags(buildCmd)
	rootCmd.AddCommand(buildCmd)
}

// addBuildFlags registers the flags shared by build and serve.
func addBuildFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("destination", "d", "", "output directory")
	cmd.Flags().String("source", "", "directory holding the markdown documents")
	cmd.Flags().Int("workers", 0, "documents rendered in parallel (0 = number of CPUs)")
	cmd.Flags().Bool("no-prefetch", false, "skip listing the project's files before the build")
	cmd.Flags().Bool("drafts", false, "include draft documents")
}

// buildOverrides collects the flags the user actually set.
func buildOverrides(cmd *cobra.Command) map[string]any {
	flags := cmd.Flags()
	overrides := map[string]any{}
	if flags.Changed("destination") {
		overrides["destination"], _ = flags.GetString("destination")
	}
	if flags.Changed("source") {
		overrides["source"], _ = flags.GetString("source")
	}
	if flags.Changed("workers") {
		overrides["workers"], _ = flags.GetInt("workers")
	}
	if flags.Changed("no-prefetch") {
		skip, _ := flags.GetBool("no-prefetch")
		overrides["prefetch"] = !skip
	}
	if flags.Changed("drafts") {
		overrides["drafts"], _ = flags.GetBool("drafts")
	}
	return overrides
}

// newBuilder opens the build cache and the Uploadcare client for cfg. The
// returned func closes the cache.
func newBuilder(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*build.Builder, func(), error) {
	root, err := os.Getwd()
	if err != nil {
		return nil, nil, fmt.Errorf("determining project root: %w", err)
	}
	store, err := build.OpenStore(ctx, cfg.Cache, root)
	if err != nil {
		return nil, nil, fmt.Errorf("opening build cache: %w", err)
	}
	closeStore := func() {
		if err := store.Close(); err != nil {
			logger.Warn("closing build cache", zap.Error(err))
		}
	}

	client, err := uploadcare.New(uploadcare.Config{
		PublicKey:  cfg.Images.Pubkey,
		SecretKey:  cfg.Images.SecretKey,
		UploadBase: cfg.Uploadcare.UploadBase,
		APIBase:    cfg.Uploadcare.APIBase,
		UserAgent:  "ucimg/" + version,
	})
	if err != nil {
		closeStore()
		return nil, nil, err
	}

	b := build.NewBuilder(cfg, store, client, logger, build.Options{ProjectRoot: root})
	return b, closeStore, nil
}

func printResult(w io.Writer, res *build.Result) {
	fmt.Fprintf(w, "Build complete: %d documents in %s\n\n",
		res.Documents, res.Duration.Round(time.Millisecond))
	fmt.Fprintln(w, renderTable(
		[]string{"Images", "Rewritten", "Skipped", "Uploads", "Prefetched", "Drafts skipped", "Output"},
		[][]string{{
			fmt.Sprint(res.Images.Found),
			fmt.Sprint(res.Images.Rewritten),
			fmt.Sprint(res.Images.Skipped),
			fmt.Sprint(res.Uploads),
			fmt.Sprint(res.Prefetched),
			fmt.Sprint(res.DraftsSkipped),
			formatBytes(res.OutputSize),
		}},
		[]columnAlignment{alignRight, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight},
	))
}

// openAssets opens the configured cache and returns the project file list
// stored in it.
func openAssets(ctx context.Context, cmd *cobra.Command) (*buildcache.Assets, func() error, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	root, err := os.Getwd()
	if err != nil {
		return nil, nil, fmt.Errorf("determining project root: %w", err)
	}
	store, err := build.OpenStore(ctx, cfg.Cache, root)
	if err != nil {
		return nil, nil, fmt.Errorf("opening build cache: %w", err)
	}
	return buildcache.NewAssets(store), store.Close, nil
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
