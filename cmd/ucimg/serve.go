package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aellingwood/ucimg/internal/build"
	"github.com/aellingwood/ucimg/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Build, watch and preview the rendered documents",
	Long: "Serve builds once, serves the destination directory and rebuilds on\n" +
		"every change below the source directory, reloading open browser tabs.",
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

		res, err := builder.Build(ctx)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		printResult(out, res)

		_, destination, err := builder.Paths()
		if err != nil {
			return err
		}
		addr, _ := cmd.Flags().GetString("addr")
		noReload, _ := cmd.Flags().GetBool("no-live-reload")
		srv := server.New(server.Options{
			Addr:       addr,
			OutputDir:  destination,
			CDNBase:    cfg.Uploadcare.CDNBase,
			LiveReload: !noReload,
		}, logger)

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error { return srv.ListenAndServe(ctx) })
		g.Go(func() error {
			return builder.Watch(ctx, func(res *build.Result, err error) {
				if err != nil {
					logger.Error("rebuild failed", zap.Error(err))
					return
				}
				printResult(out, res)
				srv.Reload()
			})
		})
		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().String("addr", "localhost:1313", "address to serve the preview on")
	serveCmd.Flags().Bool("no-live-reload", false, "do not reload browsers after a rebuild")
	addBuildFlags(serveCmd)
	rootCmd.AddCommand(serveCmd)
}
