package main

import (
	"errors"
	"fmt"
	"os"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aellingwood/ucimg/internal/build"
	"github.com/aellingwood/ucimg/internal/deploy"
)

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Publish the destination directory to S3",
	Long: "Deploy uploads new and changed files from the destination directory to\n" +
		"the configured S3 bucket and optionally invalidates a CloudFront\n" +
		"distribution. Run build first.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("bucket") {
			cfg.Deploy.Bucket, _ = cmd.Flags().GetString("bucket")
		}
		if cmd.Flags().Changed("destination") {
			cfg.Destination, _ = cmd.Flags().GetString("destination")
		}
		if err := cfg.Deploy.Validate(); err != nil {
			return err
		}

		logger, err := newLogger(cmd, cfg)
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		root, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("determining project root: %w", err)
		}
		b := build.NewBuilder(cfg, nil, nil, logger, build.Options{ProjectRoot: root})
		_, destination, err := b.Paths()
		if err != nil {
			return err
		}
		if info, err := os.Stat(destination); err != nil || !info.IsDir() {
			return fmt.Errorf("destination %s does not exist; run build first", destination)
		}

		ctx := cmd.Context()
		var opts []func(*awsconfig.LoadOptions) error
		if cfg.Deploy.Region != "" {
			opts = append(opts, awsconfig.WithRegion(cfg.Deploy.Region))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return fmt.Errorf("loading AWS configuration: %w", err)
		}

		dryRun, _ := cmd.Flags().GetBool("dry-run")
		res, err := deploy.Deploy(ctx, destination, deploy.Options{
			Prefix:       cfg.Deploy.Prefix,
			Distribution: cfg.Deploy.Distribution,
			Prune:        cfg.Deploy.Prune,
			DryRun:       dryRun,
		},
			deploy.NewS3Store(s3.NewFromConfig(awsCfg), cfg.Deploy.Bucket),
			deploy.NewCloudFront(cloudfront.NewFromConfig(awsCfg)),
			logger)
		if err != nil {
			return err
		}

		verb := "Deployed"
		if dryRun {
			verb = "Would deploy"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s to s3://%s: %d uploaded, %d deleted, %d unchanged\n",
			verb, cfg.Deploy.Bucket, res.Uploaded, res.Deleted, res.Skipped)
		for _, e := range res.Errors {
			logger.Error("deploy", zap.Error(e))
		}
		if len(res.Errors) > 0 {
			return errors.Join(res.Errors...)
		}
		return nil
	},
}

func init() {
	deployCmd.Flags().Bool("dry-run", false, "show what would be deployed without deploying")
	deployCmd.Flags().String("bucket", "", "override the configured bucket")
	deployCmd.Flags().StringP("destination", "d", "", "directory to publish")
	rootCmd.AddCommand(deployCmd)
}
