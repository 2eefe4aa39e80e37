package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect the build cache",
	Long:  "Inspect or clear the cached list of files in the Uploadcare project.",
}

var cacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached project files",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		assets, closeStore, err := openAssets(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer closeStore()

		list, err := assets.Load(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(list) == 0 {
			fmt.Fprintln(out, "No cached files.")
			return nil
		}

		rows := make([][]string, 0, len(list))
		for _, r := range list {
			size := "-"
			if r.HasDimensions() {
				size = fmt.Sprintf("%dx%d", r.Width, r.Height)
			}
			rows = append(rows, []string{
				r.ID.String(),
				r.OriginalFilename,
				size,
				shortFingerprint(r.Fingerprint),
			})
		}
		fmt.Fprintln(out, renderTable(
			[]string{"UUID", "Filename", "Size", "Fingerprint"},
			rows,
			[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft},
		))
		fmt.Fprintf(out, "%d files\n", len(list))
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Forget every cached project file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		assets, closeStore, err := openAssets(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer closeStore()

		if err := assets.Clear(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Build cache cleared.")
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheListCmd, cacheClearCmd)
	rootCmd.AddCommand(cacheCmd)
}

func shortFingerprint(fp string) string {
	if fp == "" {
		return "-"
	}
	if len(fp) > 16 {
		return fp[:16] + "…"
	}
	return fp
}
