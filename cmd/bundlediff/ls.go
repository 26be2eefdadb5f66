package main

import (
	"fmt"
	"path"

	"github.com/spf13/cobra"

	"github.com/oleg-kozlyuk-grafana/go-bundlediff/internal/keys"
)

var lsRepo string

var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List the report blobs stored for a repository",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		service, owner, name, err := parseRepo(lsRepo)
		if err != nil {
			return err
		}

		ctx, a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		repo, err := a.Meta.GetRepository(ctx, service, owner, name)
		if err != nil {
			return fmt.Errorf("failed to look up repository: %w", err)
		}
		if repo == nil {
			return fmt.Errorf("unknown repository: %s", lsRepo)
		}

		objects, err := a.Blobs.List(ctx, keys.BundleReportPrefix(repo.Key))
		if err != nil {
			return fmt.Errorf("failed to list reports: %w", err)
		}
		for _, key := range objects {
			fmt.Fprintln(cmd.OutOrStdout(), path.Base(key))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(lsCmd)
	lsCmd.Flags().StringVar(&lsRepo, "repo", "", "Repository as service/owner/name (required)")
	lsCmd.MarkFlagRequired("repo")
}
