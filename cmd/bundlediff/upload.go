package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/oleg-kozlyuk-grafana/go-bundlediff/internal/bundle"
	"github.com/oleg-kozlyuk-grafana/go-bundlediff/internal/config"
	"github.com/oleg-kozlyuk-grafana/go-bundlediff/internal/gitref"
	"github.com/oleg-kozlyuk-grafana/go-bundlediff/internal/queue"
	"github.com/oleg-kozlyuk-grafana/go-bundlediff/internal/report"
)

var (
	uploadRepo   string
	uploadCommit string
	uploadBase   string
	uploadFile   string
	uploadJSON   string
	uploadGitDir string
)

var uploadCmd = &cobra.Command{
	Use:   "upload",
	Short: "Store a bundle analysis report for a commit",
	Long: `Upload stores a report for a commit. The report is either an existing
report file (--file) or a JSON list of bundles (--json) that is encoded into
a report first:

  [{"name": "app", "assets": [{"name": "app.js", "size": 120000}]}]

When a Redis or Pub/Sub queue is configured, the upload is announced to the
workers.`,
	Args: cobra.NoArgs,
	RunE: runUpload,
}

func init() {
	rootCmd.AddCommand(uploadCmd)

	uploadCmd.Flags().StringVar(&uploadRepo, "repo", "", "Repository as service/owner/name (required)")
	uploadCmd.Flags().StringVar(&uploadCommit, "commit", "", "Commit the report belongs to (required)")
	uploadCmd.Flags().StringVar(&uploadBase, "base", "", "Base commit for workers to compare against")
	uploadCmd.Flags().StringVar(&uploadFile, "file", "", "Report file to upload")
	uploadCmd.Flags().StringVar(&uploadJSON, "json", "", "JSON bundle list to encode and upload")
	uploadCmd.Flags().StringVar(&uploadGitDir, "git-dir", "", "Resolve --commit and --base as git revisions in this working tree")
	uploadCmd.MarkFlagRequired("repo")
	uploadCmd.MarkFlagRequired("commit")
	uploadCmd.MarkFlagsMutuallyExclusive("file", "json")
	uploadCmd.MarkFlagsOneRequired("file", "json")
}

func runUpload(cmd *cobra.Command, args []string) error {
	service, owner, name, err := parseRepo(uploadRepo)
	if err != nil {
		return err
	}

	data, err := readUpload(uploadFile, uploadJSON)
	if err != nil {
		return err
	}

	ctx, a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	commitSHA, baseSHA := uploadCommit, uploadBase
	if uploadGitDir != "" {
		g := gitref.New(uploadGitDir)
		if commitSHA, err = g.ResolveCommit(ctx, uploadCommit); err != nil {
			return fmt.Errorf("failed to resolve commit: %w", err)
		}
		if baseSHA != "" {
			if baseSHA, err = g.ResolveCommit(ctx, uploadBase); err != nil {
				return fmt.Errorf("failed to resolve base: %w", err)
			}
		}
	}

	var pub bundle.Publisher
	if a.Config.Queue.Type != config.QueueTypeInMemory {
		q, err := queue.New(ctx, a.Config.Queue)
		if err != nil {
			return fmt.Errorf("failed to create queue: %w", err)
		}
		defer q.Close()
		pub = q
	}

	uploader, err := a.NewUploader(pub)
	if err != nil {
		return err
	}

	res, err := uploader.Upload(ctx, bundle.UploadRequest{
		Service:    service,
		Owner:      owner,
		Repo:       name,
		Commit:     commitSHA,
		BaseCommit: baseSHA,
		Data:       data,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Uploaded report %s for %s@%s (%d bundles, %s)\n",
		res.Record.ExternalID, res.Repository.Slug(), commitSHA, res.Bundles, units.HumanSize(float64(len(data))))
	return nil
}

// readUpload returns the report bytes named by exactly one of file and
// jsonPath.
func readUpload(file, jsonPath string) ([]byte, error) {
	switch {
	case file != "" && jsonPath != "":
		return nil, errors.New("only one of --file and --json may be set")
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read report file: %w", err)
		}
		return data, nil
	case jsonPath != "":
		raw, err := os.ReadFile(jsonPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read bundle list: %w", err)
		}
		var bundles []report.BundleInput
		if err := json.Unmarshal(raw, &bundles); err != nil {
			return nil, fmt.Errorf("failed to parse bundle list: %w", err)
		}
		data, err := report.Encode(bundles)
		if err != nil {
			return nil, fmt.Errorf("failed to encode report: %w", err)
		}
		return data, nil
	default:
		return nil, errors.New("one of --file or --json is required")
	}
}
