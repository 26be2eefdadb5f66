package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/oleg-kozlyuk-grafana/go-bundlediff/internal/format"
	"github.com/oleg-kozlyuk-grafana/go-bundlediff/internal/gitref"
	"github.com/oleg-kozlyuk-grafana/go-bundlediff/internal/local"
	"github.com/oleg-kozlyuk-grafana/go-bundlediff/internal/metadata"
)

var (
	compareRepo      string
	compareBase      string
	compareHead      string
	comparePull      int64
	compareFormat    string
	compareGitDir    string
	compareMergeBase bool

	compareBaseReport string
	compareHeadReport string

	filesFormat     string
	filesThroughput int64
)

var compareCmd = &cobra.Command{
	Use:   "compare",
	Short: "Compare the stored reports of two commits or of a pull",
	Long: `Compare loads the bundle analysis reports stored for the base and head
commits and prints the per-bundle changes.

With --git-dir, --base and --head may be any git revision (branch, tag,
HEAD~1) and are resolved to commit SHAs. --merge-base compares head against
the merge base of base and head instead of base itself.

--base-report and --head-report compare two uploads by report id instead of
by commit.`,
	Example: `  bundlediff compare --repo github/acme/web --base 1a2b3c --head 4d5e6f
  bundlediff compare --repo github/acme/web --pull 42 --format Markdown
  bundlediff compare --repo github/acme/web --git-dir . --base main --head HEAD --merge-base
  bundlediff compare --repo github/acme/web --base-report 5f0c... --head-report 9a1e...`,
	Args: cobra.NoArgs,
	RunE: runCompare,
}

var compareFilesCmd = &cobra.Command{
	Use:   "compare-files BASE HEAD",
	Short: "Compare two report files on disk",
	Long: `compare-files compares two bundle analysis report files without any
storage or metadata backend. A missing file is reported the same way as a
commit without a report.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		runner := local.NewRunner(local.Config{
			BasePath:   args[0],
			HeadPath:   args[1],
			Format:     filesFormat,
			Throughput: filesThroughput,
		}, local.WithOutput(cmd.OutOrStdout()))
		return runner.Run(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(compareCmd, compareFilesCmd)

	compareCmd.Flags().StringVar(&compareRepo, "repo", "", "Repository as service/owner/name (required)")
	compareCmd.Flags().StringVar(&compareBase, "base", "", "Base commit")
	compareCmd.Flags().StringVar(&compareHead, "head", "", "Head commit")
	compareCmd.Flags().Int64Var(&comparePull, "pull", 0, "Compare the commits recorded for this pull")
	compareCmd.Flags().StringVar(&compareFormat, "format", "Text", "Output format: Text, Markdown, JSON")
	compareCmd.Flags().StringVar(&compareGitDir, "git-dir", "", "Resolve --base and --head as git revisions in this working tree")
	compareCmd.Flags().BoolVar(&compareMergeBase, "merge-base", false, "Use the merge base of --base and --head as the base (requires --git-dir)")
	compareCmd.Flags().StringVar(&compareBaseReport, "base-report", "", "Base report id")
	compareCmd.Flags().StringVar(&compareHeadReport, "head-report", "", "Head report id")
	compareCmd.MarkFlagRequired("repo")
	compareCmd.MarkFlagsRequiredTogether("base-report", "head-report")
	for _, f := range []string{"base", "head", "pull", "git-dir"} {
		compareCmd.MarkFlagsMutuallyExclusive("base-report", f)
	}
	compareCmd.MarkFlagsMutuallyExclusive("pull", "base")
	compareCmd.MarkFlagsMutuallyExclusive("pull", "head")
	compareCmd.MarkFlagsMutuallyExclusive("pull", "git-dir")

	compareFilesCmd.Flags().StringVar(&filesFormat, "format", "Text", "Output format: Text, Markdown, JSON")
	compareFilesCmd.Flags().Int64Var(&filesThroughput, "throughput", 0, "Assumed download throughput in bytes per second")
}

func runCompare(cmd *cobra.Command, args []string) error {
	formatter, err := format.New(compareFormat)
	if err != nil {
		return err
	}
	service, owner, name, err := parseRepo(compareRepo)
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
		return fmt.Errorf("unknown repository: %s", compareRepo)
	}

	if compareBaseReport != "" {
		out, err := a.Comparer.CompareReports(ctx, repo, compareBaseReport, compareHeadReport)
		if err != nil {
			return fmt.Errorf("failed to compare reports %s..%s: %w", compareBaseReport, compareHeadReport, err)
		}
		return formatter.Format(&out, os.Stdout)
	}

	base, head, err := resolveCommits(ctx, a.Meta, repo)
	if err != nil {
		return err
	}

	out, err := a.Comparer.CompareCommits(ctx, repo, base, head)
	if err != nil {
		return fmt.Errorf("failed to compare %s..%s: %w", base, head, err)
	}

	return formatter.Format(&out, os.Stdout)
}

// resolveCommits returns the base and head commits selected by the flags.
func resolveCommits(ctx context.Context, meta metadata.Store, repo *metadata.Repository) (string, string, error) {
	if comparePull != 0 {
		pull, err := meta.GetPull(ctx, repo.ID, comparePull)
		if err != nil {
			return "", "", fmt.Errorf("failed to look up pull: %w", err)
		}
		if pull == nil {
			return "", "", fmt.Errorf("pull %d not found", comparePull)
		}
		return pull.BaseCommit, pull.HeadCommit, nil
	}

	if compareBase == "" || compareHead == "" {
		return "", "", errors.New("--base and --head are required unless --pull is set")
	}
	if compareGitDir == "" {
		if compareMergeBase {
			return "", "", errors.New("--merge-base requires --git-dir")
		}
		return compareBase, compareHead, nil
	}

	g := gitref.New(compareGitDir)
	head, err := g.ResolveCommit(ctx, compareHead)
	if err != nil {
		return "", "", fmt.Errorf("failed to resolve head: %w", err)
	}
	if compareMergeBase {
		base, err := g.MergeBase(ctx, compareBase, head)
		if err != nil {
			return "", "", fmt.Errorf("failed to find merge base: %w", err)
		}
		return base, head, nil
	}
	base, err := g.ResolveCommit(ctx, compareBase)
	if err != nil {
		return "", "", fmt.Errorf("failed to resolve base: %w", err)
	}
	return base, head, nil
}
