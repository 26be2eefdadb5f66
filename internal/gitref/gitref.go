// Package gitref resolves git references to commit SHAs for the CLI.
package gitref

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Repo runs git commands against a working tree.
type Repo struct {
	// WorkDir is the directory to run git commands in.
	// If empty, uses the current working directory.
	WorkDir string
}

// New creates a Repo for the specified working directory.
func New(workDir string) *Repo {
	return &Repo{WorkDir: workDir}
}

// ResolveCommit returns the full SHA of ref (branch, tag, short SHA or
// expression such as HEAD~1).
func (r *Repo) ResolveCommit(ctx context.Context, ref string) (string, error) {
	if ref == "" {
		return "", fmt.Errorf("ref is required")
	}
	return r.run(ctx, "rev-parse", "--verify", "--quiet", ref+"^{commit}")
}

// MergeBase returns the best common ancestor of a and b. This is the base
// a pull request from b into a is compared against.
func (r *Repo) MergeBase(ctx context.Context, a, b string) (string, error) {
	if a == "" || b == "" {
		return "", fmt.Errorf("both refs are required")
	}
	return r.run(ctx, "merge-base", a, b)
}

func (r *Repo) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	if r.WorkDir != "" {
		cmd.Dir = r.WorkDir
	}

	output, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("git %s failed: %s", args[0], strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", err
	}

	sha := strings.TrimSpace(string(output))
	if sha == "" {
		return "", fmt.Errorf("git %s returned no commit", args[0])
	}
	return sha, nil
}
