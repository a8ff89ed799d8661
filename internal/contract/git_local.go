package contract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// Separators used in the log format so that free-text messages cannot break parsing.
const (
	LogRecordStart = "\x1e" // precedes every commit header
	LogFieldSep    = "\x1f" // separates header fields
	LogHeaderEnd   = "\x1d" // terminates the message body; the patch follows
)

// LogFormat is the pretty format paired with the separators above:
// hash, parents, author name, author email, committer name, committer email, author date, body.
const LogFormat = "--format=%x1e%H%x1f%P%x1f%an%x1f%ae%x1f%cn%x1f%ce%x1f%aI%x1f%B%x1d"

// LocalGitClient implements the GitClient interface by executing the
// local 'git' binary installed on the machine.
type LocalGitClient struct{}

var _ GitClient = &LocalGitClient{} // Compile-time check

// NewLocalGitClient creates a new instance of the local Git client.
func NewLocalGitClient() *LocalGitClient {
	return &LocalGitClient{}
}

func (c *LocalGitClient) command(ctx context.Context, repoPath string, args ...string) *exec.Cmd {
	fullArgs := []string{"-c", "core.quotepath=off"}
	if repoPath != "" {
		fullArgs = append(fullArgs, "-C", repoPath)
	}
	fullArgs = append(fullArgs, args...)
	cmd := exec.CommandContext(ctx, "git", fullArgs...)
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0", "LC_ALL=C")
	return cmd
}

// Run executes a git command and returns its stdout output.
func (c *LocalGitClient) Run(ctx context.Context, repoPath string, args ...string) ([]byte, error) {
	out, err := c.command(ctx, repoPath, args...).Output()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		stderr := strings.TrimSpace(string(exitErr.Stderr))
		return nil, fmt.Errorf("git %s failed in %q: %s", args[0], repoPath, stderr)
	} else if err != nil {
		return nil, fmt.Errorf("git command failed: %w. Ensure Git is installed and available on your PATH", err)
	}
	return out, nil
}

// Clone implements the GitClient interface.
func (c *LocalGitClient) Clone(ctx context.Context, locator, dest string) error {
	_, err := c.Run(ctx, "", "clone", "--bare", "--quiet", locator, dest)
	return err
}

// ResolveRef implements the GitClient interface.
func (c *LocalGitClient) ResolveRef(ctx context.Context, repoPath, ref string) (string, error) {
	out, err := c.Run(ctx, repoPath, "rev-parse", "--abbrev-ref", ref)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// StreamLog implements the GitClient interface.
// Merge commits are diffed against their first parent; root commits show as additions.
func (c *LocalGitClient) StreamLog(ctx context.Context, repoPath, ref string, fn func(r io.Reader) error) error {
	cmd := c.command(ctx, repoPath,
		"log", ref,
		"--no-color",
		"--no-ext-diff",
		"--diff-merges=first-parent",
		"--patch",
		"--unified=0",
		LogFormat,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("git log pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("git log start: %w", err)
	}
	if fnErr := fn(stdout); fnErr != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return fnErr
	}
	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("git log failed in %q: %s", repoPath, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// CountCommits implements the GitClient interface.
func (c *LocalGitClient) CountCommits(ctx context.Context, repoPath, exclude, include string) (int64, error) {
	out, err := c.Run(ctx, repoPath, "rev-list", "--count", include, "^"+exclude)
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(strings.TrimSpace(string(out)), 10, 64)
}
