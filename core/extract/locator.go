package extract

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/huangsam/orgpulse/internal/contract"
	"github.com/sirupsen/logrus"
)

// Locator identifies a repository to extract.
type Locator struct {
	Raw        string // as given, or the absolute path for local directories
	ProjectKey string
	Slug       string
	Local      bool
}

// ParseLocator accepts clone URLs (https, ssh, scp-style) and local directory paths.
// The project key and slug are the last two path segments with any .git suffix removed.
func ParseLocator(raw string) (Locator, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Locator{}, fmt.Errorf("empty repository locator")
	}

	if info, err := os.Stat(raw); err == nil && info.IsDir() {
		abs, err := filepath.Abs(raw)
		if err != nil {
			return Locator{}, err
		}
		loc := Locator{Raw: abs, Local: true}
		loc.ProjectKey, loc.Slug = lastTwo(filepath.ToSlash(abs))
		return loc, nil
	}

	var repoPath string
	switch {
	case strings.Contains(raw, "://"):
		u, err := url.Parse(raw)
		if err != nil {
			return Locator{}, fmt.Errorf("invalid repository url %q: %w", raw, err)
		}
		repoPath = u.Path
	case strings.Contains(raw, ":") && !strings.HasPrefix(raw, "/"):
		// scp-style: user@host:project/repo.git
		repoPath = raw[strings.Index(raw, ":")+1:]
	default:
		return Locator{}, fmt.Errorf("repository %q is neither a clone url nor an existing directory", raw)
	}

	loc := Locator{Raw: raw}
	loc.ProjectKey, loc.Slug = lastTwo(repoPath)
	if loc.Slug == "" {
		return Locator{}, fmt.Errorf("repository url %q has no repository path", raw)
	}
	return loc, nil
}

func lastTwo(p string) (project, slug string) {
	var parts []string
	for _, s := range strings.Split(p, "/") {
		if s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		return "", ""
	}
	slug = strings.TrimSuffix(parts[len(parts)-1], ".git")
	if len(parts) > 1 {
		project = parts[len(parts)-2]
	}
	return project, slug
}

// workArea is the directory history is read from and how to release it.
type workArea struct {
	dir     string
	cleanup func()
}

// acquire clones remote locators into a fresh directory under workDir.
// Local directories are used in place and never removed. The returned cleanup
// removes the clone unless keep is set, and is safe to call on every exit path.
func acquire(ctx context.Context, git contract.GitClient, loc Locator, workDir string, keep bool, log logrus.FieldLogger) (workArea, error) {
	if loc.Local {
		return workArea{dir: loc.Raw, cleanup: func() {}}, nil
	}
	tmp, err := os.MkdirTemp(workDir, "orgpulse-"+loc.Slug+"-")
	if err != nil {
		return workArea{}, fmt.Errorf("failed to create work area: %w", err)
	}
	release := func() {
		if keep {
			log.WithField("dir", tmp).Info("Keeping work area")
			return
		}
		if err := os.RemoveAll(tmp); err != nil {
			log.WithError(err).WithField("dir", tmp).Warn("Failed to remove work area")
		}
	}
	dest := filepath.Join(tmp, loc.Slug+".git")
	if err := git.Clone(ctx, loc.Raw, dest); err != nil {
		release()
		return workArea{}, fmt.Errorf("failed to clone %s: %w", loc.Raw, err)
	}
	return workArea{dir: dest, cleanup: release}, nil
}
