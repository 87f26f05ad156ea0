// Package git discovers repository identity from the local working copy.
package git

import (
	"context"
	"fmt"

	goGit "github.com/go-git/go-git/v5"

	"github.com/bkyoung/reviewsync/internal/adapter/observability"
	"github.com/bkyoung/reviewsync/internal/remote"
)

// Workspace reads remotes and branch state from a checkout backed by go-git.
type Workspace struct {
	repoDir string
	logger  observability.Logger
}

// NewWorkspace constructs a workspace reader for the provided directory. The
// directory may be anywhere inside the checkout; the .git directory is
// detected upward.
func NewWorkspace(repoDir string, logger observability.Logger) *Workspace {
	if logger == nil {
		logger = observability.NopLogger{}
	}
	return &Workspace{repoDir: repoDir, logger: logger}
}

// Remotes returns the parsed identities of all configured remotes, keyed by
// remote name. Remotes whose URL cannot be parsed are skipped.
func (w *Workspace) Remotes(ctx context.Context) (map[string]*remote.Identity, error) {
	repo, err := goGit.PlainOpenWithOptions(w.repoDir, &goGit.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	remotes, err := repo.Remotes()
	if err != nil {
		return nil, fmt.Errorf("list remotes: %w", err)
	}

	identities := make(map[string]*remote.Identity, len(remotes))
	for _, r := range remotes {
		cfg := r.Config()
		if len(cfg.URLs) == 0 {
			continue
		}
		id, err := remote.Parse(cfg.URLs[0])
		if err != nil || id.Normalize() == "" {
			w.logger.LogWarning(ctx, "skipping unparsable remote", map[string]interface{}{
				"remote": cfg.Name,
				"url":    cfg.URLs[0],
			})
			continue
		}
		identities[cfg.Name] = id
	}
	return identities, nil
}

// PrimaryRemote picks the remote to synchronize against: origin when present,
// otherwise the upstream remote, otherwise any single configured remote.
func (w *Workspace) PrimaryRemote(ctx context.Context) (*remote.Identity, error) {
	identities, err := w.Remotes(ctx)
	if err != nil {
		return nil, err
	}
	if id, ok := identities["origin"]; ok {
		return id, nil
	}
	if id, ok := identities["upstream"]; ok {
		return id, nil
	}
	for _, id := range identities {
		return id, nil
	}
	return nil, fmt.Errorf("no usable remote configured in %s", w.repoDir)
}

// CurrentBranch returns the name of the checked-out branch.
func (w *Workspace) CurrentBranch(ctx context.Context) (string, error) {
	repo, err := goGit.PlainOpenWithOptions(w.repoDir, &goGit.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return "", fmt.Errorf("open repo: %w", err)
	}
	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("resolve HEAD: %w", err)
	}
	name := head.Name()
	if name.IsBranch() {
		return name.Short(), nil
	}
	return "", fmt.Errorf("detached HEAD")
}
