package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/bkyoung/reviewsync/internal/adapter/cli"
	"github.com/bkyoung/reviewsync/internal/adapter/git"
	githubadapter "github.com/bkyoung/reviewsync/internal/adapter/github"
	"github.com/bkyoung/reviewsync/internal/adapter/observability"
	"github.com/bkyoung/reviewsync/internal/adapter/store/sqlite"
	"github.com/bkyoung/reviewsync/internal/config"
	"github.com/bkyoung/reviewsync/internal/remote"
	"github.com/bkyoung/reviewsync/internal/usecase/cache"
	"github.com/bkyoung/reviewsync/internal/usecase/notify"
	"github.com/bkyoung/reviewsync/internal/version"
)

func main() {
	if err := run(); err != nil {
		log.Println(err)
		os.Exit(1)
	}
}

func run() error {
	// Cancellable context with signal handling for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(config.LoaderOptions{
		ConfigPaths: defaultConfigPaths(),
		FileName:    "reviewsync",
		EnvPrefix:   "REVIEWSYNC",
	})
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}

	logger := buildLogger(cfg.Observability.Logging)

	repoDir := cfg.Git.RepositoryDir
	if repoDir == "" {
		repoDir = "."
	}
	workspace := git.NewWorkspace(repoDir, logger)

	// The primary remote scopes the repository-bound operations. Its absence
	// is not fatal: literal queries against other repositories still work.
	primary, err := workspace.PrimaryRemote(ctx)
	if err != nil {
		logger.LogWarning(ctx, "no usable remote in workspace", map[string]interface{}{
			"dir": repoDir, "error": err.Error(),
		})
		primary = nil
	}

	client, err := githubadapter.NewClient(githubadapter.Config{
		Token:       cfg.GitHub.Token,
		RESTBaseURL: cfg.GitHub.APIBaseURL,
		GraphQLURL:  cfg.GitHub.GraphQLURL,
		Repo:        primary,
	})
	if err != nil {
		return fmt.Errorf("github client setup failed: %w", err)
	}

	// Session state store. Failures degrade to a fresh session rather than
	// aborting startup.
	var sessionStore *sqlite.Store
	if cfg.Store.Enabled {
		storeDir := filepath.Dir(cfg.Store.Path)
		if err := os.MkdirAll(storeDir, 0o755); err != nil {
			logger.LogWarning(ctx, "failed to create store directory", map[string]interface{}{
				"dir": storeDir, "error": err.Error(),
			})
		} else if sessionStore, err = sqlite.NewStore(cfg.Store.Path); err != nil {
			logger.LogWarning(ctx, "failed to initialize store", map[string]interface{}{
				"path": cfg.Store.Path, "error": err.Error(),
			})
			sessionStore = nil
		} else {
			defer sessionStore.Close()
		}
	}

	prCache := cache.New(repoDir, primary, cfg.GitHub.User, client, logger)
	if sessionStore != nil && primary != nil {
		if snapshots, err := sessionStore.QuerySnapshots(ctx, primary.Normalize()); err != nil {
			logger.LogWarning(ctx, "failed to restore query snapshots", map[string]interface{}{
				"error": err.Error(),
			})
		} else {
			prCache.Seed(snapshots)
		}
	}

	var poller *notify.Poller
	if cfg.Notifications.Enabled {
		poller = notify.New(client, func(u notify.Update) {
			handleNotificationUpdate(ctx, u, prCache, poller, sessionStore, primary, logger)
		}, logger)
		restorePollerState(ctx, poller, sessionStore, primary, logger)
		if interval, err := time.ParseDuration(cfg.Notifications.Interval); err == nil {
			poller.SetInterval(interval)
		}
	}

	deps := cli.Dependencies{
		Workspace:     workspace,
		PullRequests:  prCache,
		Threads:       client,
		Checks:        client,
		CustomQueries: cfg.Queries.Custom,
		Version:       version.Value(),
	}
	if poller != nil {
		deps.Watcher = poller
	}
	root := cli.NewRootCommand(deps)

	execErr := root.ExecuteContext(ctx)

	if sessionStore != nil && primary != nil {
		if err := sessionStore.SaveQuerySnapshots(ctx, primary.Normalize(), prCache.Snapshot()); err != nil {
			logger.LogWarning(ctx, "failed to persist query snapshots", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	if execErr != nil {
		if errors.Is(execErr, cli.ErrVersionRequested) {
			return nil
		}
		return fmt.Errorf("command failed: %w", execErr)
	}
	return nil
}

// handleNotificationUpdate invalidates the query cache on every delta, hard
// for pull requests that left the open state, and persists the poller state
// so a restarted session does not re-report.
func handleNotificationUpdate(ctx context.Context, u notify.Update, prCache *cache.Cache, poller *notify.Poller, sessionStore *sqlite.Store, primary *remote.Identity, logger observability.Logger) {
	if u.Cleared {
		return
	}

	for _, pr := range u.Closed {
		logger.LogInfo(ctx, "pull request left open state", map[string]interface{}{
			"key": pr.Key(), "state": string(pr.State),
		})
		prCache.InvalidatePullRequest(pr)
	}
	for _, st := range u.Statuses {
		logger.LogInfo(ctx, "pull request status changed", map[string]interface{}{
			"key": st.PullRequest.Key(), "decoration": string(st.Unsatisfied.Decoration()),
		})
	}
	if len(u.ChangedKeys) > 0 {
		logger.LogInfo(ctx, "pull requests changed", map[string]interface{}{
			"keys": u.ChangedKeys,
		})
		prCache.InvalidateAll()
	}

	if sessionStore == nil || primary == nil {
		return
	}
	lastModified, tracked := poller.State()
	if err := sessionStore.SavePollState(ctx, primary.Normalize(), lastModified); err != nil {
		logger.LogWarning(ctx, "failed to persist poll state", map[string]interface{}{
			"error": err.Error(),
		})
	}
	if err := sessionStore.SaveSeenPullRequests(ctx, tracked); err != nil {
		logger.LogWarning(ctx, "failed to persist seen pull requests", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

func restorePollerState(ctx context.Context, poller *notify.Poller, sessionStore *sqlite.Store, primary *remote.Identity, logger observability.Logger) {
	if sessionStore == nil || primary == nil {
		return
	}
	lastModified, err := sessionStore.PollState(ctx, primary.Normalize())
	if err != nil {
		logger.LogWarning(ctx, "failed to restore poll state", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	tracked, err := sessionStore.SeenPullRequests(ctx)
	if err != nil {
		logger.LogWarning(ctx, "failed to restore seen pull requests", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	poller.RestoreState(lastModified, tracked)
}

func buildLogger(cfg config.LoggingConfig) observability.Logger {
	return observability.NewDefaultLogger(
		observability.ParseLevel(cfg.Level),
		observability.ParseFormat(cfg.Format),
	)
}

func defaultConfigPaths() []string {
	paths := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "reviewsync"))
	}
	return paths
}
