// Package cli exposes the synchronization engine as a command line tool.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/bkyoung/reviewsync/internal/domain"
	"github.com/bkyoung/reviewsync/internal/remote"
	"github.com/bkyoung/reviewsync/internal/usecase/cache"
)

// ErrVersionRequested indicates the user requested the CLI version and no further work should be done.
var ErrVersionRequested = errors.New("version requested")

// WorkspaceReader defines the dependency required to inspect the checkout.
type WorkspaceReader interface {
	Remotes(ctx context.Context) (map[string]*remote.Identity, error)
	PrimaryRemote(ctx context.Context) (*remote.Identity, error)
	CurrentBranch(ctx context.Context) (string, error)
}

// PullRequestSource defines the dependency required to run queries.
type PullRequestSource interface {
	Get(ctx context.Context, key cache.QueryKey, opts cache.GetOptions) (cache.ItemsResult, error)
}

// ThreadSource defines the dependency required to list review threads.
type ThreadSource interface {
	ListReviewThreads(ctx context.Context, number int) ([]*domain.ReviewThread, error)
}

// CheckSource defines the dependency required to decorate query results with
// their unsatisfied-checks state.
type CheckSource interface {
	FetchUnsatisfiedChecks(ctx context.Context, id *remote.Identity, number int) (domain.UnsatisfiedChecks, error)
}

// NotificationWatcher defines the dependency required to run the watch command.
type NotificationWatcher interface {
	StartPolling(ctx context.Context)
	StopPolling()
}

// Arguments encapsulates IO writers injected from the host process.
type Arguments struct {
	OutWriter io.Writer
	ErrWriter io.Writer
}

// Dependencies captures the collaborators for the CLI.
type Dependencies struct {
	Workspace    WorkspaceReader
	PullRequests PullRequestSource
	Threads      ThreadSource
	Checks       CheckSource
	Watcher      NotificationWatcher

	// CustomQueries are the configured search queries the query command runs
	// when invoked without arguments.
	CustomQueries []string

	Args    Arguments
	Version string
}

// NewRootCommand constructs the root Cobra command.
func NewRootCommand(deps Dependencies) *cobra.Command {
	versionString := deps.Version
	if versionString == "" {
		versionString = "v0.0.0"
	}

	root := &cobra.Command{
		Use:   "reviewsync",
		Short: "Pull request and review thread synchronization CLI",
	}
	root.SilenceUsage = true
	root.SilenceErrors = true

	outWriter := deps.Args.OutWriter
	if outWriter == nil {
		outWriter = os.Stdout
	}
	errWriter := deps.Args.ErrWriter
	if errWriter == nil {
		errWriter = os.Stderr
	}
	root.SetOut(outWriter)
	root.SetErr(errWriter)

	root.AddCommand(remotesCommand(deps.Workspace))
	root.AddCommand(queryCommand(deps.PullRequests, deps.Workspace, deps.Checks, deps.CustomQueries))
	root.AddCommand(threadsCommand(deps.Threads))
	root.AddCommand(watchCommand(deps.Watcher))

	var showVersion bool
	root.PersistentFlags().BoolVarP(&showVersion, "version", "v", false, "Show version and exit")
	versionHandler := func(cmd *cobra.Command, args []string) error {
		if showVersion {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), versionString)
			return ErrVersionRequested
		}
		return nil
	}
	root.PersistentPreRunE = versionHandler
	root.PreRunE = versionHandler
	root.RunE = func(cmd *cobra.Command, args []string) error {
		if err := versionHandler(cmd, args); err != nil {
			return err
		}
		return cmd.Help()
	}

	return root
}

func remotesCommand(workspace WorkspaceReader) *cobra.Command {
	return &cobra.Command{
		Use:   "remotes",
		Short: "List configured remotes in canonical form",
		RunE: func(cmd *cobra.Command, args []string) error {
			identities, err := workspace.Remotes(cmd.Context())
			if err != nil {
				return err
			}
			if len(identities) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "no remotes configured")
				return nil
			}

			names := make([]string, 0, len(identities))
			for name := range identities {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", name, identities[name].Normalize())
			}
			return nil
		},
	}
}

func queryCommand(source PullRequestSource, workspace WorkspaceReader, checks CheckSource, customQueries []string) *cobra.Command {
	var allOpen bool
	var branches bool
	var nextPage bool
	var force bool

	cmd := &cobra.Command{
		Use:   "query [text]",
		Short: "Run a pull request search query",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := cache.GetOptions{FetchNextPage: nextPage, ForceUpdate: force}

			var key cache.QueryKey
			switch {
			case allOpen:
				key = cache.AllOpenQuery()
			case branches:
				branch, err := workspace.CurrentBranch(cmd.Context())
				if err != nil {
					return fmt.Errorf("detect current branch: %w", err)
				}
				key = cache.LocalBranchesQuery("head:" + branch)
			case len(args) > 0:
				key = cache.LiteralQuery(args[0])
			default:
				if len(customQueries) == 0 {
					return fmt.Errorf("query text not specified; pass as an argument, use --all/--branches, or configure queries.custom")
				}
				for _, text := range customQueries {
					_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\n", text)
					if err := printQueryResults(cmd, source, checks, cache.LiteralQuery(text), opts); err != nil {
						return err
					}
				}
				return nil
			}

			return printQueryResults(cmd, source, checks, key, opts)
		},
	}

	cmd.Flags().BoolVar(&allOpen, "all", false, "List all open pull requests of the repository")
	cmd.Flags().BoolVar(&branches, "branches", false, "List pull requests whose head is the checked-out branch")
	cmd.Flags().BoolVar(&nextPage, "next", false, "Fetch the next page of a previous query")
	cmd.Flags().BoolVar(&force, "force", false, "Bypass the cache and refetch")

	return cmd
}

func printQueryResults(cmd *cobra.Command, source PullRequestSource, checks CheckSource, key cache.QueryKey, opts cache.GetOptions) error {
	result, err := source.Get(cmd.Context(), key, opts)
	if err != nil {
		return err
	}

	width := outputWidth()
	titler := cases.Title(language.English)
	for _, pr := range result.Items {
		state := titler.String(string(pr.State))
		line := fmt.Sprintf("#%d\t%s\t%s\tby %s", pr.Number, state, pr.Title, pr.Author)
		if decoration := fetchDecoration(cmd.Context(), checks, pr); decoration != domain.DecorationNone {
			line += fmt.Sprintf("\t[%s]", decoration)
		}
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), truncate(line, width))
	}
	if result.HasMorePages {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), "(more results available, rerun with --next)")
	}
	return nil
}

// fetchDecoration resolves the unsatisfied-checks label for one result row.
// Probe failures degrade to an undecorated row, never to a failed listing.
func fetchDecoration(ctx context.Context, checks CheckSource, pr *domain.PullRequest) domain.Decoration {
	if checks == nil || pr.Kind != domain.KindPullRequest || pr.State != domain.PRStateOpen {
		return domain.DecorationNone
	}
	id, err := remote.Parse(pr.RemoteURL)
	if err != nil {
		return domain.DecorationNone
	}
	unsatisfied, err := checks.FetchUnsatisfiedChecks(ctx, id, pr.Number)
	if err != nil {
		return domain.DecorationNone
	}
	return unsatisfied.Decoration()
}

func threadsCommand(source ThreadSource) *cobra.Command {
	return &cobra.Command{
		Use:   "threads <number>",
		Short: "List review threads of a pull request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var number int
			if _, err := fmt.Sscanf(args[0], "%d", &number); err != nil || number <= 0 {
				return fmt.Errorf("invalid pull request number %q", args[0])
			}

			threads, err := source.ListReviewThreads(cmd.Context(), number)
			if err != nil {
				return err
			}

			titler := cases.Title(language.English)
			for _, t := range threads {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s:%d [%s] %s (%d comments)\n",
					t.Path, t.Line, titler.String(string(t.State)), t.ID, len(t.Comments))
			}
			if len(threads) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "no review threads")
			}
			return nil
		},
	}
}

func watchCommand(watcher NotificationWatcher) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Poll the notification feed until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			if watcher == nil {
				return fmt.Errorf("notification polling is disabled")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			watcher.StartPolling(ctx)
			defer watcher.StopPolling()

			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "watching notifications, press Ctrl-C to stop")
			<-ctx.Done()
			return nil
		},
	}
}

// outputWidth returns the terminal width when stdout is a terminal, zero
// otherwise. Zero disables truncation so piped output stays complete.
func outputWidth() int {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return 0
	}
	width, _, err := term.GetSize(fd)
	if err != nil {
		return 0
	}
	return width
}

func truncate(s string, width int) string {
	if width <= 3 || len(s) <= width {
		return s
	}
	return s[:width-3] + "..."
}
