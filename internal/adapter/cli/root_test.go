package cli

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bkyoung/reviewsync/internal/domain"
	"github.com/bkyoung/reviewsync/internal/remote"
	"github.com/bkyoung/reviewsync/internal/usecase/cache"
)

type fakeWorkspace struct {
	remotes map[string]*remote.Identity
	err     error
}

func (f *fakeWorkspace) Remotes(ctx context.Context) (map[string]*remote.Identity, error) {
	return f.remotes, f.err
}

func (f *fakeWorkspace) PrimaryRemote(ctx context.Context) (*remote.Identity, error) {
	for _, id := range f.remotes {
		return id, nil
	}
	return nil, fmt.Errorf("no remotes")
}

func (f *fakeWorkspace) CurrentBranch(ctx context.Context) (string, error) {
	return "main", nil
}

type fakeSource struct {
	keys     []cache.QueryKey
	lastKey  cache.QueryKey
	lastOpts cache.GetOptions
	result   cache.ItemsResult
	err      error
}

func (f *fakeSource) Get(ctx context.Context, key cache.QueryKey, opts cache.GetOptions) (cache.ItemsResult, error) {
	f.keys = append(f.keys, key)
	f.lastKey = key
	f.lastOpts = opts
	return f.result, f.err
}

type fakeChecks struct {
	checks  domain.UnsatisfiedChecks
	err     error
	numbers []int
}

func (f *fakeChecks) FetchUnsatisfiedChecks(ctx context.Context, id *remote.Identity, number int) (domain.UnsatisfiedChecks, error) {
	f.numbers = append(f.numbers, number)
	return f.checks, f.err
}

type fakeThreads struct {
	threads []*domain.ReviewThread
	number  int
}

func (f *fakeThreads) ListReviewThreads(ctx context.Context, number int) ([]*domain.ReviewThread, error) {
	f.number = number
	return f.threads, nil
}

func execute(t *testing.T, deps Dependencies, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	deps.Args = Arguments{OutWriter: &out, ErrWriter: &errOut}
	root := NewRootCommand(deps)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), errOut.String(), err
}

func mustParse(t *testing.T, raw string) *remote.Identity {
	t.Helper()
	id, err := remote.Parse(raw)
	require.NoError(t, err)
	return id
}

func TestVersionFlag(t *testing.T) {
	out, _, err := execute(t, Dependencies{Version: "v1.2.3"}, "--version")
	assert.ErrorIs(t, err, ErrVersionRequested)
	assert.Contains(t, out, "v1.2.3")
}

func TestRemotesCommand(t *testing.T) {
	workspace := &fakeWorkspace{remotes: map[string]*remote.Identity{
		"origin":   mustParse(t, "git@github.com:octo/demo.git"),
		"upstream": mustParse(t, "https://github.com/upstream-org/demo"),
	}}

	out, _, err := execute(t, Dependencies{Workspace: workspace}, "remotes")
	require.NoError(t, err)
	assert.Contains(t, out, "origin\thttps://github.com/octo/demo")
	assert.Contains(t, out, "upstream\thttps://github.com/upstream-org/demo")
}

func TestRemotesCommandEmpty(t *testing.T) {
	out, _, err := execute(t, Dependencies{Workspace: &fakeWorkspace{}}, "remotes")
	require.NoError(t, err)
	assert.Contains(t, out, "no remotes configured")
}

func TestQueryCommandLiteral(t *testing.T) {
	pr := domain.NewPullRequest("https://github.com/octo/demo", 12)
	pr.Title = "Add widgets"
	pr.Author = "alice"
	pr.State = domain.PRStateOpen
	pr.UpdatedAt = time.Unix(0, 0)

	source := &fakeSource{result: cache.ItemsResult{Items: []*domain.PullRequest{pr}}}
	out, _, err := execute(t, Dependencies{PullRequests: source}, "query", "is:pr author:alice")
	require.NoError(t, err)

	assert.Equal(t, cache.LiteralQuery("is:pr author:alice"), source.lastKey)
	assert.Contains(t, out, "#12")
	assert.Contains(t, out, "Open")
	assert.Contains(t, out, "Add widgets")
}

func TestQueryCommandAllOpen(t *testing.T) {
	source := &fakeSource{}
	_, _, err := execute(t, Dependencies{PullRequests: source}, "query", "--all", "--force")
	require.NoError(t, err)

	assert.Equal(t, cache.AllOpenQuery(), source.lastKey)
	assert.True(t, source.lastOpts.ForceUpdate)
}

func TestQueryCommandBranches(t *testing.T) {
	source := &fakeSource{}
	workspace := &fakeWorkspace{}
	_, _, err := execute(t, Dependencies{PullRequests: source, Workspace: workspace}, "query", "--branches")
	require.NoError(t, err)

	assert.Equal(t, cache.LocalBranchesQuery("head:main"), source.lastKey)
}

func TestQueryCommandNextPageHint(t *testing.T) {
	source := &fakeSource{result: cache.ItemsResult{HasMorePages: true}}
	out, _, err := execute(t, Dependencies{PullRequests: source}, "query", "--all")
	require.NoError(t, err)
	assert.Contains(t, out, "--next")
}

func TestQueryCommandRequiresText(t *testing.T) {
	_, _, err := execute(t, Dependencies{PullRequests: &fakeSource{}}, "query")
	assert.Error(t, err)
}

func TestQueryCommandRunsConfiguredQueries(t *testing.T) {
	source := &fakeSource{}
	deps := Dependencies{
		PullRequests:  source,
		CustomQueries: []string{"is:pr author:${user}", "is:pr review-requested:${user}"},
	}

	out, _, err := execute(t, deps, "query")
	require.NoError(t, err)

	require.Len(t, source.keys, 2)
	assert.Equal(t, cache.LiteralQuery("is:pr author:${user}"), source.keys[0])
	assert.Equal(t, cache.LiteralQuery("is:pr review-requested:${user}"), source.keys[1])
	assert.Contains(t, out, "is:pr author:${user}")
}

func TestQueryCommandDecoratesOpenRows(t *testing.T) {
	pr := domain.NewPullRequest("https://github.com/octo/demo", 12)
	pr.Title = "Add widgets"
	pr.Author = "alice"
	pr.State = domain.PRStateOpen

	merged := domain.NewPullRequest("https://github.com/octo/demo", 9)
	merged.Title = "Old work"
	merged.Author = "bob"
	merged.State = domain.PRStateMerged

	source := &fakeSource{result: cache.ItemsResult{Items: []*domain.PullRequest{pr, merged}}}
	checks := &fakeChecks{checks: domain.CheckCIFailed | domain.CheckReviewRequired}

	out, _, err := execute(t, Dependencies{PullRequests: source, Checks: checks}, "query", "is:pr")
	require.NoError(t, err)

	assert.Contains(t, out, "#12")
	assert.Contains(t, out, "[failing]", "tie-break picks failing over review required")
	assert.Equal(t, []int{12}, checks.numbers, "only open pull requests are probed")
}

func TestQueryCommandCheckProbeFailureDegrades(t *testing.T) {
	pr := domain.NewPullRequest("https://github.com/octo/demo", 12)
	pr.State = domain.PRStateOpen

	source := &fakeSource{result: cache.ItemsResult{Items: []*domain.PullRequest{pr}}}
	checks := &fakeChecks{err: fmt.Errorf("boom")}

	out, _, err := execute(t, Dependencies{PullRequests: source, Checks: checks}, "query", "is:pr")
	require.NoError(t, err)
	assert.Contains(t, out, "#12")
	assert.NotContains(t, out, "[")
}

func TestThreadsCommand(t *testing.T) {
	threads := &fakeThreads{threads: []*domain.ReviewThread{
		{
			ID:       "RT_abc",
			PRNumber: 7,
			Path:     "src/main.go",
			Line:     14,
			Side:     domain.SideRight,
			State:    domain.ThreadOpen,
			Comments: []*domain.Comment{{ID: 1, Body: "hm"}},
		},
	}}

	out, _, err := execute(t, Dependencies{Threads: threads}, "threads", "7")
	require.NoError(t, err)
	assert.Equal(t, 7, threads.number)
	assert.Contains(t, out, "src/main.go:14")
	assert.Contains(t, out, "RT_abc")
}

func TestThreadsCommandRejectsBadNumber(t *testing.T) {
	_, _, err := execute(t, Dependencies{Threads: &fakeThreads{}}, "threads", "abc")
	assert.Error(t, err)
}

func TestWatchCommandWithoutWatcher(t *testing.T) {
	_, _, err := execute(t, Dependencies{}, "watch")
	assert.Error(t, err)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 80))
	assert.Equal(t, "abcde", truncate("abcde", 0))
	assert.Equal(t, "ab...", truncate("abcdefgh", 5))
}
