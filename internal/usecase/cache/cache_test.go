package cache

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bkyoung/reviewsync/internal/domain"
	"github.com/bkyoung/reviewsync/internal/remote"
)

type fakeClient struct {
	result     FetchResult
	nextPage   FetchResult
	fetchErr   error
	maxNumber  int
	maxErr     error
	fetchCalls int
	maxCalls   int
	lastQuery  string
	lastPage   int
}

func (f *fakeClient) FetchPullRequests(ctx context.Context, query string, page int) (FetchResult, error) {
	f.fetchCalls++
	f.lastQuery = query
	f.lastPage = page
	if f.fetchErr != nil {
		return FetchResult{}, f.fetchErr
	}
	if page > 1 {
		return f.nextPage, nil
	}
	return f.result, nil
}

func (f *fakeClient) FetchMaxPullRequestNumber(ctx context.Context, id *remote.Identity) (int, error) {
	f.maxCalls++
	if f.maxErr != nil {
		return 0, f.maxErr
	}
	return f.maxNumber, nil
}

func testRepo(t *testing.T) *remote.Identity {
	t.Helper()
	id, err := remote.Parse("https://github.com/octo/demo")
	require.NoError(t, err)
	return id
}

func pr(number int) *domain.PullRequest {
	return domain.NewPullRequest("https://github.com/octo/demo", number)
}

func TestGetColdThenWarm(t *testing.T) {
	client := &fakeClient{result: FetchResult{Items: []*domain.PullRequest{pr(1), pr(2)}}}
	c := New("/work/demo", testRepo(t), "alice", client, nil)
	key := LiteralQuery("is:pr is:open repo:octo/demo")

	first, err := c.Get(context.Background(), key, GetOptions{})
	require.NoError(t, err)
	assert.Len(t, first.Items, 2)
	assert.Equal(t, 1, client.fetchCalls)

	second, err := c.Get(context.Background(), key, GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, client.fetchCalls, "warm hit must not refetch")
	assert.Equal(t, 0, client.maxCalls)
	assert.Same(t, first.Items[0], second.Items[0])
}

func TestSoftInvalidationUnchangedMax(t *testing.T) {
	client := &fakeClient{
		result:    FetchResult{Items: []*domain.PullRequest{pr(3), pr(7)}},
		maxNumber: 7,
	}
	c := New("/work/demo", testRepo(t), "alice", client, nil)
	key := LiteralQuery("is:pr author:${user} repo:octo/demo")

	first, err := c.Get(context.Background(), key, GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "is:pr author:alice repo:octo/demo", client.lastQuery)

	c.Invalidate(key)

	second, err := c.Get(context.Background(), key, GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, client.fetchCalls, "unchanged max must avoid full refetch")
	assert.Equal(t, 1, client.maxCalls, "exactly one cheap max probe")
	assert.Same(t, first.Items[0], second.Items[0])
	assert.Same(t, first.Items[1], second.Items[1])

	// clearRequested was reset: the next read is a plain hit.
	_, err = c.Get(context.Background(), key, GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, client.maxCalls)
}

func TestSoftInvalidationChangedMax(t *testing.T) {
	client := &fakeClient{
		result:    FetchResult{Items: []*domain.PullRequest{pr(3)}},
		maxNumber: 3,
	}
	c := New("/work/demo", testRepo(t), "alice", client, nil)
	key := LiteralQuery("is:pr repo:octo/demo")

	_, err := c.Get(context.Background(), key, GetOptions{})
	require.NoError(t, err)

	// A new pull request appeared upstream.
	client.maxNumber = 4
	client.result = FetchResult{Items: []*domain.PullRequest{pr(3), pr(4)}}
	c.Invalidate(key)

	got, err := c.Get(context.Background(), key, GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, client.fetchCalls, "changed max forces a full refetch")
	assert.Len(t, got.Items, 2)
}

func TestSoftInvalidationWithoutRepoTokenIsAlwaysStale(t *testing.T) {
	client := &fakeClient{result: FetchResult{Items: []*domain.PullRequest{pr(1)}}}
	c := New("/work/demo", testRepo(t), "alice", client, nil)
	key := LiteralQuery("is:pr author:alice")

	_, err := c.Get(context.Background(), key, GetOptions{})
	require.NoError(t, err)

	c.Invalidate(key)

	_, err = c.Get(context.Background(), key, GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, client.maxCalls, "no repo filter means no cheap validation")
	assert.Equal(t, 2, client.fetchCalls, "query without repo token refetches")
}

func TestHardInvalidation(t *testing.T) {
	closed := pr(5)
	client := &fakeClient{result: FetchResult{Items: []*domain.PullRequest{pr(4), closed}}}
	c := New("/work/demo", testRepo(t), "alice", client, nil)
	key := LiteralQuery("is:pr is:open repo:octo/demo")

	_, err := c.Get(context.Background(), key, GetOptions{})
	require.NoError(t, err)

	// The pull request was merged upstream; the remote no longer returns it.
	closed.State = domain.PRStateMerged
	client.result = FetchResult{Items: []*domain.PullRequest{pr(4)}}
	c.InvalidatePullRequest(closed)

	got, err := c.Get(context.Background(), key, GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, client.fetchCalls, "hard invalidation drops the entry outright")
	for _, item := range got.Items {
		assert.NotEqual(t, closed.Key(), item.Key())
	}
}

func TestFetchNextPageAppends(t *testing.T) {
	client := &fakeClient{
		result:   FetchResult{Items: []*domain.PullRequest{pr(1), pr(2)}, HasMorePages: true},
		nextPage: FetchResult{Items: []*domain.PullRequest{pr(3)}},
	}
	c := New("/work/demo", testRepo(t), "alice", client, nil)
	key := LiteralQuery("is:pr repo:octo/demo")

	first, err := c.Get(context.Background(), key, GetOptions{})
	require.NoError(t, err)
	require.True(t, first.HasMorePages)

	got, err := c.Get(context.Background(), key, GetOptions{FetchNextPage: true})
	require.NoError(t, err)
	assert.Equal(t, 2, client.lastPage)
	require.Len(t, got.Items, 3)
	assert.Same(t, first.Items[0], got.Items[0], "already-rendered rows keep identity")
	assert.Same(t, first.Items[1], got.Items[1])
	assert.False(t, got.HasMorePages)
}

func TestFetchFailureLeavesStaleEntry(t *testing.T) {
	client := &fakeClient{result: FetchResult{Items: []*domain.PullRequest{pr(1)}}}
	c := New("/work/demo", testRepo(t), "alice", client, nil)
	key := LiteralQuery("is:pr author:alice")

	_, err := c.Get(context.Background(), key, GetOptions{})
	require.NoError(t, err)

	c.Invalidate(key)
	client.fetchErr = errors.New("boom")

	_, err = c.Get(context.Background(), key, GetOptions{})
	require.Error(t, err)

	// The stale entry survived the failure; once the network recovers the
	// refetch succeeds.
	client.fetchErr = nil
	got, err := c.Get(context.Background(), key, GetOptions{})
	require.NoError(t, err)
	assert.Len(t, got.Items, 1)
}

func TestForceUpdateBypassesCache(t *testing.T) {
	client := &fakeClient{result: FetchResult{Items: []*domain.PullRequest{pr(1)}}}
	c := New("/work/demo", testRepo(t), "alice", client, nil)
	key := AllOpenQuery()

	_, err := c.Get(context.Background(), key, GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "is:pr is:open repo:octo/demo", client.lastQuery)

	_, err = c.Get(context.Background(), key, GetOptions{ForceUpdate: true})
	require.NoError(t, err)
	assert.Equal(t, 2, client.fetchCalls)
}

func TestEndToEndRefreshScenario(t *testing.T) {
	// Cold query → one fetch, maxKnownId recorded. Forced soft invalidation
	// with nothing new upstream → one cheap probe, zero refetches, identical
	// items back.
	client := &fakeClient{
		result:    FetchResult{Items: []*domain.PullRequest{pr(10), pr(42)}},
		maxNumber: 42,
	}
	c := New("/work/demo", testRepo(t), "alice", client, nil)
	key := LiteralQuery("is:pr author:alice repo:octo/demo")

	first, err := c.Get(context.Background(), key, GetOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, client.fetchCalls)

	c.Invalidate(key)

	second, err := c.Get(context.Background(), key, GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, client.fetchCalls)
	assert.Equal(t, 1, client.maxCalls)
	require.Len(t, second.Items, 2)
	assert.Same(t, first.Items[0], second.Items[0])
	assert.Same(t, first.Items[1], second.Items[1])

	snapshot := c.Snapshot()
	assert.Equal(t, 42, snapshot["is:pr author:alice repo:octo/demo"].MaxKnownID)
	assert.Len(t, snapshot["is:pr author:alice repo:octo/demo"].Items, 2)
}

func TestSeededSnapshotServedAfterCheapRevalidation(t *testing.T) {
	client := &fakeClient{maxNumber: 7}
	c := New("/work/demo", testRepo(t), "alice", client, nil)
	key := LiteralQuery("is:pr repo:octo/demo")

	restored := []*domain.PullRequest{pr(3), pr(7)}
	c.Seed(map[string]QuerySnapshot{
		"is:pr repo:octo/demo": {MaxKnownID: 7, Items: restored},
	})

	got, err := c.Get(context.Background(), key, GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, client.fetchCalls, "restored session revalidates without a cold fetch")
	assert.Equal(t, 1, client.maxCalls)
	require.Len(t, got.Items, 2)
	assert.Same(t, restored[0], got.Items[0])
}

func TestSeededSnapshotRefetchedWhenMaxChanged(t *testing.T) {
	client := &fakeClient{
		result:    FetchResult{Items: []*domain.PullRequest{pr(3), pr(7), pr(8)}},
		maxNumber: 8,
	}
	c := New("/work/demo", testRepo(t), "alice", client, nil)
	key := LiteralQuery("is:pr repo:octo/demo")

	c.Seed(map[string]QuerySnapshot{
		"is:pr repo:octo/demo": {MaxKnownID: 7, Items: []*domain.PullRequest{pr(3), pr(7)}},
	})

	got, err := c.Get(context.Background(), key, GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, client.fetchCalls, "stale restored snapshot forces a full refetch")
	assert.Len(t, got.Items, 3)
}

func TestSeedNeverOverwritesLiveEntries(t *testing.T) {
	client := &fakeClient{result: FetchResult{Items: []*domain.PullRequest{pr(9)}}}
	c := New("/work/demo", testRepo(t), "alice", client, nil)
	key := LiteralQuery("is:pr repo:octo/demo")

	first, err := c.Get(context.Background(), key, GetOptions{})
	require.NoError(t, err)

	c.Seed(map[string]QuerySnapshot{
		"is:pr repo:octo/demo": {MaxKnownID: 2, Items: []*domain.PullRequest{pr(2)}},
	})

	second, err := c.Get(context.Background(), key, GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, client.fetchCalls)
	assert.Same(t, first.Items[0], second.Items[0])
}

func TestSentinelAndLiteralKeysShareEntry(t *testing.T) {
	client := &fakeClient{result: FetchResult{Items: []*domain.PullRequest{pr(1)}}}
	c := New("/work/demo", testRepo(t), "alice", client, nil)

	first, err := c.Get(context.Background(), AllOpenQuery(), GetOptions{})
	require.NoError(t, err)

	second, err := c.Get(context.Background(), LiteralQuery("is:pr is:open repo:octo/demo"), GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, client.fetchCalls, "same rendered query text hits the same entry")
	assert.Same(t, first.Items[0], second.Items[0])
}

func TestSentinelQueryWithoutRepositoryErrors(t *testing.T) {
	client := &fakeClient{}
	c := New("/work/demo", nil, "alice", client, nil)

	_, err := c.Get(context.Background(), AllOpenQuery(), GetOptions{})
	assert.Error(t, err)
	assert.Equal(t, 0, client.fetchCalls)

	_, err = c.Get(context.Background(), LocalBranchesQuery("head:feature"), GetOptions{})
	assert.Error(t, err)
}
