package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bkyoung/reviewsync/internal/domain"
	"github.com/bkyoung/reviewsync/internal/remote"
)

type fakeNotifyClient struct {
	mu          sync.Mutex
	page        Page
	states      map[int]domain.PRState
	checks      map[int]domain.UnsatisfiedChecks
	fetchCalls  int
	stateCalls  int
	checksCalls int
}

func (f *fakeNotifyClient) FetchNotifications(ctx context.Context, lastModified string) (Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchCalls++
	page := f.page
	if lastModified != "" && lastModified == page.LastModified {
		return Page{NotModified: true, LastModified: page.LastModified, PollInterval: page.PollInterval}, nil
	}
	return page, nil
}

func (f *fakeNotifyClient) FetchPullRequestState(ctx context.Context, id *remote.Identity, number int) (domain.PRState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stateCalls++
	if state, ok := f.states[number]; ok {
		return state, nil
	}
	return domain.PRStateOpen, nil
}

func (f *fakeNotifyClient) FetchUnsatisfiedChecks(ctx context.Context, id *remote.Identity, number int) (domain.UnsatisfiedChecks, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checksCalls++
	return f.checks[number], nil
}

func (f *fakeNotifyClient) setPage(page Page) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.page = page
}

type updateRecorder struct {
	mu      sync.Mutex
	updates []Update
}

func (r *updateRecorder) record(u Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
}

func (r *updateRecorder) all() []Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Update, len(r.updates))
	copy(out, r.updates)
	return out
}

func notification(id, repoURL string, number int, updated time.Time) Notification {
	return Notification{
		ID:        id,
		RepoURL:   repoURL,
		PRNumber:  number,
		Unread:    true,
		UpdatedAt: updated,
	}
}

func TestPollEmitsChangedIdentifiers(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	client := &fakeNotifyClient{
		page: Page{
			Items: []Notification{
				notification("n1", "https://github.com/octo/demo", 12, now),
			},
			LastModified: "etag-1",
		},
	}
	rec := &updateRecorder{}
	p := New(client, rec.record, nil)

	require.NoError(t, p.poll(context.Background()))

	updates := rec.all()
	require.Len(t, updates, 1)
	assert.Equal(t, []string{"https://github.com/octo/demo:12"}, updates[0].ChangedKeys)
}

func TestPollIdempotentOnUnchangedLastModified(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	client := &fakeNotifyClient{
		page: Page{
			Items:        []Notification{notification("n1", "https://github.com/octo/demo", 12, now)},
			LastModified: "etag-1",
		},
	}
	rec := &updateRecorder{}
	p := New(client, rec.record, nil)

	require.NoError(t, p.poll(context.Background()))
	require.NoError(t, p.poll(context.Background()))

	assert.Len(t, rec.all(), 1, "second poll with identical last-modified is a no-op")
	assert.Equal(t, 1, client.stateCalls, "delta processing skipped entirely")
}

func TestPollSkipsNonOpenAndNonPRSubjects(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	client := &fakeNotifyClient{
		page: Page{
			Items: []Notification{
				notification("n1", "https://github.com/octo/demo", 3, now),
				notification("n2", "https://github.com/octo/demo", 0, now), // issue
				notification("n3", "https://github.com/octo/demo", 4, now), // merged
			},
			LastModified: "etag-1",
		},
		states: map[int]domain.PRState{3: domain.PRStateOpen, 4: domain.PRStateMerged},
	}
	rec := &updateRecorder{}
	p := New(client, rec.record, nil)

	require.NoError(t, p.poll(context.Background()))

	updates := rec.all()
	require.Len(t, updates, 1)
	assert.Equal(t, []string{"https://github.com/octo/demo:3"}, updates[0].ChangedKeys)
	require.Len(t, updates[0].Closed, 1)
	assert.Equal(t, "https://github.com/octo/demo:4", updates[0].Closed[0].Key())
	assert.Equal(t, domain.PRStateMerged, updates[0].Closed[0].State)
}

func TestPollSkipsUnparsableRepo(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	client := &fakeNotifyClient{
		page: Page{
			Items: []Notification{
				notification("n1", "", 3, now),
				notification("n2", "https://github.com/octo/demo", 5, now),
			},
			LastModified: "etag-1",
		},
	}
	rec := &updateRecorder{}
	p := New(client, rec.record, nil)

	require.NoError(t, p.poll(context.Background()))

	updates := rec.all()
	require.Len(t, updates, 1)
	assert.Equal(t, []string{"https://github.com/octo/demo:5"}, updates[0].ChangedKeys)
}

func TestAdoptsServerSuggestedInterval(t *testing.T) {
	client := &fakeNotifyClient{
		page: Page{LastModified: "etag-1", PollInterval: 120 * time.Second},
	}
	p := New(client, func(Update) {}, nil)

	require.NoError(t, p.poll(context.Background()))
	assert.Equal(t, 120*time.Second, p.currentInterval())
}

func TestStopClearsStateAndFiresFinalUpdate(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	client := &fakeNotifyClient{
		page: Page{
			Items:        []Notification{notification("n1", "https://github.com/octo/demo", 12, now)},
			LastModified: "etag-1",
		},
	}
	rec := &updateRecorder{}
	p := New(client, rec.record, nil)

	p.StartPolling(context.Background())
	require.NoError(t, p.poll(context.Background()))
	p.StopPolling()

	updates := rec.all()
	require.NotEmpty(t, updates)
	final := updates[len(updates)-1]
	assert.True(t, final.Cleared)

	// Stopping twice must not fire a second cleared update.
	p.StopPolling()
	assert.Len(t, rec.all(), len(updates))

	// Restarting after stop begins from clean state: the same notification
	// is reported again.
	require.NoError(t, p.poll(context.Background()))
	latest := rec.all()
	assert.Equal(t, []string{"https://github.com/octo/demo:12"}, latest[len(latest)-1].ChangedKeys)
}

func TestRestoredStateSuppressesKnownNotifications(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	client := &fakeNotifyClient{
		page: Page{
			Items:        []Notification{notification("n1", "https://github.com/octo/demo", 12, now)},
			LastModified: "etag-1",
		},
	}
	rec := &updateRecorder{}
	p := New(client, rec.record, nil)
	p.RestoreState("", map[string]time.Time{
		"https://github.com/octo/demo:12": now,
	})

	require.NoError(t, p.poll(context.Background()))
	assert.Empty(t, rec.all(), "already-reported notification is not re-reported")

	lastModified, tracked := p.State()
	assert.Equal(t, "etag-1", lastModified)
	assert.Contains(t, tracked, "https://github.com/octo/demo:12")
}

func TestRestoredLastModifiedShortCircuitsFirstPoll(t *testing.T) {
	client := &fakeNotifyClient{
		page: Page{
			Items:        []Notification{notification("n1", "https://github.com/octo/demo", 12, time.Now())},
			LastModified: "etag-1",
		},
	}
	rec := &updateRecorder{}
	p := New(client, rec.record, nil)
	p.RestoreState("etag-1", nil)

	require.NoError(t, p.poll(context.Background()))
	assert.Empty(t, rec.all())
	assert.Equal(t, 0, client.stateCalls)
}

func TestPollReportsClosedPullRequestEvenWhenNothingElseChanged(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	client := &fakeNotifyClient{
		page: Page{
			Items:        []Notification{notification("n1", "https://github.com/octo/demo", 9, now)},
			LastModified: "etag-1",
		},
		states: map[int]domain.PRState{9: domain.PRStateClosed},
	}
	rec := &updateRecorder{}
	p := New(client, rec.record, nil)

	require.NoError(t, p.poll(context.Background()))

	updates := rec.all()
	require.Len(t, updates, 1, "a closed pull request alone still produces an update")
	assert.Empty(t, updates[0].ChangedKeys)
	require.Len(t, updates[0].Closed, 1)
	assert.Equal(t, domain.PRStateClosed, updates[0].Closed[0].State)
}

func TestPollReportsOnlyChangedStatuses(t *testing.T) {
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	client := &fakeNotifyClient{
		page: Page{
			Items:        []Notification{notification("n1", "https://github.com/octo/demo", 12, base)},
			LastModified: "etag-1",
		},
		checks: map[int]domain.UnsatisfiedChecks{12: domain.CheckCIPending},
	}
	rec := &updateRecorder{}
	p := New(client, rec.record, nil)

	require.NoError(t, p.poll(context.Background()))
	updates := rec.all()
	require.Len(t, updates, 1)
	require.Len(t, updates[0].Statuses, 1)
	assert.Equal(t, domain.DecorationPending, updates[0].Statuses[0].Unsatisfied.Decoration())

	// A new notification with an unchanged bitmask reports the key but no
	// status entry.
	client.setPage(Page{
		Items:        []Notification{notification("n2", "https://github.com/octo/demo", 12, base.Add(time.Minute))},
		LastModified: "etag-2",
	})
	require.NoError(t, p.poll(context.Background()))
	updates = rec.all()
	require.Len(t, updates, 2)
	assert.Equal(t, []string{"https://github.com/octo/demo:12"}, updates[1].ChangedKeys)
	assert.Empty(t, updates[1].Statuses)

	// The bitmask flipping to failed is reported again.
	client.mu.Lock()
	client.checks[12] = domain.CheckCIFailed
	client.mu.Unlock()
	client.setPage(Page{
		Items:        []Notification{notification("n3", "https://github.com/octo/demo", 12, base.Add(2 * time.Minute))},
		LastModified: "etag-3",
	})
	require.NoError(t, p.poll(context.Background()))
	updates = rec.all()
	require.Len(t, updates, 3)
	require.Len(t, updates[2].Statuses, 1)
	assert.Equal(t, domain.DecorationFailing, updates[2].Statuses[0].Unsatisfied.Decoration())
}

func TestRepeatedStartIsIdempotent(t *testing.T) {
	client := &fakeNotifyClient{page: Page{LastModified: "etag-1"}}
	p := New(client, func(Update) {}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.StartPolling(ctx)
	p.StartPolling(ctx)
	p.StopPolling()
}
