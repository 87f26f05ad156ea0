// Package notify polls the remote notification feed on an adaptive interval
// and reduces it to a minimal set of changed pull request identifiers that
// drives cache invalidation and badge refresh.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/bkyoung/reviewsync/internal/adapter/observability"
	"github.com/bkyoung/reviewsync/internal/domain"
	"github.com/bkyoung/reviewsync/internal/remote"
)

const (
	defaultInterval = 60 * time.Second

	// lowRateLimitThreshold is the remaining-quota level below which a
	// warning is logged. Quota is never enforced as backpressure; the
	// adaptive interval is the only throttle.
	lowRateLimitThreshold = 50
)

// Notification is one entry from the remote notification feed.
type Notification struct {
	ID        string
	Subject   string
	RepoURL   string
	PRNumber  int // zero when the subject is not a pull request
	Unread    bool
	UpdatedAt time.Time
}

// Page is one notification fetch result together with the header contract
// the poller consumes: x-poll-interval (seconds) and last-modified (opaque,
// compared for equality only).
type Page struct {
	Items         []Notification
	PollInterval  time.Duration
	LastModified  string
	NotModified   bool
	RateRemaining int
}

// Client is the port to the remote notification API.
type Client interface {
	// FetchNotifications returns the notification feed. lastModified is the
	// opaque header value from the previous fetch; the remote answers with
	// NotModified=true when nothing changed.
	FetchNotifications(ctx context.Context, lastModified string) (Page, error)

	// FetchPullRequestState is a cheap single-field probe of a pull
	// request's open/closed state.
	FetchPullRequestState(ctx context.Context, id *remote.Identity, number int) (domain.PRState, error)

	// FetchUnsatisfiedChecks recomputes the unsatisfied-checks bitmask of a
	// pull request (review decision plus CI rollup).
	FetchUnsatisfiedChecks(ctx context.Context, id *remote.Identity, number int) (domain.UnsatisfiedChecks, error)
}

// Update is what the poller emits after each real delta. Closed carries pull
// requests that left the open state, so the consumer can hard-invalidate its
// caches. Statuses carries only the entries whose checks bitmask differs from
// the previous cycle. Cleared=true is the final update sent when polling is
// disabled, so the UI drops stale badges.
type Update struct {
	ChangedKeys []string
	Closed      []*domain.PullRequest
	Statuses    []domain.PRStatusChange
	Cleared     bool
}

// Poller periodically fetches notifications. It runs one goroutine and never
// overlaps fetches; the timer is always stopped before a new one is armed.
type Poller struct {
	client  Client
	logger  observability.Logger
	handler func(Update)

	mu           sync.Mutex
	interval     time.Duration
	lastModified string

	// tracked maps PR key to the last seen update time; statuses maps PR key
	// to the last reported checks bitmask.
	tracked  map[string]time.Time
	statuses map[string]domain.UnsatisfiedChecks

	stop    chan struct{}
	running bool
}

// New creates a poller delivering updates to handler.
func New(client Client, handler func(Update), logger observability.Logger) *Poller {
	if logger == nil {
		logger = observability.NopLogger{}
	}
	return &Poller{
		client:   client,
		logger:   logger,
		handler:  handler,
		interval: defaultInterval,
		tracked:  make(map[string]time.Time),
		statuses: make(map[string]domain.UnsatisfiedChecks),
	}
}

// SetInterval overrides the initial poll cadence. A server-suggested interval
// adopted during polling takes precedence afterwards.
func (p *Poller) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.interval = d
}

// RestoreState seeds the poller with state persisted from a previous session:
// the last-modified validator and the already-reported pull requests. Calls
// after polling has started are ignored.
func (p *Poller) RestoreState(lastModified string, tracked map[string]time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.lastModified = lastModified
	p.tracked = make(map[string]time.Time, len(tracked))
	for key, seen := range tracked {
		p.tracked[key] = seen
	}
}

// State snapshots the poller state for session persistence.
func (p *Poller) State() (string, map[string]time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	tracked := make(map[string]time.Time, len(p.tracked))
	for key, seen := range p.tracked {
		tracked[key] = seen
	}
	return p.lastModified, tracked
}

// StartPolling transitions Stopped → Polling. Safe to call repeatedly.
func (p *Poller) StartPolling(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true
	p.stop = make(chan struct{})
	go p.loop(ctx, p.stop)
}

// StopPolling stops the timer, clears all tracked notification state and
// fires one final cleared update.
func (p *Poller) StopPolling() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stop)
	p.tracked = make(map[string]time.Time)
	p.statuses = make(map[string]domain.UnsatisfiedChecks)
	p.lastModified = ""
	p.mu.Unlock()

	p.handler(Update{Cleared: true})
}

// loop is the polling state machine. The timer is recreated after every
// cycle so a changed server-suggested interval takes effect immediately.
func (p *Poller) loop(ctx context.Context, stop chan struct{}) {
	timer := time.NewTimer(p.currentInterval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-timer.C:
		}

		if err := p.poll(ctx); err != nil {
			p.logger.LogWarning(ctx, "notification poll failed", map[string]interface{}{
				"error": err.Error(),
			})
		}

		timer.Stop()
		timer = time.NewTimer(p.currentInterval())
	}
}

func (p *Poller) currentInterval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.interval
}

// poll runs one fetch-and-reconcile cycle. An unchanged last-modified header
// skips delta processing entirely.
func (p *Poller) poll(ctx context.Context) error {
	p.mu.Lock()
	lastModified := p.lastModified
	p.mu.Unlock()

	page, err := p.client.FetchNotifications(ctx, lastModified)
	if err != nil {
		return err
	}

	p.adoptInterval(ctx, page.PollInterval)

	if page.RateRemaining > 0 && page.RateRemaining < lowRateLimitThreshold {
		p.logger.LogWarning(ctx, "notification rate limit low", map[string]interface{}{
			"remaining": page.RateRemaining,
		})
	}

	if page.NotModified || (page.LastModified != "" && page.LastModified == lastModified) {
		return nil
	}

	update := p.reduce(ctx, page.Items)

	p.mu.Lock()
	p.lastModified = page.LastModified
	p.mu.Unlock()

	if len(update.ChangedKeys) > 0 || len(update.Closed) > 0 || len(update.Statuses) > 0 {
		p.handler(update)
	}
	return nil
}

// adoptInterval adopts a changed server-suggested interval.
func (p *Poller) adoptInterval(ctx context.Context, suggested time.Duration) {
	if suggested <= 0 {
		return
	}
	p.mu.Lock()
	changed := suggested != p.interval
	if changed {
		p.interval = suggested
	}
	p.mu.Unlock()
	if changed {
		p.logger.LogInfo(ctx, "poll interval changed", map[string]interface{}{
			"interval": suggested.String(),
		})
	}
}

// reduce maps pull-request notifications to an update: changed identifiers,
// pull requests that left the open state, and the subset of recomputed checks
// bitmasks that differ from the previous cycle.
func (p *Poller) reduce(ctx context.Context, items []Notification) Update {
	var update Update
	var recomputed []domain.PRStatusChange

	for _, n := range items {
		if n.PRNumber == 0 {
			continue
		}
		id, err := remote.Parse(n.RepoURL)
		if err != nil {
			// Malformed remote: excluded from the working set, never fatal.
			p.logger.LogWarning(ctx, "unparsable notification repo url", map[string]interface{}{
				"url": n.RepoURL, "error": err.Error(),
			})
			continue
		}

		state, err := p.client.FetchPullRequestState(ctx, id, n.PRNumber)
		if err != nil {
			p.logger.LogWarning(ctx, "pull request state probe failed", map[string]interface{}{
				"repo": id.String(), "number": n.PRNumber, "error": err.Error(),
			})
			continue
		}

		key := domain.PullRequestKey(id.Normalize(), n.PRNumber)
		if state != domain.PRStateOpen {
			closed := domain.NewPullRequest(id.Normalize(), n.PRNumber)
			closed.State = state
			update.Closed = append(update.Closed, closed)
			p.mu.Lock()
			delete(p.tracked, key)
			delete(p.statuses, key)
			p.mu.Unlock()
			continue
		}

		p.mu.Lock()
		seen, ok := p.tracked[key]
		isChanged := !ok || !seen.Equal(n.UpdatedAt)
		if isChanged {
			p.tracked[key] = n.UpdatedAt
		}
		p.mu.Unlock()
		if !isChanged {
			continue
		}
		update.ChangedKeys = append(update.ChangedKeys, key)

		checks, err := p.client.FetchUnsatisfiedChecks(ctx, id, n.PRNumber)
		if err != nil {
			p.logger.LogWarning(ctx, "checks probe failed", map[string]interface{}{
				"repo": id.String(), "number": n.PRNumber, "error": err.Error(),
			})
			continue
		}
		pr := domain.NewPullRequest(id.Normalize(), n.PRNumber)
		pr.UpdatedAt = n.UpdatedAt
		recomputed = append(recomputed, domain.PRStatusChange{PullRequest: pr, Unsatisfied: checks})
	}

	p.mu.Lock()
	update.Statuses = domain.ChangedStatuses(p.statuses, recomputed)
	for _, st := range update.Statuses {
		p.statuses[st.PullRequest.Key()] = st.Unsatisfied
	}
	p.mu.Unlock()

	return update
}
