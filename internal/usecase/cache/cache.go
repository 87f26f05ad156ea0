// Package cache maintains per-workspace-folder pull request query results
// with soft and hard invalidation, so repeated tree refreshes avoid network
// calls when nothing changed upstream.
package cache

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/bkyoung/reviewsync/internal/adapter/observability"
	"github.com/bkyoung/reviewsync/internal/domain"
	"github.com/bkyoung/reviewsync/internal/remote"
)

// RemoteClient is the port the cache uses to reach the remote API.
type RemoteClient interface {
	// FetchPullRequests runs a search query and returns one page of results.
	FetchPullRequests(ctx context.Context, query string, page int) (FetchResult, error)

	// FetchMaxPullRequestNumber returns the highest pull request number in
	// the repository. A cheap single-field probe used by the refresh test.
	FetchMaxPullRequestNumber(ctx context.Context, id *remote.Identity) (int, error)
}

// FetchResult is one page of pull requests from the remote.
type FetchResult struct {
	Items        []*domain.PullRequest
	HasMorePages bool
}

// QueryKind distinguishes literal search queries from the sentinel queries
// the tree view issues.
type QueryKind int

const (
	QueryLiteral QueryKind = iota
	QueryLocalBranches
	QueryAllOpen
)

// QueryKey identifies one cached query within a folder's cache.
type QueryKey struct {
	Kind QueryKind
	Text string
}

// LiteralQuery builds a key for a user-supplied search query string.
func LiteralQuery(text string) QueryKey {
	return QueryKey{Kind: QueryLiteral, Text: text}
}

// AllOpenQuery builds the sentinel key for all open pull requests of the
// folder's repository.
func AllOpenQuery() QueryKey {
	return QueryKey{Kind: QueryAllOpen}
}

// LocalBranchesQuery builds the sentinel key for pull requests whose head is
// one of the folder's local branches. filters is the rendered head: filter
// set so the key stays stable per branch set.
func LocalBranchesQuery(filters string) QueryKey {
	return QueryKey{Kind: QueryLocalBranches, Text: filters}
}

// GetOptions controls a single cache read.
type GetOptions struct {
	FetchNextPage bool
	ForceUpdate   bool
}

// ItemsResult is what a cache read returns to the view layer.
type ItemsResult struct {
	Items        []*domain.PullRequest
	HasMorePages bool
}

// entry is one cached query result. clearRequested=true is a soft
// invalidation: items remain servable until the refresh test proves them
// stale. maxKnownID zero means unknown, which always fails the test.
type entry struct {
	clearRequested bool
	maxKnownID     int
	items          []*domain.PullRequest
	hasMorePages   bool
	nextPage       int
}

// repoTokenPattern extracts the repo:owner/name filter from a search query.
var repoTokenPattern = regexp.MustCompile(`repo:([^\s/]+)/([^\s]+)`)

// Cache holds query results for a single workspace folder. All access is
// serialized through one mutex, guaranteeing at most one in-flight fetch per
// cache instance and preventing duplicate remote calls for the same query.
//
// Entries are keyed by the rendered query text, so a sentinel key and a
// literal key rendering to the same search share one entry, and persisted
// snapshots restore under whichever key form the session uses next.
type Cache struct {
	mu sync.Mutex

	folder string
	repo   *remote.Identity
	user   string
	client RemoteClient
	logger observability.Logger

	entries map[string]*entry
}

// New creates a cache for a workspace folder whose primary remote is repo.
// user is substituted for ${user} placeholders in query text.
func New(folder string, repo *remote.Identity, user string, client RemoteClient, logger observability.Logger) *Cache {
	if logger == nil {
		logger = observability.NopLogger{}
	}
	return &Cache{
		folder:  folder,
		repo:    repo,
		user:    user,
		client:  client,
		logger:  logger,
		entries: make(map[string]*entry),
	}
}

// Folder returns the workspace folder this cache belongs to.
func (c *Cache) Folder() string {
	return c.folder
}

// Get returns the pull requests for a query, from cache when possible.
//
// A hit with no pending invalidation returns cached items with zero network
// calls. A soft-invalidated hit runs the refresh test first: if the repo's
// maximum pull request number is unchanged, the cached items are still valid
// and are returned as-is. FetchNextPage appends the next page to the cached
// list, preserving already-returned rows and their order. Fetch failures
// propagate to the caller and leave the stale entry untouched.
func (c *Cache) Get(ctx context.Context, key QueryKey, opts GetOptions) (ItemsResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if key.Kind != QueryLiteral && c.repo == nil {
		return ItemsResult{}, fmt.Errorf("query requires a workspace repository")
	}

	text := c.queryText(key)
	e, cached := c.entries[text]

	if cached && !opts.ForceUpdate && !opts.FetchNextPage {
		if !e.clearRequested {
			c.logger.LogDebug(ctx, "cache hit", map[string]interface{}{
				"folder": c.folder, "query": text, "items": len(e.items),
			})
			return ItemsResult{Items: e.items, HasMorePages: e.hasMorePages}, nil
		}

		stillValid, err := c.refreshTest(ctx, text, e)
		if err != nil {
			return ItemsResult{}, err
		}
		if stillValid {
			e.clearRequested = false
			c.logger.LogDebug(ctx, "cache revalidated without refetch", map[string]interface{}{
				"folder": c.folder, "query": text, "maxKnownId": e.maxKnownID,
			})
			return ItemsResult{Items: e.items, HasMorePages: e.hasMorePages}, nil
		}
	}

	page := 1
	if opts.FetchNextPage && cached {
		page = e.nextPage
	}

	result, err := c.client.FetchPullRequests(ctx, text, page)
	if err != nil {
		// The stale entry stays in place; the caller decides whether to show
		// it or an error.
		return ItemsResult{}, fmt.Errorf("fetch pull requests for %q: %w", text, err)
	}

	if opts.FetchNextPage && cached {
		e.items = append(e.items, result.Items...)
		e.hasMorePages = result.HasMorePages
		e.nextPage++
	} else {
		e = &entry{
			items:        result.Items,
			hasMorePages: result.HasMorePages,
			nextPage:     2,
		}
		c.entries[text] = e
	}

	e.maxKnownID = maxNumber(e.items)
	e.clearRequested = false

	c.logger.LogInfo(ctx, "cache filled", map[string]interface{}{
		"folder": c.folder, "query": text, "page": page, "items": len(e.items),
	})
	return ItemsResult{Items: e.items, HasMorePages: e.hasMorePages}, nil
}

// refreshTest decides whether a soft-invalidated entry is still servable.
// Queries without an extractable repo: token cannot be cheaply validated and
// are always treated as stale.
func (c *Cache) refreshTest(ctx context.Context, text string, e *entry) (bool, error) {
	if e.maxKnownID == 0 {
		return false, nil
	}
	repoID, ok := c.repoFilter(text)
	if !ok {
		return false, nil
	}

	maxNum, err := c.client.FetchMaxPullRequestNumber(ctx, repoID)
	if err != nil {
		return false, fmt.Errorf("refresh test for %q: %w", text, err)
	}
	return maxNum == e.maxKnownID, nil
}

// repoFilter extracts the repo:owner/name token from the rendered query text
// after variable substitution.
func (c *Cache) repoFilter(text string) (*remote.Identity, bool) {
	m := repoTokenPattern.FindStringSubmatch(text)
	if m == nil {
		return nil, false
	}
	host := "github.com"
	if c.repo != nil && c.repo.Host != "" {
		host = c.repo.Host
	}
	return &remote.Identity{Host: host, Owner: m[1], Name: m[2], Kind: remote.KindHTTP}, true
}

// queryText renders the final search query for a key, substituting
// placeholders like ${user}.
func (c *Cache) queryText(key QueryKey) string {
	var text string
	switch key.Kind {
	case QueryAllOpen:
		text = fmt.Sprintf("is:pr is:open repo:%s/%s", c.repo.Owner, c.repo.Name)
	case QueryLocalBranches:
		text = fmt.Sprintf("is:pr repo:%s/%s %s", c.repo.Owner, c.repo.Name, key.Text)
	default:
		text = key.Text
	}
	return strings.ReplaceAll(text, "${user}", c.user)
}

// Invalidate soft-marks a cached query as possibly stale. The items remain
// servable until the refresh test settles the question.
func (c *Cache) Invalidate(key QueryKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if key.Kind != QueryLiteral && c.repo == nil {
		return
	}
	if e, ok := c.entries[c.queryText(key)]; ok {
		e.clearRequested = true
	}
}

// InvalidateAll soft-marks every cached query.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		e.clearRequested = true
	}
}

// InvalidatePullRequest hard-invalidates every cached query entry containing
// the given pull request. Used when a pull request changes state
// (closed/merged): list membership itself may now be wrong, so the entries
// are dropped outright rather than soft-marked.
func (c *Cache) InvalidatePullRequest(pr *domain.PullRequest) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for text, e := range c.entries {
		if containsKey(e.items, pr.Key()) {
			delete(c.entries, text)
		}
	}
}

// QuerySnapshot is the persistable state of one cached query: the items and
// the max-known-number the refresh test validates them against.
type QuerySnapshot struct {
	MaxKnownID int
	Items      []*domain.PullRequest
}

// Snapshot captures every validated entry, keyed by rendered query text, for
// session persistence.
func (c *Cache) Snapshot() map[string]QuerySnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	snapshot := make(map[string]QuerySnapshot, len(c.entries))
	for text, e := range c.entries {
		if e.maxKnownID > 0 && len(e.items) > 0 {
			snapshot[text] = QuerySnapshot{MaxKnownID: e.maxKnownID, Items: e.items}
		}
	}
	return snapshot
}

// Seed restores persisted snapshots into the cache. Restored entries start
// soft-invalidated, so the first read runs the cheap refresh test and serves
// the restored rows without a full refetch when nothing changed upstream.
// Entries already present are never overwritten.
func (c *Cache) Seed(snapshots map[string]QuerySnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for text, snap := range snapshots {
		if _, ok := c.entries[text]; ok {
			continue
		}
		if snap.MaxKnownID <= 0 || len(snap.Items) == 0 {
			continue
		}
		c.entries[text] = &entry{
			clearRequested: true,
			maxKnownID:     snap.MaxKnownID,
			items:          snap.Items,
			nextPage:       2,
		}
	}
}

func containsKey(items []*domain.PullRequest, key string) bool {
	for _, pr := range items {
		if pr.Key() == key {
			return true
		}
	}
	return false
}

func maxNumber(items []*domain.PullRequest) int {
	maxNum := 0
	for _, pr := range items {
		if pr.Number > maxNum {
			maxNum = pr.Number
		}
	}
	return maxNum
}
