package github

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	gogithub "github.com/google/go-github/v72/github"

	"github.com/bkyoung/reviewsync/internal/domain"
	"github.com/bkyoung/reviewsync/internal/remote"
	"github.com/bkyoung/reviewsync/internal/usecase/cache"
	"github.com/bkyoung/reviewsync/internal/usecase/notify"
)

const searchPageSize = 30

// FetchPullRequests runs a search query and returns one page of pull request
// models.
func (c *Client) FetchPullRequests(ctx context.Context, query string, page int) (cache.FetchResult, error) {
	opts := &gogithub.SearchOptions{
		Sort:  "created",
		Order: "desc",
		ListOptions: gogithub.ListOptions{
			Page:    page,
			PerPage: searchPageSize,
		},
	}

	result, resp, err := c.rest.Search.Issues(ctx, query, opts)
	if err != nil {
		return cache.FetchResult{}, fmt.Errorf("search pull requests %q: %w", query, err)
	}

	items := make([]*domain.PullRequest, 0, len(result.Issues))
	for _, issue := range result.Issues {
		items = append(items, mapIssue(issue))
	}
	return cache.FetchResult{
		Items:        items,
		HasMorePages: resp.NextPage != 0,
	}, nil
}

// FetchMaxPullRequestNumber probes the repository's highest pull request
// number with a single-item list call.
func (c *Client) FetchMaxPullRequestNumber(ctx context.Context, id *remote.Identity) (int, error) {
	opts := &gogithub.PullRequestListOptions{
		State:       "all",
		Sort:        "created",
		Direction:   "desc",
		ListOptions: gogithub.ListOptions{PerPage: 1},
	}
	prs, _, err := c.rest.PullRequests.List(ctx, id.Owner, id.Name, opts)
	if err != nil {
		return 0, fmt.Errorf("fetch max pull request number for %s: %w", id.String(), err)
	}
	if len(prs) == 0 {
		return 0, nil
	}
	return prs[0].GetNumber(), nil
}

// FetchPullRequestState probes a pull request's open/closed/merged state.
func (c *Client) FetchPullRequestState(ctx context.Context, id *remote.Identity, number int) (domain.PRState, error) {
	pr, _, err := c.rest.PullRequests.Get(ctx, id.Owner, id.Name, number)
	if err != nil {
		return "", fmt.Errorf("fetch state of %s#%d: %w", id.String(), number, err)
	}
	return mapState(pr.GetState(), pr.GetMerged()), nil
}

// FetchNotifications returns the notification feed together with the polling
// headers. The last-modified header is only ever compared for equality.
func (c *Client) FetchNotifications(ctx context.Context, lastModified string) (notify.Page, error) {
	notifications, resp, err := c.rest.Activity.ListNotifications(ctx, &gogithub.NotificationListOptions{})
	if err != nil {
		return notify.Page{}, fmt.Errorf("fetch notifications: %w", err)
	}

	page := notify.Page{
		LastModified: resp.Header.Get("Last-Modified"),
	}
	if seconds, err := strconv.Atoi(resp.Header.Get("X-Poll-Interval")); err == nil && seconds > 0 {
		page.PollInterval = time.Duration(seconds) * time.Second
	}
	if remaining, err := strconv.Atoi(resp.Header.Get("X-RateLimit-Remaining")); err == nil {
		page.RateRemaining = remaining
	}
	if lastModified != "" && page.LastModified == lastModified {
		page.NotModified = true
		return page, nil
	}

	page.Items = make([]notify.Notification, 0, len(notifications))
	for _, n := range notifications {
		page.Items = append(page.Items, mapNotification(n))
	}
	return page, nil
}

// mapIssue converts a search result row into a pull request model. Search
// returns issues and pull requests in one result set; the discriminant comes
// from the pull request link presence.
func mapIssue(issue *gogithub.Issue) *domain.PullRequest {
	pr := domain.NewPullRequest(normalizedRepoURL(issue.GetRepositoryURL()), issue.GetNumber())
	if !issue.IsPullRequest() {
		pr.Kind = domain.KindIssue
	}
	pr.Title = issue.GetTitle()
	pr.Author = issue.GetUser().GetLogin()
	pr.State = mapState(issue.GetState(), false)
	pr.UpdatedAt = issue.GetUpdatedAt().Time
	return pr
}

func mapNotification(n *gogithub.Notification) notify.Notification {
	return notify.Notification{
		ID:        n.GetID(),
		Subject:   n.GetSubject().GetTitle(),
		RepoURL:   n.GetRepository().GetHTMLURL(),
		PRNumber:  subjectPRNumber(n.GetSubject()),
		Unread:    n.GetUnread(),
		UpdatedAt: n.GetUpdatedAt().Time,
	}
}

// subjectPRNumber extracts the pull request number from a notification
// subject API URL (…/repos/owner/name/pulls/123). Zero for non-PR subjects.
func subjectPRNumber(subject *gogithub.NotificationSubject) int {
	if subject.GetType() != "PullRequest" {
		return 0
	}
	parts := strings.Split(strings.TrimSuffix(subject.GetURL(), "/"), "/")
	if len(parts) == 0 {
		return 0
	}
	number, err := strconv.Atoi(parts[len(parts)-1])
	if err != nil {
		return 0
	}
	return number
}

func mapState(state string, merged bool) domain.PRState {
	if merged {
		return domain.PRStateMerged
	}
	switch state {
	case "closed":
		return domain.PRStateClosed
	default:
		return domain.PRStateOpen
	}
}

// normalizedRepoURL turns an API repository URL into the canonical remote
// identity string used as cache key prefix. Unparsable URLs fall back to the
// raw string so keys stay non-empty.
func normalizedRepoURL(apiURL string) string {
	id, err := remote.Parse(apiURL)
	if err != nil {
		return apiURL
	}
	if normalized := id.Normalize(); normalized != "" {
		return normalized
	}
	return apiURL
}
