package github

import (
	"context"
	"fmt"

	"github.com/bkyoung/reviewsync/internal/domain"
	"github.com/bkyoung/reviewsync/internal/remote"
)

const pullRequestChecksQuery = `
query($owner: String!, $name: String!, $number: Int!) {
  repository(owner: $owner, name: $name) {
    pullRequest(number: $number) {
      reviewDecision
      commits(last: 1) {
        nodes { commit { statusCheckRollup { state } } }
      }
    }
  }
}`

// FetchUnsatisfiedChecks recomputes a pull request's unsatisfied-checks
// bitmask from its review decision and the CI status rollup of the head
// commit. One GraphQL round trip covers both.
func (c *Client) FetchUnsatisfiedChecks(ctx context.Context, id *remote.Identity, number int) (domain.UnsatisfiedChecks, error) {
	var response struct {
		Repository struct {
			PullRequest struct {
				ReviewDecision string `json:"reviewDecision"`
				Commits        struct {
					Nodes []struct {
						Commit struct {
							StatusCheckRollup struct {
								State string `json:"state"`
							} `json:"statusCheckRollup"`
						} `json:"commit"`
					} `json:"nodes"`
				} `json:"commits"`
			} `json:"pullRequest"`
		} `json:"repository"`
	}

	err := c.graphql.query(ctx, pullRequestChecksQuery, map[string]any{
		"owner": id.Owner, "name": id.Name, "number": number,
	}, &response)
	if err != nil {
		return domain.ChecksNone, fmt.Errorf("fetch checks of %s#%d: %w", id.String(), number, err)
	}

	pr := response.Repository.PullRequest
	rollup := ""
	if len(pr.Commits.Nodes) > 0 {
		rollup = pr.Commits.Nodes[0].Commit.StatusCheckRollup.State
	}
	return mapChecks(pr.ReviewDecision, rollup), nil
}

// mapChecks folds the GraphQL review decision and status rollup into the
// bitmask. A missing rollup means the repository runs no checks, which counts
// as satisfied.
func mapChecks(reviewDecision, rollupState string) domain.UnsatisfiedChecks {
	checks := domain.ChecksNone
	switch reviewDecision {
	case "REVIEW_REQUIRED":
		checks |= domain.CheckReviewRequired
	case "CHANGES_REQUESTED":
		checks |= domain.CheckChangesRequested
	}
	switch rollupState {
	case "FAILURE", "ERROR":
		checks |= domain.CheckCIFailed
	case "PENDING", "EXPECTED":
		checks |= domain.CheckCIPending
	}
	return checks
}
