package github

import (
	"context"
	"fmt"
	"time"

	gogithub "github.com/google/go-github/v72/github"

	"github.com/bkyoung/reviewsync/internal/domain"
)

const reviewThreadsQuery = `
query($owner: String!, $name: String!, $number: Int!, $after: String) {
  repository(owner: $owner, name: $name) {
    pullRequest(number: $number) {
      reviewThreads(first: 100, after: $after) {
        pageInfo { hasNextPage endCursor }
        nodes {
          id
          isResolved
          path
          line
          diffSide
          comments(first: 100) {
            nodes {
              databaseId
              body
              createdAt
              isMinimized
              author { login }
            }
          }
        }
      }
    }
  }
}`

const pullRequestIDQuery = `
query($owner: String!, $name: String!, $number: Int!) {
  repository(owner: $owner, name: $name) {
    pullRequest(number: $number) { id }
  }
}`

const addThreadMutation = `
mutation($prId: ID!, $path: String!, $line: Int!, $side: DiffSide!, $body: String!) {
  addPullRequestReviewThread(input: {pullRequestId: $prId, path: $path, line: $line, side: $side, body: $body}) {
    thread {
      id
      isResolved
      path
      line
      diffSide
      comments(first: 10) {
        nodes { databaseId body createdAt isMinimized author { login } }
      }
    }
  }
}`

const replyMutation = `
mutation($threadId: ID!, $body: String!) {
  addPullRequestReviewThreadReply(input: {pullRequestReviewThreadId: $threadId, body: $body}) {
    comment { databaseId body createdAt author { login } }
  }
}`

const resolveMutation = `
mutation($threadId: ID!) {
  resolveReviewThread(input: {threadId: $threadId}) { thread { id isResolved } }
}`

const unresolveMutation = `
mutation($threadId: ID!) {
  unresolveReviewThread(input: {threadId: $threadId}) { thread { id isResolved } }
}`

type commentNode struct {
	DatabaseID  int64     `json:"databaseId"`
	Body        string    `json:"body"`
	CreatedAt   time.Time `json:"createdAt"`
	IsMinimized bool      `json:"isMinimized"`
	Author      struct {
		Login string `json:"login"`
	} `json:"author"`
}

type threadNode struct {
	ID         string `json:"id"`
	IsResolved bool   `json:"isResolved"`
	Path       string `json:"path"`
	Line       int    `json:"line"`
	DiffSide   string `json:"diffSide"`
	Comments   struct {
		Nodes []commentNode `json:"nodes"`
	} `json:"comments"`
}

// ListReviewThreads fetches the full review thread graph of a pull request.
// This is the delta source for the reconciler.
func (c *Client) ListReviewThreads(ctx context.Context, number int) ([]*domain.ReviewThread, error) {
	var threads []*domain.ReviewThread
	after := any(nil)

	for {
		var response struct {
			Repository struct {
				PullRequest struct {
					ReviewThreads struct {
						PageInfo struct {
							HasNextPage bool   `json:"hasNextPage"`
							EndCursor   string `json:"endCursor"`
						} `json:"pageInfo"`
						Nodes []threadNode `json:"nodes"`
					} `json:"reviewThreads"`
				} `json:"pullRequest"`
			} `json:"repository"`
		}

		variables := map[string]any{
			"owner":  c.repo.Owner,
			"name":   c.repo.Name,
			"number": number,
			"after":  after,
		}
		if err := c.graphql.query(ctx, reviewThreadsQuery, variables, &response); err != nil {
			return nil, fmt.Errorf("list review threads of #%d: %w", number, err)
		}

		page := response.Repository.PullRequest.ReviewThreads
		for _, node := range page.Nodes {
			threads = append(threads, mapThread(node, number))
		}
		if !page.PageInfo.HasNextPage {
			return threads, nil
		}
		after = page.PageInfo.EndCursor
	}
}

// CreateThread opens a new review thread on the pull request's diff. The
// inDraft flag is accepted for contract parity but threads are published
// immediately; pending-review batching is not part of this client.
func (c *Client) CreateThread(ctx context.Context, prNumber int, path string, line int, side domain.DiffSide, body string, inDraft bool) (*domain.ReviewThread, error) {
	var idResponse struct {
		Repository struct {
			PullRequest struct {
				ID string `json:"id"`
			} `json:"pullRequest"`
		} `json:"repository"`
	}
	err := c.graphql.query(ctx, pullRequestIDQuery, map[string]any{
		"owner": c.repo.Owner, "name": c.repo.Name, "number": prNumber,
	}, &idResponse)
	if err != nil {
		return nil, fmt.Errorf("resolve pull request id #%d: %w", prNumber, err)
	}

	var response struct {
		AddPullRequestReviewThread struct {
			Thread threadNode `json:"thread"`
		} `json:"addPullRequestReviewThread"`
	}
	err = c.graphql.query(ctx, addThreadMutation, map[string]any{
		"prId": idResponse.Repository.PullRequest.ID,
		"path": path,
		"line": line,
		"side": string(side),
		"body": body,
	}, &response)
	if err != nil {
		return nil, fmt.Errorf("create thread on %s:%d: %w", path, line, err)
	}
	return mapThread(response.AddPullRequestReviewThread.Thread, prNumber), nil
}

// ReplyToThread appends a comment to an existing thread.
func (c *Client) ReplyToThread(ctx context.Context, threadID, body string, inDraft bool) (*domain.Comment, error) {
	var response struct {
		AddPullRequestReviewThreadReply struct {
			Comment commentNode `json:"comment"`
		} `json:"addPullRequestReviewThreadReply"`
	}
	err := c.graphql.query(ctx, replyMutation, map[string]any{
		"threadId": threadID,
		"body":     body,
	}, &response)
	if err != nil {
		return nil, fmt.Errorf("reply to thread %s: %w", threadID, err)
	}
	return mapComment(response.AddPullRequestReviewThreadReply.Comment), nil
}

// EditComment updates a comment body through the REST API.
func (c *Client) EditComment(ctx context.Context, threadID string, commentID int64, body string) (*domain.Comment, error) {
	edited, _, err := c.rest.PullRequests.EditComment(ctx, c.repo.Owner, c.repo.Name, commentID, &gogithub.PullRequestComment{
		Body: gogithub.Ptr(body),
	})
	if err != nil {
		return nil, fmt.Errorf("edit comment %d: %w", commentID, err)
	}
	return &domain.Comment{
		ID:        edited.GetID(),
		Body:      edited.GetBody(),
		Author:    edited.GetUser().GetLogin(),
		CreatedAt: edited.GetCreatedAt().Time,
	}, nil
}

// ResolveThread marks a thread resolved.
func (c *Client) ResolveThread(ctx context.Context, threadID string) error {
	if err := c.graphql.query(ctx, resolveMutation, map[string]any{"threadId": threadID}, nil); err != nil {
		return fmt.Errorf("resolve thread %s: %w", threadID, err)
	}
	return nil
}

// UnresolveThread reopens a resolved thread.
func (c *Client) UnresolveThread(ctx context.Context, threadID string) error {
	if err := c.graphql.query(ctx, unresolveMutation, map[string]any{"threadId": threadID}, nil); err != nil {
		return fmt.Errorf("unresolve thread %s: %w", threadID, err)
	}
	return nil
}

func mapThread(node threadNode, prNumber int) *domain.ReviewThread {
	state := domain.ThreadOpen
	if node.IsResolved {
		state = domain.ThreadResolved
	}
	comments := make([]*domain.Comment, 0, len(node.Comments.Nodes))
	for _, c := range node.Comments.Nodes {
		comments = append(comments, mapComment(c))
	}
	return &domain.ReviewThread{
		ID:       node.ID,
		PRNumber: prNumber,
		Path:     node.Path,
		Line:     node.Line,
		Side:     domain.DiffSide(node.DiffSide),
		Comments: comments,
		State:    state,
	}
}

func mapComment(node commentNode) *domain.Comment {
	return &domain.Comment{
		ID:        node.DatabaseID,
		Body:      node.Body,
		Author:    node.Author.Login,
		CreatedAt: node.CreatedAt,
		IsDeleted: node.IsMinimized,
	}
}
