package domain

import (
	"fmt"
	"time"
)

// ItemKind discriminates the variants returned by a search query.
type ItemKind int

const (
	KindPullRequest ItemKind = iota
	KindIssue
)

// PRState is the lifecycle state of a pull request.
type PRState string

const (
	PRStateOpen   PRState = "open"
	PRStateClosed PRState = "closed"
	PRStateMerged PRState = "merged"
)

// DiffSide identifies the half of a two-pane diff a thread is anchored to.
type DiffSide string

const (
	// SideLeft is the base (original) side of the diff.
	SideLeft DiffSide = "LEFT"
	// SideRight is the head (modified) side of the diff.
	SideRight DiffSide = "RIGHT"
)

// PullRequest is the local model of a remote pull request.
// Key is computed once at construction and never recomputed; it is the
// primary key into every cache map for the model's lifetime.
type PullRequest struct {
	Kind      ItemKind
	RemoteURL string // normalized remote form, see remote.Identity.Normalize
	Number    int
	Title     string
	Author    string
	State     PRState
	UpdatedAt time.Time
	BaseSHA   string
	HeadSHA   string

	key string
}

// NewPullRequest constructs a pull request model with a stable identifier.
func NewPullRequest(normalizedRemote string, number int) *PullRequest {
	return &PullRequest{
		Kind:      KindPullRequest,
		RemoteURL: normalizedRemote,
		Number:    number,
		key:       PullRequestKey(normalizedRemote, number),
	}
}

// Key returns the pull request's stable cache identifier.
func (pr *PullRequest) Key() string {
	if pr.key == "" {
		pr.key = PullRequestKey(pr.RemoteURL, pr.Number)
	}
	return pr.key
}

// PullRequestKey renders the canonical "<normalizedRemoteUrl>:<number>" cache
// key. The format is a string contract: persisted UI state references it.
func PullRequestKey(normalizedRemote string, number int) string {
	return fmt.Sprintf("%s:%d", normalizedRemote, number)
}

// ThreadBucketKey renders the "<fileName>-<original|modified>" bucket key that
// separates base and head thread sets for the same file path. Also a string
// contract referenced by persisted UI state.
func ThreadBucketKey(fileName string, side DiffSide) string {
	if side == SideLeft {
		return fileName + "-original"
	}
	return fileName + "-modified"
}

// ThreadState is the resolution state of a review thread.
type ThreadState string

const (
	ThreadOpen     ThreadState = "open"
	ThreadResolved ThreadState = "resolved"
)

// Comment is a single message within a review thread. A comment with a zero
// ID is a temporary client-side placeholder awaiting server confirmation.
type Comment struct {
	ID        int64
	Body      string
	Author    string
	CreatedAt time.Time
	IsDeleted bool
}

// NewTemporaryComment builds an optimistic placeholder comment. It carries no
// server id and must be replaced, not merged, once the mutation completes.
func NewTemporaryComment(body, author string, now time.Time) *Comment {
	return &Comment{
		Body:      body,
		Author:    author,
		CreatedAt: now,
	}
}

// Temporary reports whether the comment is an unconfirmed placeholder.
func (c *Comment) Temporary() bool {
	return c.ID == 0
}

// ReviewThread is a comment conversation anchored to a file/line/side within
// a pull request's diff. ID is server-assigned and empty for optimistic local
// threads; once matched to a server thread the id becomes permanent identity.
type ReviewThread struct {
	ID       string
	PRNumber int
	Path     string
	Line     int // 1-based server line
	Side     DiffSide
	Comments []*Comment
	State    ThreadState
}
