// Package mutate serializes comment create/reply/edit/resolve operations
// against the active pull request's thread set, bridging optimistic local
// placeholders and server-confirmed state.
package mutate

import (
	"context"
	"fmt"
	"time"

	"github.com/bkyoung/reviewsync/internal/adapter/observability"
	"github.com/bkyoung/reviewsync/internal/domain"
	"github.com/bkyoung/reviewsync/internal/usecase/reconcile"
)

// ThreadClient is the port for remote thread mutations.
type ThreadClient interface {
	// CreateThread opens a new review thread and returns the confirmed
	// server thread including its id and comments.
	CreateThread(ctx context.Context, prNumber int, path string, line int, side domain.DiffSide, body string, inDraft bool) (*domain.ReviewThread, error)

	// ReplyToThread appends a comment to an existing thread.
	ReplyToThread(ctx context.Context, threadID string, body string, inDraft bool) (*domain.Comment, error)

	// EditComment updates a comment's body.
	EditComment(ctx context.Context, threadID string, commentID int64, body string) (*domain.Comment, error)

	// ResolveThread and UnresolveThread flip a thread's resolution state.
	ResolveThread(ctx context.Context, threadID string) error
	UnresolveThread(ctx context.Context, threadID string) error
}

// Pipeline executes comment mutations with optimistic local updates.
// Mutations against the same thread are issued by a single user action chain
// and are not reordered relative to each other.
type Pipeline struct {
	client     ThreadClient
	reconciler *reconcile.Reconciler
	logger     observability.Logger
	user       string
	now        func() time.Time
}

// New creates a mutation pipeline. user is the author shown on optimistic
// placeholder comments.
func New(client ThreadClient, reconciler *reconcile.Reconciler, user string, logger observability.Logger) *Pipeline {
	if logger == nil {
		logger = observability.NopLogger{}
	}
	return &Pipeline{
		client:     client,
		reconciler: reconciler,
		logger:     logger,
		user:       user,
		now:        time.Now,
	}
}

// CreateOrReply posts a comment on the thread. A TemporaryComment appears in
// the thread immediately; on success the server-confirmed comment replaces it
// at the same index, on failure it is removed so no orphan placeholder
// remains.
func (p *Pipeline) CreateOrReply(ctx context.Context, w *reconcile.ThreadWidget, body string, inDraft bool) error {
	temp := domain.NewTemporaryComment(body, p.user, p.now())
	w.Thread.Comments = append(w.Thread.Comments, temp)

	if w.Thread.ID == "" {
		created, err := p.client.CreateThread(ctx, w.Thread.PRNumber, w.Thread.Path, w.Thread.Line, w.Thread.Side, body, inDraft)
		if err != nil {
			p.removeComment(w, temp)
			return fmt.Errorf("create thread on %s:%d: %w", w.Thread.Path, w.Thread.Line, err)
		}
		// The reconciler adopts the server identity onto this widget and
		// swaps the placeholder for the confirmed comments.
		p.reconciler.Apply(ctx, reconcile.Delta{Added: []*domain.ReviewThread{created}})
		return nil
	}

	confirmed, err := p.client.ReplyToThread(ctx, w.Thread.ID, body, inDraft)
	if err != nil {
		p.removeComment(w, temp)
		return fmt.Errorf("reply to thread %s: %w", w.Thread.ID, err)
	}
	p.replaceComment(ctx, w, temp, confirmed)
	return nil
}

// EditComment updates a comment's body optimistically, restoring the old
// body when the remote call fails.
func (p *Pipeline) EditComment(ctx context.Context, w *reconcile.ThreadWidget, comment *domain.Comment, newText string) error {
	oldBody := comment.Body
	comment.Body = newText

	confirmed, err := p.client.EditComment(ctx, w.Thread.ID, comment.ID, newText)
	if err != nil {
		comment.Body = oldBody
		return fmt.Errorf("edit comment %d: %w", comment.ID, err)
	}
	p.replaceComment(ctx, w, comment, confirmed)
	return nil
}

// ChangeThreadStatus toggles the thread between open and resolved.
func (p *Pipeline) ChangeThreadStatus(ctx context.Context, w *reconcile.ThreadWidget) error {
	if w.Thread.State == domain.ThreadResolved {
		if err := p.client.UnresolveThread(ctx, w.Thread.ID); err != nil {
			return fmt.Errorf("unresolve thread %s: %w", w.Thread.ID, err)
		}
		w.Thread.State = domain.ThreadOpen
		return nil
	}
	if err := p.client.ResolveThread(ctx, w.Thread.ID); err != nil {
		return fmt.Errorf("resolve thread %s: %w", w.Thread.ID, err)
	}
	w.Thread.State = domain.ThreadResolved
	return nil
}

// replaceComment swaps old for confirmed at the same index, located by
// reference identity: two comments can carry identical text, so content
// comparison would be wrong.
func (p *Pipeline) replaceComment(ctx context.Context, w *reconcile.ThreadWidget, old, confirmed *domain.Comment) {
	for i, c := range w.Thread.Comments {
		if c == old {
			w.Thread.Comments[i] = confirmed
			return
		}
	}
	p.logger.LogDebug(ctx, "placeholder vanished before confirmation", map[string]interface{}{
		"thread": w.Thread.ID,
	})
	w.Thread.Comments = append(w.Thread.Comments, confirmed)
}

// removeComment rolls back an optimistic placeholder by reference identity.
func (p *Pipeline) removeComment(w *reconcile.ThreadWidget, target *domain.Comment) {
	for i, c := range w.Thread.Comments {
		if c == target {
			w.Thread.Comments = append(w.Thread.Comments[:i], w.Thread.Comments[i+1:]...)
			return
		}
	}
}
