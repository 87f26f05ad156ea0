// Package reconcile diffs the remote review-thread graph against the locally
// displayed comment-thread widgets, preserving widget identity across
// updates, and binds threads to open review editors as they come and go.
package reconcile

import (
	"context"
	"sync"

	"github.com/bkyoung/reviewsync/internal/adapter/observability"
	"github.com/bkyoung/reviewsync/internal/domain"
)

// Delta is one batch of remote thread changes.
type Delta struct {
	Added   []*domain.ReviewThread
	Changed []*domain.ReviewThread
	Removed []*domain.ReviewThread
}

// Sink receives the UI operations the reconciler emits. Implemented by the
// host integration layer.
type Sink interface {
	ThreadCreated(w *ThreadWidget)
	ThreadUpdated(w *ThreadWidget)
	ThreadDisposed(w *ThreadWidget)
}

// Reconciler applies remote thread deltas to the local widget set. One delta
// batch is processed at a time; the mutex makes delta processing safe on a
// genuinely parallel runtime rather than relying on event-loop scheduling.
type Reconciler struct {
	mu sync.Mutex

	sink   Sink
	logger observability.Logger
	binder *binder

	// buckets holds realized widgets keyed by "<file>-<original|modified>".
	buckets map[string][]*ThreadWidget

	// pending holds local optimistic widgets that do not carry a server id
	// yet. Matched by (path, line, side) when the server confirms.
	pending []*ThreadWidget
}

// New creates a reconciler emitting UI operations into sink.
func New(sink Sink, logger observability.Logger) *Reconciler {
	if logger == nil {
		logger = observability.NopLogger{}
	}
	return &Reconciler{
		sink:    sink,
		logger:  logger,
		binder:  newBinder(),
		buckets: make(map[string][]*ThreadWidget),
	}
}

// CreateLocalThread registers a user-created optimistic thread that has not
// reached the server yet and realizes its widget immediately. The returned
// widget is the object a later server "added" event will adopt.
func (r *Reconciler) CreateLocalThread(thread *domain.ReviewThread) *ThreadWidget {
	r.mu.Lock()
	defer r.mu.Unlock()

	w := newWidget(thread)
	r.pending = append(r.pending, w)
	r.sink.ThreadCreated(w)
	return w
}

// Apply processes one remote delta batch.
func (r *Reconciler) Apply(ctx context.Context, delta Delta) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range delta.Added {
		r.applyAdded(ctx, t)
	}
	for _, t := range delta.Changed {
		r.applyChanged(ctx, t)
	}
	for _, t := range delta.Removed {
		r.applyRemoved(ctx, t)
	}
}

// applyAdded handles a thread newly present on the server. A pending local
// widget at the same (path, line, side) adopts the server identity in place;
// otherwise the thread is realized in a matching open editor or parked for
// later binding.
func (r *Reconciler) applyAdded(ctx context.Context, t *domain.ReviewThread) {
	for i, w := range r.pending {
		if w.matches(t.Path, t.Line, t.Side) {
			// Identity preservation: the existing widget object survives,
			// only its model is confirmed.
			w.Thread.ID = t.ID
			w.Thread.State = t.State
			w.Thread.Comments = liveComments(t.Comments)
			r.pending = append(r.pending[:i], r.pending[i+1:]...)
			key := w.BucketKey()
			r.buckets[key] = append(r.buckets[key], w)
			r.sink.ThreadUpdated(w)
			return
		}
	}

	if _, ok := r.binder.editorFor(t.Path, t.Side); ok {
		r.realize(t)
		return
	}

	r.binder.park(t)
	r.logger.LogDebug(ctx, "thread parked, no matching editor", map[string]interface{}{
		"thread": t.ID, "path": t.Path, "side": string(t.Side),
	})
}

// applyChanged updates an existing widget's comment list in place. The
// widget object reference is never replaced.
func (r *Reconciler) applyChanged(ctx context.Context, t *domain.ReviewThread) {
	w, ok := r.findWidget(t.ID)
	if !ok {
		// Legitimate when the editor closed between event and processing.
		r.logger.LogDebug(ctx, "changed event for unknown thread", map[string]interface{}{
			"thread": t.ID,
		})
		return
	}
	w.Thread.State = t.State
	w.Thread.Comments = liveComments(t.Comments)
	r.sink.ThreadUpdated(w)
}

// applyRemoved disposes a widget by server id, releasing host resources.
func (r *Reconciler) applyRemoved(ctx context.Context, t *domain.ReviewThread) {
	if r.binder.unpark(t.ID) {
		return
	}
	key := domain.ThreadBucketKey(normalizePath(t.Path), t.Side)
	for i, w := range r.buckets[key] {
		if w.Thread.ID == t.ID {
			r.buckets[key] = append(r.buckets[key][:i], r.buckets[key][i+1:]...)
			if len(r.buckets[key]) == 0 {
				delete(r.buckets, key)
			}
			w.disposed = true
			r.sink.ThreadDisposed(w)
			return
		}
	}
	r.logger.LogDebug(ctx, "removed event for unknown thread", map[string]interface{}{
		"thread": t.ID,
	})
}

// EditorsChanged rebinds threads as review editors open and close. Newly
// opened editors realize any parked threads for their file and side; closed
// editors dispose their bucket's widgets while the thread data itself is
// re-parked so a reopened editor binds it again.
func (r *Reconciler) EditorsChanged(ctx context.Context, opened []Editor, closed []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, uri := range closed {
		e, ok := r.binder.close(uri)
		if !ok {
			continue
		}
		key := e.bucketKey()
		if r.binder.hasEditorForBucket(key) {
			// Another editor still shows this bucket.
			continue
		}
		for _, w := range r.buckets[key] {
			w.disposed = true
			r.sink.ThreadDisposed(w)
			r.binder.park(w.Thread)
		}
		delete(r.buckets, key)
	}

	for _, e := range opened {
		if !r.binder.open(e) {
			continue
		}
		for _, t := range r.binder.takeParked(e.bucketKey()) {
			r.realize(t)
		}
	}
}

// realize constructs and registers a widget for a server thread.
func (r *Reconciler) realize(t *domain.ReviewThread) {
	t.Comments = liveComments(t.Comments)
	w := newWidget(t)
	key := w.BucketKey()
	r.buckets[key] = append(r.buckets[key], w)
	r.sink.ThreadCreated(w)
}

// findWidget locates a realized widget by server id across all buckets.
func (r *Reconciler) findWidget(id string) (*ThreadWidget, bool) {
	if id == "" {
		return nil, false
	}
	for _, widgets := range r.buckets {
		for _, w := range widgets {
			if w.Thread.ID == id {
				return w, true
			}
		}
	}
	return nil, false
}

// Widgets returns the realized widgets for a bucket key. Snapshot read for
// the view layer.
func (r *Reconciler) Widgets(key string) []*ThreadWidget {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*ThreadWidget, len(r.buckets[key]))
	copy(out, r.buckets[key])
	return out
}

// liveComments filters out soft-deleted comments.
func liveComments(comments []*domain.Comment) []*domain.Comment {
	live := make([]*domain.Comment, 0, len(comments))
	for _, c := range comments {
		if !c.IsDeleted {
			live = append(live, c)
		}
	}
	return live
}
