package reconcile

import (
	"path"
	"strings"

	"github.com/bkyoung/reviewsync/internal/domain"
)

// ThreadWidget is the editor-anchored comment-thread object the host renders.
// Widgets are updated in place, never destroyed and recreated for the same
// thread: replacing the object would lose editor focus and selection state
// the host cannot restore.
type ThreadWidget struct {
	// Thread is the underlying review thread model. Its ID is empty while
	// the thread is a local optimistic creation awaiting the server.
	Thread *domain.ReviewThread

	// Line is the 0-based editor line the widget is anchored at. Server
	// lines are 1-based.
	Line int

	disposed bool
}

// newWidget anchors a thread model as a widget. The server's 1-based line
// becomes the editor's 0-based line.
func newWidget(thread *domain.ReviewThread) *ThreadWidget {
	line := thread.Line - 1
	if line < 0 {
		line = 0
	}
	return &ThreadWidget{Thread: thread, Line: line}
}

// Disposed reports whether the widget released its host resources.
func (w *ThreadWidget) Disposed() bool {
	return w.disposed
}

// BucketKey returns the "<fileName>-<original|modified>" key of the bucket
// the widget lives in.
func (w *ThreadWidget) BucketKey() string {
	return domain.ThreadBucketKey(normalizePath(w.Thread.Path), w.Thread.Side)
}

// matches reports whether the widget anchors the given location. Used to
// adopt server-confirmed threads onto pending local widgets; matching is
// side-aware.
func (w *ThreadWidget) matches(filePath string, line int, side domain.DiffSide) bool {
	return normalizePath(w.Thread.Path) == normalizePath(filePath) &&
		w.Thread.Line == line &&
		w.Thread.Side == side
}

// normalizePath puts a repo-relative file path into canonical slash form.
func normalizePath(p string) string {
	return path.Clean(strings.ReplaceAll(p, "\\", "/"))
}
