package reconcile

import (
	"github.com/bkyoung/reviewsync/internal/domain"
)

// Editor is an open virtual review document, identified by its URI and the
// decoded query parameters describing which file, side and revision it shows.
type Editor struct {
	URI    string
	Params domain.ReviewURIParams
}

// NewEditor decodes a virtual document URI query into an Editor. Malformed
// or missing JSON yields ok=false, which callers treat as "no binding".
func NewEditor(uri, query string) (Editor, bool) {
	params, ok := domain.DecodeReviewURI(query)
	if !ok {
		return Editor{}, false
	}
	return Editor{URI: uri, Params: params}, true
}

// bucketKey is the thread bucket the editor displays.
func (e Editor) bucketKey() string {
	return domain.ThreadBucketKey(normalizePath(e.Params.FileName), e.Params.Side())
}

// binder tracks the set of open review editors and the threads that arrived
// while no matching editor was open. Owned by the Reconciler; all access is
// under the reconciler's mutex.
type binder struct {
	editors map[string]Editor                 // uri → editor
	parked  map[string][]*domain.ReviewThread // bucket key → unbound threads
}

func newBinder() *binder {
	return &binder{
		editors: make(map[string]Editor),
		parked:  make(map[string][]*domain.ReviewThread),
	}
}

// editorFor finds an open editor showing the given file and side.
func (b *binder) editorFor(filePath string, side domain.DiffSide) (Editor, bool) {
	key := domain.ThreadBucketKey(normalizePath(filePath), side)
	for _, e := range b.editors {
		if e.bucketKey() == key {
			return e, true
		}
	}
	return Editor{}, false
}

// park retains a thread for later binding when a matching editor opens.
func (b *binder) park(t *domain.ReviewThread) {
	key := domain.ThreadBucketKey(normalizePath(t.Path), t.Side)
	b.parked[key] = append(b.parked[key], t)
}

// takeParked removes and returns the unbound threads for a bucket.
func (b *binder) takeParked(key string) []*domain.ReviewThread {
	threads := b.parked[key]
	delete(b.parked, key)
	return threads
}

// unpark removes a thread by server id from whatever bucket holds it.
func (b *binder) unpark(id string) bool {
	for key, threads := range b.parked {
		for i, t := range threads {
			if t.ID == id {
				b.parked[key] = append(threads[:i], threads[i+1:]...)
				if len(b.parked[key]) == 0 {
					delete(b.parked, key)
				}
				return true
			}
		}
	}
	return false
}

// open registers an editor. Returns false when the URI was already tracked.
func (b *binder) open(e Editor) bool {
	if _, ok := b.editors[e.URI]; ok {
		return false
	}
	b.editors[e.URI] = e
	return true
}

// close removes an editor by URI.
func (b *binder) close(uri string) (Editor, bool) {
	e, ok := b.editors[uri]
	if ok {
		delete(b.editors, uri)
	}
	return e, ok
}

// hasEditorForBucket reports whether any remaining editor shows the bucket.
func (b *binder) hasEditorForBucket(key string) bool {
	for _, e := range b.editors {
		if e.bucketKey() == key {
			return true
		}
	}
	return false
}
