package usecase

import "sync"

// ProgressUpdate is one point on a file's upload progress stream. Fraction is
// in [0,1] and never decreases for a given key. Done marks the terminal
// update; Aborted distinguishes cancellation from completion.
type ProgressUpdate struct {
	Key      string
	Fraction float64
	Done     bool
	Aborted  bool
}

// ProgressTracker publishes per-file upload progress. Callers can poll
// Fraction or Subscribe for a stream; the tracker enforces monotonicity, so
// duplicate or out-of-order chunk acknowledgements never move progress
// backwards.
type ProgressTracker struct {
	mu    sync.Mutex
	files map[string]*fileProgress
}

type fileProgress struct {
	fraction float64
	subs     map[chan ProgressUpdate]struct{}
}

func NewProgressTracker() *ProgressTracker {
	return &ProgressTracker{files: make(map[string]*fileProgress)}
}

// Subscribe returns a stream of updates for key plus a cancel func. The
// channel is closed after the terminal update; a slow subscriber misses
// intermediate updates rather than blocking the upload.
func (t *ProgressTracker) Subscribe(key string) (<-chan ProgressUpdate, func()) {
	ch := make(chan ProgressUpdate, 16)

	t.mu.Lock()
	fp := t.ensure(key)
	fp.subs[ch] = struct{}{}
	t.mu.Unlock()

	cancel := func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		fp, ok := t.files[key]
		if !ok {
			return
		}
		if _, subscribed := fp.subs[ch]; subscribed {
			delete(fp.subs, ch)
			close(ch)
		}
	}
	return ch, cancel
}

// Fraction is the poll interface: the current monotone fraction for key.
func (t *ProgressTracker) Fraction(key string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	fp, ok := t.files[key]
	if !ok {
		return 0
	}
	return fp.fraction
}

// Update advances the fraction for key; regressions are ignored.
func (t *ProgressTracker) Update(key string, fraction float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	fp := t.ensure(key)
	if fraction > 1 {
		fraction = 1
	}
	if fraction <= fp.fraction {
		return
	}
	fp.fraction = fraction
	t.broadcast(key, fp, ProgressUpdate{Key: key, Fraction: fraction})
}

// Complete publishes the terminal success update and drops the key.
func (t *ProgressTracker) Complete(key string) {
	t.finish(key, false)
}

// Abort publishes the terminal cancellation update and drops the key.
func (t *ProgressTracker) Abort(key string) {
	t.finish(key, true)
}

func (t *ProgressTracker) finish(key string, aborted bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	fp, ok := t.files[key]
	if !ok {
		return
	}
	fraction := fp.fraction
	if !aborted {
		fraction = 1
	}
	t.broadcast(key, fp, ProgressUpdate{Key: key, Fraction: fraction, Done: true, Aborted: aborted})
	for ch := range fp.subs {
		close(ch)
	}
	delete(t.files, key)
}

func (t *ProgressTracker) ensure(key string) *fileProgress {
	fp, ok := t.files[key]
	if !ok {
		fp = &fileProgress{subs: make(map[chan ProgressUpdate]struct{})}
		t.files[key] = fp
	}
	return fp
}

func (t *ProgressTracker) broadcast(_ string, fp *fileProgress, update ProgressUpdate) {
	for ch := range fp.subs {
		select {
		case ch <- update:
		default:
		}
	}
}
