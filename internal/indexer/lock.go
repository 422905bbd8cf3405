package indexer

import "sync/atomic"

// IndexLock is a non-blocking lock guarding one indexing run at a time.
// A second caller fails fast with ErrIndexingInProgress instead of queueing.
type IndexLock struct {
	state atomic.Int32 // 0 = unlocked, 1 = locked
}

// TryAcquire attempts to acquire the lock without blocking.
func (l *IndexLock) TryAcquire() bool {
	return l.state.CompareAndSwap(0, 1)
}

// Release releases the lock.
// Must only be called by the goroutine that successfully acquired the lock.
func (l *IndexLock) Release() {
	l.state.Store(0)
}

// Held reports whether an indexing run is active.
func (l *IndexLock) Held() bool {
	return l.state.Load() == 1
}

// Indexing reports whether an indexing run is active.
func (idx *Indexer) Indexing() bool {
	return idx.lock.Held()
}
