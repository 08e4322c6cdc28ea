package xsync

// Limiter is a simple counting semaphore used to bound the number of
// pipeline steps a process will run concurrently, independent of
// whichever Pool backend is in use.
type Limiter struct {
	tokens chan struct{}
}

// NewLimiter creates a Limiter that allows at most max concurrent holders.
// max <= 0 means unlimited: Acquire/Release become no-ops.
func NewLimiter(max int) *Limiter {
	if max <= 0 {
		return &Limiter{}
	}
	return &Limiter{tokens: make(chan struct{}, max)}
}

// Acquire blocks until a slot is available.
func (l *Limiter) Acquire() {
	if l.tokens == nil {
		return
	}
	l.tokens <- struct{}{}
}

// Release frees a slot acquired with Acquire.
func (l *Limiter) Release() {
	if l.tokens == nil {
		return
	}
	<-l.tokens
}

// TryAcquire attempts to acquire a slot without blocking.
func (l *Limiter) TryAcquire() bool {
	if l.tokens == nil {
		return true
	}
	select {
	case l.tokens <- struct{}{}:
		return true
	default:
		return false
	}
}
