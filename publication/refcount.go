package publication

import (
	"errors"
	"sync/atomic"
)

// ErrPublicationClosed is returned when a reference is taken on a closed publication
var ErrPublicationClosed = errors.New("publication is closed")

// refCount is shared by every handle on the same stream
type refCount struct {
	count  atomic.Int64
	closed atomic.Bool
}

func newRefCount() *refCount {
	r := &refCount{}
	r.count.Store(1)
	return r
}

func (r *refCount) isClosed() bool {
	return r.closed.Load()
}

func (r *refCount) load() int64 {
	return r.count.Load()
}

func (r *refCount) incRef() error {
	for {
		current := r.count.Load()
		if current <= 0 || r.closed.Load() {
			return ErrPublicationClosed
		}
		if r.count.CompareAndSwap(current, current+1) {
			return nil
		}
	}
}

// decRef drops one reference and reports whether it was the last one. The
// count never goes below zero.
func (r *refCount) decRef() bool {
	for {
		current := r.count.Load()
		if current <= 0 {
			return false
		}
		if r.count.CompareAndSwap(current, current-1) {
			if current == 1 {
				r.closed.Store(true)
				return true
			}
			return false
		}
	}
}

// revoke closes the cell without a release. Later decRef calls do nothing.
func (r *refCount) revoke() {
	r.closed.Store(true)
	r.count.Store(0)
}
