// Package flowcontrol holds the positions that bound how far a publication
// may write ahead of its consumers.
package flowcontrol

import "sync/atomic"

// ReadablePosition is a position maintained by someone else and read by the
// publisher. Implementations must return a fresh value on every call.
type ReadablePosition interface {
	GetVolatile() int64
}

// Position is an atomic position counter. The zero value is a position of 0.
type Position struct {
	value atomic.Int64
}

// NewPosition creates a position with an initial value
func NewPosition(initial int64) *Position {
	p := &Position{}
	p.value.Store(initial)
	return p
}

// GetVolatile returns the current value
func (p *Position) GetVolatile() int64 {
	return p.value.Load()
}

// SetOrdered stores value
func (p *Position) SetOrdered(value int64) {
	p.value.Store(value)
}

// ProposeMax raises the position to proposed if it is higher and reports
// whether the value changed. The position never moves backwards through this call.
func (p *Position) ProposeMax(proposed int64) bool {
	for {
		current := p.value.Load()
		if proposed <= current {
			return false
		}
		if p.value.CompareAndSwap(current, proposed) {
			return true
		}
	}
}
