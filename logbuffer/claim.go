package logbuffer

import (
	"errors"
	"sync/atomic"
)

// ErrClaimCompleted is returned when a claim with no pending reservation is
// committed or aborted, including a second Commit/Abort of the same claim.
var ErrClaimCompleted = errors.New("claim already completed or never reserved")

const (
	claimIdle int32 = iota
	claimPending
)

// BufferClaim gives direct write access to one reserved, uncommitted frame.
//
// Every successful claim must end in exactly one Commit or Abort. A claim
// that is neither committed nor aborted leaves an uncommitted frame in the
// term, and readers stop at it for good. That hazard is not recovered here.
// Passing a still-pending claim to another TryClaim panics.
//
// A BufferClaim can be reused once it has been committed or aborted.
type BufferClaim struct {
	termBuffer  []byte
	frameOffset int32
	frameLength int32
	state       atomic.Int32
}

func (c *BufferClaim) wrap(termBuffer []byte, frameOffset, frameLength int32) {
	if !c.state.CompareAndSwap(claimIdle, claimPending) {
		panic("logbuffer: BufferClaim reused before Commit or Abort")
	}
	c.termBuffer = termBuffer
	c.frameOffset = frameOffset
	c.frameLength = frameLength
}

// Pending reports whether the claim holds a reservation awaiting Commit or Abort
func (c *BufferClaim) Pending() bool {
	return c.state.Load() == claimPending
}

// Buffer returns the payload region of the claimed frame, or nil when nothing is pending
func (c *BufferClaim) Buffer() []byte {
	if !c.Pending() {
		return nil
	}
	start := c.frameOffset + HeaderLength
	end := c.frameOffset + c.frameLength
	return c.termBuffer[start:end:end]
}

// Length returns the payload length of the claimed frame
func (c *BufferClaim) Length() int {
	return int(c.frameLength - HeaderLength)
}

// FrameOffset returns the offset of the claimed frame within its term
func (c *BufferClaim) FrameOffset() int32 {
	return c.frameOffset
}

// SetReservedValue stamps the frame's reserved value field
func (c *BufferClaim) SetReservedValue(value int64) {
	if c.Pending() {
		frameReservedValue(c.termBuffer, c.frameOffset, value)
	}
}

// Commit publishes the frame to readers
func (c *BufferClaim) Commit() error {
	if !c.state.CompareAndSwap(claimPending, claimIdle) {
		return ErrClaimCompleted
	}
	frameLengthOrdered(c.termBuffer, c.frameOffset, c.frameLength)
	c.termBuffer = nil
	return nil
}

// Abort turns the frame into padding so readers skip it
func (c *BufferClaim) Abort() error {
	if !c.state.CompareAndSwap(claimPending, claimIdle) {
		return ErrClaimCompleted
	}
	frameType(c.termBuffer, c.frameOffset, FrameTypePad)
	frameLengthOrdered(c.termBuffer, c.frameOffset, c.frameLength)
	c.termBuffer = nil
	return nil
}
