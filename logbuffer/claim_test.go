package logbuffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func countFrames(term []byte) (data, padding int) {
	ScanFrames(term, 0, func(header FrameHeader, _ []byte) bool {
		if header.IsPadding() {
			padding++
		} else {
			data++
		}
		return true
	})
	return data, padding
}

func TestClaimCommit(t *testing.T) {
	l := newTestLog(t)
	var claim BufferClaim

	r := l.Appender(0).Claim(l.HeaderWriter(), testInitialTermID, 100, &claim)
	require.Equal(t, Reserved, r.Outcome)
	require.True(t, claim.Pending())
	assert.Equal(t, 100, claim.Length())
	assert.Equal(t, int32(0), claim.FrameOffset())
	require.Len(t, claim.Buffer(), 100)

	// Uncommitted frames hold a negative length and stop readers
	assert.Equal(t, -(100 + HeaderLength), FrameLengthVolatile(l.TermBuffer(0), 0))
	data, _ := countFrames(l.TermBuffer(0))
	assert.Equal(t, 0, data)

	copy(claim.Buffer(), "claimed payload")
	claim.SetReservedValue(77)
	require.NoError(t, claim.Commit())
	assert.False(t, claim.Pending())
	assert.Nil(t, claim.Buffer())

	header := ReadFrameHeader(l.TermBuffer(0), 0)
	assert.Equal(t, 100+HeaderLength, header.FrameLength)
	assert.Equal(t, FrameTypeData, header.Type)
	assert.Equal(t, int64(77), header.ReservedValue)
	assert.Equal(t, []byte("claimed payload"), l.TermBuffer(0)[HeaderLength:HeaderLength+15])

	assert.ErrorIs(t, claim.Commit(), ErrClaimCompleted)
	assert.ErrorIs(t, claim.Abort(), ErrClaimCompleted)
}

func TestClaimAbortBecomesPadding(t *testing.T) {
	l := newTestLog(t)
	var claim BufferClaim

	r := l.Appender(0).Claim(l.HeaderWriter(), testInitialTermID, 40, &claim)
	require.Equal(t, Reserved, r.Outcome)
	require.NoError(t, claim.Abort())
	assert.ErrorIs(t, claim.Abort(), ErrClaimCompleted)

	data, padding := countFrames(l.TermBuffer(0))
	assert.Equal(t, 0, data)
	assert.Equal(t, 1, padding)

	// A completed claim can be used again
	r = l.Appender(0).Claim(l.HeaderWriter(), testInitialTermID, 8, &claim)
	require.Equal(t, Reserved, r.Outcome)
	assert.Equal(t, int32(96), claim.FrameOffset())
	require.NoError(t, claim.Commit())

	data, padding = countFrames(l.TermBuffer(0))
	assert.Equal(t, 1, data)
	assert.Equal(t, 1, padding)
}

func TestClaimReuseWhilePendingPanics(t *testing.T) {
	l := newTestLog(t)
	var claim BufferClaim

	l.Appender(0).Claim(l.HeaderWriter(), testInitialTermID, 8, &claim)
	tail := l.RawTail(0)

	assert.Panics(t, func() {
		l.Appender(0).Claim(l.HeaderWriter(), testInitialTermID, 8, &claim)
	})
	assert.Equal(t, tail, l.RawTail(0), "no space reserved by the rejected claim")
	require.NoError(t, claim.Commit())
}

func TestClaimNotWrappedOnFailure(t *testing.T) {
	l := newTestLog(t)
	var claim BufferClaim

	r := l.Appender(1).Claim(l.HeaderWriter(), testInitialTermID+1, 8, &claim)
	assert.Equal(t, TermMismatch, r.Outcome)
	assert.False(t, claim.Pending())
	assert.ErrorIs(t, claim.Commit(), ErrClaimCompleted)
}
