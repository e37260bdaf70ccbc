package logbuffer

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// ErrLogClosed is returned when a closed log is closed again
var ErrLogClosed = errors.New("log already closed")

// LogParams are the values written into a fresh log's metadata
type LogParams struct {
	InitialTermID int32
	MTULength     int32
	CorrelationID int64
	SessionID     int32
	StreamID      int32
}

// Log is the term log for one stream: three term partitions plus the metadata
// page that carries their tail counters. All shared state is reached through
// atomic accessors on the metadata page.
type Log struct {
	resource            Resource
	termLength          int32
	positionBitsToShift int
	meta                []byte
	terms               [PartitionCount][]byte
	appenders           [PartitionCount]*TermAppender
	closed              atomic.Bool
}

// NewLog wraps the buffers supplied by resource. The metadata is not touched;
// call Initialise for a new stream.
func NewLog(resource Resource) (*Log, error) {
	termLength := resource.TermLength()
	if err := CheckTermLength(termLength); err != nil {
		return nil, err
	}

	meta := resource.MetaDataBuffer()
	if len(meta) < MetaDataLength {
		return nil, fmt.Errorf("metadata buffer too small: %d < %d", len(meta), MetaDataLength)
	}
	if !isAligned8(meta) {
		return nil, fmt.Errorf("metadata buffer is not 8-byte aligned")
	}

	l := &Log{
		resource:            resource,
		termLength:          termLength,
		positionBitsToShift: PositionBitsToShift(termLength),
		meta:                meta,
	}

	for i := 0; i < PartitionCount; i++ {
		term := resource.TermBuffer(i)
		if int32(len(term)) != termLength {
			return nil, fmt.Errorf("term %d has length %d, expected %d", i, len(term), termLength)
		}
		if !isAligned8(term) {
			return nil, fmt.Errorf("term %d is not 8-byte aligned", i)
		}
		l.terms[i] = term
		l.appenders[i] = &TermAppender{
			termBuffer: term,
			meta:       meta,
			tailOffset: tailCounterOffset(i),
			termLength: termLength,
		}
	}

	if stored := getInt32Volatile(meta, termLengthOffset); stored != 0 && stored != termLength {
		return nil, fmt.Errorf("metadata term length %d does not match buffers %d", stored, termLength)
	}

	return l, nil
}

// Initialise writes a fresh stream's metadata and seeds the tail counters.
// Partition 0 starts at initialTermID; the others carry the term id they held
// one full cycle earlier so that Rotate treats them as stale.
func (l *Log) Initialise(params LogParams) error {
	mtu := params.MTULength
	if mtu == 0 {
		mtu = DefaultMTULength
	}
	if err := CheckMTULength(mtu, l.termLength); err != nil {
		return err
	}

	putInt64Ordered(l.meta, correlationIDOffset, params.CorrelationID)
	putInt32Ordered(l.meta, initialTermIDOffset, params.InitialTermID)
	putInt32Ordered(l.meta, defaultFrameHeaderLenOffset, HeaderLength)
	putInt32Ordered(l.meta, mtuLengthOffset, mtu)
	NewHeaderWriter(params.SessionID, params.StreamID).encodeDefaultHeader(l.meta[defaultFrameHeaderOffset:])

	putInt64Ordered(l.meta, tailCounterOffset(0), PackTail(params.InitialTermID, 0))
	for i := 1; i < PartitionCount; i++ {
		expectedTermID := params.InitialTermID - PartitionCount + int32(i)
		putInt64Ordered(l.meta, tailCounterOffset(i), PackTail(expectedTermID, 0))
	}
	putInt32Ordered(l.meta, activeTermCountOffset, 0)
	putInt64Ordered(l.meta, timeOfLastStatusMessageOffset, 0)

	// Written last: a non-zero term length marks the metadata as initialised
	putInt32Ordered(l.meta, termLengthOffset, l.termLength)
	return nil
}

// IsInitialised reports whether Initialise has completed on this log
func (l *Log) IsInitialised() bool {
	return getInt32Volatile(l.meta, termLengthOffset) != 0
}

// TermLength returns the length of each term partition
func (l *Log) TermLength() int32 {
	return l.termLength
}

// PositionBitsToShift returns log2 of the term length
func (l *Log) PositionBitsToShift() int {
	return l.positionBitsToShift
}

// InitialTermID returns the term id the stream started at
func (l *Log) InitialTermID() int32 {
	return getInt32Volatile(l.meta, initialTermIDOffset)
}

// MTULength returns the largest frame the stream writes without fragmenting
func (l *Log) MTULength() int32 {
	return getInt32Volatile(l.meta, mtuLengthOffset)
}

// CorrelationID returns the registration id recorded at creation
func (l *Log) CorrelationID() int64 {
	return getInt64Volatile(l.meta, correlationIDOffset)
}

// HeaderWriter returns a writer for the stream's default frame header
func (l *Log) HeaderWriter() HeaderWriter {
	return decodeDefaultHeader(l.meta[defaultFrameHeaderOffset:])
}

// TermBuffer returns the term partition at index
func (l *Log) TermBuffer(index int) []byte {
	return l.terms[index]
}

// Appender returns the appender for the partition at index
func (l *Log) Appender(index int) *TermAppender {
	return l.appenders[index]
}

// RawTail returns the packed tail counter of the partition at index
func (l *Log) RawTail(index int) int64 {
	return getInt64Volatile(l.meta, tailCounterOffset(index))
}

// ActiveTermCount returns the number of rotations performed since creation
func (l *Log) ActiveTermCount() int32 {
	return getInt32Volatile(l.meta, activeTermCountOffset)
}

// ActivePartitionIndex returns the partition currently being appended to
func (l *Log) ActivePartitionIndex() int {
	return IndexByTermCount(l.ActiveTermCount())
}

// RawTailVolatile returns the packed tail counter of the active partition
func (l *Log) RawTailVolatile() int64 {
	return l.RawTail(l.ActivePartitionIndex())
}

// Position returns the stream position of the active partition's tail
func (l *Log) Position() int64 {
	rawTail := l.RawTailVolatile()
	termOffset := TermOffsetFromTail(rawTail, l.termLength)
	return ComputeTermBeginPosition(TermIDFromTail(rawTail), l.positionBitsToShift, l.InitialTermID()) + int64(termOffset)
}

// Rotate moves the log from the term (termCount, termID) to the next one.
// The next partition's tail is reset to (termID+1, 0) only while it still
// carries the term id from one cycle back, and the active term count only
// advances if it still equals termCount. Any number of writers may race to
// rotate the same term; exactly one advances the count and true is returned
// to that caller only.
func (l *Log) Rotate(termCount, termID int32) bool {
	nextTermID := termID + 1
	nextTermCount := termCount + 1
	nextIndex := IndexByTermCount(nextTermCount)
	expectedTermID := nextTermID - PartitionCount
	tailOffset := tailCounterOffset(nextIndex)

	for {
		rawTail := getInt64Volatile(l.meta, tailOffset)
		if TermIDFromTail(rawTail) != expectedTermID {
			break
		}
		if casInt64(l.meta, tailOffset, rawTail, PackTail(nextTermID, 0)) {
			break
		}
	}

	return casInt32(l.meta, activeTermCountOffset, termCount, nextTermCount)
}

// TimeOfLastStatusMessage returns the clock time at which a status message was
// last seen for this stream
func (l *Log) TimeOfLastStatusMessage() int64 {
	return getInt64Volatile(l.meta, timeOfLastStatusMessageOffset)
}

// SetTimeOfLastStatusMessage records when a status message was seen. Written
// by the status message receiver, not by publishers.
func (l *Log) SetTimeOfLastStatusMessage(nanoTime int64) {
	putInt64Ordered(l.meta, timeOfLastStatusMessageOffset, nanoTime)
}

// Clean zeroes log bytes in [cleanPosition, position), one term at a time, and
// returns the new clean position. Only bytes every reader has consumed may be
// cleaned; the writer must not be able to reach them before the next rotation.
func (l *Log) Clean(cleanPosition, position int64) int64 {
	for cleanPosition < position {
		index := IndexByPosition(cleanPosition, l.positionBitsToShift)
		term := l.terms[index]
		termOffset := OffsetInTerm(cleanPosition, l.termLength)
		length := min(position-cleanPosition, int64(l.termLength-termOffset))

		// The first word goes last so a frame length never appears before its body is cleared
		start := int64(termOffset)
		if length >= 8 && start&7 == 0 {
			clear(term[start+8 : start+length])
			putInt64Ordered(term, int(start), 0)
		} else {
			clear(term[start : start+length])
		}

		cleanPosition += length
	}
	return cleanPosition
}

// Close releases the underlying resource. Only the owner of the last
// reference may call it.
func (l *Log) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return ErrLogClosed
	}
	return l.resource.Close()
}

func tailCounterOffset(index int) int {
	return termTailCountersOffset + index*8
}
