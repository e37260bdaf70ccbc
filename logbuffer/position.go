package logbuffer

import "math/bits"

// NullPosition is returned by ComputePosition when the inputs do not describe
// a position in the stream.
const NullPosition int64 = -1

// PositionBitsToShift returns log2(termLength). termLength must be a power of two.
func PositionBitsToShift(termLength int32) int {
	return bits.TrailingZeros32(uint32(termLength))
}

// OffsetInTerm returns the offset within its term of the given position
func OffsetInTerm(position int64, termLength int32) int32 {
	return int32(position & int64(termLength-1))
}

// TermID returns the term id holding the given position. The addition wraps at
// 32 bits, the same way term ids do.
func TermID(position int64, positionBitsToShift int, initialTermID int32) int32 {
	return int32(position>>positionBitsToShift) + initialTermID
}

// ComputeTermBeginPosition returns the position at which activeTermID begins.
func ComputeTermBeginPosition(activeTermID int32, positionBitsToShift int, initialTermID int32) int64 {
	termCount := int64(activeTermID - initialTermID)
	return termCount << positionBitsToShift
}

// ComputePosition maps a (term id, term offset) pair back to a stream position.
// Returns NullPosition if termOffset is outside [0, termLength).
func ComputePosition(termID, termOffset, termLength, initialTermID int32) int64 {
	if termOffset < 0 || termOffset >= termLength {
		return NullPosition
	}

	return ComputeTermBeginPosition(termID, PositionBitsToShift(termLength), initialTermID) + int64(termOffset)
}

// ActivePartitionIndex returns the partition holding termID. The result is
// always in [0, PartitionCount).
func ActivePartitionIndex(termID, initialTermID int32) int {
	return IndexByTermCount(termID - initialTermID)
}

// IndexByTermCount returns the partition used for the given term count.
func IndexByTermCount(termCount int32) int {
	index := int(termCount % PartitionCount)
	if index < 0 {
		index += PartitionCount
	}
	return index
}

// IndexByPosition returns the partition holding the given position.
func IndexByPosition(position int64, positionBitsToShift int) int {
	return int((position >> positionBitsToShift) % PartitionCount)
}

// PackTail packs a term id and raw tail offset into a tail counter value.
func PackTail(termID, termOffset int32) int64 {
	return int64(termID)<<32 | int64(uint32(termOffset))
}

// TermIDFromTail extracts the term id from a packed tail counter.
func TermIDFromTail(rawTail int64) int32 {
	return int32(rawTail >> 32)
}

// RawOffsetFromTail extracts the unclamped offset from a packed tail counter.
// It can exceed the term length after the term has been exhausted.
func RawOffsetFromTail(rawTail int64) int64 {
	return rawTail & 0xFFFF_FFFF
}

// TermOffsetFromTail extracts the tail offset, clamped to the term length.
func TermOffsetFromTail(rawTail int64, termLength int32) int32 {
	offset := RawOffsetFromTail(rawTail)
	if offset > int64(termLength) {
		return termLength
	}
	return int32(offset)
}

// MaxPossiblePosition is the highest position a stream can reach before the
// term count would overflow an int32.
func MaxPossiblePosition(termLength int32) int64 {
	return int64(termLength) << 31
}
