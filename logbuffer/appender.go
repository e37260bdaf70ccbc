package logbuffer

// Outcome is the result of reserving space in a term
type Outcome int

const (
	// Reserved means the slot fits inside the term and belongs to the caller
	Reserved Outcome = iota
	// TermExhausted means an earlier writer already filled the term; nothing was written
	TermExhausted
	// EndOfTerm means the slot crossed the end of the term; the remainder was padded
	EndOfTerm
	// TermMismatch means the partition had moved on to a different term than
	// the caller observed; the slot was covered with padding
	TermMismatch
)

// String returns the outcome name
func (o Outcome) String() string {
	switch o {
	case Reserved:
		return "RESERVED"
	case TermExhausted:
		return "TERM_EXHAUSTED"
	case EndOfTerm:
		return "END_OF_TERM"
	case TermMismatch:
		return "TERM_MISMATCH"
	default:
		return "UNKNOWN"
	}
}

// Reservation describes a slot obtained from a term's tail counter
type Reservation struct {
	Outcome Outcome
	// TermID is the term the tail counter belonged to
	TermID int32
	// TermOffset is the offset of the slot in the term (the tail before the add)
	TermOffset int32
	// FrameLength is the aligned number of bytes reserved
	FrameLength int32
	// ResultingOffset is the tail after the add; only meaningful when Reserved
	ResultingOffset int32
}

// TermAppender appends frames to one term partition. Any number of goroutines
// or processes may append to the same partition concurrently; the atomic add
// on the tail counter is the only point where they meet.
type TermAppender struct {
	termBuffer []byte
	meta       []byte
	tailOffset int
	termLength int32
}

// TermBuffer returns the partition this appender writes to
func (a *TermAppender) TermBuffer() []byte {
	return a.termBuffer
}

// RawTailVolatile returns the packed tail counter for the partition
func (a *TermAppender) RawTailVolatile() int64 {
	return getInt64Volatile(a.meta, a.tailOffset)
}

// Reserve claims an aligned slot for a frame carrying messageLength payload
// bytes in term termID. When the outcome is Reserved the caller owns
// [TermOffset, ResultingOffset) and must cover it with a committed frame,
// otherwise readers stall at that offset. For any other outcome the caller
// must not write; padding has already been written where needed.
func (a *TermAppender) Reserve(header HeaderWriter, termID, messageLength int32) Reservation {
	return a.reserve(header, termID, Align(messageLength+HeaderLength, FrameAlignment))
}

func (a *TermAppender) reserve(header HeaderWriter, termID, alignedLength int32) Reservation {
	rawTail := getAndAddInt64(a.meta, a.tailOffset, int64(alignedLength))
	tailTermID := TermIDFromTail(rawTail)
	termOffset := RawOffsetFromTail(rawTail)
	resultingOffset := termOffset + int64(alignedLength)
	termLength := int64(a.termLength)

	r := Reservation{
		TermID:      tailTermID,
		TermOffset:  int32(min(termOffset, termLength)),
		FrameLength: alignedLength,
	}

	switch {
	case tailTermID != termID:
		// A delayed writer landed in a later cycle of this partition. Keep the
		// term gap free by padding whatever part of the slot lies inside it.
		if termOffset < termLength {
			padding := min(int64(alignedLength), termLength-termOffset)
			header.writePadding(a.termBuffer, int32(termOffset), int32(padding), tailTermID)
		}
		r.Outcome = TermMismatch
	case termOffset >= termLength:
		r.Outcome = TermExhausted
	case resultingOffset > termLength:
		// First writer past the end pads the remainder of the term
		header.writePadding(a.termBuffer, int32(termOffset), int32(termLength-termOffset), tailTermID)
		r.Outcome = EndOfTerm
	default:
		r.Outcome = Reserved
		r.ResultingOffset = int32(resultingOffset)
	}

	return r
}

// AppendUnfragmented writes payload as a single frame and commits it.
func (a *TermAppender) AppendUnfragmented(header HeaderWriter, termID int32, payload []byte, supplier ReservedValueSupplier) Reservation {
	frameLength := int32(len(payload)) + HeaderLength
	r := a.reserve(header, termID, Align(frameLength, FrameAlignment))
	if r.Outcome != Reserved {
		return r
	}

	offset := r.TermOffset
	header.write(a.termBuffer, offset, frameLength, r.TermID)
	copy(a.termBuffer[offset+HeaderLength:], payload)

	if supplier != nil {
		frameReservedValue(a.termBuffer, offset, supplier(a.termBuffer, offset, frameLength))
	}

	frameLengthOrdered(a.termBuffer, offset, frameLength)
	return r
}

// AppendFragmented splits payload into frames of at most maxPayloadLength
// bytes, reserving them all with one add so the fragments stay contiguous.
// The first frame carries BEGIN and the last END.
func (a *TermAppender) AppendFragmented(header HeaderWriter, termID int32, payload []byte, maxPayloadLength int32, supplier ReservedValueSupplier) Reservation {
	length := int32(len(payload))
	required := ComputeFragmentedFrameLength(length, maxPayloadLength)
	r := a.reserve(header, termID, required)
	if r.Outcome != Reserved {
		return r
	}

	flags := BeginFragmentFlag
	remaining := length
	offset := r.TermOffset

	for remaining > 0 {
		bytesToWrite := min(remaining, maxPayloadLength)
		frameLength := bytesToWrite + HeaderLength
		alignedLength := Align(frameLength, FrameAlignment)

		header.write(a.termBuffer, offset, frameLength, r.TermID)
		start := length - remaining
		copy(a.termBuffer[offset+HeaderLength:], payload[start:start+bytesToWrite])

		if remaining <= maxPayloadLength {
			flags |= EndFragmentFlag
		}
		frameFlags(a.termBuffer, offset, flags)

		if supplier != nil {
			frameReservedValue(a.termBuffer, offset, supplier(a.termBuffer, offset, frameLength))
		}

		frameLengthOrdered(a.termBuffer, offset, frameLength)

		flags = 0
		offset += alignedLength
		remaining -= bytesToWrite
	}

	return r
}

// Claim reserves a frame for length payload bytes, writes its header, and
// hands the payload region to claim. The frame stays uncommitted until the
// claim is committed or aborted.
func (a *TermAppender) Claim(header HeaderWriter, termID, length int32, claim *BufferClaim) Reservation {
	if claim.Pending() {
		panic("logbuffer: BufferClaim reused before Commit or Abort")
	}

	frameLength := length + HeaderLength
	r := a.reserve(header, termID, Align(frameLength, FrameAlignment))
	if r.Outcome != Reserved {
		return r
	}

	header.write(a.termBuffer, r.TermOffset, frameLength, r.TermID)
	claim.wrap(a.termBuffer, r.TermOffset, frameLength)
	return r
}
