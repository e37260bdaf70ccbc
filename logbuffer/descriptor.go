package logbuffer

import (
	"errors"
	"fmt"
)

// Log geometry constants
const (
	// PartitionCount is the number of term partitions in a log
	PartitionCount = 3

	// TermMinLength is the smallest allowed term (64KB)
	TermMinLength int32 = 64 * 1024

	// TermMaxLength is the largest allowed term (1GB)
	TermMaxLength int32 = 1024 * 1024 * 1024

	// MaxMessageLength caps a single (possibly fragmented) message at 16MB
	MaxMessageLength int32 = 16 * 1024 * 1024

	// MaxUDPPayloadLength caps the MTU a publication can be configured with
	MaxUDPPayloadLength int32 = 65504

	// DefaultMTULength is used when no MTU is configured
	DefaultMTULength int32 = 1408
)

// Metadata page layout. Tail counters sit together at the front of the page;
// everything written once at creation lives on later cache lines.
const (
	cacheLineLength = 64

	termTailCountersOffset        = 0
	activeTermCountOffset         = termTailCountersOffset + 8*PartitionCount // 0x18
	timeOfLastStatusMessageOffset = cacheLineLength * 2                       // 0x80
	correlationIDOffset           = timeOfLastStatusMessageOffset + 8         // 0x88
	initialTermIDOffset           = correlationIDOffset + 8                   // 0x90
	defaultFrameHeaderLenOffset   = initialTermIDOffset + 4                   // 0x94
	mtuLengthOffset               = defaultFrameHeaderLenOffset + 4           // 0x98
	termLengthOffset              = mtuLengthOffset + 4                       // 0x9C
	defaultFrameHeaderOffset      = cacheLineLength * 3                       // 0xC0

	// MetaDataLength is the size of the metadata page at the end of a log
	MetaDataLength = 4096
)

var (
	// ErrInvalidTermLength is returned when a term length is out of range or not a power of two
	ErrInvalidTermLength = errors.New("invalid term length")

	// ErrInvalidMTU is returned when an MTU cannot carry frames for the log
	ErrInvalidMTU = errors.New("invalid mtu length")
)

// CheckTermLength validates a term length at stream creation.
func CheckTermLength(termLength int32) error {
	if termLength < TermMinLength {
		return fmt.Errorf("%w: %d less than min %d", ErrInvalidTermLength, termLength, TermMinLength)
	}
	if termLength > TermMaxLength {
		return fmt.Errorf("%w: %d greater than max %d", ErrInvalidTermLength, termLength, TermMaxLength)
	}
	if termLength&(termLength-1) != 0 {
		return fmt.Errorf("%w: %d not a power of 2", ErrInvalidTermLength, termLength)
	}
	return nil
}

// CheckMTULength validates an MTU against the frame alignment and term length.
func CheckMTULength(mtu, termLength int32) error {
	if mtu < HeaderLength || mtu > MaxUDPPayloadLength {
		return fmt.Errorf("%w: %d outside [%d, %d]", ErrInvalidMTU, mtu, HeaderLength, MaxUDPPayloadLength)
	}
	if mtu&(FrameAlignment-1) != 0 {
		return fmt.Errorf("%w: %d not a multiple of %d", ErrInvalidMTU, mtu, FrameAlignment)
	}
	if mtu > termLength {
		return fmt.Errorf("%w: %d greater than term length %d", ErrInvalidMTU, mtu, termLength)
	}
	return nil
}

// ComputeLogLength returns the total bytes needed for a log with the given term length.
func ComputeLogLength(termLength int32) int64 {
	return int64(termLength)*PartitionCount + MetaDataLength
}

// ComputeMaxMessageLength returns the largest message a publication on a term
// of the given length accepts.
func ComputeMaxMessageLength(termLength int32) int32 {
	return min(termLength/8, MaxMessageLength)
}

// ComputeFragmentedFrameLength returns the bytes a message of the given length
// occupies in a term once split into frames of at most maxPayloadLength.
func ComputeFragmentedFrameLength(length, maxPayloadLength int32) int32 {
	numMaxPayloads := length / maxPayloadLength
	remainingPayload := length % maxPayloadLength

	var lastFrameLength int32
	if remainingPayload > 0 {
		lastFrameLength = Align(remainingPayload+HeaderLength, FrameAlignment)
	}

	return numMaxPayloads*(maxPayloadLength+HeaderLength) + lastFrameLength
}
