package logbuffer

import (
	"encoding/binary"
)

// Frame header layout (32 bytes, little-endian, 32-byte aligned):
//
//	int32  frame_length   // written last; negated until committed
//	uint8  version
//	uint8  flags          // BEGIN 0x80, END 0x40
//	uint16 type           // PAD 0x00, DATA 0x01
//	int32  term_offset
//	int32  session_id
//	int32  stream_id
//	int32  term_id
//	int64  reserved_value
const (
	HeaderLength   int32 = 32
	FrameAlignment int32 = 32

	frameLengthFieldOffset   = 0
	versionFieldOffset       = 4
	flagsFieldOffset         = 5
	typeFieldOffset          = 6
	termOffsetFieldOffset    = 8
	sessionIDFieldOffset     = 12
	streamIDFieldOffset      = 16
	termIDFieldOffset        = 20
	reservedValueFieldOffset = 24
)

// CurrentVersion is the frame version written by this package
const CurrentVersion uint8 = 0

// Frame flags
const (
	BeginFragmentFlag uint8 = 0x80
	EndFragmentFlag   uint8 = 0x40
	UnfragmentedFlags       = BeginFragmentFlag | EndFragmentFlag
)

// Frame types
const (
	FrameTypePad  uint16 = 0x00
	FrameTypeData uint16 = 0x01
)

// ReservedValueSupplier computes the reserved value stamped into a frame just
// before it is committed. termBuffer holds the frame at termOffset.
type ReservedValueSupplier func(termBuffer []byte, termOffset, frameLength int32) int64

// FrameHeader is a decoded copy of a frame header
type FrameHeader struct {
	FrameLength   int32
	Version       uint8
	Flags         uint8
	Type          uint16
	TermOffset    int32
	SessionID     int32
	StreamID      int32
	TermID        int32
	ReservedValue int64
}

// IsPadding reports whether the frame fills the end of a term or an aborted claim
func (h FrameHeader) IsPadding() bool {
	return h.Type == FrameTypePad
}

// Align rounds value up to the next multiple of alignment (a power of two).
func Align(value, alignment int32) int32 {
	return (value + alignment - 1) &^ (alignment - 1)
}

// FrameLengthVolatile reads a frame's length field with an atomic load.
// Values <= 0 mean the frame is not committed yet.
func FrameLengthVolatile(termBuffer []byte, frameOffset int32) int32 {
	return getInt32Volatile(termBuffer, int(frameOffset)+frameLengthFieldOffset)
}

func frameLengthOrdered(termBuffer []byte, frameOffset, frameLength int32) {
	putInt32Ordered(termBuffer, int(frameOffset)+frameLengthFieldOffset, frameLength)
}

func frameType(termBuffer []byte, frameOffset int32, typ uint16) {
	binary.LittleEndian.PutUint16(termBuffer[int(frameOffset)+typeFieldOffset:], typ)
}

func frameFlags(termBuffer []byte, frameOffset int32, flags uint8) {
	termBuffer[int(frameOffset)+flagsFieldOffset] = flags
}

func frameReservedValue(termBuffer []byte, frameOffset int32, value int64) {
	binary.LittleEndian.PutUint64(termBuffer[int(frameOffset)+reservedValueFieldOffset:], uint64(value))
}

// ReadFrameHeader decodes the header at frameOffset. The length field is read
// with an atomic load; the remaining fields are only meaningful once it is positive.
func ReadFrameHeader(termBuffer []byte, frameOffset int32) FrameHeader {
	b := termBuffer[frameOffset : frameOffset+HeaderLength]
	return FrameHeader{
		FrameLength:   FrameLengthVolatile(termBuffer, frameOffset),
		Version:       b[versionFieldOffset],
		Flags:         b[flagsFieldOffset],
		Type:          binary.LittleEndian.Uint16(b[typeFieldOffset:]),
		TermOffset:    int32(binary.LittleEndian.Uint32(b[termOffsetFieldOffset:])),
		SessionID:     int32(binary.LittleEndian.Uint32(b[sessionIDFieldOffset:])),
		StreamID:      int32(binary.LittleEndian.Uint32(b[streamIDFieldOffset:])),
		TermID:        int32(binary.LittleEndian.Uint32(b[termIDFieldOffset:])),
		ReservedValue: int64(binary.LittleEndian.Uint64(b[reservedValueFieldOffset:])),
	}
}

// HeaderWriter stamps the per-stream header fields into frames.
type HeaderWriter struct {
	sessionID int32
	streamID  int32
}

// NewHeaderWriter creates a HeaderWriter for the given stream
func NewHeaderWriter(sessionID, streamID int32) HeaderWriter {
	return HeaderWriter{sessionID: sessionID, streamID: streamID}
}

// write fills in a data frame header with the negated length so readers keep
// skipping it until frameLengthOrdered publishes the real length.
func (w HeaderWriter) write(termBuffer []byte, frameOffset, frameLength, termID int32) {
	frameLengthOrdered(termBuffer, frameOffset, -frameLength)

	b := termBuffer[frameOffset : frameOffset+HeaderLength]
	b[versionFieldOffset] = CurrentVersion
	b[flagsFieldOffset] = UnfragmentedFlags
	binary.LittleEndian.PutUint16(b[typeFieldOffset:], FrameTypeData)
	binary.LittleEndian.PutUint32(b[termOffsetFieldOffset:], uint32(frameOffset))
	binary.LittleEndian.PutUint32(b[sessionIDFieldOffset:], uint32(w.sessionID))
	binary.LittleEndian.PutUint32(b[streamIDFieldOffset:], uint32(w.streamID))
	binary.LittleEndian.PutUint32(b[termIDFieldOffset:], uint32(termID))
	binary.LittleEndian.PutUint64(b[reservedValueFieldOffset:], 0)
}

// writePadding covers [frameOffset, frameOffset+length) with a committed padding frame.
func (w HeaderWriter) writePadding(termBuffer []byte, frameOffset, length, termID int32) {
	w.write(termBuffer, frameOffset, length, termID)
	frameType(termBuffer, frameOffset, FrameTypePad)
	frameLengthOrdered(termBuffer, frameOffset, length)
}

// encodeDefaultHeader writes the stream's template header into the metadata page
func (w HeaderWriter) encodeDefaultHeader(dst []byte) {
	b := dst[:HeaderLength]
	clear(b)
	b[versionFieldOffset] = CurrentVersion
	b[flagsFieldOffset] = UnfragmentedFlags
	binary.LittleEndian.PutUint16(b[typeFieldOffset:], FrameTypeData)
	binary.LittleEndian.PutUint32(b[sessionIDFieldOffset:], uint32(w.sessionID))
	binary.LittleEndian.PutUint32(b[streamIDFieldOffset:], uint32(w.streamID))
}

func decodeDefaultHeader(src []byte) HeaderWriter {
	return HeaderWriter{
		sessionID: int32(binary.LittleEndian.Uint32(src[sessionIDFieldOffset:])),
		streamID:  int32(binary.LittleEndian.Uint32(src[streamIDFieldOffset:])),
	}
}
