package logbuffer

// FrameHandler is called for each committed frame. payload excludes the
// header and alignment padding. Returning false stops the walk after this frame.
type FrameHandler func(header FrameHeader, payload []byte) bool

// ScanFrames walks committed frames in termBuffer starting at offset and
// returns the offset just past the last frame visited. The walk stops at the
// first frame whose length is not yet positive, at the end of the term, or
// when fn returns false. Padding frames are passed to fn like any other.
func ScanFrames(termBuffer []byte, offset int32, fn FrameHandler) int32 {
	termLength := int32(len(termBuffer))

	for offset < termLength {
		frameLength := FrameLengthVolatile(termBuffer, offset)
		if frameLength <= 0 {
			break
		}

		header := ReadFrameHeader(termBuffer, offset)
		payload := termBuffer[offset+HeaderLength : offset+frameLength]
		offset += Align(frameLength, FrameAlignment)

		if !fn(header, payload) {
			break
		}
	}

	return offset
}
