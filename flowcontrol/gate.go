package flowcontrol

// Gate refuses reservations that would take a publication past its limit.
//
// The check and the reservation that follows it are not atomic. Writers racing
// on the same stream can each pass the check and together overshoot the limit
// by at most one frame per writer.
type Gate struct {
	limit ReadablePosition
}

// NewGate creates a gate over limit
func NewGate(limit ReadablePosition) *Gate {
	return &Gate{limit: limit}
}

// Check reports whether a write ending at requiredPosition is allowed
func (g *Gate) Check(requiredPosition int64) bool {
	return requiredPosition <= g.limit.GetVolatile()
}

// Limit returns the current limit
func (g *Gate) Limit() int64 {
	return g.limit.GetVolatile()
}
