package publication

import (
	"fmt"
	"time"

	"github.com/maxpert/termlog/clock"
	"github.com/maxpert/termlog/flowcontrol"
	"github.com/maxpert/termlog/logbuffer"
	"github.com/maxpert/termlog/telemetry"
	"github.com/rs/zerolog/log"
)

// Config configures a Publication
type Config struct {
	Channel           string           // Channel the stream belongs to
	StreamID          int32            // Stream id within the channel
	SessionID         int32            // Session id written into every frame
	CorrelationID     int64            // Registration id known to the coordinator
	Log               *logbuffer.Log   // Initialised term log for the stream
	Coordinator       Coordinator      // Owner of the log
	Clock             clock.NanoClock  // Time source for connection checks
	ConnectionTimeout time.Duration    // Used by the default connection policy
	ConnectionPolicy  ConnectionPolicy // Overrides the default connection policy
}

// Publication is a handle for appending messages to one stream.
type Publication struct {
	channel       string
	streamID      int32
	sessionID     int32
	correlationID int64

	initialTermID       int32
	termLength          int32
	positionBitsToShift int
	maxPayloadLength    int32
	maxMessageLength    int32
	maxPossiblePosition int64

	log         *logbuffer.Log
	header      logbuffer.HeaderWriter
	limit       flowcontrol.ReadablePosition
	gate        *flowcontrol.Gate
	coordinator Coordinator
	clock       clock.NanoClock
	policy      ConnectionPolicy

	ref *refCount
}

// New creates the first handle for a stream with a reference count of one
func New(config Config) (*Publication, error) {
	if config.Channel == "" {
		return nil, fmt.Errorf("channel is required")
	}
	if config.Log == nil {
		return nil, fmt.Errorf("log is required")
	}
	if !config.Log.IsInitialised() {
		return nil, fmt.Errorf("log for %s/%d is not initialised", config.Channel, config.StreamID)
	}
	if config.Coordinator == nil {
		return nil, fmt.Errorf("coordinator is required")
	}

	limit := config.Coordinator.PublicationLimit(config.CorrelationID)
	if limit == nil {
		return nil, fmt.Errorf("coordinator has no publication limit for correlation id %d", config.CorrelationID)
	}

	// Set defaults
	if config.Clock == nil {
		config.Clock = clock.NewSystemNanoClock()
	}
	if config.ConnectionTimeout <= 0 {
		config.ConnectionTimeout = DefaultConnectionTimeout
	}
	if config.ConnectionPolicy == nil {
		config.ConnectionPolicy = StatusMessageTimeout(config.ConnectionTimeout)
	}

	termLength := config.Log.TermLength()
	maxPayloadLength := config.Log.MTULength() - logbuffer.HeaderLength

	return &Publication{
		channel:             config.Channel,
		streamID:            config.StreamID,
		sessionID:           config.SessionID,
		correlationID:       config.CorrelationID,
		initialTermID:       config.Log.InitialTermID(),
		termLength:          termLength,
		positionBitsToShift: config.Log.PositionBitsToShift(),
		maxPayloadLength:    maxPayloadLength,
		maxMessageLength:    logbuffer.ComputeMaxMessageLength(termLength),
		maxPossiblePosition: logbuffer.MaxPossiblePosition(termLength),
		log:                 config.Log,
		header:              config.Log.HeaderWriter(),
		limit:               limit,
		gate:                flowcontrol.NewGate(limit),
		coordinator:         config.Coordinator,
		clock:               config.Clock,
		policy:              config.ConnectionPolicy,
		ref:                 newRefCount(),
	}, nil
}

// Channel returns the channel of the stream
func (p *Publication) Channel() string { return p.channel }

// StreamID returns the stream id
func (p *Publication) StreamID() int32 { return p.streamID }

// SessionID returns the session id written into every frame
func (p *Publication) SessionID() int32 { return p.sessionID }

// CorrelationID returns the id the coordinator knows the stream by
func (p *Publication) CorrelationID() int64 { return p.correlationID }

// InitialTermID returns the term id at position zero
func (p *Publication) InitialTermID() int32 { return p.initialTermID }

// TermLength returns the length of each term
func (p *Publication) TermLength() int32 { return p.termLength }

// MaxPayloadLength returns the largest message written as a single frame
func (p *Publication) MaxPayloadLength() int32 { return p.maxPayloadLength }

// MaxMessageLength returns the largest message Offer accepts
func (p *Publication) MaxMessageLength() int32 { return p.maxMessageLength }

// MaxPossiblePosition returns the position at which the stream is exhausted
func (p *Publication) MaxPossiblePosition() int64 { return p.maxPossiblePosition }

// RefCount returns the number of outstanding references to the stream
func (p *Publication) RefCount() int64 { return p.ref.load() }

// IsClosed reports whether the last reference has been disposed
func (p *Publication) IsClosed() bool {
	return p.ref.isClosed()
}

// Position returns the current position of the stream, or Closed
func (p *Publication) Position() int64 {
	if p.ref.isClosed() {
		return Closed
	}

	return p.log.Position()
}

// PositionLimit returns the position the stream may not write past, or Closed
func (p *Publication) PositionLimit() int64 {
	if p.ref.isClosed() {
		return Closed
	}
	return p.limit.GetVolatile()
}

// AvailableWindow returns the bytes that can be written before back pressure, or Closed
func (p *Publication) AvailableWindow() int64 {
	if p.ref.isClosed() {
		return Closed
	}
	return p.limit.GetVolatile() - p.Position()
}

// IsConnected reports whether a consumer is attached to the stream
func (p *Publication) IsConnected() bool {
	if p.ref.isClosed() {
		return false
	}

	return p.policy(ConnectionState{
		CoordinatorConnected:    p.coordinator.IsPublicationConnected(p.correlationID),
		TimeOfLastStatusMessage: p.log.TimeOfLastStatusMessage(),
		NowNs:                   p.clock.NanoTime(),
		PublicationLimit:        p.limit.GetVolatile(),
	})
}

// Offer appends payload to the stream. Messages longer than MaxPayloadLength
// are split into fragments that stay contiguous in the term.
func (p *Publication) Offer(payload []byte) int64 {
	return p.OfferWithSupplier(payload, nil)
}

// OfferWithSupplier is Offer with a supplier that stamps each frame's
// reserved value just before it is committed.
func (p *Publication) OfferWithSupplier(payload []byte, supplier logbuffer.ReservedValueSupplier) int64 {
	result := p.offer(payload, supplier)
	telemetry.OfferResults.Inc(resultIndex(result))
	return result
}

func (p *Publication) offer(payload []byte, supplier logbuffer.ReservedValueSupplier) int64 {
	if p.ref.isClosed() {
		return Closed
	}
	if len(payload) > int(p.maxMessageLength) {
		return InvalidLength
	}

	length := int32(len(payload))
	fragmented := length > p.maxPayloadLength

	var framedLength int32
	if fragmented {
		framedLength = logbuffer.ComputeFragmentedFrameLength(length, p.maxPayloadLength)
	} else {
		framedLength = logbuffer.Align(length+logbuffer.HeaderLength, logbuffer.FrameAlignment)
	}

	for attempt := 0; ; attempt++ {
		termCount := p.log.ActiveTermCount()
		appender := p.log.Appender(logbuffer.IndexByTermCount(termCount))
		rawTail := appender.RawTailVolatile()
		termID := logbuffer.TermIDFromTail(rawTail)
		termOffset := logbuffer.TermOffsetFromTail(rawTail, p.termLength)

		if termCount != termID-p.initialTermID {
			return AdminAction
		}

		position := logbuffer.ComputeTermBeginPosition(termID, p.positionBitsToShift, p.initialTermID) + int64(termOffset)
		if !p.gate.Check(position + int64(framedLength)) {
			return p.backPressureStatus(position, length)
		}

		var r logbuffer.Reservation
		if fragmented {
			r = appender.AppendFragmented(p.header, termID, payload, p.maxPayloadLength, supplier)
		} else {
			r = appender.AppendUnfragmented(p.header, termID, payload, supplier)
		}

		result, retry := p.completeReservation(r, termCount, termID)
		if !retry {
			return result
		}
		if attempt > 0 {
			return AdminAction
		}
	}
}

// TryClaim reserves a single frame of length payload bytes and wraps it in
// claim. On success the caller must Commit or Abort the claim; until then
// consumers cannot read past it. Passing a claim that is still pending panics.
func (p *Publication) TryClaim(length int, claim *logbuffer.BufferClaim) int64 {
	if claim.Pending() {
		panic("publication: TryClaim called with a pending BufferClaim")
	}

	result := p.tryClaim(length, claim)
	telemetry.ClaimResults.Inc(resultIndex(result))
	return result
}

func (p *Publication) tryClaim(length int, claim *logbuffer.BufferClaim) int64 {
	if p.ref.isClosed() {
		return Closed
	}
	if length < 0 || length > int(p.maxPayloadLength) {
		return InvalidLength
	}

	claimLength := int32(length)
	framedLength := logbuffer.Align(claimLength+logbuffer.HeaderLength, logbuffer.FrameAlignment)

	for attempt := 0; ; attempt++ {
		termCount := p.log.ActiveTermCount()
		appender := p.log.Appender(logbuffer.IndexByTermCount(termCount))
		rawTail := appender.RawTailVolatile()
		termID := logbuffer.TermIDFromTail(rawTail)
		termOffset := logbuffer.TermOffsetFromTail(rawTail, p.termLength)

		if termCount != termID-p.initialTermID {
			return AdminAction
		}

		position := logbuffer.ComputeTermBeginPosition(termID, p.positionBitsToShift, p.initialTermID) + int64(termOffset)
		if !p.gate.Check(position + int64(framedLength)) {
			return p.backPressureStatus(position, claimLength)
		}

		r := appender.Claim(p.header, termID, claimLength, claim)

		result, retry := p.completeReservation(r, termCount, termID)
		if !retry {
			return result
		}
		if attempt > 0 {
			return AdminAction
		}
	}
}

// completeReservation turns a reservation into a result. retry is true when
// the term was exhausted and the log has been rotated.
func (p *Publication) completeReservation(r logbuffer.Reservation, termCount, termID int32) (result int64, retry bool) {
	switch r.Outcome {
	case logbuffer.Reserved:
		return logbuffer.ComputeTermBeginPosition(r.TermID, p.positionBitsToShift, p.initialTermID) + int64(r.ResultingOffset), false

	case logbuffer.TermMismatch:
		telemetry.TermMismatchPadding.Inc()
		log.Warn().
			Str("channel", p.channel).
			Int32("stream_id", p.streamID).
			Int64("correlation_id", p.correlationID).
			Int32("term_id", termID).
			Int32("tail_term_id", r.TermID).
			Msg("Reservation landed in a different term")
		return AdminAction, false

	default:
		if r.Outcome == logbuffer.EndOfTerm {
			telemetry.EndOfTermPadding.Inc()
		}
		return p.handleEndOfTerm(termCount, termID)
	}
}

func (p *Publication) handleEndOfTerm(termCount, termID int32) (int64, bool) {
	termBegin := logbuffer.ComputeTermBeginPosition(termID, p.positionBitsToShift, p.initialTermID)
	if termBegin+int64(p.termLength) >= p.maxPossiblePosition {
		log.Warn().
			Str("channel", p.channel).
			Int32("stream_id", p.streamID).
			Int64("position", termBegin+int64(p.termLength)).
			Msg("Stream reached its maximum position")
		return MaxPositionExceeded, false
	}

	if p.log.Rotate(termCount, termID) {
		telemetry.TermRotationsTotal.Inc()
		log.Debug().
			Str("channel", p.channel).
			Int32("stream_id", p.streamID).
			Int32("term_id", termID+1).
			Msg("Rotated term")
	}
	return AdminAction, true
}

func (p *Publication) backPressureStatus(position int64, messageLength int32) int64 {
	if position+int64(messageLength) >= p.maxPossiblePosition {
		return MaxPositionExceeded
	}
	if p.IsConnected() {
		return BackPressured
	}
	return NotConnected
}

// IncRef takes another reference on the stream. Each call must be balanced by
// a Dispose.
func (p *Publication) IncRef() error {
	return p.ref.incRef()
}

// Share takes another reference and returns a new handle for it
func (p *Publication) Share() (*Publication, error) {
	if err := p.ref.incRef(); err != nil {
		return nil, err
	}
	clone := *p
	return &clone, nil
}

// Dispose drops one reference. The last one closes every handle on the stream
// and releases the log through the coordinator, whose error is returned.
// Disposing a closed publication does nothing.
func (p *Publication) Dispose() error {
	if !p.ref.decRef() {
		return nil
	}

	log.Debug().
		Str("channel", p.channel).
		Int32("stream_id", p.streamID).
		Int64("correlation_id", p.correlationID).
		Msg("Last publication reference disposed")

	if err := p.coordinator.ReleasePublication(p.correlationID); err != nil {
		return fmt.Errorf("failed to release publication %d: %w", p.correlationID, err)
	}
	return nil
}

// Revoke closes every handle on the stream without releasing the log. The
// coordinator calls it when it tears the log down while references remain.
func (p *Publication) Revoke() {
	p.ref.revoke()
}
