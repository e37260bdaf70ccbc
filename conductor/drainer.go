package conductor

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maxpert/termlog/logbuffer"
	"github.com/maxpert/termlog/telemetry"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultDrainInterval is the pause between drain passes that found nothing
	DefaultDrainInterval = time.Millisecond

	// DefaultReceiverWindow is the window advertised in status messages
	DefaultReceiverWindow int32 = 128 * 1024
)

// MessageHandler receives one reassembled message. header is the header of
// the last fragment; payload is only valid for the duration of the call. The
// handler must not dispose publications of the stream it is draining.
type MessageHandler func(header logbuffer.FrameHeader, payload []byte)

// DrainerConfig configures a Drainer
type DrainerConfig struct {
	Conductor      *Conductor
	CorrelationID  int64          // Stream to drain
	Handler        MessageHandler // Called for each message; nil discards
	ReceiverWindow int32          // Window sent with status messages
	Interval       time.Duration  // Idle pause for Start
}

// Drainer is an in-process receiver for one stream. It walks committed frames
// in order, reassembles fragmented messages, and reports its position back to
// the conductor as status messages, which moves the publication limit forward.
type Drainer struct {
	config     DrainerConfig
	reg        *registration
	position   atomic.Int64
	assembled  []byte
	assembling bool
	delivered  atomic.Int64

	stopCh      chan struct{}
	doneCh      chan struct{}
	running     atomic.Bool
	lifecycleMu sync.Mutex
}

// NewDrainer creates a drainer positioned at the start of the stream
func NewDrainer(config DrainerConfig) (*Drainer, error) {
	if config.Conductor == nil {
		return nil, fmt.Errorf("conductor is required")
	}
	if config.ReceiverWindow <= 0 {
		config.ReceiverWindow = DefaultReceiverWindow
	}
	if config.Interval <= 0 {
		config.Interval = DefaultDrainInterval
	}

	reg, ok := config.Conductor.registrations.Load(config.CorrelationID)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownPublication, config.CorrelationID)
	}

	return &Drainer{
		config: config,
		reg:    reg,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}, nil
}

// Position returns the position up to which frames have been consumed
func (d *Drainer) Position() int64 {
	return d.position.Load()
}

// Delivered returns the number of messages handed to the handler
func (d *Drainer) Delivered() int64 {
	return d.delivered.Load()
}

// Poll consumes every committed frame available from the current position,
// sends a status message, and returns the number of frames consumed. Poll must
// not be called concurrently with itself or with Start. Once the stream's log
// has been released Poll returns ErrUnknownPublication.
func (d *Drainer) Poll() (int, error) {
	frames, position, ok := d.scan()
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrUnknownPublication, d.config.CorrelationID)
	}

	if err := d.config.Conductor.OnStatusMessage(d.config.CorrelationID, position, d.config.ReceiverWindow); err != nil {
		return frames, err
	}
	return frames, nil
}

// scan consumes committed frames while holding the log open
func (d *Drainer) scan() (frames int, position int64, ok bool) {
	if !d.reg.acquire() {
		return 0, 0, false
	}
	defer d.reg.lifeMu.RUnlock()

	l := d.reg.log
	termLength := l.TermLength()
	shift := l.PositionBitsToShift()
	initialTermID := l.InitialTermID()
	position = d.position.Load()

	for {
		index := logbuffer.IndexByPosition(position, shift)
		termID := logbuffer.TermID(position, shift, initialTermID)
		offset := logbuffer.OffsetInTerm(position, termLength)
		next := offset

		logbuffer.ScanFrames(l.TermBuffer(index), offset, func(header logbuffer.FrameHeader, payload []byte) bool {
			if header.TermID != termID {
				return false
			}
			next += logbuffer.Align(header.FrameLength, logbuffer.FrameAlignment)
			frames++
			if !header.IsPadding() {
				d.onFragment(header, payload)
			}
			return true
		})

		position += int64(next - offset)
		if next < termLength {
			break
		}
	}
	d.position.Store(position)
	return frames, position, true
}

func (d *Drainer) onFragment(header logbuffer.FrameHeader, payload []byte) {
	flags := header.Flags & logbuffer.UnfragmentedFlags

	switch {
	case flags == logbuffer.UnfragmentedFlags:
		d.deliver(header, payload)
	case flags&logbuffer.BeginFragmentFlag != 0:
		d.assembled = append(d.assembled[:0], payload...)
		d.assembling = true
	case !d.assembling:
		// Joined mid-message
	default:
		d.assembled = append(d.assembled, payload...)
		if flags&logbuffer.EndFragmentFlag != 0 {
			d.assembling = false
			d.deliver(header, d.assembled)
		}
	}
}

func (d *Drainer) deliver(header logbuffer.FrameHeader, payload []byte) {
	d.delivered.Add(1)
	telemetry.MessageLengthBytes.Observe(float64(len(payload)))
	if d.config.Handler != nil {
		d.config.Handler(header, payload)
	}
}

// Start runs Poll in a goroutine until Stop is called
func (d *Drainer) Start() {
	d.lifecycleMu.Lock()
	defer d.lifecycleMu.Unlock()

	if !d.running.CompareAndSwap(false, true) {
		return
	}
	go d.run()
}

// Stop stops the drain goroutine and waits for it to exit
func (d *Drainer) Stop() {
	d.lifecycleMu.Lock()
	defer d.lifecycleMu.Unlock()

	if !d.running.CompareAndSwap(true, false) {
		return
	}
	close(d.stopCh)
	<-d.doneCh
}

func (d *Drainer) run() {
	defer close(d.doneCh)

	ticker := time.NewTicker(d.config.Interval)
	defer ticker.Stop()

	for {
		frames, err := d.Poll()
		if err != nil {
			log.Warn().Err(err).Int64("correlation_id", d.config.CorrelationID).Msg("Drainer stopped")
			return
		}
		if frames > 0 {
			select {
			case <-d.stopCh:
				return
			default:
				continue
			}
		}

		select {
		case <-d.stopCh:
			return
		case <-ticker.C:
		}
	}
}
