// Package conductor is the in-process owner of term logs. It creates and
// initialises the log for each stream, hands out publications that share it,
// applies status messages to publication limits, cleans consumed terms, and
// releases the log once the last publication is disposed.
package conductor

import (
	"cmp"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/maxpert/termlog/clock"
	"github.com/maxpert/termlog/flowcontrol"
	"github.com/maxpert/termlog/logbuffer"
	"github.com/maxpert/termlog/publication"
	"github.com/maxpert/termlog/telemetry"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"
)

var (
	// ErrUnknownPublication is returned for a correlation id that is not registered
	ErrUnknownPublication = errors.New("unknown publication")

	// ErrConductorClosed is returned when registering on a closed conductor
	ErrConductorClosed = errors.New("conductor is closed")

	// ErrConsumerAhead is returned for a status message whose consumer
	// position is past what the stream has published
	ErrConsumerAhead = errors.New("consumer position is ahead of the publication")
)

// Config configures a Conductor
type Config struct {
	ClientName        string          // Recorded in manifests
	LogDir            string          // Directory for mapped logs; empty keeps logs on the heap
	TermLength        int32           // Term length for new logs
	MTU               int32           // MTU for new logs
	ConnectionTimeout time.Duration   // Passed to every publication
	Clock             clock.NanoClock // Time source for status messages
}

type streamKey struct {
	channel  string
	streamID int32
}

type registration struct {
	correlationID int64
	channel       string
	streamID      int32
	sessionID     int32
	log           *logbuffer.Log
	limit         *flowcontrol.Position
	connected     atomic.Bool
	handle        atomic.Pointer[publication.Publication] // First handle; shared by AddPublication
	logFile       string
	manifestFile  string
	createdAt     time.Time

	cleanMu       sync.Mutex
	cleanPosition int64

	// Held for reading while the log is accessed; release takes it for
	// writing before the log is closed.
	lifeMu   sync.RWMutex
	released bool
}

// acquire read locks the registration and reports whether its log is still
// open. On true the caller must call r.lifeMu.RUnlock.
func (r *registration) acquire() bool {
	r.lifeMu.RLock()
	if r.released {
		r.lifeMu.RUnlock()
		return false
	}
	return true
}

// Conductor implements publication.Coordinator for logs owned by this process
type Conductor struct {
	config        Config
	registrations *xsync.MapOf[int64, *registration]
	streams       *xsync.MapOf[streamKey, *registration]
	correlationID atomic.Int64
	mu            sync.Mutex // Serializes registration and release
	closed        atomic.Bool
}

// New creates a conductor
func New(config Config) (*Conductor, error) {
	if config.TermLength == 0 {
		config.TermLength = logbuffer.TermMinLength
	}
	if config.MTU == 0 {
		config.MTU = logbuffer.DefaultMTULength
	}
	if err := logbuffer.CheckTermLength(config.TermLength); err != nil {
		return nil, err
	}
	if err := logbuffer.CheckMTULength(config.MTU, config.TermLength); err != nil {
		return nil, err
	}
	if config.ConnectionTimeout <= 0 {
		config.ConnectionTimeout = publication.DefaultConnectionTimeout
	}
	if config.Clock == nil {
		config.Clock = clock.NewSystemNanoClock()
	}

	if config.LogDir != "" {
		if err := os.MkdirAll(config.LogDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	return &Conductor{
		config:        config,
		registrations: xsync.NewMapOf[int64, *registration](),
		streams:       xsync.NewMapOf[streamKey, *registration](),
	}, nil
}

// Register creates and initialises a log for a new stream and returns its
// correlation id. The log is released by ReleasePublication.
func (c *Conductor) Register(channel string, streamID int32) (int64, *logbuffer.Log, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	reg, err := c.register(channel, streamID)
	if err != nil {
		return 0, nil, err
	}
	return reg.correlationID, reg.log, nil
}

// AddPublication returns a publication for the stream. While the stream has
// an open publication the new handle shares its reference count; otherwise a
// new log is registered.
func (c *Conductor) AddPublication(channel string, streamID int32) (*publication.Publication, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if reg, ok := c.streams.Load(streamKey{channel, streamID}); ok && reg.handle.Load() != nil {
		if shared, err := reg.handle.Load().Share(); err == nil {
			log.Debug().
				Str("channel", channel).
				Int32("stream_id", streamID).
				Int64("correlation_id", reg.correlationID).
				Int64("ref_count", shared.RefCount()).
				Msg("Sharing existing publication")
			return shared, nil
		}
	}

	reg, err := c.register(channel, streamID)
	if err != nil {
		return nil, err
	}

	pub, err := publication.New(publication.Config{
		Channel:           channel,
		StreamID:          streamID,
		SessionID:         reg.sessionID,
		CorrelationID:     reg.correlationID,
		Log:               reg.log,
		Coordinator:       c,
		Clock:             c.config.Clock,
		ConnectionTimeout: c.config.ConnectionTimeout,
	})
	if err != nil {
		c.release(reg)
		return nil, err
	}

	reg.handle.Store(pub)
	return pub, nil
}

func (c *Conductor) register(channel string, streamID int32) (*registration, error) {
	if c.closed.Load() {
		return nil, ErrConductorClosed
	}
	if channel == "" {
		return nil, fmt.Errorf("channel is required")
	}

	reg := &registration{
		correlationID: c.correlationID.Add(1),
		channel:       channel,
		streamID:      streamID,
		sessionID:     rand.Int32(),
		limit:         &flowcontrol.Position{},
		createdAt:     time.Now(),
	}
	initialTermID := rand.Int32()

	resource, err := c.newResource(reg)
	if err != nil {
		return nil, err
	}

	l, err := logbuffer.NewLog(resource)
	if err != nil {
		resource.Close()
		c.removeFiles(reg)
		return nil, err
	}

	if err := l.Initialise(logbuffer.LogParams{
		InitialTermID: initialTermID,
		MTULength:     c.config.MTU,
		CorrelationID: reg.correlationID,
		SessionID:     reg.sessionID,
		StreamID:      streamID,
	}); err != nil {
		l.Close()
		c.removeFiles(reg)
		return nil, err
	}
	reg.log = l

	if reg.logFile != "" {
		reg.manifestFile = manifestPath(reg.logFile)
		err := writeManifest(reg.manifestFile, &Manifest{
			ClientName:        c.config.ClientName,
			Channel:           channel,
			StreamID:          streamID,
			SessionID:         reg.sessionID,
			CorrelationID:     reg.correlationID,
			InitialTermID:     initialTermID,
			TermLength:        c.config.TermLength,
			MTU:               c.config.MTU,
			LogFile:           reg.logFile,
			CreatedAtUnixNano: reg.createdAt.UnixNano(),
		})
		if err != nil {
			l.Close()
			c.removeFiles(reg)
			return nil, err
		}
	}

	c.registrations.Store(reg.correlationID, reg)
	c.streams.Store(streamKey{channel, streamID}, reg)

	log.Info().
		Str("channel", channel).
		Int32("stream_id", streamID).
		Int32("session_id", reg.sessionID).
		Int64("correlation_id", reg.correlationID).
		Int32("term_id", initialTermID).
		Str("log_file", reg.logFile).
		Msg("Registered publication log")

	return reg, nil
}

func (c *Conductor) newResource(reg *registration) (logbuffer.Resource, error) {
	if c.config.LogDir == "" {
		return logbuffer.NewHeapResource(c.config.TermLength)
	}

	reg.logFile = filepath.Join(c.config.LogDir, logFileName(reg.channel, reg.streamID, reg.sessionID))
	resource, err := logbuffer.MapNewFile(reg.logFile, c.config.TermLength)
	if err != nil {
		return nil, fmt.Errorf("failed to map log for %s/%d: %w", reg.channel, reg.streamID, err)
	}
	return resource, nil
}

// logFileName names a log by a hash of its channel so that arbitrary channel
// strings never reach the filesystem
func logFileName(channel string, streamID, sessionID int32) string {
	return fmt.Sprintf("%016x-%d-%d.logbuffer", xxhash.Sum64String(channel), streamID, sessionID)
}

func manifestPath(logFile string) string {
	return logFile + ".manifest"
}

// ReleasePublication unmaps the log of a stream whose last publication was
// disposed. It is called by the publication and must happen once per stream.
func (c *Conductor) ReleasePublication(correlationID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	reg, ok := c.registrations.Load(correlationID)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownPublication, correlationID)
	}
	return c.release(reg)
}

func (c *Conductor) release(reg *registration) error {
	c.registrations.Delete(reg.correlationID)

	key := streamKey{reg.channel, reg.streamID}
	if current, ok := c.streams.Load(key); ok && current == reg {
		c.streams.Delete(key)
	}

	reg.lifeMu.Lock()
	reg.released = true
	err := reg.log.Close()
	reg.lifeMu.Unlock()

	if removeErr := c.removeFiles(reg); removeErr != nil {
		err = errors.Join(err, removeErr)
	}

	telemetry.PublicationsReleasedTotal.Inc()
	log.Info().
		Str("channel", reg.channel).
		Int32("stream_id", reg.streamID).
		Int64("correlation_id", reg.correlationID).
		Msg("Released publication log")

	if err != nil {
		return fmt.Errorf("failed to release log for %s/%d: %w", reg.channel, reg.streamID, err)
	}
	return nil
}

func (c *Conductor) removeFiles(reg *registration) error {
	var errs []error
	for _, path := range []string{reg.manifestFile, reg.logFile} {
		if path == "" {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// IsPublicationConnected reports whether a receiver is sending status messages
func (c *Conductor) IsPublicationConnected(correlationID int64) bool {
	reg, ok := c.registrations.Load(correlationID)
	return ok && reg.connected.Load()
}

// PublicationLimit returns the limit position for a stream, or nil if unknown
func (c *Conductor) PublicationLimit(correlationID int64) flowcontrol.ReadablePosition {
	reg, ok := c.registrations.Load(correlationID)
	if !ok {
		return nil
	}
	return reg.limit
}

// OnStatusMessage applies a receiver's progress to a stream. The limit moves
// to consumerPosition plus the receiver window, capped at half a term, and
// never moves back. Terms the receiver has fully moved past are cleaned so the
// partition is zeroed before the writer reuses it. A consumer position past
// the stream's position is rejected with ErrConsumerAhead.
func (c *Conductor) OnStatusMessage(correlationID, consumerPosition int64, receiverWindow int32) error {
	reg, ok := c.registrations.Load(correlationID)
	if !ok || !reg.acquire() {
		return fmt.Errorf("%w: %d", ErrUnknownPublication, correlationID)
	}
	defer reg.lifeMu.RUnlock()

	if position := reg.log.Position(); consumerPosition > position {
		return fmt.Errorf("%w: %d > %d for %d", ErrConsumerAhead, consumerPosition, position, correlationID)
	}

	// Clean before raising the limit so a reused partition is zeroed before
	// the writer may reach it
	reg.clean(consumerPosition)

	window := min(receiverWindow, reg.log.TermLength()/2)
	reg.limit.ProposeMax(consumerPosition + int64(window))
	reg.log.SetTimeOfLastStatusMessage(c.config.Clock.NanoTime())

	if !reg.connected.Swap(true) {
		log.Info().
			Str("channel", reg.channel).
			Int32("stream_id", reg.streamID).
			Int64("correlation_id", correlationID).
			Msg("Receiver connected")
	}
	telemetry.StatusMessagesTotal.Inc()
	return nil
}

func (r *registration) clean(consumerPosition int64) {
	r.cleanMu.Lock()
	defer r.cleanMu.Unlock()

	target := consumerPosition - int64(r.log.TermLength())
	if target > r.cleanPosition {
		r.cleanPosition = r.log.Clean(r.cleanPosition, target)
	}
}

// OnReceiverGone marks a stream as having no receiver
func (c *Conductor) OnReceiverGone(correlationID int64) error {
	reg, ok := c.registrations.Load(correlationID)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownPublication, correlationID)
	}

	if reg.connected.Swap(false) {
		log.Info().
			Str("channel", reg.channel).
			Int32("stream_id", reg.streamID).
			Int64("correlation_id", correlationID).
			Msg("Receiver gone")
	}
	return nil
}

// PublicationInfo is a snapshot of one registered stream
type PublicationInfo struct {
	CorrelationID int64     `json:"correlation_id"`
	Channel       string    `json:"channel"`
	StreamID      int32     `json:"stream_id"`
	SessionID     int32     `json:"session_id"`
	InitialTermID int32     `json:"initial_term_id"`
	TermLength    int32     `json:"term_length"`
	MTU           int32     `json:"mtu"`
	Position      int64     `json:"position"`
	Limit         int64     `json:"limit"`
	ActiveTermID  int32     `json:"active_term_id"`
	Connected     bool      `json:"connected"`
	RefCount      int64     `json:"ref_count"`
	LogFile       string    `json:"log_file,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// info snapshots the registration. It reports false once the log is released.
func (r *registration) info() (PublicationInfo, bool) {
	if !r.acquire() {
		return PublicationInfo{}, false
	}
	defer r.lifeMu.RUnlock()

	var refCount int64
	if pub := r.handle.Load(); pub != nil {
		refCount = pub.RefCount()
	}

	return PublicationInfo{
		CorrelationID: r.correlationID,
		Channel:       r.channel,
		StreamID:      r.streamID,
		SessionID:     r.sessionID,
		InitialTermID: r.log.InitialTermID(),
		TermLength:    r.log.TermLength(),
		MTU:           r.log.MTULength(),
		Position:      r.log.Position(),
		Limit:         r.limit.GetVolatile(),
		ActiveTermID:  logbuffer.TermIDFromTail(r.log.RawTailVolatile()),
		Connected:     r.connected.Load(),
		RefCount:      refCount,
		LogFile:       r.logFile,
		CreatedAt:     r.createdAt,
	}, true
}

// Publications returns a snapshot of registered streams whose channel matches
// filter, ordered by correlation id. A nil filter matches everything.
func (c *Conductor) Publications(filter *ChannelFilter) []PublicationInfo {
	infos := make([]PublicationInfo, 0, c.registrations.Size())
	c.registrations.Range(func(_ int64, reg *registration) bool {
		if filter != nil && !filter.Match(reg.channel) {
			return true
		}
		if info, ok := reg.info(); ok {
			infos = append(infos, info)
		}
		return true
	})

	slices.SortFunc(infos, func(a, b PublicationInfo) int {
		return cmp.Compare(a.CorrelationID, b.CorrelationID)
	})
	return infos
}

// Publication returns a snapshot of one stream
func (c *Conductor) Publication(correlationID int64) (PublicationInfo, bool) {
	reg, ok := c.registrations.Load(correlationID)
	if !ok {
		return PublicationInfo{}, false
	}
	return reg.info()
}

// PublicationStats implements telemetry.StatsProvider
func (c *Conductor) PublicationStats() []telemetry.PublicationStats {
	infos := c.Publications(nil)
	stats := make([]telemetry.PublicationStats, 0, len(infos))
	for _, info := range infos {
		stats = append(stats, telemetry.PublicationStats{
			Channel:   info.Channel,
			StreamID:  info.StreamID,
			Position:  info.Position,
			Limit:     info.Limit,
			Connected: info.Connected,
		})
	}
	return stats
}

// Close releases every registered log. Publications must be disposed, or at
// least no longer used, before Close; their logs are unmapped regardless.
func (c *Conductor) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	c.registrations.Range(func(_ int64, reg *registration) bool {
		if pub := reg.handle.Load(); pub != nil && !pub.IsClosed() {
			log.Warn().
				Str("channel", reg.channel).
				Int32("stream_id", reg.streamID).
				Int64("ref_count", pub.RefCount()).
				Msg("Releasing log with open publications")
			pub.Revoke()
		}
		if err := c.release(reg); err != nil {
			errs = append(errs, err)
		}
		return true
	})

	return errors.Join(errs...)
}
