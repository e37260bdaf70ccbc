package publication

import (
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/maxpert/termlog/clock"
	"github.com/maxpert/termlog/flowcontrol"
	"github.com/maxpert/termlog/logbuffer"
	"github.com/maxpert/termlog/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testChannel       = "ipc:test"
	testStreamID      = int32(1001)
	testSessionID     = int32(73)
	testCorrelationID = int64(2000)
	testInitialTermID = int32(-1234)
	testTimeout       = time.Second
)

type mockCoordinator struct {
	mu         sync.Mutex
	releases   map[int64]int
	releaseErr error
	connected  atomic.Bool
	limit      *flowcontrol.Position
}

func newMockCoordinator() *mockCoordinator {
	return &mockCoordinator{
		releases: make(map[int64]int),
		limit:    &flowcontrol.Position{},
	}
}

func (m *mockCoordinator) ReleasePublication(correlationID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releases[correlationID]++
	return m.releaseErr
}

func (m *mockCoordinator) IsPublicationConnected(int64) bool {
	return m.connected.Load()
}

func (m *mockCoordinator) PublicationLimit(int64) flowcontrol.ReadablePosition {
	return m.limit
}

func (m *mockCoordinator) releaseCount(correlationID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.releases[correlationID]
}

type fixture struct {
	pub         *Publication
	log         *logbuffer.Log
	coordinator *mockCoordinator
	clock       *clock.CachedNanoClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	resource, err := logbuffer.NewHeapResource(logbuffer.TermMinLength)
	require.NoError(t, err)
	l, err := logbuffer.NewLog(resource)
	require.NoError(t, err)
	require.NoError(t, l.Initialise(logbuffer.LogParams{
		InitialTermID: testInitialTermID,
		CorrelationID: testCorrelationID,
		SessionID:     testSessionID,
		StreamID:      testStreamID,
	}))

	coordinator := newMockCoordinator()
	nanoClock := clock.NewCachedNanoClock(int64(time.Hour))

	pub, err := New(Config{
		Channel:           testChannel,
		StreamID:          testStreamID,
		SessionID:         testSessionID,
		CorrelationID:     testCorrelationID,
		Log:               l,
		Coordinator:       coordinator,
		Clock:             nanoClock,
		ConnectionTimeout: testTimeout,
	})
	require.NoError(t, err)

	return &fixture{pub: pub, log: l, coordinator: coordinator, clock: nanoClock}
}

func (f *fixture) openLimit() {
	f.coordinator.connected.Store(true)
	f.coordinator.limit.SetOrdered(math.MaxInt64)
}

func TestNewValidation(t *testing.T) {
	f := newFixture(t)
	uninitialised, err := logbuffer.NewHeapResource(logbuffer.TermMinLength)
	require.NoError(t, err)
	rawLog, err := logbuffer.NewLog(uninitialised)
	require.NoError(t, err)

	tests := []struct {
		name   string
		config Config
	}{
		{"missing channel", Config{Log: f.log, Coordinator: f.coordinator}},
		{"missing log", Config{Channel: testChannel, Coordinator: f.coordinator}},
		{"uninitialised log", Config{Channel: testChannel, Log: rawLog, Coordinator: f.coordinator}},
		{"missing coordinator", Config{Channel: testChannel, Log: f.log}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.config)
			assert.Error(t, err)
		})
	}
}

func TestInitialState(t *testing.T) {
	f := newFixture(t)
	p := f.pub

	assert.Equal(t, testChannel, p.Channel())
	assert.Equal(t, testStreamID, p.StreamID())
	assert.Equal(t, testSessionID, p.SessionID())
	assert.Equal(t, testCorrelationID, p.CorrelationID())
	assert.Equal(t, testInitialTermID, p.InitialTermID())
	assert.Equal(t, logbuffer.TermMinLength, p.TermLength())
	assert.Equal(t, int64(0), p.Position())
	assert.Equal(t, int64(1), p.RefCount())
	assert.False(t, p.IsClosed())
}

func TestMessageLengthLimits(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, logbuffer.TermMinLength/8, f.pub.MaxMessageLength())
	assert.Equal(t, logbuffer.DefaultMTULength-logbuffer.HeaderLength, f.pub.MaxPayloadLength())
	assert.Equal(t, int64(logbuffer.TermMinLength)<<31, f.pub.MaxPossiblePosition())
}

func TestClosedPublicationReportsClosed(t *testing.T) {
	f := newFixture(t)
	f.openLimit()
	require.NoError(t, f.pub.Dispose())

	var claim logbuffer.BufferClaim
	assert.True(t, f.pub.IsClosed())
	assert.Equal(t, Closed, f.pub.Offer([]byte("late")))
	assert.Equal(t, Closed, f.pub.TryClaim(8, &claim))
	assert.Equal(t, Closed, f.pub.Position())
	assert.Equal(t, Closed, f.pub.PositionLimit())
	assert.Equal(t, Closed, f.pub.AvailableWindow())
	assert.False(t, f.pub.IsConnected())
	assert.False(t, claim.Pending())
}

func TestIsConnected(t *testing.T) {
	f := newFixture(t)

	assert.False(t, f.pub.IsConnected(), "no limit and no status message")

	f.coordinator.connected.Store(true)
	assert.True(t, f.pub.IsConnected())
	f.coordinator.connected.Store(false)

	// A granted limit with a fresh status message counts as connected
	f.coordinator.limit.SetOrdered(4096)
	f.log.SetTimeOfLastStatusMessage(f.clock.NanoTime())
	assert.True(t, f.pub.IsConnected())

	f.clock.Advance(testTimeout)
	assert.True(t, f.pub.IsConnected())

	f.clock.Advance(time.Nanosecond)
	assert.False(t, f.pub.IsConnected())
}

func TestCustomConnectionPolicy(t *testing.T) {
	f := newFixture(t)

	var seen ConnectionState
	p, err := New(Config{
		Channel:       testChannel,
		CorrelationID: testCorrelationID,
		Log:           f.log,
		Coordinator:   f.coordinator,
		Clock:         f.clock,
		ConnectionPolicy: func(state ConnectionState) bool {
			seen = state
			return true
		},
	})
	require.NoError(t, err)

	f.coordinator.limit.SetOrdered(99)
	f.log.SetTimeOfLastStatusMessage(7)
	assert.True(t, p.IsConnected())
	assert.Equal(t, ConnectionState{
		CoordinatorConnected:    false,
		TimeOfLastStatusMessage: 7,
		NowNs:                   f.clock.NanoTime(),
		PublicationLimit:        99,
	}, seen)
}

func TestReleaseOnlyOnce(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.pub.Dispose())
	require.NoError(t, f.pub.Dispose())
	require.NoError(t, f.pub.Dispose())

	assert.Equal(t, 1, f.coordinator.releaseCount(testCorrelationID))
	assert.Equal(t, int64(0), f.pub.RefCount())
}

func TestIncRefDelaysRelease(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.pub.IncRef())
	assert.Equal(t, int64(2), f.pub.RefCount())

	require.NoError(t, f.pub.Dispose())
	assert.False(t, f.pub.IsClosed())
	assert.Equal(t, 0, f.coordinator.releaseCount(testCorrelationID), "log must stay mapped while a reference remains")
	assert.Equal(t, int64(0), f.pub.Position())

	require.NoError(t, f.pub.Dispose())
	assert.True(t, f.pub.IsClosed())
	assert.Equal(t, 1, f.coordinator.releaseCount(testCorrelationID))
}

func TestIncRefAfterClose(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.pub.Dispose())

	assert.ErrorIs(t, f.pub.IncRef(), ErrPublicationClosed)
	_, err := f.pub.Share()
	assert.ErrorIs(t, err, ErrPublicationClosed)
	assert.Equal(t, int64(0), f.pub.RefCount())
}

func TestRevokeClosesWithoutRelease(t *testing.T) {
	f := newFixture(t)
	shared, err := f.pub.Share()
	require.NoError(t, err)

	f.pub.Revoke()
	assert.True(t, shared.IsClosed())
	assert.Equal(t, Closed, shared.Offer([]byte("late")))

	require.NoError(t, f.pub.Dispose())
	require.NoError(t, shared.Dispose())
	assert.Equal(t, 0, f.coordinator.releaseCount(testCorrelationID))
}

func TestShareUsesSameReferenceCount(t *testing.T) {
	f := newFixture(t)
	f.openLimit()

	shared, err := f.pub.Share()
	require.NoError(t, err)
	require.NotSame(t, f.pub, shared)
	assert.Equal(t, int64(2), shared.RefCount())

	require.NoError(t, f.pub.Dispose())
	assert.False(t, shared.IsClosed())
	assert.Greater(t, shared.Offer([]byte("still open")), int64(0))

	require.NoError(t, shared.Dispose())
	assert.True(t, f.pub.IsClosed())
	assert.Equal(t, 1, f.coordinator.releaseCount(testCorrelationID))
}

func TestDisposeReturnsReleaseError(t *testing.T) {
	f := newFixture(t)
	f.coordinator.releaseErr = errors.New("unmap failed")

	err := f.pub.Dispose()
	require.Error(t, err)
	assert.ErrorIs(t, err, f.coordinator.releaseErr)
	assert.True(t, f.pub.IsClosed())
}

func TestConcurrentIncRefAndDispose(t *testing.T) {
	f := newFixture(t)
	const workers = 32

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		require.NoError(t, f.pub.IncRef())
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = f.pub.Dispose()
		}()
	}
	wg.Wait()

	assert.False(t, f.pub.IsClosed())
	assert.Equal(t, 0, f.coordinator.releaseCount(testCorrelationID))

	require.NoError(t, f.pub.Dispose())
	assert.Equal(t, 1, f.coordinator.releaseCount(testCorrelationID))
}

func TestOfferWritesFrame(t *testing.T) {
	f := newFixture(t)
	f.openLimit()
	payload := []byte("first message")

	result := f.pub.Offer(payload)
	require.Equal(t, int64(64), result)
	assert.Equal(t, int64(64), f.pub.Position())

	header := logbuffer.ReadFrameHeader(f.log.TermBuffer(0), 0)
	assert.Equal(t, int32(len(payload))+logbuffer.HeaderLength, header.FrameLength)
	assert.Equal(t, logbuffer.FrameTypeData, header.Type)
	assert.Equal(t, logbuffer.UnfragmentedFlags, header.Flags)
	assert.Equal(t, testSessionID, header.SessionID)
	assert.Equal(t, testStreamID, header.StreamID)
	assert.Equal(t, testInitialTermID, header.TermID)
	assert.Equal(t, payload, f.log.TermBuffer(0)[logbuffer.HeaderLength:header.FrameLength])
}

func TestOfferWithSupplier(t *testing.T) {
	f := newFixture(t)
	f.openLimit()

	result := f.pub.OfferWithSupplier([]byte("stamped"), func(_ []byte, termOffset, frameLength int32) int64 {
		return 1_000_000 + int64(frameLength)
	})
	require.Greater(t, result, int64(0))
	assert.Equal(t, int64(1_000_039), logbuffer.ReadFrameHeader(f.log.TermBuffer(0), 0).ReservedValue)
}

func TestBackPressureThenSuccess(t *testing.T) {
	f := newFixture(t)
	payload := make([]byte, 100)

	assert.Equal(t, NotConnected, f.pub.Offer(payload))

	f.coordinator.connected.Store(true)
	assert.Equal(t, BackPressured, f.pub.Offer(payload))

	// The limit must cover the whole framed message
	f.coordinator.limit.SetOrdered(159)
	assert.Equal(t, BackPressured, f.pub.Offer(payload))

	f.coordinator.limit.SetOrdered(160)
	assert.Equal(t, int64(160), f.pub.Offer(payload))
	assert.Equal(t, BackPressured, f.pub.Offer(payload))
	assert.Equal(t, int64(0), f.pub.AvailableWindow())
}

func TestAvailableWindow(t *testing.T) {
	f := newFixture(t)
	f.coordinator.limit.SetOrdered(1000)

	assert.Equal(t, int64(1000), f.pub.PositionLimit())
	assert.Equal(t, int64(1000), f.pub.AvailableWindow())

	require.Equal(t, int64(160), f.pub.Offer(make([]byte, 100)))
	assert.Equal(t, int64(840), f.pub.AvailableWindow())
}

func TestInvalidLength(t *testing.T) {
	f := newFixture(t)
	f.openLimit()
	var claim logbuffer.BufferClaim

	assert.Equal(t, InvalidLength, f.pub.Offer(make([]byte, f.pub.MaxMessageLength()+1)))
	assert.Equal(t, InvalidLength, f.pub.TryClaim(-1, &claim))
	assert.Equal(t, InvalidLength, f.pub.TryClaim(int(f.pub.MaxPayloadLength())+1, &claim))
	assert.Equal(t, int64(0), f.pub.Position())

	// Exactly the maximum message length is accepted
	assert.Greater(t, f.pub.Offer(make([]byte, f.pub.MaxMessageLength())), int64(0))
}

func TestOfferFragmentsLargeMessage(t *testing.T) {
	f := newFixture(t)
	f.openLimit()

	message := make([]byte, 3000)
	for i := range message {
		message[i] = byte(i % 251)
	}

	result := f.pub.Offer(message)
	require.Equal(t, int64(logbuffer.ComputeFragmentedFrameLength(3000, f.pub.MaxPayloadLength())), result)

	var (
		frames    int
		assembled []byte
	)
	logbuffer.ScanFrames(f.log.TermBuffer(0), 0, func(header logbuffer.FrameHeader, payload []byte) bool {
		frames++
		assembled = append(assembled, payload...)
		return true
	})
	assert.Equal(t, 3, frames)
	assert.Equal(t, message, assembled)
}

func TestOfferRotatesAcrossTerms(t *testing.T) {
	f := newFixture(t)
	f.openLimit()

	termLength := int64(f.pub.TermLength())
	payload := make([]byte, 1000)
	framed := int64(logbuffer.Align(1000+logbuffer.HeaderLength, logbuffer.FrameAlignment))

	last := int64(0)
	for last < 4*termLength {
		result := f.pub.Offer(payload)
		require.Greater(t, result, last, "offer must succeed without admin action when single threaded")

		// A message never straddles a term
		begin := result - framed
		assert.Equal(t, begin/termLength, (result-1)/termLength)
		last = result
	}

	assert.Equal(t, int32(4), f.log.ActiveTermCount())
	assert.Equal(t, last, f.pub.Position())

	// The first frame of a rotated term sits at offset zero
	header := logbuffer.ReadFrameHeader(f.log.TermBuffer(logbuffer.IndexByTermCount(4)), 0)
	assert.Equal(t, testInitialTermID+4, header.TermID)
	assert.Equal(t, logbuffer.FrameTypeData, header.Type)
}

func TestAdminActionDuringRotation(t *testing.T) {
	f := newFixture(t)
	f.openLimit()

	// Advance the term count without resetting the next partition, leaving
	// the log looking like a rotation that has not finished.
	require.True(t, f.log.Rotate(0, testInitialTermID+5))

	var claim logbuffer.BufferClaim
	assert.Equal(t, AdminAction, f.pub.Offer([]byte("x")))
	assert.Equal(t, AdminAction, f.pub.TryClaim(8, &claim))
	assert.False(t, claim.Pending())
}

func TestMaxPositionExceeded(t *testing.T) {
	f := newFixture(t)
	p := f.pub

	lastTermID := testInitialTermID + math.MaxInt32
	result, retry := p.handleEndOfTerm(math.MaxInt32, lastTermID)
	assert.Equal(t, MaxPositionExceeded, result)
	assert.False(t, retry)

	assert.Equal(t, MaxPositionExceeded, p.backPressureStatus(p.MaxPossiblePosition()-10, 10))
	assert.Equal(t, NotConnected, p.backPressureStatus(p.MaxPossiblePosition()-10, 9))
}

func TestTryClaimCommit(t *testing.T) {
	f := newFixture(t)
	f.openLimit()
	var claim logbuffer.BufferClaim

	result := f.pub.TryClaim(100, &claim)
	require.Equal(t, int64(160), result)
	require.True(t, claim.Pending())
	copy(claim.Buffer(), "claimed")

	assert.Less(t, logbuffer.FrameLengthVolatile(f.log.TermBuffer(0), 0), int32(0))
	require.NoError(t, claim.Commit())

	header := logbuffer.ReadFrameHeader(f.log.TermBuffer(0), 0)
	assert.Equal(t, int32(132), header.FrameLength)
	assert.Equal(t, []byte("claimed"), f.log.TermBuffer(0)[logbuffer.HeaderLength:logbuffer.HeaderLength+7])

	assert.ErrorIs(t, claim.Commit(), logbuffer.ErrClaimCompleted)
}

func TestTryClaimBackPressured(t *testing.T) {
	f := newFixture(t)
	f.coordinator.connected.Store(true)
	var claim logbuffer.BufferClaim

	assert.Equal(t, BackPressured, f.pub.TryClaim(16, &claim))
	assert.False(t, claim.Pending())
}

func TestTryClaimWithPendingClaimPanics(t *testing.T) {
	f := newFixture(t)
	f.openLimit()
	var claim logbuffer.BufferClaim

	require.Greater(t, f.pub.TryClaim(8, &claim), int64(0))
	position := f.pub.Position()

	assert.Panics(t, func() { f.pub.TryClaim(8, &claim) })
	assert.Equal(t, position, f.pub.Position())
	require.NoError(t, claim.Abort())
}

func TestConcurrentOffers(t *testing.T) {
	f := newFixture(t)
	f.openLimit()

	const (
		writers   = 8
		perWriter = 100
	)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		positions = make(map[int64]bool)
	)

	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			payload := make([]byte, 100)
			for i := 0; i < perWriter; i++ {
				var result int64
				for {
					result = f.pub.Offer(payload)
					if result != AdminAction {
						break
					}
				}
				if !assert.Greater(t, result, int64(0)) {
					return
				}
				mu.Lock()
				positions[result] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, positions, writers*perWriter, "every offer gets a distinct position")
	assert.GreaterOrEqual(t, f.pub.Position(), int64(writers*perWriter*160))
}

func TestResultString(t *testing.T) {
	assert.Equal(t, "OK", ResultString(0))
	assert.Equal(t, "OK", ResultString(4096))
	assert.Equal(t, "NOT_CONNECTED", ResultString(NotConnected))
	assert.Equal(t, "BACK_PRESSURED", ResultString(BackPressured))
	assert.Equal(t, "ADMIN_ACTION", ResultString(AdminAction))
	assert.Equal(t, "CLOSED", ResultString(Closed))
	assert.Equal(t, "MAX_POSITION_EXCEEDED", ResultString(MaxPositionExceeded))
	assert.Equal(t, "INVALID_LENGTH", ResultString(InvalidLength))
	assert.Equal(t, "UNKNOWN", ResultString(-99))
}

func TestResultIndex(t *testing.T) {
	assert.Equal(t, telemetry.ResultOK, resultIndex(0))
	assert.Equal(t, telemetry.ResultOK, resultIndex(4096))
	assert.Equal(t, telemetry.ResultNotConnected, resultIndex(NotConnected))
	assert.Equal(t, telemetry.ResultBackPressured, resultIndex(BackPressured))
	assert.Equal(t, telemetry.ResultAdminAction, resultIndex(AdminAction))
	assert.Equal(t, telemetry.ResultClosed, resultIndex(Closed))
	assert.Equal(t, telemetry.ResultMaxPositionExceeded, resultIndex(MaxPositionExceeded))
	assert.Equal(t, telemetry.ResultInvalidLength, resultIndex(InvalidLength))
	assert.Equal(t, telemetry.ResultUnknown, resultIndex(-99))
}
