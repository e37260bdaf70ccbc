package main

import (
	"context"
	"testing"
	"time"

	"github.com/maxpert/termlog/cfg"
	"github.com/maxpert/termlog/conductor"
	"github.com/maxpert/termlog/logbuffer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunPublisher(t *testing.T) {
	for _, useClaim := range []bool{false, true} {
		t.Run(map[bool]string{false: "offer", true: "claim"}[useClaim], func(t *testing.T) {
			cond, err := conductor.New(conductor.Config{TermLength: logbuffer.TermMinLength})
			require.NoError(t, err)
			defer cond.Close()

			pub, err := cond.AddPublication("aeron:ipc", 1)
			require.NoError(t, err)
			defer pub.Dispose()

			var checked, mismatched int
			drainer, err := conductor.NewDrainer(conductor.DrainerConfig{
				Conductor:     cond,
				CorrelationID: pub.CorrelationID(),
				Handler: func(header logbuffer.FrameHeader, payload []byte) {
					checked++
					if header.ReservedValue != checksum(payload) {
						mismatched++
					}
				},
			})
			require.NoError(t, err)
			drainer.Start()

			stream := cfg.StreamConfiguration{Channel: "aeron:ipc", StreamID: 1, MessageLength: 512, Messages: 500, UseClaim: useClaim}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			sent := runPublisher(ctx, pub, stream)
			assert.Equal(t, int64(500), sent)

			require.Eventually(t, func() bool { return drainer.Delivered() == sent }, 5*time.Second, time.Millisecond)
			drainer.Stop()

			assert.Equal(t, 500, checked)
			assert.Zero(t, mismatched)
		})
	}
}

func TestRunPublisherStopsOnCancel(t *testing.T) {
	cond, err := conductor.New(conductor.Config{TermLength: logbuffer.TermMinLength})
	require.NoError(t, err)
	defer cond.Close()

	pub, err := cond.AddPublication("aeron:ipc", 1)
	require.NoError(t, err)
	defer pub.Dispose()

	// No drainer, so the publisher spins on NOT_CONNECTED until cancelled
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	sent := runPublisher(ctx, pub, cfg.StreamConfiguration{Channel: "aeron:ipc", StreamID: 1, MessageLength: 64})
	assert.Equal(t, int64(0), sent)
}

func TestChecksumSupplier(t *testing.T) {
	term := make([]byte, 256)
	payload := []byte("checksummed payload")
	copy(term[64+logbuffer.HeaderLength:], payload)

	frameLength := logbuffer.HeaderLength + int32(len(payload))
	assert.Equal(t, checksum(payload), checksumSupplier(term, 64, frameLength))
}
