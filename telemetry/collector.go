package telemetry

import (
	"strconv"
	"sync"
	"time"
)

// PublicationStats is a point-in-time view of one stream
type PublicationStats struct {
	Channel   string
	StreamID  int32
	Position  int64
	Limit     int64
	Connected bool
}

// StatsProvider interface for components that can report their publications
type StatsProvider interface {
	PublicationStats() []PublicationStats
}

// MetricsCollector periodically collects stats and updates telemetry gauges
type MetricsCollector struct {
	provider StatsProvider
	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector(provider StatsProvider, interval time.Duration) *MetricsCollector {
	return &MetricsCollector{
		provider: provider,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic collection
func (mc *MetricsCollector) Start() {
	mc.wg.Add(1)
	go mc.collectLoop()
}

// Stop stops the collector
func (mc *MetricsCollector) Stop() {
	close(mc.stopCh)
	mc.wg.Wait()
}

func (mc *MetricsCollector) collectLoop() {
	defer mc.wg.Done()

	ticker := time.NewTicker(mc.interval)
	defer ticker.Stop()

	mc.collect()

	for {
		select {
		case <-ticker.C:
			mc.collect()
		case <-mc.stopCh:
			return
		}
	}
}

func (mc *MetricsCollector) collect() {
	if mc.provider == nil {
		return
	}

	stats := mc.provider.PublicationStats()

	// Released streams drop out of the gauges
	PublicationPosition.Reset()
	PublicationLimit.Reset()
	PublicationConnected.Reset()

	for _, s := range stats {
		streamID := strconv.FormatInt(int64(s.StreamID), 10)
		PublicationPosition.With(s.Channel, streamID).Set(float64(s.Position))
		PublicationLimit.With(s.Channel, streamID).Set(float64(s.Limit))

		connected := 0.0
		if s.Connected {
			connected = 1
		}
		PublicationConnected.With(s.Channel, streamID).Set(connected)
	}

	ActivePublications.Set(float64(len(stats)))
}
