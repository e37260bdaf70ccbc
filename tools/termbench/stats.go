package main

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maxpert/termlog/publication"
)

// Stats tracks benchmark statistics using atomic operations.
type Stats struct {
	published     atomic.Uint64
	bytes         atomic.Uint64
	backPressured atomic.Uint64
	notConnected  atomic.Uint64
	adminAction   atomic.Uint64
	failed        atomic.Uint64
	received      atomic.Uint64

	// Latency tracking (nanoseconds) for accepted messages
	mu        sync.Mutex
	latencies []int64
}

// NewStats creates a new stats tracker.
func NewStats() *Stats {
	return &Stats{
		latencies: make([]int64, 0, 100000),
	}
}

// RecordResult records the outcome of one offer or claim.
func (s *Stats) RecordResult(result int64, length int, latency time.Duration) {
	switch {
	case result >= 0:
		s.published.Add(1)
		s.bytes.Add(uint64(length))
		s.mu.Lock()
		s.latencies = append(s.latencies, latency.Nanoseconds())
		s.mu.Unlock()
	case result == publication.BackPressured:
		s.backPressured.Add(1)
	case result == publication.NotConnected:
		s.notConnected.Add(1)
	case result == publication.AdminAction:
		s.adminAction.Add(1)
	default:
		s.failed.Add(1)
	}
}

// RecordReceived records a message seen by the drainer.
func (s *Stats) RecordReceived() {
	s.received.Add(1)
}

// GetLatencyPercentiles returns p50, p90, p99 and max in nanoseconds.
func (s *Stats) GetLatencyPercentiles() (p50, p90, p99, max int64) {
	s.mu.Lock()
	sorted := slices.Clone(s.latencies)
	s.mu.Unlock()

	if len(sorted) == 0 {
		return 0, 0, 0, 0
	}
	slices.Sort(sorted)

	n := len(sorted)
	return sorted[n*50/100], sorted[n*90/100], sorted[n*99/100], sorted[n-1]
}

// Snapshot returns a copy of current counters.
type Snapshot struct {
	Published     uint64
	Bytes         uint64
	BackPressured uint64
	NotConnected  uint64
	AdminAction   uint64
	Failed        uint64
	Received      uint64
}

// GetSnapshot returns current stats snapshot.
func (s *Stats) GetSnapshot() Snapshot {
	return Snapshot{
		Published:     s.published.Load(),
		Bytes:         s.bytes.Load(),
		BackPressured: s.backPressured.Load(),
		NotConnected:  s.notConnected.Load(),
		AdminAction:   s.adminAction.Load(),
		Failed:        s.failed.Load(),
		Received:      s.received.Load(),
	}
}

// PrintFinal prints final statistics.
func (s *Stats) PrintFinal(elapsed time.Duration) {
	snap := s.GetSnapshot()

	fmt.Println()
	fmt.Printf("Total time:    %.2fs\n", elapsed.Seconds())
	fmt.Printf("Throughput:    %.2f msgs/sec\n", float64(snap.Published)/elapsed.Seconds())
	fmt.Printf("Bandwidth:     %.2f MB/sec\n", float64(snap.Bytes)/elapsed.Seconds()/(1024*1024))
	fmt.Println()

	fmt.Println("Results:")
	fmt.Printf("  OK:             %d\n", snap.Published)
	fmt.Printf("  BACK_PRESSURED: %d\n", snap.BackPressured)
	fmt.Printf("  NOT_CONNECTED:  %d\n", snap.NotConnected)
	fmt.Printf("  ADMIN_ACTION:   %d\n", snap.AdminAction)
	if snap.Failed > 0 {
		fmt.Printf("  FAILED:         %d\n", snap.Failed)
	}
	fmt.Printf("  Received:       %d\n", snap.Received)
	fmt.Println()

	p50, p90, p99, max := s.GetLatencyPercentiles()

	fmt.Println("Offer latency (nanoseconds):")
	fmt.Printf("  P50:   %d\n", p50)
	fmt.Printf("  P90:   %d\n", p90)
	fmt.Printf("  P99:   %d\n", p99)
	fmt.Printf("  Max:   %d\n", max)
}
