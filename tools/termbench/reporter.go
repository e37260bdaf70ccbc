package main

import (
	"context"
	"fmt"
	"time"
)

// reportProgress prints real-time progress every second.
func reportProgress(ctx context.Context, stats *Stats) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	var lastSnapshot Snapshot
	startTime := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snapshot := stats.GetSnapshot()
			elapsed := time.Since(startTime)

			msgsSec := snapshot.Published - lastSnapshot.Published
			mbSec := float64(snapshot.Bytes-lastSnapshot.Bytes) / (1024 * 1024)
			waits := snapshot.BackPressured + snapshot.NotConnected + snapshot.AdminAction

			fmt.Printf("[%5.0fs] msgs/sec: %8d | MB/sec: %8.1f | total: %10d | received: %10d | waits: %8d | throughput: %.1f msgs/sec\n",
				elapsed.Seconds(),
				msgsSec,
				mbSec,
				snapshot.Published,
				snapshot.Received,
				waits,
				float64(snapshot.Published)/elapsed.Seconds(),
			)

			lastSnapshot = snapshot
		}
	}
}
