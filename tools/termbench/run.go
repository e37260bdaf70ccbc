package main

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/maxpert/termlog/conductor"
	"github.com/maxpert/termlog/logbuffer"
	"github.com/maxpert/termlog/publication"
)

// executeRun publishes from cfg.Threads goroutines that share one stream
// while a drainer consumes it.
func executeRun(ctx context.Context, cfg *Config) error {
	cond, err := conductor.New(conductor.Config{
		ClientName: "termbench",
		LogDir:     cfg.LogDir,
		TermLength: int32(cfg.TermLength),
		MTU:        int32(cfg.MTU),
	})
	if err != nil {
		return err
	}
	defer cond.Close()

	pubs := make([]*publication.Publication, cfg.Threads)
	for i := range pubs {
		pub, err := cond.AddPublication(cfg.Channel, int32(cfg.StreamID))
		if err != nil {
			return err
		}
		pubs[i] = pub
	}

	stats := NewStats()
	drainer, err := conductor.NewDrainer(conductor.DrainerConfig{
		Conductor:      cond,
		CorrelationID:  pubs[0].CorrelationID(),
		ReceiverWindow: int32(cfg.ReceiverWindow),
		Interval:       cfg.DrainInterval,
		Handler: func(logbuffer.FrameHeader, []byte) {
			stats.RecordReceived()
		},
	})
	if err != nil {
		return err
	}
	drainer.Start()

	if cfg.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Duration)
		defer cancel()
	}

	fmt.Printf("Publishing to %s/%d from %d threads, %d byte messages, term length %d\n",
		cfg.Channel, cfg.StreamID, cfg.Threads, cfg.MessageLength, cfg.TermLength)

	reportCtx, stopReport := context.WithCancel(ctx)
	go reportProgress(reportCtx, stats)

	perThread := 0
	if cfg.Messages > 0 {
		perThread = (cfg.Messages + cfg.Threads - 1) / cfg.Threads
	}

	start := time.Now()
	var wg sync.WaitGroup
	for _, pub := range pubs {
		wg.Add(1)
		go func(pub *publication.Publication) {
			defer wg.Done()
			publishLoop(ctx, pub, cfg, perThread, stats)
		}(pub)
	}
	wg.Wait()
	elapsed := time.Since(start)

	// Let the drainer catch up before reporting
	target := stats.GetSnapshot().Published
	deadline := time.Now().Add(5 * time.Second)
	for drainer.Delivered() < int64(target) && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	stopReport()
	drainer.Stop()
	for _, pub := range pubs {
		if err := pub.Dispose(); err != nil {
			return err
		}
	}

	stats.PrintFinal(elapsed)
	return nil
}

func publishLoop(ctx context.Context, pub *publication.Publication, cfg *Config, messages int, stats *Stats) {
	payload := make([]byte, cfg.MessageLength)
	var claim logbuffer.BufferClaim

	for sent := 0; messages == 0 || sent < messages; {
		if ctx.Err() != nil {
			return
		}

		start := time.Now()
		var result int64
		if cfg.UseClaim {
			result = pub.TryClaim(len(payload), &claim)
			if result >= 0 {
				copy(claim.Buffer(), payload)
				claim.Commit()
			}
		} else {
			result = pub.Offer(payload)
		}
		stats.RecordResult(result, len(payload), time.Since(start))

		switch {
		case result >= 0:
			sent++
		case result == publication.BackPressured, result == publication.NotConnected, result == publication.AdminAction:
			runtime.Gosched()
		default:
			fmt.Printf("Publisher stopped: %s\n", publication.ResultString(result))
			return
		}
	}
}
