package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/maxpert/termlog/logbuffer"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "run":
		runBenchmark(args)
	case "inspect":
		runInspect(args)
	case "version":
		fmt.Printf("termbench version %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`termbench - termlog publication benchmark

Usage:
  termbench <command> [options]

Commands:
  run       Publish through a shared publication while a drainer consumes it
  inspect   Map logs through their manifests and print their state
  version   Print version
  help      Show this help

Run Options:
  --log-dir          Directory for mapped logs (default: in memory)
  --term-length      Term length in bytes (default: 16777216)
  --mtu              MTU in bytes (default: 1408)
  --channel          Channel name (default: aeron:ipc)
  --stream-id        Stream id (default: 1001)
  --message-length   Payload bytes per message (default: 256)
  --messages         Total messages to publish (default: 1000000)
  --duration         Duration to run (e.g., 30s), overrides --messages
  --threads          Concurrent publisher threads (default: 1)
  --claim            Publish with TryClaim instead of Offer (default: false)
  --receiver-window  Window advertised by the drainer (default: 131072)
  --drain-interval   Idle pause of the drainer (default: 1ms)

Inspect Options:
  --log-dir          Directory holding logs and manifests (required)
  --pattern          Glob over manifest names (default: *.manifest)

Examples:
  termbench run --threads=4 --message-length=64 --duration=30s
  termbench run --log-dir=/dev/shm/termlog --claim
  termbench inspect --log-dir=/dev/shm/termlog`)
}

func runBenchmark(args []string) {
	cfg := &Config{}
	fs := flag.NewFlagSet("run", flag.ExitOnError)

	fs.StringVar(&cfg.LogDir, "log-dir", "", "Directory for mapped logs (empty = in memory)")
	fs.IntVar(&cfg.TermLength, "term-length", 16*1024*1024, "Term length in bytes")
	fs.IntVar(&cfg.MTU, "mtu", int(logbuffer.DefaultMTULength), "MTU in bytes")
	fs.StringVar(&cfg.Channel, "channel", "aeron:ipc", "Channel name")
	fs.IntVar(&cfg.StreamID, "stream-id", 1001, "Stream id")
	fs.IntVar(&cfg.MessageLength, "message-length", 256, "Payload bytes per message")
	fs.IntVar(&cfg.Messages, "messages", 1000000, "Total messages to publish")
	fs.DurationVar(&cfg.Duration, "duration", 0, "Duration to run (overrides --messages)")
	fs.IntVar(&cfg.Threads, "threads", 1, "Concurrent publisher threads")
	fs.BoolVar(&cfg.UseClaim, "claim", false, "Publish with TryClaim instead of Offer")
	fs.IntVar(&cfg.ReceiverWindow, "receiver-window", 128*1024, "Window advertised by the drainer")
	fs.DurationVar(&cfg.DrainInterval, "drain-interval", time.Millisecond, "Idle pause of the drainer")

	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		os.Exit(1)
	}

	if cfg.Duration > 0 {
		cfg.Messages = 0
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle interrupt
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nInterrupted, shutting down...")
		cancel()
	}()

	if err := executeRun(ctx, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Benchmark failed: %v\n", err)
		os.Exit(1)
	}
}

func runInspect(args []string) {
	cfg := &Config{}
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)

	fs.StringVar(&cfg.LogDir, "log-dir", "", "Directory holding logs and manifests")
	fs.StringVar(&cfg.Pattern, "pattern", "*.manifest", "Glob over manifest names")

	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		os.Exit(1)
	}

	if cfg.LogDir == "" {
		fmt.Fprintf(os.Stderr, "Invalid configuration: --log-dir is required\n")
		os.Exit(1)
	}

	if err := executeInspect(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Inspect failed: %v\n", err)
		os.Exit(1)
	}
}
