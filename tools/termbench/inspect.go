package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/maxpert/termlog/conductor"
	"github.com/maxpert/termlog/logbuffer"
)

// LogSummary describes a mapped log found through its manifest
type LogSummary struct {
	Manifest      *conductor.Manifest
	Position      int64
	ActiveTermID  int32
	TermCount     int32
	Frames        int
	PaddingFrames int
}

// inspectLog maps the log named by a manifest and walks the committed frames
// of its active term. The log is unmapped before returning.
func inspectLog(manifestPath string) (*LogSummary, error) {
	m, l, err := conductor.OpenManifestLog(manifestPath)
	if err != nil {
		return nil, err
	}
	defer l.Close()

	rawTail := l.RawTailVolatile()
	summary := &LogSummary{
		Manifest:     m,
		Position:     l.Position(),
		ActiveTermID: logbuffer.TermIDFromTail(rawTail),
		TermCount:    l.ActiveTermCount(),
	}

	logbuffer.ScanFrames(l.TermBuffer(l.ActivePartitionIndex()), 0, func(header logbuffer.FrameHeader, _ []byte) bool {
		if header.TermID != summary.ActiveTermID {
			return false
		}
		summary.Frames++
		if header.IsPadding() {
			summary.PaddingFrames++
		}
		return true
	})

	return summary, nil
}

// executeInspect prints every log in cfg.LogDir whose manifest matches cfg.Pattern
func executeInspect(cfg *Config) error {
	paths, err := filepath.Glob(filepath.Join(cfg.LogDir, cfg.Pattern))
	if err != nil {
		return fmt.Errorf("invalid pattern: %w", err)
	}

	if len(paths) == 0 {
		fmt.Printf("No manifests matching %s in %s\n", cfg.Pattern, cfg.LogDir)
		return nil
	}

	for _, path := range paths {
		summary, err := inspectLog(path)
		if err != nil {
			fmt.Printf("%s: %v\n", path, err)
			continue
		}

		m := summary.Manifest
		fmt.Printf("%s\n", m.LogFile)
		fmt.Printf("  client:         %s\n", m.ClientName)
		fmt.Printf("  stream:         %s/%d session %d\n", m.Channel, m.StreamID, m.SessionID)
		fmt.Printf("  correlation id: %d\n", m.CorrelationID)
		fmt.Printf("  created:        %s\n", time.Unix(0, m.CreatedAtUnixNano).UTC().Format(time.RFC3339))
		fmt.Printf("  term length:    %d (mtu %d)\n", m.TermLength, m.MTU)
		fmt.Printf("  position:       %d\n", summary.Position)
		fmt.Printf("  active term:    %d (initial %d, count %d)\n", summary.ActiveTermID, m.InitialTermID, summary.TermCount)
		fmt.Printf("  active frames:  %d (%d padding)\n", summary.Frames, summary.PaddingFrames)
	}

	return nil
}
