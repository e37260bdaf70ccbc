package main

import (
	"context"
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/maxpert/termlog/admin"
	"github.com/maxpert/termlog/cfg"
	"github.com/maxpert/termlog/clock"
	"github.com/maxpert/termlog/conductor"
	"github.com/maxpert/termlog/logbuffer"
	"github.com/maxpert/termlog/publication"
	"github.com/maxpert/termlog/telemetry"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	flag.Parse()

	// Load configuration
	err := cfg.Load(*cfg.ConfigPathFlag)
	if err != nil {
		panic(err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("Invalid configuration: %v", err))
	}

	// Setup logging
	var writer io.Writer = zerolog.NewConsoleWriter()
	if cfg.Config.Logging.Format == "json" {
		writer = os.Stdout
	}
	gLog := zerolog.New(writer).
		With().
		Timestamp().
		Str("client", cfg.Config.ClientName).
		Logger()

	if cfg.Config.Logging.Verbose {
		log.Logger = gLog.Level(zerolog.DebugLevel)
	} else {
		log.Logger = gLog.Level(zerolog.InfoLevel)
	}

	log.Info().Msg("termlog - term log publisher")
	log.Debug().Msg("Initializing telemetry")
	telemetry.InitializeTelemetry()
	telemetry.InitMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Phase 1: conductor owns every log this client creates
	cond, err := conductor.New(conductor.Config{
		ClientName:        cfg.Config.ClientName,
		LogDir:            cfg.Config.LogDir,
		TermLength:        cfg.Config.Term.TermLength,
		MTU:               cfg.Config.Term.MTU,
		ConnectionTimeout: cfg.ConnectionTimeout(),
		Clock:             clock.NewSystemNanoClock(),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize conductor")
		return
	}
	defer func() {
		if err := cond.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close conductor")
		}
	}()

	if cfg.Config.Prometheus.Enabled {
		interval := time.Duration(cfg.Config.Prometheus.CollectIntervalMS) * time.Millisecond
		collector := telemetry.NewMetricsCollector(cond, interval)
		collector.Start()
		defer collector.Stop()
	}

	// Phase 2: admin server (also serves /metrics)
	if cfg.Config.Admin.Enabled {
		server := startAdminServer(cond)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Warn().Err(err).Msg("Admin server shutdown failed")
			}
		}()
	}

	// Phase 3: one publication, drainer and publisher loop per configured stream
	var wg sync.WaitGroup
	for _, stream := range cfg.Config.Streams {
		pub, err := cond.AddPublication(stream.Channel, stream.StreamID)
		if err != nil {
			log.Fatal().Err(err).Str("channel", stream.Channel).Int32("stream_id", stream.StreamID).Msg("Failed to add publication")
			return
		}

		drainer, err := conductor.NewDrainer(conductor.DrainerConfig{
			Conductor:      cond,
			CorrelationID:  pub.CorrelationID(),
			Handler:        verifyChecksum(pub),
			ReceiverWindow: cfg.Config.Drainer.ReceiverWindow,
			Interval:       cfg.DrainerInterval(),
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create drainer")
			return
		}
		drainer.Start()

		wg.Add(1)
		go func(stream cfg.StreamConfiguration) {
			defer wg.Done()
			defer func() {
				if err := pub.Dispose(); err != nil {
					log.Warn().Err(err).Msg("Failed to dispose publication")
				}
			}()
			// The drainer reads the log, so it stops before the last Dispose unmaps it
			defer drainer.Stop()

			sent := runPublisher(ctx, pub, stream)
			log.Info().
				Str("channel", stream.Channel).
				Int32("stream_id", stream.StreamID).
				Int64("messages", sent).
				Int64("position", pub.Position()).
				Msg("Publisher finished")
		}(stream)
	}

	log.Info().
		Str("log_dir", cfg.Config.LogDir).
		Int32("term_length", cfg.Config.Term.TermLength).
		Int("streams", len(cfg.Config.Streams)).
		Msg("termlog started successfully")

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down")
	case <-done:
		log.Info().Msg("All publishers finished")
	}
	stop()
	<-done
}

func startAdminServer(cond *conductor.Conductor) *http.Server {
	mux := http.NewServeMux()
	admin.RegisterRoutes(mux, admin.NewAdminHandlers(cond))
	if handler := telemetry.GetMetricsHandler(); handler != nil {
		mux.Handle("/metrics", handler)
	}

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Config.Admin.Address, cfg.Config.Admin.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("address", server.Addr).Msg("Admin server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Admin server failed")
		}
	}()

	return server
}

// runPublisher publishes stream.Messages messages, or until ctx is done when
// Messages is 0, and returns the number published
func runPublisher(ctx context.Context, pub *publication.Publication, stream cfg.StreamConfiguration) int64 {
	payload := make([]byte, stream.MessageLength)
	var claim logbuffer.BufferClaim
	var sent int64

	for stream.Messages == 0 || sent < int64(stream.Messages) {
		if ctx.Err() != nil {
			return sent
		}

		if len(payload) >= 8 {
			binary.LittleEndian.PutUint64(payload, uint64(sent))
		}

		var result int64
		if stream.UseClaim {
			result = pub.TryClaim(len(payload), &claim)
			if result > 0 {
				copy(claim.Buffer(), payload)
				claim.SetReservedValue(checksum(payload))
				if err := claim.Commit(); err != nil {
					log.Error().Err(err).Msg("Failed to commit claim")
					return sent
				}
			}
		} else {
			result = pub.OfferWithSupplier(payload, checksumSupplier)
		}

		switch {
		case result > 0:
			sent++
		case result == publication.BackPressured, result == publication.NotConnected, result == publication.AdminAction:
			runtime.Gosched()
		default:
			log.Error().
				Str("channel", stream.Channel).
				Int32("stream_id", stream.StreamID).
				Str("result", publication.ResultString(result)).
				Msg("Publisher stopped")
			return sent
		}
	}

	return sent
}

func checksum(payload []byte) int64 {
	return int64(xxhash.Sum64(payload))
}

// checksumSupplier stamps each frame with a hash of its own payload
func checksumSupplier(termBuffer []byte, termOffset, frameLength int32) int64 {
	return checksum(termBuffer[termOffset+logbuffer.HeaderLength : termOffset+frameLength])
}

// verifyChecksum checks unfragmented messages against their reserved value
func verifyChecksum(pub *publication.Publication) conductor.MessageHandler {
	return func(header logbuffer.FrameHeader, payload []byte) {
		if header.Flags&logbuffer.UnfragmentedFlags != logbuffer.UnfragmentedFlags {
			return
		}
		if header.ReservedValue != checksum(payload) {
			log.Warn().
				Str("channel", pub.Channel()).
				Int32("stream_id", pub.StreamID()).
				Int32("term_id", header.TermID).
				Int32("term_offset", header.TermOffset).
				Msg("Checksum mismatch")
		}
	}
}
