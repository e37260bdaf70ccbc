package cfg

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/cespare/xxhash/v2"
	"github.com/denisbrodbeck/machineid"
	"github.com/maxpert/termlog/logbuffer"
	"github.com/rs/zerolog/log"
)

// TermConfiguration controls the geometry of every log created by this client
type TermConfiguration struct {
	TermLength int32 `toml:"term_length"` // Power of two in [64KB, 1GB]
	MTU        int32 `toml:"mtu"`         // Largest frame written before fragmenting
}

// PublicationConfiguration controls publication behaviour
type PublicationConfiguration struct {
	ConnectionTimeoutMS int `toml:"connection_timeout_ms"` // Status message age after which a publication is not connected
}

// StreamConfiguration describes one publication opened at startup
type StreamConfiguration struct {
	Channel       string `toml:"channel"`
	StreamID      int32  `toml:"stream_id"`
	MessageLength int    `toml:"message_length"`
	Messages      int    `toml:"messages"`  // 0 = publish until shutdown
	UseClaim      bool   `toml:"use_claim"` // Publish through TryClaim instead of Offer
}

// DrainerConfiguration controls the local consumer that walks committed frames
// and sends status messages back to the conductor
type DrainerConfiguration struct {
	ReceiverWindow int32 `toml:"receiver_window"`
	IntervalMS     int   `toml:"interval_ms"`
}

// LoggingConfiguration controls logging behavior
type LoggingConfiguration struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format"` // "console" or "json"
}

// PrometheusConfiguration for metrics
type PrometheusConfiguration struct {
	Enabled           bool `toml:"enabled"`
	CollectIntervalMS int  `toml:"collect_interval_ms"`
}

// AdminConfiguration for the HTTP admin server (also serves /metrics)
type AdminConfiguration struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
	Port    int    `toml:"port"`
	Secret  string `toml:"secret"` // Empty disables authentication
}

// Configuration is the main configuration structure
type Configuration struct {
	ClientName string `toml:"client_name"`
	LogDir     string `toml:"log_dir"` // Empty keeps logs in process memory

	Term        TermConfiguration        `toml:"term"`
	Publication PublicationConfiguration `toml:"publication"`
	Streams     []StreamConfiguration    `toml:"streams"`
	Drainer     DrainerConfiguration     `toml:"drainer"`
	Logging     LoggingConfiguration     `toml:"logging"`
	Prometheus  PrometheusConfiguration  `toml:"prometheus"`
	Admin       AdminConfiguration       `toml:"admin"`
}

// Command line flags
var (
	ConfigPathFlag = flag.String("config", "config.toml", "Path to configuration file")
	LogDirFlag     = flag.String("log-dir", "", "Log directory (overrides config)")
	TermLengthFlag = flag.Int("term-length", 0, "Term length in bytes (overrides config)")
	ClientNameFlag = flag.String("client-name", "", "Client name (overrides config, empty=auto)")
)

// Default configuration
var Config = &Configuration{
	ClientName: "", // Auto-generate
	LogDir:     "",

	Term: TermConfiguration{
		TermLength: 16 * 1024 * 1024,
		MTU:        logbuffer.DefaultMTULength,
	},

	Publication: PublicationConfiguration{
		ConnectionTimeoutMS: 5000,
	},

	Streams: []StreamConfiguration{},

	Drainer: DrainerConfiguration{
		ReceiverWindow: 128 * 1024,
		IntervalMS:     1,
	},

	Logging: LoggingConfiguration{
		Verbose: false,
		Format:  "console",
	},

	Prometheus: PrometheusConfiguration{
		Enabled:           true,
		CollectIntervalMS: 1000,
	},

	Admin: AdminConfiguration{
		Enabled: true,
		Address: "127.0.0.1",
		Port:    9090,
	},
}

// Load loads configuration from file and applies CLI overrides
func Load(configPath string) error {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			log.Info().Str("path", configPath).Msg("Loading configuration")
			if _, err := toml.DecodeFile(configPath, Config); err != nil {
				return fmt.Errorf("failed to decode config: %w", err)
			}
		} else {
			log.Warn().Str("path", configPath).Msg("Config file not found, using defaults")
		}
	}

	// Apply CLI overrides
	if *LogDirFlag != "" {
		Config.LogDir = *LogDirFlag
	}
	if *TermLengthFlag != 0 {
		Config.Term.TermLength = int32(*TermLengthFlag)
	}
	if *ClientNameFlag != "" {
		Config.ClientName = *ClientNameFlag
	}

	if Config.ClientName == "" {
		name, err := generateClientName()
		if err != nil {
			return fmt.Errorf("failed to generate client name: %w", err)
		}
		Config.ClientName = name
		log.Info().Str("client_name", Config.ClientName).Msg("Auto-generated client name")
	}

	if Config.LogDir != "" {
		if err := os.MkdirAll(Config.LogDir, 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	return nil
}

// generateClientName derives a stable client name from the machine id
func generateClientName() (string, error) {
	id, err := machineid.ProtectedID("termlog")
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("termlog-%016x", xxhash.Sum64String(id)), nil
}

// Validate checks configuration for errors
func Validate() error {
	if err := logbuffer.CheckTermLength(Config.Term.TermLength); err != nil {
		return fmt.Errorf("invalid term configuration: %w", err)
	}

	if err := logbuffer.CheckMTULength(Config.Term.MTU, Config.Term.TermLength); err != nil {
		return fmt.Errorf("invalid term configuration: %w", err)
	}

	if Config.Publication.ConnectionTimeoutMS < 1 {
		return fmt.Errorf("publication connection timeout must be >= 1ms")
	}

	maxMessageLength := int(logbuffer.ComputeMaxMessageLength(Config.Term.TermLength))
	type streamKey struct {
		channel  string
		streamID int32
	}
	seen := make(map[streamKey]bool, len(Config.Streams))

	for i, s := range Config.Streams {
		if s.Channel == "" {
			return fmt.Errorf("stream %d: channel must not be empty", i)
		}
		key := streamKey{s.Channel, s.StreamID}
		if seen[key] {
			return fmt.Errorf("stream %d: duplicate stream %s/%d", i, s.Channel, s.StreamID)
		}
		seen[key] = true

		if s.MessageLength < 0 || s.MessageLength > maxMessageLength {
			return fmt.Errorf("stream %d: message length %d outside [0, %d]", i, s.MessageLength, maxMessageLength)
		}
		if s.UseClaim && s.MessageLength > int(Config.Term.MTU-logbuffer.HeaderLength) {
			return fmt.Errorf("stream %d: claimed messages must fit in one frame of %d bytes", i, Config.Term.MTU-logbuffer.HeaderLength)
		}
		if s.Messages < 0 {
			return fmt.Errorf("stream %d: messages must be >= 0", i)
		}
	}

	if Config.Drainer.ReceiverWindow < logbuffer.FrameAlignment {
		return fmt.Errorf("drainer receiver window must be >= %d", logbuffer.FrameAlignment)
	}

	if Config.Drainer.IntervalMS < 1 {
		return fmt.Errorf("drainer interval must be >= 1ms")
	}

	if Config.Logging.Format != "console" && Config.Logging.Format != "json" {
		return fmt.Errorf("invalid logging format: %s", Config.Logging.Format)
	}

	if Config.Prometheus.Enabled && Config.Prometheus.CollectIntervalMS < 1 {
		return fmt.Errorf("prometheus collect interval must be >= 1ms")
	}

	if Config.Admin.Enabled && (Config.Admin.Port < 1 || Config.Admin.Port > 65535) {
		return fmt.Errorf("invalid admin port: %d", Config.Admin.Port)
	}

	return nil
}

// ConnectionTimeout returns the publication connection timeout
func ConnectionTimeout() time.Duration {
	return time.Duration(Config.Publication.ConnectionTimeoutMS) * time.Millisecond
}

// DrainerInterval returns the pause between drainer passes
func DrainerInterval() time.Duration {
	return time.Duration(Config.Drainer.IntervalMS) * time.Millisecond
}
