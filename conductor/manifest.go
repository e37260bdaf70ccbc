package conductor

import (
	"fmt"

	"github.com/maxpert/termlog/encoding"
	"github.com/maxpert/termlog/logbuffer"
)

// Manifest describes a memory mapped log so that another process can find and
// map it. It is written next to the log file when the stream is registered and
// removed when the stream is released.
type Manifest struct {
	ClientName        string `msgpack:"client_name"`
	Channel           string `msgpack:"channel"`
	StreamID          int32  `msgpack:"stream_id"`
	SessionID         int32  `msgpack:"session_id"`
	CorrelationID     int64  `msgpack:"correlation_id"`
	InitialTermID     int32  `msgpack:"initial_term_id"`
	TermLength        int32  `msgpack:"term_length"`
	MTU               int32  `msgpack:"mtu"`
	LogFile           string `msgpack:"log_file"`
	CreatedAtUnixNano int64  `msgpack:"created_at_unix_nano"`
}

// ReadManifest reads a manifest written by a conductor
func ReadManifest(path string) (*Manifest, error) {
	var m Manifest
	if err := encoding.ReadFile(path, &m); err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return &m, nil
}

// OpenManifestLog reads the manifest at path and maps the log it describes.
// The caller owns the returned log and must Close it.
func OpenManifestLog(path string) (*Manifest, *logbuffer.Log, error) {
	m, err := ReadManifest(path)
	if err != nil {
		return nil, nil, err
	}

	resource, err := logbuffer.MapExistingFile(m.LogFile)
	if err != nil {
		return nil, nil, err
	}

	l, err := logbuffer.NewLog(resource)
	if err != nil {
		resource.Close()
		return nil, nil, err
	}
	if !l.IsInitialised() || l.InitialTermID() != m.InitialTermID {
		l.Close()
		return nil, nil, fmt.Errorf("log %s does not match manifest %s", m.LogFile, path)
	}

	return m, l, nil
}

func writeManifest(path string, m *Manifest) error {
	if err := encoding.WriteFile(path, m); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}
