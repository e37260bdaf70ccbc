// Package encoding provides centralized msgpack serialization for termlog.
// Log manifests and any other on-disk metadata go through this package so
// every file is written and read the same way.
//
// Thread Safety: all functions are safe for concurrent use.
package encoding

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

type encoderPoolEntry struct {
	buf bytes.Buffer
	enc *msgpack.Encoder
}

var encoderPool = sync.Pool{
	New: func() interface{} {
		entry := &encoderPoolEntry{}
		entry.enc = msgpack.NewEncoder(&entry.buf)
		entry.enc.UseCompactInts(true)
		return entry
	},
}

// Marshal encodes a value to msgpack format.
func Marshal(v interface{}) ([]byte, error) {
	entry := encoderPool.Get().(*encoderPoolEntry)
	defer encoderPool.Put(entry)
	entry.buf.Reset()

	if err := entry.enc.Encode(v); err != nil {
		return nil, err
	}

	out := make([]byte, entry.buf.Len())
	copy(out, entry.buf.Bytes())
	return out, nil
}

// Unmarshal decodes msgpack data into v.
// When decoding into interface{}, strings are preserved as Go strings (not []byte).
func Unmarshal(data []byte, v interface{}) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.UseLooseInterfaceDecoding(true)

	return dec.Decode(v)
}

// WriteFile encodes v and replaces path with the result. The data is written
// to a temporary file in the same directory first, so readers never see a
// partial file.
func WriteFile(path string, v interface{}) error {
	data, err := Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", path, err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close %s: %w", tmpPath, err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename %s: %w", tmpPath, err)
	}
	return nil
}

// ReadFile decodes the msgpack file at path into v.
func ReadFile(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}
