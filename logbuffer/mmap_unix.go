//go:build unix

package logbuffer

import (
	"fmt"
	"os"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// MappedResource is a Resource backed by a memory mapped file so that other
// processes mapping the same file see frames as they are committed.
type MappedResource struct {
	file       *os.File
	mem        []byte
	path       string
	termLength int32
	closed     atomic.Bool
}

// MapNewFile creates a log file at path sized for termLength and maps it
// read/write and shared. The file must not already exist.
func MapNewFile(path string, termLength int32) (*MappedResource, error) {
	if err := CheckTermLength(termLength); err != nil {
		return nil, err
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create log file %s: %w", path, err)
	}

	cleanup := func() {
		file.Close()
		os.Remove(path)
	}

	length := ComputeLogLength(termLength)
	if err := file.Truncate(length); err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to size log file: %w", err)
	}

	mem, err := mmapFile(file, length)
	if err != nil {
		cleanup()
		return nil, err
	}

	return &MappedResource{
		file:       file,
		mem:        mem,
		path:       path,
		termLength: termLength,
	}, nil
}

// MapExistingFile maps a log file created by MapNewFile, deriving the term
// length from the file size.
func MapExistingFile(path string) (*MappedResource, error) {
	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat log file: %w", err)
	}

	size := info.Size()
	termLength := int32((size - MetaDataLength) / PartitionCount)
	if err := CheckTermLength(termLength); err != nil || ComputeLogLength(termLength) != size {
		file.Close()
		return nil, fmt.Errorf("log file %s has unexpected size %d: %w", path, size, ErrInvalidTermLength)
	}

	mem, err := mmapFile(file, size)
	if err != nil {
		file.Close()
		return nil, err
	}

	return &MappedResource{
		file:       file,
		mem:        mem,
		path:       path,
		termLength: termLength,
	}, nil
}

// TermBuffer returns the term partition at index
func (m *MappedResource) TermBuffer(index int) []byte {
	return termSlice(m.mem, m.termLength, index)
}

// MetaDataBuffer returns the metadata page
func (m *MappedResource) MetaDataBuffer() []byte {
	return metaDataSlice(m.mem, m.termLength)
}

// TermLength returns the term length
func (m *MappedResource) TermLength() int32 {
	return m.termLength
}

// Path returns the mapped file path
func (m *MappedResource) Path() string {
	return m.path
}

// Close unmaps the file and closes it. The file itself is left on disk.
func (m *MappedResource) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return fmt.Errorf("log file %s already unmapped", m.path)
	}

	var firstErr error
	if err := unix.Munmap(m.mem); err != nil {
		firstErr = fmt.Errorf("munmap failed: %w", err)
	}
	m.mem = nil

	if err := m.file.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("failed to close log file: %w", err)
	}
	return firstErr
}

func mmapFile(file *os.File, length int64) ([]byte, error) {
	mem, err := unix.Mmap(int(file.Fd()), 0, int(length), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap failed: %w", err)
	}
	return mem, nil
}
