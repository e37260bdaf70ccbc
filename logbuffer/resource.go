package logbuffer

import (
	"errors"
	"fmt"
	"sync/atomic"
	"unsafe"
)

// ErrMappingUnsupported is returned on platforms without mmap support
var ErrMappingUnsupported = errors.New("memory mapped logs are not supported on this platform")

// Resource supplies the memory backing one log: PartitionCount term buffers of
// equal power-of-two length and a metadata buffer of MetaDataLength bytes.
// The memory must stay valid and fixed in place until Close.
type Resource interface {
	// TermBuffer returns the term partition at index
	TermBuffer(index int) []byte
	// MetaDataBuffer returns the metadata page
	MetaDataBuffer() []byte
	// TermLength returns the length of every term partition
	TermLength() int32
	// Close releases the memory; buffers must not be touched afterwards
	Close() error
}

// HeapResource is a Resource backed by process memory. It is used for
// in-process streams and tests.
type HeapResource struct {
	words      []uint64 // keeps the backing array 8-byte aligned and alive
	mem        []byte
	termLength int32
	closed     atomic.Bool
}

// NewHeapResource allocates a zeroed log for the given term length
func NewHeapResource(termLength int32) (*HeapResource, error) {
	if err := CheckTermLength(termLength); err != nil {
		return nil, err
	}

	total := ComputeLogLength(termLength)
	words := make([]uint64, total/8)
	mem := unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), total)

	return &HeapResource{
		words:      words,
		mem:        mem,
		termLength: termLength,
	}, nil
}

// TermBuffer returns the term partition at index
func (h *HeapResource) TermBuffer(index int) []byte {
	return termSlice(h.mem, h.termLength, index)
}

// MetaDataBuffer returns the metadata page
func (h *HeapResource) MetaDataBuffer() []byte {
	return metaDataSlice(h.mem, h.termLength)
}

// TermLength returns the term length
func (h *HeapResource) TermLength() int32 {
	return h.termLength
}

// Close drops the reference to the backing memory
func (h *HeapResource) Close() error {
	if !h.closed.CompareAndSwap(false, true) {
		return fmt.Errorf("heap log already closed")
	}
	h.words = nil
	h.mem = nil
	return nil
}

func termSlice(mem []byte, termLength int32, index int) []byte {
	start := int64(index) * int64(termLength)
	end := start + int64(termLength)
	return mem[start:end:end]
}

func metaDataSlice(mem []byte, termLength int32) []byte {
	start := int64(termLength) * PartitionCount
	end := start + MetaDataLength
	return mem[start:end:end]
}
