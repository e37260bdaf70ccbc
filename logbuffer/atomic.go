package logbuffer

import (
	"encoding/binary"
	"sync/atomic"
	"unsafe"
)

func init() {
	var probe [2]byte
	binary.NativeEndian.PutUint16(probe[:], 1)
	if probe[0] != 1 {
		panic("logbuffer: big-endian platforms are not supported")
	}
}

// int64At returns a pointer to the 8 bytes at offset. offset must be 8-byte aligned
// relative to an 8-byte aligned buffer.
func int64At(buf []byte, offset int) *int64 {
	_ = buf[offset+7]
	return (*int64)(unsafe.Pointer(&buf[offset]))
}

// int32At returns a pointer to the 4 bytes at offset. offset must be 4-byte aligned.
func int32At(buf []byte, offset int) *int32 {
	_ = buf[offset+3]
	return (*int32)(unsafe.Pointer(&buf[offset]))
}

func getInt64Volatile(buf []byte, offset int) int64 {
	return atomic.LoadInt64(int64At(buf, offset))
}

func putInt64Ordered(buf []byte, offset int, value int64) {
	atomic.StoreInt64(int64At(buf, offset), value)
}

func getAndAddInt64(buf []byte, offset int, delta int64) int64 {
	return atomic.AddInt64(int64At(buf, offset), delta) - delta
}

func casInt64(buf []byte, offset int, expected, update int64) bool {
	return atomic.CompareAndSwapInt64(int64At(buf, offset), expected, update)
}

func getInt32Volatile(buf []byte, offset int) int32 {
	return atomic.LoadInt32(int32At(buf, offset))
}

func putInt32Ordered(buf []byte, offset int, value int32) {
	atomic.StoreInt32(int32At(buf, offset), value)
}

func casInt32(buf []byte, offset int, expected, update int32) bool {
	return atomic.CompareAndSwapInt32(int32At(buf, offset), expected, update)
}

// isAligned8 reports whether the first byte of buf sits on an 8-byte boundary
func isAligned8(buf []byte) bool {
	return len(buf) > 0 && uintptr(unsafe.Pointer(&buf[0]))&7 == 0
}
