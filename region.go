package alsa

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Region owns one shared mapping of a PCM device file.
//
// The mapped length is the requested size rounded up to the page size, and Close unmaps exactly
// that length. A Region must not be copied; views built on it borrow the memory and become
// invalid once the Region is closed.
type Region struct {
	data   []byte
	offset int64
	size   int
}

// MapRegion maps length bytes of fd at offset with MAP_SHARED.
// The mapping is readable, and also writable when writable is true.
func MapRegion(fd uintptr, length int, offset int64, writable bool) (*Region, error) {
	if length <= 0 {
		return nil, &MapError{Offset: offset, Length: length, Err: unix.EINVAL}
	}

	pageSize := os.Getpagesize()
	mapLen := (length + pageSize - 1) / pageSize * pageSize

	prot := unix.PROT_READ
	if writable {
		prot |= unix.PROT_WRITE
	}

	data, err := unix.Mmap(int(fd), offset, mapLen, prot, unix.MAP_SHARED)
	if err != nil {
		return nil, &MapError{Offset: offset, Length: mapLen, Err: err}
	}

	return &Region{data: data, offset: offset, size: length}, nil
}

// mapElements maps count values of T.
func mapElements[T any](fd uintptr, count int, offset int64, writable bool) (*Region, error) {
	var zero T

	return MapRegion(fd, count*int(unsafe.Sizeof(zero)), offset, writable)
}

// Len returns the mapped length in bytes, a multiple of the page size.
func (r *Region) Len() int {
	return len(r.data)
}

// Size returns the length that was requested when mapping.
func (r *Region) Size() int {
	return r.size
}

// Offset returns the mmap offset the region was mapped at.
func (r *Region) Offset() int64 {
	return r.offset
}

// Pointer returns the start of the mapping, or nil after Close.
func (r *Region) Pointer() unsafe.Pointer {
	if r == nil || r.data == nil {
		return nil
	}

	return unsafe.Pointer(&r.data[0])
}

// Close unmaps the region. Calling Close more than once is a no-op.
func (r *Region) Close() error {
	if r == nil || r.data == nil {
		return nil
	}

	err := unix.Munmap(r.data)
	r.data = nil
	if err != nil {
		return fmt.Errorf("munmap at offset %#x failed: %w", r.offset, err)
	}

	return nil
}

// regionAs views the start of the region as a *T.
func regionAs[T any](r *Region) *T {
	return (*T)(r.Pointer())
}

// Every access below goes through sync/atomic, so the compiler can neither cache nor drop
// a read of memory the kernel updates behind our back.

func loadUframes(p *SndPcmUframesT) Frames {
	if unsafe.Sizeof(*p) == 8 {
		return Frames(atomic.LoadUint64((*uint64)(unsafe.Pointer(p))))
	}

	return Frames(atomic.LoadUint32((*uint32)(unsafe.Pointer(p))))
}

func storeUframes(p *SndPcmUframesT, v Frames) {
	if unsafe.Sizeof(*p) == 8 {
		atomic.StoreUint64((*uint64)(unsafe.Pointer(p)), uint64(v))
	} else {
		atomic.StoreUint32((*uint32)(unsafe.Pointer(p)), uint32(v))
	}
}

// The status page is page aligned and both timestamps sit at 8-byte offsets, which 64-bit
// atomics need on 386 and arm.
func loadTimespec(ts *kernelTimespec) time.Time {
	return time.Unix(atomic.LoadInt64(&ts.Sec), atomic.LoadInt64(&ts.Nsec))
}
