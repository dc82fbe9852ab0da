package alsa

import (
	"os"
	"sync/atomic"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// fakeDevice stands in for an open PCM. Its descriptor is a sparse memfd large enough to be
// mapped at the real status and control offsets, and the test plays the kernel through a
// second set of mappings of the same file.
type fakeDevice struct {
	fd     int
	stream Direction
	geom   Geometry
	layout ChannelLayout

	streamErr   error
	geometryErr error
	layoutErr   error

	status  *sndPcmMmapStatus
	control *sndPcmMmapControl
	data    []int16
}

func newFakeDevice(t *testing.T, dir Direction, bufferSize, boundary Frames, channels uint32) *fakeDevice {
	t.Helper()

	fd, err := unix.MemfdCreate("alsa-fake-pcm", unix.MFD_CLOEXEC)
	require.NoError(t, err)
	t.Cleanup(func() { _ = unix.Close(fd) })

	require.NoError(t, unix.Ftruncate(fd, mmapOffsetControl+int64(os.Getpagesize())))

	dev := &fakeDevice{
		fd:     fd,
		stream: dir,
		geom: Geometry{
			Access:      SNDRV_PCM_ACCESS_MMAP_INTERLEAVED,
			BufferSize:  bufferSize,
			Channels:    channels,
			SampleBytes: 2,
			Boundary:    boundary,
		},
		layout: ChannelLayout{
			Offset:   SNDRV_PCM_MMAP_OFFSET_DATA,
			FirstBit: 0,
			StepBits: channels * 16,
		},
	}

	status := dev.kernelMap(t, int(unsafe.Sizeof(sndPcmMmapStatus{})), mmapOffsetStatus)
	dev.status = regionAs[sndPcmMmapStatus](status)

	control := dev.kernelMap(t, int(unsafe.Sizeof(sndPcmMmapControl{})), mmapOffsetControl)
	dev.control = regionAs[sndPcmMmapControl](control)

	count := int(bufferSize) * int(channels)
	data := dev.kernelMap(t, count*2, SNDRV_PCM_MMAP_OFFSET_DATA)
	dev.data = unsafe.Slice((*int16)(data.Pointer()), count)

	return dev
}

func (d *fakeDevice) kernelMap(t *testing.T, length int, offset int64) *Region {
	t.Helper()

	r, err := MapRegion(uintptr(d.fd), length, offset, true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	return r
}

func (d *fakeDevice) Fd() uintptr { return uintptr(d.fd) }

func (d *fakeDevice) Stream() (Direction, error) { return d.stream, d.streamErr }

func (d *fakeDevice) Geometry() (Geometry, error) { return d.geom, d.geometryErr }

func (d *fakeDevice) ChannelLayout(uint32) (ChannelLayout, error) { return d.layout, d.layoutErr }

func (d *fakeDevice) setHwPtr(v Frames) { storeUframes(&d.status.HwPtr, v) }

func (d *fakeDevice) setApplPtr(v Frames) { storeUframes(&d.control.ApplPtr, v) }

func (d *fakeDevice) applPtr() Frames { return loadUframes(&d.control.ApplPtr) }

func (d *fakeDevice) setState(s int32) { atomic.StoreInt32(&d.status.State, s) }

func (d *fakeDevice) setSuspendedState(s int32) { atomic.StoreInt32(&d.status.SuspendedState, s) }

// openFakeRing opens an int16 ring over dev and closes it when the test ends.
func openFakeRing(t *testing.T, dev *fakeDevice) *Ring[int16] {
	t.Helper()

	ring, err := OpenDirectRing[int16](dev, dev.stream)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ring.Close() })

	return ring
}
