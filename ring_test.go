package alsa

import (
	"bytes"
	"errors"
	"iter"
	"log/slog"
	"os"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func fillRamp(dev *fakeDevice) {
	for i := range dev.data {
		dev.data[i] = int16(i)
	}
}

func counter(start int16) iter.Seq[int16] {
	return func(yield func(int16) bool) {
		for v := start; ; v++ {
			if !yield(v) {
				return
			}
		}
	}
}

func TestRingCaptureScenario(t *testing.T) {
	dev := newFakeDevice(t, Capture, 1024, 4096, 2)
	ring := openFakeRing(t, dev)

	assert.Equal(t, Capture, ring.Direction())
	assert.Equal(t, Frames(1024), ring.BufferSize())
	assert.Equal(t, Frames(4096), ring.Boundary())
	assert.Equal(t, uint32(2), ring.Channels())
	assert.Equal(t, Frames(0), ring.Avail())

	dev.setHwPtr(300)
	assert.Equal(t, Frames(300), ring.HwPtr())
	assert.Equal(t, Frames(300), ring.Avail())

	ring.Commit(300)
	assert.Equal(t, Frames(0), ring.Avail())
	assert.Equal(t, Frames(300), ring.ApplPtr())
	assert.Equal(t, Frames(300), dev.applPtr())
}

func TestRingPlaybackScenario(t *testing.T) {
	dev := newFakeDevice(t, Playback, 1024, 4096, 2)
	ring := openFakeRing(t, dev)

	assert.Equal(t, Frames(1024), ring.Avail())

	ring.Commit(1024)
	assert.Equal(t, Frames(0), ring.Avail())
	assert.Equal(t, Frames(1024), dev.applPtr())

	dev.setHwPtr(256)
	assert.Equal(t, Frames(256), ring.Avail())
}

func TestRingCommitWrapsAtBoundary(t *testing.T) {
	dev := newFakeDevice(t, Capture, 1024, 4096, 2)
	ring := openFakeRing(t, dev)

	dev.setApplPtr(4095)
	dev.setHwPtr(1)
	assert.Equal(t, Frames(2), ring.Avail())

	ring.Commit(2)
	assert.Equal(t, Frames(1), ring.ApplPtr())
	assert.Equal(t, Frames(0), ring.Avail())
}

func TestRingDataWindow(t *testing.T) {
	t.Run("Contiguous", func(t *testing.T) {
		dev := newFakeDevice(t, Capture, 1024, 4096, 2)
		ring := openFakeRing(t, dev)

		dev.setHwPtr(300)

		first, wrapped, ok := ring.DataWindow()
		assert.False(t, ok)
		assert.Equal(t, Frames(0), first.Offset)
		assert.Equal(t, Frames(300), first.Frames)
		assert.Len(t, first.Samples, 600)
		assert.Empty(t, wrapped.Samples)
	})

	t.Run("Wrapped", func(t *testing.T) {
		dev := newFakeDevice(t, Capture, 1024, 4096, 2)
		ring := openFakeRing(t, dev)

		dev.setApplPtr(1000)
		dev.setHwPtr(1100)

		first, wrapped, ok := ring.DataWindow()
		require.True(t, ok)
		assert.Equal(t, Frames(1000), first.Offset)
		assert.Equal(t, Frames(24), first.Frames)
		assert.Len(t, first.Samples, 48)
		assert.Equal(t, Frames(0), wrapped.Offset)
		assert.Equal(t, Frames(76), wrapped.Frames)
		assert.Len(t, wrapped.Samples, 152)
	})

	t.Run("EndsAtBufferEnd", func(t *testing.T) {
		dev := newFakeDevice(t, Capture, 1024, 4096, 2)
		ring := openFakeRing(t, dev)

		dev.setApplPtr(1000)
		dev.setHwPtr(1024)

		first, _, ok := ring.DataWindow()
		assert.False(t, ok)
		assert.Equal(t, Frames(24), first.Frames)
	})

	t.Run("ClampedAfterOverrun", func(t *testing.T) {
		dev := newFakeDevice(t, Capture, 1024, 4096, 2)
		ring := openFakeRing(t, dev)

		dev.setApplPtr(100)
		dev.setHwPtr(1700)
		assert.Equal(t, Frames(1600), ring.Avail())

		first, wrapped, ok := ring.DataWindow()
		require.True(t, ok)
		assert.Equal(t, Frames(924), first.Frames)
		assert.Equal(t, Frames(100), wrapped.Frames)
		assert.Equal(t, ring.BufferSize(), first.Frames+wrapped.Frames)
	})

	t.Run("PlaybackFreeSpace", func(t *testing.T) {
		dev := newFakeDevice(t, Playback, 1024, 4096, 2)
		ring := openFakeRing(t, dev)

		dev.setApplPtr(1000)
		dev.setHwPtr(500)

		first, wrapped, ok := ring.DataWindow()
		require.True(t, ok)
		assert.Equal(t, Frames(1000), first.Offset)
		assert.Equal(t, Frames(24), first.Frames)
		assert.Equal(t, Frames(500), wrapped.Frames)
	})

	t.Run("AliasesDeviceMemory", func(t *testing.T) {
		dev := newFakeDevice(t, Capture, 1024, 4096, 2)
		ring := openFakeRing(t, dev)
		fillRamp(dev)

		dev.setApplPtr(5)
		dev.setHwPtr(7)

		first, _, _ := ring.DataWindow()
		assert.Equal(t, []int16{10, 11, 12, 13}, first.Samples)
	})
}

func TestRingSamples(t *testing.T) {
	t.Run("AllAvailable", func(t *testing.T) {
		dev := newFakeDevice(t, Capture, 1024, 4096, 2)
		ring := openFakeRing(t, dev)
		fillRamp(dev)

		dev.setHwPtr(3)

		got := slices.Collect(ring.Samples())
		assert.Equal(t, []int16{0, 1, 2, 3, 4, 5}, got)
		assert.Equal(t, Frames(3), ring.ApplPtr())
		assert.Empty(t, slices.Collect(ring.Samples()))
	})

	t.Run("AcrossWrap", func(t *testing.T) {
		dev := newFakeDevice(t, Capture, 1024, 4096, 2)
		ring := openFakeRing(t, dev)
		fillRamp(dev)

		dev.setApplPtr(1022)
		dev.setHwPtr(1026)

		got := slices.Collect(ring.Samples())
		assert.Equal(t, []int16{2044, 2045, 2046, 2047, 0, 1, 2, 3}, got)
		assert.Equal(t, Frames(1026), ring.ApplPtr())
	})

	t.Run("StoppedEarly", func(t *testing.T) {
		dev := newFakeDevice(t, Capture, 1024, 4096, 2)
		ring := openFakeRing(t, dev)
		fillRamp(dev)

		dev.setHwPtr(3)

		var got []int16
		for v := range ring.Samples() {
			got = append(got, v)
			if len(got) == 3 {
				break
			}
		}

		// One complete frame was handed out; the half frame is not committed.
		assert.Equal(t, []int16{0, 1, 2}, got)
		assert.Equal(t, Frames(1), ring.ApplPtr())
		assert.Equal(t, []int16{2, 3, 4, 5}, slices.Collect(ring.Samples()))
	})

	t.Run("PlaybackIsEmpty", func(t *testing.T) {
		dev := newFakeDevice(t, Playback, 1024, 4096, 2)
		ring := openFakeRing(t, dev)

		assert.Empty(t, slices.Collect(ring.Samples()))
		assert.Equal(t, Frames(0), ring.ApplPtr())
	})
}

func TestRingFill(t *testing.T) {
	t.Run("UntilFull", func(t *testing.T) {
		dev := newFakeDevice(t, Playback, 1024, 4096, 2)
		ring := openFakeRing(t, dev)

		dev.setApplPtr(1000)
		dev.setHwPtr(1000)

		n := ring.Fill(counter(1))
		assert.Equal(t, Frames(1024), n)
		assert.Equal(t, Frames(2024), ring.ApplPtr())
		assert.Equal(t, Frames(0), ring.Avail())

		assert.Equal(t, int16(1), dev.data[2000])
		assert.Equal(t, int16(48), dev.data[2047])
		assert.Equal(t, int16(49), dev.data[0])
		assert.Equal(t, int16(2048), dev.data[1999])
	})

	t.Run("SourceEnds", func(t *testing.T) {
		dev := newFakeDevice(t, Playback, 1024, 4096, 2)
		ring := openFakeRing(t, dev)

		n := ring.Fill(slices.Values([]int16{7, 8, 9, 10, 11}))
		assert.Equal(t, Frames(2), n)
		assert.Equal(t, Frames(2), ring.ApplPtr())
		assert.Equal(t, []int16{7, 8, 9, 10, 11}, dev.data[:5])
	})

	t.Run("NoSpace", func(t *testing.T) {
		dev := newFakeDevice(t, Playback, 1024, 4096, 2)
		ring := openFakeRing(t, dev)

		dev.setApplPtr(1024)

		ranged := false
		n := ring.Fill(func(yield func(int16) bool) {
			ranged = true
			yield(1)
		})
		assert.Equal(t, Frames(0), n)
		assert.False(t, ranged)
		assert.Equal(t, Frames(1024), ring.ApplPtr())
	})

	t.Run("CaptureRefuses", func(t *testing.T) {
		dev := newFakeDevice(t, Capture, 1024, 4096, 2)
		ring := openFakeRing(t, dev)

		dev.setHwPtr(100)
		assert.Equal(t, Frames(0), ring.Fill(counter(0)))
		assert.Equal(t, Frames(0), ring.ApplPtr())
	})
}

func TestRingReadWrite(t *testing.T) {
	t.Run("Read", func(t *testing.T) {
		dev := newFakeDevice(t, Capture, 1024, 4096, 2)
		ring := openFakeRing(t, dev)
		fillRamp(dev)

		dev.setHwPtr(3)

		dst := make([]int16, 10)
		assert.Equal(t, Frames(3), ring.Read(dst))
		assert.Equal(t, []int16{0, 1, 2, 3, 4, 5, 0, 0, 0, 0}, dst)
		assert.Equal(t, Frames(3), ring.ApplPtr())
	})

	t.Run("ReadWholeFramesOnly", func(t *testing.T) {
		dev := newFakeDevice(t, Capture, 1024, 4096, 2)
		ring := openFakeRing(t, dev)
		fillRamp(dev)

		dev.setHwPtr(3)

		dst := make([]int16, 5)
		assert.Equal(t, Frames(2), ring.Read(dst))
		assert.Equal(t, []int16{0, 1, 2, 3, 0}, dst)
		assert.Equal(t, Frames(0), ring.Read(make([]int16, 1)))
	})

	t.Run("ReadAcrossWrap", func(t *testing.T) {
		dev := newFakeDevice(t, Capture, 1024, 4096, 2)
		ring := openFakeRing(t, dev)
		fillRamp(dev)

		dev.setApplPtr(1023)
		dev.setHwPtr(1025)

		dst := make([]int16, 4)
		assert.Equal(t, Frames(2), ring.Read(dst))
		assert.Equal(t, []int16{2046, 2047, 0, 1}, dst)
	})

	t.Run("Write", func(t *testing.T) {
		dev := newFakeDevice(t, Playback, 1024, 4096, 2)
		ring := openFakeRing(t, dev)

		assert.Equal(t, Frames(3), ring.Write([]int16{1, 2, 3, 4, 5, 6}))
		assert.Equal(t, []int16{1, 2, 3, 4, 5, 6}, dev.data[:6])
		assert.Equal(t, Frames(3), dev.applPtr())
	})

	t.Run("WriteLimitedBySpace", func(t *testing.T) {
		dev := newFakeDevice(t, Playback, 1024, 4096, 2)
		ring := openFakeRing(t, dev)

		dev.setApplPtr(1023)

		assert.Equal(t, Frames(1), ring.Write([]int16{1, 2, 3, 4}))
		assert.Equal(t, []int16{1, 2}, dev.data[2046:])
	})

	t.Run("WrongDirection", func(t *testing.T) {
		capture := openFakeRing(t, newFakeDevice(t, Capture, 1024, 4096, 2))
		playback := openFakeRing(t, newFakeDevice(t, Playback, 1024, 4096, 2))

		assert.Equal(t, Frames(0), capture.Write([]int16{1, 2}))
		assert.Equal(t, Frames(0), playback.Read(make([]int16, 2)))
	})
}

func TestOpenDirectRingErrors(t *testing.T) {
	testCases := []struct {
		name   string
		dir    Direction
		modify func(d *fakeDevice)
		want   error
	}{
		{"DirectionMismatch", Playback, func(d *fakeDevice) {}, ErrDirectionMismatch},
		{"StreamQuery", Capture, func(d *fakeDevice) { d.streamErr = unix.ENOTTY }, ErrGeometryQuery},
		{"GeometryQuery", Capture, func(d *fakeDevice) { d.geometryErr = unix.EBADFD }, ErrGeometryQuery},
		{"ChannelInfo", Capture, func(d *fakeDevice) { d.layoutErr = unix.EINVAL }, ErrGeometryQuery},
		{"ZeroChannels", Capture, func(d *fakeDevice) { d.geom.Channels = 0 }, ErrInvalidGeometry},
		{"ZeroBuffer", Capture, func(d *fakeDevice) { d.geom.BufferSize = 0 }, ErrInvalidGeometry},
		{"BoundaryBelowBuffer", Capture, func(d *fakeDevice) { d.geom.Boundary = 512 }, ErrInvalidGeometry},
		{"ReadWriteAccess", Capture, func(d *fakeDevice) { d.geom.Access = SNDRV_PCM_ACCESS_RW_INTERLEAVED }, ErrLayoutUnsupported},
		{"FirstBit", Capture, func(d *fakeDevice) { d.layout.FirstBit = 8 }, ErrLayoutUnsupported},
		{"Stride", Capture, func(d *fakeDevice) { d.layout.StepBits = 16 }, ErrLayoutUnsupported},
		{"MisalignedOffset", Capture, func(d *fakeDevice) { d.layout.Offset = 1 }, ErrMapping},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			dev := newFakeDevice(t, Capture, 1024, 4096, 2)
			tc.modify(dev)

			ring, err := OpenDirectRing[int16](dev, tc.dir)
			assert.Nil(t, ring)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	t.Run("ElementSize", func(t *testing.T) {
		dev := newFakeDevice(t, Capture, 1024, 4096, 2)

		ring, err := OpenDirectRing[int32](dev, Capture)
		assert.Nil(t, ring)
		assert.ErrorIs(t, err, ErrLayoutUnsupported)
	})

	t.Run("QueryErrorIsWrapped", func(t *testing.T) {
		dev := newFakeDevice(t, Capture, 1024, 4096, 2)
		dev.streamErr = unix.ENOTTY

		_, err := OpenDirectRing[int16](dev, Capture)
		assert.True(t, errors.Is(err, unix.ENOTTY))
	})
}

// failingFdDevice hands out a valid descriptor for the first ok calls to Fd and an invalid one after.
type failingFdDevice struct {
	*fakeDevice
	ok    int
	calls int
}

func (d *failingFdDevice) Fd() uintptr {
	d.calls++
	if d.calls > d.ok {
		return ^uintptr(0)
	}

	return d.fakeDevice.Fd()
}

// fakeMappings counts the mappings of fake device memfds in this process.
func fakeMappings(t *testing.T) int {
	t.Helper()

	maps, err := os.ReadFile("/proc/self/maps")
	require.NoError(t, err)

	return strings.Count(string(maps), "alsa-fake-pcm")
}

func TestOpenDirectRingUnmapsOnFailure(t *testing.T) {
	testCases := []struct {
		name   string
		ok     int
		offset int64
	}{
		{"ControlPage", 1, mmapOffsetControl},
		{"StatusPage", 2, mmapOffsetStatus},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			dev := &failingFdDevice{fakeDevice: newFakeDevice(t, Capture, 1024, 4096, 2), ok: tc.ok}

			before := fakeMappings(t)

			ring, err := OpenDirectRing[int16](dev, Capture)
			require.Error(t, err)
			assert.Nil(t, ring)
			assert.ErrorIs(t, err, ErrMapping)
			assert.ErrorIs(t, err, unix.EBADF)

			var mapErr *MapError
			require.ErrorAs(t, err, &mapErr)
			assert.Equal(t, tc.offset, mapErr.Offset)

			assert.Equal(t, before, fakeMappings(t), "a failed open leaves nothing mapped")
		})
	}
}

func TestRingSnapshot(t *testing.T) {
	dev := newFakeDevice(t, Capture, 1024, 4096, 2)
	ring := openFakeRing(t, dev)

	dev.setState(int32(SNDRV_PCM_STATE_RUNNING))
	dev.setApplPtr(100)
	dev.setHwPtr(300)
	dev.status.Tstamp = kernelTimespec{Sec: 1700000000, Nsec: 250}

	snap, err := ring.Snapshot()
	require.NoError(t, err)

	assert.Equal(t, RingSnapshot{
		Direction:      Capture,
		State:          SNDRV_PCM_STATE_RUNNING,
		HwPtr:          300,
		ApplPtr:        100,
		Avail:          200,
		BufferSize:     1024,
		Boundary:       4096,
		Timestamp:      time.Unix(1700000000, 250),
		AudioTimestamp: time.Unix(0, 0),
	}, snap)

	// Avail always agrees with the cursor pair of the same snapshot.
	dev.setHwPtr(4000)
	dev.setApplPtr(3990)
	snap, err = ring.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, Frames(10), snap.Avail)
	assert.Equal(t, snap.Direction.Available(snap.HwPtr, snap.ApplPtr, snap.BufferSize, snap.Boundary), snap.Avail)

	dev.setState(99)
	_, err = ring.Snapshot()
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestRingLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	dev := newFakeDevice(t, Capture, 1024, 4096, 2)

	ring, err := OpenDirectRing[int16](dev, Capture, WithLogger(logger), WithLogger(nil))
	require.NoError(t, err)
	defer ring.Close()

	assert.Contains(t, buf.String(), "Direct ring mapped")
	assert.Contains(t, buf.String(), "direction=capture")
	assert.Contains(t, buf.String(), "buffer_size=1024")
}

func TestRingClose(t *testing.T) {
	dev := newFakeDevice(t, Playback, 1024, 4096, 2)

	ring, err := OpenDirectRing[int16](dev, Playback)
	require.NoError(t, err)

	mapped := fakeMappings(t)

	require.NoError(t, ring.Close())
	assert.NoError(t, ring.Close())
	assert.Equal(t, mapped-3, fakeMappings(t))

	// Use after Close panics instead of touching unmapped memory.
	assert.Panics(t, func() { ring.Avail() })
	assert.Panics(t, func() { ring.ApplPtr() })
	assert.Panics(t, func() { ring.HwPtr() })

	// The device keeps working for a new ring.
	again := openFakeRing(t, dev)
	assert.Equal(t, Frames(1024), again.Avail())
}
