package alsa

import (
	"testing"
	"time"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusView(t *testing.T) {
	dev := newFakeDevice(t, Capture, 1024, 4096, 2)

	status, err := OpenStatus(dev.Fd())
	require.NoError(t, err)
	defer status.Close()

	dev.setState(int32(SNDRV_PCM_STATE_RUNNING))
	dev.setSuspendedState(int32(SNDRV_PCM_STATE_PREPARED))
	dev.setHwPtr(300)
	dev.status.Tstamp = kernelTimespec{Sec: 12, Nsec: 500}
	dev.status.AudioTstamp = kernelTimespec{Sec: 3, Nsec: 7}

	state, err := status.State()
	require.NoError(t, err)
	assert.Equal(t, SNDRV_PCM_STATE_RUNNING, state)

	suspended, err := status.SuspendedState()
	require.NoError(t, err)
	assert.Equal(t, SNDRV_PCM_STATE_PREPARED, suspended)

	assert.Equal(t, Frames(300), status.HwPtr())
	assert.True(t, status.Timestamp().Equal(time.Unix(12, 500)))
	assert.True(t, status.AudioTimestamp().Equal(time.Unix(3, 7)))

	// Every getter reads the page again.
	dev.setHwPtr(301)
	dev.setState(int32(SNDRV_PCM_STATE_XRUN))
	assert.Equal(t, Frames(301), status.HwPtr())

	state, err = status.State()
	require.NoError(t, err)
	assert.Equal(t, SNDRV_PCM_STATE_XRUN, state)
}

func TestStatusViewInvalidState(t *testing.T) {
	dev := newFakeDevice(t, Playback, 1024, 4096, 2)

	status, err := OpenStatus(dev.Fd())
	require.NoError(t, err)
	defer status.Close()

	for _, code := range []int32{9, 42, -1} {
		dev.setState(code)

		_, err := status.State()
		assert.ErrorIs(t, err, ErrInvalidState, "code %d", code)
	}
}

func TestControlView(t *testing.T) {
	dev := newFakeDevice(t, Playback, 1024, 4096, 2)

	control, err := OpenControl(dev.Fd())
	require.NoError(t, err)
	defer control.Close()

	assert.Equal(t, Frames(0), control.ApplPtr())

	control.SetApplPtr(77)
	assert.Equal(t, Frames(77), dev.applPtr())

	dev.setApplPtr(4000)
	assert.Equal(t, Frames(4000), control.ApplPtr())

	control.SetAvailMin(256)
	assert.Equal(t, Frames(256), control.AvailMin())
}

func TestParsePcmState(t *testing.T) {
	for code := int32(0); code <= 8; code++ {
		state, err := ParsePcmState(code)
		require.NoError(t, err)
		assert.Equal(t, PcmState(code), state)
	}

	_, err := ParsePcmState(9)
	assert.ErrorIs(t, err, ErrInvalidState)

	assert.Equal(t, "RUNNING", SNDRV_PCM_STATE_RUNNING.String())
	assert.Equal(t, "STATE(12)", PcmState(12).String())
}

// The status and control pages follow the 64-bit time layout on every architecture, so the
// byte offsets below are the same for 32-bit and 64-bit builds.
func TestMmapPageLayout(t *testing.T) {
	assert.Equal(t, uintptr(56), unsafe.Sizeof(sndPcmMmapStatus{}))
	assert.Equal(t, uintptr(8), unsafe.Offsetof(sndPcmMmapStatus{}.HwPtr))
	assert.Equal(t, uintptr(16), unsafe.Offsetof(sndPcmMmapStatus{}.Tstamp))
	assert.Equal(t, uintptr(32), unsafe.Offsetof(sndPcmMmapStatus{}.SuspendedState))
	assert.Equal(t, uintptr(40), unsafe.Offsetof(sndPcmMmapStatus{}.AudioTstamp))

	assert.Equal(t, uintptr(16), unsafe.Sizeof(sndPcmMmapControl{}))
	assert.Equal(t, uintptr(0), unsafe.Offsetof(sndPcmMmapControl{}.ApplPtr))
	assert.Equal(t, uintptr(8), unsafe.Offsetof(sndPcmMmapControl{}.AvailMin))

	if unsafe.Sizeof(SndPcmUframesT(0)) == 4 {
		assert.Equal(t, int64(SNDRV_PCM_MMAP_OFFSET_STATUS_NEW), int64(mmapOffsetStatus))
		assert.Equal(t, int64(SNDRV_PCM_MMAP_OFFSET_CONTROL_NEW), int64(mmapOffsetControl))
	}
}

func TestStatusViewKernelOffsets(t *testing.T) {
	dev := newFakeDevice(t, Playback, 1024, 4096, 2)

	status, err := OpenStatus(dev.Fd())
	require.NoError(t, err)
	defer status.Close()

	control, err := OpenControl(dev.Fd())
	require.NoError(t, err)
	defer control.Close()

	page := unsafe.Pointer(dev.status)
	*(*int32)(page) = int32(SNDRV_PCM_STATE_DRAINING)
	*(*int64)(unsafe.Add(page, 16)) = 42
	*(*int64)(unsafe.Add(page, 24)) = 9
	*(*int32)(unsafe.Add(page, 32)) = int32(SNDRV_PCM_STATE_RUNNING)
	*(*int64)(unsafe.Add(page, 40)) = 7
	*(*int64)(unsafe.Add(page, 48)) = 3

	state, err := status.State()
	require.NoError(t, err)
	assert.Equal(t, SNDRV_PCM_STATE_DRAINING, state)

	suspended, err := status.SuspendedState()
	require.NoError(t, err)
	assert.Equal(t, SNDRV_PCM_STATE_RUNNING, suspended)

	assert.True(t, status.Timestamp().Equal(time.Unix(42, 9)))
	assert.True(t, status.AudioTimestamp().Equal(time.Unix(7, 3)))

	control.SetAvailMin(512)
	assert.Equal(t, uint32(512), *(*uint32)(unsafe.Add(unsafe.Pointer(dev.control), 8)))
}
