//go:build linux && (amd64 || arm64)

package alsa

import "unsafe"

// SndPcmUframesT is an unsigned long in the ALSA headers.
// On 64-bit architectures, this is a 64-bit unsigned integer.
type SndPcmUframesT = uint64

// SndPcmSframesT is a signed long in the ALSA headers.
type SndPcmSframesT = int64

// On 64-bit builds the old offsets already map the 64-bit time layout and work on every kernel.
const (
	mmapOffsetStatus  = SNDRV_PCM_MMAP_OFFSET_STATUS
	mmapOffsetControl = SNDRV_PCM_MMAP_OFFSET_CONTROL
)

// sndPcmMmapStatus mirrors struct snd_pcm_mmap_status, the page mapped at SNDRV_PCM_MMAP_OFFSET_STATUS.
type sndPcmMmapStatus struct {
	State          int32 // PcmState
	Pad1           int32
	HwPtr          SndPcmUframesT
	Tstamp         kernelTimespec
	SuspendedState int32 // PcmState
	_              [4]byte
	AudioTstamp    kernelTimespec
}

// sndPcmMmapControl mirrors struct snd_pcm_mmap_control, the page mapped at SNDRV_PCM_MMAP_OFFSET_CONTROL.
type sndPcmMmapControl struct {
	ApplPtr  SndPcmUframesT
	AvailMin SndPcmUframesT
}

// sndPcmChannelInfo mirrors struct snd_pcm_channel_info.
// Offset is a kernel off_t and needs 4 bytes of padding after Channel.
type sndPcmChannelInfo struct {
	Channel uint32
	_       [4]byte
	Offset  int64
	First   uint32 // bits
	Step    uint32 // bits
}

// sndPcmSwParams contains software parameters for a PCM device for 64-bit systems.
// This struct has 4 bytes of padding after SleepMin to align the following uint64 fields.
type sndPcmSwParams struct {
	TstampMode       uint32
	PeriodStep       uint32
	SleepMin         uint32
	_                [4]byte // Padding for 64-bit alignment
	AvailMin         SndPcmUframesT
	XferAlign        SndPcmUframesT
	StartThreshold   SndPcmUframesT
	StopThreshold    SndPcmUframesT
	SilenceThreshold SndPcmUframesT
	SilenceSize      SndPcmUframesT
	Boundary         SndPcmUframesT
	Proto            uint32
	TstampType       uint32
	Reserved         [56]byte
}

var (
	_ [56]byte  = [unsafe.Sizeof(sndPcmMmapStatus{})]byte{}
	_ [16]byte  = [unsafe.Sizeof(sndPcmMmapControl{})]byte{}
	_ [24]byte  = [unsafe.Sizeof(sndPcmChannelInfo{})]byte{}
	_ [136]byte = [unsafe.Sizeof(sndPcmSwParams{})]byte{}
	_ [608]byte = [unsafe.Sizeof(sndPcmHwParams{})]byte{}
)
