//go:build linux && (386 || arm)

package alsa

import "unsafe"

// SndPcmUframesT is an unsigned long in the ALSA headers.
// On 32-bit architectures, this is a 32-bit unsigned integer.
type SndPcmUframesT = uint32

// SndPcmSframesT is a signed long in the ALSA headers.
// On 32-bit architectures, this is a 32-bit signed integer.
type SndPcmSframesT = int32

// Status and control pages are mapped in their 64-bit time layout. The kernel refuses the old
// offsets on 32-bit builds.
const (
	mmapOffsetStatus  = SNDRV_PCM_MMAP_OFFSET_STATUS_NEW
	mmapOffsetControl = SNDRV_PCM_MMAP_OFFSET_CONTROL_NEW
)

// sndPcmMmapStatus mirrors struct __snd_pcm_mmap_status64.
type sndPcmMmapStatus struct {
	State          int32 // PcmState
	Pad1           int32
	HwPtr          SndPcmUframesT
	_              [4]byte // __pad_after_uframe
	Tstamp         kernelTimespec
	SuspendedState int32 // PcmState
	_              [4]byte
	AudioTstamp    kernelTimespec
}

// sndPcmMmapControl mirrors struct __snd_pcm_mmap_control64.
type sndPcmMmapControl struct {
	ApplPtr  SndPcmUframesT
	_        [4]byte // __pad_after_uframe
	AvailMin SndPcmUframesT
	_        [4]byte
}

// sndPcmChannelInfo mirrors struct snd_pcm_channel_info.
type sndPcmChannelInfo struct {
	Channel uint32
	Offset  int32
	First   uint32 // bits
	Step    uint32 // bits
}

// sndPcmSwParams contains software parameters for a PCM device for 32-bit systems.
type sndPcmSwParams struct {
	TstampMode       uint32
	PeriodStep       uint32
	SleepMin         uint32
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
	_ [16]byte  = [unsafe.Sizeof(sndPcmChannelInfo{})]byte{}
	_ [104]byte = [unsafe.Sizeof(sndPcmSwParams{})]byte{}
	_ [604]byte = [unsafe.Sizeof(sndPcmHwParams{})]byte{}
)
