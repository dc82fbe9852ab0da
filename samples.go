package alsa

import (
	"fmt"
	"unsafe"
)

// Sample is the set of element types a ring can be instantiated with.
// The size of the type must equal the sample width negotiated for the stream.
type Sample interface {
	~int8 | ~uint8 | ~int16 | ~uint16 | ~int32 | ~uint32 | ~int64 | ~uint64 | ~float32 | ~float64
}

// Geometry describes a negotiated buffer.
type Geometry struct {
	Access      PcmAccess
	BufferSize  Frames // in frames
	Channels    uint32
	SampleBytes uint32 // width of one sample container
	Boundary    Frames // cursor wrap point, a multiple of BufferSize
}

// ChannelLayout is the answer of SNDRV_PCM_IOCTL_CHANNEL_INFO for one channel.
type ChannelLayout struct {
	Offset   int64  // mmap offset of the area
	FirstBit uint32 // bit offset of the channel's first sample
	StepBits uint32 // distance between two consecutive samples of the channel
}

// SampleRegion is the interleaved sample area of a stream, viewed as a slice of S.
type SampleRegion[S Sample] struct {
	region  *Region
	samples []S
}

func sampleSize[S Sample]() uintptr {
	var zero S

	return unsafe.Sizeof(zero)
}

// ValidateLayout checks that geometry and layout describe a single interleaved area of S that
// starts at bit 0. Any other layout returns ErrLayoutUnsupported.
func ValidateLayout[S Sample](geometry Geometry, layout ChannelLayout) error {
	width := uint32(sampleSize[S]())

	if geometry.Access != SNDRV_PCM_ACCESS_MMAP_INTERLEAVED {
		return fmt.Errorf("%w: access %s", ErrLayoutUnsupported, geometry.Access)
	}

	if geometry.SampleBytes != 0 && geometry.SampleBytes != width {
		return fmt.Errorf("%w: sample width %d bytes, element type has %d", ErrLayoutUnsupported, geometry.SampleBytes, width)
	}

	if layout.FirstBit != 0 {
		return fmt.Errorf("%w: first sample at bit %d", ErrLayoutUnsupported, layout.FirstBit)
	}

	if want := geometry.Channels * width * 8; layout.StepBits != want {
		return fmt.Errorf("%w: step %d bits, want %d", ErrLayoutUnsupported, layout.StepBits, want)
	}

	return nil
}

// MapSampleRegion validates the layout and maps BufferSize*Channels samples, writable, at layout.Offset.
func MapSampleRegion[S Sample](fd uintptr, geometry Geometry, layout ChannelLayout) (*SampleRegion[S], error) {
	if err := ValidateLayout[S](geometry, layout); err != nil {
		return nil, err
	}

	count := int(geometry.BufferSize) * int(geometry.Channels)

	region, err := mapElements[S](fd, count, layout.Offset, true)
	if err != nil {
		return nil, err
	}

	return &SampleRegion[S]{
		region:  region,
		samples: unsafe.Slice((*S)(region.Pointer()), count),
	}, nil
}

// Samples returns the whole area. The slice aliases device memory and is invalid after Close.
func (s *SampleRegion[S]) Samples() []S {
	return s.samples
}

// Close unmaps the sample area.
func (s *SampleRegion[S]) Close() error {
	s.samples = nil

	return s.region.Close()
}
