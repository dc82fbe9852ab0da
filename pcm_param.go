package alsa

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"syscall"
	"unsafe"
)

// PcmParams holds the hardware parameter space of a PCM device.
type PcmParams struct {
	params *sndPcmHwParams
}

// PcmParamsGetRefined queries the hardware parameters for a given PCM device to discover its full range of capabilities.
// This function initializes the parameters and then uses the SNDRV_PCM_IOCTL_HW_REFINE ioctl to ask the kernel to restrict
// the ranges to what the hardware actually supports. Nothing is committed to the device.
func PcmParamsGetRefined(card, device uint, flags PcmFlag) (*PcmParams, error) {
	path := devicePath(card, device, flags)

	// Use O_NONBLOCK on open to avoid getting stuck
	file, err := os.OpenFile(path, os.O_RDWR|syscall.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open PCM device %s for query: %w", path, err)
	}
	defer file.Close()

	hwParams := &sndPcmHwParams{}
	paramInit(hwParams)

	if err := ioctl(file.Fd(), SNDRV_PCM_IOCTL_HW_REFINE, uintptr(unsafe.Pointer(hwParams))); err != nil {
		return nil, fmt.Errorf("ioctl HW_REFINE failed: %w", err)
	}

	return &PcmParams{params: hwParams}, nil
}

func isMaskParam(param PcmParam) bool {
	return param >= SNDRV_PCM_HW_PARAM_ACCESS && param <= SNDRV_PCM_HW_PARAM_SUBFORMAT
}

func isIntervalParam(param PcmParam) bool {
	return param >= SNDRV_PCM_HW_PARAM_SAMPLE_BITS && param <= SNDRV_PCM_HW_PARAM_TICK_TIME
}

// RangeMin returns the minimum value for an interval parameter.
func (pp *PcmParams) RangeMin(param PcmParam) (uint32, error) {
	if pp == nil || pp.params == nil {
		return 0, fmt.Errorf("params not initialized")
	}

	if !isIntervalParam(param) {
		return 0, fmt.Errorf("parameter %v is not an interval type", param)
	}

	return pp.params.Intervals[param-SNDRV_PCM_HW_PARAM_SAMPLE_BITS].MinVal, nil
}

// RangeMax returns the maximum value for an interval parameter.
func (pp *PcmParams) RangeMax(param PcmParam) (uint32, error) {
	if pp == nil || pp.params == nil {
		return 0, fmt.Errorf("params not initialized")
	}

	if !isIntervalParam(param) {
		return 0, fmt.Errorf("parameter %v is not an interval type", param)
	}

	return pp.params.Intervals[param-SNDRV_PCM_HW_PARAM_SAMPLE_BITS].MaxVal, nil
}

// Mask returns the bitmask for a mask-type parameter.
func (pp *PcmParams) Mask(param PcmParam) (*PcmParamMask, error) {
	if pp == nil || pp.params == nil {
		return nil, fmt.Errorf("params not initialized")
	}

	if !isMaskParam(param) {
		return nil, fmt.Errorf("parameter %v is not a mask type", param)
	}

	maskPtr := &pp.params.Masks[param-SNDRV_PCM_HW_PARAM_ACCESS]

	return (*PcmParamMask)(unsafe.Pointer(maskPtr)), nil
}

// FormatIsSupported checks if a given PCM format is supported.
func (pp *PcmParams) FormatIsSupported(format PcmFormat) bool {
	mask, err := pp.Mask(SNDRV_PCM_HW_PARAM_FORMAT)
	if err != nil {
		return false
	}

	return mask.Test(uint(format))
}

// SupportsDirectMmap reports whether the device offers interleaved mmap access,
// the only layout a Ring can be opened on.
func (pp *PcmParams) SupportsDirectMmap() bool {
	mask, err := pp.Mask(SNDRV_PCM_HW_PARAM_ACCESS)
	if err != nil {
		return false
	}

	return mask.Test(uint(SNDRV_PCM_ACCESS_MMAP_INTERLEAVED))
}

// String returns a human-readable representation of the PCM device's capabilities.
func (pp *PcmParams) String() string {
	if pp == nil || pp.params == nil {
		return "<nil>"
	}

	var b strings.Builder

	printMaskSlice := func(name string, param PcmParam, names []string) {
		mask, err := pp.Mask(param)
		if err != nil {
			return
		}

		var supported []string
		for i, n := range names {
			if len(n) > 0 && mask.Test(uint(i)) {
				supported = append(supported, n)
			}
		}

		if len(supported) > 0 {
			fmt.Fprintf(&b, "%12s: %s\n", name, strings.Join(supported, ", "))
		}
	}

	printFormatMask := func() {
		mask, err := pp.Mask(SNDRV_PCM_HW_PARAM_FORMAT)
		if err != nil {
			return
		}

		formats := make([]PcmFormat, 0, len(PcmParamFormatNames))
		for f := range PcmParamFormatNames {
			formats = append(formats, f)
		}
		slices.Sort(formats)

		var supported []string
		for _, f := range formats {
			if mask.Test(uint(f)) {
				supported = append(supported, PcmParamFormatNames[f])
			}
		}

		if len(supported) > 0 {
			fmt.Fprintf(&b, "%12s: %s\n", "Format", strings.Join(supported, ", "))
		}
	}

	printInterval := func(name string, param PcmParam, unit string) {
		rangeMin, errMin := pp.RangeMin(param)
		rangeMax, errMax := pp.RangeMax(param)

		if errMin != nil || errMax != nil {
			return
		}

		if rangeMax == 0 || rangeMax == ^uint32(0) { // Don't print meaningless ranges
			return
		}

		fmt.Fprintf(&b, "%12s: min=%-6d max=%-6d %s\n", name, rangeMin, rangeMax, unit)
	}

	b.WriteString("PCM device capabilities:\n")
	printMaskSlice("Access", SNDRV_PCM_HW_PARAM_ACCESS, PcmParamAccessNames)
	printFormatMask()
	printMaskSlice("Subformat", SNDRV_PCM_HW_PARAM_SUBFORMAT, PcmParamSubformatNames)
	printInterval("Rate", SNDRV_PCM_HW_PARAM_RATE, "Hz")
	printInterval("Channels", SNDRV_PCM_HW_PARAM_CHANNELS, "")
	printInterval("Sample bits", SNDRV_PCM_HW_PARAM_SAMPLE_BITS, "")
	printInterval("Period size", SNDRV_PCM_HW_PARAM_PERIOD_SIZE, "frames")
	printInterval("Periods", SNDRV_PCM_HW_PARAM_PERIODS, "")
	printInterval("Buffer size", SNDRV_PCM_HW_PARAM_BUFFER_SIZE, "frames")
	fmt.Fprintf(&b, "%12s: %t\n", "Direct mmap", pp.SupportsDirectMmap())

	return b.String()
}

// paramInit initializes a sndPcmHwParams struct to allow all possible values.
func paramInit(p *sndPcmHwParams) {
	for n := range p.Masks {
		for i := range p.Masks[n].Bits {
			p.Masks[n].Bits[i] = ^uint32(0)
		}
	}

	for n := range p.Mres {
		for i := range p.Mres[n].Bits {
			p.Mres[n].Bits[i] = ^uint32(0)
		}
	}

	for n := range p.Intervals {
		p.Intervals[n] = sndInterval{MaxVal: ^uint32(0)}
	}

	for n := range p.Ires {
		p.Ires[n] = sndInterval{MaxVal: ^uint32(0)}
	}

	p.Rmask = ^uint32(0)
	p.Info = ^uint32(0)
}

// paramSetMask narrows a mask parameter to a single bit.
func paramSetMask(p *sndPcmHwParams, param PcmParam, bit uint32) {
	if !isMaskParam(param) {
		return
	}

	mask := &p.Masks[param-SNDRV_PCM_HW_PARAM_ACCESS]
	mask.Bits = [8]uint32{}

	if bit >= 256 { // SNDRV_MASK_MAX
		return
	}

	mask.Bits[bit>>5] |= 1 << (bit & 31)
}

func paramSetInt(p *sndPcmHwParams, param PcmParam, val uint32) {
	if !isIntervalParam(param) {
		return
	}

	p.Intervals[param-SNDRV_PCM_HW_PARAM_SAMPLE_BITS] = sndInterval{
		MinVal: val,
		MaxVal: val,
		Flags:  SNDRV_PCM_INTERVAL_INTEGER,
	}
}

func paramSetMin(p *sndPcmHwParams, param PcmParam, val uint32) {
	if !isIntervalParam(param) {
		return
	}

	p.Intervals[param-SNDRV_PCM_HW_PARAM_SAMPLE_BITS].MinVal = val
}

// paramGetInt reads the lower bound of an interval; after HW_PARAMS the driver has narrowed it to one value.
func paramGetInt(p *sndPcmHwParams, param PcmParam) uint32 {
	if !isIntervalParam(param) {
		return 0
	}

	return p.Intervals[param-SNDRV_PCM_HW_PARAM_SAMPLE_BITS].MinVal
}
