package alsa

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Config encapsulates the hardware and software parameters of a PCM stream.
type Config struct {
	Channels         uint32
	Rate             uint32
	PeriodSize       uint32
	PeriodCount      uint32
	Format           PcmFormat
	StartThreshold   uint32
	StopThreshold    uint32
	SilenceThreshold uint32
	SilenceSize      uint32
	AvailMin         uint32
}

// PCM is an open hw:C,D device negotiated for interleaved mmap access.
// It is the device a Ring is opened on; it never maps the sample area itself.
type PCM struct {
	file       *os.File
	config     Config
	flags      PcmFlag
	bufferSize uint32 // In frames
	subdevice  uint32
	status     *StatusView
	boundary   Frames
	xruns      int // Counter for overruns/underruns
}

var _ Device = (*PCM)(nil)

// PcmOpenByName opens a PCM by its name, in the format "hw:C,D".
func PcmOpenByName(name string, flags PcmFlag, config *Config) (*PCM, error) {
	card, device, err := parseHwName(name)
	if err != nil {
		return nil, err
	}

	return PcmOpen(card, device, flags, config)
}

func parseHwName(name string) (card, device uint, err error) {
	if !strings.HasPrefix(name, "hw:") {
		return 0, 0, fmt.Errorf("invalid PCM name format: missing 'hw:' prefix")
	}

	parts := strings.Split(strings.TrimPrefix(name, "hw:"), ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid PCM name format: expected 'hw:card,device'")
	}

	c, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid card number '%s': %w", parts[0], err)
	}

	d, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid device number '%s': %w", parts[1], err)
	}

	return uint(c), uint(d), nil
}

// devicePath returns the device node for a card, device and stream direction.
func devicePath(card, device uint, flags PcmFlag) string {
	streamChar := 'p'
	if DirectionFromFlags(flags) == Capture {
		streamChar = 'c'
	}

	return fmt.Sprintf("/dev/snd/pcmC%dD%d%c", card, device, streamChar)
}

// PcmOpen opens an ALSA PCM device and configures it for interleaved mmap access.
// Only direct hardware devices (/dev/snd/pcmC*D*) are supported.
func PcmOpen(card, device uint, flags PcmFlag, config *Config) (*PCM, error) {
	path := devicePath(card, device, flags)

	// Always open non-blocking to avoid getting stuck
	// if the device is in use, then clear the flag if blocking I/O was requested.
	file, err := os.OpenFile(path, os.O_RDWR|syscall.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open PCM device %s: %w", path, err)
	}

	if (flags & PCM_NONBLOCK) == 0 {
		currentFlags, err := unix.FcntlInt(file.Fd(), unix.F_GETFL, 0)
		if err != nil {
			_ = file.Close()

			return nil, fmt.Errorf("fcntl F_GETFL for %s failed: %w", path, err)
		}
		if _, err = unix.FcntlInt(file.Fd(), unix.F_SETFL, currentFlags&^syscall.O_NONBLOCK); err != nil {
			_ = file.Close()

			return nil, fmt.Errorf("failed to set blocking mode on %s: %w", path, err)
		}
	}

	pcm := &PCM{
		file:  file,
		flags: flags,
	}

	info, err := pcm.info()
	if err != nil {
		_ = file.Close()

		return nil, err
	}
	pcm.subdevice = info.Subdevice

	if err := pcm.SetConfig(config); err != nil {
		_ = pcm.Close()

		return nil, fmt.Errorf("failed to set PCM config: %w", err)
	}

	// Devices that cannot map their status page are not usable for direct access.
	pcm.status, err = OpenStatus(pcm.file.Fd())
	if err != nil {
		_ = pcm.Close()

		return nil, fmt.Errorf("failed to map status page: %w", err)
	}

	if (flags & PCM_MONOTONIC) != 0 {
		// SNDRV_PCM_TSTAMP_TYPE_MONOTONIC = 1
		var arg int32 = 1
		if err := ioctl(pcm.file.Fd(), SNDRV_PCM_IOCTL_TTSTAMP, uintptr(unsafe.Pointer(&arg))); err != nil {
			_ = pcm.Close()

			return nil, fmt.Errorf("ioctl TTSTAMP failed: %w", err)
		}
	}

	return pcm, nil
}

// IsReady checks if the PCM handle is valid.
func (p *PCM) IsReady() bool {
	return p != nil && p.file != nil
}

// Close stops the stream and closes the device. Rings opened on the PCM must be closed first.
func (p *PCM) Close() error {
	if !p.IsReady() {
		return nil
	}

	_ = p.Stop()

	if p.status != nil {
		_ = p.status.Close()
		p.status = nil
	}

	err := p.file.Close()
	p.bufferSize = 0
	p.file = nil

	return err
}

// Config returns a copy of the PCM's current configuration.
func (p *PCM) Config() Config {
	return p.config
}

// BufferSize returns the PCM's total buffer size in frames.
func (p *PCM) BufferSize() uint32 {
	return p.bufferSize
}

// Boundary returns the wrap point of the ring cursors chosen by the kernel.
func (p *PCM) Boundary() Frames {
	return p.boundary
}

// Flags returns the flags the PCM was opened with.
func (p *PCM) Flags() PcmFlag {
	return p.flags
}

// PeriodSize returns the number of frames per period.
func (p *PCM) PeriodSize() uint32 {
	return p.config.PeriodSize
}

// PeriodCount returns the number of periods in the buffer.
func (p *PCM) PeriodCount() uint32 {
	return p.config.PeriodCount
}

// Channels returns the number of channels for the PCM stream.
func (p *PCM) Channels() uint32 {
	return p.config.Channels
}

// Rate returns the sample rate of the PCM stream in Hz.
func (p *PCM) Rate() uint32 {
	return p.config.Rate
}

// Format returns the sample format of the PCM stream.
func (p *PCM) Format() PcmFormat {
	return p.config.Format
}

// Fd returns the underlying file descriptor for the PCM device.
func (p *PCM) Fd() uintptr {
	if !p.IsReady() {
		return ^uintptr(0) // Invalid FD
	}

	return p.file.Fd()
}

// Subdevice returns the subdevice number of the PCM stream.
func (p *PCM) Subdevice() uint32 {
	return p.subdevice
}

// Xruns returns the number of xruns handled by Recover.
func (p *PCM) Xruns() int {
	return p.xruns
}

// Status returns the PCM's own view of the status page.
func (p *PCM) Status() *StatusView {
	return p.status
}

// FrameSize returns the size of a single frame in bytes.
func (p *PCM) FrameSize() uint32 {
	bitsPerSample := PcmFormatToBits(p.config.Format)
	if bitsPerSample == 0 {
		return 0
	}

	return p.config.Channels * (bitsPerSample / 8)
}

// PeriodTime returns the duration of a single period.
func (p *PCM) PeriodTime() time.Duration {
	rate := p.Rate()
	if rate == 0 {
		return 0
	}

	return time.Duration(uint64(p.PeriodSize()) * uint64(time.Second) / uint64(rate))
}

// Stream queries the device for its stream direction.
func (p *PCM) Stream() (Direction, error) {
	info, err := p.info()
	if err != nil {
		return 0, err
	}

	return Direction(info.Stream), nil
}

// Geometry returns the buffer geometry negotiated by SetConfig.
func (p *PCM) Geometry() (Geometry, error) {
	if !p.IsReady() {
		return Geometry{}, fmt.Errorf("PCM handle is not valid")
	}

	return Geometry{
		Access:      SNDRV_PCM_ACCESS_MMAP_INTERLEAVED,
		BufferSize:  Frames(p.bufferSize),
		Channels:    p.config.Channels,
		SampleBytes: PcmFormatToBits(p.config.Format) / 8,
		Boundary:    p.boundary,
	}, nil
}

// ChannelLayout queries where channel's samples live in the mmap area.
func (p *PCM) ChannelLayout(channel uint32) (ChannelLayout, error) {
	if !p.IsReady() {
		return ChannelLayout{}, fmt.Errorf("PCM handle is not valid")
	}

	info := sndPcmChannelInfo{Channel: channel}
	if err := ioctl(p.file.Fd(), SNDRV_PCM_IOCTL_CHANNEL_INFO, uintptr(unsafe.Pointer(&info))); err != nil {
		return ChannelLayout{}, fmt.Errorf("ioctl CHANNEL_INFO failed: %w", err)
	}

	return ChannelLayout{
		Offset:   int64(info.Offset),
		FirstBit: info.First,
		StepBits: info.Step,
	}, nil
}

func (p *PCM) info() (sndPcmInfo, error) {
	var info sndPcmInfo
	if err := ioctl(p.file.Fd(), SNDRV_PCM_IOCTL_INFO, uintptr(unsafe.Pointer(&info))); err != nil {
		return info, fmt.Errorf("ioctl INFO failed: %w", err)
	}

	return info, nil
}

// SetConfig sets the hardware and software parameters for the PCM device.
// Access is always SNDRV_PCM_ACCESS_MMAP_INTERLEAVED. A nil config selects
// 2 channels of S16_LE at 48 kHz with 4 periods of 1024 frames.
func (p *PCM) SetConfig(config *Config) error {
	if config == nil {
		config = &Config{
			Channels:    2,
			Rate:        48000,
			PeriodSize:  1024,
			PeriodCount: 4,
			Format:      SNDRV_PCM_FORMAT_S16_LE,
		}
	}
	p.config = *config

	hwParams := &sndPcmHwParams{}
	paramInit(hwParams)

	paramSetMask(hwParams, SNDRV_PCM_HW_PARAM_ACCESS, uint32(SNDRV_PCM_ACCESS_MMAP_INTERLEAVED))
	paramSetMask(hwParams, SNDRV_PCM_HW_PARAM_FORMAT, uint32(config.Format))
	paramSetMin(hwParams, SNDRV_PCM_HW_PARAM_PERIOD_SIZE, config.PeriodSize)
	paramSetInt(hwParams, SNDRV_PCM_HW_PARAM_CHANNELS, config.Channels)
	paramSetInt(hwParams, SNDRV_PCM_HW_PARAM_PERIODS, config.PeriodCount)
	paramSetInt(hwParams, SNDRV_PCM_HW_PARAM_RATE, config.Rate)

	if (p.flags & PCM_NOIRQ) != 0 {
		hwParams.Flags |= uint32(SNDRV_PCM_HW_PARAMS_NO_PERIOD_WAKEUP)
	}

	if err := ioctl(p.file.Fd(), SNDRV_PCM_IOCTL_HW_PARAMS, uintptr(unsafe.Pointer(hwParams))); err != nil {
		return fmt.Errorf("ioctl HW_PARAMS failed: %w", err)
	}

	// Update our config with the refined parameters from the driver.
	p.config.PeriodSize = paramGetInt(hwParams, SNDRV_PCM_HW_PARAM_PERIOD_SIZE)
	p.config.PeriodCount = paramGetInt(hwParams, SNDRV_PCM_HW_PARAM_PERIODS)
	p.config.Channels = paramGetInt(hwParams, SNDRV_PCM_HW_PARAM_CHANNELS)
	p.config.Rate = paramGetInt(hwParams, SNDRV_PCM_HW_PARAM_RATE)
	p.bufferSize = paramGetInt(hwParams, SNDRV_PCM_HW_PARAM_BUFFER_SIZE)
	if p.bufferSize == 0 {
		p.bufferSize = p.config.PeriodSize * p.config.PeriodCount
	}

	if p.config.Channels == 0 || p.config.Rate == 0 || p.config.PeriodSize == 0 || p.config.PeriodCount == 0 {
		return fmt.Errorf("driver finalized invalid PCM configuration (Channels=%d, Rate=%d, PeriodSize=%d, PeriodCount=%d)",
			p.config.Channels, p.config.Rate, p.config.PeriodSize, p.config.PeriodCount)
	}

	swParams := &sndPcmSwParams{}
	swParams.TstampMode = 1 // SNDRV_PCM_TSTAMP_ENABLE
	swParams.PeriodStep = 1

	if p.config.AvailMin == 0 {
		p.config.AvailMin = p.config.PeriodSize
	}
	swParams.AvailMin = SndPcmUframesT(p.config.AvailMin)

	if p.config.StartThreshold == 0 {
		if DirectionFromFlags(p.flags) == Capture {
			p.config.StartThreshold = 1
		} else {
			p.config.StartThreshold = p.bufferSize / 2
		}
	}
	swParams.StartThreshold = SndPcmUframesT(p.config.StartThreshold)

	if p.config.StopThreshold == 0 {
		if DirectionFromFlags(p.flags) == Capture {
			p.config.StopThreshold = p.bufferSize * 10
		} else {
			p.config.StopThreshold = p.bufferSize
		}
	}
	swParams.StopThreshold = SndPcmUframesT(p.config.StopThreshold)

	swParams.XferAlign = SndPcmUframesT(p.config.PeriodSize / 2) // Needed for old kernels
	swParams.SilenceSize = SndPcmUframesT(p.config.SilenceSize)
	swParams.SilenceThreshold = SndPcmUframesT(p.config.SilenceThreshold)

	if err := ioctl(p.file.Fd(), SNDRV_PCM_IOCTL_SW_PARAMS, uintptr(unsafe.Pointer(swParams))); err != nil {
		return fmt.Errorf("ioctl SW_PARAMS failed: %w", err)
	}

	p.boundary = Frames(swParams.Boundary)

	return nil
}

// Prepare readies the PCM device for I/O operations. Both ring cursors are reset to zero.
// This is typically used to recover from an XRUN.
func (p *PCM) Prepare() error {
	if err := ioctl(p.file.Fd(), SNDRV_PCM_IOCTL_PREPARE, 0); err != nil {
		return fmt.Errorf("ioctl PREPARE failed: %w", err)
	}

	return nil
}

// Start explicitly starts the PCM stream.
// It ensures the stream is prepared before starting.
func (p *PCM) Start() error {
	switch p.State() {
	case SNDRV_PCM_STATE_RUNNING:
		return nil
	case SNDRV_PCM_STATE_SETUP:
		if err := p.Prepare(); err != nil {
			return err
		}
	}

	if err := ioctl(p.file.Fd(), SNDRV_PCM_IOCTL_START, 0); err != nil {
		return fmt.Errorf("ioctl START failed: %w", err)
	}

	return nil
}

// Stop abruptly stops the PCM stream, dropping any pending frames.
func (p *PCM) Stop() error {
	if err := ioctl(p.file.Fd(), SNDRV_PCM_IOCTL_DROP, 0); err != nil {
		return fmt.Errorf("ioctl DROP failed: %w", err)
	}

	return nil
}

// Resume resumes a suspended PCM stream (system suspend, when state is SNDRV_PCM_STATE_SUSPENDED).
func (p *PCM) Resume() error {
	if err := ioctl(p.file.Fd(), SNDRV_PCM_IOCTL_RESUME, 0); err != nil {
		return fmt.Errorf("ioctl RESUME failed: %w", err)
	}

	return nil
}

// Drain waits for all pending frames in the buffer to be played.
// This is a blocking call and only applies to playback streams.
func (p *PCM) Drain() error {
	if !p.IsReady() {
		return fmt.Errorf("PCM handle is not valid")
	}

	if err := ioctl(p.file.Fd(), SNDRV_PCM_IOCTL_DRAIN, 0); err != nil {
		return fmt.Errorf("ioctl DRAIN failed: %w", err)
	}

	return nil
}

// HwSync asks the driver to refresh the hardware cursor on the status page.
// Streams opened with PCM_NOIRQ need it before reading availability.
func (p *PCM) HwSync() error {
	if err := ioctl(p.file.Fd(), SNDRV_PCM_IOCTL_HWSYNC, 0); err != nil {
		return fmt.Errorf("ioctl HWSYNC failed: %w", err)
	}

	return nil
}

// Delay returns the current delay for the PCM stream in frames.
func (p *PCM) Delay() (int, error) {
	if !p.IsReady() {
		return 0, fmt.Errorf("PCM handle is not valid")
	}

	var delay SndPcmSframesT
	if err := ioctl(p.file.Fd(), SNDRV_PCM_IOCTL_DELAY, uintptr(unsafe.Pointer(&delay))); err != nil {
		return 0, fmt.Errorf("ioctl DELAY failed: %w", err)
	}

	return int(delay), nil
}

// Wait waits for the PCM to become ready for I/O or until a timeout occurs.
// Returns true if the device is ready, false on timeout.
func (p *PCM) Wait(timeoutMs int) (bool, error) {
	if !p.IsReady() {
		return false, fmt.Errorf("PCM handle not ready")
	}

	pfd := []unix.PollFd{
		{
			Fd:     int32(p.file.Fd()),
			Events: unix.POLLIN | unix.POLLOUT | unix.POLLERR | unix.POLLNVAL,
		},
	}

	var n int
	var err error

	for {
		n, err = unix.Poll(pfd, timeoutMs)
		if !errors.Is(err, syscall.EINTR) {
			break
		}
	}

	if err != nil {
		return false, err
	}

	if n == 0 {
		return false, nil
	}

	if (pfd[0].Revents & (unix.POLLERR | unix.POLLNVAL)) != 0 {
		switch p.State() {
		case SNDRV_PCM_STATE_XRUN:
			return false, fmt.Errorf("stream xrun: %w", syscall.EPIPE)
		case SNDRV_PCM_STATE_SUSPENDED:
			return false, fmt.Errorf("stream suspended: %w", syscall.ESTRPIPE)
		case SNDRV_PCM_STATE_DISCONNECTED:
			return false, fmt.Errorf("device disconnected: %w", syscall.ENODEV)
		default:
			return false, fmt.Errorf("input/output error: %w", syscall.EIO)
		}
	}

	return true, nil
}

// State returns the current state of the PCM stream, read from the status page.
// An unreadable state is reported as SNDRV_PCM_STATE_DISCONNECTED.
func (p *PCM) State() PcmState {
	if !p.IsReady() || p.status == nil {
		return SNDRV_PCM_STATE_DISCONNECTED
	}

	state, err := p.status.State()
	if err != nil {
		return SNDRV_PCM_STATE_DISCONNECTED
	}

	return state
}

// Recover brings a stream that hit an xrun or a system suspend back to the PREPARED state.
// It returns nil when there was nothing to do. Capture streams must be started again afterwards;
// playback streams start once the start threshold is reached.
func (p *PCM) Recover() error {
	switch p.State() {
	case SNDRV_PCM_STATE_XRUN:
		p.xruns++
		if (p.flags & PCM_NORESTART) != 0 {
			return fmt.Errorf("xrun with PCM_NORESTART: %w", syscall.EPIPE)
		}

		if err := p.Prepare(); err != nil {
			return fmt.Errorf("recovery failed: could not prepare stream: %w", err)
		}
	case SNDRV_PCM_STATE_SUSPENDED:
		var err error
		for {
			err = p.Resume()
			if !errors.Is(err, syscall.EAGAIN) {
				break
			}

			time.Sleep(10 * time.Millisecond)
		}

		// Drivers without resume support need a full prepare.
		if err != nil {
			if err := p.Prepare(); err != nil {
				return fmt.Errorf("recovery failed: could not prepare stream: %w", err)
			}
		}
	case SNDRV_PCM_STATE_DISCONNECTED:
		return fmt.Errorf("device disconnected: %w", syscall.ENODEV)
	}

	return nil
}

// PcmFormatToBits returns the number of bits per sample for a given format.
// This reflects the space occupied in memory, so 24-bit formats in 32-bit containers return 32.
func PcmFormatToBits(f PcmFormat) uint32 {
	switch f {
	case SNDRV_PCM_FORMAT_FLOAT64_LE, SNDRV_PCM_FORMAT_FLOAT64_BE:
		return 64
	case SNDRV_PCM_FORMAT_S32_LE, SNDRV_PCM_FORMAT_S32_BE, SNDRV_PCM_FORMAT_U32_LE, SNDRV_PCM_FORMAT_U32_BE,
		SNDRV_PCM_FORMAT_FLOAT_LE, SNDRV_PCM_FORMAT_FLOAT_BE,
		SNDRV_PCM_FORMAT_S24_LE, SNDRV_PCM_FORMAT_S24_BE, SNDRV_PCM_FORMAT_U24_LE, SNDRV_PCM_FORMAT_U24_BE:
		return 32
	case SNDRV_PCM_FORMAT_S24_3LE, SNDRV_PCM_FORMAT_S24_3BE, SNDRV_PCM_FORMAT_U24_3LE, SNDRV_PCM_FORMAT_U24_3BE:
		return 24
	case SNDRV_PCM_FORMAT_S16_LE, SNDRV_PCM_FORMAT_S16_BE, SNDRV_PCM_FORMAT_U16_LE, SNDRV_PCM_FORMAT_U16_BE:
		return 16
	case SNDRV_PCM_FORMAT_S8, SNDRV_PCM_FORMAT_U8:
		return 8
	default:
		return 0
	}
}

// PcmFramesToBytes converts a number of frames to the corresponding number of bytes.
func PcmFramesToBytes(p *PCM, frames uint32) uint32 {
	if p == nil {
		return 0
	}

	return frames * p.FrameSize()
}

// PcmBytesToFrames converts a number of bytes to the corresponding number of frames.
func PcmBytesToFrames(p *PCM, bytes uint32) uint32 {
	if p == nil {
		return 0
	}

	frameSize := p.FrameSize()
	if frameSize == 0 {
		return 0
	}

	return bytes / frameSize
}
