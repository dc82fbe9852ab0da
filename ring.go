package alsa

import (
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"
)

// Device is an open PCM device whose parameters have been negotiated for interleaved mmap access.
// *PCM implements it.
type Device interface {
	// Fd returns the descriptor used for mmap. It must stay open while rings built on it are in use.
	Fd() uintptr
	// Stream returns the direction the device was opened for.
	Stream() (Direction, error)
	// Geometry returns the negotiated buffer geometry and cursor boundary.
	Geometry() (Geometry, error)
	// ChannelLayout returns where the samples of one channel live in the mmap area.
	ChannelLayout(channel uint32) (ChannelLayout, error)
}

// RingOption configures OpenDirectRing.
type RingOption func(*ringOptions)

type ringOptions struct {
	logger *slog.Logger
}

// WithLogger sets the logger used while setting up the ring.
func WithLogger(logger *slog.Logger) RingOption {
	return func(o *ringOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// Ring is the direct mmap transport over a device's hardware buffer.
//
// A Ring never blocks and never makes syscalls after OpenDirectRing returns: it reads the
// hardware cursor from the status page and publishes the application cursor through the control
// page. Waiting for space or data, and recovering from xruns, is left to the caller (see PCM.Wait
// and PCM.Recover).
//
// A Ring must have a single owner. Using several rings over one device at the same time, or one
// ring from several goroutines, corrupts the application cursor. Hand Snapshot values to other
// goroutines instead.
type Ring[S Sample] struct {
	status     *StatusView
	control    *ControlView
	samples    *SampleRegion[S]
	dir        Direction
	bufferSize Frames
	boundary   Frames
	channels   uint32
}

// Window is a contiguous run of frames inside the sample area.
// Samples aliases device memory and holds Frames*Channels values.
type Window[S Sample] struct {
	Offset  Frames // first frame, relative to the start of the buffer
	Frames  Frames
	Samples []S
}

// RingSnapshot is a copy of the ring's cursors and status.
// Avail is computed from the HwPtr and ApplPtr stored in the same snapshot. State and the
// timestamps are separate reads and may belong to a slightly different instant.
type RingSnapshot struct {
	Direction      Direction
	State          PcmState
	HwPtr          Frames
	ApplPtr        Frames
	Avail          Frames
	BufferSize     Frames
	Boundary       Frames
	Timestamp      time.Time
	AudioTimestamp time.Time
}

// OpenDirectRing maps the status page, the control page and the sample area of dev and returns
// a ring for dir. The device stream must match dir and its layout must be a single interleaved
// area of S starting at bit 0. On error nothing stays mapped.
func OpenDirectRing[S Sample](dev Device, dir Direction, opts ...RingOption) (*Ring[S], error) {
	o := ringOptions{logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(&o)
	}

	stream, err := dev.Stream()
	if err != nil {
		return nil, fmt.Errorf("%w: stream info: %w", ErrGeometryQuery, err)
	}

	if stream != dir {
		return nil, fmt.Errorf("%w: device is %s, ring is %s", ErrDirectionMismatch, stream, dir)
	}

	geometry, err := dev.Geometry()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGeometryQuery, err)
	}

	if geometry.BufferSize == 0 || geometry.Channels == 0 || geometry.Boundary < geometry.BufferSize {
		return nil, fmt.Errorf("%w: buffer %d frames, %d channels, boundary %d",
			ErrInvalidGeometry, geometry.BufferSize, geometry.Channels, geometry.Boundary)
	}

	if geometry.Access != SNDRV_PCM_ACCESS_MMAP_INTERLEAVED {
		return nil, fmt.Errorf("%w: access %s", ErrLayoutUnsupported, geometry.Access)
	}

	layout, err := dev.ChannelLayout(0)
	if err != nil {
		return nil, fmt.Errorf("%w: channel info: %w", ErrGeometryQuery, err)
	}

	samples, err := MapSampleRegion[S](dev.Fd(), geometry, layout)
	if err != nil {
		return nil, err
	}

	control, err := OpenControl(dev.Fd())
	if err != nil {
		_ = samples.Close()

		return nil, err
	}

	status, err := OpenStatus(dev.Fd())
	if err != nil {
		_ = samples.Close()
		_ = control.Close()

		return nil, err
	}

	o.logger.Debug("Direct ring mapped",
		"direction", dir,
		"buffer_size", geometry.BufferSize,
		"boundary", geometry.Boundary,
		"channels", geometry.Channels,
		"sample_bytes", sampleSize[S](),
		"data_offset", layout.Offset)

	return &Ring[S]{
		status:     status,
		control:    control,
		samples:    samples,
		dir:        dir,
		bufferSize: geometry.BufferSize,
		boundary:   geometry.Boundary,
		channels:   geometry.Channels,
	}, nil
}

// Status returns the status page view.
func (r *Ring[S]) Status() *StatusView {
	return r.status
}

// Direction returns the direction the ring was opened for.
func (r *Ring[S]) Direction() Direction {
	return r.dir
}

// Channels returns the number of interleaved channels.
func (r *Ring[S]) Channels() uint32 {
	return r.channels
}

// BufferSize returns the ring size in frames.
func (r *Ring[S]) BufferSize() Frames {
	return r.bufferSize
}

// Boundary returns the value at which both cursors wrap to zero.
func (r *Ring[S]) Boundary() Frames {
	return r.boundary
}

// ApplPtr returns the application cursor.
func (r *Ring[S]) ApplPtr() Frames {
	return r.control.ApplPtr()
}

// HwPtr returns the hardware cursor.
func (r *Ring[S]) HwPtr() Frames {
	return r.status.HwPtr()
}

// Avail returns the frames that can be read (capture) or written (playback) right now.
// After an xrun the value can exceed the buffer size.
func (r *Ring[S]) Avail() Frames {
	return r.availAt(r.control.ApplPtr())
}

func (r *Ring[S]) availAt(appl Frames) Frames {
	return r.dir.Available(r.status.HwPtr(), appl, r.bufferSize, r.boundary)
}

// Commit advances the application cursor by frames, wrapping at the boundary.
//
// Call it once for every batch of frames read or written, with exactly that count. The cursor is
// wrapped once, so frames must not exceed Boundary(). Wrong counts are not detected; they show up
// later as xruns or as repeated or lost audio.
func (r *Ring[S]) Commit(frames Frames) {
	r.control.SetApplPtr(advance(r.control.ApplPtr(), frames, r.boundary))
}

// DataWindow returns the frames available at the application cursor.
//
// The first window starts at ApplPtr() mod BufferSize() and never runs past the end of the
// buffer. When the available frames continue at the start of the buffer, ok is true and wrapped
// describes the rest. Neither window covers more than one buffer in total. The windows are
// computed on every call and are not updated afterwards.
func (r *Ring[S]) DataWindow() (first, wrapped Window[S], ok bool) {
	appl := r.control.ApplPtr()
	avail := min(r.availAt(appl), r.bufferSize)

	offset := appl % r.bufferSize
	contiguous := r.bufferSize - offset

	first = r.window(offset, min(avail, contiguous))
	if avail > contiguous {
		return first, r.window(0, avail-contiguous), true
	}

	return first, Window[S]{}, false
}

func (r *Ring[S]) window(offset, frames Frames) Window[S] {
	ch := Frames(r.channels)

	return Window[S]{
		Offset:  offset,
		Frames:  frames,
		Samples: r.samples.samples[offset*ch : (offset+frames)*ch],
	}
}

// Samples iterates over the captured samples currently available, frame by frame, across both
// windows. When the loop ends, whether all samples were visited or the loop stopped early, the
// complete frames that were handed out are committed in one call. On a playback ring the sequence
// is empty.
func (r *Ring[S]) Samples() iter.Seq[S] {
	return func(yield func(S) bool) {
		if r.dir != Capture {
			return
		}

		first, wrapped, _ := r.DataWindow()

		var n int
		defer func() {
			r.Commit(Frames(n / int(r.channels)))
		}()

		for _, w := range [...]Window[S]{first, wrapped} {
			for _, v := range w.Samples {
				n++
				if !yield(v) {
					return
				}
			}
		}
	}
}

// Fill writes samples from src into the free space of a playback ring until src ends or the
// space is used up, then commits the complete frames written and returns their count.
// A trailing partial frame is written but not committed. On a capture ring Fill returns 0
// without ranging over src.
func (r *Ring[S]) Fill(src iter.Seq[S]) Frames {
	if r.dir != Playback {
		return 0
	}

	first, wrapped, _ := r.DataWindow()

	head, tail := first.Samples, wrapped.Samples
	total := len(head) + len(tail)
	if total == 0 {
		return 0
	}

	var n int
	for v := range src {
		if n < len(head) {
			head[n] = v
		} else {
			tail[n-len(head)] = v
		}

		n++
		if n == total {
			break
		}
	}

	frames := Frames(n / int(r.channels))
	r.Commit(frames)

	return frames
}

// Read copies up to len(dst)/Channels() captured frames into dst, commits them and returns the count.
// It returns 0 on a playback ring.
func (r *Ring[S]) Read(dst []S) Frames {
	if r.dir != Capture {
		return 0
	}

	return r.transfer(dst, false)
}

// Write copies up to len(src)/Channels() frames from src into the ring, commits them and returns the count.
// It returns 0 on a capture ring.
func (r *Ring[S]) Write(src []S) Frames {
	if r.dir != Playback {
		return 0
	}

	return r.transfer(src, true)
}

func (r *Ring[S]) transfer(buf []S, toRing bool) Frames {
	ch := int(r.channels)
	want := len(buf) / ch * ch
	if want == 0 {
		return 0
	}

	first, wrapped, _ := r.DataWindow()

	done := 0
	for _, w := range [...]Window[S]{first, wrapped} {
		if done == want {
			break
		}

		if toRing {
			done += copy(w.Samples, buf[done:want])
		} else {
			done += copy(buf[done:want], w.Samples)
		}
	}

	frames := Frames(done / ch)
	r.Commit(frames)

	return frames
}

// Snapshot reads the status page and both cursors once.
func (r *Ring[S]) Snapshot() (RingSnapshot, error) {
	state, err := r.status.State()
	if err != nil {
		return RingSnapshot{}, err
	}

	appl := r.control.ApplPtr()
	hw := r.status.HwPtr()

	return RingSnapshot{
		Direction:      r.dir,
		State:          state,
		HwPtr:          hw,
		ApplPtr:        appl,
		Avail:          r.dir.Available(hw, appl, r.bufferSize, r.boundary),
		BufferSize:     r.bufferSize,
		Boundary:       r.boundary,
		Timestamp:      r.status.Timestamp(),
		AudioTimestamp: r.status.AudioTimestamp(),
	}, nil
}

// Close unmaps the three regions. The device itself stays open.
// Close may be called again, but any other method called after Close panics.
func (r *Ring[S]) Close() error {
	return errors.Join(r.samples.Close(), r.control.Close(), r.status.Close())
}
