package alsa

import "fmt"

// Frames counts interleaved sample groups. Ring cursors are Frames values below the boundary.
type Frames uint64

// Direction is the stream direction of a ring. Values match SNDRV_PCM_STREAM_*.
type Direction int32

const (
	Playback Direction = 0
	Capture  Direction = 1
)

// DirectionFromFlags returns the direction selected by PCM_IN in flags.
func DirectionFromFlags(flags PcmFlag) Direction {
	if (flags & PCM_IN) != 0 {
		return Capture
	}

	return Playback
}

func (d Direction) String() string {
	switch d {
	case Playback:
		return "playback"
	case Capture:
		return "capture"
	default:
		return fmt.Sprintf("Direction(%d)", int32(d))
	}
}

// Available returns the frames the application may transfer for the given cursors.
//
// For capture it is the number of frames written by the hardware and not yet consumed,
// (hw - appl) mod boundary. For playback it is the free space ahead of the hardware,
// (hw + bufferSize - appl) mod boundary. Both cursors must be below boundary and
// bufferSize must not exceed boundary.
func (d Direction) Available(hw, appl, bufferSize, boundary Frames) Frames {
	if d == Capture {
		avail := hw - appl
		if hw < appl {
			avail += boundary
		}

		return avail
	}

	avail := hw + bufferSize - appl
	if hw+bufferSize < appl {
		avail += boundary
	}
	if avail >= boundary {
		avail -= boundary
	}

	return avail
}

// advance moves cursor forward by delta frames and wraps it once at boundary.
// delta must not exceed boundary.
func advance(cursor, delta, boundary Frames) Frames {
	next := cursor + delta
	if next >= boundary {
		next -= boundary
	}

	return next
}
