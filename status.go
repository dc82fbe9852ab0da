package alsa

import (
	"sync/atomic"
	"time"
)

// StatusView is a read-only view of the kernel's status page.
//
// Each getter performs one fresh read. The kernel may change any field right after the read
// returns, and the two halves of a timestamp are read separately, so a timestamp can tear when
// it is updated concurrently.
type StatusView struct {
	region *Region
	status *sndPcmMmapStatus
}

// OpenStatus maps the status page of an open PCM device read-only.
func OpenStatus(fd uintptr) (*StatusView, error) {
	region, err := mapElements[sndPcmMmapStatus](fd, 1, mmapOffsetStatus, false)
	if err != nil {
		return nil, err
	}

	return &StatusView{region: region, status: regionAs[sndPcmMmapStatus](region)}, nil
}

// State returns the current stream state.
func (s *StatusView) State() (PcmState, error) {
	return ParsePcmState(atomic.LoadInt32(&s.status.State))
}

// SuspendedState returns the state the stream was in when it got suspended.
func (s *StatusView) SuspendedState() (PcmState, error) {
	return ParsePcmState(atomic.LoadInt32(&s.status.SuspendedState))
}

// HwPtr returns the hardware cursor in frames, in the range [0, boundary).
func (s *StatusView) HwPtr() Frames {
	return loadUframes(&s.status.HwPtr)
}

// Timestamp returns the time of the last hardware cursor update.
// The clock is CLOCK_MONOTONIC when the stream was opened with PCM_MONOTONIC, CLOCK_REALTIME otherwise.
func (s *StatusView) Timestamp() time.Time {
	return loadTimespec(&s.status.Tstamp)
}

// AudioTimestamp returns the audio timestamp reported by the driver.
func (s *StatusView) AudioTimestamp() time.Time {
	return loadTimespec(&s.status.AudioTstamp)
}

// Close unmaps the status page. The view must not be used afterwards.
func (s *StatusView) Close() error {
	s.status = nil

	return s.region.Close()
}
