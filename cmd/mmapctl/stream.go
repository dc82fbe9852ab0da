package main

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"syscall"
	"time"

	alsa "github.com/gen2brain/alsa-mmap"
)

// parseFormat accepts the short names used by the flags and full ALSA format names.
func parseFormat(name string) (alsa.PcmFormat, error) {
	switch strings.ToLower(name) {
	case "s8":
		return alsa.SNDRV_PCM_FORMAT_S8, nil
	case "s16":
		return alsa.SNDRV_PCM_FORMAT_S16_LE, nil
	case "s24":
		return alsa.SNDRV_PCM_FORMAT_S24_LE, nil
	case "s32":
		return alsa.SNDRV_PCM_FORMAT_S32_LE, nil
	case "float":
		return alsa.SNDRV_PCM_FORMAT_FLOAT_LE, nil
	case "float64":
		return alsa.SNDRV_PCM_FORMAT_FLOAT64_LE, nil
	}

	return alsa.ParsePcmFormat(name)
}

func (a *app) pcmName() string {
	return fmt.Sprintf("hw:%d,%d", a.opts.Card, a.opts.Device)
}

func (a *app) openPCM(flags alsa.PcmFlag, rate, channels uint32, format alsa.PcmFormat) (*alsa.PCM, error) {
	if a.opts.Monotonic {
		flags |= alsa.PCM_MONOTONIC
	}

	config := alsa.Config{
		Channels:    channels,
		Rate:        rate,
		PeriodSize:  uint32(a.opts.PeriodSize),
		PeriodCount: uint32(a.opts.PeriodCount),
		Format:      format,
	}

	pcm, err := alsa.PcmOpen(uint(a.opts.Card), uint(a.opts.Device), flags, &config)
	if err != nil {
		return nil, err
	}

	a.logger.Info("PCM opened",
		"pcm", a.pcmName(),
		"direction", alsa.DirectionFromFlags(flags),
		"rate", pcm.Rate(),
		"channels", pcm.Channels(),
		"format", pcm.Format(),
		"period_size", pcm.PeriodSize(),
		"buffer_size", pcm.BufferSize(),
		"boundary", pcm.Boundary())

	return pcm, nil
}

// service waits until the device is ready or up to two periods, and recovers the stream after an
// xrun or a suspend. It reports whether the stream was recovered and must be started again.
func service(pcm *alsa.PCM, logger *slog.Logger) (bool, error) {
	timeout := max(int(2*pcm.PeriodTime()/time.Millisecond), 10)

	_, err := pcm.Wait(timeout)
	if err != nil && !errors.Is(err, syscall.EPIPE) && !errors.Is(err, syscall.ESTRPIPE) {
		return false, err
	}

	state := pcm.State()
	if state != alsa.SNDRV_PCM_STATE_XRUN && state != alsa.SNDRV_PCM_STATE_SUSPENDED {
		return false, nil
	}

	if err := pcm.Recover(); err != nil {
		return false, err
	}

	logger.Warn("Stream recovered", "state", state, "xruns", pcm.Xruns())

	return true, nil
}

// captureFrames reads up to limit frames from ring and hands them to sink one period at a time.
func captureFrames[S alsa.Sample](ctx context.Context, pcm *alsa.PCM, ring *alsa.Ring[S], limit alsa.Frames,
	sink func([]S) error, logger *slog.Logger,
) (alsa.Frames, error) {
	ch := alsa.Frames(ring.Channels())
	period := alsa.Frames(pcm.PeriodSize())
	buf := make([]S, period*ch)

	if err := pcm.Start(); err != nil {
		return 0, err
	}

	var total alsa.Frames
	for total < limit && ctx.Err() == nil {
		recovered, err := service(pcm, logger)
		if err != nil {
			return total, err
		}

		if recovered {
			if err := pcm.Start(); err != nil {
				return total, err
			}

			continue
		}

		want := min(limit-total, period)
		n := ring.Read(buf[:want*ch])
		if n == 0 {
			continue
		}

		if err := sink(buf[:n*ch]); err != nil {
			return total, err
		}
		total += n
	}

	return total, nil
}

// playFrames writes src into ring until src ends or ctx is cancelled. The stream is started as
// soon as the buffer is full, and again after every recovery.
func playFrames[S alsa.Sample](ctx context.Context, pcm *alsa.PCM, ring *alsa.Ring[S], src iter.Seq[S],
	logger *slog.Logger,
) (alsa.Frames, error) {
	next, stop := iter.Pull(src)
	defer stop()

	done := false
	pull := func(yield func(S) bool) {
		for {
			v, ok := next()
			if !ok {
				done = true

				return
			}

			if !yield(v) {
				return
			}
		}
	}

	var total alsa.Frames
	for ctx.Err() == nil {
		total += ring.Fill(pull)

		if pcm.State() == alsa.SNDRV_PCM_STATE_PREPARED {
			if err := pcm.Start(); err != nil {
				return total, err
			}
		}

		if done {
			break
		}

		if _, err := service(pcm, logger); err != nil {
			return total, err
		}
	}

	return total, nil
}

// sampleConverter scales a decoded integer sample of bitDepth bits to the stream format.
func sampleConverter[S alsa.Sample](format alsa.PcmFormat, bitDepth int) func(int) S {
	switch format {
	case alsa.SNDRV_PCM_FORMAT_FLOAT_LE, alsa.SNDRV_PCM_FORMAT_FLOAT64_LE:
		scale := float64(int64(1) << (bitDepth - 1))

		return func(v int) S { return S(float64(v) / scale) }
	}

	width := int(alsa.PcmFormatToBits(format))
	if format == alsa.SNDRV_PCM_FORMAT_S24_LE {
		width = 24
	}

	shift := width - bitDepth
	if shift >= 0 {
		return func(v int) S { return S(v << shift) }
	}

	return func(v int) S { return S(v >> -shift) }
}
