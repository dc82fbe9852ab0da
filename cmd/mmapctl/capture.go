package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/spf13/cobra"

	alsa "github.com/gen2brain/alsa-mmap"
)

func newCaptureCmd(a *app) *cobra.Command {
	var duration time.Duration

	cmd := &cobra.Command{
		Use:   "capture <out.wav>",
		Short: "Capture from the direct ring into a WAV file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.capture(cmd.Context(), args[0], duration)
		},
	}

	cmd.Flags().DurationVar(&duration, "duration", 5*time.Second, "How long to capture")

	return cmd
}

// wavBitDepth returns the bit depth written to the WAV header for a capture format.
func wavBitDepth(format alsa.PcmFormat) (int, error) {
	switch format {
	case alsa.SNDRV_PCM_FORMAT_S16_LE:
		return 16, nil
	case alsa.SNDRV_PCM_FORMAT_S24_LE:
		return 24, nil
	case alsa.SNDRV_PCM_FORMAT_S32_LE:
		return 32, nil
	default:
		return 0, fmt.Errorf("format %s cannot be written to WAV, use s16, s24 or s32", format)
	}
}

func (a *app) capture(ctx context.Context, path string, duration time.Duration) error {
	format := alsa.SNDRV_PCM_FORMAT_S16_LE
	if a.opts.Format != "" {
		var err error
		if format, err = parseFormat(a.opts.Format); err != nil {
			return err
		}
	}

	bitDepth, err := wavBitDepth(format)
	if err != nil {
		return err
	}

	rate := uint32(a.opts.Rate)
	if rate == 0 {
		rate = 48000
	}

	channels := uint32(a.opts.Channels)
	if channels == 0 {
		channels = 2
	}

	pcm, err := a.openPCM(alsa.PCM_IN, rate, channels, format)
	if err != nil {
		return err
	}
	defer pcm.Close()

	if err := pcm.Prepare(); err != nil {
		return err
	}

	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer out.Close()

	encoder := wav.NewEncoder(out, int(pcm.Rate()), bitDepth, int(pcm.Channels()), 1) // 1 = PCM
	limit := alsa.Frames(duration.Seconds() * float64(pcm.Rate()))

	var frames alsa.Frames
	switch format {
	case alsa.SNDRV_PCM_FORMAT_S16_LE:
		frames, err = captureFile[int16](ctx, a, pcm, encoder, limit, false)
	default:
		frames, err = captureFile[int32](ctx, a, pcm, encoder, limit, format == alsa.SNDRV_PCM_FORMAT_S24_LE)
	}

	if cerr := encoder.Close(); err == nil {
		err = cerr
	}

	if err != nil {
		return err
	}

	a.logger.Info("Capture finished",
		"path", path,
		"frames", frames,
		"seconds", float64(frames)/float64(pcm.Rate()),
		"xruns", pcm.Xruns())

	return pcm.Stop()
}

func captureFile[S alsa.Sample](ctx context.Context, a *app, pcm *alsa.PCM, encoder *wav.Encoder,
	limit alsa.Frames, packed24 bool,
) (alsa.Frames, error) {
	ring, err := alsa.OpenDirectRing[S](pcm, alsa.Capture, alsa.WithLogger(a.logger))
	if err != nil {
		return 0, err
	}
	defer ring.Close()

	bitDepth, _ := wavBitDepth(pcm.Format())
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: int(pcm.Channels()), SampleRate: int(pcm.Rate())},
		SourceBitDepth: bitDepth,
	}

	sink := func(samples []S) error {
		buf.Data = buf.Data[:0]
		for _, v := range samples {
			x := int(v)
			if packed24 {
				// The upper byte of a 24-bit sample in a 32-bit container is not guaranteed to be a sign extension.
				x = int(int32(uint32(x)<<8) >> 8)
			}
			buf.Data = append(buf.Data, x)
		}

		return encoder.Write(buf)
	}

	return captureFrames(ctx, pcm, ring, limit, sink, a.logger)
}
