package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	alsa "github.com/gen2brain/alsa-mmap"
)

func newPlayCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "play <file.wav|file.mp3>",
		Short: "Play a WAV or MP3 file through the direct ring",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.play(cmd.Context(), args[0])
		},
	}
}

func (a *app) play(ctx context.Context, path string) error {
	dec, file, err := openDecoder(path)
	if err != nil {
		return err
	}
	defer file.Close()

	format, err := decoderFormat(dec)
	if err != nil {
		return err
	}

	if a.opts.Format != "" {
		if format, err = parseFormat(a.opts.Format); err != nil {
			return err
		}
	}

	rate := uint32(a.opts.Rate)
	if rate == 0 {
		rate = dec.SampleRate()
	}

	channels := uint32(a.opts.Channels)
	if channels == 0 {
		channels = uint32(dec.NumChans())
	}

	if channels != uint32(dec.NumChans()) {
		return fmt.Errorf("file has %d channels, stream has %d", dec.NumChans(), channels)
	}

	if length, err := dec.Duration(); err == nil {
		a.logger.Info("Playing file", "path", path, "duration", length, "bit_depth", dec.BitDepth())
	}

	pcm, err := a.openPCM(alsa.PCM_OUT, rate, channels, format)
	if err != nil {
		return err
	}
	defer pcm.Close()

	if err := pcm.Prepare(); err != nil {
		return err
	}

	switch pcm.Format() {
	case alsa.SNDRV_PCM_FORMAT_S8:
		return playFile[int8](ctx, a, pcm, dec)
	case alsa.SNDRV_PCM_FORMAT_S16_LE:
		return playFile[int16](ctx, a, pcm, dec)
	case alsa.SNDRV_PCM_FORMAT_S24_LE, alsa.SNDRV_PCM_FORMAT_S32_LE:
		return playFile[int32](ctx, a, pcm, dec)
	case alsa.SNDRV_PCM_FORMAT_FLOAT_LE:
		return playFile[float32](ctx, a, pcm, dec)
	case alsa.SNDRV_PCM_FORMAT_FLOAT64_LE:
		return playFile[float64](ctx, a, pcm, dec)
	default:
		return fmt.Errorf("format %s is not supported for playback", pcm.Format())
	}
}

func playFile[S alsa.Sample](ctx context.Context, a *app, pcm *alsa.PCM, dec AudioDecoder) error {
	ring, err := alsa.OpenDirectRing[S](pcm, alsa.Playback, alsa.WithLogger(a.logger))
	if err != nil {
		return err
	}
	defer ring.Close()

	var decodeErr error
	src := decodedSamples(dec, int(pcm.PeriodSize()), sampleConverter[S](pcm.Format(), int(dec.BitDepth())), &decodeErr)

	start := time.Now()

	frames, err := playFrames(ctx, pcm, ring, src, a.logger)
	if err != nil {
		return err
	}

	if decodeErr != nil {
		return fmt.Errorf("decoding failed after %d frames: %w", frames, decodeErr)
	}

	if ctx.Err() != nil {
		a.logger.Info("Playback interrupted", "frames", frames)

		return pcm.Stop()
	}

	if err := pcm.Drain(); err != nil {
		return err
	}

	a.logger.Info("Playback finished", "frames", frames, "elapsed", time.Since(start), "xruns", pcm.Xruns())

	return nil
}
