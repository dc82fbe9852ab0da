package main

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"

	alsa "github.com/gen2brain/alsa-mmap"
)

// AudioDecoder hides the differences between the WAV and MP3 decoders.
type AudioDecoder interface {
	// PCMBuffer decodes into buf.Data and returns the number of samples (not frames) written.
	PCMBuffer(buf *audio.IntBuffer) (n int, err error)
	Duration() (time.Duration, error)
	NumChans() uint16
	SampleRate() uint32
	BitDepth() uint16
	IsFloat() bool
}

// openDecoder picks a decoder by file extension. The returned file must be closed by the caller.
func openDecoder(path string) (AudioDecoder, *os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}

	var dec AudioDecoder
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3":
		dec, err = newMp3Decoder(f)
	default:
		dec, err = newWavDecoder(f)
	}

	if err != nil {
		_ = f.Close()

		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}

	return dec, f, nil
}

type wavDecoder struct {
	*wav.Decoder
}

func newWavDecoder(r io.ReadSeeker) (AudioDecoder, error) {
	d := wav.NewDecoder(r)
	if !d.IsValidFile() {
		return nil, errors.New("invalid WAV file")
	}

	return &wavDecoder{Decoder: d}, nil
}

func (w *wavDecoder) SampleRate() uint32 { return w.Decoder.SampleRate }
func (w *wavDecoder) NumChans() uint16   { return w.Decoder.NumChans }
func (w *wavDecoder) BitDepth() uint16   { return w.Decoder.BitDepth }
func (w *wavDecoder) IsFloat() bool      { return w.Decoder.WavAudioFormat == 3 } // WAVE_FORMAT_IEEE_FLOAT

// mp3Decoder always produces 16-bit stereo.
type mp3Decoder struct {
	decoder *mp3.Decoder
	scratch []byte
}

func newMp3Decoder(r io.Reader) (AudioDecoder, error) {
	d, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, err
	}

	return &mp3Decoder{decoder: d}, nil
}

func (m *mp3Decoder) PCMBuffer(buf *audio.IntBuffer) (int, error) {
	need := len(buf.Data) * 2
	if cap(m.scratch) < need {
		m.scratch = make([]byte, need)
	}
	b := m.scratch[:need]

	read, err := io.ReadFull(m.decoder, b)
	if errors.Is(err, io.ErrUnexpectedEOF) {
		err = io.EOF
	}

	n := read / 2
	for i := range n {
		buf.Data[i] = int(int16(binary.LittleEndian.Uint16(b[i*2:])))
	}

	if n > 0 && errors.Is(err, io.EOF) {
		err = nil
	}

	return n, err
}

func (m *mp3Decoder) Duration() (time.Duration, error) {
	frames := m.decoder.Length() / 4
	if frames < 0 {
		return 0, errors.New("unknown stream length")
	}

	return time.Duration(frames) * time.Second / time.Duration(m.decoder.SampleRate()), nil
}

func (m *mp3Decoder) SampleRate() uint32 { return uint32(m.decoder.SampleRate()) }
func (m *mp3Decoder) NumChans() uint16   { return 2 }
func (m *mp3Decoder) BitDepth() uint16   { return 16 }
func (m *mp3Decoder) IsFloat() bool      { return false }

// decoderFormat selects the stream format that matches the decoded samples.
func decoderFormat(dec AudioDecoder) (alsa.PcmFormat, error) {
	if dec.IsFloat() {
		switch dec.BitDepth() {
		case 32:
			return alsa.SNDRV_PCM_FORMAT_FLOAT_LE, nil
		case 64:
			return alsa.SNDRV_PCM_FORMAT_FLOAT64_LE, nil
		default:
			return alsa.SNDRV_PCM_FORMAT_INVALID, fmt.Errorf("unsupported float bit depth %d", dec.BitDepth())
		}
	}

	switch dec.BitDepth() {
	case 8:
		return alsa.SNDRV_PCM_FORMAT_S8, nil
	case 16:
		return alsa.SNDRV_PCM_FORMAT_S16_LE, nil
	case 24:
		return alsa.SNDRV_PCM_FORMAT_S24_LE, nil
	case 32:
		return alsa.SNDRV_PCM_FORMAT_S32_LE, nil
	default:
		return alsa.SNDRV_PCM_FORMAT_INVALID, fmt.Errorf("unsupported integer bit depth %d", dec.BitDepth())
	}
}

// decodedSamples yields the decoder's samples converted to S. A decode error ends the
// sequence and is stored in *errp.
func decodedSamples[S alsa.Sample](dec AudioDecoder, chunkFrames int, convert func(int) S, errp *error) iter.Seq[S] {
	return func(yield func(S) bool) {
		buf := &audio.IntBuffer{
			Format: &audio.Format{NumChannels: int(dec.NumChans()), SampleRate: int(dec.SampleRate())},
			Data:   make([]int, chunkFrames*int(dec.NumChans())),
		}

		for {
			n, err := dec.PCMBuffer(buf)
			for _, v := range buf.Data[:n] {
				if !yield(convert(v)) {
					return
				}
			}

			if errors.Is(err, io.EOF) || (err == nil && n == 0) {
				return
			}

			if err != nil {
				*errp = err

				return
			}
		}
	}
}
