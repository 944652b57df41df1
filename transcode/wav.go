package transcode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/RyanBlaney/sonido-clave/algorithms/common"
	"github.com/RyanBlaney/sonido-clave/logging"
)

// wavFormatPCM is the WAVE format tag for integer PCM
const wavFormatPCM = 1

// WAVDecoder decodes integer PCM RIFF/WAVE data without external tools
type WAVDecoder struct {
	config *DecoderConfig
}

// NewWAVDecoder creates a native WAV decoder
func NewWAVDecoder(config *DecoderConfig) *WAVDecoder {
	if config == nil {
		config = DefaultDecoderConfig()
	}
	return &WAVDecoder{config: config}
}

// Decode decodes a WAV file from disk
func (d *WAVDecoder) Decode(ctx context.Context, path string) (*AudioClip, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, decodeError(path, err)
	}
	defer f.Close()

	clip, err := d.decode(ctx, f, path)
	if err != nil {
		return nil, decodeError(path, err)
	}
	return clip, nil
}

// DecodeReader decodes WAV data from a reader. The reader is buffered in
// memory since the RIFF parser needs to seek.
func (d *WAVDecoder) DecodeReader(ctx context.Context, r io.Reader) (*AudioClip, error) {
	rs, ok := r.(io.ReadSeeker)
	if !ok {
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, decodeError("", err)
		}
		rs = bytes.NewReader(data)
	}

	clip, err := d.decode(ctx, rs, "")
	if err != nil {
		return nil, decodeError("", err)
	}
	return clip, nil
}

func (d *WAVDecoder) decode(ctx context.Context, rs io.ReadSeeker, source string) (*AudioClip, error) {
	logger := logging.WithContext(ctx).WithFields(logging.Fields{
		"component": "wav_decoder",
		"function":  "decode",
		"source":    source,
	})

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dec := wav.NewDecoder(rs)
	if !dec.IsValidFile() {
		if err := dec.Err(); err != nil {
			return nil, fmt.Errorf("invalid WAV data: %w", err)
		}
		return nil, errors.New("invalid WAV data")
	}

	if dec.WavAudioFormat != wavFormatPCM {
		return nil, fmt.Errorf("%w: format tag %d", ErrUnsupportedWAV, dec.WavAudioFormat)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to read PCM data: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sourceRate := int(dec.SampleRate)
	mono := downmix(buf, int(dec.BitDepth))
	if len(mono) == 0 {
		return nil, ErrEmptyAudio
	}

	logger.Debug("WAV data decoded", logging.Fields{
		"input_sample_rate": sourceRate,
		"input_channels":    dec.NumChans,
		"bit_depth":         dec.BitDepth,
		"input_frames":      len(mono),
	})

	// Truncate before resampling so long files are not resampled in full
	if d.config.MaxDuration > 0 {
		limit := int(math.Ceil(d.config.MaxDuration.Seconds()*float64(sourceRate))) + 1
		if len(mono) > limit {
			mono = mono[:limit]
		}
	}

	if sourceRate != d.config.TargetSampleRate {
		resampler, err := common.NewResampler(sourceRate, d.config.TargetSampleRate, d.config.resampleQuality())
		if err != nil {
			return nil, err
		}
		mono = resampler.Process(mono)
	}

	return NewAudioClip(mono, d.config.TargetSampleRate, d.config.MaxDuration, source)
}

// downmix averages interleaved channels and scales integer samples to [-1, 1)
func downmix(buf *audio.IntBuffer, bitDepth int) []float64 {
	channels := 1
	if buf.Format != nil && buf.Format.NumChannels > 0 {
		channels = buf.Format.NumChannels
	}
	if bitDepth <= 0 {
		bitDepth = buf.SourceBitDepth
	}

	scale := math.Exp2(float64(bitDepth - 1))
	offset := 0
	if bitDepth == 8 {
		// 8-bit WAV samples are unsigned
		offset = 128
	}

	frames := len(buf.Data) / channels
	mono := make([]float64, frames)
	for i := range frames {
		sum := 0.0
		for ch := range channels {
			sum += float64(buf.Data[i*channels+ch] - offset)
		}
		mono[i] = sum / float64(channels) / scale
	}

	return mono
}
