package transcode

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/RyanBlaney/sonido-analyzer/algorithms/common"
	"github.com/RyanBlaney/sonido-analyzer/logging"
	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// wavReadChunk is the number of interleaved samples read per PCMBuffer call
const wavReadChunk = 8192

// WAVDecoder decodes integer PCM WAV files natively, without ffmpeg.
// Output is always mono at the target sample rate.
type WAVDecoder struct {
	targetSampleRate int
	interpolator     *common.Interpolator
}

// NewWAVDecoder creates a WAV decoder producing mono audio at targetSampleRate
func NewWAVDecoder(targetSampleRate int) *WAVDecoder {
	return &WAVDecoder{
		targetSampleRate: targetSampleRate,
		interpolator:     common.NewInterpolator(common.Linear),
	}
}

// DecodeFile reads a WAV file, downmixes it and resamples it. A positive
// maxDuration stops reading after that much source audio.
func (w *WAVDecoder) DecodeFile(ctx context.Context, filename string, maxDuration time.Duration) (*AudioData, error) {
	logger := logging.WithFields(logging.Fields{
		"component": "wav_decoder",
		"function":  "DecodeFile",
		"filename":  filename,
	})

	if w.targetSampleRate <= 0 {
		return nil, fmt.Errorf("invalid target sample rate: %d", w.targetSampleRate)
	}

	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("could not open file: %w", err)
	}
	defer file.Close()

	decoder := wav.NewDecoder(file)
	if !decoder.IsValidFile() {
		return nil, fmt.Errorf("invalid WAV file")
	}
	// 1 = integer PCM; float and compressed WAVs go through ffmpeg
	if decoder.WavAudioFormat != 1 {
		return nil, fmt.Errorf("unsupported WAV encoding: format tag %d", decoder.WavAudioFormat)
	}

	sourceRate := int(decoder.SampleRate)
	channels := int(decoder.NumChans)
	bitDepth := int(decoder.BitDepth)
	if sourceRate <= 0 || channels <= 0 {
		return nil, fmt.Errorf("invalid WAV header: %d Hz, %d channels", sourceRate, channels)
	}
	if bitDepth != 8 && bitDepth != 16 && bitDepth != 24 && bitDepth != 32 {
		return nil, fmt.Errorf("unsupported WAV bit depth: %d", bitDepth)
	}

	logger.Debug("WAV header read", logging.Fields{
		"input_sample_rate": sourceRate,
		"input_channels":    channels,
		"input_bit_depth":   bitDepth,
	})

	maxFrames := -1
	if maxDuration > 0 {
		maxFrames = int(maxDuration.Seconds() * float64(sourceRate))
	}

	mono, err := readMono(ctx, decoder, channels, bitDepth, maxFrames)
	if err != nil {
		return nil, err
	}
	if len(mono) == 0 {
		return nil, fmt.Errorf("no audio samples decoded")
	}

	pcm := w.interpolator.ResampleSignal(mono, sourceRate, w.targetSampleRate)

	logger.Debug("WAV decode completed", logging.Fields{
		"source_frames":  len(mono),
		"output_samples": len(pcm),
	})

	return &AudioData{
		PCM:        pcm,
		SampleRate: w.targetSampleRate,
		Channels:   1,
		Duration:   samplesDuration(len(pcm), w.targetSampleRate),
		Source: &AudioMetadata{
			SampleRate: sourceRate,
			Channels:   channels,
			Codec:      fmt.Sprintf("pcm_s%dle", bitDepth),
			Duration:   float64(len(mono)) / float64(sourceRate),
			Bitrate:    sourceRate * channels * bitDepth,
			Format:     "WAV / WAVE (Waveform Audio)",
			BitDepth:   bitDepth,
		},
	}, nil
}

// readMono reads interleaved PCM in chunks and averages channels into mono
// samples in [-1, 1]. maxFrames < 0 reads to the end.
func readMono(ctx context.Context, decoder *wav.Decoder, channels, bitDepth, maxFrames int) ([]float64, error) {
	chunk := wavReadChunk - wavReadChunk%channels
	buf := &audio.IntBuffer{
		Format: &audio.Format{NumChannels: channels, SampleRate: int(decoder.SampleRate)},
		Data:   make([]int, chunk),
	}

	scale := math.Pow(2, float64(bitDepth-1))
	offset := 0.0
	if bitDepth == 8 {
		// 8-bit WAV is unsigned
		offset = 128
	}

	var mono []float64
	pending := make([]int, 0, channels)

	for maxFrames < 0 || len(mono) < maxFrames {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		n, err := decoder.PCMBuffer(buf)
		if err != nil {
			return nil, fmt.Errorf("could not read PCM buffer: %w", err)
		}
		if n == 0 {
			break
		}

		for _, v := range buf.Data[:n] {
			pending = append(pending, v)
			if len(pending) < channels {
				continue
			}
			sum := 0.0
			for _, s := range pending {
				sum += (float64(s) - offset) / scale
			}
			mono = append(mono, sum/float64(channels))
			pending = pending[:0]

			if maxFrames >= 0 && len(mono) >= maxFrames {
				break
			}
		}
	}

	return mono, nil
}

// WriteWAV writes mono samples in [-1, 1] as 16-bit PCM
func WriteWAV(filename string, samples []float64, sampleRate int) error {
	if sampleRate <= 0 {
		return fmt.Errorf("invalid sample rate: %d", sampleRate)
	}

	out, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("output file creation error: %w", err)
	}
	defer out.Close()

	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(math.Round(common.Clamp(s, -1, 1) * 32767))
	}

	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}

	// 1 = PCM format tag
	encoder := wav.NewEncoder(out, sampleRate, 16, 1, 1)
	if err := encoder.Write(buf); err != nil {
		return fmt.Errorf("data writing error: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return fmt.Errorf("finalizing WAV: %w", err)
	}

	return out.Close()
}

// AutoDecoder decodes .wav files natively and everything else with ffmpeg.
// WAV files the native path rejects (float or compressed) fall back to ffmpeg.
type AutoDecoder struct {
	wav    *WAVDecoder
	ffmpeg *Decoder
}

// NewAutoDecoder creates a decoder producing mono audio per config
func NewAutoDecoder(config *DecoderConfig) (*AutoDecoder, error) {
	ffmpeg := NewDecoder(config)
	if err := ffmpeg.ValidateConfig(); err != nil {
		return nil, err
	}
	if ffmpeg.config.TargetChannels != 1 {
		return nil, fmt.Errorf("auto decoder only produces mono output, got %d channels", ffmpeg.config.TargetChannels)
	}

	return &AutoDecoder{
		wav:    NewWAVDecoder(ffmpeg.config.TargetSampleRate),
		ffmpeg: ffmpeg,
	}, nil
}

// DecodeFile picks a decoder by file extension
func (a *AutoDecoder) DecodeFile(ctx context.Context, filename string, maxDuration time.Duration) (*AudioData, error) {
	if strings.EqualFold(filepath.Ext(filename), ".wav") {
		data, err := a.wav.DecodeFile(ctx, filename, maxDuration)
		if err == nil {
			return data, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}

		logging.Debug("Native WAV decode failed, falling back to ffmpeg", logging.Fields{
			"filename": filename,
			"error":    err.Error(),
		})
	}

	return a.ffmpeg.DecodeFile(ctx, filename, maxDuration)
}

// CheckFFmpeg reports whether the ffmpeg fallback can run
func (a *AutoDecoder) CheckFFmpeg(ctx context.Context) error {
	return a.ffmpeg.CheckAvailability(ctx)
}
