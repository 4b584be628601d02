package analyzer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/RyanBlaney/sonido-analyzer/algorithms/common"
	"github.com/RyanBlaney/sonido-analyzer/transcode"
)

// Decoder turns an audio file into PCM. A positive maxDuration bounds how
// much leading audio is decoded.
type Decoder interface {
	DecodeFile(ctx context.Context, path string, maxDuration time.Duration) (*transcode.AudioData, error)
}

// Signal is mono PCM at a known sample rate
type Signal struct {
	Samples    []float64
	SampleRate int
}

// Duration returns the signal length in time
func (s Signal) Duration() time.Duration {
	if s.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(s.Samples)) * time.Second / time.Duration(s.SampleRate)
}

// checkFile verifies the path names a readable regular file with an allowed
// extension before any decoding starts
func (a *Analyzer) checkFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("file not found: %s", path)
		}
		return fmt.Errorf("file is not readable: %w", err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("file is not readable: %s is not a regular file", path)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("file is not readable: %w", err)
	}
	f.Close()

	if len(a.cfg.AllowedExtensions) > 0 {
		ext := strings.ToLower(filepath.Ext(path))
		if !slices.Contains(a.cfg.AllowedExtensions, ext) {
			return fmt.Errorf("unsupported file type %q", ext)
		}
	}

	return nil
}

// load decodes path into a mono signal at the analysis rate. Decoders that
// return other layouts are downmixed and resampled here.
func (a *Analyzer) load(ctx context.Context, path string, maxDuration time.Duration) (Signal, error) {
	data, err := a.decoder.DecodeFile(ctx, path, maxDuration)
	if err != nil {
		return Signal{}, err
	}
	if data == nil || len(data.PCM) == 0 {
		return Signal{}, fmt.Errorf("decoded audio is empty")
	}
	if data.SampleRate <= 0 {
		return Signal{}, fmt.Errorf("decoder returned invalid sample rate %d", data.SampleRate)
	}

	samples := data.PCM
	if data.Channels > 1 {
		samples = downmix(samples, data.Channels)
	}
	if data.SampleRate != a.cfg.SampleRate {
		samples = common.NewInterpolator(common.Linear).ResampleSignal(samples, data.SampleRate, a.cfg.SampleRate)
	}
	if maxDuration > 0 {
		if limit := int(maxDuration.Seconds() * float64(a.cfg.SampleRate)); len(samples) > limit {
			samples = samples[:limit]
		}
	}
	if len(samples) == 0 {
		return Signal{}, fmt.Errorf("decoded audio is empty")
	}

	return Signal{Samples: samples, SampleRate: a.cfg.SampleRate}, nil
}

// downmix averages interleaved channels
func downmix(interleaved []float64, channels int) []float64 {
	frames := len(interleaved) / channels
	mono := make([]float64, frames)
	for i := 0; i < frames; i++ {
		sum := 0.0
		for c := 0; c < channels; c++ {
			sum += interleaved[i*channels+c]
		}
		mono[i] = sum / float64(channels)
	}
	return mono
}
