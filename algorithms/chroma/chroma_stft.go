package chroma

import (
	"fmt"
	"math"

	"github.com/RyanBlaney/sonido-analyzer/algorithms/spectral"
	"gonum.org/v1/gonum/floats"
)

// Profile is a 12-bin pitch class vector, index 0 = C through 11 = B
type Profile [12]float64

// PitchClassNames labels the 12 chroma bins
var PitchClassNames = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// Sum returns the total energy of the profile
func (p Profile) Sum() float64 {
	return floats.Sum(p[:])
}

// IsFlat reports whether every bin holds the same value (including all zeros)
func (p Profile) IsFlat() bool {
	for _, v := range p[1:] {
		if v != p[0] {
			return false
		}
	}
	return true
}

// ChromaSTFT computes chromagram using Short-Time Fourier Transform
//
// DIFFERENCE FROM spectral/stft.go:
// - spectral/stft.go: Generic STFT for any spectral analysis
// - chroma/chroma_stft.go: Specialized for pitch class analysis
//   - Maps frequencies to 12 semitone bins (C, C#, D, D#, E, F, F#, G, G#, A, A#, B)
//   - Octave-folded representation (all C notes map to same bin)
//   - Tuning frequency adjustable (default A4=440Hz)
//   - Frames are folded as they are transformed; no spectrogram is kept
type ChromaSTFT struct {
	sampleRate int
	stft       *spectral.STFT
	power      *spectral.PowerSpectrum
	tuningFreq float64 // A4 frequency (default 440 Hz)
	minFreq    float64 // Minimum frequency to consider
	maxFreq    float64 // Maximum frequency to consider
}

// NewChromaSTFT creates a new STFT-based chromagram calculator
func NewChromaSTFT(sampleRate int, tuningFreq float64) *ChromaSTFT {
	return &ChromaSTFT{
		sampleRate: sampleRate,
		stft:       spectral.NewSTFT(),
		power:      spectral.NewPowerSpectrum(),
		tuningFreq: tuningFreq,
		minFreq:    80.0,   // Approximate E2
		maxFreq:    8000.0, // High enough for harmonics
	}
}

// NewChromaSTFTDefault creates chromagram with standard A4=440Hz tuning
func NewChromaSTFTDefault(sampleRate int) *ChromaSTFT {
	return NewChromaSTFT(sampleRate, 440.0)
}

// ComputeChroma computes a chromagram from an audio signal. Each frame is
// normalized by its maximum bin. Signals shorter than one window are an error.
func (cs *ChromaSTFT) ComputeChroma(signal []float64, windowSize, hopSize int) ([]Profile, error) {
	if len(signal) < windowSize {
		return nil, fmt.Errorf("signal too short for chroma: %d samples, need %d", len(signal), windowSize)
	}
	if cs.sampleRate <= 0 || cs.tuningFreq <= 0 {
		return nil, fmt.Errorf("invalid chroma setup: sample rate %d, tuning %v", cs.sampleRate, cs.tuningFreq)
	}

	freqResolution := float64(cs.sampleRate) / float64(windowSize)
	chromaMapping := cs.calculateChromaMapping(windowSize/2+1, freqResolution)

	rows, err := cs.stft.ComputeWithWindow(signal, windowSize, hopSize, spectral.NewHannWindow(windowSize), false,
		func(spectrum []complex128) []float64 {
			frame := make([]float64, 12)
			for f, energy := range cs.power.Compute(spectrum) {
				if bin := chromaMapping[f]; bin >= 0 {
					frame[bin] += energy
				}
			}
			normalizeChromaFrame(frame)
			return frame
		})
	if err != nil {
		return nil, fmt.Errorf("chroma stft: %w", err)
	}

	chromagram := make([]Profile, len(rows))
	for t, row := range rows {
		copy(chromagram[t][:], row)
	}
	return chromagram, nil
}

// calculateChromaMapping maps FFT bins to chroma bins
func (cs *ChromaSTFT) calculateChromaMapping(freqBins int, freqResolution float64) []int {
	mapping := make([]int, freqBins)

	for f := 0; f < freqBins; f++ {
		frequency := float64(f) * freqResolution

		if frequency < cs.minFreq || frequency > cs.maxFreq {
			mapping[f] = -1 // Outside valid range
			continue
		}

		// Convert frequency to MIDI note number
		midiNote := cs.frequencyToMIDI(frequency)

		// MIDI 60 is C, so mod 12 gives C=0
		mapping[f] = int(math.Round(midiNote)) % 12
	}

	return mapping
}

// frequencyToMIDI converts frequency to MIDI note number
func (cs *ChromaSTFT) frequencyToMIDI(frequency float64) float64 {
	// A4 = MIDI note 69
	return 69.0 + 12.0*math.Log2(frequency/cs.tuningFreq)
}

// normalizeChromaFrame scales a frame so its loudest bin is 1
func normalizeChromaFrame(chromaFrame []float64) {
	peak := floats.Max(chromaFrame)
	if peak > 1e-10 {
		floats.Scale(1/peak, chromaFrame)
	}
}

// MeanProfile averages a chromagram over time
func MeanProfile(chromagram []Profile) (Profile, error) {
	var mean Profile
	if len(chromagram) == 0 {
		return mean, fmt.Errorf("empty chromagram")
	}

	for _, frame := range chromagram {
		floats.Add(mean[:], frame[:])
	}
	floats.Scale(1/float64(len(chromagram)), mean[:])
	return mean, nil
}

// SetTuning sets the tuning frequency (A4)
func (cs *ChromaSTFT) SetTuning(tuningFreq float64) {
	cs.tuningFreq = tuningFreq
}

// GetTuning returns the current tuning frequency
func (cs *ChromaSTFT) GetTuning() float64 {
	return cs.tuningFreq
}
