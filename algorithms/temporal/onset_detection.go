package temporal

import (
	"fmt"

	"github.com/RyanBlaney/sonido-analyzer/algorithms/spectral"
)

// OnsetStrengthParams controls the onset envelope computation
type OnsetStrengthParams struct {
	FFTSize  int     `json:"fft_size"`
	HopSize  int     `json:"hop_size"`
	MelBands int     `json:"mel_bands"`
	Amin     float64 `json:"amin"`
	TopDB    float64 `json:"top_db"`
}

// DefaultOnsetStrengthParams returns the parameters used for tempo analysis
func DefaultOnsetStrengthParams() OnsetStrengthParams {
	return OnsetStrengthParams{
		FFTSize:  2048,
		HopSize:  512,
		MelBands: 128,
		Amin:     1e-10,
		TopDB:    80.0,
	}
}

// OnsetStrength computes a spectral-flux onset envelope over a log-mel
// spectrogram
type OnsetStrength struct {
	params       OnsetStrengthParams
	stft         *spectral.STFT
	power        *spectral.PowerSpectrum
	spectralFlux *spectral.SpectralFlux
	melScale     *spectral.MelScale
}

// NewOnsetStrength creates a new onset strength calculator
func NewOnsetStrength(params OnsetStrengthParams) *OnsetStrength {
	return &OnsetStrength{
		params:       params,
		stft:         spectral.NewSTFT(),
		power:        spectral.NewPowerSpectrum(),
		spectralFlux: spectral.NewSpectralFlux(),
		melScale:     spectral.NewMelScale(),
	}
}

// Compute returns one non-negative onset value per hop. Frames are centered,
// so the envelope has 1+len(signal)/HopSize values and frame 0 is 0.
func (o *OnsetStrength) Compute(signal []float64, sampleRate int) ([]float64, error) {
	if len(signal) == 0 {
		return nil, fmt.Errorf("empty signal")
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate: %d", sampleRate)
	}

	p := o.params
	if p.FFTSize <= 0 || p.HopSize <= 0 || p.MelBands <= 0 {
		return nil, fmt.Errorf("invalid onset parameters: fft=%d hop=%d mels=%d", p.FFTSize, p.HopSize, p.MelBands)
	}

	bank := o.melScale.CreateMelFilterBank(p.MelBands, p.FFTSize, sampleRate, 0, float64(sampleRate)/2)

	melSpec, err := o.stft.ComputeWithWindow(signal, p.FFTSize, p.HopSize, spectral.NewHannWindow(p.FFTSize), true,
		func(spectrum []complex128) []float64 {
			return bank.Apply(o.power.Compute(spectrum))
		})
	if err != nil {
		return nil, fmt.Errorf("mel spectrogram: %w", err)
	}

	o.power.ToDB(melSpec, p.Amin, p.TopDB)

	return o.spectralFlux.Compute(melSpec), nil
}

// FrameRate returns envelope frames per second for a sample rate
func (o *OnsetStrength) FrameRate(sampleRate int) float64 {
	return float64(sampleRate) / float64(o.params.HopSize)
}
