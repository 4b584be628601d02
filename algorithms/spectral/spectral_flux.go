package spectral

// SpectralFlux computes spectral flux (measure of spectral change)
type SpectralFlux struct{}

// NewSpectralFlux creates a new spectral flux calculator
func NewSpectralFlux() *SpectralFlux {
	return &SpectralFlux{}
}

// Compute returns, for every frame, the mean over bands of the half-wave
// rectified difference to the previous frame. The result has one value per
// frame and frame 0 is always 0, so it stays aligned with the spectrogram.
func (sf *SpectralFlux) Compute(spectrogram [][]float64) []float64 {
	flux := make([]float64, len(spectrogram))

	for t := 1; t < len(spectrogram); t++ {
		prev, cur := spectrogram[t-1], spectrogram[t]
		if len(cur) == 0 {
			continue
		}

		sum := 0.0
		for f := range cur {
			diff := cur[f] - prev[f]
			if diff > 0 { // Only positive changes (energy increases)
				sum += diff
			}
		}
		flux[t] = sum / float64(len(cur))
	}

	return flux
}
