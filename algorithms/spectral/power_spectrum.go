package spectral

import (
	"math"
	"math/cmplx"
)

// PowerSpectrum converts complex spectra to power and decibel scales
type PowerSpectrum struct{}

// NewPowerSpectrum creates a new power spectrum calculator
func NewPowerSpectrum() *PowerSpectrum {
	return &PowerSpectrum{}
}

// Compute returns |X|^2 for each bin
func (ps *PowerSpectrum) Compute(spectrum []complex128) []float64 {
	power := make([]float64, len(spectrum))
	for i, c := range spectrum {
		mag := cmplx.Abs(c)
		power[i] = mag * mag
	}
	return power
}

// ToDB converts a power matrix to decibels in place: 10*log10(max(amin, p)),
// then floors everything at (global max - topDB). A topDB <= 0 disables the floor.
func (ps *PowerSpectrum) ToDB(power [][]float64, amin, topDB float64) {
	maxDB := math.Inf(-1)
	for _, row := range power {
		for i, p := range row {
			db := 10.0 * math.Log10(math.Max(amin, p))
			row[i] = db
			if db > maxDB {
				maxDB = db
			}
		}
	}

	if topDB <= 0 || math.IsInf(maxDB, -1) {
		return
	}

	floor := maxDB - topDB
	for _, row := range power {
		for i, db := range row {
			if db < floor {
				row[i] = floor
			}
		}
	}
}
