package spectral

import (
	"math"
)

// MelScale provides mel frequency conversion utilities.
//
// The default is the Slaney scale (linear below 1 kHz, logarithmic above),
// which matches the mel spectrograms most onset detectors are tuned on.
type MelScale struct {
	htk bool
}

// NewMelScale creates a Slaney mel scale converter
func NewMelScale() *MelScale {
	return &MelScale{}
}

// NewHTKMelScale creates a converter using the HTK formula 2595*log10(1+f/700)
func NewHTKMelScale() *MelScale {
	return &MelScale{htk: true}
}

const (
	slaneyLinearStep = 200.0 / 3.0
	slaneyMinLogHz   = 1000.0
	slaneyMinLogMel  = slaneyMinLogHz / slaneyLinearStep
)

var slaneyLogStep = math.Log(6.4) / 27.0

// HzToMel converts frequency in Hz to mel scale
func (ms *MelScale) HzToMel(hz float64) float64 {
	if ms.htk {
		return 2595.0 * math.Log10(1.0+hz/700.0)
	}
	if hz < slaneyMinLogHz {
		return hz / slaneyLinearStep
	}
	return slaneyMinLogMel + math.Log(hz/slaneyMinLogHz)/slaneyLogStep
}

// MelToHz converts mel scale to frequency in Hz
func (ms *MelScale) MelToHz(mel float64) float64 {
	if ms.htk {
		return 700.0 * (math.Pow(10.0, mel/2595.0) - 1.0)
	}
	if mel < slaneyMinLogMel {
		return mel * slaneyLinearStep
	}
	return slaneyMinLogHz * math.Exp(slaneyLogStep*(mel-slaneyMinLogMel))
}

// MelFilterBank is a set of triangular filters over FFT bins. Each filter
// keeps the range of bins where its weight is non-zero so Apply only touches
// those.
type MelFilterBank struct {
	Weights [][]float64
	start   []int
	end     []int
}

// CreateMelFilterBank creates a mel-scale filter bank.
//
// Filters are triangles in continuous frequency (bins are weighted by their
// exact centre frequency, so narrow low bands never collapse to zero) and are
// area-normalized so every band carries comparable energy.
func (ms *MelScale) CreateMelFilterBank(numFilters int, fftSize int, sampleRate int, lowFreq, highFreq float64) *MelFilterBank {
	if numFilters <= 0 || fftSize <= 0 || sampleRate <= 0 {
		return nil
	}

	lowMel := ms.HzToMel(lowFreq)
	highMel := ms.HzToMel(highFreq)

	// Create equally spaced mel points and convert them back to Hz
	hzPoints := make([]float64, numFilters+2)
	melStep := (highMel - lowMel) / float64(numFilters+1)
	for i := range hzPoints {
		hzPoints[i] = ms.MelToHz(lowMel + float64(i)*melStep)
	}

	numBins := fftSize/2 + 1
	binHz := float64(sampleRate) / float64(fftSize)

	bank := &MelFilterBank{
		Weights: make([][]float64, numFilters),
		start:   make([]int, numFilters),
		end:     make([]int, numFilters),
	}

	for m := 0; m < numFilters; m++ {
		left, center, right := hzPoints[m], hzPoints[m+1], hzPoints[m+2]
		norm := 2.0 / (right - left)

		weights := make([]float64, numBins)
		first, last := numBins, -1
		for k := 0; k < numBins; k++ {
			f := float64(k) * binHz
			rising := (f - left) / (center - left)
			falling := (right - f) / (right - center)
			w := math.Max(0, math.Min(rising, falling))
			if w > 0 {
				weights[k] = w * norm
				if k < first {
					first = k
				}
				last = k
			}
		}

		bank.Weights[m] = weights
		if last < 0 {
			// Band narrower than one bin and between bin centres
			first, last = 0, -1
		}
		bank.start[m] = first
		bank.end[m] = last + 1
	}

	return bank
}

// NumBands returns the number of filters
func (mb *MelFilterBank) NumBands() int {
	return len(mb.Weights)
}

// Apply projects a power spectrum onto the mel bands
func (mb *MelFilterBank) Apply(power []float64) []float64 {
	bands := make([]float64, len(mb.Weights))
	for m, weights := range mb.Weights {
		sum := 0.0
		for k := mb.start[m]; k < mb.end[m] && k < len(power); k++ {
			sum += weights[k] * power[k]
		}
		bands[m] = sum
	}
	return bands
}
