package temporal

import (
	"fmt"

	"github.com/RyanBlaney/sonido-analyzer/algorithms/common"
	"github.com/mjibson/go-dsp/window"
	"gonum.org/v1/gonum/dsp/fourier"
)

// Tempogram computes local autocorrelations of an onset envelope
type Tempogram struct {
	winLength int
	window    []float64
	fft       *fourier.FFT
	segment   []float64
	coeffs    []complex128
	acf       []float64
}

// NewTempogram creates a tempogram with a Hann window of winLength frames.
// A Tempogram reuses its buffers and is not safe for concurrent use.
func NewTempogram(winLength int) (*Tempogram, error) {
	if winLength < 4 {
		return nil, fmt.Errorf("tempogram window too short: %d", winLength)
	}

	// Zero-padding to at least 2N makes the circular correlation linear
	n := common.NextPowerOfTwo(2 * winLength)

	return &Tempogram{
		winLength: winLength,
		window:    window.Hann(winLength),
		fft:       fourier.NewFFT(n),
		segment:   make([]float64, n),
		acf:       make([]float64, n),
	}, nil
}

// WindowLength returns the analysis window in envelope frames
func (tg *Tempogram) WindowLength() int {
	return tg.winLength
}

// Frame returns the normalized autocorrelation (lags 0..winLength-1) of the
// windowed envelope centered on frame t. Samples outside the envelope count as
// zero. ok is false when the window holds no energy. The returned slice is
// only valid until the next call.
func (tg *Tempogram) Frame(envelope []float64, t int) (acf []float64, ok bool) {
	half := tg.winLength / 2

	for i := range tg.segment {
		tg.segment[i] = 0
	}
	for i := 0; i < tg.winLength; i++ {
		j := t - half + i
		if j >= 0 && j < len(envelope) {
			tg.segment[i] = envelope[j] * tg.window[i]
		}
	}

	tg.coeffs = tg.fft.Coefficients(tg.coeffs, tg.segment)
	for i, c := range tg.coeffs {
		tg.coeffs[i] = complex(real(c)*real(c)+imag(c)*imag(c), 0)
	}
	tg.acf = tg.fft.Sequence(tg.acf, tg.coeffs)

	lag0 := tg.acf[0]
	if lag0 <= 1e-12 {
		return nil, false
	}

	out := tg.acf[:tg.winLength]
	for i := range out {
		out[i] /= lag0
	}
	return out, true
}
