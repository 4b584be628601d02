package spectral

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/mjibson/go-dsp/window"
)

// STFT provides Short-Time Fourier Transform functionality.
//
// Frames are reduced as soon as they are transformed, so callers never hold a
// full complex spectrogram: onset strength keeps mel bands, chroma keeps 12
// pitch classes.
type STFT struct {
	fft *FFT
}

// Window interface for windowing functions
type Window interface {
	ApplyInPlace(signal []float64) error
}

// FrameReducer turns one frame's positive-frequency spectrum (windowSize/2+1
// bins) into the row stored for that frame. It is called from several worker
// goroutines and must not retain spectrum.
type FrameReducer func(spectrum []complex128) []float64

// HannWindow applies Hann coefficients generated by mjibson/go-dsp
type HannWindow struct {
	coefficients []float64
}

// NewHannWindow creates a Hann window of the given size
func NewHannWindow(size int) *HannWindow {
	return &HannWindow{coefficients: window.Hann(size)}
}

// ApplyInPlace applies the window to a frame in-place
func (h *HannWindow) ApplyInPlace(frame []float64) error {
	if len(frame) != len(h.coefficients) {
		return fmt.Errorf("signal length (%d) doesn't match window size (%d)", len(frame), len(h.coefficients))
	}
	for i, c := range h.coefficients {
		frame[i] *= c
	}
	return nil
}

// Size returns the window length
func (h *HannWindow) Size() int {
	return len(h.coefficients)
}

// NewSTFT creates a new STFT calculator
func NewSTFT() *STFT {
	return &STFT{
		fft: NewFFT(),
	}
}

// FrameCount returns how many frames ComputeWithWindow produces for a signal
// of length n. Centered framing pads windowSize/2 zeros on both sides so frame
// t is centered on sample t*hopSize.
func FrameCount(n, windowSize, hopSize int, centered bool) int {
	if n <= 0 || windowSize <= 0 || hopSize <= 0 {
		return 0
	}
	if centered {
		n += 2 * (windowSize / 2)
	}
	if n < windowSize {
		return 0
	}
	return (n-windowSize)/hopSize + 1
}

// ComputeWithWindow computes the STFT with parallel frame processing and
// returns one reduced row per frame, in frame order.
func (s *STFT) ComputeWithWindow(signal []float64, windowSize int, hopSize int, win Window, centered bool, reduce FrameReducer) ([][]float64, error) {
	if len(signal) == 0 {
		return nil, fmt.Errorf("empty signal")
	}

	if windowSize <= 0 {
		return nil, fmt.Errorf("window size must be positive")
	}

	if hopSize <= 0 {
		return nil, fmt.Errorf("hop size must be positive")
	}

	if reduce == nil {
		return nil, fmt.Errorf("frame reducer is required")
	}

	numFrames := FrameCount(len(signal), windowSize, hopSize, centered)
	if numFrames <= 0 {
		return nil, fmt.Errorf("signal too short for given window size and hop size: %d samples, window %d",
			len(signal), windowSize)
	}

	offset := 0
	if centered {
		offset = windowSize / 2
	}

	freqBins := windowSize/2 + 1
	rows := make([][]float64, numFrames)
	errs := make([]error, numFrames)

	numWorkers := s.getOptimalWorkerCount(numFrames)

	jobs := make(chan int, numFrames)

	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			// Reuse frame buffer for this worker
			frameBuffer := make([]float64, windowSize)

			for frameIdx := range jobs {
				fillFrame(frameBuffer, signal, frameIdx*hopSize-offset)

				if win != nil {
					if err := win.ApplyInPlace(frameBuffer); err != nil {
						errs[frameIdx] = err
						continue
					}
				}

				spectrum := s.fft.Compute(frameBuffer)
				rows[frameIdx] = reduce(spectrum[:freqBins])
			}
		}()
	}

	for frameIdx := 0; frameIdx < numFrames; frameIdx++ {
		jobs <- frameIdx
	}
	close(jobs)

	wg.Wait()

	for frameIdx, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("frame %d: %w", frameIdx, err)
		}
	}

	return rows, nil
}

// fillFrame copies signal[start:start+len(dst)] into dst, zero-filling
// anything outside the signal
func fillFrame(dst, signal []float64, start int) {
	for i := range dst {
		j := start + i
		if j >= 0 && j < len(signal) {
			dst[i] = signal[j]
		} else {
			dst[i] = 0
		}
	}
}

// getOptimalWorkerCount determines the optimal number of workers based on workload
func (s *STFT) getOptimalWorkerCount(numFrames int) int {
	numCPU := runtime.NumCPU()

	// For small workloads, don't over-parallelize
	if numFrames < 100 {
		return max(1, min(numCPU/2, numFrames))
	}

	// For medium workloads, use most CPUs
	if numFrames < 1000 {
		return min(numCPU, 8)
	}

	return numCPU
}
