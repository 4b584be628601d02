package common

// InterpolationType defines interpolation method
type InterpolationType int

const (
	Linear InterpolationType = iota
	Nearest
)

// Interpolator reads signals at fractional indices
type Interpolator struct {
	method InterpolationType
}

// NewInterpolator creates a new interpolator
func NewInterpolator(method InterpolationType) *Interpolator {
	return &Interpolator{
		method: method,
	}
}

// Interpolate performs interpolation at fractional index
func (interp *Interpolator) Interpolate(data []float64, index float64) float64 {
	switch interp.method {
	case Nearest:
		return interp.nearestInterpolate(data, index)
	default:
		return interp.linearInterpolate(data, index)
	}
}

// linearInterpolate performs linear interpolation
func (interp *Interpolator) linearInterpolate(data []float64, index float64) float64 {
	if len(data) == 0 {
		return 0.0
	}

	if index <= 0 {
		return data[0]
	}
	if index >= float64(len(data)-1) {
		return data[len(data)-1]
	}

	i := int(index)
	frac := index - float64(i)

	return data[i] + frac*(data[i+1]-data[i])
}

func (interp *Interpolator) nearestInterpolate(data []float64, index float64) float64 {
	if len(data) == 0 {
		return 0.0
	}

	i := int(index + 0.5)
	if i < 0 {
		i = 0
	}
	if i >= len(data) {
		i = len(data) - 1
	}
	return data[i]
}

// ResampleSignal resamples a signal to a new sample rate
func (interp *Interpolator) ResampleSignal(signal []float64, originalRate, targetRate int) []float64 {
	if len(signal) == 0 || originalRate <= 0 || targetRate <= 0 || originalRate == targetRate {
		return signal
	}

	ratio := float64(originalRate) / float64(targetRate)
	newLength := int(float64(len(signal)) / ratio)

	if newLength <= 0 {
		return []float64{}
	}

	resampled := make([]float64, newLength)

	for i := range resampled {
		sourceIndex := float64(i) * ratio
		resampled[i] = interp.Interpolate(signal, sourceIndex)
	}

	return resampled
}
