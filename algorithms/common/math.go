package common

import (
	"math"
)

// Basic numeric helpers shared by the analysis stages

// IsSilent reports whether every sample is within eps of zero
func IsSilent(data []float64, eps float64) bool {
	for _, v := range data {
		if math.Abs(v) > eps {
			return false
		}
	}
	return true
}

// ParabolicPeak fits a parabola through three equally spaced samples around a
// local maximum at the center sample. It returns the offset of the vertex from
// the center (in [-0.5, 0.5] for a true local maximum) and the interpolated height.
func ParabolicPeak(left, center, right float64) (offset float64, height float64) {
	denom := left - 2*center + right
	if denom >= 0 {
		// Flat or not concave: keep the sample itself
		return 0.0, center
	}

	offset = 0.5 * (left - right) / denom
	offset = Clamp(offset, -0.5, 0.5)
	height = center - 0.25*(left-right)*offset
	return offset, height
}

// Clamp constrains value to [min, max]
func Clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

// IsPowerOfTwo checks if n is a power of 2
func IsPowerOfTwo(n int) bool {
	return n > 0 && (n&(n-1)) == 0
}

// NextPowerOfTwo returns the next power of 2 >= n
func NextPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}
	if IsPowerOfTwo(n) {
		return n
	}
	power := 1
	for power < n {
		power <<= 1
	}
	return power
}
