package common

import (
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"
)

// Basic numeric helpers shared by the analysis stages, backed by gonum where it has one

// Max returns the largest value of a slice, 0 for an empty slice
func Max(data []float64) float64 {
	if len(data) == 0 {
		return 0.0
	}
	return floats.Max(data)
}

// Sum returns the sum of a slice
func Sum(data []float64) float64 {
	return floats.Sum(data)
}

// IsConstant reports whether every element equals the first one.
// Empty and single-element slices are constant.
func IsConstant(data []float64) bool {
	if len(data) < 2 {
		return true
	}
	return floats.Min(data) == floats.Max(data)
}

// PowerToDB converts power values to decibels relative to ref.
// Values below amin are clamped to amin to keep the logarithm finite.
func PowerToDB(power, ref, amin float64) float64 {
	return 10.0*math.Log10(math.Max(amin, power)) - 10.0*math.Log10(math.Max(amin, ref))
}

// Median returns the median of window. The slice is reordered in place.
func Median(window []float64) float64 {
	n := len(window)
	if n == 0 {
		return 0.0
	}

	slices.Sort(window)

	mid := n / 2
	if n%2 == 0 {
		return (window[mid-1] + window[mid]) / 2.0
	}
	return window[mid]
}

// ReflectIndex maps an out-of-range index back into [0, n) by mirroring
// about the edges, repeating the edge sample (d c b a | a b c d | d c b a).
func ReflectIndex(i, n int) int {
	if n <= 1 {
		return 0
	}

	period := 2 * n
	i %= period
	if i < 0 {
		i += period
	}
	if i >= n {
		i = period - 1 - i
	}
	return i
}

// Clamp restricts value to [min, max]
func Clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

// NextPowerOfTwo finds the next power of 2 >= n
func NextPowerOfTwo(n int) int {
	if n <= 0 {
		return 1
	}

	power := 1
	for power < n {
		power <<= 1
	}
	return power
}
