package infer

import "math"

// sigmoid is the numerically stable logistic: the exponential argument
// is never positive, so large magnitudes cannot overflow.
func sigmoid(x float32) float32 {
	if x >= 0 {
		z := float32(math.Exp(float64(-x)))
		return 1 / (1 + z)
	}
	z := float32(math.Exp(float64(x)))
	return z / (1 + z)
}

func tanh32(x float32) float32 {
	return float32(math.Tanh(float64(x)))
}
