package nn

import (
	"github.com/chewxy/math32"
)

// Logits beyond this magnitude saturate the sigmoid anyway, and exp() of a
// large float overflows to +Inf, so we clip before exponentiating.
const sigmoidClip = 250

// Sigmoid is a numerically stable logistic function.
// Output is strictly inside (0,1) for any input, including ±Inf.
func Sigmoid(x float32) float32 {
	if x > sigmoidClip {
		x = sigmoidClip
	} else if x < -sigmoidClip {
		x = -sigmoidClip
	}
	return 1 / (1 + math32.Exp(-x))
}

func Clamp(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// IsFinite returns true if v is neither NaN nor ±Inf
func IsFinite(v float32) bool {
	return !math32.IsNaN(v) && !math32.IsInf(v, 0)
}
