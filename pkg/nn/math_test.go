package nn

import (
	"testing"

	"github.com/chewxy/math32"
	"github.com/stretchr/testify/require"
)

func TestSigmoidStable(t *testing.T) {
	// Extreme logits must not overflow to NaN/Inf
	for _, x := range []float32{-1e10, -1e4, -250, -10, 0, 10, 250, 1e4, 1e10} {
		y := Sigmoid(x)
		require.False(t, math32.IsNaN(y), "Sigmoid(%v) is NaN", x)
		require.False(t, math32.IsInf(y, 0), "Sigmoid(%v) is Inf", x)
		require.GreaterOrEqual(t, y, float32(0))
		require.LessOrEqual(t, y, float32(1))
	}
	require.Equal(t, float32(0.5), Sigmoid(0))
	require.InDelta(t, 1.0, Sigmoid(1e10), 1e-6)
	require.InDelta(t, 0.0, Sigmoid(-1e10), 1e-6)
}

func TestSigmoidMonotonic(t *testing.T) {
	prev := Sigmoid(-300)
	for x := float32(-300); x <= 300; x += 7 {
		y := Sigmoid(x)
		require.GreaterOrEqual(t, y, prev)
		prev = y
	}
}

func TestClamp(t *testing.T) {
	require.Equal(t, float32(3), Clamp(5, 0, 3))
	require.Equal(t, float32(0), Clamp(-5, 0, 3))
	require.Equal(t, float32(2), Clamp(2, 0, 3))
}

func TestIsFinite(t *testing.T) {
	require.True(t, IsFinite(0))
	require.True(t, IsFinite(-123.5))
	require.False(t, IsFinite(math32.NaN()))
	require.False(t, IsFinite(math32.Inf(1)))
	require.False(t, IsFinite(math32.Inf(-1)))
}
