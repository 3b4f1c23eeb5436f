package nn

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func fillRect(m *Mask, r Rect, v float32) {
	for y := r.Y; y < r.Y2(); y++ {
		for x := r.X; x < r.X2(); x++ {
			m.Set(x, y, v)
		}
	}
}

func TestMaskArea(t *testing.T) {
	m := NewMask(20, 20)
	require.Equal(t, 0, m.Area())
	fillRect(m, Rect{X: 2, Y: 3, Width: 4, Height: 5}, 0.9)
	require.Equal(t, 20, m.Area())
	// Values at the binarization threshold do not count
	m.Set(0, 0, 0.5)
	require.Equal(t, 20, m.Area())
}

func TestMaskActiveBounds(t *testing.T) {
	m := NewMask(30, 30)
	require.Equal(t, Rect{}, m.ActiveBounds())
	fillRect(m, Rect{X: 5, Y: 10, Width: 6, Height: 3}, 1)
	require.Equal(t, Rect{X: 5, Y: 10, Width: 6, Height: 3}, m.ActiveBounds())
}

func TestMaskOverlap(t *testing.T) {
	a := NewMask(10, 10)
	b := NewMask(10, 10)
	fillRect(a, Rect{X: 0, Y: 0, Width: 4, Height: 4}, 1)
	fillRect(b, Rect{X: 2, Y: 0, Width: 4, Height: 4}, 1)
	// Intersection 8, union 24
	require.InDelta(t, 8.0/24.0, a.Overlap(b), 1e-6)

	// Size mismatch is defined as zero overlap
	require.Equal(t, float32(0), a.Overlap(NewMask(5, 5)))
}

func TestMaskOr(t *testing.T) {
	a := NewMask(10, 10)
	b := NewMask(10, 10)
	fillRect(a, Rect{X: 0, Y: 0, Width: 3, Height: 3}, 0.8)
	fillRect(b, Rect{X: 5, Y: 5, Width: 3, Height: 3}, 0.7)
	a.Or(b)
	require.Equal(t, 18, a.Area())
	require.Equal(t, float32(1), a.At(0, 0))
	require.Equal(t, float32(1), a.At(6, 6))
	require.Equal(t, float32(0), a.At(4, 4))
}
