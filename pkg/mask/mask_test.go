package mask

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coplescan/coplescan/pkg/nn"
)

func solidRect(w, h int, r nn.Rect) *nn.Mask {
	m := nn.NewMask(w, h)
	for y := r.Y; y < r.Y2(); y++ {
		for x := r.X; x < r.X2(); x++ {
			m.Set(x, y, 1)
		}
	}
	return m
}

func TestResizeBilinear(t *testing.T) {
	m := nn.NewMask(2, 2)
	m.Set(0, 0, 1)
	m.Set(1, 0, 1)
	m.Set(0, 1, 1)
	m.Set(1, 1, 1)

	up := ResizeBilinear(m, 8, 8)
	require.Equal(t, 8, up.Width)
	require.Equal(t, 8, up.Height)
	// Upsampling a constant plane stays constant
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			require.InDelta(t, 1.0, up.At(x, y), 1e-4)
		}
	}
}

func TestStats(t *testing.T) {
	box := nn.Rect{X: 20, Y: 30, Width: 40, Height: 20}
	m := solidRect(100, 100, box)

	s, ok := Stats(m)
	require.True(t, ok)
	// Contour measures on a pixel grid are approximate; stay within a pixel
	require.InDelta(t, float64(box.Area()), s.Area, float64(box.Width+box.Height+1))
	require.Equal(t, box.X, s.Box.X)
	require.Equal(t, box.Y, s.Box.Y)
	require.InDelta(t, float64(box.Center().X), float64(s.Centroid.X), 1.5)
	require.InDelta(t, float64(box.Center().Y), float64(s.Centroid.Y), 1.5)
	require.Greater(t, s.Perimeter, 0.0)
	// A rectangle is less compact than a circle but far from degenerate
	require.Greater(t, s.Compactness, 0.3)
	require.LessOrEqual(t, s.Compactness, 1.1)
}

func TestStatsEmpty(t *testing.T) {
	m := nn.NewMask(50, 50)
	_, ok := Stats(m)
	require.False(t, ok)
}

func TestCloseEllipseFillsGaps(t *testing.T) {
	// Two rects separated by a 1px slit become one region after closing
	m := solidRect(60, 60, nn.Rect{X: 10, Y: 10, Width: 15, Height: 20})
	right := solidRect(60, 60, nn.Rect{X: 26, Y: 10, Width: 15, Height: 20})
	m.Or(right)
	require.InDelta(t, 0, m.At(25, 15), 1e-4)

	closed := CloseEllipse(m, 3)
	require.InDelta(t, 1, closed.At(25, 15), 1e-4)
	// Closing never erodes the original area
	require.GreaterOrEqual(t, closed.Area(), m.Area())
}
