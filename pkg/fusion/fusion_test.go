package fusion

import (
	"testing"

	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"

	"github.com/coplescan/coplescan/pkg/nn"
)

// rectSeg builds a segmentation whose mask is a solid rectangle in a
// 200x200 plane
func rectSeg(r nn.Rect, confidence float32) nn.Segmentation {
	m := nn.NewMask(200, 200)
	for y := r.Y; y < r.Y2(); y++ {
		for x := r.X; x < r.X2(); x++ {
			m.Set(x, y, 1)
		}
	}
	return nn.Segmentation{
		Detection: nn.Detection{
			ClassName:  "Defecto",
			Confidence: confidence,
			Box:        r,
			Centroid:   r.Center(),
			Area:       r.Area(),
		},
		Mask:     m,
		MaskArea: r.Area(),
	}
}

func mergedCountSum(segs []nn.Segmentation) int {
	sum := 0
	for _, s := range segs {
		sum += s.MergedCount
	}
	return sum
}

func TestFuseTouchingPair(t *testing.T) {
	log := logs.NewTestingLog(t)
	// Two overlapping rectangles: one physical object split in two
	input := []nn.Segmentation{
		rectSeg(nn.Rect{X: 50, Y: 50, Width: 40, Height: 40}, 0.8),
		rectSeg(nn.Rect{X: 70, Y: 50, Width: 40, Height: 40}, 0.6),
	}
	out := Fuse(log, input, nil)
	require.Len(t, out, 1)

	f := out[0]
	require.True(t, f.Fused)
	require.Equal(t, 2, f.MergedCount)
	require.InDelta(t, 0.7, f.Confidence, 1e-6)
	// Geometry is rebuilt from the union
	require.Equal(t, nn.Rect{X: 50, Y: 50, Width: 60, Height: 40}, f.Box)
	require.InDelta(t, 2400, f.MaskArea, 200)
	require.InDelta(t, 80, f.Centroid.X, 2)
	require.InDelta(t, 70, f.Centroid.Y, 2)
}

func TestFuseLeavesDistinctObjects(t *testing.T) {
	log := logs.NewTestingLog(t)
	input := []nn.Segmentation{
		rectSeg(nn.Rect{X: 10, Y: 10, Width: 30, Height: 30}, 0.9),
		rectSeg(nn.Rect{X: 150, Y: 150, Width: 30, Height: 30}, 0.7),
	}
	out := Fuse(log, input, nil)
	require.Len(t, out, 2)
	for _, s := range out {
		require.False(t, s.Fused)
		require.Equal(t, 1, s.MergedCount)
	}
}

func TestFuseOverlapRequired(t *testing.T) {
	log := logs.NewTestingLog(t)
	// Close but disjoint: centroid distance is under the limit, but with no
	// mask overlap they stay separate
	input := []nn.Segmentation{
		rectSeg(nn.Rect{X: 50, Y: 50, Width: 20, Height: 20}, 0.8),
		rectSeg(nn.Rect{X: 75, Y: 50, Width: 20, Height: 20}, 0.8),
	}
	out := Fuse(log, input, nil)
	require.Len(t, out, 2)
}

func TestFuseTransitiveGroup(t *testing.T) {
	log := logs.NewTestingLog(t)
	// Three instances in a chain, all overlapping the seed
	input := []nn.Segmentation{
		rectSeg(nn.Rect{X: 50, Y: 50, Width: 60, Height: 40}, 0.9),
		rectSeg(nn.Rect{X: 70, Y: 50, Width: 40, Height: 40}, 0.6),
		rectSeg(nn.Rect{X: 60, Y: 60, Width: 40, Height: 40}, 0.3),
	}
	out := Fuse(log, input, nil)
	require.Len(t, out, 1)
	require.Equal(t, 3, out[0].MergedCount)
	require.InDelta(t, 0.6, out[0].Confidence, 1e-6)
}

func TestFuseMergedCountConservation(t *testing.T) {
	log := logs.NewTestingLog(t)
	input := []nn.Segmentation{
		rectSeg(nn.Rect{X: 50, Y: 50, Width: 40, Height: 40}, 0.8),
		rectSeg(nn.Rect{X: 70, Y: 50, Width: 40, Height: 40}, 0.6),
		rectSeg(nn.Rect{X: 150, Y: 150, Width: 30, Height: 30}, 0.7),
	}
	out := Fuse(log, input, nil)
	require.Equal(t, len(input), mergedCountSum(out))
}

func TestFuseIdempotent(t *testing.T) {
	log := logs.NewTestingLog(t)
	input := []nn.Segmentation{
		rectSeg(nn.Rect{X: 50, Y: 50, Width: 40, Height: 40}, 0.8),
		rectSeg(nn.Rect{X: 70, Y: 50, Width: 40, Height: 40}, 0.6),
	}
	once := Fuse(log, input, nil)
	twice := Fuse(log, once, nil)
	require.Len(t, twice, 1)
	require.Equal(t, once[0].MergedCount, twice[0].MergedCount)
	require.Equal(t, once[0].Box, twice[0].Box)
	require.Equal(t, len(input), mergedCountSum(twice))
}

func TestFuseMasklessPassThrough(t *testing.T) {
	log := logs.NewTestingLog(t)
	boxOnly := nn.Segmentation{
		Detection: nn.Detection{ClassName: "Defecto", Confidence: 0.9, Box: nn.Rect{X: 55, Y: 55, Width: 30, Height: 30}},
	}
	input := []nn.Segmentation{
		rectSeg(nn.Rect{X: 50, Y: 50, Width: 40, Height: 40}, 0.8),
		boxOnly,
	}
	out := Fuse(log, input, nil)
	require.Len(t, out, 2)
	require.Equal(t, len(input), mergedCountSum(out))
}

func TestFuseEmptyAndSingle(t *testing.T) {
	log := logs.NewTestingLog(t)
	require.Empty(t, Fuse(log, nil, nil))

	single := []nn.Segmentation{rectSeg(nn.Rect{X: 50, Y: 50, Width: 40, Height: 40}, 0.8)}
	out := Fuse(log, single, nil)
	require.Len(t, out, 1)
	require.False(t, out[0].Fused)
}
