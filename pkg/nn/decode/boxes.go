package decode

import (
	"github.com/coplescan/coplescan/pkg/nn"
)

// Package decode turns raw YOLO-style output tensors into validated
// detections and segmentations. The decoders are pure functions: no state is
// carried between calls, and identical input produces identical output.

// ModelInputSize is the edge length of the square model input plane.
// All our inspection models are exported at 640x640.
const ModelInputSize = 640

// boxCandidate is one anchor that survived the confidence filter.
// Coordinates are center-form in model input space until decodeBox converts
// them.
type boxCandidate struct {
	cx, cy, w, h float32
	confidence   float32
	class        int
	coeffs       []float32 // mask coefficients, nil for box-only models
	index        int       // original anchor index, for deterministic ordering
}

// decodeBox converts a center-form candidate to a corner-form rectangle in
// image pixel space: scaled from model input space, then clamped to the image.
// Returns false if the clamped box has no positive extent, in which case the
// candidate must be dropped.
func decodeBox(c *boxCandidate, imageWidth, imageHeight int) (nn.Rect, bool) {
	scaleX := float32(imageWidth) / float32(ModelInputSize)
	scaleY := float32(imageHeight) / float32(ModelInputSize)

	x1 := (c.cx - c.w/2) * scaleX
	y1 := (c.cy - c.h/2) * scaleY
	x2 := (c.cx + c.w/2) * scaleX
	y2 := (c.cy + c.h/2) * scaleY

	x1 = nn.Clamp(x1, 0, float32(imageWidth-1))
	y1 = nn.Clamp(y1, 0, float32(imageHeight-1))
	x2 = nn.Clamp(x2, 0, float32(imageWidth-1))
	y2 = nn.Clamp(y2, 0, float32(imageHeight-1))

	r := nn.RectFromCorners(int(x1), int(y1), int(x2), int(y2))
	if r.Width <= 0 || r.Height <= 0 {
		return nn.Rect{}, false
	}
	return r, true
}

func isFiniteBox(cx, cy, w, h float32) bool {
	return nn.IsFinite(cx) && nn.IsFinite(cy) && nn.IsFinite(w) && nn.IsFinite(h)
}
