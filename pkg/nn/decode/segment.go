package decode

import (
	"fmt"

	"github.com/cyclopcam/logs"

	"github.com/coplescan/coplescan/pkg/mask"
	"github.com/coplescan/coplescan/pkg/nn"
)

// MaskCoefficients is the number of per-anchor mask coefficients our
// segmentation models emit, matching the channel count of the prototype
// tensor.
const MaskCoefficients = 32

// SegmentationOptions extends the detection layout with the mask quality
// gate. A zero gate value means "use the default"; pass a negative value to
// disable that check.
type SegmentationOptions struct {
	DetectionOptions
	MinMaskArea int     // masks smaller than this are rejected (default 100)
	MinCoverage float32 // min maskArea / boxArea ratio (default 0.1)
	MaxAspect   float32 // max mask aspect ratio, longer/shorter active extent (default 10)
}

func (o *SegmentationOptions) applyDefaults() {
	if o.MinMaskArea == 0 {
		o.MinMaskArea = 100
	}
	if o.MinCoverage == 0 {
		o.MinCoverage = 0.1
	}
	if o.MaxAspect == 0 {
		o.MaxAspect = 10
	}
}

// Segmentations decodes a YOLO-style segmentation output of shape
// (4+NumClasses+32, A) together with a prototype tensor of shape
// (32, Hm, Wm) into instance masks.
//
// Mask coefficients travel in lockstep with their boxes through the
// confidence filter and NMS, so the coefficients of a surviving detection are
// always the ones that were emitted for its anchor. If protos is nil the
// decoder degrades to box-only results (Mask stays nil), which keeps the line
// running when the model was exported without a prototype head.
func Segmentations(log logs.Log, raw, protos *nn.Tensor, opts *SegmentationOptions, params *nn.DetectionParams) ([]nn.Segmentation, error) {
	if opts.NumClasses < 1 {
		return nil, fmt.Errorf("SegmentationOptions.NumClasses must be >= 1, got %v", opts.NumClasses)
	}
	opts.applyDefaults()
	channels := 4 + opts.NumClasses + MaskCoefficients
	if err := raw.CheckShape(channels, -1); err != nil {
		return nil, err
	}
	if protos != nil {
		if err := protos.CheckShape(MaskCoefficients, -1, -1); err != nil {
			return nil, err
		}
	} else {
		log.Warnf("No mask prototypes in model output, degrading to box-only segmentation")
	}

	candidates := gatherCandidates(raw, channels, opts.NumClasses, MaskCoefficients, params.ConfidenceThreshold)
	kept := suppressAndClip(candidates, opts.ImageWidth, opts.ImageHeight, params)

	results := make([]nn.Segmentation, 0, len(kept))
	for _, k := range kept {
		seg := nn.Segmentation{
			Detection:  makeDetection(k.cand, k.box, &opts.DetectionOptions),
			MaskCoeffs: k.cand.coeffs,
		}
		if protos == nil {
			results = append(results, seg)
			continue
		}
		m := buildMask(k.cand.coeffs, protos, k.box, opts.ImageWidth, opts.ImageHeight)
		stats, ok := maskGate(m, k.box, opts)
		if !ok {
			continue
		}
		seg.Mask = m
		seg.MaskArea = stats.area
		seg.MaskWidth = stats.bounds.Width
		seg.MaskHeight = stats.bounds.Height
		seg.Centroid = stats.centroid
		results = append(results, seg)
	}
	return results, nil
}

// buildMask reconstructs one instance mask: linear combination of the
// prototype planes weighted by the anchor's coefficients, stable sigmoid,
// bilinear upsample to image size, then cropped to the detection box.
// The plane keeps its continuous values inside the box; only area and
// geometry use the binarized form.
func buildMask(coeffs []float32, protos *nn.Tensor, box nn.Rect, imageWidth, imageHeight int) *nn.Mask {
	protoH := protos.Dim(1)
	protoW := protos.Dim(2)
	planeSize := protoH * protoW

	low := nn.NewMask(protoW, protoH)
	for c, w := range coeffs {
		plane := protos.Data[c*planeSize : (c+1)*planeSize]
		for i, v := range plane {
			low.Pix[i] += w * v
		}
	}
	for i, v := range low.Pix {
		low.Pix[i] = nn.Sigmoid(v)
	}

	full := mask.ResizeBilinear(low, imageWidth, imageHeight)

	// Zero everything outside the detection box
	x2, y2 := box.X2(), box.Y2()
	for y := 0; y < full.Height; y++ {
		row := full.Pix[y*full.Width : (y+1)*full.Width]
		if y < box.Y || y >= y2 {
			for x := range row {
				row[x] = 0
			}
			continue
		}
		for x := 0; x < box.X && x < full.Width; x++ {
			row[x] = 0
		}
		for x := x2; x < full.Width; x++ {
			row[x] = 0
		}
	}
	return full
}

type maskStats struct {
	area     int
	bounds   nn.Rect
	centroid nn.Point
}

// maskGate applies the quality gate: minimum active area, minimum coverage of
// the detection box, and maximum aspect ratio of the mask's active extents.
// The aspect check deliberately measures the mask, not the box: a compact mask
// inside an elongated box is a real object with a sloppy box, while a sliver
// mask inside a square box is reconstruction noise. Failing any check rejects
// the detection entirely, since a detection whose mask is garbage is usually
// garbage itself.
func maskGate(m *nn.Mask, box nn.Rect, opts *SegmentationOptions) (maskStats, bool) {
	area := m.Area()
	if opts.MinMaskArea > 0 && area < opts.MinMaskArea {
		return maskStats{}, false
	}
	boxArea := box.Area()
	if opts.MinCoverage > 0 && boxArea > 0 {
		if float32(area)/float32(boxArea) < opts.MinCoverage {
			return maskStats{}, false
		}
	}
	bounds := m.ActiveBounds()
	if opts.MaxAspect > 0 {
		longer, shorter := bounds.Width, bounds.Height
		if shorter > longer {
			longer, shorter = shorter, longer
		}
		if shorter < 1 {
			shorter = 1
		}
		if float32(longer)/float32(shorter) > opts.MaxAspect {
			return maskStats{}, false
		}
	}

	centroid := bounds.Center()
	if stats, ok := mask.Stats(m); ok {
		centroid = stats.Centroid
	}
	return maskStats{area: area, bounds: bounds, centroid: centroid}, true
}
