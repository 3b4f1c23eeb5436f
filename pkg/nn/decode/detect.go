package decode

import (
	"fmt"

	"github.com/coplescan/coplescan/pkg/nn"
)

// DetectionOptions describes the layout of a box-only detection tensor and
// how to label its classes.
type DetectionOptions struct {
	NumClasses    int      // >= 1
	ClassNames    []string // optional. Missing entries fall back to FallbackClass.
	FallbackClass string   // class name used when ClassNames is empty (eg "Cople")
	ImageWidth    int
	ImageHeight   int
}

func (o *DetectionOptions) className(class int) string {
	if class < len(o.ClassNames) {
		return o.ClassNames[class]
	}
	if o.FallbackClass != "" {
		return o.FallbackClass
	}
	return fmt.Sprintf("class_%v", class)
}

// Detections decodes a YOLO-style box-only output tensor of shape
// (4+NumClasses, A) into a validated, NMS-deduplicated detection list.
//
// Candidates with NaN/Inf coordinates or scores are silently dropped: they
// are expected noise from imperfect inference, not an error. A wrong tensor
// shape, on the other hand, is a hard error. An empty result is a valid,
// non-error outcome.
func Detections(raw *nn.Tensor, opts *DetectionOptions, params *nn.DetectionParams) ([]nn.Detection, error) {
	if opts.NumClasses < 1 {
		return nil, fmt.Errorf("DetectionOptions.NumClasses must be >= 1, got %v", opts.NumClasses)
	}
	channels := 4 + opts.NumClasses
	if err := raw.CheckShape(channels, -1); err != nil {
		return nil, err
	}
	candidates := gatherCandidates(raw, channels, opts.NumClasses, 0, params.ConfidenceThreshold)
	kept := suppressAndClip(candidates, opts.ImageWidth, opts.ImageHeight, params)

	detections := make([]nn.Detection, 0, len(kept))
	for _, k := range kept {
		detections = append(detections, makeDetection(k.cand, k.box, opts))
	}
	return detections, nil
}

type keptCandidate struct {
	cand *boxCandidate
	box  nn.Rect
}

// gatherCandidates walks the (channels, A) tensor column-wise, applies the
// stable sigmoid to class scores, and keeps anchors above the confidence
// threshold. For multi-class models the best class wins; single-class models
// read channel 4 directly. maskCoeffs > 0 additionally copies that many
// trailing channels per anchor (filtered in lockstep with the boxes from here
// on).
func gatherCandidates(raw *nn.Tensor, channels, numClasses, maskCoeffs int, confidenceMin float32) []*boxCandidate {
	anchors := raw.Dim(1)
	data := raw.Data
	at := func(ch, anchor int) float32 {
		return data[ch*anchors+anchor]
	}

	candidates := []*boxCandidate{}
	for i := 0; i < anchors; i++ {
		best := 0
		bestScore := at(4, i)
		for c := 1; c < numClasses; c++ {
			if s := at(4+c, i); s > bestScore {
				bestScore = s
				best = c
			}
		}
		if !nn.IsFinite(bestScore) {
			continue
		}
		confidence := nn.Sigmoid(bestScore)
		if confidence <= confidenceMin {
			continue
		}
		cx, cy, w, h := at(0, i), at(1, i), at(2, i), at(3, i)
		if !isFiniteBox(cx, cy, w, h) {
			continue
		}
		cand := &boxCandidate{
			cx: cx, cy: cy, w: w, h: h,
			confidence: confidence,
			class:      best,
			index:      i,
		}
		if maskCoeffs > 0 {
			cand.coeffs = make([]float32, maskCoeffs)
			for c := 0; c < maskCoeffs; c++ {
				cand.coeffs[c] = at(4+numClasses+c, i)
			}
		}
		candidates = append(candidates, cand)
	}
	return candidates
}

// suppressAndClip converts candidates to image-space boxes, runs NMS,
// truncates to MaxDetections and drops degenerate small boxes.
func suppressAndClip(candidates []*boxCandidate, imageWidth, imageHeight int, params *nn.DetectionParams) []keptCandidate {
	boxes := make([]nn.Rect, 0, len(candidates))
	scores := make([]float32, 0, len(candidates))
	valid := make([]*boxCandidate, 0, len(candidates))
	for _, c := range candidates {
		box, ok := decodeBox(c, imageWidth, imageHeight)
		if !ok {
			continue
		}
		boxes = append(boxes, box)
		scores = append(scores, c.confidence)
		valid = append(valid, c)
	}

	keep := nn.NonMaxSuppression(boxes, scores, params.NmsIouThreshold)
	if params.MaxDetections > 0 && len(keep) > params.MaxDetections {
		keep = keep[:params.MaxDetections]
	}

	kept := make([]keptCandidate, 0, len(keep))
	for _, i := range keep {
		if boxes[i].Area() < params.MinBoxArea {
			continue
		}
		kept = append(kept, keptCandidate{cand: valid[i], box: boxes[i]})
	}
	return kept
}

func makeDetection(c *boxCandidate, box nn.Rect, opts *DetectionOptions) nn.Detection {
	return nn.Detection{
		Class:      c.class,
		ClassName:  opts.className(c.class),
		Confidence: c.confidence,
		Box:        box,
		Centroid:   nn.Point{X: (box.X + box.X2()) / 2, Y: (box.Y + box.Y2()) / 2},
		Area:       box.Area(),
	}
}
