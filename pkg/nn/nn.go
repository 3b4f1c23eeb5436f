package nn

import (
	"bufio"
	"os"
	"strings"
)

// Package nn is the data model shared by the inference decoders:
// detections, segmentations, decode parameters and robustness profiles.
// The decoding itself lives in nn/decode.

const DefaultConfidenceThreshold = 0.55
const DefaultNmsIouThreshold = 0.35
const DefaultMaxDetections = 30

// Boxes smaller than this many pixels are considered numerical noise
// (eg a one pixel sliver produced by a degenerate anchor).
const DefaultMinBoxArea = 100

// Parameters of a single decode pass
type DetectionParams struct {
	ConfidenceThreshold float32 // Value between 0 and 1. Lower values will find more objects.
	NmsIouThreshold     float32 // Value between 0 and 1. Lower values will merge more objects together into one.
	MaxDetections       int     // Keep at most this many detections, highest confidence first
	MinBoxArea          int     // Reject boxes smaller than this many pixels
}

// Create a default DetectionParams object
func NewDetectionParams() *DetectionParams {
	return &DetectionParams{
		ConfidenceThreshold: DefaultConfidenceThreshold,
		NmsIouThreshold:     DefaultNmsIouThreshold,
		MaxDetections:       DefaultMaxDetections,
		MinBoxArea:          DefaultMinBoxArea,
	}
}

// RobustnessProfile is a named (confidence, IoU) preset, tuned for a given
// lighting/noise condition on the inspection line.
type RobustnessProfile struct {
	Name                string  `json:"name"`
	ConfidenceThreshold float32 `json:"confidenceThreshold"`
	NmsIouThreshold     float32 `json:"nmsIouThreshold"`
	Description         string  `json:"description"`
}

var (
	ProfileOriginal        = RobustnessProfile{"original", 0.55, 0.35, "High precision (factory default)"}
	ProfileModerate        = RobustnessProfile{"moderate", 0.3, 0.2, "Better recall under difficult conditions"}
	ProfilePermissive      = RobustnessProfile{"permissive", 0.1, 0.1, "Very difficult conditions"}
	ProfileUltraPermissive = RobustnessProfile{"ultra-permissive", 0.01, 0.01, "Extreme conditions (debugging)"}
)

// ProfileByName returns the named robustness profile.
// Unknown names return the default (original) profile and false.
func ProfileByName(name string) (RobustnessProfile, bool) {
	switch name {
	case ProfileOriginal.Name:
		return ProfileOriginal, true
	case ProfileModerate.Name:
		return ProfileModerate, true
	case ProfilePermissive.Name:
		return ProfilePermissive, true
	case ProfileUltraPermissive.Name:
		return ProfileUltraPermissive, true
	}
	return ProfileOriginal, false
}

// Apply copies the profile's thresholds onto params
func (p RobustnessProfile) Apply(params *DetectionParams) {
	params.ConfidenceThreshold = p.ConfidenceThreshold
	params.NmsIouThreshold = p.NmsIouThreshold
}

// Detection is one object that a model found in an image.
// All coordinates are in image pixel space.
type Detection struct {
	Class      int     `json:"class"`
	ClassName  string  `json:"className"`
	Confidence float32 `json:"confidence"`
	Box        Rect    `json:"box"`
	Centroid   Point   `json:"centroid"`
	Area       int     `json:"area"` // Box.Area(), precomputed for serialization
}

// Segmentation is a Detection plus a reconstructed instance mask.
// Mask is nil when the model did not emit prototype tensors (bbox-only mode);
// consumers must treat it as optional.
type Segmentation struct {
	Detection
	Mask        *Mask     `json:"-"`
	MaskArea    int       `json:"maskArea"`
	MaskWidth   int       `json:"maskWidth"`  // bounding extent of active mask pixels,
	MaskHeight  int       `json:"maskHeight"` // which can legitimately differ from Box
	MaskCoeffs  []float32 `json:"maskCoefficients,omitempty"`
	Fused       bool      `json:"fused"`
	MergedCount int       `json:"mergedCount"` // >= 1. Number of raw instances this record represents.
}

// Load a text file with class names on each line
func LoadClassFile(filename string) ([]string, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	classes := []string{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			classes = append(classes, line)
		}
	}
	return classes, nil
}
