// Package adaptive computes detection thresholds that track the imaging
// conditions of the line. Fixed thresholds tuned under lab lighting reject
// real parts the moment the lighting drifts; the engine loosens or tightens
// the thresholds from measured brightness/contrast and from recent detection
// yield.
package adaptive

import (
	"sync"

	"github.com/bmharper/ringbuffer"
	"github.com/chewxy/math32"
	"github.com/cyclopcam/logs"

	"github.com/coplescan/coplescan/pkg/nn"
)

// Thresholds is one consistent set of filter values for a single frame
type Thresholds struct {
	Confidence       float32 `json:"confidence"`       // minimum detection confidence
	MinMaskArea      float32 `json:"minMaskArea"`      // px
	MinCoverage      float32 `json:"minCoverage"`      // maskArea / boxArea
	BrightnessFactor float32 `json:"brightnessFactor"` // diagnostic: factor applied for brightness
	ContrastFactor   float32 `json:"contrastFactor"`   // diagnostic: factor applied for contrast
}

// Options holds the base thresholds and the clamp ranges. The zero value is
// not usable; start from DefaultOptions.
type Options struct {
	BaseConfidence float32
	BaseMinArea    float32
	BaseCoverage   float32

	ConfidenceMin float32
	ConfidenceMax float32
	AreaMin       float32
	AreaMax       float32
	CoverageMin   float32
	CoverageMax   float32

	// ExpectedDetections is how many objects a good frame of this station
	// normally yields
	ExpectedDetections int

	IlluminationWindow int // samples of brightness/contrast history
	DetectionWindow    int // samples of detection yield history
}

func DefaultOptions() *Options {
	return &Options{
		BaseConfidence:     0.5,
		BaseMinArea:        500,
		BaseCoverage:       0.1,
		ConfidenceMin:      0.1,
		ConfidenceMax:      0.8,
		AreaMin:            100,
		AreaMax:            2000,
		CoverageMin:        0.02,
		CoverageMax:        0.3,
		ExpectedDetections: 1,
		IlluminationWindow: 20,
		DetectionWindow:    50,
	}
}

type illuminationSample struct {
	brightness float32
	contrast   float32
}

type detectionSample struct {
	count          int
	meanConfidence float32
	meanMaskArea   float32
}

// Engine owns the rolling history windows. One engine per camera. The lock
// allows diagnostics to read the history while the analysis loop feeds it.
type Engine struct {
	log  logs.Log
	opts Options

	lock         sync.Mutex
	illumination ringbuffer.RingP[illuminationSample]
	detections   ringbuffer.RingP[detectionSample]
}

func NewEngine(log logs.Log, opts *Options) *Engine {
	if opts == nil {
		opts = DefaultOptions()
	}
	// The ring wants a power-of-2 capacity, so we allocate the next one up
	// and cap reads at the configured window size
	return &Engine{
		log:          log,
		opts:         *opts,
		illumination: ringbuffer.NewRingP[illuminationSample](nextPowerOf2(opts.IlluminationWindow)),
		detections:   ringbuffer.NewRingP[detectionSample](nextPowerOf2(opts.DetectionWindow)),
	}
}

func nextPowerOf2(v int) int {
	n := 1
	for n < v {
		n *= 2
	}
	return n
}

// window returns how many of the newest samples in r fall inside the
// configured window size
func window[T any](r *ringbuffer.RingP[T], size int) int {
	n := r.Len()
	if n > size {
		n = size
	}
	return n
}

// peekNewest returns the i'th newest sample inside the window, i=0 being the
// oldest of the window
func peekNewest[T any](r *ringbuffer.RingP[T], size, i int) T {
	n := window(r, size)
	return r.Peek(r.Len() - n + i)
}

// Base returns the unadjusted thresholds
func (e *Engine) Base() Thresholds {
	return Thresholds{
		Confidence:       e.opts.BaseConfidence,
		MinMaskArea:      e.opts.BaseMinArea,
		MinCoverage:      e.opts.BaseCoverage,
		BrightnessFactor: 1,
		ContrastFactor:   1,
	}
}

// FromIllumination derives thresholds from the frame's measured brightness
// and contrast, and records the sample in the illumination window. Dark or
// flat frames lower the thresholds so genuine parts are not rejected; bright
// or harsh frames raise them to suppress glare artifacts.
func (e *Engine) FromIllumination(brightness, contrast float32) Thresholds {
	e.lock.Lock()
	defer e.lock.Unlock()
	return e.fromIllumination(brightness, contrast)
}

func (e *Engine) fromIllumination(brightness, contrast float32) Thresholds {
	e.illumination.Add(illuminationSample{brightness: brightness, contrast: contrast})

	bf := brightnessFactor(brightness)
	cf := contrastFactor(contrast)
	t := Thresholds{
		Confidence:       e.opts.BaseConfidence * bf * cf,
		MinMaskArea:      e.opts.BaseMinArea * bf,
		MinCoverage:      e.opts.BaseCoverage * cf,
		BrightnessFactor: bf,
		ContrastFactor:   cf,
	}
	e.clamp(&t)
	return t
}

// FromPerformance derives thresholds from detection yield: if the current
// frame found fewer objects than expected, loosen; if it found far more,
// tighten. With no detection history yet there is nothing to judge against,
// so the base thresholds come back unchanged.
func (e *Engine) FromPerformance(currentDetections int) Thresholds {
	e.lock.Lock()
	defer e.lock.Unlock()
	return e.fromPerformance(currentDetections)
}

func (e *Engine) fromPerformance(currentDetections int) Thresholds {
	t := e.Base()
	if e.detections.Len() == 0 {
		return t
	}

	factor := float32(1.0)
	if currentDetections < e.opts.ExpectedDetections {
		factor = 0.9
	} else if currentDetections > e.opts.ExpectedDetections*2 {
		factor = 1.1
	}
	t.Confidence *= factor
	t.MinMaskArea *= factor
	t.MinCoverage *= factor
	e.clamp(&t)
	return t
}

// Hybrid combines the illumination and performance signals by simple
// averaging. This is the set the analysis loop actually applies per frame.
func (e *Engine) Hybrid(brightness, contrast float32, currentDetections int) Thresholds {
	e.lock.Lock()
	defer e.lock.Unlock()
	illum := e.fromIllumination(brightness, contrast)
	perf := e.fromPerformance(currentDetections)
	t := Thresholds{
		Confidence:       (illum.Confidence + perf.Confidence) / 2,
		MinMaskArea:      (illum.MinMaskArea + perf.MinMaskArea) / 2,
		MinCoverage:      (illum.MinCoverage + perf.MinCoverage) / 2,
		BrightnessFactor: illum.BrightnessFactor,
		ContrastFactor:   illum.ContrastFactor,
	}
	e.clamp(&t)
	return t
}

// RecordDetections feeds a frame's accepted segmentations into the yield
// window. Empty frames are not recorded: an empty frame is as likely a true
// negative as a thresholding failure, and recording it would teach the engine
// that zero is normal.
func (e *Engine) RecordDetections(segmentations []nn.Segmentation) {
	if len(segmentations) == 0 {
		return
	}
	e.lock.Lock()
	defer e.lock.Unlock()
	confidenceSum := float32(0)
	areaSum := float32(0)
	for _, s := range segmentations {
		confidenceSum += s.Confidence
		areaSum += float32(s.MaskArea)
	}
	n := float32(len(segmentations))
	e.detections.Add(detectionSample{
		count:          len(segmentations),
		meanConfidence: confidenceSum / n,
		meanMaskArea:   areaSum / n,
	})
}

// Stats summarizes the history windows for diagnostics
type Stats struct {
	IlluminationSamples int     `json:"illuminationSamples"`
	DetectionSamples    int     `json:"detectionSamples"`
	BrightnessMean      float32 `json:"brightnessMean"`
	BrightnessStdDev    float32 `json:"brightnessStdDev"`
	ContrastMean        float32 `json:"contrastMean"`
	ContrastStdDev      float32 `json:"contrastStdDev"`
	DetectionCountMean  float32 `json:"detectionCountMean"`
	ConfidenceMean      float32 `json:"confidenceMean"`
	MaskAreaMean        float32 `json:"maskAreaMean"`
}

func (e *Engine) Stats() Stats {
	e.lock.Lock()
	defer e.lock.Unlock()
	s := Stats{
		IlluminationSamples: window(&e.illumination, e.opts.IlluminationWindow),
		DetectionSamples:    window(&e.detections, e.opts.DetectionWindow),
	}
	if n := s.IlluminationSamples; n > 0 {
		brightness := make([]float32, n)
		contrast := make([]float32, n)
		for i := 0; i < n; i++ {
			sample := peekNewest(&e.illumination, e.opts.IlluminationWindow, i)
			brightness[i] = sample.brightness
			contrast[i] = sample.contrast
		}
		s.BrightnessMean, s.BrightnessStdDev = meanStd(brightness)
		s.ContrastMean, s.ContrastStdDev = meanStd(contrast)
	}
	if n := s.DetectionSamples; n > 0 {
		counts := float32(0)
		confidence := float32(0)
		area := float32(0)
		for i := 0; i < n; i++ {
			sample := peekNewest(&e.detections, e.opts.DetectionWindow, i)
			counts += float32(sample.count)
			confidence += sample.meanConfidence
			area += sample.meanMaskArea
		}
		s.DetectionCountMean = counts / float32(n)
		s.ConfidenceMean = confidence / float32(n)
		s.MaskAreaMean = area / float32(n)
	}
	return s
}

func (e *Engine) clamp(t *Thresholds) {
	t.Confidence = nn.Clamp(t.Confidence, e.opts.ConfidenceMin, e.opts.ConfidenceMax)
	t.MinMaskArea = nn.Clamp(t.MinMaskArea, e.opts.AreaMin, e.opts.AreaMax)
	t.MinCoverage = nn.Clamp(t.MinCoverage, e.opts.CoverageMin, e.opts.CoverageMax)
}

func brightnessFactor(brightness float32) float32 {
	switch {
	case brightness < 80:
		return 0.5
	case brightness > 180:
		return 1.3
	case brightness < 100:
		return 0.6
	default:
		return 1.0
	}
}

func contrastFactor(contrast float32) float32 {
	switch {
	case contrast < 20:
		return 0.5
	case contrast < 30:
		return 0.7
	case contrast > 80:
		return 1.2
	default:
		return 1.0
	}
}

func meanStd(values []float32) (mean, std float32) {
	for _, v := range values {
		mean += v
	}
	mean /= float32(len(values))
	for _, v := range values {
		std += (v - mean) * (v - mean)
	}
	std = math32.Sqrt(std / float32(len(values)))
	return
}
