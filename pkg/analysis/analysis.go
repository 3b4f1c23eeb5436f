// Package analysis runs the complete per-frame inspection sequence:
// lighting measurement, adaptive thresholding, the inference stages,
// decoding, and fusion of touching instances. One Analyzer serves one
// camera; each frame runs start to finish on the caller's goroutine.
package analysis

import (
	"image"
	"time"

	"github.com/cyclopcam/logs"
	"gocv.io/x/gocv"

	"github.com/coplescan/coplescan/pkg/adaptive"
	"github.com/coplescan/coplescan/pkg/fusion"
	"github.com/coplescan/coplescan/pkg/illum"
	"github.com/coplescan/coplescan/pkg/infer"
	"github.com/coplescan/coplescan/pkg/nn"
	"github.com/coplescan/coplescan/pkg/nn/decode"
	"github.com/coplescan/coplescan/pkg/perfstats"
)

// Stage names, matching the models a station can load
const (
	StageClassify       = "classify"
	StageDetectParts    = "detect-parts"
	StageDetectDefects  = "detect-defects"
	StageSegmentParts   = "segment-parts"
	StageSegmentDefects = "segment-defects"
)

// FallbackPartClass and FallbackDefectClass label detections when no class
// name file is available
const FallbackPartClass = "Cople"
const FallbackDefectClass = "Defecto"

// Options controls the analyzer's behavior across frames
type Options struct {
	// Profile is the fixed robustness profile name. Ignored when AutoProfile
	// is set.
	Profile string
	// AutoProfile picks the robustness profile per frame from the measured
	// lighting
	AutoProfile bool
	// Enhance preprocesses poorly lit frames before inference
	Enhance bool
	// PartClasses / DefectClasses are the model class name lists. Empty lists
	// fall back to the single-class station defaults.
	PartClasses   []string
	DefectClasses []string
	// Adaptive enables the adaptive threshold engine. When off, every frame
	// runs with the profile's fixed thresholds.
	Adaptive bool
	// ExpectedDetections is how many objects a good frame normally yields,
	// feeding the adaptive engine's performance adjustment. 0 means default.
	ExpectedDetections int
	// MaxDetections caps the per-stage detection count. 0 means default.
	MaxDetections int
	// Fusion overrides the fusion parameters. Nil means defaults.
	Fusion *fusion.Options
}

func DefaultOptions() *Options {
	return &Options{
		Profile:     nn.ProfileOriginal.Name,
		AutoProfile: false,
		Enhance:     true,
		Adaptive:    true,
	}
}

// Timing breaks down where a frame's time went
type Timing struct {
	Lighting  time.Duration `json:"lighting"`
	Inference time.Duration `json:"inference"`
	Decode    time.Duration `json:"decode"`
	Fusion    time.Duration `json:"fusion"`
	Total     time.Duration `json:"total"`
}

// Verdict is the classification stage's accept/reject call
type Verdict struct {
	Class      int     `json:"class"`
	ClassName  string  `json:"className"`
	Confidence float32 `json:"confidence"`
}

// FrameResult is everything the pipeline produced for one frame
type FrameResult struct {
	Lighting       illum.Metrics       `json:"lighting"`
	Condition      string              `json:"condition"`
	Profile        string              `json:"profile"`
	Thresholds     adaptive.Thresholds `json:"thresholds"`
	Verdict        *Verdict            `json:"verdict,omitempty"`
	Parts          []nn.Detection      `json:"parts"`
	Defects        []nn.Detection      `json:"defects"`
	PartSegments   []nn.Segmentation   `json:"partSegments"`
	DefectSegments []nn.Segmentation   `json:"defectSegments"`
	Timing         Timing              `json:"timing"`
}

// Analyzer holds the per-camera pipeline state
type Analyzer struct {
	log      logs.Log
	models   *infer.Engine
	adaptive *adaptive.Engine
	fusion   *fusion.Options
	opts     Options

	// detection yield of the previous frame, feeding the performance side of
	// the adaptive engine
	lastYield int

	// running averages since the pipeline was built
	perfLighting  perfstats.TimeAccumulator
	perfInference perfstats.TimeAccumulator
	perfDecode    perfstats.TimeAccumulator
	perfFusion    perfstats.TimeAccumulator
	perfTotal     perfstats.TimeAccumulator
}

// TimingStats is the mean per-frame time breakdown since the analyzer was
// created
type TimingStats struct {
	Frames    int64         `json:"frames"`
	Lighting  time.Duration `json:"lighting"`
	Inference time.Duration `json:"inference"`
	Decode    time.Duration `json:"decode"`
	Fusion    time.Duration `json:"fusion"`
	Total     time.Duration `json:"total"`
}

func NewAnalyzer(log logs.Log, models *infer.Engine, opts *Options) *Analyzer {
	if opts == nil {
		opts = DefaultOptions()
	}
	adaptiveOpts := adaptive.DefaultOptions()
	if opts.ExpectedDetections > 0 {
		adaptiveOpts.ExpectedDetections = opts.ExpectedDetections
	}
	fusionOpts := opts.Fusion
	if fusionOpts == nil {
		fusionOpts = fusion.DefaultOptions()
	}
	return &Analyzer{
		log:      log,
		models:   models,
		adaptive: adaptive.NewEngine(log, adaptiveOpts),
		fusion:   fusionOpts,
		opts:     *opts,
	}
}

// AdaptiveStats exposes the adaptive engine's history for diagnostics
func (a *Analyzer) AdaptiveStats() adaptive.Stats {
	return a.adaptive.Stats()
}

// TimingStats reports where the pipeline's time has gone, averaged over all
// frames analyzed so far
func (a *Analyzer) TimingStats() TimingStats {
	return TimingStats{
		Frames:    a.perfTotal.Samples,
		Lighting:  a.perfLighting.Average(),
		Inference: a.perfInference.Average(),
		Decode:    a.perfDecode.Average(),
		Fusion:    a.perfFusion.Average(),
		Total:     a.perfTotal.Average(),
	}
}

// AnalyzeFrame runs the full pipeline on one frame
func (a *Analyzer) AnalyzeFrame(img image.Image) (*FrameResult, error) {
	frameStart := time.Now()
	result := &FrameResult{}

	lightingStart := time.Now()
	img, err := a.measureAndEnhance(img, result)
	if err != nil {
		return nil, err
	}
	result.Timing.Lighting = time.Since(lightingStart)

	profile := a.pickProfile(result)
	result.Profile = profile.Name
	params := nn.NewDetectionParams()
	profile.Apply(params)
	if a.opts.MaxDetections > 0 {
		params.MaxDetections = a.opts.MaxDetections
	}

	thresholds := a.frameThresholds(result)
	result.Thresholds = thresholds
	if a.opts.Adaptive {
		params.ConfidenceThreshold = thresholds.Confidence
	}

	if err := a.runStages(img, params, thresholds, result); err != nil {
		return nil, err
	}

	fusionStart := time.Now()
	result.DefectSegments = fusion.Fuse(a.log, result.DefectSegments, a.fusion)
	result.PartSegments = fusion.Fuse(a.log, result.PartSegments, a.fusion)
	result.Timing.Fusion = time.Since(fusionStart)

	a.recordYield(result)
	result.Timing.Total = time.Since(frameStart)

	a.perfLighting.AddSample(result.Timing.Lighting)
	a.perfInference.AddSample(result.Timing.Inference)
	a.perfDecode.AddSample(result.Timing.Decode)
	a.perfFusion.AddSample(result.Timing.Fusion)
	a.perfTotal.AddSample(result.Timing.Total)
	return result, nil
}

// measureAndEnhance analyzes the frame's lighting and, when enabled,
// preprocesses difficult frames. Returns the image to run inference on.
func (a *Analyzer) measureAndEnhance(img image.Image, result *FrameResult) (image.Image, error) {
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, err
	}
	defer mat.Close()

	result.Lighting = illum.Analyze(mat)
	condition := illum.Classify(result.Lighting)
	result.Condition = condition.String()

	if !a.opts.Enhance || condition == illum.ConditionGood {
		return img, nil
	}
	enhanced := illum.Enhance(mat)
	defer enhanced.Close()
	out, err := enhanced.ToImage()
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (a *Analyzer) pickProfile(result *FrameResult) nn.RobustnessProfile {
	if a.opts.AutoProfile {
		return illum.Classify(result.Lighting).Profile()
	}
	profile, known := nn.ProfileByName(a.opts.Profile)
	if !known {
		a.log.Warnf("Unknown robustness profile %q, using %v", a.opts.Profile, profile.Name)
	}
	return profile
}

func (a *Analyzer) frameThresholds(result *FrameResult) adaptive.Thresholds {
	if !a.opts.Adaptive {
		return a.adaptive.Base()
	}
	return a.adaptive.Hybrid(result.Lighting.Brightness, result.Lighting.Contrast, a.lastYield)
}

func (a *Analyzer) runStages(img image.Image, params *nn.DetectionParams, thresholds adaptive.Thresholds, result *FrameResult) error {
	bounds := img.Bounds()

	if stage := a.models.Stage(StageClassify); stage != nil {
		out, err := stage.Run(img)
		if err != nil {
			return err
		}
		class, probability := out.TopClass()
		result.Verdict = &Verdict{
			Class:      class,
			ClassName:  a.className(a.opts.PartClasses, FallbackPartClass, class),
			Confidence: probability,
		}
		result.Timing.Inference += out.Elapsed
	}

	if stage := a.models.Stage(StageDetectParts); stage != nil {
		dets, err := a.runDetect(stage, img, bounds, a.opts.PartClasses, FallbackPartClass, params, result)
		if err != nil {
			return err
		}
		result.Parts = dets
	}
	if stage := a.models.Stage(StageDetectDefects); stage != nil {
		dets, err := a.runDetect(stage, img, bounds, a.opts.DefectClasses, FallbackDefectClass, params, result)
		if err != nil {
			return err
		}
		result.Defects = dets
	}
	if stage := a.models.Stage(StageSegmentParts); stage != nil {
		segs, err := a.runSegment(stage, img, bounds, a.opts.PartClasses, FallbackPartClass, params, thresholds, result)
		if err != nil {
			return err
		}
		result.PartSegments = segs
	}
	if stage := a.models.Stage(StageSegmentDefects); stage != nil {
		segs, err := a.runSegment(stage, img, bounds, a.opts.DefectClasses, FallbackDefectClass, params, thresholds, result)
		if err != nil {
			return err
		}
		result.DefectSegments = segs
	}
	return nil
}

func (a *Analyzer) runDetect(stage *infer.Stage, img image.Image, bounds image.Rectangle, classes []string, fallback string, params *nn.DetectionParams, result *FrameResult) ([]nn.Detection, error) {
	out, err := stage.Run(img)
	if err != nil {
		return nil, err
	}
	result.Timing.Inference += out.Elapsed

	decodeStart := time.Now()
	dets, err := decode.Detections(out.Raw, &decode.DetectionOptions{
		NumClasses:    stage.Config.NumClasses,
		ClassNames:    classes,
		FallbackClass: fallback,
		ImageWidth:    bounds.Dx(),
		ImageHeight:   bounds.Dy(),
	}, params)
	result.Timing.Decode += time.Since(decodeStart)
	return dets, err
}

func (a *Analyzer) runSegment(stage *infer.Stage, img image.Image, bounds image.Rectangle, classes []string, fallback string, params *nn.DetectionParams, thresholds adaptive.Thresholds, result *FrameResult) ([]nn.Segmentation, error) {
	out, err := stage.Run(img)
	if err != nil {
		return nil, err
	}
	result.Timing.Inference += out.Elapsed

	opts := &decode.SegmentationOptions{
		DetectionOptions: decode.DetectionOptions{
			NumClasses:    stage.Config.NumClasses,
			ClassNames:    classes,
			FallbackClass: fallback,
			ImageWidth:    bounds.Dx(),
			ImageHeight:   bounds.Dy(),
		},
	}
	if a.opts.Adaptive {
		opts.MinMaskArea = int(thresholds.MinMaskArea)
		opts.MinCoverage = thresholds.MinCoverage
	}

	decodeStart := time.Now()
	segs, err := decode.Segmentations(a.log, out.Raw, out.Protos, opts, params)
	result.Timing.Decode += time.Since(decodeStart)
	return segs, err
}

// recordYield feeds this frame's accepted instances back into the adaptive
// engine for the next frame's performance adjustment
func (a *Analyzer) recordYield(result *FrameResult) {
	yield := len(result.Parts) + len(result.Defects) +
		len(result.PartSegments) + len(result.DefectSegments)
	a.lastYield = yield
	a.adaptive.RecordDetections(result.DefectSegments)
	a.adaptive.RecordDetections(result.PartSegments)
}

func (a *Analyzer) className(classes []string, fallback string, class int) string {
	if class < len(classes) {
		return classes[class]
	}
	return fallback
}
