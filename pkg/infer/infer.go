// Package infer owns the ONNX runtime sessions for the inspection models.
// A station runs up to five stages: part/defect classification, part and
// defect detection, and part and defect segmentation. Each stage is optional;
// a missing model file disables that stage and the rest of the pipeline keeps
// running.
package infer

import (
	"fmt"
	"image"
	"os"
	"runtime"
	"time"

	"github.com/chewxy/math32"
	"github.com/cyclopcam/logs"
	"github.com/disintegration/imaging"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/coplescan/coplescan/pkg/nn"
	"github.com/coplescan/coplescan/pkg/nn/decode"
)

// Kind is the output layout of a model
type Kind int

const (
	KindClassify Kind = iota // (1, numClasses) class scores
	KindDetect               // (1, 4+numClasses, anchors) boxes
	KindSegment              // detect output plus (1, 32, 160, 160) mask prototypes
)

// anchorCount is the anchor grid size of a 640x640 YOLO export
// (80*80 + 40*40 + 20*20)
const anchorCount = 8400

const protoSize = 160

// StageConfig describes one model of the pipeline
type StageConfig struct {
	Name       string // eg "segment-defects"
	ModelPath  string // empty disables the stage
	NumClasses int
	Kind       Kind
}

// Output is one stage's inference result, copied out of the session's
// output buffers so the session can be re-run immediately.
type Output struct {
	Raw     *nn.Tensor // (C, anchors) for detect/segment, (numClasses) for classify
	Protos  *nn.Tensor // (32, 160, 160), segmentation stages only
	Elapsed time.Duration
}

// Initialize loads the onnxruntime shared library and prepares the global
// environment. Call once at process start, before creating any Engine.
func Initialize(sharedLibraryPath string) error {
	if sharedLibraryPath != "" {
		ort.SetSharedLibraryPath(sharedLibraryPath)
	}
	return ort.InitializeEnvironment()
}

// Shutdown tears down the onnxruntime environment
func Shutdown() {
	ort.DestroyEnvironment()
}

// Stage is one live ONNX session plus its pre-allocated input and output
// tensors. Run is not safe for concurrent use; the analysis loop runs stages
// sequentially per frame.
type Stage struct {
	Config  StageConfig
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	outputs []*ort.Tensor[float32]
}

// Engine is the set of enabled stages
type Engine struct {
	log    logs.Log
	stages map[string]*Stage
}

// NewEngine creates sessions for every stage whose model file exists.
// Stages with an empty path or a missing file are logged and skipped, not
// treated as errors.
func NewEngine(log logs.Log, configs []StageConfig) (*Engine, error) {
	e := &Engine{
		log:    log,
		stages: map[string]*Stage{},
	}
	for _, cfg := range configs {
		if cfg.ModelPath == "" {
			log.Infof("Stage %v has no model configured, skipping", cfg.Name)
			continue
		}
		if _, err := os.Stat(cfg.ModelPath); err != nil {
			log.Warnf("Stage %v: model %v not found, stage disabled", cfg.Name, cfg.ModelPath)
			continue
		}
		stage, err := newStage(cfg)
		if err != nil {
			e.Close()
			return nil, fmt.Errorf("stage %v: %w", cfg.Name, err)
		}
		log.Infof("Stage %v ready (%v)", cfg.Name, cfg.ModelPath)
		e.stages[cfg.Name] = stage
	}
	return e, nil
}

// Stage returns the named stage, or nil if it is disabled
func (e *Engine) Stage(name string) *Stage {
	return e.stages[name]
}

// EnabledStages lists the stages that loaded successfully
func (e *Engine) EnabledStages() []string {
	names := make([]string, 0, len(e.stages))
	for name := range e.stages {
		names = append(names, name)
	}
	return names
}

func (e *Engine) Close() {
	for _, stage := range e.stages {
		stage.close()
	}
	e.stages = map[string]*Stage{}
}

func newStage(cfg StageConfig) (*Stage, error) {
	if cfg.NumClasses < 1 {
		return nil, fmt.Errorf("NumClasses must be >= 1, got %v", cfg.NumClasses)
	}
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("creating session options: %w", err)
	}
	defer options.Destroy()
	options.SetIntraOpNumThreads(runtime.NumCPU())
	options.SetInterOpNumThreads(runtime.NumCPU())

	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, decode.ModelInputSize, decode.ModelInputSize))
	if err != nil {
		return nil, fmt.Errorf("creating input tensor: %w", err)
	}

	outputShapes := []ort.Shape{}
	outputNames := []string{"output0"}
	switch cfg.Kind {
	case KindClassify:
		outputShapes = append(outputShapes, ort.NewShape(1, int64(cfg.NumClasses)))
	case KindDetect:
		outputShapes = append(outputShapes, ort.NewShape(1, int64(4+cfg.NumClasses), anchorCount))
	case KindSegment:
		outputShapes = append(outputShapes,
			ort.NewShape(1, int64(4+cfg.NumClasses+decode.MaskCoefficients), anchorCount),
			ort.NewShape(1, decode.MaskCoefficients, protoSize, protoSize))
		outputNames = append(outputNames, "output1")
	}

	outputs := []*ort.Tensor[float32]{}
	arbitrary := []ort.ArbitraryTensor{}
	destroyAll := func() {
		input.Destroy()
		for _, o := range outputs {
			o.Destroy()
		}
	}
	for _, shape := range outputShapes {
		tensor, err := ort.NewEmptyTensor[float32](shape)
		if err != nil {
			destroyAll()
			return nil, fmt.Errorf("creating output tensor: %w", err)
		}
		outputs = append(outputs, tensor)
		arbitrary = append(arbitrary, tensor)
	}

	session, err := ort.NewAdvancedSession(
		cfg.ModelPath,
		[]string{"images"},
		outputNames,
		[]ort.ArbitraryTensor{input},
		arbitrary,
		options,
	)
	if err != nil {
		destroyAll()
		return nil, fmt.Errorf("creating session: %w", err)
	}

	return &Stage{
		Config:  cfg,
		session: session,
		input:   input,
		outputs: outputs,
	}, nil
}

func (s *Stage) close() {
	s.session.Destroy()
	s.input.Destroy()
	for _, o := range s.outputs {
		o.Destroy()
	}
}

// Run resizes the image to the model input plane, executes the session, and
// copies the outputs into plain tensors with the batch dimension squeezed off.
func (s *Stage) Run(img image.Image) (*Output, error) {
	start := time.Now()
	prepareInput(img, s.input.GetData())
	if err := s.session.Run(); err != nil {
		return nil, fmt.Errorf("inference: %w", err)
	}

	out := &Output{}
	switch s.Config.Kind {
	case KindClassify:
		out.Raw = copyTensor(s.outputs[0], s.Config.NumClasses)
	case KindDetect:
		out.Raw = copyTensor(s.outputs[0], 4+s.Config.NumClasses, anchorCount)
	case KindSegment:
		out.Raw = copyTensor(s.outputs[0], 4+s.Config.NumClasses+decode.MaskCoefficients, anchorCount)
		out.Protos = copyTensor(s.outputs[1], decode.MaskCoefficients, protoSize, protoSize)
	}
	out.Elapsed = time.Since(start)
	return out, nil
}

// TopClass interprets a classification output: softmax over the scores,
// returning the winning class and its probability. Shifting by the max score
// keeps the exponentials from overflowing.
func (o *Output) TopClass() (class int, probability float32) {
	scores := o.Raw.Data
	best := 0
	for i, s := range scores {
		if s > scores[best] {
			best = i
		}
	}
	expSum := float32(0)
	for _, s := range scores {
		expSum += math32.Exp(s - scores[best])
	}
	return best, 1 / expSum
}

func copyTensor(t *ort.Tensor[float32], shape ...int) *nn.Tensor {
	src := t.GetData()
	data := make([]float32, len(src))
	copy(data, src)
	return nn.NewTensor(data, shape...)
}

// prepareInput writes the image into the NCHW RGB input buffer, scaled to
// [0,1]. Aspect ratio is not preserved: the line cameras are square-cropped
// upstream, matching how the models were trained.
func prepareInput(img image.Image, dst []float32) {
	resized := imaging.Resize(img, decode.ModelInputSize, decode.ModelInputSize, imaging.Lanczos)
	channelSize := decode.ModelInputSize * decode.ModelInputSize
	for y := 0; y < decode.ModelInputSize; y++ {
		offset := y * decode.ModelInputSize
		for x := 0; x < decode.ModelInputSize; x++ {
			i := offset + x
			r, g, b, _ := resized.At(x, y).RGBA()
			dst[i] = float32(r>>8) / 255.0
			dst[channelSize+i] = float32(g>>8) / 255.0
			dst[channelSize*2+i] = float32(b>>8) / 255.0
		}
	}
}
