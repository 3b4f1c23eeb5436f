// analyze runs the inspection pipeline once over an image on disk, without
// the service or its databases. Useful for tuning models and thresholds at a
// desk instead of on the line.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/akamensky/argparse"
	"github.com/cyclopcam/logs"
	"github.com/disintegration/imaging"

	"github.com/coplescan/coplescan/pkg/analysis"
	"github.com/coplescan/coplescan/pkg/infer"
	"github.com/coplescan/coplescan/pkg/nn"
)

func check(err error) {
	if err != nil {
		panic(err)
	}
}

func main() {
	parser := argparse.NewParser("analyze", "Run the inspection pipeline on a single image")
	imagePath := parser.String("i", "image", &argparse.Options{Help: "Image to analyze", Required: true})
	detectModel := parser.String("", "detect", &argparse.Options{Help: "Defect detection model (.onnx)", Default: ""})
	segmentModel := parser.String("", "segment", &argparse.Options{Help: "Defect segmentation model (.onnx)", Default: ""})
	classFile := parser.String("", "classes", &argparse.Options{Help: "Class name file, one class per line", Default: ""})
	profile := parser.String("p", "profile", &argparse.Options{Help: "Robustness profile", Default: nn.ProfileOriginal.Name})
	autoProfile := parser.Flag("", "auto", &argparse.Options{Help: "Pick the profile from measured lighting", Default: false})
	ortLib := parser.String("", "ort", &argparse.Options{Help: "Path to the onnxruntime shared library", Default: ""})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger, err := logs.NewLog()
	check(err)

	img, err := imaging.Open(*imagePath)
	check(err)

	classes := []string{analysis.FallbackDefectClass}
	if *classFile != "" {
		loaded, err := nn.LoadClassFile(*classFile)
		if err != nil {
			logger.Warnf("Class file %v unavailable (%v), using fallback class %q", *classFile, err, analysis.FallbackDefectClass)
		} else if len(loaded) > 0 {
			classes = loaded
		}
	}

	check(infer.Initialize(*ortLib))
	defer infer.Shutdown()

	models, err := infer.NewEngine(logger, []infer.StageConfig{
		{Name: analysis.StageDetectDefects, ModelPath: *detectModel, NumClasses: len(classes), Kind: infer.KindDetect},
		{Name: analysis.StageSegmentDefects, ModelPath: *segmentModel, NumClasses: len(classes), Kind: infer.KindSegment},
	})
	check(err)
	defer models.Close()
	if len(models.EnabledStages()) == 0 {
		fmt.Println("No models loaded: specify --detect and/or --segment")
		os.Exit(1)
	}

	analyzer := analysis.NewAnalyzer(logger, models, &analysis.Options{
		Profile:       *profile,
		AutoProfile:   *autoProfile,
		Adaptive:      true,
		Enhance:       true,
		DefectClasses: classes,
	})
	result, err := analyzer.AnalyzeFrame(img)
	check(err)

	out, err := json.MarshalIndent(result, "", "  ")
	check(err)
	fmt.Println(string(out))
}
