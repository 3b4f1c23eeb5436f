// Package illum measures the lighting of a frame and enhances poorly lit
// frames before inference. Brightness and contrast feed the adaptive
// threshold engine and the automatic robustness profile selection.
package illum

import (
	"image"
	"math"

	"gocv.io/x/gocv"

	"github.com/coplescan/coplescan/pkg/nn"
)

// Metrics are the per-frame lighting measurements: mean and standard
// deviation of the grayscale intensity.
type Metrics struct {
	Brightness float32 `json:"brightness"`
	Contrast   float32 `json:"contrast"`
}

// Analyze measures the frame's lighting. Accepts gray or BGR input.
func Analyze(img gocv.Mat) Metrics {
	gray := toGray(img)
	defer gray.Close()
	mean := gocv.NewMat()
	defer mean.Close()
	stdDev := gocv.NewMat()
	defer stdDev.Close()
	gocv.MeanStdDev(gray, &mean, &stdDev)
	return Metrics{
		Brightness: float32(mean.GetDoubleAt(0, 0)),
		Contrast:   float32(stdDev.GetDoubleAt(0, 0)),
	}
}

// Condition buckets the lighting into the four tiers the robustness
// profiles are tuned for
type Condition int

const (
	ConditionGood Condition = iota
	ConditionNormal
	ConditionHard
	ConditionVeryHard
)

func (c Condition) String() string {
	switch c {
	case ConditionGood:
		return "good"
	case ConditionNormal:
		return "normal"
	case ConditionHard:
		return "hard"
	default:
		return "very hard"
	}
}

// Classify buckets the measured lighting
func Classify(m Metrics) Condition {
	switch {
	case m.Brightness < 60 || m.Contrast < 20:
		return ConditionVeryHard
	case m.Brightness < 100 || m.Contrast < 30:
		return ConditionHard
	case m.Brightness < 150:
		return ConditionNormal
	default:
		return ConditionGood
	}
}

// Profile maps the lighting condition to the robustness profile to run with
func (c Condition) Profile() nn.RobustnessProfile {
	switch c {
	case ConditionVeryHard:
		return nn.ProfileUltraPermissive
	case ConditionHard:
		return nn.ProfilePermissive
	case ConditionNormal:
		return nn.ProfileModerate
	default:
		return nn.ProfileOriginal
	}
}

const claheClipLimit = 2.0
const claheTileSize = 8

// Enhance preprocesses a BGR frame for robustness against poor lighting:
// global mean/std normalization toward mid-gray, CLAHE on the LAB lightness
// channel, and adaptive gamma correction. Returns a new Mat; the caller owns
// both.
func Enhance(img gocv.Mat) gocv.Mat {
	normalized := normalizeGlobal(img)

	withClahe := applyCLAHE(normalized)
	normalized.Close()

	brightness := Analyze(withClahe).Brightness
	gamma := float64(1.0)
	if brightness < 80 {
		gamma = 0.7
	} else if brightness > 180 {
		gamma = 1.3
	}
	if gamma == 1.0 {
		return withClahe
	}
	corrected := applyGamma(withClahe, gamma)
	withClahe.Close()
	return corrected
}

// normalizeGlobal shifts the frame's intensity distribution toward
// mean 128, stddev 64
func normalizeGlobal(img gocv.Mat) gocv.Mat {
	const targetMean = 128.0
	const targetStd = 64.0

	mean := gocv.NewMat()
	defer mean.Close()
	stdDev := gocv.NewMat()
	defer stdDev.Close()
	gocv.MeanStdDev(img, &mean, &stdDev)

	// Average the per-channel statistics
	globalMean, globalStd := 0.0, 0.0
	for c := 0; c < mean.Rows(); c++ {
		globalMean += mean.GetDoubleAt(c, 0)
		globalStd += stdDev.GetDoubleAt(c, 0)
	}
	globalMean /= float64(mean.Rows())
	globalStd /= float64(mean.Rows())

	out := gocv.NewMat()
	if globalStd <= 0 {
		img.CopyTo(&out)
		return out
	}
	// out = (img - mean) / std * targetStd + targetMean
	alpha := targetStd / globalStd
	beta := targetMean - globalMean*alpha
	img.ConvertToWithParams(&out, gocv.MatTypeCV8U, float32(alpha), float32(beta))
	return out
}

func applyCLAHE(img gocv.Mat) gocv.Mat {
	if img.Channels() == 1 {
		clahe := gocv.NewCLAHEWithParams(claheClipLimit, image.Pt(claheTileSize, claheTileSize))
		defer clahe.Close()
		out := gocv.NewMat()
		clahe.Apply(img, &out)
		return out
	}

	lab := gocv.NewMat()
	defer lab.Close()
	gocv.CvtColor(img, &lab, gocv.ColorBGRToLab)

	channels := gocv.Split(lab)
	defer func() {
		for i := range channels {
			channels[i].Close()
		}
	}()

	clahe := gocv.NewCLAHEWithParams(claheClipLimit, image.Pt(claheTileSize, claheTileSize))
	defer clahe.Close()
	lightness := gocv.NewMat()
	defer lightness.Close()
	clahe.Apply(channels[0], &lightness)
	lightness.CopyTo(&channels[0])

	merged := gocv.NewMat()
	defer merged.Close()
	gocv.Merge(channels, &merged)

	out := gocv.NewMat()
	gocv.CvtColor(merged, &out, gocv.ColorLabToBGR)
	return out
}

// applyGamma runs the frame through a 256-entry gamma lookup table
func applyGamma(img gocv.Mat, gamma float64) gocv.Mat {
	table := make([]byte, 256)
	for i := 0; i < 256; i++ {
		v := math.Pow(float64(i)/255.0, gamma) * 255.0
		if v > 255 {
			v = 255
		}
		table[i] = byte(v)
	}
	lut, err := gocv.NewMatFromBytes(1, 256, gocv.MatTypeCV8U, table)
	if err != nil {
		panic(err)
	}
	defer lut.Close()

	out := gocv.NewMat()
	gocv.LUT(img, lut, &out)
	return out
}

func toGray(img gocv.Mat) gocv.Mat {
	gray := gocv.NewMat()
	if img.Channels() == 1 {
		img.CopyTo(&gray)
	} else {
		gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)
	}
	return gray
}
