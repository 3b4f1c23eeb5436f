package adaptive

import (
	"testing"

	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"

	"github.com/coplescan/coplescan/pkg/nn"
)

func segWithConfidenceAndArea(confidence float32, maskArea int) nn.Segmentation {
	return nn.Segmentation{
		Detection: nn.Detection{Confidence: confidence},
		MaskArea:  maskArea,
	}
}

func TestIlluminationFactors(t *testing.T) {
	e := NewEngine(logs.NewTestingLog(t), nil)

	// Normal lighting leaves the base thresholds alone
	normal := e.FromIllumination(120, 50)
	require.Equal(t, float32(1), normal.BrightnessFactor)
	require.Equal(t, float32(1), normal.ContrastFactor)
	require.Equal(t, float32(0.5), normal.Confidence)
	require.Equal(t, float32(500), normal.MinMaskArea)
	require.Equal(t, float32(0.1), normal.MinCoverage)

	// Dark, flat frame loosens everything
	dark := e.FromIllumination(50, 15)
	require.Equal(t, float32(0.5), dark.BrightnessFactor)
	require.Equal(t, float32(0.5), dark.ContrastFactor)
	require.InDelta(t, 0.125, dark.Confidence, 1e-6) // 0.5 * 0.5 * 0.5
	require.Equal(t, float32(250), dark.MinMaskArea)
	require.Equal(t, float32(0.05), dark.MinCoverage)

	// Bright, harsh frame tightens
	bright := e.FromIllumination(200, 90)
	require.Equal(t, float32(1.3), bright.BrightnessFactor)
	require.Equal(t, float32(1.2), bright.ContrastFactor)
	require.InDelta(t, 0.5*1.3*1.2, bright.Confidence, 1e-6)
}

func TestIlluminationBreakpoints(t *testing.T) {
	e := NewEngine(logs.NewTestingLog(t), nil)
	require.Equal(t, float32(0.5), e.FromIllumination(79.9, 50).BrightnessFactor)
	require.Equal(t, float32(0.6), e.FromIllumination(80, 50).BrightnessFactor)
	require.Equal(t, float32(0.6), e.FromIllumination(99.9, 50).BrightnessFactor)
	require.Equal(t, float32(1.0), e.FromIllumination(100, 50).BrightnessFactor)
	require.Equal(t, float32(1.0), e.FromIllumination(180, 50).BrightnessFactor)
	require.Equal(t, float32(1.3), e.FromIllumination(180.1, 50).BrightnessFactor)

	require.Equal(t, float32(0.5), e.FromIllumination(120, 19.9).ContrastFactor)
	require.Equal(t, float32(0.7), e.FromIllumination(120, 20).ContrastFactor)
	require.Equal(t, float32(1.0), e.FromIllumination(120, 30).ContrastFactor)
	require.Equal(t, float32(1.0), e.FromIllumination(120, 80).ContrastFactor)
	require.Equal(t, float32(1.2), e.FromIllumination(120, 80.1).ContrastFactor)
}

func TestThresholdsClamped(t *testing.T) {
	e := NewEngine(logs.NewTestingLog(t), nil)

	// Even the most extreme loosening never goes below the floors
	dark := e.FromIllumination(0, 0)
	require.GreaterOrEqual(t, dark.Confidence, float32(0.1))
	require.GreaterOrEqual(t, dark.MinMaskArea, float32(100))
	require.GreaterOrEqual(t, dark.MinCoverage, float32(0.02))

	bright := e.FromIllumination(255, 200)
	require.LessOrEqual(t, bright.Confidence, float32(0.8))
	require.LessOrEqual(t, bright.MinMaskArea, float32(2000))
	require.LessOrEqual(t, bright.MinCoverage, float32(0.3))
}

func TestPerformanceWithoutHistory(t *testing.T) {
	e := NewEngine(logs.NewTestingLog(t), nil)
	// No yield history: nothing to judge against, thresholds stay at base
	require.Equal(t, e.Base(), e.FromPerformance(0))
}

func TestPerformanceAdjustment(t *testing.T) {
	e := NewEngine(logs.NewTestingLog(t), nil)
	e.RecordDetections([]nn.Segmentation{segWithConfidenceAndArea(0.9, 800)})

	// Under-detecting loosens by 10%
	under := e.FromPerformance(0)
	require.InDelta(t, 0.45, under.Confidence, 1e-6)
	require.InDelta(t, 450, under.MinMaskArea, 1e-3)

	// Expected yield leaves base untouched
	normal := e.FromPerformance(1)
	require.Equal(t, e.Base(), normal)

	// Heavy over-detecting tightens by 10%
	over := e.FromPerformance(5)
	require.InDelta(t, 0.55, over.Confidence, 1e-6)
	require.InDelta(t, 550, over.MinMaskArea, 1e-3)
}

func TestHybridAveraging(t *testing.T) {
	e := NewEngine(logs.NewTestingLog(t), nil)
	e.RecordDetections([]nn.Segmentation{segWithConfidenceAndArea(0.9, 800)})

	// Illumination says 0.125, performance (under-detecting) says 0.45:
	// hybrid is the mean, still above the 0.1 floor
	h := e.Hybrid(50, 15, 0)
	require.InDelta(t, (0.125+0.45)/2, h.Confidence, 1e-6)
	require.GreaterOrEqual(t, h.Confidence, float32(0.1))
	require.Equal(t, float32(0.5), h.BrightnessFactor)
	require.Equal(t, float32(0.5), h.ContrastFactor)
}

func TestHybridWithoutHistoryIsIlluminationBaseMean(t *testing.T) {
	e := NewEngine(logs.NewTestingLog(t), nil)
	h := e.Hybrid(50, 15, 0)
	// Performance side returns base 0.5, illumination side 0.125
	require.InDelta(t, (0.125+0.5)/2, h.Confidence, 1e-6)
}

func TestRecordDetectionsSkipsEmpty(t *testing.T) {
	e := NewEngine(logs.NewTestingLog(t), nil)
	e.RecordDetections(nil)
	e.RecordDetections([]nn.Segmentation{})
	require.Equal(t, 0, e.Stats().DetectionSamples)
}

func TestHistoryWindowsBounded(t *testing.T) {
	e := NewEngine(logs.NewTestingLog(t), nil)
	for i := 0; i < 100; i++ {
		e.FromIllumination(120, 50)
		e.RecordDetections([]nn.Segmentation{segWithConfidenceAndArea(0.9, 800)})
	}
	s := e.Stats()
	require.Equal(t, 20, s.IlluminationSamples)
	require.Equal(t, 50, s.DetectionSamples)
}

func TestStats(t *testing.T) {
	e := NewEngine(logs.NewTestingLog(t), nil)
	e.FromIllumination(100, 40)
	e.FromIllumination(140, 60)
	e.RecordDetections([]nn.Segmentation{
		segWithConfidenceAndArea(0.8, 1000),
		segWithConfidenceAndArea(0.6, 500),
	})

	s := e.Stats()
	require.Equal(t, 2, s.IlluminationSamples)
	require.InDelta(t, 120, s.BrightnessMean, 1e-4)
	require.InDelta(t, 20, s.BrightnessStdDev, 1e-4)
	require.InDelta(t, 50, s.ContrastMean, 1e-4)
	require.Equal(t, 1, s.DetectionSamples)
	require.InDelta(t, 2, s.DetectionCountMean, 1e-4)
	require.InDelta(t, 0.7, s.ConfidenceMean, 1e-4)
	require.InDelta(t, 750, s.MaskAreaMean, 1e-4)
}
