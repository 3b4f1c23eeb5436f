package analysis

import (
	"testing"

	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"

	"github.com/coplescan/coplescan/pkg/illum"
	"github.com/coplescan/coplescan/pkg/nn"
)

func TestPickProfile(t *testing.T) {
	a := NewAnalyzer(logs.NewTestingLog(t), nil, &Options{Profile: "permissive"})
	require.Equal(t, "permissive", a.pickProfile(&FrameResult{}).Name)

	// Unknown names fall back to the default profile
	a = NewAnalyzer(logs.NewTestingLog(t), nil, &Options{Profile: "no-such-profile"})
	require.Equal(t, nn.ProfileOriginal.Name, a.pickProfile(&FrameResult{}).Name)

	// Auto mode ignores the configured name and follows the measured lighting
	a = NewAnalyzer(logs.NewTestingLog(t), nil, &Options{Profile: "permissive", AutoProfile: true})
	dark := &FrameResult{Lighting: illum.Metrics{Brightness: 40, Contrast: 10}}
	require.Equal(t, "ultra-permissive", a.pickProfile(dark).Name)
	bright := &FrameResult{Lighting: illum.Metrics{Brightness: 170, Contrast: 50}}
	require.Equal(t, nn.ProfileOriginal.Name, a.pickProfile(bright).Name)
}

func TestFrameThresholds(t *testing.T) {
	// With the adaptive engine off, every frame gets the base thresholds
	a := NewAnalyzer(logs.NewTestingLog(t), nil, &Options{Adaptive: false})
	th := a.frameThresholds(&FrameResult{Lighting: illum.Metrics{Brightness: 40, Contrast: 10}})
	require.Equal(t, a.adaptive.Base(), th)

	// With it on, a dark frame lowers the confidence threshold
	a = NewAnalyzer(logs.NewTestingLog(t), nil, &Options{Adaptive: true})
	th = a.frameThresholds(&FrameResult{Lighting: illum.Metrics{Brightness: 40, Contrast: 10}})
	require.Less(t, th.Confidence, a.adaptive.Base().Confidence)
}

func TestClassName(t *testing.T) {
	a := NewAnalyzer(logs.NewTestingLog(t), nil, nil)
	require.Equal(t, "rayon", a.className([]string{"rayon", "poro"}, FallbackDefectClass, 0))
	require.Equal(t, "poro", a.className([]string{"rayon", "poro"}, FallbackDefectClass, 1))
	require.Equal(t, FallbackDefectClass, a.className([]string{"rayon"}, FallbackDefectClass, 5))
	require.Equal(t, FallbackPartClass, a.className(nil, FallbackPartClass, 0))
}

func TestTimingStatsEmpty(t *testing.T) {
	a := NewAnalyzer(logs.NewTestingLog(t), nil, nil)
	stats := a.TimingStats()
	require.Zero(t, stats.Frames)
	require.Zero(t, stats.Total)
}
