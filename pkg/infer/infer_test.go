package infer

import (
	"image"
	"image/color"
	"testing"

	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"

	"github.com/coplescan/coplescan/pkg/nn"
	"github.com/coplescan/coplescan/pkg/nn/decode"
)

func TestMissingModelsDisableStages(t *testing.T) {
	log := logs.NewTestingLog(t)
	engine, err := NewEngine(log, []StageConfig{
		{Name: "classify", ModelPath: "", NumClasses: 2, Kind: KindClassify},
		{Name: "detect-parts", ModelPath: "/nonexistent/model.onnx", NumClasses: 1, Kind: KindDetect},
	})
	require.NoError(t, err)
	defer engine.Close()

	require.Nil(t, engine.Stage("classify"))
	require.Nil(t, engine.Stage("detect-parts"))
	require.Empty(t, engine.EnabledStages())
}

func TestTopClass(t *testing.T) {
	out := &Output{Raw: nn.NewTensor([]float32{1.0, 3.0}, 2)}
	class, probability := out.TopClass()
	require.Equal(t, 1, class)
	// softmax([1,3])[1] = e^2/(1+e^2)
	require.InDelta(t, 0.8808, probability, 1e-3)
	require.Greater(t, probability, float32(0.5))
	require.LessOrEqual(t, probability, float32(1))
}

func TestPrepareInputLayout(t *testing.T) {
	// A solid red image must fill the R channel plane with 1.0 and leave
	// G and B at zero
	img := image.NewRGBA(image.Rect(0, 0, decode.ModelInputSize, decode.ModelInputSize))
	for y := 0; y < decode.ModelInputSize; y++ {
		for x := 0; x < decode.ModelInputSize; x++ {
			img.Set(x, y, color.RGBA{R: 255, A: 255})
		}
	}
	dst := make([]float32, 3*decode.ModelInputSize*decode.ModelInputSize)
	prepareInput(img, dst)

	channelSize := decode.ModelInputSize * decode.ModelInputSize
	require.InDelta(t, 1.0, dst[0], 1e-6)
	require.InDelta(t, 1.0, dst[channelSize-1], 1e-6)
	require.InDelta(t, 0.0, dst[channelSize], 1e-6)
	require.InDelta(t, 0.0, dst[2*channelSize], 1e-6)
}
