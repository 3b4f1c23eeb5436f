package mask

import (
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/coplescan/coplescan/pkg/nn"
)

// Package mask holds the OpenCV-backed operations on nn.Mask planes:
// resizing, morphology and contour analysis. The plain container lives in
// pkg/nn so that the data model stays free of cgo.

// toMat copies the plane into a 32-bit float Mat. Caller closes the Mat.
func toMat(m *nn.Mask) gocv.Mat {
	mat := gocv.NewMatWithSize(m.Height, m.Width, gocv.MatTypeCV32F)
	ptr, err := mat.DataPtrFloat32()
	if err != nil {
		// A fresh continuous Mat always exposes its buffer
		panic(err)
	}
	copy(ptr, m.Pix)
	return mat
}

func fromMat(mat gocv.Mat) *nn.Mask {
	m := nn.NewMask(mat.Cols(), mat.Rows())
	ptr, err := mat.DataPtrFloat32()
	if err != nil {
		panic(err)
	}
	copy(m.Pix, ptr)
	return m
}

// toBinaryMat converts the plane to an 8-bit 0/255 Mat, binarized at
// nn.MaskBinaryThreshold. Caller closes the Mat.
func toBinaryMat(m *nn.Mask) gocv.Mat {
	buf := make([]byte, len(m.Pix))
	for i, v := range m.Pix {
		if v > nn.MaskBinaryThreshold {
			buf[i] = 255
		}
	}
	mat, err := gocv.NewMatFromBytes(m.Height, m.Width, gocv.MatTypeCV8U, buf)
	if err != nil {
		panic(err)
	}
	return mat
}

// ResizeBilinear returns the plane bilinearly resampled to width x height
func ResizeBilinear(m *nn.Mask, width, height int) *nn.Mask {
	if m.Width == width && m.Height == height {
		return m.Clone()
	}
	src := toMat(m)
	defer src.Close()
	dst := gocv.NewMat()
	defer dst.Close()
	gocv.Resize(src, &dst, image.Pt(width, height), 0, 0, gocv.InterpolationLinear)
	return fromMat(dst)
}

// CloseEllipse applies one morphological close with an elliptical kernel of
// the given size, smoothing seams between merged regions. The plane is
// binarized first; the result holds 0/1 values.
func CloseEllipse(m *nn.Mask, kernelSize int) *nn.Mask {
	src := toBinaryMat(m)
	defer src.Close()
	kernel := gocv.GetStructuringElement(gocv.MorphEllipse, image.Pt(kernelSize, kernelSize))
	defer kernel.Close()
	dst := gocv.NewMat()
	defer dst.Close()
	gocv.MorphologyEx(src, &dst, gocv.MorphClose, kernel)

	out := nn.NewMask(m.Width, m.Height)
	bytes := dst.ToBytes()
	for i, b := range bytes {
		if b != 0 {
			out.Pix[i] = 1
		}
	}
	return out
}

// ContourStats describes the largest external contour of a mask
type ContourStats struct {
	Area        float64 // contour area in pixels
	Perimeter   float64
	Box         nn.Rect
	Centroid    nn.Point
	Compactness float64 // 4*pi*area/perimeter^2, 1.0 = perfect circle
}

// Stats extracts the largest external contour of the binarized plane and
// computes its geometry. Returns false when the mask has no active pixels.
func Stats(m *nn.Mask) (ContourStats, bool) {
	bin := toBinaryMat(m)
	defer bin.Close()

	contours := gocv.FindContours(bin, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()
	if contours.Size() == 0 {
		return ContourStats{}, false
	}

	largest := 0
	largestArea := gocv.ContourArea(contours.At(0))
	for i := 1; i < contours.Size(); i++ {
		if a := gocv.ContourArea(contours.At(i)); a > largestArea {
			largestArea = a
			largest = i
		}
	}

	contour := contours.At(largest)
	perimeter := gocv.ArcLength(contour, true)
	bounds := gocv.BoundingRect(contour)
	box := nn.Rect{
		X:      bounds.Min.X,
		Y:      bounds.Min.Y,
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
	}

	// Moment centroid of the contour region. Degenerate contours (m00 == 0)
	// fall back to the box center.
	filled := gocv.NewMatWithSize(m.Height, m.Width, gocv.MatTypeCV8U)
	defer filled.Close()
	white := color.RGBA{R: 255, G: 255, B: 255, A: 255}
	gocv.DrawContours(&filled, contours, largest, white, -1)
	moments := gocv.Moments(filled, true)
	centroid := box.Center()
	if m00 := moments["m00"]; m00 != 0 {
		centroid = nn.Point{
			X: int(moments["m10"] / m00),
			Y: int(moments["m01"] / m00),
		}
	}

	compactness := 0.0
	if perimeter > 0 {
		compactness = 4 * 3.141592653589793 * largestArea / (perimeter * perimeter)
	}

	return ContourStats{
		Area:        largestArea,
		Perimeter:   perimeter,
		Box:         box,
		Centroid:    centroid,
		Compactness: compactness,
	}, true
}
