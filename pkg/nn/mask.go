package nn

// Mask is a dense float32 plane, same size as the source image, values in
// [0,1]. We keep the continuous plane (not just its binarized form) so that
// callers can visualize or re-threshold without re-running the decode.
// Heavier mask operations (resize, morphology, contours) live in pkg/mask.
type Mask struct {
	Width  int
	Height int
	Pix    []float32 // row-major, len = Width*Height
}

func NewMask(width, height int) *Mask {
	return &Mask{
		Width:  width,
		Height: height,
		Pix:    make([]float32, width*height),
	}
}

func (m *Mask) At(x, y int) float32 {
	return m.Pix[y*m.Width+x]
}

func (m *Mask) Set(x, y int, v float32) {
	m.Pix[y*m.Width+x] = v
}

func (m *Mask) Clone() *Mask {
	c := NewMask(m.Width, m.Height)
	copy(c.Pix, m.Pix)
	return c
}

// MaskBinaryThreshold is the cutoff above which a mask pixel counts as active
const MaskBinaryThreshold = 0.5

// Area counts the pixels above MaskBinaryThreshold
func (m *Mask) Area() int {
	n := 0
	for _, v := range m.Pix {
		if v > MaskBinaryThreshold {
			n++
		}
	}
	return n
}

// ActiveBounds returns the bounding rectangle of the active pixels.
// A fully inactive mask returns a zero rectangle.
func (m *Mask) ActiveBounds() Rect {
	minX, minY := m.Width, m.Height
	maxX, maxY := -1, -1
	for y := 0; y < m.Height; y++ {
		row := m.Pix[y*m.Width : (y+1)*m.Width]
		for x, v := range row {
			if v > MaskBinaryThreshold {
				if x < minX {
					minX = x
				}
				if x > maxX {
					maxX = x
				}
				if y < minY {
					minY = y
				}
				if y > maxY {
					maxY = y
				}
			}
		}
	}
	if maxX < 0 {
		return Rect{}
	}
	return Rect{X: minX, Y: minY, Width: maxX - minX + 1, Height: maxY - minY + 1}
}

// Overlap is intersection-over-union of the two binarized masks.
// Masks of differing sizes have zero overlap by definition.
func (m *Mask) Overlap(b *Mask) float32 {
	if m.Width != b.Width || m.Height != b.Height {
		return 0
	}
	inter, union := 0, 0
	for i, v := range m.Pix {
		a := v > MaskBinaryThreshold
		bb := b.Pix[i] > MaskBinaryThreshold
		if a && bb {
			inter++
		}
		if a || bb {
			union++
		}
	}
	if union == 0 {
		return 0
	}
	return float32(inter) / float32(union)
}

// Or sets m to the binarized union of m and b (element-wise logical OR)
func (m *Mask) Or(b *Mask) {
	for i := range m.Pix {
		if m.Pix[i] > MaskBinaryThreshold || b.Pix[i] > MaskBinaryThreshold {
			m.Pix[i] = 1
		} else {
			m.Pix[i] = 0
		}
	}
}
