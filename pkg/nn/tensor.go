package nn

import (
	"errors"
	"fmt"
)

// ErrBadTensorShape is returned when an inference output does not have the
// rank or channel layout the decoder was told to expect. This is a wiring
// bug (wrong model or wrong decoder), not a runtime condition to retry.
var ErrBadTensorShape = errors.New("tensor shape does not match decoder contract")

// Tensor is a raw inference output: a float32 buffer plus a shape descriptor.
// The decoder takes temporary ownership of the buffer for the duration of one
// decode call and copies out anything it needs, so callers may recycle the
// buffer afterwards.
type Tensor struct {
	Shape []int
	Data  []float32
}

func NewTensor(data []float32, shape ...int) *Tensor {
	return &Tensor{Shape: shape, Data: data}
}

func (t *Tensor) Rank() int {
	return len(t.Shape)
}

// Dim returns the size of dimension i, or 0 if out of range
func (t *Tensor) Dim(i int) int {
	if i < 0 || i >= len(t.Shape) {
		return 0
	}
	return t.Shape[i]
}

// At returns the element at the given coordinates, one per dimension, in
// row-major order. Hot loops index Data directly with precomputed offsets;
// this is for the cold paths.
func (t *Tensor) At(coords ...int) float32 {
	idx := 0
	for i, c := range coords {
		idx = idx*t.Shape[i] + c
	}
	return t.Data[idx]
}

func (t *Tensor) NumElements() int {
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// CheckShape verifies rank and per-dimension sizes. A want of -1 accepts any
// size in that dimension.
func (t *Tensor) CheckShape(want ...int) error {
	if len(t.Shape) != len(want) {
		return fmt.Errorf("%w: rank %v, want %v", ErrBadTensorShape, len(t.Shape), len(want))
	}
	for i, w := range want {
		if w != -1 && t.Shape[i] != w {
			return fmt.Errorf("%w: dim %v is %v, want %v", ErrBadTensorShape, i, t.Shape[i], w)
		}
	}
	if len(t.Data) < t.NumElements() {
		return fmt.Errorf("%w: buffer holds %v elements, shape needs %v", ErrBadTensorShape, len(t.Data), t.NumElements())
	}
	return nil
}
