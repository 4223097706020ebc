package onnx

import (
	"fmt"
	"math"
)

// TensorDType names the element type of a Tensor.
type TensorDType string

const (
	DTypeFloat32 TensorDType = "float32"
	DTypeInt64   TensorDType = "int64"
)

// Tensor is a host-side copy of an ORT value holding either float32 or
// int64 elements. An empty shape is a scalar.
type Tensor struct {
	shape []int64
	f32   []float32
	i64   []int64
}

// NewFloat32 copies data into a float32 tensor of shape.
func NewFloat32(data []float32, shape ...int64) (*Tensor, error) {
	if err := checkShape(shape, len(data)); err != nil {
		return nil, err
	}
	return &Tensor{
		shape: append([]int64(nil), shape...),
		f32:   append(make([]float32, 0, len(data)), data...),
	}, nil
}

// NewInt64 copies data into an int64 tensor of shape.
func NewInt64(data []int64, shape ...int64) (*Tensor, error) {
	if err := checkShape(shape, len(data)); err != nil {
		return nil, err
	}
	return &Tensor{
		shape: append([]int64(nil), shape...),
		i64:   append(make([]int64, 0, len(data)), data...),
	}, nil
}

// Scalar returns a rank-0 int64 tensor, as used for sample rate inputs.
func Scalar(v int64) *Tensor {
	return &Tensor{i64: []int64{v}}
}

// Zeros returns a float32 tensor of shape filled with zeros.
func Zeros(shape ...int64) (*Tensor, error) {
	n, err := elementCount(shape)
	if err != nil {
		return nil, err
	}
	return &Tensor{shape: append([]int64(nil), shape...), f32: make([]float32, n)}, nil
}

// DType reports the element type.
func (t *Tensor) DType() TensorDType {
	if t.i64 != nil {
		return DTypeInt64
	}
	return DTypeFloat32
}

// Shape returns a copy of the dimensions.
func (t *Tensor) Shape() []int64 {
	return append([]int64(nil), t.shape...)
}

// Float32 returns a copy of the data of a float32 tensor.
func (t *Tensor) Float32() ([]float32, error) {
	if t == nil {
		return nil, fmt.Errorf("expected float32 tensor, got nil")
	}
	if t.DType() != DTypeFloat32 {
		return nil, fmt.Errorf("expected float32 tensor, got %s", t.DType())
	}
	return append([]float32(nil), t.f32...), nil
}

// Int64 returns a copy of the data of an int64 tensor.
func (t *Tensor) Int64() ([]int64, error) {
	if t == nil {
		return nil, fmt.Errorf("expected int64 tensor, got nil")
	}
	if t.DType() != DTypeInt64 {
		return nil, fmt.Errorf("expected int64 tensor, got %s", t.DType())
	}
	return append([]int64(nil), t.i64...), nil
}

func checkShape(shape []int64, n int) error {
	count, err := elementCount(shape)
	if err != nil {
		return err
	}
	if count != n {
		return fmt.Errorf("shape %v expects %d elements, got %d", shape, count, n)
	}
	return nil
}

func elementCount(shape []int64) (int, error) {
	count := int64(1)
	for i, dim := range shape {
		if dim < 1 {
			return 0, fmt.Errorf("shape[%d]=%d is not positive", i, dim)
		}
		if count > math.MaxInt64/dim {
			return 0, fmt.Errorf("shape %v overflows element count", shape)
		}
		count *= dim
	}
	if count > int64(math.MaxInt) {
		return 0, fmt.Errorf("shape %v exceeds platform int capacity", shape)
	}
	return int(count), nil
}
