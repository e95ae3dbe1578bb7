package tensor

import (
	"reflect"
	"testing"
)

func TestNewTensorDefaultStrides(t *testing.T) {
	s, _ := Alloc(6, Float32, Device{})
	v, err := NewTensor(s, 0, Shape{2, 3}, nil)
	if err != nil {
		t.Fatalf("NewTensor failed: %v", err)
	}
	if !reflect.DeepEqual(v.Stride(), []int{3, 1}) {
		t.Errorf("Stride = %v, want [3 1]", v.Stride())
	}
	if v.Storage() != s {
		t.Error("Storage should be the instance the view was built over")
	}
	if v.DType() != Float32 {
		t.Errorf("DType = %v, want Float32", v.DType())
	}
}

func TestNewTensorExtentCheck(t *testing.T) {
	s, _ := Alloc(6, Float32, Device{})
	if _, err := NewTensor(s, 2, Shape{2, 3}, nil); err == nil {
		t.Error("view extending past the storage should fail")
	}
	// Offset 2 with a smaller shape still fits.
	if _, err := NewTensor(s, 2, Shape{2, 2}, nil); err != nil {
		t.Errorf("in-range view failed: %v", err)
	}
}

func TestNewTensorValidation(t *testing.T) {
	s, _ := Alloc(6, Float32, Device{})
	if _, err := NewTensor(nil, 0, Shape{1}, nil); err == nil {
		t.Error("nil storage should fail")
	}
	if _, err := NewTensor(s, -1, Shape{2}, nil); err == nil {
		t.Error("negative offset should fail")
	}
	if _, err := NewTensor(s, 0, Shape{0, 2}, nil); err == nil {
		t.Error("zero dimension should fail")
	}
	if _, err := NewTensor(s, 0, Shape{2, 3}, []int{1}); err == nil {
		t.Error("stride rank mismatch should fail")
	}
}

func TestNewTensorCopiesLayout(t *testing.T) {
	s, _ := Alloc(6, Float32, Device{})
	shape := Shape{2, 3}
	stride := []int{3, 1}
	v, err := NewTensor(s, 0, shape, stride)
	if err != nil {
		t.Fatalf("NewTensor failed: %v", err)
	}
	shape[0] = 99
	stride[0] = 99
	if v.Shape()[0] != 2 || v.Stride()[0] != 3 {
		t.Error("tensor should not alias the caller's shape or stride slices")
	}
}

func TestShapeHelpers(t *testing.T) {
	s := Shape{2, 3, 4}
	if s.NumElements() != 24 {
		t.Errorf("NumElements = %d, want 24", s.NumElements())
	}
	if !s.Equal(Shape{2, 3, 4}) || s.Equal(Shape{2, 3}) {
		t.Error("Equal misbehaved")
	}
	if !reflect.DeepEqual(s.ComputeStrides(), []int{12, 4, 1}) {
		t.Errorf("ComputeStrides = %v, want [12 4 1]", s.ComputeStrides())
	}
}
