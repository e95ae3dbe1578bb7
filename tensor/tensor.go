// Copyright 2026 The vreis/pytorch Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor provides the public API for the storage and view types
// that the serialization engine persists:
//   - Storage: a flat, device-tagged block of typed memory
//   - Tensor: a strided view over a Storage
//   - Shape, DataType, Device: core type definitions
//
// Example:
//
//	s, _ := tensor.Alloc(6, tensor.Float32, tensor.Device{})
//	t, _ := tensor.NewTensor(s, 0, tensor.Shape{2, 3}, nil)
package tensor

import (
	"github.com/vreis/pytorch/internal/tensor"
)

// DataType represents the element type of a storage.
type DataType = tensor.DataType

// Data type constants.
const (
	Float32 DataType = tensor.Float32
	Float64 DataType = tensor.Float64
	Int32   DataType = tensor.Int32
	Int64   DataType = tensor.Int64
	Uint8   DataType = tensor.Uint8
	Bool    DataType = tensor.Bool
)

// ParseDataType converts the string form produced by DataType.String back
// into a DataType.
func ParseDataType(s string) (DataType, error) { return tensor.ParseDataType(s) }

// DeviceKind identifies a class of compute device.
type DeviceKind = tensor.DeviceKind

// Device kind constants.
const (
	CPU  DeviceKind = tensor.CPU
	CUDA DeviceKind = tensor.CUDA
)

// Device identifies where storage bytes logically reside. The zero value
// is the CPU device.
type Device = tensor.Device

// ParseDevice parses a location-tag string ("cpu", "cuda", "cuda:1") into
// a Device.
func ParseDevice(s string) (Device, error) { return tensor.ParseDevice(s) }

// Shape represents the dimensions of a tensor.
type Shape = tensor.Shape

// Storage is a flat, byte-addressable block of memory with an associated
// element type and device.
type Storage = tensor.Storage

// Alloc creates a zero-filled Storage holding n elements of dtype.
func Alloc(n int64, dtype DataType, device Device) (*Storage, error) {
	return tensor.Alloc(n, dtype, device)
}

// FromBytes wraps an existing byte slice as a Storage.
func FromBytes(data []byte, dtype DataType, device Device) (*Storage, error) {
	return tensor.FromBytes(data, dtype, device)
}

// Tensor is a strided view over a Storage.
type Tensor = tensor.Tensor

// NewTensor creates a tensor view over storage. A nil stride selects the
// contiguous row-major layout for shape.
func NewTensor(storage *Storage, offset int64, shape Shape, stride []int) (*Tensor, error) {
	return tensor.NewTensor(storage, offset, shape, stride)
}
