package tensor

import "fmt"

// Tensor is a non-owning view into a Storage: an element offset, a shape
// and per-dimension strides. The storage outlives every view over it.
type Tensor struct {
	storage *Storage
	offset  int64
	shape   Shape
	stride  []int
}

// NewTensor constructs a view over storage. A nil stride selects row-major
// strides for the shape. The view's extent must fit inside the storage.
func NewTensor(storage *Storage, offset int64, shape Shape, stride []int) (*Tensor, error) {
	if storage == nil {
		return nil, fmt.Errorf("nil storage")
	}
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape: %w", err)
	}
	if stride == nil {
		stride = shape.ComputeStrides()
	}
	if len(stride) != len(shape) {
		return nil, fmt.Errorf("stride rank %d does not match shape rank %d", len(stride), len(shape))
	}
	if offset < 0 {
		return nil, fmt.Errorf("negative storage offset %d", offset)
	}
	// Largest element index the view can touch.
	maxIndex := offset
	for i, dim := range shape {
		maxIndex += int64(dim-1) * int64(stride[i])
	}
	if maxIndex >= storage.Len() {
		return nil, fmt.Errorf("view extent %d exceeds storage of %d elements", maxIndex+1, storage.Len())
	}
	return &Tensor{
		storage: storage,
		offset:  offset,
		shape:   shape.Clone(),
		stride:  append([]int(nil), stride...),
	}, nil
}

// Storage returns the underlying storage. Views over the same storage
// return the same instance.
func (t *Tensor) Storage() *Storage { return t.storage }

// Offset returns the element offset into the storage.
func (t *Tensor) Offset() int64 { return t.offset }

// Shape returns the view's dimensions.
func (t *Tensor) Shape() Shape { return t.shape }

// Stride returns the view's per-dimension strides.
func (t *Tensor) Stride() []int { return t.stride }

// DType returns the element type of the underlying storage.
func (t *Tensor) DType() DataType { return t.storage.DType() }

// Device returns the device of the underlying storage.
func (t *Tensor) Device() Device { return t.storage.Device() }
