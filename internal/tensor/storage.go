package tensor

import (
	"fmt"
	"io"
	"sync/atomic"
)

// nextStorageID hands out process-unique storage identities.
var nextStorageID atomic.Uint64

// Storage is a flat, byte-addressable block of memory with an associated
// element type and device. Every Storage has a process-unique identity
// that is stable for its lifetime; two tensor views alias each other
// exactly when they reference the same Storage instance.
//
// A Storage produced by Slice shares its bytes with the root it was cut
// from: writes through either are visible through both.
type Storage struct {
	data   []byte
	dtype  DataType
	device Device
	id     uint64

	// view bookkeeping: non-nil root means this storage is a sub-range
	// of root at byte offset viewOffset.
	root       *Storage
	viewOffset int64

	// uninitialized marks a storage whose bytes have been allocated but
	// not yet filled from the archive. Device restorers use it to pick
	// allocate-then-copy over a direct transfer.
	uninitialized bool
}

// Alloc creates a zero-filled Storage holding n elements of dtype.
func Alloc(n int64, dtype DataType, device Device) (*Storage, error) {
	if n < 0 {
		return nil, fmt.Errorf("negative storage size %d", n)
	}
	return &Storage{
		data:   make([]byte, n*int64(dtype.Size())),
		dtype:  dtype,
		device: device,
		id:     nextStorageID.Add(1),
	}, nil
}

// AllocUninitialized creates a Storage like Alloc but flagged as not yet
// filled. Fill clears the flag.
func AllocUninitialized(n int64, dtype DataType, device Device) (*Storage, error) {
	s, err := Alloc(n, dtype, device)
	if err != nil {
		return nil, err
	}
	s.uninitialized = true
	return s, nil
}

// FromBytes wraps an existing byte slice as a Storage. The slice length
// must be a multiple of the element size. The storage takes ownership of
// the slice.
func FromBytes(data []byte, dtype DataType, device Device) (*Storage, error) {
	if len(data)%dtype.Size() != 0 {
		return nil, fmt.Errorf("byte length %d is not a multiple of %s element size %d",
			len(data), dtype, dtype.Size())
	}
	return &Storage{
		data:   data,
		dtype:  dtype,
		device: device,
		id:     nextStorageID.Add(1),
	}, nil
}

// ID returns the process-unique identity of this storage instance.
func (s *Storage) ID() uint64 { return s.id }

// Len returns the number of elements.
func (s *Storage) Len() int64 { return int64(len(s.data)) / int64(s.dtype.Size()) }

// ByteLen returns the total size in bytes.
func (s *Storage) ByteLen() int64 { return int64(len(s.data)) }

// DType returns the element type.
func (s *Storage) DType() DataType { return s.dtype }

// Device returns the device the storage is tagged with.
func (s *Storage) Device() Device { return s.device }

// Data returns the raw bytes. Callers share the underlying memory.
func (s *Storage) Data() []byte { return s.data }

// Root returns the storage this one is a sub-range of, or nil for a root
// storage.
func (s *Storage) Root() *Storage { return s.root }

// ViewOffset returns the byte offset into Root, 0 for root storages.
func (s *Storage) ViewOffset() int64 { return s.viewOffset }

// Uninitialized reports whether the bytes are still unfilled.
func (s *Storage) Uninitialized() bool { return s.uninitialized }

// Slice returns a view covering n elements starting at element offset.
// The view shares bytes with the receiver's root; it has its own identity.
func (s *Storage) Slice(offset, n int64) (*Storage, error) {
	if offset < 0 || n < 0 || offset+n > s.Len() {
		return nil, fmt.Errorf("slice [%d:%d] out of range for storage of %d elements",
			offset, offset+n, s.Len())
	}
	elemSize := int64(s.dtype.Size())
	byteOff := offset * elemSize

	root := s
	rootOff := byteOff
	if s.root != nil {
		root = s.root
		rootOff = s.viewOffset + byteOff
	}
	return &Storage{
		data:       s.data[byteOff : byteOff+n*elemSize : byteOff+n*elemSize],
		dtype:      s.dtype,
		device:     s.device,
		id:         nextStorageID.Add(1),
		root:       root,
		viewOffset: rootOff,
	}, nil
}

// To retags the storage to another device and returns it. The bytes stay
// host-resident; placement is logical until a compute backend claims them.
func (s *Storage) To(device Device) *Storage {
	s.device = device
	return s
}

// Fill reads exactly ByteLen bytes from r into the storage and clears the
// uninitialized flag.
func (s *Storage) Fill(r io.Reader) error {
	if _, err := io.ReadFull(r, s.data); err != nil {
		return fmt.Errorf("failed to fill storage: %w", err)
	}
	s.uninitialized = false
	return nil
}

// WriteTo writes the raw bytes to w, satisfying io.WriterTo. Archive
// writers stream buffer members through it.
func (s *Storage) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(s.data)
	return int64(n), err
}
