package serialization

import (
	"fmt"
	"io"
	"strconv"

	"github.com/vreis/pytorch/internal/tensor"
)

// storageRefKind tags external references that stand in for storages
// inside the encoded graph.
const storageRefKind = "storage"

// tensorNodeName names tensor views in the encoded graph. The graph codec
// rebuilds them through buildValue without ever learning their layout.
const tensorNodeName = "tensor"

// saveBridge is the encode-side externalization hook. It claims storages,
// assigns archive keys deduplicated by storage identity and collects the
// root storages whose bytes the writer must emit.
type saveBridge struct {
	registry *Registry
	keys     map[uint64]string          // storage identity -> archive key
	storages map[string]*tensor.Storage // archive key -> storage to write
}

func newSaveBridge(reg *Registry) *saveBridge {
	return &saveBridge{
		registry: reg,
		keys:     make(map[uint64]string),
		storages: make(map[string]*tensor.Storage),
	}
}

// Externalize replaces a storage with the reference
//
//	[kind, dtype, key, location, elementCount, viewMetadata|nil]
//
// where viewMetadata is [rootKey, byteOffset, elementCount] when the
// storage is a sub-range of a root that already has a key. Non-storage
// values are left to the graph codec.
func (b *saveBridge) Externalize(v any) (any, bool, error) {
	s, ok := v.(*tensor.Storage)
	if !ok {
		return nil, false, nil
	}

	location, err := b.registry.Tag(s)
	if err != nil {
		return nil, false, err
	}
	key := b.key(s)

	if root := s.Root(); root != nil {
		if rootKey, keyed := b.keys[root.ID()]; keyed {
			view := []any{rootKey, s.ViewOffset(), s.Len()}
			return []any{storageRefKind, s.DType().String(), key, location, s.Len(), view}, true, nil
		}
	}

	// Root (or standalone view): its bytes go into the archive.
	b.storages[key] = s
	return []any{storageRefKind, s.DType().String(), key, location, s.Len(), nil}, true, nil
}

// key returns the archive key for a storage, assigning one on first use.
// Keys are stable for the lifetime of the save call.
func (b *saveBridge) key(s *tensor.Storage) string {
	if k, ok := b.keys[s.ID()]; ok {
		return k
	}
	k := strconv.FormatUint(s.ID(), 10)
	b.keys[s.ID()] = k
	return k
}

// loadBridge is the decode-side hook. It materializes each archived
// storage at most once, restores it through the remap chain and
// reconstructs view aliasing from view metadata.
type loadBridge struct {
	open    func(key string) (io.ReadCloser, int64, error)
	restore RestoreFunc
	loaded  map[string]*tensor.Storage
}

func newLoadBridge(open func(key string) (io.ReadCloser, int64, error), restore RestoreFunc) *loadBridge {
	return &loadBridge{
		open:    open,
		restore: restore,
		loaded:  make(map[string]*tensor.Storage),
	}
}

// Internalize resolves one storage reference produced by Externalize.
func (b *loadBridge) Internalize(ref any) (any, error) {
	list, ok := ref.([]any)
	if !ok || len(list) == 0 {
		return nil, fmt.Errorf("%w: reference is %T, not a tuple", ErrUnknownReferenceKind, ref)
	}
	kind, _ := list[0].(string)
	if kind != storageRefKind {
		return nil, fmt.Errorf("%w: expected %q, got %q", ErrUnknownReferenceKind, storageRefKind, kind)
	}
	if len(list) != 6 {
		return nil, &ValidationError{
			Kind:    "bad_reference",
			Details: fmt.Sprintf("storage reference has %d fields, want 6", len(list)),
		}
	}

	dtypeName, _ := list[1].(string)
	key, _ := list[2].(string)
	location, _ := list[3].(string)
	size, ok := list[4].(int64)
	if !ok {
		return nil, &ValidationError{
			Kind:    "bad_reference",
			Record:  key,
			Details: fmt.Sprintf("element count is %T, want an integer", list[4]),
		}
	}
	dtype, err := tensor.ParseDataType(dtypeName)
	if err != nil {
		return nil, &ValidationError{Kind: "bad_reference", Record: key, Details: err.Error()}
	}

	if list[5] == nil {
		return b.storage(key, dtype, location, size)
	}

	view, ok := list[5].([]any)
	if !ok || len(view) != 3 {
		return nil, &ValidationError{Kind: "bad_reference", Record: key, Details: "malformed view metadata"}
	}
	rootKey, _ := view[0].(string)
	byteOffset, _ := view[1].(int64)
	viewSize, _ := view[2].(int64)

	if cached, ok := b.loaded[key]; ok {
		return cached, nil
	}
	root, err := b.storage(rootKey, dtype, location, -1)
	if err != nil {
		return nil, err
	}
	elemSize := int64(dtype.Size())
	if byteOffset%elemSize != 0 {
		return nil, &ValidationError{
			Kind:    "view_out_of_range",
			Record:  key,
			Details: fmt.Sprintf("byte offset %d not aligned to %s elements", byteOffset, dtype),
		}
	}
	sliced, err := root.Slice(byteOffset/elemSize, viewSize)
	if err != nil {
		return nil, &ValidationError{Kind: "view_out_of_range", Record: key, Details: err.Error()}
	}
	b.loaded[key] = sliced
	return sliced, nil
}

// storage materializes the storage under key, reading its archive member
// exactly once. A negative size derives the element count from the member
// length.
func (b *loadBridge) storage(key string, dtype tensor.DataType, location string, size int64) (*tensor.Storage, error) {
	if s, ok := b.loaded[key]; ok {
		return s, nil
	}

	rc, byteLen, err := b.open(key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	if size < 0 {
		if byteLen%int64(dtype.Size()) != 0 {
			return nil, &ValidationError{
				Kind:    "bad_buffer",
				Record:  key,
				Details: fmt.Sprintf("member length %d is not a multiple of %s element size", byteLen, dtype),
			}
		}
		size = byteLen / int64(dtype.Size())
	}

	s, err := tensor.AllocUninitialized(size, dtype, tensor.Device{})
	if err != nil {
		return nil, err
	}
	restored, err := b.restore(s, location)
	if err != nil {
		return nil, err
	}
	if err := restored.Fill(rc); err != nil {
		return nil, fmt.Errorf("failed to read buffer %q: %w", key, err)
	}
	b.loaded[key] = restored
	return restored, nil
}

// reduceValue lowers tensor views into named graph nodes whose state is
// [storage, offset, shape, stride]; the storage inside the state is in
// turn externalized by the bridge.
func reduceValue(v any) (string, any, bool, error) {
	t, ok := v.(*tensor.Tensor)
	if !ok {
		return "", nil, false, nil
	}
	shape := make([]any, len(t.Shape()))
	for i, dim := range t.Shape() {
		shape[i] = int64(dim)
	}
	stride := make([]any, len(t.Stride()))
	for i, st := range t.Stride() {
		stride[i] = int64(st)
	}
	state := []any{t.Storage(), t.Offset(), shape, stride}
	return tensorNodeName, state, true, nil
}

// buildValue rebuilds the named nodes reduceValue produces.
func buildValue(name string, state any) (any, error) {
	if name != tensorNodeName {
		return nil, fmt.Errorf("unknown graph node type %q", name)
	}
	list, ok := state.([]any)
	if !ok || len(list) != 4 {
		return nil, &ValidationError{Kind: "bad_tensor_node", Details: fmt.Sprintf("state is %T with %d fields, want 4", state, len(list))}
	}
	storage, ok := list[0].(*tensor.Storage)
	if !ok {
		return nil, &ValidationError{Kind: "bad_tensor_node", Details: fmt.Sprintf("storage field is %T", list[0])}
	}
	offset, _ := list[1].(int64)
	shape, err := intSlice(list[2])
	if err != nil {
		return nil, &ValidationError{Kind: "bad_tensor_node", Details: "shape: " + err.Error()}
	}
	stride, err := intSlice(list[3])
	if err != nil {
		return nil, &ValidationError{Kind: "bad_tensor_node", Details: "stride: " + err.Error()}
	}
	t, err := tensor.NewTensor(storage, offset, tensor.Shape(shape), stride)
	if err != nil {
		return nil, &ValidationError{Kind: "bad_tensor_node", Details: err.Error()}
	}
	return t, nil
}

func intSlice(v any) ([]int, error) {
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("expected a list, got %T", v)
	}
	out := make([]int, len(list))
	for i, item := range list {
		n, ok := item.(int64)
		if !ok {
			return nil, fmt.Errorf("expected an integer at index %d, got %T", i, item)
		}
		out[i] = int(n)
	}
	return out, nil
}
