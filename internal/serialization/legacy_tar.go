package serialization

import (
	"archive/tar"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fxamacker/cbor/v2"

	"github.com/vreis/pytorch/internal/graph"
	"github.com/vreis/pytorch/internal/tensor"
)

// Limits for legacy archive records, resource protection against
// malformed counts.
const (
	maxLegacyRecords = 100_000
	maxLegacyRank    = 64
)

type legacyStorageRecord struct {
	_        struct{} `cbor:",toarray"`
	Key      int64
	Location string
	DType    string
}

type legacyViewRecord struct {
	_         struct{} `cbor:",toarray"`
	TargetKey int64
	RootKey   int64
	Offset    int64 // element offset into the root
	Size      int64 // element count
}

type legacyTensorRecord struct {
	_          struct{} `cbor:",toarray"`
	Key        int64
	StorageKey int64
	DType      string
}

// ClassRef identifies a container class referenced from a legacy archive.
// The class itself is not reconstructed; only its name survives.
type ClassRef struct {
	Name string
}

// legacyTarLoad reads the second-generation sequential archive: members
// "storages", "tensors" and "pickle", extracted into a temporary
// directory that is removed on every exit path. Storages and tensors are
// fully materialized before the graph that references them is decoded.
func legacyTarLoad(rs io.ReadSeeker, restore RestoreFunc) (any, error) {
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to rewind source: %w", err)
	}

	tmpdir, err := os.MkdirTemp("", "storage-extract-")
	if err != nil {
		return nil, fmt.Errorf("failed to create extraction directory: %w", err)
	}
	defer os.RemoveAll(tmpdir)

	if err := extractLegacyMembers(rs, tmpdir); err != nil {
		return nil, err
	}

	objects := make(map[int64]any)
	if err := loadLegacyStorages(filepath.Join(tmpdir, legacyStoragesMember), restore, objects); err != nil {
		return nil, err
	}
	if err := loadLegacyTensors(filepath.Join(tmpdir, legacyTensorsMember), objects); err != nil {
		return nil, err
	}

	//nolint:gosec // G304: path is inside our own temp directory
	gf, err := os.Open(filepath.Join(tmpdir, legacyGraphMember))
	if err != nil {
		return nil, fmt.Errorf("failed to open extracted graph member: %w", err)
	}
	defer gf.Close()

	dec := graph.NewDecoder(gf)
	dec.Internalizer = &legacyResolver{objects: objects}
	dec.Build = buildValue
	return dec.Decode()
}

func extractLegacyMembers(rs io.Reader, tmpdir string) error {
	wanted := map[string]bool{
		legacyStoragesMember: false,
		legacyTensorsMember:  false,
		legacyGraphMember:    false,
	}
	tr := tar.NewReader(rs)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read legacy archive: %w", err)
		}
		seen, ok := wanted[hdr.Name]
		if !ok || seen {
			continue
		}
		//nolint:gosec // G304: member names are from the fixed set above
		f, err := os.Create(filepath.Join(tmpdir, hdr.Name))
		if err != nil {
			return fmt.Errorf("failed to extract member %q: %w", hdr.Name, err)
		}
		//nolint:gosec // G110: legacy members are bounded by their record limits
		if _, err := io.Copy(f, tr); err != nil {
			_ = f.Close()
			return fmt.Errorf("failed to extract member %q: %w", hdr.Name, err)
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("failed to extract member %q: %w", hdr.Name, err)
		}
		wanted[hdr.Name] = true
	}
	for name, seen := range wanted {
		if !seen {
			return fmt.Errorf("legacy archive is missing member %q", name)
		}
	}
	return nil
}

// loadLegacyStorages parses the storages member: a record count, then per
// storage a record followed by its raw payload (8-byte little-endian
// element count plus bytes), then the list of view records sliced out of
// the already-materialized roots.
func loadLegacyStorages(path string, restore RestoreFunc, objects map[int64]any) error {
	//nolint:gosec // G304: path is inside our own temp directory
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read extracted storages member: %w", err)
	}

	var count int64
	rest, err := cbor.UnmarshalFirst(data, &count)
	if err != nil {
		return fmt.Errorf("failed to decode storage count: %w", err)
	}
	if count < 0 || count > maxLegacyRecords {
		return &ValidationError{Kind: "bad_count", Details: fmt.Sprintf("storage count %d out of range", count)}
	}

	for i := int64(0); i < count; i++ {
		var rec legacyStorageRecord
		rest, err = cbor.UnmarshalFirst(rest, &rec)
		if err != nil {
			return fmt.Errorf("failed to decode storage record %d: %w", i, err)
		}
		dtype, err := tensor.ParseDataType(rec.DType)
		if err != nil {
			return &ValidationError{Kind: "bad_storage", Record: fmt.Sprint(rec.Key), Details: err.Error()}
		}
		if len(rest) < 8 {
			return &ValidationError{Kind: "bad_storage", Record: fmt.Sprint(rec.Key), Details: "truncated payload header"}
		}
		elems := int64(binary.LittleEndian.Uint64(rest[:8]))
		// Bound the element count by the bytes that actually remain before
		// multiplying, so a huge count cannot overflow the byte length.
		if elems < 0 || elems > int64(len(rest)-8)/int64(dtype.Size()) {
			return &ValidationError{Kind: "bad_storage", Record: fmt.Sprint(rec.Key), Details: "truncated payload"}
		}
		byteLen := elems * int64(dtype.Size())
		s, err := tensor.FromBytes(rest[8:8+byteLen:8+byteLen], dtype, tensor.Device{})
		if err != nil {
			return &ValidationError{Kind: "bad_storage", Record: fmt.Sprint(rec.Key), Details: err.Error()}
		}
		restored, err := restore(s, rec.Location)
		if err != nil {
			return err
		}
		objects[rec.Key] = restored
		rest = rest[8+byteLen:]
	}

	var views []legacyViewRecord
	if _, err := cbor.UnmarshalFirst(rest, &views); err != nil {
		return fmt.Errorf("failed to decode storage view records: %w", err)
	}
	for _, view := range views {
		root, ok := objects[view.RootKey].(*tensor.Storage)
		if !ok {
			return &ValidationError{
				Kind:    "unknown_storage",
				Record:  fmt.Sprint(view.TargetKey),
				Details: fmt.Sprintf("view references unknown root storage %d", view.RootKey),
			}
		}
		sliced, err := root.Slice(view.Offset, view.Size)
		if err != nil {
			return &ValidationError{Kind: "view_out_of_range", Record: fmt.Sprint(view.TargetKey), Details: err.Error()}
		}
		objects[view.TargetKey] = sliced
	}
	return nil
}

// loadLegacyTensors parses the tensors member: a record count, then per
// tensor a record followed by the fixed binary descriptor: a 4-byte rank,
// 4 bytes of padding kept from the old encoding, rank 8-byte signed shape
// entries, rank 8-byte signed stride entries and one 8-byte signed
// storage offset, all little-endian.
func loadLegacyTensors(path string, objects map[int64]any) error {
	//nolint:gosec // G304: path is inside our own temp directory
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read extracted tensors member: %w", err)
	}

	var count int64
	rest, err := cbor.UnmarshalFirst(data, &count)
	if err != nil {
		return fmt.Errorf("failed to decode tensor count: %w", err)
	}
	if count < 0 || count > maxLegacyRecords {
		return &ValidationError{Kind: "bad_count", Details: fmt.Sprintf("tensor count %d out of range", count)}
	}

	for i := int64(0); i < count; i++ {
		var rec legacyTensorRecord
		rest, err = cbor.UnmarshalFirst(rest, &rec)
		if err != nil {
			return fmt.Errorf("failed to decode tensor record %d: %w", i, err)
		}
		storage, ok := objects[rec.StorageKey].(*tensor.Storage)
		if !ok {
			return &ValidationError{
				Kind:    "unknown_storage",
				Record:  fmt.Sprint(rec.Key),
				Details: fmt.Sprintf("tensor references unknown storage %d", rec.StorageKey),
			}
		}

		if len(rest) < 8 {
			return &ValidationError{Kind: "bad_tensor", Record: fmt.Sprint(rec.Key), Details: "truncated descriptor"}
		}
		rank := int32(binary.LittleEndian.Uint32(rest[:4]))
		if rank < 0 || rank > maxLegacyRank {
			return &ValidationError{Kind: "bad_tensor", Record: fmt.Sprint(rec.Key), Details: fmt.Sprintf("rank %d out of range", rank)}
		}
		need := 4 + 4 + 8*int(rank)*2 + 8
		if len(rest) < need {
			return &ValidationError{Kind: "bad_tensor", Record: fmt.Sprint(rec.Key), Details: "truncated descriptor"}
		}
		// Skip the 4 padding bytes after the rank; the old encoding
		// wrote the rank as 8 bytes.
		body := rest[8:]
		shape := make(tensor.Shape, rank)
		for d := range shape {
			shape[d] = int(int64(binary.LittleEndian.Uint64(body[8*d:])))
		}
		body = body[8*int(rank):]
		stride := make([]int, rank)
		for d := range stride {
			stride[d] = int(int64(binary.LittleEndian.Uint64(body[8*d:])))
		}
		body = body[8*int(rank):]
		offset := int64(binary.LittleEndian.Uint64(body[:8]))

		t, err := tensor.NewTensor(storage, offset, shape, stride)
		if err != nil {
			return &ValidationError{Kind: "bad_tensor", Record: fmt.Sprint(rec.Key), Details: err.Error()}
		}
		objects[rec.Key] = t
		rest = rest[need:]
	}
	return nil
}

// legacyResolver resolves the legacy graph's references: integers index
// the object table built from the storage and tensor sections; a triple
// of strings marks a container class whose stored source is checked
// against the registered current source as a side effect.
type legacyResolver struct {
	objects map[int64]any
}

func (r *legacyResolver) Internalize(ref any) (any, error) {
	switch v := ref.(type) {
	case int64:
		obj, ok := r.objects[v]
		if !ok {
			return nil, &ValidationError{Kind: "unknown_object", Details: fmt.Sprintf("graph references unknown object %d", v)}
		}
		return obj, nil
	case []any:
		if len(v) == 0 {
			return nil, fmt.Errorf("%w: empty reference tuple", ErrUnknownReferenceKind)
		}
		kind, _ := v[0].(string)
		if kind != "class" {
			return nil, fmt.Errorf("%w: expected %q, got %q", ErrUnknownReferenceKind, "class", kind)
		}
		if len(v) != 4 {
			return nil, &ValidationError{
				Kind:    "bad_reference",
				Details: fmt.Sprintf("class reference has %d fields, want 4", len(v)),
			}
		}
		name, _ := v[1].(string)
		sourceFile, _ := v[2].(string)
		source, _ := v[3].(string)
		if name == "" {
			return nil, &ValidationError{Kind: "bad_reference", Details: "class reference without a name"}
		}
		// Classes saved without sources are not checked.
		if sourceFile != "" && source != "" {
			checkContainerSource(name, sourceFile, source)
		}
		return ClassRef{Name: name}, nil
	default:
		return nil, fmt.Errorf("%w: reference is %T", ErrUnknownReferenceKind, ref)
	}
}
