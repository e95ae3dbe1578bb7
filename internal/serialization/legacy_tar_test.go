package serialization

import (
	"archive/tar"
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/fxamacker/cbor/v2"

	"github.com/vreis/pytorch/internal/graph"
	"github.com/vreis/pytorch/internal/tensor"
)

// legacyRef marks a position in the test graph that is written as a
// reference into the legacy object table.
type legacyRef struct {
	key int64
}

// legacyClass marks a container class reference with optional source.
type legacyClass struct {
	name, file, source string
}

type legacyRefExternalizer struct{}

func (legacyRefExternalizer) Externalize(v any) (any, bool, error) {
	switch r := v.(type) {
	case legacyRef:
		return r.key, true, nil
	case legacyClass:
		return []any{"class", r.name, r.file, r.source}, true, nil
	}
	return nil, false, nil
}

func mustCBOR(t *testing.T, v any) []byte {
	t.Helper()
	data, err := cbor.Marshal(v)
	if err != nil {
		t.Fatalf("cbor encode failed: %v", err)
	}
	return data
}

// legacyArchiveParts assembles the three members of a synthetic
// sequential archive: one float32 storage of four elements under key 0, a
// two-element view of it under key 1, and a rank-1 tensor under key 10.
type legacyArchiveParts struct {
	storages []byte
	tensors  []byte
	pickle   []byte
}

func buildLegacyParts(t *testing.T, pickleObj any) legacyArchiveParts {
	t.Helper()

	var storages bytes.Buffer
	storages.Write(mustCBOR(t, int64(1)))
	storages.Write(mustCBOR(t, legacyStorageRecord{Key: 0, Location: "cpu", DType: "float32"}))
	payload := make([]byte, 8+16)
	binary.LittleEndian.PutUint64(payload[:8], 4)
	for i, v := range []float32{1, 2, 3, 4} {
		binary.LittleEndian.PutUint32(payload[8+4*i:], math.Float32bits(v))
	}
	storages.Write(payload)
	storages.Write(mustCBOR(t, []legacyViewRecord{{TargetKey: 1, RootKey: 0, Offset: 1, Size: 2}}))

	var tensors bytes.Buffer
	tensors.Write(mustCBOR(t, int64(1)))
	tensors.Write(mustCBOR(t, legacyTensorRecord{Key: 10, StorageKey: 0, DType: "float32"}))
	desc := make([]byte, 4+4+8+8+8) // rank, pad, shape, stride, offset
	binary.LittleEndian.PutUint32(desc[0:], 1)
	binary.LittleEndian.PutUint64(desc[8:], 3)  // shape [3]
	binary.LittleEndian.PutUint64(desc[16:], 1) // stride [1]
	binary.LittleEndian.PutUint64(desc[24:], 1) // storage offset
	tensors.Write(desc)

	var pickle bytes.Buffer
	enc := graph.NewEncoder(&pickle)
	enc.Externalizer = legacyRefExternalizer{}
	if err := enc.Encode(pickleObj); err != nil {
		t.Fatalf("failed to encode graph: %v", err)
	}

	return legacyArchiveParts{
		storages: storages.Bytes(),
		tensors:  tensors.Bytes(),
		pickle:   pickle.Bytes(),
	}
}

func packLegacyArchive(t *testing.T, parts legacyArchiveParts) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, member := range []struct {
		name string
		data []byte
	}{
		{legacyStoragesMember, parts.storages},
		{legacyTensorsMember, parts.tensors},
		{legacyGraphMember, parts.pickle},
	} {
		if err := tw.WriteHeader(&tar.Header{
			Name: member.name,
			Size: int64(len(member.data)),
			Mode: 0o644,
		}); err != nil {
			t.Fatalf("failed to write tar header: %v", err)
		}
		if _, err := tw.Write(member.data); err != nil {
			t.Fatalf("failed to write tar member: %v", err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("failed to close tar: %v", err)
	}
	return buf.Bytes()
}

func TestLegacyArchiveRoundTrip(t *testing.T) {
	obj := map[string]any{
		"weight": legacyRef{key: 10},
		"view":   legacyRef{key: 1},
		"step":   int64(3),
	}
	data := packLegacyArchive(t, buildLegacyParts(t, obj))

	out, err := Load(bytes.NewReader(data), nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	m := out.(map[string]any)
	if m["step"] != int64(3) {
		t.Errorf("step = %v, want 3", m["step"])
	}

	weight, ok := m["weight"].(*tensor.Tensor)
	if !ok {
		t.Fatalf("weight is %T, want *tensor.Tensor", m["weight"])
	}
	if !weight.Shape().Equal(tensor.Shape{3}) {
		t.Errorf("weight Shape = %v, want [3]", weight.Shape())
	}
	if weight.Offset() != 1 {
		t.Errorf("weight Offset = %d, want 1", weight.Offset())
	}
	if got := math.Float32frombits(binary.LittleEndian.Uint32(weight.Storage().Data()[4:])); got != 2 {
		t.Errorf("storage element 1 = %v, want 2", got)
	}

	view, ok := m["view"].(*tensor.Storage)
	if !ok {
		t.Fatalf("view is %T, want *tensor.Storage", m["view"])
	}
	if view.Len() != 2 {
		t.Errorf("view Len = %d, want 2", view.Len())
	}
	if view.Root() != weight.Storage() {
		t.Error("view should alias the tensor's storage")
	}
}

func TestLegacyArchiveRemap(t *testing.T) {
	data := packLegacyArchive(t, buildLegacyParts(t, legacyRef{key: 0}))
	out, err := Load(bytes.NewReader(data), "cpu")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	s := out.(*tensor.Storage)
	if s.Device().Kind != tensor.CPU {
		t.Errorf("Device = %v, want cpu", s.Device())
	}
	if s.Len() != 4 {
		t.Errorf("Len = %d, want 4", s.Len())
	}
}

func TestLegacyArchiveUnknownObject(t *testing.T) {
	data := packLegacyArchive(t, buildLegacyParts(t, legacyRef{key: 99}))
	_, err := Load(bytes.NewReader(data), nil)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error = %v, want a ValidationError", err)
	}
	if verr.Kind != "unknown_object" {
		t.Errorf("Kind = %q, want unknown_object", verr.Kind)
	}
}

func TestLegacyArchiveClassReference(t *testing.T) {
	data := packLegacyArchive(t, buildLegacyParts(t, legacyClass{name: "mod.Linear"}))
	out, err := Load(bytes.NewReader(data), nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	cls, ok := out.(ClassRef)
	if !ok {
		t.Fatalf("loaded %T, want ClassRef", out)
	}
	if cls.Name != "mod.Linear" {
		t.Errorf("Name = %q, want mod.Linear", cls.Name)
	}
}

func TestLegacyArchiveMissingMember(t *testing.T) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	if err := tw.WriteHeader(&tar.Header{Name: legacyStoragesMember, Size: 0, Mode: 0o644}); err != nil {
		t.Fatal(err)
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(bytes.NewReader(buf.Bytes()), nil); err == nil {
		t.Error("an archive missing members should fail")
	}
}

func TestLegacyArchiveTruncatedPayload(t *testing.T) {
	parts := buildLegacyParts(t, legacyRef{key: 0})
	// Cut the storage payload short.
	parts.storages = parts.storages[:len(parts.storages)-20]
	data := packLegacyArchive(t, parts)
	if _, err := Load(bytes.NewReader(data), nil); err == nil {
		t.Error("a truncated storages member should fail")
	}
}

func TestLegacyArchiveHugeElementCount(t *testing.T) {
	// A float32 element count of (1<<61)+1 overflows the byte length if
	// multiplied before bounds checking; it must fail cleanly instead.
	var storages bytes.Buffer
	storages.Write(mustCBOR(t, int64(1)))
	storages.Write(mustCBOR(t, legacyStorageRecord{Key: 0, Location: "cpu", DType: "float32"}))
	payload := make([]byte, 8+16)
	binary.LittleEndian.PutUint64(payload[:8], (1<<61)+1)
	storages.Write(payload)
	storages.Write(mustCBOR(t, []legacyViewRecord{}))

	parts := buildLegacyParts(t, legacyRef{key: 0})
	parts.storages = storages.Bytes()
	data := packLegacyArchive(t, parts)

	_, err := Load(bytes.NewReader(data), nil)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error = %v, want a ValidationError", err)
	}
	if verr.Kind != "bad_storage" {
		t.Errorf("Kind = %q, want bad_storage", verr.Kind)
	}
}

func TestLegacyArchiveTensorsEndAfterRecord(t *testing.T) {
	// The tensors member ends right after the CBOR record, before the
	// binary descriptor begins.
	var tensors bytes.Buffer
	tensors.Write(mustCBOR(t, int64(1)))
	tensors.Write(mustCBOR(t, legacyTensorRecord{Key: 10, StorageKey: 0, DType: "float32"}))

	parts := buildLegacyParts(t, legacyRef{key: 0})
	parts.tensors = tensors.Bytes()
	data := packLegacyArchive(t, parts)

	_, err := Load(bytes.NewReader(data), nil)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error = %v, want a ValidationError", err)
	}
	if verr.Kind != "bad_tensor" {
		t.Errorf("Kind = %q, want bad_tensor", verr.Kind)
	}
}

func TestLegacyArchiveBadViewRange(t *testing.T) {
	var storages bytes.Buffer
	storages.Write(mustCBOR(t, int64(1)))
	storages.Write(mustCBOR(t, legacyStorageRecord{Key: 0, Location: "cpu", DType: "float32"}))
	payload := make([]byte, 8+8)
	binary.LittleEndian.PutUint64(payload[:8], 2)
	storages.Write(payload)
	// View past the end of the two-element root.
	storages.Write(mustCBOR(t, []legacyViewRecord{{TargetKey: 1, RootKey: 0, Offset: 1, Size: 4}}))

	parts := buildLegacyParts(t, legacyRef{key: 0})
	parts.storages = storages.Bytes()
	data := packLegacyArchive(t, parts)

	_, err := Load(bytes.NewReader(data), nil)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error = %v, want a ValidationError", err)
	}
	if verr.Kind != "view_out_of_range" {
		t.Errorf("Kind = %q, want view_out_of_range", verr.Kind)
	}
}
