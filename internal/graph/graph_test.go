package graph

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, enc *Encoder, dec func(*Decoder), v any) any {
	t.Helper()
	var buf bytes.Buffer
	if enc == nil {
		enc = NewEncoder(&buf)
	} else {
		enc.w = &buf
	}
	require.NoError(t, enc.Encode(v))

	d := NewDecoder(&buf)
	if dec != nil {
		dec(d)
	}
	out, err := d.Decode()
	require.NoError(t, err)
	return out
}

func TestEncodeDecodePrimitives(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want any
	}{
		{"nil", nil, nil},
		{"bool", true, true},
		{"int widened", int(7), int64(7)},
		{"int32 widened", int32(-3), int64(-3)},
		{"int64", int64(1 << 40), int64(1 << 40)},
		{"uint8 widened", uint8(255), int64(255)},
		{"float32 widened", float32(1.5), float64(1.5)},
		{"float64", 3.25, 3.25},
		{"string", "hello", "hello"},
		{"bytes", []byte{1, 2, 3}, []byte{1, 2, 3}},
		{"zero int", 0, int64(0)},
		{"false", false, false},
		{"empty string", "", ""},
		{
			"list",
			[]any{int64(1), "two", 3.0},
			[]any{int64(1), "two", 3.0},
		},
		{
			"map",
			map[string]any{"a": int64(1), "b": nil},
			map[string]any{"a": int64(1), "b": nil},
		},
		{
			"nested",
			map[string]any{"xs": []any{map[string]any{"k": true}}},
			map[string]any{"xs": []any{map[string]any{"k": true}}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, roundTrip(t, nil, nil, tt.in))
		})
	}
}

func TestEncodeUint64Overflow(t *testing.T) {
	enc := NewEncoder(&bytes.Buffer{})
	err := enc.Encode(uint64(1 << 63))
	require.Error(t, err)
}

func TestEncodeUnsupportedType(t *testing.T) {
	enc := NewEncoder(&bytes.Buffer{})
	err := enc.Encode(make(chan int))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot encode value of type")
}

func TestMapEncodingDeterministic(t *testing.T) {
	m := map[string]any{"z": int64(1), "a": int64(2), "m": int64(3)}
	encode := func() []byte {
		var buf bytes.Buffer
		require.NoError(t, NewEncoder(&buf).Encode(m))
		return buf.Bytes()
	}
	first := encode()
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, encode())
	}
}

// handle is an opaque value the codec cannot encode on its own.
type handle struct {
	id int64
}

type handleExternalizer struct{}

func (handleExternalizer) Externalize(v any) (any, bool, error) {
	h, ok := v.(*handle)
	if !ok {
		return nil, false, nil
	}
	return h.id, true, nil
}

type handleInternalizer struct {
	seen []any
}

func (h *handleInternalizer) Internalize(ref any) (any, error) {
	h.seen = append(h.seen, ref)
	id, ok := ref.(int64)
	if !ok {
		return nil, fmt.Errorf("unexpected reference %T", ref)
	}
	return &handle{id: id}, nil
}

func TestExternalizeRoundTrip(t *testing.T) {
	in := map[string]any{
		"x": &handle{id: 11},
		"y": []any{&handle{id: 22}, "plain"},
	}

	enc := &Encoder{Externalizer: handleExternalizer{}}
	internalizer := &handleInternalizer{}
	out := roundTrip(t, enc, func(d *Decoder) { d.Internalizer = internalizer }, in)

	m, ok := out.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, &handle{id: 11}, m["x"])
	assert.Equal(t, []any{&handle{id: 22}, "plain"}, m["y"])
	assert.ElementsMatch(t, []any{int64(11), int64(22)}, internalizer.seen)
}

func TestDecodeRefWithoutInternalizer(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	enc.Externalizer = handleExternalizer{}
	require.NoError(t, enc.Encode(&handle{id: 1}))

	_, err := NewDecoder(&buf).Decode()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no internalizer")
}

// pair is rebuilt through the reduce/build hooks rather than a reference.
type pair struct {
	a, b int64
}

func reducePair(v any) (string, any, bool, error) {
	p, ok := v.(pair)
	if !ok {
		return "", nil, false, nil
	}
	return "pair", []any{p.a, p.b}, true, nil
}

func buildPair(name string, state any) (any, error) {
	if name != "pair" {
		return nil, fmt.Errorf("unknown node %q", name)
	}
	fields := state.([]any)
	return pair{a: fields[0].(int64), b: fields[1].(int64)}, nil
}

func TestReduceBuildRoundTrip(t *testing.T) {
	in := []any{pair{a: 1, b: 2}, pair{a: 3, b: 4}}

	enc := &Encoder{Reduce: reducePair}
	out := roundTrip(t, enc, func(d *Decoder) { d.Build = buildPair }, in)

	assert.Equal(t, in, out)
}

func TestDecodeNodeWithoutBuilder(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	enc.Reduce = reducePair
	require.NoError(t, enc.Encode(pair{a: 1, b: 2}))

	_, err := NewDecoder(&buf).Decode()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no builder")
}

func TestExternalizerWinsOverReduce(t *testing.T) {
	// When both hooks could claim a value the externalizer runs first.
	enc := &Encoder{
		Externalizer: handleExternalizer{},
		Reduce: func(v any) (string, any, bool, error) {
			if _, ok := v.(*handle); ok {
				t.Fatal("reduce should never see an externalized value")
			}
			return "", nil, false, nil
		},
	}
	internalizer := &handleInternalizer{}
	out := roundTrip(t, enc, func(d *Decoder) { d.Internalizer = internalizer }, &handle{id: 5})
	assert.Equal(t, &handle{id: 5}, out)
}
