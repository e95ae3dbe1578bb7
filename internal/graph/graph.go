// Package graph encodes and decodes object graphs to a self-describing
// CBOR wire form. The codec understands nothing beyond primitives and
// collections: values that need special handling are claimed either by an
// Externalizer, which swaps them for an opaque reference resolved again at
// decode time, or by a reducer, which lowers them to a named node rebuilt
// by the decoder's builder.
package graph

import (
	"fmt"
	"io"
	"sort"

	"github.com/fxamacker/cbor/v2"
)

// Externalizer replaces selected values with opaque references during
// encoding. Externalize returns the reference and true when it claims v;
// the reference must itself be a plain encodable value (scalars, lists).
type Externalizer interface {
	Externalize(v any) (ref any, ok bool, err error)
}

// Internalizer resolves references produced by an Externalizer back into
// live values during decoding.
type Internalizer interface {
	Internalize(ref any) (any, error)
}

// ReduceFunc lowers a value the codec does not understand into a named
// node with encodable state. It returns ok=false for values it does not
// claim.
type ReduceFunc func(v any) (name string, state any, ok bool, err error)

// BuildFunc rebuilds a named node from its decoded state.
type BuildFunc func(name string, state any) (any, error)

type nodeKind uint8

const (
	kindNil nodeKind = iota
	kindBool
	kindInt
	kindFloat
	kindString
	kindBytes
	kindList
	kindMap
	kindRef
	kindNode
)

type wireEntry struct {
	Key   string   `cbor:"k"`
	Value wireNode `cbor:"v"`
}

// wireNode is the on-wire representation of one graph node. Kind selects
// which of the remaining fields carries the value; absent fields decode to
// their zero values, which are the correct payloads for zero scalars.
type wireNode struct {
	Kind    nodeKind    `cbor:"t"`
	Bool    bool        `cbor:"b,omitempty"`
	Int     int64       `cbor:"i,omitempty"`
	Float   float64     `cbor:"f,omitempty"`
	Str     string      `cbor:"s,omitempty"`
	Bytes   []byte      `cbor:"y,omitempty"`
	List    []wireNode  `cbor:"l,omitempty"`
	Entries []wireEntry `cbor:"m,omitempty"`
	Ref     *wireNode   `cbor:"r,omitempty"`
	Name    string      `cbor:"n,omitempty"`
	State   *wireNode   `cbor:"st,omitempty"`
}

// Encoder writes one object graph as a single CBOR value.
//
// Integers are canonicalized to int64 and floats to float64 on the wire;
// decoding returns those widened types.
type Encoder struct {
	w io.Writer

	// Externalizer, when set, is consulted for every value before any
	// other handling.
	Externalizer Externalizer

	// Reduce, when set, lowers non-primitive values to named nodes.
	Reduce ReduceFunc
}

// NewEncoder returns an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode lowers v and writes it to the underlying writer.
func (e *Encoder) Encode(v any) error {
	n, err := e.lower(v)
	if err != nil {
		return err
	}
	data, err := cbor.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to encode graph: %w", err)
	}
	if _, err := e.w.Write(data); err != nil {
		return fmt.Errorf("failed to write graph: %w", err)
	}
	return nil
}

func (e *Encoder) lower(v any) (wireNode, error) {
	if e.Externalizer != nil {
		ref, ok, err := e.Externalizer.Externalize(v)
		if err != nil {
			return wireNode{}, err
		}
		if ok {
			payload, err := lowerPlain(ref)
			if err != nil {
				return wireNode{}, fmt.Errorf("invalid external reference: %w", err)
			}
			return wireNode{Kind: kindRef, Ref: &payload}, nil
		}
	}
	if e.Reduce != nil {
		name, state, ok, err := e.Reduce(v)
		if err != nil {
			return wireNode{}, err
		}
		if ok {
			lowered, err := e.lower(state)
			if err != nil {
				return wireNode{}, fmt.Errorf("failed to lower state of %q node: %w", name, err)
			}
			return wireNode{Kind: kindNode, Name: name, State: &lowered}, nil
		}
	}
	return e.lowerValue(v)
}

func (e *Encoder) lowerValue(v any) (wireNode, error) {
	switch val := v.(type) {
	case nil:
		return wireNode{Kind: kindNil}, nil
	case bool:
		return wireNode{Kind: kindBool, Bool: val}, nil
	case int:
		return wireNode{Kind: kindInt, Int: int64(val)}, nil
	case int8:
		return wireNode{Kind: kindInt, Int: int64(val)}, nil
	case int16:
		return wireNode{Kind: kindInt, Int: int64(val)}, nil
	case int32:
		return wireNode{Kind: kindInt, Int: int64(val)}, nil
	case int64:
		return wireNode{Kind: kindInt, Int: val}, nil
	case uint8:
		return wireNode{Kind: kindInt, Int: int64(val)}, nil
	case uint16:
		return wireNode{Kind: kindInt, Int: int64(val)}, nil
	case uint32:
		return wireNode{Kind: kindInt, Int: int64(val)}, nil
	case uint64:
		if val > 1<<63-1 {
			return wireNode{}, fmt.Errorf("uint64 value %d overflows the graph integer range", val)
		}
		return wireNode{Kind: kindInt, Int: int64(val)}, nil
	case float32:
		return wireNode{Kind: kindFloat, Float: float64(val)}, nil
	case float64:
		return wireNode{Kind: kindFloat, Float: val}, nil
	case string:
		return wireNode{Kind: kindString, Str: val}, nil
	case []byte:
		return wireNode{Kind: kindBytes, Bytes: val}, nil
	case []any:
		list := make([]wireNode, len(val))
		for i, item := range val {
			n, err := e.lower(item)
			if err != nil {
				return wireNode{}, err
			}
			list[i] = n
		}
		return wireNode{Kind: kindList, List: list}, nil
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		entries := make([]wireEntry, len(keys))
		for i, k := range keys {
			n, err := e.lower(val[k])
			if err != nil {
				return wireNode{}, err
			}
			entries[i] = wireEntry{Key: k, Value: n}
		}
		return wireNode{Kind: kindMap, Entries: entries}, nil
	default:
		return wireNode{}, fmt.Errorf("cannot encode value of type %T in an object graph", v)
	}
}

// lowerPlain lowers a reference payload without hooks. References must be
// built from primitives and collections only.
func lowerPlain(v any) (wireNode, error) {
	var plain Encoder
	return plain.lowerValue(v)
}

// Decoder reads one object graph written by Encoder.
type Decoder struct {
	r io.Reader

	// Internalizer resolves external references. Decoding a graph that
	// contains references without one fails.
	Internalizer Internalizer

	// Build rebuilds named nodes. Decoding a graph that contains named
	// nodes without one fails.
	Build BuildFunc
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r}
}

// Decode reads and raises one object graph.
func (d *Decoder) Decode() (any, error) {
	var n wireNode
	if err := cbor.NewDecoder(d.r).Decode(&n); err != nil {
		return nil, fmt.Errorf("failed to decode graph: %w", err)
	}
	return d.raise(n)
}

func (d *Decoder) raise(n wireNode) (any, error) {
	switch n.Kind {
	case kindNil:
		return nil, nil
	case kindBool:
		return n.Bool, nil
	case kindInt:
		return n.Int, nil
	case kindFloat:
		return n.Float, nil
	case kindString:
		return n.Str, nil
	case kindBytes:
		return n.Bytes, nil
	case kindList:
		list := make([]any, len(n.List))
		for i, item := range n.List {
			v, err := d.raise(item)
			if err != nil {
				return nil, err
			}
			list[i] = v
		}
		return list, nil
	case kindMap:
		m := make(map[string]any, len(n.Entries))
		for _, entry := range n.Entries {
			v, err := d.raise(entry.Value)
			if err != nil {
				return nil, err
			}
			m[entry.Key] = v
		}
		return m, nil
	case kindRef:
		if d.Internalizer == nil {
			return nil, fmt.Errorf("graph contains an external reference but no internalizer is set")
		}
		if n.Ref == nil {
			return nil, fmt.Errorf("external reference node has no payload")
		}
		ref, err := d.raise(*n.Ref)
		if err != nil {
			return nil, err
		}
		return d.Internalizer.Internalize(ref)
	case kindNode:
		if d.Build == nil {
			return nil, fmt.Errorf("graph contains a %q node but no builder is set", n.Name)
		}
		if n.State == nil {
			return nil, fmt.Errorf("%q node has no state", n.Name)
		}
		state, err := d.raise(*n.State)
		if err != nil {
			return nil, err
		}
		return d.Build(n.Name, state)
	default:
		return nil, fmt.Errorf("unknown graph node kind %d", n.Kind)
	}
}
