package tensor

import (
	"fmt"
	"strconv"
	"strings"
)

// DeviceKind identifies a class of compute device.
type DeviceKind int

// Supported device kinds.
const (
	CPU DeviceKind = iota
	CUDA
)

// String returns the device kind's location-tag prefix.
func (k DeviceKind) String() string {
	switch k {
	case CPU:
		return "cpu"
	case CUDA:
		return "cuda"
	default:
		return "unknown"
	}
}

// Device identifies where storage bytes logically reside.
// The zero value is the CPU device.
type Device struct {
	Kind  DeviceKind
	Index int
}

// String renders the device in location-tag form: "cpu" or "cuda:<index>".
func (d Device) String() string {
	if d.Kind == CPU {
		return "cpu"
	}
	return d.Kind.String() + ":" + strconv.Itoa(d.Index)
}

// ParseDevice parses a location-tag string ("cpu", "cuda", "cuda:1") into
// a Device. A missing accelerator index defaults to 0; a negative index is
// clamped to 0.
func ParseDevice(s string) (Device, error) {
	if s == "cpu" {
		return Device{Kind: CPU}, nil
	}
	if s == "cuda" {
		return Device{Kind: CUDA}, nil
	}
	if rest, ok := strings.CutPrefix(s, "cuda:"); ok {
		index, err := strconv.Atoi(rest)
		if err != nil {
			return Device{}, fmt.Errorf("invalid device index in %q: %w", s, err)
		}
		if index < 0 {
			index = 0
		}
		return Device{Kind: CUDA, Index: index}, nil
	}
	return Device{}, fmt.Errorf("unsupported device %q", s)
}
