package serialization

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/vreis/pytorch/internal/device"
	"github.com/vreis/pytorch/internal/tensor"
)

// Tagger determines the location tag of a storage at save time. It
// returns "" for storages it does not recognize.
type Tagger func(s *tensor.Storage) string

// Restorer reconstructs a storage under a location tag at load time. It
// returns (nil, nil) for tags it does not recognize.
type Restorer func(s *tensor.Storage, location string) (*tensor.Storage, error)

type registryEntry struct {
	priority int
	tag      Tagger
	restore  Restorer
}

// Registry is an ordered list of location handlers. Taggers and restorers
// run in ascending priority order and the first match wins.
//
// Registration is additive; there is no removal. The process-wide default
// registry is built once at init and concurrent registration must be
// synchronized by the caller.
type Registry struct {
	entries []registryEntry
}

// NewRegistry returns a registry preloaded with the built-in CPU
// (priority 10) and accelerator (priority 20) handlers.
func NewRegistry() *Registry {
	r := &Registry{}
	r.Register(10, cpuTag, cpuRestore)
	r.Register(20, acceleratorTag, acceleratorRestore)
	return r
}

// Register inserts a handler triple, keeping the list sorted ascending by
// priority. Handlers with equal priority keep registration order.
func (r *Registry) Register(priority int, tag Tagger, restore Restorer) {
	entry := registryEntry{priority: priority, tag: tag, restore: restore}
	pos := len(r.entries)
	for i, e := range r.entries {
		if e.priority > priority {
			pos = i
			break
		}
	}
	r.entries = append(r.entries, registryEntry{})
	copy(r.entries[pos+1:], r.entries[pos:])
	r.entries[pos] = entry
}

// Tag returns the location tag of the first matching tagger.
func (r *Registry) Tag(s *tensor.Storage) (string, error) {
	for _, e := range r.entries {
		if location := e.tag(s); location != "" {
			return location, nil
		}
	}
	return "", fmt.Errorf("%w: don't know how to determine the location of a %s storage",
		ErrUnknownLocation, s.DType())
}

// Restore returns the result of the first matching restorer.
func (r *Registry) Restore(s *tensor.Storage, location string) (*tensor.Storage, error) {
	for _, e := range r.entries {
		restored, err := e.restore(s, location)
		if err != nil {
			return nil, err
		}
		if restored != nil {
			return restored, nil
		}
	}
	return nil, fmt.Errorf("%w: don't know how to restore a %s storage tagged with %q",
		ErrUnknownLocation, s.DType(), location)
}

var defaultRegistry = NewRegistry()

// RegisterLocation adds a location handler to the process-wide registry.
// Lower priorities run first.
func RegisterLocation(priority int, tag Tagger, restore Restorer) {
	defaultRegistry.Register(priority, tag, restore)
}

func cpuTag(s *tensor.Storage) string {
	if s.Device().Kind == tensor.CPU {
		return "cpu"
	}
	return ""
}

func cpuRestore(s *tensor.Storage, location string) (*tensor.Storage, error) {
	if location == "cpu" {
		return s, nil
	}
	return nil, nil
}

func acceleratorTag(s *tensor.Storage) string {
	if s.Device().Kind == tensor.CUDA {
		return s.Device().String()
	}
	return ""
}

func acceleratorRestore(s *tensor.Storage, location string) (*tensor.Storage, error) {
	if !strings.HasPrefix(location, "cuda") {
		return nil, nil
	}
	index, err := validateAcceleratorLocation(location)
	if err != nil {
		return nil, err
	}
	target := tensor.Device{Kind: tensor.CUDA, Index: index}
	if s.Uninitialized() {
		// Bytes are filled after the restore; allocate on the target
		// device and carry what is there.
		fresh, err := tensor.AllocUninitialized(s.Len(), s.DType(), target)
		if err != nil {
			return nil, err
		}
		copy(fresh.Data(), s.Data())
		return fresh, nil
	}
	return s.To(target), nil
}

// validateAcceleratorLocation parses a "cuda[:<n>]" tag and checks the
// runtime can satisfy it. A missing index defaults to 0 and a negative
// one is clamped to 0.
func validateAcceleratorLocation(location string) (int, error) {
	index := 0
	if rest, ok := strings.CutPrefix(location, "cuda:"); ok && rest != "" {
		parsed, err := strconv.Atoi(rest)
		if err != nil {
			return 0, fmt.Errorf("invalid accelerator location %q: %w", location, err)
		}
		if parsed > 0 {
			index = parsed
		}
	}

	acc := device.Registered()
	if acc == nil || !acc.Available() {
		return 0, fmt.Errorf("%w: attempting to restore a storage on an accelerator device "+
			"but no accelerator runtime is available; if you are running on a CPU-only "+
			"machine, load with a \"cpu\" location map to bring your storages to the CPU",
			ErrDeviceUnavailable)
	}
	if count := acc.DeviceCount(); index >= count {
		return 0, fmt.Errorf("%w: attempting to restore a storage on accelerator device %d "+
			"but the runtime reports %d device(s); load with a location map to bring your "+
			"storages to an existing device", ErrDeviceIndexOutOfRange, index, count)
	}
	return index, nil
}
