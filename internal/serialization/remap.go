package serialization

import (
	"fmt"

	"github.com/vreis/pytorch/internal/tensor"
)

// RestoreFunc relocates one storage restored from an archive. The second
// argument is the location tag the storage was saved under.
type RestoreFunc func(s *tensor.Storage, location string) (*tensor.Storage, error)

// restoreLocation builds the single restore function used by a load call
// from the caller's remap request. Accepted requests:
//
//	nil                  restore to the saved location
//	string               restore everything to that location tag
//	tensor.Device        restore everything to that device
//	map[string]string    rewrite matching tags, pass others through
//	RestoreFunc          custom; a nil result falls back to the registry
func restoreLocation(mapLocation any, reg *Registry) (RestoreFunc, error) {
	switch m := mapLocation.(type) {
	case nil:
		return reg.Restore, nil
	case map[string]string:
		return func(s *tensor.Storage, location string) (*tensor.Storage, error) {
			if target, ok := m[location]; ok {
				location = target
			}
			return reg.Restore(s, location)
		}, nil
	case string:
		return func(s *tensor.Storage, _ string) (*tensor.Storage, error) {
			return reg.Restore(s, m)
		}, nil
	case tensor.Device:
		return func(s *tensor.Storage, _ string) (*tensor.Storage, error) {
			return reg.Restore(s, m.String())
		}, nil
	case RestoreFunc:
		return fallbackRestore(m, reg), nil
	case func(*tensor.Storage, string) (*tensor.Storage, error):
		return fallbackRestore(m, reg), nil
	default:
		return nil, fmt.Errorf("unsupported map location type %T (want nil, string, tensor.Device, map[string]string or RestoreFunc)", mapLocation)
	}
}

// fallbackRestore wraps a caller-supplied restore function so that an
// empty result falls back to the registry instead of dropping the
// storage.
func fallbackRestore(fn RestoreFunc, reg *Registry) RestoreFunc {
	return func(s *tensor.Storage, location string) (*tensor.Storage, error) {
		restored, err := fn(s, location)
		if err != nil {
			return nil, err
		}
		if restored != nil {
			return restored, nil
		}
		return reg.Restore(s, location)
	}
}
