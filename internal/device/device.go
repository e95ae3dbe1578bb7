// Package device exposes the accelerator runtime probe used when
// restoring storages onto accelerator devices. The package itself ships
// no accelerator: embedding applications register their backend at
// startup, and until one is registered every accelerator restore fails.
package device

import "sync/atomic"

// Accelerator reports what the accelerator runtime can satisfy.
type Accelerator interface {
	// Available reports whether an accelerator runtime is usable in
	// this process.
	Available() bool

	// DeviceCount returns the number of accelerator devices.
	DeviceCount() int
}

var registered atomic.Pointer[Accelerator]

// Register installs the process-wide accelerator runtime. Later calls
// replace earlier ones. Registration is expected to happen once during
// startup; concurrent registration must be synchronized by the caller.
func Register(a Accelerator) {
	registered.Store(&a)
}

// Registered returns the installed runtime, or nil when none was
// registered.
func Registered() Accelerator {
	p := registered.Load()
	if p == nil {
		return nil
	}
	return *p
}
