package serialization

import (
	"errors"
	"fmt"
)

// Common errors.
var (
	ErrUnknownFileType       = errors.New("unknown file type (expected a legacy tar archive, a legacy flat stream, or a zip archive)")
	ErrNotSeekable           = errors.New("source is not seekable")
	ErrCorruptArchive        = errors.New("invalid magic number; corrupt archive?")
	ErrProtocolMismatch      = errors.New("invalid protocol version")
	ErrUnknownLocation       = errors.New("unknown storage location")
	ErrDeviceUnavailable     = errors.New("accelerator runtime unavailable")
	ErrDeviceIndexOutOfRange = errors.New("accelerator device index out of range")
	ErrUnknownReferenceKind  = errors.New("unknown persistent reference kind")
)

// ValidationError provides detailed information about structurally invalid
// archive records.
type ValidationError struct {
	Kind    string // kind of failure (e.g. "bad_count", "view_out_of_range")
	Record  string // record involved, if any
	Details string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Record != "" {
		return fmt.Sprintf("%s: record %q: %s", e.Kind, e.Record, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Details)
}
