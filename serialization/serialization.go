// Copyright 2026 The vreis/pytorch Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package serialization provides the public API for persisting and
// restoring object graphs that reference device-tagged storages.
//
// Save writes a zip-based archive; Load reads that archive as well as the
// two older on-disk layouts, remapping storages to devices according to
// mapLocation.
//
// Example:
//
//	if err := serialization.SaveFile(model, "model.pt"); err != nil {
//		return err
//	}
//	obj, err := serialization.LoadFile("model.pt", "cpu")
package serialization

import (
	"io"

	"github.com/vreis/pytorch/internal/serialization"
)

// Save serializes obj to w, externalizing every reachable storage.
func Save(obj any, w io.Writer) error { return serialization.Save(obj, w) }

// SaveFile serializes obj to the file at path.
func SaveFile(obj any, path string) error { return serialization.SaveFile(obj, path) }

// Load deserializes an object graph from r. mapLocation controls where
// restored storages land; see the internal package for accepted forms
// (nil, a string tag, a tensor.Device, a map of tags or a RestoreFunc).
func Load(r io.Reader, mapLocation any) (any, error) {
	return serialization.Load(r, mapLocation)
}

// LoadFile deserializes an object graph from the file at path, memory
// mapping it when the platform supports that.
func LoadFile(path string, mapLocation any) (any, error) {
	return serialization.LoadFile(path, mapLocation)
}

// Tagger computes the location tag for a storage, or "" when the storage
// is not its to handle.
type Tagger = serialization.Tagger

// Restorer materializes a storage at the device a location tag names, or
// returns (nil, nil) when the tag is not its to handle.
type Restorer = serialization.Restorer

// RestoreFunc is the resolved form of a map location.
type RestoreFunc = serialization.RestoreFunc

// RegisterLocation adds a tagger/restorer pair to the process-wide
// location registry. Lower priorities are consulted first.
func RegisterLocation(priority int, tag Tagger, restore Restorer) {
	serialization.RegisterLocation(priority, tag, restore)
}

// RegisterContainerSource records the current source code for a container
// class name so older archives referencing it can be checked on load.
func RegisterContainerSource(name, source string) {
	serialization.RegisterContainerSource(name, source)
}

// SetDumpPatches toggles writing a <ClassName>.patch file when a container
// class's stored source no longer matches its registered source.
func SetDumpPatches(v bool) { serialization.DumpPatches = v }

// ClassRef identifies a container class referenced from an older archive.
type ClassRef = serialization.ClassRef

// ValidationError describes a structurally invalid archive record.
type ValidationError = serialization.ValidationError

// Sentinel errors returned by Load. Match with errors.Is.
var (
	ErrUnknownFileType       = serialization.ErrUnknownFileType
	ErrNotSeekable           = serialization.ErrNotSeekable
	ErrCorruptArchive        = serialization.ErrCorruptArchive
	ErrProtocolMismatch      = serialization.ErrProtocolMismatch
	ErrUnknownLocation       = serialization.ErrUnknownLocation
	ErrDeviceUnavailable     = serialization.ErrDeviceUnavailable
	ErrDeviceIndexOutOfRange = serialization.ErrDeviceIndexOutOfRange
	ErrUnknownReferenceKind  = serialization.ErrUnknownReferenceKind
)
