package serialization

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/fxamacker/cbor/v2"
	"github.com/sirupsen/logrus"

	"github.com/vreis/pytorch/internal/graph"
)

// Save writes obj and every storage it references to w in the current
// archive format. Storages referenced by multiple views are written once.
func Save(obj any, w io.Writer) error {
	return save(obj, w, defaultRegistry)
}

// SaveFile saves obj to a new file at path.
func SaveFile(obj any, path string) error {
	//nolint:gosec // G304: the destination path comes from the caller
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	if err := Save(obj, f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func save(obj any, w io.Writer, reg *Registry) error {
	zw := zip.NewWriter(w)
	bridge := newSaveBridge(reg)

	// All members are stored uncompressed; buffer bytes dominate and the
	// container layout is a format contract.
	mw, err := zw.CreateHeader(&zip.FileHeader{Name: metadataMember, Method: zip.Store})
	if err != nil {
		return fmt.Errorf("failed to create metadata member: %w", err)
	}
	metadata, err := cbor.Marshal(newMetadata())
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	if _, err := mw.Write(metadata); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}

	gw, err := zw.CreateHeader(&zip.FileHeader{Name: graphMember, Method: zip.Store})
	if err != nil {
		return fmt.Errorf("failed to create graph member: %w", err)
	}
	enc := graph.NewEncoder(gw)
	enc.Externalizer = bridge
	enc.Reduce = reduceValue
	if err := enc.Encode(obj); err != nil {
		return fmt.Errorf("failed to encode object graph: %w", err)
	}

	// Buffer members in ascending key order for deterministic output.
	keys := make([]string, 0, len(bridge.storages))
	for key := range bridge.storages {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		s := bridge.storages[key]
		bw, err := zw.CreateHeader(&zip.FileHeader{Name: bufferPrefix + key, Method: zip.Store})
		if err != nil {
			return fmt.Errorf("failed to create buffer member %q: %w", key, err)
		}
		if _, err := s.WriteTo(bw); err != nil {
			return fmt.Errorf("failed to write buffer %q: %w", key, err)
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finalize archive: %w", err)
	}
	logrus.WithField("buffers", len(keys)).Debug("wrote archive")
	return nil
}
