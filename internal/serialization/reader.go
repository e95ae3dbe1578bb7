package serialization

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/fxamacker/cbor/v2"

	"github.com/vreis/pytorch/internal/graph"
)

// Load reads an object graph saved in any of the supported formats from
// r. The source must be seekable and is read from its beginning.
//
// mapLocation controls where restored storages land; see restoreLocation
// for the accepted forms. With a nil mapLocation every storage is
// restored to the device it was saved from, which fails if the runtime
// cannot satisfy that device.
func Load(r io.Reader, mapLocation any) (any, error) {
	return load(r, mapLocation, defaultRegistry)
}

// LoadFile loads an object graph from the file at path, memory-mapping
// the file when the platform allows it.
func LoadFile(path string, mapLocation any) (any, error) {
	//nolint:gosec // G304: the source path comes from the caller
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	if data, err := mmapOpen(f); err == nil {
		defer func() {
			_ = munmapFile(data)
		}()
		return Load(bytes.NewReader(data), mapLocation)
	}
	return Load(f, mapLocation)
}

func load(r io.Reader, mapLocation any, reg *Registry) (any, error) {
	rs, err := checkSeekable(r)
	if err != nil {
		return nil, err
	}
	restore, err := restoreLocation(mapLocation, reg)
	if err != nil {
		return nil, err
	}

	format, err := classify(rs)
	if err != nil {
		return nil, err
	}
	switch format {
	case formatArchive:
		return loadArchive(rs, restore)
	case formatLegacyArchive:
		return legacyTarLoad(rs, restore)
	case formatLegacyStream:
		return legacyStreamLoad(rs, restore)
	default:
		return nil, ErrUnknownFileType
	}
}

// loadArchive reads the current zip format: metadata is validated before
// anything else is decoded, then the graph member is decoded with the
// storage bridge resolving buffer members lazily.
func loadArchive(rs io.ReadSeeker, restore RestoreFunc) (any, error) {
	ra, size, err := readerAt(rs)
	if err != nil {
		return nil, err
	}
	zr, err := zip.NewReader(ra, size)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}

	metadata, err := readMetadata(zr)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(metadata.MagicNumber, magicNumber[:]) {
		return nil, ErrCorruptArchive
	}
	if metadata.ProtocolVersion != protocolVersion {
		return nil, fmt.Errorf("%w: %d, expected %d", ErrProtocolMismatch, metadata.ProtocolVersion, protocolVersion)
	}

	bridge := newLoadBridge(func(key string) (io.ReadCloser, int64, error) {
		return openMember(zr, bufferPrefix+key)
	}, restore)

	gf, _, err := openMember(zr, graphMember)
	if err != nil {
		return nil, err
	}
	defer gf.Close()

	dec := graph.NewDecoder(gf)
	dec.Internalizer = bridge
	dec.Build = buildValue
	return dec.Decode()
}

func readMetadata(zr *zip.Reader) (Metadata, error) {
	mf, _, err := openMember(zr, metadataMember)
	if err != nil {
		return Metadata{}, err
	}
	defer mf.Close()

	data, err := io.ReadAll(mf)
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to read metadata: %w", err)
	}
	var metadata Metadata
	if err := cbor.Unmarshal(data, &metadata); err != nil {
		return Metadata{}, fmt.Errorf("failed to decode metadata: %w", err)
	}
	return metadata, nil
}

func openMember(zr *zip.Reader, name string) (io.ReadCloser, int64, error) {
	f, err := zr.Open(name)
	if err != nil {
		return nil, 0, fmt.Errorf("archive is missing member %q: %w", name, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, fmt.Errorf("failed to stat member %q: %w", name, err)
	}
	return f, info.Size(), nil
}

// readerAt adapts a seekable source into the random-access form the zip
// reader needs, buffering in memory only when the source cannot do it
// natively.
func readerAt(rs io.ReadSeeker) (io.ReaderAt, int64, error) {
	size, err := rs.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to measure source: %w", err)
	}
	if ra, ok := rs.(io.ReaderAt); ok {
		return ra, size, nil
	}
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return nil, 0, fmt.Errorf("failed to rewind source: %w", err)
	}
	data, err := io.ReadAll(rs)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to buffer source: %w", err)
	}
	return bytes.NewReader(data), int64(len(data)), nil
}
