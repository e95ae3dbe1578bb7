package serialization

import (
	"bytes"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
)

// fileFormat classifies which on-disk generation a source holds.
type fileFormat int

const (
	formatUnknown fileFormat = iota
	formatArchive
	formatLegacyArchive
	formatLegacyStream
)

func (f fileFormat) String() string {
	switch f {
	case formatArchive:
		return "archive"
	case formatLegacyArchive:
		return "legacy tar archive"
	case formatLegacyStream:
		return "legacy flat stream"
	default:
		return "unknown"
	}
}

// checkSeekable enforces the random-access precondition before any
// format-specific parsing.
func checkSeekable(r io.Reader) (io.ReadSeeker, error) {
	rs, ok := r.(io.ReadSeeker)
	if !ok {
		return nil, fmt.Errorf("%w: can only load from a seekable source; buffer the stream "+
			"fully first (e.g. into a bytes.Reader) and load from that instead", ErrNotSeekable)
	}
	if _, err := rs.Seek(0, io.SeekCurrent); err != nil {
		return nil, fmt.Errorf("%w: seek failed (%v); buffer the stream fully first "+
			"(e.g. into a bytes.Reader) and load from that instead", ErrNotSeekable, err)
	}
	return rs, nil
}

// classify peeks fixed-size prefixes to decide the format, restoring the
// stream position before returning. Checked in order: zip signature at
// offset 0, ustar magic at the tar header offset, the legacy flat-stream
// marker in the first two bytes.
func classify(rs io.ReadSeeker) (fileFormat, error) {
	start, err := rs.Seek(0, io.SeekCurrent)
	if err != nil {
		return formatUnknown, fmt.Errorf("%w: %v", ErrNotSeekable, err)
	}
	defer func() {
		_, _ = rs.Seek(start, io.SeekStart)
	}()

	head, err := peekAt(rs, 0, 4)
	if err != nil {
		return formatUnknown, err
	}
	for _, sig := range archiveSignatures {
		if bytes.Equal(head, sig[:]) {
			logrus.WithField("format", formatArchive).Debug("classified source")
			return formatArchive, nil
		}
	}

	if magic, err := peekAt(rs, tarMagicOffset, 5); err == nil && bytes.Equal(magic, []byte("ustar")) {
		logrus.WithField("format", formatLegacyArchive).Debug("classified source")
		return formatLegacyArchive, nil
	}

	if len(head) >= 2 && bytes.Equal(head[:2], flatStreamMarker[:]) {
		logrus.WithField("format", formatLegacyStream).Debug("classified source")
		return formatLegacyStream, nil
	}

	return formatUnknown, ErrUnknownFileType
}

// peekAt reads up to n bytes at an absolute offset. A short source
// returns the bytes that exist.
func peekAt(rs io.ReadSeeker, offset int64, n int) ([]byte, error) {
	if _, err := rs.Seek(offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to seek for format detection: %w", err)
	}
	buf := make([]byte, n)
	read, err := io.ReadFull(rs, buf)
	if err == io.ErrUnexpectedEOF || err == io.EOF {
		return buf[:read], nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read for format detection: %w", err)
	}
	return buf, nil
}
