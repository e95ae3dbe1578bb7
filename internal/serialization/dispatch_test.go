package serialization

import (
	"archive/tar"
	"bytes"
	"errors"
	"io"
	"testing"
)

// nonSeeker hides the Seek method of the wrapped reader.
type nonSeeker struct {
	io.Reader
}

func emptyTar(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	if err := tw.WriteHeader(&tar.Header{Name: "storages", Size: 0, Mode: 0o644}); err != nil {
		t.Fatalf("failed to write tar header: %v", err)
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("failed to close tar: %v", err)
	}
	return buf.Bytes()
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want fileFormat
	}{
		{"zip local header", []byte{'P', 'K', 0x03, 0x04, 0, 0}, formatArchive},
		{"zip empty archive", []byte{'P', 'K', 0x05, 0x06, 0, 0}, formatArchive},
		{"saved archive", saveBytes(t, map[string]any{"k": int64(1)}), formatArchive},
		{"tar archive", emptyTar(t), formatLegacyArchive},
		{"flat stream", []byte{0x80, 0x02, 0x01, 0x02}, formatLegacyStream},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := classify(bytes.NewReader(tt.data))
			if err != nil {
				t.Fatalf("classify failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("classify = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClassifyUnknown(t *testing.T) {
	for _, data := range [][]byte{
		nil,
		{0x00},
		[]byte("not an archive of any recognized kind"),
		{0x80, 0x03}, // wrong second marker byte
	} {
		if _, err := classify(bytes.NewReader(data)); !errors.Is(err, ErrUnknownFileType) {
			t.Errorf("classify(%v) error = %v, want ErrUnknownFileType", data, err)
		}
	}
}

func TestClassifyRestoresPosition(t *testing.T) {
	rs := bytes.NewReader(saveBytes(t, int64(1)))
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		t.Fatal(err)
	}
	if _, err := classify(rs); err != nil {
		t.Fatalf("classify failed: %v", err)
	}
	pos, _ := rs.Seek(0, io.SeekCurrent)
	if pos != 0 {
		t.Errorf("classify left the stream at %d, want 0", pos)
	}
}

func TestLoadRejectsNonSeekable(t *testing.T) {
	data := saveBytes(t, int64(1))
	_, err := Load(nonSeeker{bytes.NewReader(data)}, nil)
	if !errors.Is(err, ErrNotSeekable) {
		t.Errorf("Load error = %v, want ErrNotSeekable", err)
	}
}

func TestLoadUnknownFileType(t *testing.T) {
	_, err := Load(bytes.NewReader([]byte("garbage bytes here")), nil)
	if !errors.Is(err, ErrUnknownFileType) {
		t.Errorf("Load error = %v, want ErrUnknownFileType", err)
	}
}

func TestLoadFlatStreamIsInert(t *testing.T) {
	out, err := Load(bytes.NewReader([]byte{0x80, 0x02, 0xFF, 0xFE}), nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if out != nil {
		t.Errorf("flat stream load = %v, want nil", out)
	}
}
