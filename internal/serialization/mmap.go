package serialization

import (
	"fmt"
	"os"
)

// mmapOpen maps an open file read-only into memory. Callers must pass the
// returned slice to munmapFile when done. Empty files cannot be mapped.
func mmapOpen(f *os.File) ([]byte, error) {
	stat, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	if stat.Size() == 0 {
		return nil, fmt.Errorf("cannot map empty file")
	}
	data, err := mmapFile(f, stat.Size())
	if err != nil {
		return nil, fmt.Errorf("mmap failed: %w", err)
	}
	return data, nil
}
