package serialization

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/sirupsen/logrus"
)

// DumpPatches controls what happens when a container class stored in a
// legacy archive no longer matches its current source: when set, a
// unified diff is written to <ClassName>.patch in the working directory
// instead of only warning.
var DumpPatches bool

var (
	containerSourcesMu sync.RWMutex
	containerSources   = make(map[string]string)
)

// RegisterContainerSource records the current source code for a container
// class name so legacy archives referencing that class can be checked
// against it.
func RegisterContainerSource(name, source string) {
	containerSourcesMu.Lock()
	defer containerSourcesMu.Unlock()
	containerSources[name] = source
}

func lookupContainerSource(name string) (string, bool) {
	containerSourcesMu.RLock()
	defer containerSourcesMu.RUnlock()
	source, ok := containerSources[name]
	return source, ok
}

// checkContainerSource compares the source code stored alongside a
// container class against the currently registered source and warns on
// drift. It never fails the load.
func checkContainerSource(name, sourceFile, original string) {
	current, ok := lookupContainerSource(name)
	if !ok {
		logrus.Warnf("couldn't retrieve source code for container of type %s. It won't be checked for correctness upon loading.", name)
		return
	}
	if current == original {
		return
	}

	var msg string
	if DumpPatches {
		diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
			A:        difflib.SplitLines(current),
			B:        difflib.SplitLines(original),
			FromFile: "saved in " + sourceFile,
			ToFile:   "current " + sourceFile,
			Context:  3,
		})
		if err == nil {
			patchFile := name + ".patch"
			if writeErr := writePatch(patchFile, diff); writeErr == nil {
				msg = fmt.Sprintf("Saved a reverse patch to %s. Run `patch -p0 < %s` to revert your changes.", patchFile, patchFile)
			} else {
				msg = fmt.Sprintf("Tried to save a patch, but couldn't create a writable file %s. Make sure it doesn't exist and your working directory is writable.", patchFile)
			}
		}
	}
	if msg == "" {
		msg = "you can retrieve the original source code by accessing the object's source attribute"
		if !DumpPatches {
			msg += " or set DumpPatches to true and use the patch tool to revert the changes"
		}
	}
	logrus.Warnf("source code of container class %s has changed. %s", name, msg)
}

// writePatch writes the diff unless the file already exists: an existing
// identical patch is accepted, a conflicting one is never clobbered.
func writePatch(path string, content string) error {
	if existing, err := os.ReadFile(path); err == nil {
		if string(existing) == content {
			return nil
		}
		return fmt.Errorf("patch file %s already exists with different content", path)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(content); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// legacyStreamLoad handles the first-generation format: a bare graph
// stream with no framing and storage payloads appended after it. Archives
// in this format predate the storage table and cannot be produced
// anymore; decoding them is not supported, but the format is still
// recognized so it gets a precise classification instead of an unknown
// file type error.
func legacyStreamLoad(_ io.ReadSeeker, _ RestoreFunc) (any, error) {
	return nil, nil
}
