package corpus

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
)

// Dir exposes a directory of reference documents as the system corpus.
// Listing is sorted so re-ingestion runs in a stable order.
type Dir struct {
	path string
}

func NewDir(path string) *Dir {
	return &Dir{path: path}
}

func (d *Dir) List(context.Context) ([]string, error) {
	entries, err := os.ReadDir(d.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read corpus dir: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

func (d *Dir) Open(_ context.Context, filename string) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Join(d.path, filepath.Base(filename)))
	if err != nil {
		return nil, fmt.Errorf("open corpus file: %w", err)
	}
	return f, nil
}
