package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// StaticDesigns is an in-memory design source, mostly for tests.
type StaticDesigns [][]byte

func (s StaticDesigns) LoadAll(ctx context.Context) ([][]byte, error) {
	return s, nil
}

// DesignDir loads every *.json file from a directory, in name order.
type DesignDir struct {
	Dir string
}

func (d DesignDir) LoadAll(ctx context.Context) ([][]byte, error) {
	entries, err := os.ReadDir(d.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read design directory %s: %w", d.Dir, err)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	out := make([][]byte, 0, len(names))
	for _, name := range names {
		raw, err := os.ReadFile(filepath.Join(d.Dir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to read design file %s: %w", name, err)
		}
		out = append(out, raw)
	}
	return out, nil
}
