package archive

import (
	"io/fs"
	"path/filepath"
	"sort"
)

// EntryType distinguishes manifest entries.
type EntryType string

const (
	TypeFile      EntryType = "file"
	TypeDirectory EntryType = "directory"
)

// Entry describes one extracted path, relative to the extraction root.
type Entry struct {
	Path string    `json:"path"`
	Type EntryType `json:"type"`
	Size int64     `json:"size"`
}

// Manifest summarizes the extracted tree.
type Manifest struct {
	FileCount  int     `json:"fileCount"`
	TotalBytes int64   `json:"totalBytes"`
	Entries    []Entry `json:"entries"`
	// Largest holds up to 10 files over 1MB, biggest first.
	Largest []Entry `json:"largest,omitempty"`
}

const (
	largeFileThreshold = 1 << 20
	largestKeep        = 10
)

// buildManifest walks root and records every extracted entry.
func buildManifest(root string) (Manifest, error) {
	var m Manifest

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			m.Entries = append(m.Entries, Entry{Path: rel, Type: TypeDirectory})
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		m.Entries = append(m.Entries, Entry{Path: rel, Type: TypeFile, Size: info.Size()})
		m.FileCount++
		m.TotalBytes += info.Size()
		return nil
	})
	if err != nil {
		return Manifest{}, err
	}

	var large []Entry
	for _, e := range m.Entries {
		if e.Type == TypeFile && e.Size > largeFileThreshold {
			large = append(large, e)
		}
	}
	sort.Slice(large, func(i, j int) bool {
		if large[i].Size != large[j].Size {
			return large[i].Size > large[j].Size
		}
		return large[i].Path < large[j].Path
	})
	if len(large) > largestKeep {
		large = large[:largestKeep]
	}
	m.Largest = large

	return m, nil
}
