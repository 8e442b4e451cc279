package store

import (
	"io/fs"
	"path/filepath"
)

// DiskMetrics is a compact view of store disk usage for the health
// endpoint.
type DiskMetrics struct {
	TotalBytes uint64
}

// GetDiskMetrics returns best-effort disk usage for the DB directory.
func (s *Store) GetDiskMetrics() DiskMetrics {
	var m DiskMetrics
	if s == nil || s.path == "" {
		return m
	}
	_ = filepath.WalkDir(s.path, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if fi, err := d.Info(); err == nil {
			m.TotalBytes += uint64(fi.Size())
		}
		return nil
	})
	return m
}
