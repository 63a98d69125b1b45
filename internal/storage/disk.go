package storage

import (
	"os"
	"path/filepath"

	"github.com/hyperjump/docsight/internal/config"
)

// DiskUsage is the on-disk footprint of the local parts of a deployment, in bytes. Parts
// that live on a remote service (Postgres, MinIO) are reported as zero.
type DiskUsage struct {
	Database     int64 `json:"database"`
	KeywordIndex int64 `json:"keyword_index"`
	Blobs        int64 `json:"blobs"`
}

// Total is the sum of all parts.
func (u DiskUsage) Total() int64 {
	return u.Database + u.KeywordIndex + u.Blobs
}

// MeasureDiskUsage sizes the SQLite database (with its WAL and shared-memory files), the
// Bleve index directory and the local blob directory named by the config sections.
// Paths that do not exist yet count as zero.
func MeasureDiskUsage(sc config.StorageConfig, bc config.BlobConfig) (DiskUsage, error) {
	var (
		u   DiskUsage
		err error
	)
	if sc.Driver != config.DriverPostgres && sc.DatabasePath != "" {
		if u.Database, err = pathSize(sc.DatabasePath, sc.DatabasePath+"-wal", sc.DatabasePath+"-shm"); err != nil {
			return DiskUsage{}, err
		}
	}
	if u.KeywordIndex, err = pathSize(sc.BleveIndexPath); err != nil {
		return DiskUsage{}, err
	}
	if bc.Driver != config.BlobMinio {
		if u.Blobs, err = pathSize(bc.LocalDir); err != nil {
			return DiskUsage{}, err
		}
	}
	return u, nil
}

// pathSize sums files and directory trees, skipping empty and missing paths.
func pathSize(paths ...string) (int64, error) {
	var total int64
	for _, p := range paths {
		if p == "" {
			continue
		}
		info, err := os.Stat(p)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return 0, err
		}
		if !info.IsDir() {
			total += info.Size()
			continue
		}
		err = filepath.WalkDir(p, func(_ string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			fi, err := d.Info()
			if err != nil {
				return err
			}
			total += fi.Size()
			return nil
		})
		if err != nil {
			return 0, err
		}
	}
	return total, nil
}
