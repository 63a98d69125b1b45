package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hyperjump/docsight/internal/config"
)

func writeSized(t *testing.T, path string, n int) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, make([]byte, n), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestMeasureDiskUsage(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "docsight.db")
	writeSized(t, db, 10)
	writeSized(t, db+"-wal", 4)
	writeSized(t, filepath.Join(dir, "keyword.bleve", "store", "root.bolt"), 7)
	writeSized(t, filepath.Join(dir, "blobs", "s1", "a.txt"), 3)
	writeSized(t, filepath.Join(dir, "blobs", "s2", "b.png"), 5)

	sc := config.StorageConfig{
		Driver:         config.DriverSQLite,
		DatabasePath:   db,
		BleveIndexPath: filepath.Join(dir, "keyword.bleve"),
	}
	bc := config.BlobConfig{Driver: config.BlobLocal, LocalDir: filepath.Join(dir, "blobs")}

	tests := []struct {
		name string
		sc   config.StorageConfig
		bc   config.BlobConfig
		want DiskUsage
	}{
		{"all local", sc, bc, DiskUsage{Database: 14, KeywordIndex: 7, Blobs: 8}},
		{"postgres database is remote", func() config.StorageConfig { c := sc; c.Driver = config.DriverPostgres; return c }(), bc,
			DiskUsage{KeywordIndex: 7, Blobs: 8}},
		{"minio blobs are remote", sc, config.BlobConfig{Driver: config.BlobMinio, LocalDir: bc.LocalDir},
			DiskUsage{Database: 14, KeywordIndex: 7}},
		{"keyword index disabled", func() config.StorageConfig { c := sc; c.BleveIndexPath = ""; return c }(), bc,
			DiskUsage{Database: 14, Blobs: 8}},
		{"nothing created yet", config.StorageConfig{DatabasePath: filepath.Join(dir, "missing.db")},
			config.BlobConfig{LocalDir: filepath.Join(dir, "missing")}, DiskUsage{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MeasureDiskUsage(tt.sc, tt.bc)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("MeasureDiskUsage() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestDiskUsage_Total(t *testing.T) {
	u := DiskUsage{Database: 1, KeywordIndex: 2, Blobs: 3}
	if u.Total() != 6 {
		t.Errorf("Total() = %d, want 6", u.Total())
	}
}
