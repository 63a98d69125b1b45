package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  host: "127.0.0.1"
  port: 9000
storage:
  database_path: "test.db"
ingest:
  chunk_size: 500
  chunk_overlap: 50
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Storage.DatabasePath == "" {
		t.Error("database_path should be set")
	}
	if cfg.Ingest.ChunkSize != 500 || cfg.Ingest.ChunkOverlap != 50 {
		t.Errorf("ingest chunking: got %d/%d", cfg.Ingest.ChunkSize, cfg.Ingest.ChunkOverlap)
	}
	if cfg.Debug {
		t.Error("debug should default to false when unset")
	}
}

func TestLoad_expandPathDotSlashRelativeToConfigDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
storage:
  database_path: "./data/db/docsight.db"
  bleve_index_path: "./data/bleve"
blob:
  local_dir: "./data/blobs"
watch:
  directories: ["./inbox"]
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(dir, "data", "db", "docsight.db"); cfg.Storage.DatabasePath != want {
		t.Errorf("database_path = %s, want %s", cfg.Storage.DatabasePath, want)
	}
	if want := filepath.Join(dir, "data", "blobs"); cfg.Blob.LocalDir != want {
		t.Errorf("local_dir = %s, want %s", cfg.Blob.LocalDir, want)
	}
	if len(cfg.Watch.Directories) != 1 || cfg.Watch.Directories[0] != filepath.Join(dir, "inbox") {
		t.Errorf("watch directories: got %v", cfg.Watch.Directories)
	}
}

func TestLoad_memoryDatabaseUnchanged(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("storage:\n  database_path: \":memory:\"\n"), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Storage.DatabasePath != ":memory:" {
		t.Errorf("database_path = %q", cfg.Storage.DatabasePath)
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	tests := []struct {
		name string
		got  interface{}
		want interface{}
	}{
		{"host", cfg.Server.Host, "localhost"},
		{"port", cfg.Server.Port, 8080},
		{"storage driver", cfg.Storage.Driver, "sqlite"},
		{"blob driver", cfg.Blob.Driver, "local"},
		{"embedding provider", cfg.Embedding.Provider, "openai"},
		{"dimensions", cfg.Embedding.Dimensions, 1536},
		{"chunk size", cfg.Ingest.ChunkSize, 1000},
		{"chunk overlap", cfg.Ingest.ChunkOverlap, 200},
		{"max limit", cfg.Search.MaxLimit, 50},
		{"threshold", cfg.Search.DefaultSimilarityThreshold, 0.7},
		{"vision model follows model", cfg.LLM.VisionModel, cfg.LLM.Model},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}

func TestApplyDefaults_capsMaxLimit(t *testing.T) {
	cfg := &Config{Search: SearchConfig{MaxLimit: 500}}
	ApplyDefaults(cfg)
	if cfg.Search.MaxLimit != 50 {
		t.Errorf("max limit = %d, want 50", cfg.Search.MaxLimit)
	}
}

func TestWatchConfig_RecursiveOrDefault(t *testing.T) {
	t.Run("nil_returns_true", func(t *testing.T) {
		w := &WatchConfig{}
		if !w.RecursiveOrDefault() {
			t.Error("want true")
		}
	})
	t.Run("false_returns_false", func(t *testing.T) {
		f := false
		w := &WatchConfig{Recursive: &f}
		if w.RecursiveOrDefault() {
			t.Error("want false")
		}
	})
}

func TestResolvePostgresDSN(t *testing.T) {
	t.Setenv("DOCSIGHT_TEST_DSN", "postgres://env")
	s := StorageConfig{PostgresDSN: "postgres://literal", PostgresDSNEnv: "DOCSIGHT_TEST_DSN"}
	if got := s.ResolvePostgresDSN(); got != "postgres://env" {
		t.Errorf("got %q", got)
	}
	s.PostgresDSNEnv = ""
	if got := s.ResolvePostgresDSN(); got != "postgres://literal" {
		t.Errorf("got %q", got)
	}
}

func TestSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "saved.yaml")
	cfg := &Config{
		Server:  ServerConfig{Host: "localhost", Port: 9090},
		Storage: StorageConfig{DatabasePath: "/tmp/db"},
	}
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Server.Port != 9090 {
		t.Errorf("loaded port: got %d", loaded.Server.Port)
	}
}
