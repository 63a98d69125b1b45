package main

import (
	"context"
	"flag"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"testing"

	"github.com/hyperjump/docsight/internal/models"
)

func TestSearchArgsReorder(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected []string
	}{
		{
			name:     "flags after query are moved first",
			args:     []string{"invoice from acme", "-threshold", "0.5"},
			expected: []string{"-threshold", "0.5", "invoice from acme"},
		},
		{
			name:     "flags first returns unchanged",
			args:     []string{"-threshold", "0.5", "invoice from acme"},
			expected: []string{"-threshold", "0.5", "invoice from acme"},
		},
		{
			name:     "query only returns unchanged",
			args:     []string{"invoice from acme"},
			expected: []string{"invoice from acme"},
		},
		{
			name:     "empty args returns unchanged",
			args:     []string{},
			expected: []string{},
		},
		{
			name:     "multiple positionals then flags",
			args:     []string{"one", "two", "-limit", "5"},
			expected: []string{"-limit", "5", "one", "two"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := searchArgsReorder(tt.args)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("searchArgsReorder() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestBuildSearchQuery(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected string
	}{
		{"single word", []string{"revenue"}, "revenue"},
		{"multiple words", []string{"quarterly", "revenue"}, "quarterly revenue"},
		{"single quoted phrase", []string{"quarterly revenue"}, "quarterly revenue"},
		{"empty args", []string{}, ""},
		{"blank args", []string{"  ", "  "}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := buildSearchQuery(tt.args)
			if got != tt.expected {
				t.Errorf("buildSearchQuery(%v) = %q, want %q", tt.args, got, tt.expected)
			}
		})
	}
}

func TestSplitTags(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"animals", []string{"animals"}},
		{"animals, pets ,,", []string{"animals", "pets"}},
	}
	for _, tt := range tests {
		if got := splitTags(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("splitTags(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSearchFlags(t *testing.T) {
	fs := flag.NewFlagSet("search", flag.ContinueOnError)
	build := searchFlags(fs)
	if err := fs.Parse([]string{"-type", "hybrid", "-limit", "5", "-tags", "a,b", "-content-type", "image"}); err != nil {
		t.Fatal(err)
	}
	req := build("cats")
	if req.Query != "cats" || req.SearchType != models.SearchTypeHybrid || req.MaxResults != 5 {
		t.Errorf("request = %+v", req)
	}
	if req.ContentType != "image" || !reflect.DeepEqual(req.RequiredTags, []string{"a", "b"}) {
		t.Errorf("filters = %q %v", req.ContentType, req.RequiredTags)
	}
	if req.SimilarityThreshold != nil {
		t.Errorf("threshold should be left to the server default, got %v", *req.SimilarityThreshold)
	}

	fs = flag.NewFlagSet("search", flag.ContinueOnError)
	build = searchFlags(fs)
	if err := fs.Parse([]string{"-threshold", "0"}); err != nil {
		t.Fatal(err)
	}
	if req := build("cats"); req.SimilarityThreshold == nil || *req.SimilarityThreshold != 0 {
		t.Errorf("explicit zero threshold should be kept")
	}
}

func TestCollectFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.txt", "b.md", "c.bin", "nested/d.txt", ".hidden/e.txt"} {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte("x"), 0600); err != nil {
			t.Fatal(err)
		}
	}

	files, err := collectFiles(dir, []string{".txt", ".MD"})
	if err != nil {
		t.Fatal(err)
	}
	var rel []string
	for _, f := range files {
		r, _ := filepath.Rel(dir, f)
		rel = append(rel, filepath.ToSlash(r))
	}
	sort.Strings(rel)
	want := []string{"a.txt", "b.md", "nested/d.txt"}
	if !reflect.DeepEqual(rel, want) {
		t.Errorf("collectFiles() = %v, want %v", rel, want)
	}

	single := filepath.Join(dir, "c.bin")
	files, err = collectFiles(single, []string{".txt"})
	if err != nil || len(files) != 1 || files[0] != single {
		t.Errorf("an explicit file is taken as is, got %v, %v", files, err)
	}

	if _, err := collectFiles(filepath.Join(dir, "missing"), nil); err == nil {
		t.Error("expected error for missing path")
	}
}

func TestLoadConfig_prefersCwdConfigWhenDefaultPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
debug: true
server:
  host: "localhost"
  port: 8080
storage:
  database_path: "./test.db"
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	origWd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.Chdir(origWd) }()
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}

	cfg, resolved, err := loadConfig(defaultConfigPath)
	if err != nil {
		t.Fatal(err)
	}
	resolvedCanon, _ := filepath.EvalSymlinks(resolved)
	configPathCanon, _ := filepath.EvalSymlinks(configPath)
	if resolvedCanon != configPathCanon {
		t.Errorf("resolved path = %s, want %s", resolved, configPath)
	}
	if !cfg.Debug {
		t.Error("debug should be true from cwd config.yaml")
	}
}

func TestLoadConfig_usesExplicitPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
server:
  host: "127.0.0.1"
  port: 9000
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		t.Fatal(err)
	}
	if resolved != configPath {
		t.Errorf("resolved path = %s, want %s", resolved, configPath)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
}

func TestInitializeComponents_local(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
storage:
  driver: sqlite
  database_path: "./docsight.db"
  bleve_index_path: "./keyword.bleve"
blob:
  driver: local
  local_dir: "./blobs"
embedding:
  provider: mock
  dimensions: 32
  cache_size: 16
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		t.Fatal(err)
	}

	c, err := initializeComponents(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if c.KeywordIndex == nil {
		t.Error("keyword index should be enabled by bleve_index_path")
	}
	if c.Embedder.Dimensions() != 32 {
		t.Errorf("embedder dimensions = %d", c.Embedder.Dimensions())
	}
	ctx := context.Background()
	if err := c.Storage.Ping(ctx); err != nil {
		t.Errorf("store ping: %v", err)
	}
	if err := c.Blobs.Ping(ctx); err != nil {
		t.Errorf("blob ping: %v", err)
	}
	if !c.Pipeline.Supports("text/plain") {
		t.Error("pipeline should accept text/plain")
	}
}

func TestInitializeComponents_unknownDriver(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("storage:\n  driver: oracle\n"), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := initializeComponents(cfg, nil); err == nil {
		t.Fatal("expected error for unknown storage driver")
	}
}
