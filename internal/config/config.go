// Package config provides configuration loading and structs for the docsight server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Driver and provider names accepted in the config file.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	BlobLocal      = "local"
	BlobMinio      = "minio"
	ProviderOpenAI = "openai"
	ProviderONNX   = "onnx"
	ProviderMock   = "mock"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Blob      BlobConfig      `yaml:"blob"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	LLM       LLMConfig       `yaml:"llm"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Search    SearchConfig    `yaml:"search"`
	Watch     WatchConfig     `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig selects the transactional store and the keyword index location.
type StorageConfig struct {
	// Driver is "sqlite" (default) or "postgres".
	Driver         string `yaml:"driver"`
	DatabasePath   string `yaml:"database_path"`
	PostgresDSN    string `yaml:"postgres_dsn"`
	PostgresDSNEnv string `yaml:"postgres_dsn_env"`
	// BleveIndexPath enables the keyword index when non-empty.
	BleveIndexPath string `yaml:"bleve_index_path"`
}

// BlobConfig selects where uploaded files are stored.
type BlobConfig struct {
	// Driver is "local" (default) or "minio".
	Driver        string      `yaml:"driver"`
	LocalDir      string      `yaml:"local_dir"`
	PublicBaseURL string      `yaml:"public_base_url"`
	Minio         MinioConfig `yaml:"minio"`
}

// MinioConfig holds S3-compatible object storage settings.
type MinioConfig struct {
	Endpoint     string `yaml:"endpoint"`
	AccessKeyEnv string `yaml:"access_key_env"`
	SecretKeyEnv string `yaml:"secret_key_env"`
	Bucket       string `yaml:"bucket"`
	UseSSL       bool   `yaml:"use_ssl"`
}

// EmbeddingConfig holds embedder settings.
type EmbeddingConfig struct {
	// Provider is "openai" (default), "onnx" or "mock".
	Provider   string `yaml:"provider"`
	BaseURL    string `yaml:"base_url"`
	APIKeyEnv  string `yaml:"api_key_env"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	BatchSize  int    `yaml:"batch_size"`
	MaxRetries int    `yaml:"max_retries"`
	CacheSize  int    `yaml:"cache_size"`
	// ModelPath and MaxTokens apply to the onnx provider.
	ModelPath string `yaml:"model_path"`
	MaxTokens int    `yaml:"max_tokens"`
}

// LLMConfig holds settings for the vision and structured-completion capabilities.
type LLMConfig struct {
	BaseURL     string `yaml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Model       string `yaml:"model"`
	VisionModel string `yaml:"vision_model"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// Timeout returns the request timeout for capability calls.
func (c LLMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// IngestConfig holds upload validation, chunking and worker settings.
type IngestConfig struct {
	ChunkSize        int    `yaml:"chunk_size"`
	ChunkOverlap     int    `yaml:"chunk_overlap"`
	Workers          int    `yaml:"workers"`
	QueueSize        int    `yaml:"queue_size"`
	MaxFileSize      int64  `yaml:"max_file_size"`
	EmbedConcurrency int    `yaml:"embed_concurrency"`
	DefaultUser      string `yaml:"default_user"`
}

// SearchConfig holds search defaults and fusion weights.
type SearchConfig struct {
	DefaultLimit               int     `yaml:"default_limit"`
	MaxLimit                   int     `yaml:"max_limit"`
	DefaultSimilarityThreshold float64 `yaml:"default_similarity_threshold"`
	KeywordWeight              float64 `yaml:"keyword_weight"`
	SemanticWeight             float64 `yaml:"semantic_weight"`
}

// WatchConfig holds inbox directory watch settings.
type WatchConfig struct {
	Directories []string `yaml:"directories"`
	Extensions  []string `yaml:"extensions"`
	Recursive   *bool    `yaml:"recursive"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.BleveIndexPath = expandPath(cfg.Storage.BleveIndexPath, configDir)
	cfg.Blob.LocalDir = expandPath(cfg.Blob.LocalDir, configDir)
	cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
	}

	return &cfg, nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Secret returns the value of the environment variable named by envName, or "" when unset.
func Secret(envName string) string {
	if envName == "" {
		return ""
	}
	return os.Getenv(envName)
}

// ResolvePostgresDSN returns the DSN from the environment when configured, else the literal DSN.
func (s StorageConfig) ResolvePostgresDSN() string {
	if v := Secret(s.PostgresDSNEnv); v != "" {
		return v
	}
	return s.PostgresDSN
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory. Special values like ":memory:" and
// empty strings are returned unchanged.
func expandPath(path string, configDir string) string {
	if path == "" || strings.HasPrefix(path, ":") || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
