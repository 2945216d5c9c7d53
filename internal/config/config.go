package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the inboxrag configuration
type Config struct {
	Models    ModelsConfig    `yaml:"models"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Timezone  string          `yaml:"timezone,omitempty"`
}

// ModelsConfig names the Gemini models and optional rate limits.
type ModelsConfig struct {
	Generate    string `yaml:"generate"`
	Embed       string `yaml:"embed"`
	EmbedDim    int    `yaml:"embed_dim"`
	GenerateRPM int    `yaml:"generate_rpm,omitempty"`
	EmbedRPM    int    `yaml:"embed_rpm,omitempty"`
}

// IngestConfig controls the fetch pipeline.
type IngestConfig struct {
	ChunkSize  int    `yaml:"chunk_size"`
	WindowDays int    `yaml:"window_days"`
	TokenFile  string `yaml:"token_file,omitempty"`
}

// RetrievalConfig controls the query funnel.
type RetrievalConfig struct {
	DefaultLimit int `yaml:"default_limit"`
	RerankTopK   int `yaml:"rerank_top_k"`
}

// Default returns a config with the built-in defaults applied.
func Default() *Config {
	return &Config{
		Models: ModelsConfig{
			Generate: "gemini-2.5-flash",
			Embed:    "text-embedding-004",
			EmbedDim: 768,
		},
		Ingest: IngestConfig{
			ChunkSize:  50,
			WindowDays: 30,
			TokenFile:  "token.json",
		},
		Retrieval: RetrievalConfig{
			DefaultLimit: 50,
			RerankTopK:   7,
		},
	}
}

// Location returns the timezone used when prompting the planner with the
// current time. Falls back to the system local zone.
func (c *Config) Location() *time.Location {
	if c != nil && c.Timezone != "" {
		if loc, err := time.LoadLocation(c.Timezone); err == nil {
			return loc
		}
	}
	return time.Local
}

// GetConfigDir returns the XDG-compliant config directory
func GetConfigDir() (string, error) {
	// Explicit override (useful for tests and portable installs)
	if override := os.Getenv("INBOXRAG_CONFIG_DIR"); override != "" {
		return override, nil
	}

	var base string
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		base = xdg
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "inboxrag"), nil
}

// GetDataDir returns the platform-specific data directory
func GetDataDir() (string, error) {
	// Explicit override (useful for tests and portable installs)
	if override := os.Getenv("INBOXRAG_DATA_DIR"); override != "" {
		return override, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}

	if runtime.GOOS == "darwin" {
		return filepath.Join(home, "Library", "Application Support", "Inboxrag"), nil
	}

	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "inboxrag"), nil
	}

	return filepath.Join(home, ".local", "share", "inboxrag"), nil
}

// Load loads config from the config file, applying defaults for anything
// the file leaves unset.
func Load() (*Config, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return nil, err
	}

	configPath := filepath.Join(configDir, "config.yaml")

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyDefaults()

	return cfg, nil
}

func (c *Config) applyDefaults() {
	d := Default()
	if c.Models.Generate == "" {
		c.Models.Generate = d.Models.Generate
	}
	if c.Models.Embed == "" {
		c.Models.Embed = d.Models.Embed
	}
	if c.Models.EmbedDim <= 0 {
		c.Models.EmbedDim = d.Models.EmbedDim
	}
	if c.Ingest.ChunkSize <= 0 {
		c.Ingest.ChunkSize = d.Ingest.ChunkSize
	}
	if c.Ingest.WindowDays <= 0 {
		c.Ingest.WindowDays = d.Ingest.WindowDays
	}
	if c.Ingest.TokenFile == "" {
		c.Ingest.TokenFile = d.Ingest.TokenFile
	}
	if c.Retrieval.DefaultLimit <= 0 {
		c.Retrieval.DefaultLimit = d.Retrieval.DefaultLimit
	}
	if c.Retrieval.RerankTopK <= 0 {
		c.Retrieval.RerankTopK = d.Retrieval.RerankTopK
	}
}

// Save saves the config to the config file
func (c *Config) Save() error {
	configDir, err := GetConfigDir()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	configPath := filepath.Join(configDir, "config.yaml")

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}
