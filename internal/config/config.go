// Package config handles repository configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"
)

// Config represents repository configuration stored in .annot/config.json.
type Config struct {
	Backend     string `json:"backend"`                // memory, sqlite or redis
	MaxBytes    int64  `json:"max_bytes,omitempty"`    // Storage quota; 0 means unlimited
	ChunkSize   int    `json:"chunk_size,omitempty"`   // Table records above this many bytes are split
	RedisPrefix string `json:"redis_prefix,omitempty"` // Key namespace on a shared Redis
	AnnotatorID string `json:"annotator_id,omitempty"` // This rater's id for cloud pushes

	AnnotationDebounceMS int `json:"annotation_debounce_ms,omitempty"`
	TableDebounceMS      int `json:"table_debounce_ms,omitempty"`
}

const (
	AnnotDir   = ".annot"
	ConfigFile = "config.json"
	DBFile     = "annot.db"
	ExportDir  = "exports"
)

// Defaults written by init.
const (
	DefaultBackend              = "sqlite"
	DefaultAnnotationDebounceMS = 1000
	DefaultTableDebounceMS      = 3000
)

// ValidBackends lists the supported storage backend values.
var ValidBackends = []string{"memory", "sqlite", "redis"}

// Default returns the configuration a fresh repository starts with.
func Default() *Config {
	return &Config{
		Backend:              DefaultBackend,
		AnnotationDebounceMS: DefaultAnnotationDebounceMS,
		TableDebounceMS:      DefaultTableDebounceMS,
	}
}

// AnnotPath returns the path to the .annot directory from a root path.
func AnnotPath(root string) string {
	return filepath.Join(root, AnnotDir)
}

// ConfigPath returns the path to config.json from a root path.
func ConfigPath(root string) string {
	return filepath.Join(root, AnnotDir, ConfigFile)
}

// DBPath returns the path to the SQLite database from a root path.
func DBPath(root string) string {
	return filepath.Join(root, AnnotDir, DBFile)
}

// ExportPath returns the directory exported workbooks are written to.
func ExportPath(root string) string {
	return filepath.Join(root, AnnotDir, ExportDir)
}

// IsRepository checks if the given path contains an annot repository.
func IsRepository(root string) bool {
	info, err := os.Stat(AnnotPath(root))
	return err == nil && info.IsDir()
}

// FindRepository walks up from the given path to find an annot repository.
// Returns the repository root path or an error if not found.
func FindRepository(start string) (string, error) {
	abs, err := filepath.Abs(start)
	if err != nil {
		return "", fmt.Errorf("resolving path: %w", err)
	}

	for {
		if IsRepository(abs) {
			return abs, nil
		}

		parent := filepath.Dir(abs)
		if parent == abs {
			return "", fmt.Errorf("not in an annot repository (no .annot directory found)")
		}
		abs = parent
	}
}

// Load reads configuration from the repository at the given root.
func Load(root string) (*Config, error) {
	data, err := os.ReadFile(ConfigPath(root))
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes configuration to the repository at the given root.
func (c *Config) Save(root string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	if err := os.WriteFile(ConfigPath(root), data, 0644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	return nil
}

// Validate checks value ranges and the backend name.
func (c *Config) Validate() error {
	if c.Backend != "" && !slices.Contains(ValidBackends, c.Backend) {
		return fmt.Errorf("invalid backend: %s (valid: %v)", c.Backend, ValidBackends)
	}
	if c.MaxBytes < 0 || c.ChunkSize < 0 || c.AnnotationDebounceMS < 0 || c.TableDebounceMS < 0 {
		return fmt.Errorf("config values must not be negative")
	}
	return nil
}

// AnnotationWindow is the debounce window for annotation records.
func (c *Config) AnnotationWindow() time.Duration {
	return time.Duration(c.AnnotationDebounceMS) * time.Millisecond
}

// TableWindow is the debounce window for table records.
func (c *Config) TableWindow() time.Duration {
	return time.Duration(c.TableDebounceMS) * time.Millisecond
}

// ExpandPath expands ~ to the user's home directory.
// Returns the original path unchanged if it doesn't start with ~.
func ExpandPath(path string) string {
	if len(path) == 0 || path[0] != '~' {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path // Return original if we can't get home directory
	}

	return filepath.Join(home, path[1:])
}
