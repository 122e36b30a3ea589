package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/menta2k/brandimage/pkg/processing"
	"github.com/menta2k/brandimage/pkg/types"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "BRANDIMAGE_"

// Config holds the application configuration
type Config struct {
	Logo    types.OutputSpec `json:"logo"`
	Cover   types.OutputSpec `json:"cover"`
	Raster  RasterConfig     `json:"raster"`
	Storage StorageConfig    `json:"storage"`
	Auth    AuthConfig       `json:"auth"`
	Focus   FocusConfig      `json:"focus"`
	Server  ServerConfig     `json:"server"`
	Logging LoggingConfig    `json:"logging"`
}

// RasterConfig holds configuration for decoding and resampling
type RasterConfig struct {
	Filter           string   `json:"filter"`
	AutoOrient       bool     `json:"auto_orient"`
	AllowedTypes     []string `json:"allowed_types"`
	RejectUndersized bool     `json:"reject_undersized"`
}

// StorageConfig selects and configures the upload backend
type StorageConfig struct {
	Backend       string   `json:"backend"` // s3, local or memory
	Prefix        string   `json:"prefix"`
	S3            S3Config `json:"s3"`
	LocalDir      string   `json:"local_dir"`
	LocalURL      string   `json:"local_url"`
	MemoryBaseURL string   `json:"memory_base_url"`
}

// S3Config holds the S3 backend settings
type S3Config struct {
	Bucket        string   `json:"bucket"`
	Region        string   `json:"region"`
	Endpoint      string   `json:"endpoint"`
	UsePathStyle  bool     `json:"use_path_style"`
	PublicBaseURL string   `json:"public_base_url"`
	PresignExpiry Duration `json:"presign_expiry"`
}

// AuthConfig holds the anonymous identity settings
type AuthConfig struct {
	SessionPath string   `json:"session_path"`
	Retries     int      `json:"retries"`
	Backoff     Duration `json:"backoff"`
}

// FocusConfig holds configuration for subject based cropping
type FocusConfig struct {
	Backend       string   `json:"backend"` // none, saliency, ollama or llamacpp
	URL           string   `json:"url"`
	Model         string   `json:"model"`
	MinConfidence float64  `json:"min_confidence"`
	Timeout       Duration `json:"timeout"`
}

// ServerConfig holds the HTTP service settings
type ServerConfig struct {
	Addr            string   `json:"addr"`
	ReadTimeout     Duration `json:"read_timeout"`
	WriteTimeout    Duration `json:"write_timeout"`
	ShutdownTimeout Duration `json:"shutdown_timeout"`
}

// LoggingConfig holds the log level and format
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"` // console or json
}

// Duration is a time.Duration encoded as a string like "30s" in JSON.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		var n int64
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("duration must be a string like \"30s\": %w", err)
		}
		*d = Duration(n)
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Logo:  types.LogoSpec(),
		Cover: types.CoverSpec(),
		Raster: RasterConfig{
			Filter:       "lanczos",
			AutoOrient:   true,
			AllowedTypes: []string{"image/jpeg", "image/png", "image/webp"},
		},
		Storage: StorageConfig{
			Backend:  "local",
			Prefix:   "club-images",
			LocalDir: "./uploads",
			LocalURL: "/uploads",
			S3: S3Config{
				PresignExpiry: Duration(7 * 24 * time.Hour),
			},
		},
		Auth: AuthConfig{
			SessionPath: defaultSessionPath(),
			Retries:     2,
			Backoff:     Duration(100 * time.Millisecond),
		},
		Focus: FocusConfig{
			Backend:       "none",
			URL:           "http://localhost:11434",
			Model:         "llava",
			MinConfidence: 0.5,
			Timeout:       Duration(2 * time.Minute),
		},
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(2 * time.Minute),
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadFromFile loads configuration from a JSON file. Missing fields keep
// their default values.
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// Load reads filename when it exists, falls back to defaults otherwise, and
// applies environment overrides.
func Load(filename string) (*Config, error) {
	config := Default()
	if filename != "" {
		if _, err := os.Stat(filename); err == nil {
			if config, err = LoadFromFile(filename); err != nil {
				return nil, err
			}
		}
	}
	if err := config.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return config, nil
}

// SaveToFile saves configuration to a JSON file
func (c *Config) SaveToFile(filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ApplyEnv overrides fields from BRANDIMAGE_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	boolean := func(name string, dst *bool) error {
		if v, ok := lookup(EnvPrefix + name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
			}
			*dst = b
		}
		return nil
	}

	str("STORAGE_BACKEND", &c.Storage.Backend)
	str("STORAGE_PREFIX", &c.Storage.Prefix)
	str("S3_BUCKET", &c.Storage.S3.Bucket)
	str("S3_REGION", &c.Storage.S3.Region)
	str("S3_ENDPOINT", &c.Storage.S3.Endpoint)
	str("S3_PUBLIC_BASE_URL", &c.Storage.S3.PublicBaseURL)
	if err := boolean("S3_PATH_STYLE", &c.Storage.S3.UsePathStyle); err != nil {
		return err
	}
	str("LOCAL_DIR", &c.Storage.LocalDir)
	str("LOCAL_URL", &c.Storage.LocalURL)
	str("SESSION_PATH", &c.Auth.SessionPath)
	str("FOCUS_BACKEND", &c.Focus.Backend)
	str("FOCUS_URL", &c.Focus.URL)
	str("FOCUS_MODEL", &c.Focus.Model)
	str("ADDR", &c.Server.Addr)
	str("LOG_LEVEL", &c.Logging.Level)
	str("LOG_FORMAT", &c.Logging.Format)
	return nil
}

// Specs returns the output specs keyed by kind.
func (c *Config) Specs() map[types.Kind]types.OutputSpec {
	logo, cover := c.Logo, c.Cover
	logo.Kind, cover.Kind = types.KindLogo, types.KindCover
	return map[types.Kind]types.OutputSpec{
		types.KindLogo:  logo,
		types.KindCover: cover,
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	specs := c.Specs()
	for _, kind := range types.Kinds() {
		if err := specs[kind].Validate(); err != nil {
			return err
		}
	}

	if _, err := processing.ParseFilter(c.Raster.Filter); err != nil {
		return fmt.Errorf("raster.filter: %w", err)
	}
	if len(c.Raster.AllowedTypes) == 0 {
		return fmt.Errorf("raster.allowed_types cannot be empty")
	}

	switch strings.ToLower(c.Storage.Backend) {
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required for the s3 backend")
		}
	case "local":
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir is required for the local backend")
		}
	case "memory":
	default:
		return fmt.Errorf("storage.backend must be one of s3, local, memory; got %q", c.Storage.Backend)
	}

	if c.Auth.Retries < 0 {
		return fmt.Errorf("auth.retries must not be negative")
	}

	switch strings.ToLower(c.Focus.Backend) {
	case "", "none":
	case "saliency":
	case "ollama", "llamacpp":
		if c.Focus.URL == "" || c.Focus.Model == "" {
			return fmt.Errorf("focus.url and focus.model are required for the %s backend", c.Focus.Backend)
		}
	default:
		return fmt.Errorf("focus.backend must be none, saliency, ollama or llamacpp; got %q", c.Focus.Backend)
	}
	if c.Focus.MinConfidence < 0 || c.Focus.MinConfidence > 1 {
		return fmt.Errorf("focus.min_confidence must be between 0 and 1")
	}

	switch strings.ToLower(c.Logging.Format) {
	case "", "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json; got %q", c.Logging.Format)
	}

	return nil
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.json"
	}
	return filepath.Join(home, ".config", "brandimage", "config.json")
}

func defaultSessionPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./session.json"
	}
	return filepath.Join(home, ".config", "brandimage", "session.json")
}
