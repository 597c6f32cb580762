// Package config loads the nvme-models configuration. Values come from
// built-in defaults, then a YAML, TOML or JSON file, then NVME_* environment
// variables; command-line flags are applied last by the caller. A loaded
// Config is treated as immutable.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/zoro11031/homelab-coreos-minipc/nvme-models/internal/common"
	"github.com/zoro11031/homelab-coreos-minipc/nvme-models/internal/system"
)

// Duration is a time.Duration that reads "90s" or "24h" from any config format.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level string `json:"level" yaml:"level" toml:"level"`
	File  string `json:"file,omitempty" yaml:"file,omitempty" toml:"file,omitempty"`
}

// MetricsConfig controls the Prometheus textfile export.
type MetricsConfig struct {
	Textfile string `json:"textfile,omitempty" yaml:"textfile,omitempty" toml:"textfile,omitempty"`
}

// Config holds the storage layout and runtime settings.
type Config struct {
	BasePath         string            `json:"base_path" yaml:"base_path" toml:"base_path"`
	RequireMount     bool              `json:"require_mount" yaml:"require_mount" toml:"require_mount"`
	MinFreeSpaceGB   int               `json:"min_free_space_gb" yaml:"min_free_space_gb" toml:"min_free_space_gb"`
	ProviderSubpaths map[string]string `json:"provider_subpaths" yaml:"provider_subpaths" toml:"provider_subpaths"`
	CacheSubpath     string            `json:"cache_subpath" yaml:"cache_subpath" toml:"cache_subpath"`
	LockFile         string            `json:"lock_file" yaml:"lock_file" toml:"lock_file"`
	LockTimeout      Duration          `json:"lock_timeout" yaml:"lock_timeout" toml:"lock_timeout"`
	StagingMaxAge    Duration          `json:"staging_max_age" yaml:"staging_max_age" toml:"staging_max_age"`
	LegacyLinks      bool              `json:"legacy_links" yaml:"legacy_links" toml:"legacy_links"`
	OwnerName        string            `json:"owner,omitempty" yaml:"owner,omitempty" toml:"owner,omitempty"`
	Log              LogConfig         `json:"log" yaml:"log" toml:"log"`
	Metrics          MetricsConfig     `json:"metrics" yaml:"metrics" toml:"metrics"`

	// Owner is OwnerName resolved to ids; NoOwner when unset.
	Owner system.Owner `json:"-" yaml:"-" toml:"-"`
	// HomeDir is where legacy links are created.
	HomeDir string `json:"-" yaml:"-" toml:"-"`
	// Source is the file the config was read from, empty for defaults only.
	Source string `json:"-" yaml:"-" toml:"-"`
}

// fileConfig mirrors Config with pointers so an explicit false or zero in a
// file can be told apart from an absent key.
type fileConfig struct {
	BasePath         *string           `json:"base_path" yaml:"base_path" toml:"base_path"`
	RequireMount     *bool             `json:"require_mount" yaml:"require_mount" toml:"require_mount"`
	MinFreeSpaceGB   *int              `json:"min_free_space_gb" yaml:"min_free_space_gb" toml:"min_free_space_gb"`
	ProviderSubpaths map[string]string `json:"provider_subpaths" yaml:"provider_subpaths" toml:"provider_subpaths"`
	CacheSubpath     *string           `json:"cache_subpath" yaml:"cache_subpath" toml:"cache_subpath"`
	LockFile         *string           `json:"lock_file" yaml:"lock_file" toml:"lock_file"`
	LockTimeout      *Duration         `json:"lock_timeout" yaml:"lock_timeout" toml:"lock_timeout"`
	StagingMaxAge    *Duration         `json:"staging_max_age" yaml:"staging_max_age" toml:"staging_max_age"`
	LegacyLinks      *bool             `json:"legacy_links" yaml:"legacy_links" toml:"legacy_links"`
	Owner            *string           `json:"owner" yaml:"owner" toml:"owner"`
	Log              struct {
		Level *string `json:"level" yaml:"level" toml:"level"`
		File  *string `json:"file" yaml:"file" toml:"file"`
	} `json:"log" yaml:"log" toml:"log"`
	Metrics struct {
		Textfile *string `json:"textfile" yaml:"textfile" toml:"textfile"`
	} `json:"metrics" yaml:"metrics" toml:"metrics"`
}

// Default returns the built-in configuration.
func Default() *Config {
	subpaths := make(map[string]string, len(DefaultProviderSubpaths))
	for k, v := range DefaultProviderSubpaths {
		subpaths[k] = v
	}
	return &Config{
		BasePath:         DefaultBasePath,
		RequireMount:     DefaultRequireMount,
		MinFreeSpaceGB:   DefaultMinFreeSpaceGB,
		ProviderSubpaths: subpaths,
		CacheSubpath:     DefaultCacheSubpath,
		LockFile:         DefaultLockFile,
		LockTimeout:      Duration(DefaultLockTimeout),
		StagingMaxAge:    Duration(DefaultStagingMaxAge),
		LegacyLinks:      true,
		Log:              LogConfig{Level: DefaultLogLevel},
		Owner:            system.NoOwner,
	}
}

// DefaultSearchPaths lists where Load looks when no path is given.
func DefaultSearchPaths(home string) []string {
	var paths []string
	if home != "" {
		paths = append(paths, filepath.Join(home, ".config", "nvme-models", "config.yaml"))
	}
	return append(paths, "/etc/nvme-models/config.yaml", "config.yaml")
}

// Load builds a Config from defaults, the config file and the environment.
// An explicit path must exist; with an empty path the first existing file
// from DefaultSearchPaths is used, and none at all is not an error.
// getenv is usually os.Getenv.
func Load(path string, getenv func(string) string) (*Config, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	cfg := Default()

	if path == "" {
		for _, candidate := range DefaultSearchPaths(getenv(EnvHome)) {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}

	if path != "" {
		fc, err := readFile(path)
		if err != nil {
			return nil, err
		}
		cfg.merge(fc)
		cfg.Source = path
	}

	if err := cfg.applyEnv(getenv); err != nil {
		return nil, err
	}

	cfg.HomeDir = getenv(EnvHome)
	if cfg.OwnerName != "" {
		// sudo keeps HOME as the invoking user's on most distros, but not all
		if home, err := system.HomeDir(cfg.OwnerName); err == nil {
			cfg.HomeDir = home
		}
	}

	return cfg, nil
}

// readFile decodes path by extension. Supports: .yaml/.yml, .json, .toml
func readFile(path string) (*fileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var fc fileConfig
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &fc)
	case ".json":
		err = json.Unmarshal(b, &fc)
	case ".toml":
		err = toml.Unmarshal(b, &fc)
	default:
		return nil, fmt.Errorf("unsupported config extension: %s", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return &fc, nil
}

func (c *Config) merge(fc *fileConfig) {
	setString := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}

	setString(&c.BasePath, fc.BasePath)
	setString(&c.CacheSubpath, fc.CacheSubpath)
	setString(&c.LockFile, fc.LockFile)
	setString(&c.OwnerName, fc.Owner)
	setString(&c.Log.Level, fc.Log.Level)
	setString(&c.Log.File, fc.Log.File)
	setString(&c.Metrics.Textfile, fc.Metrics.Textfile)

	if fc.RequireMount != nil {
		c.RequireMount = *fc.RequireMount
	}
	if fc.MinFreeSpaceGB != nil {
		c.MinFreeSpaceGB = *fc.MinFreeSpaceGB
	}
	if fc.LockTimeout != nil {
		c.LockTimeout = *fc.LockTimeout
	}
	if fc.StagingMaxAge != nil {
		c.StagingMaxAge = *fc.StagingMaxAge
	}
	if fc.LegacyLinks != nil {
		c.LegacyLinks = *fc.LegacyLinks
	}
	// Per-provider entries override defaults one by one.
	for provider, sub := range fc.ProviderSubpaths {
		c.ProviderSubpaths[strings.ToLower(provider)] = sub
	}
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv(EnvBasePath); v != "" {
		c.BasePath = v
	}
	if v := getenv(EnvRequireMount); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s=%q: %w", EnvRequireMount, v, err)
		}
		c.RequireMount = b
	}
	if v := getenv(EnvMinFreeSpaceGB); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s=%q: %w", EnvMinFreeSpaceGB, v, err)
		}
		c.MinFreeSpaceGB = n
	}
	if v := getenv(EnvLockFile); v != "" {
		c.LockFile = v
	}
	if v := getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
	if v := getenv(EnvMetricsTextfile); v != "" {
		c.Metrics.Textfile = v
	}
	// Directories created under sudo belong to the invoking user.
	if v := getenv(EnvSudoUser); v != "" && c.OwnerName == "" && v != "root" {
		c.OwnerName = v
	}
	return nil
}

// Validate checks the invariants the storage manager relies on and resolves
// OwnerName to ids.
func (c *Config) Validate() error {
	if err := common.ValidatePath(c.BasePath); err != nil {
		return fmt.Errorf("base_path: %w", err)
	}
	c.BasePath = filepath.Clean(c.BasePath)

	if c.MinFreeSpaceGB < 0 {
		return fmt.Errorf("min_free_space_gb must be >= 0, got %d", c.MinFreeSpaceGB)
	}
	if err := common.ValidateRelativePath(c.CacheSubpath); err != nil {
		return fmt.Errorf("cache_subpath: %w", err)
	}
	if len(c.ProviderSubpaths) == 0 {
		return fmt.Errorf("provider_subpaths cannot be empty")
	}
	for provider, sub := range c.ProviderSubpaths {
		if err := common.ValidateRelativePath(sub); err != nil {
			return fmt.Errorf("provider_subpaths.%s: %w", provider, err)
		}
	}

	if err := common.ValidatePath(c.LockFile); err != nil {
		return fmt.Errorf("lock_file: %w", err)
	}
	// The lock must survive the base being remounted or wiped.
	if isWithin(c.BasePath, filepath.Clean(c.LockFile)) {
		return fmt.Errorf("lock_file %s must be outside base_path %s", c.LockFile, c.BasePath)
	}
	if c.LockTimeout <= 0 {
		return fmt.Errorf("lock_timeout must be positive")
	}
	if c.StagingMaxAge <= 0 {
		return fmt.Errorf("staging_max_age must be positive")
	}

	owner, err := system.ResolveOwner(c.OwnerName)
	if err != nil {
		return fmt.Errorf("owner: %w", err)
	}
	c.Owner = owner
	return nil
}

// Clone returns a deep copy so callers cannot mutate a shared Config.
func (c *Config) Clone() *Config {
	out := *c
	out.ProviderSubpaths = make(map[string]string, len(c.ProviderSubpaths))
	for k, v := range c.ProviderSubpaths {
		out.ProviderSubpaths[k] = v
	}
	return &out
}

// ProviderSubpath returns the configured subpath for provider.
func (c *Config) ProviderSubpath(provider string) (string, bool) {
	sub, ok := c.ProviderSubpaths[strings.ToLower(provider)]
	return sub, ok
}

// ProviderDir returns the absolute directory for provider.
func (c *Config) ProviderDir(provider string) (string, error) {
	sub, ok := c.ProviderSubpath(provider)
	if !ok {
		return "", fmt.Errorf("no subpath configured for provider %q", provider)
	}
	return filepath.Join(c.BasePath, sub), nil
}

// Providers returns the configured provider names in sorted order.
func (c *Config) Providers() []string {
	names := make([]string, 0, len(c.ProviderSubpaths))
	for name := range c.ProviderSubpaths {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CacheDir is the shared download cache.
func (c *Config) CacheDir() string {
	return filepath.Join(c.BasePath, c.CacheSubpath)
}

// LogDir is where tools may write logs on the volume.
func (c *Config) LogDir() string {
	return filepath.Join(c.BasePath, DefaultLogSubpath)
}

// Directories returns every directory Setup provisions, base first, without
// duplicates.
func (c *Config) Directories() []string {
	seen := map[string]bool{}
	dirs := []string{}
	add := func(d string) {
		if !seen[d] {
			seen[d] = true
			dirs = append(dirs, d)
		}
	}

	add(c.BasePath)
	add(c.CacheDir())
	for _, name := range c.Providers() {
		add(filepath.Join(c.BasePath, c.ProviderSubpaths[name]))
	}
	add(c.LogDir())
	return dirs
}

func isWithin(base, path string) bool {
	if path == base {
		return true
	}
	return strings.HasPrefix(path, strings.TrimSuffix(base, "/")+"/")
}
