package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.BasePath != "/mnt/nvme" {
		t.Errorf("BasePath = %v, want /mnt/nvme", cfg.BasePath)
	}
	if !cfg.RequireMount {
		t.Error("RequireMount = false, want true")
	}
	if cfg.MinFreeSpaceGB != 50 {
		t.Errorf("MinFreeSpaceGB = %d, want 50", cfg.MinFreeSpaceGB)
	}
	if time.Duration(cfg.LockTimeout) != 2*time.Second {
		t.Errorf("LockTimeout = %v, want 2s", time.Duration(cfg.LockTimeout))
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default().Validate() error = %v", err)
	}

	// Mutating one default must not leak into the next
	cfg.ProviderSubpaths["ollama"] = "changed"
	if Default().ProviderSubpaths["ollama"] != "ollama" {
		t.Error("Default() shares its provider map")
	}
}

func TestLoadFormats(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{
			name: "yaml",
			file: "config.yaml",
			content: `base_path: /srv/nvme
require_mount: false
min_free_space_gb: 0
lock_timeout: 5s
provider_subpaths:
  ollama: ollama-store
log:
  level: debug
`,
		},
		{
			name: "toml",
			file: "config.toml",
			content: `base_path = "/srv/nvme"
require_mount = false
min_free_space_gb = 0
lock_timeout = "5s"

[provider_subpaths]
ollama = "ollama-store"

[log]
level = "debug"
`,
		},
		{
			name: "json",
			file: "config.json",
			content: `{"base_path": "/srv/nvme", "require_mount": false, "min_free_space_gb": 0,
"lock_timeout": "5s", "provider_subpaths": {"ollama": "ollama-store"},
"log": {"level": "debug"}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.file, tt.content)

			cfg, err := Load(path, envMap(nil))
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}

			if cfg.BasePath != "/srv/nvme" {
				t.Errorf("BasePath = %v, want /srv/nvme", cfg.BasePath)
			}
			if cfg.RequireMount {
				t.Error("RequireMount = true, want explicit false from file")
			}
			if cfg.MinFreeSpaceGB != 0 {
				t.Errorf("MinFreeSpaceGB = %d, want explicit 0 from file", cfg.MinFreeSpaceGB)
			}
			if time.Duration(cfg.LockTimeout) != 5*time.Second {
				t.Errorf("LockTimeout = %v, want 5s", time.Duration(cfg.LockTimeout))
			}
			if cfg.ProviderSubpaths["ollama"] != "ollama-store" {
				t.Errorf("ollama subpath = %v, want ollama-store", cfg.ProviderSubpaths["ollama"])
			}
			// Untouched providers keep their defaults
			if cfg.ProviderSubpaths["huggingface"] != "models" {
				t.Errorf("huggingface subpath = %v, want models", cfg.ProviderSubpaths["huggingface"])
			}
			if cfg.Log.Level != "debug" {
				t.Errorf("Log.Level = %v, want debug", cfg.Log.Level)
			}
			if cfg.Source != path {
				t.Errorf("Source = %v, want %v", cfg.Source, path)
			}
		})
	}
}

func TestLoadPrecedence(t *testing.T) {
	path := writeConfig(t, "config.yaml", "base_path: /from/file\nmin_free_space_gb: 10\nrequire_mount: true\n")

	cfg, err := Load(path, envMap(map[string]string{
		EnvBasePath:        "/from/env",
		EnvRequireMount:    "false",
		EnvLockFile:        "/tmp/nvme.lock",
		EnvMetricsTextfile: "/var/lib/node_exporter/nvme.prom",
	}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.BasePath != "/from/env" {
		t.Errorf("BasePath = %v, env should win over file", cfg.BasePath)
	}
	if cfg.MinFreeSpaceGB != 10 {
		t.Errorf("MinFreeSpaceGB = %d, file should win over default", cfg.MinFreeSpaceGB)
	}
	if cfg.RequireMount {
		t.Error("RequireMount = true, env should win over file")
	}
	if cfg.LockFile != "/tmp/nvme.lock" {
		t.Errorf("LockFile = %v", cfg.LockFile)
	}
	if cfg.Metrics.Textfile != "/var/lib/node_exporter/nvme.prom" {
		t.Errorf("Metrics.Textfile = %v", cfg.Metrics.Textfile)
	}
}

func TestLoadSearchPaths(t *testing.T) {
	home := t.TempDir()
	dir := filepath.Join(home, ".config", "nvme-models")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("min_free_space_gb: 7\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load("", envMap(map[string]string{EnvHome: home}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.MinFreeSpaceGB != 7 {
		t.Errorf("MinFreeSpaceGB = %d, want 7 from home config", cfg.MinFreeSpaceGB)
	}
	if cfg.HomeDir != home {
		t.Errorf("HomeDir = %v, want %v", cfg.HomeDir, home)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		path string
		env  map[string]string
		want string
	}{
		{
			name: "missing explicit file",
			path: filepath.Join(t.TempDir(), "missing.yaml"),
			want: "failed to read config file",
		},
		{
			name: "unsupported extension",
			path: writeConfig(t, "config.ini", "base_path=/x"),
			want: "unsupported config extension",
		},
		{
			name: "malformed yaml",
			path: writeConfig(t, "bad.yaml", "base_path: [unterminated"),
			want: "failed to parse config file",
		},
		{
			name: "bad duration",
			path: writeConfig(t, "bad.yaml", "lock_timeout: soon\n"),
			want: "invalid duration",
		},
		{
			name: "bad bool env",
			path: writeConfig(t, "ok.yaml", "{}\n"),
			env:  map[string]string{EnvRequireMount: "maybe"},
			want: EnvRequireMount,
		},
		{
			name: "bad int env",
			path: writeConfig(t, "ok.yaml", "{}\n"),
			env:  map[string]string{EnvMinFreeSpaceGB: "lots"},
			want: EnvMinFreeSpaceGB,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(tt.path, envMap(tt.env))
			if err == nil {
				t.Fatal("Load() error = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Load() error = %v, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestSudoUserOwner(t *testing.T) {
	cfg, err := Load(writeConfig(t, "c.yaml", "{}\n"), envMap(map[string]string{EnvSudoUser: "root"}))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.OwnerName != "" {
		t.Errorf("OwnerName = %q, root should not become the owner", cfg.OwnerName)
	}

	cfg, err = Load(writeConfig(t, "c.yaml", "owner: core\n"), envMap(map[string]string{EnvSudoUser: "alice"}))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.OwnerName != "core" {
		t.Errorf("OwnerName = %q, explicit owner should win over SUDO_USER", cfg.OwnerName)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"relative base", func(c *Config) { c.BasePath = "mnt/nvme" }, true},
		{"negative free space", func(c *Config) { c.MinFreeSpaceGB = -1 }, true},
		{"traversal subpath", func(c *Config) { c.ProviderSubpaths["ollama"] = "../etc" }, true},
		{"absolute subpath", func(c *Config) { c.ProviderSubpaths["ollama"] = "/etc" }, true},
		{"empty cache subpath", func(c *Config) { c.CacheSubpath = "" }, true},
		{"no providers", func(c *Config) { c.ProviderSubpaths = map[string]string{} }, true},
		{"lock inside base", func(c *Config) { c.LockFile = "/mnt/nvme/.lock" }, true},
		{"lock beside base", func(c *Config) { c.LockFile = "/mnt/nvme-locks/lock" }, false},
		{"relative lock", func(c *Config) { c.LockFile = "nvme.lock" }, true},
		{"zero timeout", func(c *Config) { c.LockTimeout = 0 }, true},
		{"unknown owner", func(c *Config) { c.OwnerName = "nvme-models-no-such-user" }, true},
		{"root owner", func(c *Config) { c.OwnerName = "root" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDirectories(t *testing.T) {
	cfg := Default()

	want := []string{
		"/mnt/nvme",
		"/mnt/nvme/hf-cache",
		"/mnt/nvme/models",
		"/mnt/nvme/ollama",
		"/mnt/nvme/logs",
	}
	if got := cfg.Directories(); !reflect.DeepEqual(got, want) {
		t.Errorf("Directories() = %v, want %v", got, want)
	}

	dir, err := cfg.ProviderDir("Ollama")
	if err != nil || dir != "/mnt/nvme/ollama" {
		t.Errorf("ProviderDir(Ollama) = %v, %v", dir, err)
	}
	if _, err := cfg.ProviderDir("llamacpp"); err == nil {
		t.Error("ProviderDir() should fail for an unknown provider")
	}
}

func TestClone(t *testing.T) {
	cfg := Default()
	clone := cfg.Clone()
	clone.ProviderSubpaths["ollama"] = "other"
	clone.BasePath = "/other"

	if cfg.ProviderSubpaths["ollama"] != "ollama" || cfg.BasePath != "/mnt/nvme" {
		t.Error("Clone() shares state with the original")
	}
}

func TestDurationText(t *testing.T) {
	var d Duration
	if err := d.UnmarshalText([]byte(" 90s ")); err != nil {
		t.Fatalf("UnmarshalText() error = %v", err)
	}
	if time.Duration(d) != 90*time.Second {
		t.Errorf("Duration = %v, want 1m30s", time.Duration(d))
	}
	b, _ := d.MarshalText()
	if string(b) != "1m30s" {
		t.Errorf("MarshalText() = %s, want 1m30s", b)
	}
}
