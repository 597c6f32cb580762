package common

import (
	"strings"
	"testing"
)

func TestValidatePath(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"absolute path", "/mnt/nvme", false},
		{"root", "/", false},
		{"relative path", "mnt/nvme", true},
		{"dot relative", "./models", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePath(tt.path)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePath() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateRelativePath(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"simple", "models", false},
		{"nested", "providers/ollama", false},
		{"dotted name", "hf.cache", false},
		{"empty", "", true},
		{"absolute", "/models", true},
		{"parent", "../models", true},
		{"embedded parent", "models/../../etc", true},
		{"backslash parent", "models\\..\\etc", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRelativePath(tt.path)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateRelativePath() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateUsername(t *testing.T) {
	tests := []struct {
		name     string
		username string
		wantErr  bool
	}{
		{"valid", "core", false},
		{"underscore start", "_svc", false},
		{"with digits and dash", "ml-user2", false},
		{"empty", "", true},
		{"digit start", "1user", true},
		{"bad char", "user;rm", true},
		{"too long", strings.Repeat("a", 33), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateUsername(tt.username)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateUsername() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateIdentifier(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"huggingface id", "meta-llama/Llama-2-7b-hf", false},
		{"ollama id", "llama2:7b", false},
		{"empty", "", true},
		{"too long", strings.Repeat("a", MaxIdentifierLength+1), true},
		{"semicolon", "org/model;rm -rf /", true},
		{"command substitution", "org/$(whoami)", true},
		{"backtick", "org/`id`", true},
		{"pipe", "org/model|cat", true},
		{"null byte", "org/model\x00", true},
		{"tab", "org/mo\tdel", true},
		{"traversal", "../etc/passwd", true},
		{"nested traversal", "org/../../etc", true},
		{"absolute", "/etc/passwd", true},
		{"windows style", "\\\\server\\share", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateIdentifier(tt.id)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateIdentifier(%q) error = %v, wantErr %v", tt.id, err, tt.wantErr)
			}
		})
	}
}

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		name string
		id   string
		want string
	}{
		{"org and model", "meta-llama/Llama-2-7b-hf", "meta-llama-Llama-2-7b-hf"},
		{"ollama tag", "llama2:7b", "llama2_7b"},
		{"spaces collapse", "my   model", "my_model"},
		{"hidden prefix", ".hidden", "hidden"},
		{"only junk", "***", "unnamed"},
		{"empty", "", "unnamed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeName(tt.id); got != tt.want {
				t.Errorf("SanitizeName(%q) = %q, want %q", tt.id, got, tt.want)
			}
		})
	}

	long := SanitizeName(strings.Repeat("x", 400))
	if len(long) != MaxNameLength {
		t.Errorf("SanitizeName() length = %d, want %d", len(long), MaxNameLength)
	}
}
