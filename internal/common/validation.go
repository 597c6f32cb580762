package common

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// MaxIdentifierLength is the longest model identifier accepted from a caller.
const MaxIdentifierLength = 256

// MaxNameLength caps a single sanitized path component.
const MaxNameLength = 255

// shellMetaChars are rejected in anything that ends up on a command line.
const shellMetaChars = ";|&$`(){}<>\n\r\x00"

var (
	unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)
	repeatedUnders  = regexp.MustCompile(`_+`)
)

// ValidatePath validates that a path is absolute
func ValidatePath(path string) error {
	if !filepath.IsAbs(path) {
		return fmt.Errorf("path must be absolute: %s", path)
	}
	return nil
}

// ValidateRelativePath validates a path that must stay below some root.
// It rejects absolute paths and any ".." segment.
func ValidateRelativePath(path string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("path cannot be empty")
	}
	if filepath.IsAbs(path) {
		return fmt.Errorf("path must be relative: %s", path)
	}
	if HasTraversal(path) {
		return fmt.Errorf("path must not contain '..': %s", path)
	}
	return nil
}

// HasTraversal reports whether any segment of path is "..".
// Both slash styles are split so "..\\x" is caught on Linux as well.
func HasTraversal(path string) bool {
	for _, seg := range strings.FieldsFunc(path, func(r rune) bool { return r == '/' || r == '\\' }) {
		if seg == ".." {
			return true
		}
	}
	return false
}

// ValidateUsername validates a Unix username
func ValidateUsername(username string) error {
	if username == "" {
		return fmt.Errorf("username cannot be empty")
	}

	if len(username) > 32 {
		return fmt.Errorf("username too long (max 32 characters): %s", username)
	}

	firstChar := username[0]
	if !((firstChar >= 'a' && firstChar <= 'z') || (firstChar >= 'A' && firstChar <= 'Z') || firstChar == '_') {
		return fmt.Errorf("username must start with a letter or underscore: %s", username)
	}

	for _, c := range username {
		if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' || c == '-') {
			return fmt.Errorf("username contains invalid character: %s", username)
		}
	}

	return nil
}

// ValidateIdentifier runs the provider-independent checks on a model
// identifier: length, shell metacharacters, control bytes and traversal.
func ValidateIdentifier(id string) error {
	if id == "" {
		return fmt.Errorf("model ID cannot be empty")
	}
	if len(id) > MaxIdentifierLength {
		return fmt.Errorf("model ID exceeds maximum length of %d characters: %d", MaxIdentifierLength, len(id))
	}
	if i := strings.IndexAny(id, shellMetaChars); i >= 0 {
		return fmt.Errorf("model ID contains dangerous character %q", id[i])
	}
	for _, c := range id {
		if c < 0x20 || c == 0x7f {
			return fmt.Errorf("model ID contains control character %q", c)
		}
	}
	if HasTraversal(id) || strings.HasPrefix(id, "/") || strings.HasPrefix(id, "\\") {
		return fmt.Errorf("model ID contains path traversal pattern: %s", id)
	}
	return nil
}

// SanitizeName turns a model identifier into a single directory name.
// "org/model" becomes "org-model"; anything outside [A-Za-z0-9._-] becomes
// an underscore. Leading dots are stripped so the result is never hidden.
func SanitizeName(id string) string {
	name := strings.ReplaceAll(id, "/", "-")
	name = unsafeNameChars.ReplaceAllString(name, "_")
	name = repeatedUnders.ReplaceAllString(name, "_")
	name = strings.Trim(name, "_")
	name = strings.TrimLeft(name, ".")

	if len(name) > MaxNameLength {
		name = name[:MaxNameLength]
	}
	if name == "" {
		name = "unnamed"
	}
	return name
}
