// Package ui prints human-facing output. Status messages go to stderr;
// command results (tables, JSON) go to stdout so they can be piped.
package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
)

// UI provides user interface methods
type UI struct {
	out            io.Writer
	msg            io.Writer
	nonInteractive bool

	colorInfo    *color.Color
	colorSuccess *color.Color
	colorWarning *color.Color
	colorError   *color.Color
	colorBold    *color.Color
	colorCyan    *color.Color
}

// New creates a UI writing results to stdout and messages to stderr.
func New() *UI {
	return &UI{
		out:          os.Stdout,
		msg:          os.Stderr,
		colorInfo:    color.New(color.FgBlue),
		colorSuccess: color.New(color.FgGreen),
		colorWarning: color.New(color.FgYellow),
		colorError:   color.New(color.FgRed),
		colorBold:    color.New(color.Bold),
		colorCyan:    color.New(color.FgCyan, color.Bold),
	}
}

// NewWithWriter sends both results and messages to w (useful for testing).
func NewWithWriter(w io.Writer) *UI {
	u := New()
	u.out = w
	u.msg = w
	return u
}

// SetNonInteractive enables or disables non-interactive mode
func (u *UI) SetNonInteractive(enabled bool) {
	u.nonInteractive = enabled
}

// DisableColor turns off ANSI colors for every UI.
func DisableColor() {
	color.NoColor = true
}

// Info prints an info message
func (u *UI) Info(msg string) {
	u.colorInfo.Fprintf(u.msg, "[INFO] %s\n", msg)
}

// Infof prints a formatted info message
func (u *UI) Infof(format string, args ...interface{}) {
	u.Info(fmt.Sprintf(format, args...))
}

// Success prints a success message
func (u *UI) Success(msg string) {
	u.colorSuccess.Fprintf(u.msg, "[✓] %s\n", msg)
}

// Successf prints a formatted success message
func (u *UI) Successf(format string, args ...interface{}) {
	u.Success(fmt.Sprintf(format, args...))
}

// Warning prints a warning message
func (u *UI) Warning(msg string) {
	u.colorWarning.Fprintf(u.msg, "[WARNING] %s\n", msg)
}

// Warningf prints a formatted warning message
func (u *UI) Warningf(format string, args ...interface{}) {
	u.Warning(fmt.Sprintf(format, args...))
}

// Error prints an error message
func (u *UI) Error(msg string) {
	u.colorError.Fprintf(u.msg, "[ERROR] %s\n", msg)
}

// Errorf prints a formatted error message
func (u *UI) Errorf(format string, args ...interface{}) {
	u.Error(fmt.Sprintf(format, args...))
}

// Step prints a step header
func (u *UI) Step(msg string) {
	u.colorCyan.Fprintf(u.msg, "==> %s\n", msg)
}

// Header prints a boxed title above a results section.
func (u *UI) Header(title string) {
	border := strings.Repeat("=", 70)
	u.colorCyan.Fprintln(u.out, border)
	u.colorCyan.Fprintf(u.out, "  %s\n", title)
	u.colorCyan.Fprintln(u.out, border)
}

// KeyValue prints an aligned "key: value" result line.
func (u *UI) KeyValue(key string, value interface{}) {
	fmt.Fprintf(u.out, "  %-18s ", key+":")
	u.colorBold.Fprintln(u.out, value)
}

// Print prints a plain result line
func (u *UI) Print(msg string) {
	fmt.Fprintln(u.out, msg)
}

// JSON writes v as indented JSON.
func (u *UI) JSON(v interface{}) error {
	enc := json.NewEncoder(u.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
