package ui

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestMessages(t *testing.T) {
	DisableColor()
	var buf bytes.Buffer
	u := NewWithWriter(&buf)

	u.Infof("checking %s", "/mnt/nvme")
	u.Warning("legacy path left untouched")
	u.Success("done")
	u.Errorf("failed: %d", 1)

	out := buf.String()
	for _, want := range []string{
		"[INFO] checking /mnt/nvme\n",
		"[WARNING] legacy path left untouched\n",
		"[✓] done\n",
		"[ERROR] failed: 1\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestTable(t *testing.T) {
	DisableColor()
	var buf bytes.Buffer
	u := NewWithWriter(&buf)

	u.Table([]string{"Name", "Size"}, [][]string{
		{"org/model", "13.5 GiB"},
		{"llama3:latest", "4.7 GiB"},
	})

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d:\n%s", len(lines), buf.String())
	}
	if !strings.HasPrefix(lines[0], "NAME") {
		t.Errorf("header = %q, want NAME first", lines[0])
	}
	if !strings.Contains(lines[1], "org/model") || !strings.Contains(lines[1], "13.5 GiB") {
		t.Errorf("row = %q", lines[1])
	}
}

func TestJSON(t *testing.T) {
	var buf bytes.Buffer
	u := NewWithWriter(&buf)
	if err := u.JSON(map[string]int{"models": 2}); err != nil {
		t.Fatal(err)
	}
	if got := buf.String(); got != "{\n  \"models\": 2\n}\n" {
		t.Errorf("JSON = %q", got)
	}
}

func TestPromptNonInteractive(t *testing.T) {
	u := NewWithWriter(&bytes.Buffer{})
	u.SetNonInteractive(true)

	ok, err := u.PromptYesNo("Continue?", true)
	if err != nil || !ok {
		t.Errorf("PromptYesNo(default yes) = %v, %v", ok, err)
	}

	ok, err = u.PromptYesNo("Delete?", false)
	if ok || !errors.Is(err, ErrNonInteractive) {
		t.Errorf("PromptYesNo(default no) = %v, %v", ok, err)
	}
}
