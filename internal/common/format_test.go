package common

import (
	"testing"
	"time"
)

func TestHumanBytes(t *testing.T) {
	tests := []struct {
		in   uint64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{15 * GibiByte, "15.0 GiB"},
		{20 * GibiByte, "20.0 GiB"},
		{3 * TebiByte, "3.0 TiB"},
	}
	for _, tt := range tests {
		if got := HumanBytes(tt.in); got != tt.want {
			t.Errorf("HumanBytes(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestGBToBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want uint64
	}{
		{-1, 0},
		{0, 0},
		{50, 50 * GibiByte},
		{1 << 40, ^uint64(0)},
	}
	for _, tt := range tests {
		if got := GBToBytes(tt.in); got != tt.want {
			t.Errorf("GBToBytes(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestHumanAge(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{-time.Second, "0s"},
		{45 * time.Second, "45s"},
		{3 * time.Minute, "3m"},
		{5 * time.Hour, "5h"},
		{72 * time.Hour, "3d"},
	}
	for _, tt := range tests {
		if got := HumanAge(tt.in); got != tt.want {
			t.Errorf("HumanAge(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
