package common

import (
	"fmt"
	"time"
)

// Binary size units. Every "GB" in configuration means GiB.
const (
	Byte     = 1
	KibiByte = Byte * 1024
	MebiByte = KibiByte * 1024
	GibiByte = MebiByte * 1024
	TebiByte = GibiByte * 1024
)

// HumanBytes formats b with one decimal in the largest fitting binary unit.
func HumanBytes(b uint64) string {
	switch {
	case b >= TebiByte:
		return fmt.Sprintf("%.1f TiB", float64(b)/TebiByte)
	case b >= GibiByte:
		return fmt.Sprintf("%.1f GiB", float64(b)/GibiByte)
	case b >= MebiByte:
		return fmt.Sprintf("%.1f MiB", float64(b)/MebiByte)
	case b >= KibiByte:
		return fmt.Sprintf("%.1f KiB", float64(b)/KibiByte)
	default:
		return fmt.Sprintf("%d B", b)
	}
}

// GBToBytes converts whole GiB to bytes, saturating instead of overflowing.
func GBToBytes(gb int64) uint64 {
	if gb <= 0 {
		return 0
	}
	if uint64(gb) > ^uint64(0)/GibiByte {
		return ^uint64(0)
	}
	return uint64(gb) * GibiByte
}

// HumanAge renders a duration the way ls-style listings do: "45s", "3m",
// "5h", "2d".
func HumanAge(d time.Duration) string {
	switch {
	case d < 0:
		return "0s"
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}
