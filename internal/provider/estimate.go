package provider

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/zoro11031/homelab-coreos-minipc/nvme-models/internal/common"
)

// DefaultEstimateGB is used when nothing in the name hints at a size.
const DefaultEstimateGB = 10

// paramCount matches "7b", "6.7b" or "350m" not followed by another letter,
// so "4bit" does not count.
var paramCount = regexp.MustCompile(`(\d+(?:\.\d+)?)([bm])(?:[^a-z]|$)`)

// HeuristicGB guesses a model's size from its name at 2 GB per billion
// parameters (fp16), never less than 1 GB.
func HeuristicGB(id string) int64 {
	if gb, ok := paramGB(id); ok {
		return gb
	}
	return DefaultEstimateGB
}

func paramGB(s string) (int64, bool) {
	m := paramCount.FindStringSubmatch(strings.ToLower(s))
	if m == nil {
		return 0, false
	}
	n, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	if m[2] == "m" {
		n /= 1000
	}
	gb := int64(n * 2)
	if gb < 1 {
		gb = 1
	}
	return gb, true
}

// HeuristicBytes is HeuristicGB in bytes.
func HeuristicBytes(id string) int64 {
	return HeuristicGB(id) * common.GibiByte
}
