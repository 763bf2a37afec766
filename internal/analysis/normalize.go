package analysis

import (
	"math"
	"strings"

	"github.com/spf13/cast"
)

// clampScore coerces a model-supplied number (or numeric string such as "85" or "85%") into
// [lo, hi], rounding to the nearest integer. Unparseable values become lo.
func clampScore(v any, lo, hi int) int {
	if s, ok := v.(string); ok {
		v = strings.TrimSuffix(strings.TrimSpace(s), "%")
	}
	f, err := cast.ToFloat64E(v)
	if err != nil || math.IsNaN(f) {
		return lo
	}
	f = math.Round(f)
	if f < float64(lo) {
		return lo
	}
	if f > float64(hi) {
		return hi
	}
	return int(f)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

var difficultyLevels = map[string]int{
	"very easy": 1,
	"easy":      2,
	"medium":    3,
	"moderate":  3,
	"hard":      4,
	"very hard": 5,
	"expert":    5,
}

// normalizeDifficulty maps a numeric or named difficulty onto 1-5. Unknown names become 3.
func normalizeDifficulty(v any) int {
	if s, ok := v.(string); ok {
		if level, found := difficultyLevels[strings.ToLower(strings.TrimSpace(s))]; found {
			return level
		}
		if _, err := cast.ToFloat64E(strings.TrimSpace(s)); err != nil {
			return 3
		}
	}
	if v == nil {
		return 3
	}
	return clampScore(v, 1, 5)
}

// stringList coerces a model-supplied list, dropping blank entries. It never returns nil so results
// always encode as JSON arrays.
func stringList(v any) []string {
	out := []string{}
	for _, s := range cast.ToStringSlice(v) {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func text(v any) string {
	return strings.TrimSpace(cast.ToString(v))
}
