package systole

import (
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"
)

// FillEnvVar returns the value of a runtime Environment Variable
func FillEnvVar(ev string) string {
	// If the EnvVar doesn't exist return a default string
	value := os.Getenv(ev)
	if value == "" {
		value = "ENOENT"
	}
	return value
}

// FillEnvVarInt returns an integer Environment Variable or def
// when it is unset or does not parse
func FillEnvVarInt(ev string, def int) int {
	value := os.Getenv(ev)
	if value == "" {
		return def
	}
	i, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		slog.Warn("Env var is not an integer, using default",
			slog.String("var", ev),
			slog.String("value", value),
			slog.Int("default", def))
		return def
	}
	return i
}

// FillEnvVarFloat is FillEnvVarInt for floats
func FillEnvVarFloat(ev string, def float64) float64 {
	value := os.Getenv(ev)
	if value == "" {
		return def
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		slog.Warn("Env var is not a number, using default",
			slog.String("var", ev),
			slog.String("value", value),
			slog.Float64("default", def))
		return def
	}
	return f
}

// FloatPrecise rounds f to the given number of decimals for display
func FloatPrecise(f float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(f*p) / p
}
