// Package env reads typed settings from the process environment. A variable
// that is unset, empty or unparsable leaves the fallback in place, so
// callers can layer the environment over file or flag defaults.
package env

import (
	"os"
	"strconv"
	"time"
)

// Str returns the value of key, or fallback if unset or empty.
func Str(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

// Int parses key as a base-10 integer.
func Int(key string, fallback int) int {
	return parse(key, fallback, strconv.Atoi)
}

// Duration parses key with time.ParseDuration ("90s", "15m").
func Duration(key string, fallback time.Duration) time.Duration {
	return parse(key, fallback, time.ParseDuration)
}

// Bool parses key with strconv.ParseBool.
func Bool(key string, fallback bool) bool {
	return parse(key, fallback, strconv.ParseBool)
}

func parse[T any](key string, fallback T, conv func(string) (T, error)) T {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	v, err := conv(val)
	if err != nil {
		return fallback
	}
	return v
}
