package config

import (
	"fmt"
	"strings"
	"time"
)

// Duration fields are plain strings in the YAML ("30s", "2m") so the
// file stays hand-editable. parseDuration checks one of them, naming
// the field path in the error; an empty string means unset and parses
// as zero.
func parseDuration(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	case d < 0:
		return 0, fmt.Errorf("%s: duration must not be negative", path)
	}
	return d, nil
}

// durationOr resolves a field to its effective value, falling back to
// def when unset or zero. Malformed values also fall back: Validate
// already rejected them, so the accessors never re-report.
func durationOr(path, raw string, def time.Duration) time.Duration {
	d, err := parseDuration(path, raw)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
