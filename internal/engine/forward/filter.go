package forward

import (
	"path/filepath"
	"strings"

	"fwdbot/internal/transport"
)

// SizeMode selects how the size bound applies. SizeNone disables it.
type SizeMode string

const (
	SizeNone     SizeMode = "none"
	SizeMoreThan SizeMode = "more"
	SizeLessThan SizeMode = "less"
)

// Filter is the per-task allow-list set. Zero value allows everything.
type Filter struct {
	// AllowKinds: media kinds let through; empty allows all kinds.
	AllowKinds map[transport.MediaKind]bool
	// Extensions: file extensions let through (without dot); empty
	// allows all. Items without a file name pass this check.
	Extensions []string
	// Keywords: at least one must occur in the caption or file name;
	// empty disables the check.
	Keywords []string

	SizeMode  SizeMode
	SizeLimit int64
}

// Allows reports whether item survives every active filter.
func (f Filter) Allows(item transport.Item) bool {
	if len(f.AllowKinds) > 0 && !f.AllowKinds[item.Kind] {
		return false
	}
	if len(f.Extensions) > 0 && item.FileName != "" {
		ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(item.FileName)), ".")
		ok := false
		for _, want := range f.Extensions {
			if ext == strings.ToLower(strings.TrimPrefix(want, ".")) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if len(f.Keywords) > 0 {
		hay := strings.ToLower(item.Caption + " " + item.FileName)
		ok := false
		for _, kw := range f.Keywords {
			if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" && strings.Contains(hay, kw) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	switch f.SizeMode {
	case SizeMoreThan:
		if item.FileSize <= f.SizeLimit {
			return false
		}
	case SizeLessThan:
		if item.FileSize >= f.SizeLimit {
			return false
		}
	}
	return true
}
