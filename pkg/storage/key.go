package storage

import (
	"path"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
	"unicode"

	// Packages
	videoframe "github.com/michealrm/video-submission-frame"
)

////////////////////////////////////////////////////////////////////////////////
// GLOBALS

const (
	maxFilenameLen = 128
	maxKeyLen      = 255
)

// lastKeyMillis is the most recently issued key timestamp.
var lastKeyMillis atomic.Int64

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// NewKey returns a storage key made from a millisecond timestamp and the
// sanitized filename. Timestamps strictly increase within the process, so
// two keys issued in the same millisecond still differ.
func NewKey(filename string, now time.Time) string {
	ms := now.UnixMilli()
	for {
		last := lastKeyMillis.Load()
		next := max(ms, last+1)
		if lastKeyMillis.CompareAndSwap(last, next) {
			return strconv.FormatInt(next, 10) + "-" + SanitizeFilename(filename)
		}
	}
}

// SanitizeFilename reduces a client-supplied filename to its base name with
// only letters, digits, dot, dash and underscore.
func SanitizeFilename(name string) string {
	name = path.Base(strings.ReplaceAll(name, `\`, "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
		case r == '.' || r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	result := strings.TrimLeft(b.String(), ".")
	if len(result) > maxFilenameLen {
		result = result[len(result)-maxFilenameLen:]
	}
	if result == "" || strings.Trim(result, "_") == "" {
		return "video"
	}
	return result
}

// ValidKey returns an error when a key received from a client cannot name
// an object created by NewKey.
func ValidKey(key string) error {
	switch {
	case key == "":
		return videoframe.ErrValidation.With("missing key")
	case len(key) > maxKeyLen:
		return videoframe.ErrValidation.Withf("key too long (%d bytes)", len(key))
	case key == "." || key == ".." || strings.HasPrefix(key, "."):
		return videoframe.ErrValidation.Withf("invalid key %q", key)
	case strings.ContainsAny(key, `/\`):
		return videoframe.ErrValidation.Withf("invalid key %q", key)
	}
	for _, r := range key {
		if unicode.IsControl(r) {
			return videoframe.ErrValidation.Withf("invalid key %q", key)
		}
	}
	return nil
}
