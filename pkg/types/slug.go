package types

import (
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var lower = cases.Lower(language.Und)

// Slugify derives a machine key from a trimmed display label: lower-case, whitespace
// runs become a single underscore, and every rune outside [a-z0-9_] is dropped.
// The result may be empty.
func Slugify(label string) string {
	var b strings.Builder
	inSpace := false
	for _, r := range lower.String(strings.TrimSpace(label)) {
		if unicode.IsSpace(r) {
			if !inSpace {
				b.WriteByte('_')
				inSpace = true
			}
			continue
		}
		inSpace = false
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// fallbackKey is used when a label has no sluggable characters.
func fallbackKey(now time.Time) string {
	return "field_" + strconv.FormatInt(now.UnixMilli(), 10)
}

// OptionValue derives an option's value from its label. Option values are not
// required to be unique.
func OptionValue(label string, now time.Time) string {
	if s := Slugify(label); s != "" {
		return s
	}
	return fallbackKey(now)
}

// DeriveName derives a field name from label that does not collide with any
// name for which taken returns true. Collisions get a numeric suffix _1, _2, ...
// Labels with no sluggable characters fall back to a timestamp key.
func DeriveName(label string, taken func(string) bool, now time.Time) string {
	base := Slugify(label)
	if base == "" {
		base = fallbackKey(now)
	}
	if !taken(base) {
		return base
	}
	for i := 1; ; i++ {
		candidate := base + "_" + strconv.Itoa(i)
		if !taken(candidate) {
			return candidate
		}
	}
}
