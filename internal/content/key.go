// internal/content/key.go
//
// Page and section key helpers.
//
// Rules (NormalizeKey)
// --------------------
// 1. Lower-case everything.
// 2. Convert any run of non-[a-z0-9] characters to one “-”.  That strips
//    spaces, punctuation, emoji, and non-ASCII.
// 3. Trim leading / trailing “-”.
// 4. Cut to MaxKeyLen bytes, then trim a trailing “-” left by the cut.
//
// A key is valid when it is non-empty and already normalised, so the HTTP
// layer can reject "Home Page" instead of silently reading "home-page".

package content

import "strings"

// MaxKeyLen matches the page and section column widths.
const MaxKeyLen = 64

// NormalizeKey converts s to lower-kebab ASCII.  It may return "".
func NormalizeKey(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	lastWasDash := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastWasDash = false
		default:
			if !lastWasDash {
				b.WriteRune('-')
				lastWasDash = true
			}
		}
	}

	key := strings.Trim(b.String(), "-")
	if len(key) > MaxKeyLen {
		key = strings.TrimRight(key[:MaxKeyLen], "-")
	}
	return key
}

// ValidKey reports whether s is a non-empty normalised key.
func ValidKey(s string) bool {
	return s != "" && NormalizeKey(s) == s
}
