// Package slug derives the natural key used to deduplicate tags. Two names
// that differ only in case, width or spacing map to the same id.
package slug

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var folder = cases.Fold()

// TagID returns the unique id for a tag name.
// "Jazz Fusion" -> "jazz-fusion".
// "  JAZZ   fusion " -> "jazz-fusion".
// "Hip-Hop/Rap" -> "hip-hop-rap".
// Names made only of punctuation hash to "t-" followed by 16 hex chars so
// they still get a stable key. Blank names return "".
func TagID(name string) string {
	folded := Fold(name)
	if folded == "" {
		return ""
	}

	var b strings.Builder
	pendingDash := false
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.Is(unicode.Mn, r) {
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingDash = false
			b.WriteRune(r)
			continue
		}
		pendingDash = true
	}
	if b.Len() > 0 {
		return b.String()
	}

	sum := sha256.Sum256([]byte(folded))
	return "t-" + hex.EncodeToString(sum[:8])
}

// Fold normalizes name to NFKC, case-folds it and trims surrounding space.
func Fold(name string) string {
	return strings.TrimSpace(folder.String(norm.NFKC.String(name)))
}

// DisplayName trims name and collapses inner whitespace runs to one space.
func DisplayName(name string) string {
	return strings.Join(strings.Fields(name), " ")
}
