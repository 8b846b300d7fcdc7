package utils

import (
	"path/filepath"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	placeholderBase       = "doc"
	signedPlaceholderBase = "doc-signed"
	signedSuffix          = "_signed"
)

// Slugify lowercases s, folds accented letters to ASCII and collapses every run
// of other characters into a single '-'. The result never starts or ends with '-'.
func Slugify(s string) string {
	fold := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(fold, s)
	if err != nil {
		folded = s
	}

	var b strings.Builder
	b.Grow(len(folded))
	separator := false
	for _, r := range strings.ToLower(folded) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if separator && b.Len() > 0 {
				b.WriteByte('-')
			}
			separator = false
			b.WriteRune(r)
			continue
		}
		separator = true
	}
	return b.String()
}

// NormalizeFilename derives the storage filename of a document from its name,
// keeping only the extension of the uploaded file. In signed mode the base gets
// a "_signed" suffix, or becomes "doc-signed" when the name has no slug. The same inputs always give the same name.
func NormalizeFilename(filename, documentName string, signed bool) string {
	ext := filepath.Ext(filepath.Base(filename))
	base := Slugify(documentName)
	switch {
	case base == "" && signed:
		base = signedPlaceholderBase
	case base == "":
		base = placeholderBase
	case signed:
		base += signedSuffix
	}
	return base + ext
}
