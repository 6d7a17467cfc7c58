package reconciliation

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// NormalizeKey lower-cases s, folds accents and drops everything that is not
// a letter or a digit: "Société Générale, S.A." becomes "societegeneralesa".
func NormalizeKey(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}

	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range strings.ToLower(folded) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NormalizeReference normalizes an invoice or BL reference for comparison
func NormalizeReference(ref string) string {
	return NormalizeKey(ref)
}

// ReferencesMatch compares two references after normalization. Empty
// references never match.
func ReferencesMatch(a, b string) bool {
	na, nb := NormalizeReference(a), NormalizeReference(b)
	return na != "" && na == nb
}

// SuppliersMatch reports whether two supplier names plausibly designate the
// same supplier: equal after normalization, or one containing the other.
// "ACME Corp" matches "Acme". The rule favours recall; short names can
// produce false positives.
func SuppliersMatch(a, b string) bool {
	na, nb := NormalizeKey(a), NormalizeKey(b)
	if na == "" || nb == "" {
		return false
	}
	return na == nb || strings.Contains(na, nb) || strings.Contains(nb, na)
}
