package attr

import (
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// asciiFold strips diacritics so accented column names survive the
// ASCII-only rename ("Crée le" -> "Cree le").
var asciiFold = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeName maps an arbitrary column name to lowercase snake_case:
// ASCII-folded, non-alphanumeric runs collapsed to single underscores,
// leading digit shielded. The mapping is idempotent.
func NormalizeName(name string) string {
	folded, _, err := transform.String(asciiFold, name)
	if err != nil {
		folded = name
	}

	var b strings.Builder
	b.Grow(len(folded))
	pendingSep := false
	for _, r := range strings.ToLower(folded) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
		default:
			pendingSep = true
		}
	}

	out := b.String()
	if out == "" {
		return "field"
	}
	if out[0] >= '0' && out[0] <= '9' {
		out = "f" + out
	}
	return out
}

// Truncate shortens a name to the target format's limit; zero means no limit
func Truncate(name string, limit int) string {
	if limit <= 0 || len(name) <= limit {
		return name
	}
	return strings.TrimRight(name[:limit], "_")
}

// ResolveCollisions makes the name list unique while preserving order. Every
// member of a colliding group gets a 1-based numeric suffix in original
// column order, with the base shortened so the suffixed name still fits the
// limit. Already-unique names pass through untouched.
func ResolveCollisions(names []string, limit int) []string {
	out := make([]string, len(names))
	copy(out, names)

	for pass := 0; pass < len(names); pass++ {
		groups := make(map[string][]int, len(out))
		for i, n := range out {
			groups[n] = append(groups[n], i)
		}

		collided := false
		for _, idxs := range groups {
			if len(idxs) < 2 {
				continue
			}
			collided = true
			for rank, i := range idxs {
				suffix := strconv.Itoa(rank + 1)
				base := out[i]
				if limit > 0 && len(base)+len(suffix) > limit {
					base = strings.TrimRight(base[:limit-len(suffix)], "_")
				}
				out[i] = base + suffix
			}
		}
		if !collided {
			return out
		}
	}
	return out
}
