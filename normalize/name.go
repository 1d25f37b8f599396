package normalize

import (
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// honorifics are dropped from names before matching.
var honorifics = map[string]struct{}{
	"dr": {}, "mr": {}, "mrs": {}, "ms": {}, "miss": {}, "mx": {}, "prof": {},
	"hon": {}, "esq": {}, "esquire": {}, "jr": {}, "sr": {}, "ii": {}, "iii": {},
	"iv": {}, "phd": {}, "md": {}, "jd": {}, "llm": {}, "cpa": {},
}

var foldPool = sync.Pool{
	New: func() any {
		return transform.Chain(
			norm.NFKD,
			runes.Remove(runes.In(unicode.Mn)),
			cases.Fold(),
			norm.NFC,
		)
	},
}

// Fold strips diacritics and case-folds s.
func Fold(s string) string {
	if s == "" {
		return ""
	}
	tr := foldPool.Get().(transform.Transformer)
	out, _, err := transform.String(tr, s)
	tr.Reset()
	foldPool.Put(tr)
	if err != nil {
		return strings.ToLower(s)
	}
	return out
}

// NameKey returns the secondary identity key of a display name: folded,
// honorifics and suffixes removed, punctuation dropped and whitespace
// collapsed. "Doe, Jane" and "Jane Doe" share a key.
func NameKey(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}

	if strings.Contains(name, ",") {
		// Suffix segments such as ", Jr." go first, then "Doe, Jane" is
		// put back in reading order.
		parts := strings.Split(name, ",")
		kept := parts[:1]
		for _, p := range parts[1:] {
			if !allHonorifics(p) {
				kept = append(kept, p)
			}
		}
		if len(kept) == 2 && !allHonorifics(kept[0]) && len(tokens(kept[0])) == 1 {
			name = kept[1] + " " + kept[0]
		} else {
			name = strings.Join(kept, " ")
		}
	}

	var kept []string
	for _, tok := range tokens(name) {
		if _, skip := honorifics[tok]; skip {
			continue
		}
		kept = append(kept, tok)
	}
	return strings.Join(kept, " ")
}

func tokens(s string) []string {
	folded := Fold(s)
	var b strings.Builder
	for _, r := range folded {
		switch {
		case r == '.' || r == '\'' || r == '’':
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Fields(b.String())
}

func allHonorifics(s string) bool {
	toks := tokens(s)
	if len(toks) == 0 {
		return false
	}
	for _, tok := range toks {
		if _, ok := honorifics[tok]; !ok {
			return false
		}
	}
	return true
}
