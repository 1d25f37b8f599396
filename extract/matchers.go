package extract

import (
	"regexp"
	"sort"
	"strings"

	"github.com/dhcgn/mbox-contacts/model"
)

const (
	maxRoleLineLength = 60
	maxRoleLineWords  = 8

	minPhoneDigits = 7
	maxPhoneDigits = 15
)

var (
	emailRe      = regexp.MustCompile(`[A-Za-z0-9._%+\-']+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	phoneRe      = regexp.MustCompile(`\+?\(?\d[\d\s().\-]{5,}\d`)
	dateLikeRe   = regexp.MustCompile(`^(\d{4}[-/.]\d{1,2}[-/.]\d{1,2}|\d{1,2}[-/.]\d{1,2}[-/.]\d{2,4})$`)
	faxLabelRe   = regexp.MustCompile(`(?i)^\s*(fax|f)\s*[:.]`)
	urlRe        = regexp.MustCompile(`(?i)(https?://|www\.)`)
	firmRe       = regexp.MustCompile(`(?i)(\b(llp|llc|pllc|inc|ltd|gmbh|law firm|law group|law offices?)\b|\bp\.\s?[ac]\.|&)`)
	phoneDigitRe = regexp.MustCompile(`\d`)
)

// LineMatcher reads one kind of contact field from a single signature line.
// Attempt returns the raw values found, or nothing when the line does not
// match.
type LineMatcher struct {
	Kind    model.FieldKind
	Attempt func(line string) []string
}

// EmailMatcher finds email addresses.
func EmailMatcher() LineMatcher {
	return LineMatcher{Kind: model.FieldEmail, Attempt: func(line string) []string {
		return emailRe.FindAllString(line, -1)
	}}
}

// PhoneMatcher finds digit groups with optional separators holding 7 to 15
// digits. Dates and fax lines are ignored; numbers listed side by side are
// split apart.
func PhoneMatcher() LineMatcher {
	return LineMatcher{Kind: model.FieldPhone, Attempt: func(line string) []string {
		if faxLabelRe.MatchString(line) {
			return nil
		}
		line = emailRe.ReplaceAllString(line, " ")
		var out []string
		for _, m := range phoneRe.FindAllString(line, -1) {
			for _, p := range splitNumbers(strings.TrimSpace(m)) {
				if dateLikeRe.MatchString(p) {
					continue
				}
				out = append(out, p)
			}
		}
		return out
	}}
}

// splitNumbers returns m when it holds a plausible number of digits. Longer
// runs are cut at the whitespace that divides the digits most evenly, as
// long as both sides are plausible numbers themselves.
func splitNumbers(m string) []string {
	n := digitCount(m)
	if n < minPhoneDigits {
		return nil
	}
	if n <= maxPhoneDigits {
		return []string{m}
	}

	var left, right string
	bestDiff := -1
	for i := 1; i < len(m); i++ {
		if m[i] != ' ' && m[i] != '\t' || m[i-1] == ' ' || m[i-1] == '\t' {
			continue
		}
		l, r := strings.TrimSpace(m[:i]), strings.TrimSpace(m[i:])
		ld, rd := digitCount(l), digitCount(r)
		if ld < minPhoneDigits || rd < minPhoneDigits {
			continue
		}
		diff := ld - rd
		if diff < 0 {
			diff = -diff
		}
		if bestDiff < 0 || diff < bestDiff {
			left, right, bestDiff = l, r, diff
		}
	}
	if bestDiff < 0 {
		return nil
	}
	return append(splitNumbers(left), splitNumbers(right)...)
}

func digitCount(s string) int {
	return len(phoneDigitRe.FindAllString(s, -1))
}

// RoleMatcher accepts short lines containing one of the role keywords as a
// whole word. The whole line is the role.
func RoleMatcher(keywords []string) LineMatcher {
	kws := append([]string(nil), keywords...)
	sort.Slice(kws, func(i, j int) bool { return len(kws[i]) > len(kws[j]) })

	quoted := make([]string, 0, len(kws))
	for _, kw := range kws {
		if kw = strings.TrimSpace(kw); kw != "" {
			quoted = append(quoted, regexp.QuoteMeta(kw))
		}
	}
	if len(quoted) == 0 {
		return LineMatcher{Kind: model.FieldRole, Attempt: func(string) []string { return nil }}
	}
	re := regexp.MustCompile(`(?i)\b(` + strings.Join(quoted, "|") + `)\b`)

	return LineMatcher{Kind: model.FieldRole, Attempt: func(line string) []string {
		line = strings.TrimSpace(line)
		if len(line) > maxRoleLineLength || len(strings.Fields(line)) > maxRoleLineWords {
			return nil
		}
		if strings.Contains(line, "@") || urlRe.MatchString(line) {
			return nil
		}
		if !re.MatchString(line) {
			return nil
		}
		return []string{line}
	}}
}

// DefaultMatchers returns the matchers in priority order: contact patterns
// first, roles only for lines without an email or phone.
func DefaultMatchers(roleKeywords []string) []LineMatcher {
	return []LineMatcher{
		EmailMatcher(),
		PhoneMatcher(),
		RoleMatcher(roleKeywords),
	}
}
