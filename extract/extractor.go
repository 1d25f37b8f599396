// Package extract turns decoded messages into candidate contacts: one per
// sender or recipient address, plus one for the topmost signature block.
package extract

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/dhcgn/mbox-contacts/config"
	"github.com/dhcgn/mbox-contacts/filter"
	"github.com/dhcgn/mbox-contacts/model"
	"github.com/dhcgn/mbox-contacts/normalize"
)

const maxNameWords = 5

var nameParticles = map[string]struct{}{
	"de": {}, "del": {}, "della": {}, "der": {}, "den": {}, "van": {}, "von": {},
	"da": {}, "di": {}, "du": {}, "la": {}, "le": {}, "bin": {}, "al": {}, "y": {},
}

// Result holds everything extracted from one message.
type Result struct {
	Fields     []model.Field
	Candidates []model.Candidate
}

// Extractor applies the header and signature heuristics.
type Extractor struct {
	matchers     []LineMatcher
	quoteMarkers []*regexp.Regexp
	closings     map[string]struct{}
	skip         *filter.SkipList
	sig          config.Signature
}

func New(rules config.Rules) (*Extractor, error) {
	markers := make([]*regexp.Regexp, 0, len(rules.QuoteMarkers))
	for _, pattern := range rules.QuoteMarkers {
		re, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			return nil, fmt.Errorf("compile quote marker %q: %w", pattern, err)
		}
		markers = append(markers, re)
	}

	closings := make(map[string]struct{}, len(rules.Closings))
	for _, c := range rules.Closings {
		closings[strings.ToLower(strings.TrimSpace(c))] = struct{}{}
	}

	return &Extractor{
		matchers:     DefaultMatchers(rules.RoleKeywords),
		quoteMarkers: markers,
		closings:     closings,
		skip:         filter.NewSkipList(rules.SkipAddresses),
		sig:          rules.Signature,
	}, nil
}

// Extract returns the header candidates of msg followed by its signature
// candidate, if any. An empty result is not an error.
func (e *Extractor) Extract(msg model.Message) Result {
	var res Result
	ref := msg.Ref()

	res.Candidates = append(res.Candidates, e.headerCandidates(msg, ref)...)
	if sig, ok := e.signatureCandidate(msg, ref); ok {
		res.Candidates = append(res.Candidates, sig)
	}

	for _, c := range res.Candidates {
		res.Fields = append(res.Fields, c.Fields...)
	}
	return res
}

func (e *Extractor) headerCandidates(msg model.Message, ref string) []model.Candidate {
	seen := make(map[string]struct{})
	var out []model.Candidate

	for _, list := range [][]model.Address{msg.From, msg.ReplyTo, msg.To, msg.Cc} {
		for _, addr := range list {
			key := strings.ToLower(strings.TrimSpace(addr.Email))
			if key == "" || e.skip.Skip(key) {
				continue
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}

			c := model.Candidate{Source: model.SourceHeader, Message: ref}
			c.Add(model.FieldEmail, addr.Email)
			if name := normalize.DisplayName(addr.Name); name != "" {
				c.Add(model.FieldName, name)
			}
			out = append(out, c)
		}
	}
	return out
}

type classified struct {
	text   string
	emails []string
	phones []string
	roles  []string
}

func (l classified) contact() bool { return len(l.emails) > 0 || len(l.phones) > 0 }

func (e *Extractor) classify(line string) classified {
	out := classified{text: line}
	for _, m := range e.matchers {
		switch m.Kind {
		case model.FieldEmail:
			out.emails = append(out.emails, m.Attempt(line)...)
		case model.FieldPhone:
			out.phones = append(out.phones, m.Attempt(line)...)
		case model.FieldRole:
			if !out.contact() {
				out.roles = append(out.roles, m.Attempt(line)...)
			}
		}
	}
	return out
}

func (e *Extractor) signatureCandidate(msg model.Message, ref string) (model.Candidate, bool) {
	region, from := e.signatureRegion(e.stripQuoted(msg.Body))
	if from >= len(region) {
		return model.Candidate{}, false
	}

	lines := make([]classified, len(region))
	first := -1
	for i, text := range region {
		lines[i] = e.classify(text)
		if first < 0 && i >= from && lines[i].contact() {
			first = i
		}
	}
	if first < 0 {
		return model.Candidate{}, false
	}

	// Walk up from the first contact line, possibly above the window, over
	// titles and firm names until the name.
	var name, inlineRole string
	nameIdx := -1
	start := first
	for i := first - 1; i >= 0; i-- {
		line := lines[i]
		if !line.contact() && looksLikeFirm(line.text) {
			start = i
			continue
		}
		if len(line.roles) > 0 {
			if n, r, ok := e.splitNameRole(line.text); ok {
				name, inlineRole, nameIdx = n, r, i
				start = i
				break
			}
			start = i
			continue
		}
		// A title outside the role vocabulary, directly below the name.
		if i > 0 && !line.contact() && e.looksLikeRole(line.text) &&
			len(lines[i-1].roles) == 0 && e.looksLikeName(lines[i-1].text) {
			start = i
			continue
		}
		if e.looksLikeName(line.text) {
			name, nameIdx = line.text, i
			start = i
		}
		break
	}

	c := model.Candidate{Source: model.SourceSignature, Message: ref}
	if name != "" {
		c.Add(model.FieldName, name)
	}
	if inlineRole != "" {
		c.Add(model.FieldRole, inlineRole)
	}
	if nameIdx >= 0 && inlineRole == "" && nameIdx+1 < first {
		next := lines[nameIdx+1]
		if len(next.roles) == 0 && !next.contact() && e.looksLikeRole(next.text) {
			c.Add(model.FieldRole, next.text)
		}
	}

	// Titles between the closing and the block the walk stopped at.
	for i := e.roleFloor(lines, from, start); i < start; i++ {
		if isTitleLine(lines[i].text) {
			for _, v := range lines[i].roles {
				c.Add(model.FieldRole, v)
			}
		}
	}

	hasEmail := false
	for i := start; i < len(lines); i++ {
		if i == nameIdx && inlineRole != "" {
			continue
		}
		for _, v := range lines[i].emails {
			c.Add(model.FieldEmail, v)
			hasEmail = true
		}
		for _, v := range lines[i].phones {
			c.Add(model.FieldPhone, v)
		}
		for _, v := range lines[i].roles {
			c.Add(model.FieldRole, v)
		}
	}

	if !hasEmail {
		if sender, ok := e.sender(msg); ok {
			if name == "" || sender.Name == "" || normalize.NameKey(name) == normalize.NameKey(sender.Name) {
				c.Add(model.FieldEmail, sender.Email)
			}
		}
	}

	return c, true
}

func (e *Extractor) sender(msg model.Message) (model.Address, bool) {
	for _, addr := range msg.From {
		if addr.Email != "" && !e.skip.Skip(addr.Email) {
			return addr, true
		}
	}
	return model.Address{}, false
}

// stripQuoted returns the body lines above the first quote marker.
func (e *Extractor) stripQuoted(body string) []string {
	lines := strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		for _, re := range e.quoteMarkers {
			if re.MatchString(trimmed) {
				return lines[:i]
			}
		}
	}
	return lines
}

// signatureRegion returns the non-blank lines that may hold a signature and
// the index of the window in which its contact lines are looked for: the
// lines after a "-- " delimiter when there is one, otherwise a trailing
// window bounded by the configured fraction and line limits. Lines above the
// window are kept for the name lookup.
func (e *Extractor) signatureRegion(lines []string) ([]string, int) {
	delim := -1
	for i, line := range lines {
		if strings.TrimSpace(line) == "--" {
			delim = i
		}
	}

	var nonBlank []string
	from := 0
	if delim >= 0 {
		from = delim + 1
	}
	for _, line := range lines[from:] {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			nonBlank = append(nonBlank, trimmed)
		}
	}

	if delim >= 0 {
		if len(nonBlank) > e.sig.MaxLines {
			nonBlank = nonBlank[:e.sig.MaxLines]
		}
		return nonBlank, 0
	}

	n := int(math.Ceil(e.sig.Fraction * float64(len(nonBlank))))
	n = max(n, e.sig.MinLines)
	n = min(n, e.sig.MaxLines, len(nonBlank))
	return nonBlank, len(nonBlank) - n
}

// roleFloor is the first window line below the last closing line before
// start.
func (e *Extractor) roleFloor(lines []classified, from, start int) int {
	floor := from
	for i := from; i < start; i++ {
		if e.isClosing(lines[i].text) {
			floor = i + 1
		}
	}
	return floor
}

// isTitleLine rejects sentences that merely mention a role.
func isTitleLine(line string) bool {
	r, _ := utf8.DecodeRuneInString(line)
	if !unicode.IsUpper(r) {
		return false
	}
	if strings.HasSuffix(line, "?") || strings.HasSuffix(line, "!") {
		return false
	}
	return !strings.HasSuffix(line, ".") || len(strings.Fields(line)) <= 4
}

// looksLikeFirm matches organization lines such as "Doe & Partners LLP".
func looksLikeFirm(line string) bool {
	return firmRe.MatchString(line)
}

func (e *Extractor) isClosing(line string) bool {
	l := strings.ToLower(strings.TrimRight(strings.TrimSpace(line), ",.!:;-"))
	if strings.HasPrefix(l, "sent from ") || strings.HasPrefix(l, "get outlook") {
		return true
	}
	_, ok := e.closings[l]
	return ok
}

// looksLikeName accepts short capitalized lines without digits, addresses
// or closing phrases.
func (e *Extractor) looksLikeName(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" || len([]rune(line)) > e.sig.NameMaxLength {
		return false
	}
	if strings.ContainsAny(line, "@:") || strings.ContainsFunc(line, unicode.IsDigit) || urlRe.MatchString(line) {
		return false
	}
	if strings.HasSuffix(line, ",") || e.isClosing(line) || looksLikeFirm(line) {
		return false
	}

	words := strings.Fields(line)
	if len(words) > maxNameWords {
		return false
	}
	hasLetter := false
	for _, w := range words {
		first := []rune(w)[0]
		if !unicode.IsLetter(first) {
			if strings.ContainsFunc(w, unicode.IsLetter) {
				continue
			}
			if w == "-" || w == "|" || w == "&" {
				continue
			}
			return false
		}
		hasLetter = true
		if unicode.IsLower(first) {
			if _, ok := nameParticles[strings.ToLower(w)]; !ok {
				return false
			}
		}
	}
	return hasLetter
}

// looksLikeRole is the catch-all for a title line right after a name.
func (e *Extractor) looksLikeRole(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" || len(line) > maxRoleLineLength || len(strings.Fields(line)) > maxRoleLineWords {
		return false
	}
	if strings.Contains(line, "@") || urlRe.MatchString(line) || e.isClosing(line) {
		return false
	}
	return !strings.ContainsFunc(line, unicode.IsDigit)
}

// splitNameRole handles "Jane Doe, Attorney" and "Jane Doe | Partner".
func (e *Extractor) splitNameRole(line string) (string, string, bool) {
	for _, sep := range []string{"|", " - ", " – ", ","} {
		before, after, ok := strings.Cut(line, sep)
		if !ok {
			continue
		}
		before, after = strings.TrimSpace(before), strings.TrimSpace(after)
		if before == "" || after == "" {
			continue
		}
		if !e.looksLikeName(before) || len(e.classify(before).roles) > 0 {
			continue
		}
		if normalize.NameKey(before+", "+after) == normalize.NameKey(before) {
			// "John Smith, Esq." is a name with a suffix, not a role.
			return "", "", false
		}
		return before, after, true
	}
	return "", "", false
}
