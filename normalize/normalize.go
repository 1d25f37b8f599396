// Package normalize canonicalizes raw contact fields. Malformed emails and
// phone numbers are rejected per field; the rest of a candidate is kept.
package normalize

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/dhcgn/mbox-contacts/model"
)

// ListDelimiter separates multi-valued fields in the roster. Normalized values
// never contain it.
const ListDelimiter = ";"

const (
	minPhoneDigits = 7
	maxPhoneDigits = 15
)

// RejectedError reports a field dropped during normalization.
type RejectedError struct {
	Kind   model.FieldKind
	Value  string
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("reject %s %q: %s", e.Kind, e.Value, e.Reason)
}

func reject(kind model.FieldKind, value, reason string) *RejectedError {
	return &RejectedError{Kind: kind, Value: value, Reason: reason}
}

// Email lower-cases an address and checks its minimal syntax.
func Email(raw string) (string, error) {
	v := strings.TrimSpace(raw)
	if len(v) >= 7 && strings.EqualFold(v[:7], "mailto:") {
		v = v[7:]
	}
	v = strings.Trim(v, "<> \t\"'")
	v = strings.ToLower(v)

	if strings.Count(v, "@") != 1 {
		return "", reject(model.FieldEmail, raw, "expected exactly one @")
	}
	local, domain, _ := strings.Cut(v, "@")
	if local == "" || domain == "" {
		return "", reject(model.FieldEmail, raw, "empty local part or domain")
	}
	if !strings.Contains(domain, ".") {
		return "", reject(model.FieldEmail, raw, "domain has no dot")
	}
	if strings.ContainsFunc(v, unicode.IsSpace) || strings.Contains(v, ListDelimiter) {
		return "", reject(model.FieldEmail, raw, "contains whitespace or delimiter")
	}
	return v, nil
}

// Phone keeps the digits of a number and a leading plus sign.
func Phone(raw string) (string, error) {
	v := strings.TrimSpace(raw)

	var b strings.Builder
	digits := 0
	for i, r := range v {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
			digits++
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}

	if digits < minPhoneDigits {
		return "", reject(model.FieldPhone, raw, "fewer than 7 digits")
	}
	if digits > maxPhoneDigits {
		return "", reject(model.FieldPhone, raw, "more than 15 digits")
	}
	return b.String(), nil
}

// DisplayName trims a name for display, keeping its casing. Values that look
// like addresses are not names and yield "".
func DisplayName(raw string) string {
	v := strings.Join(strings.Fields(raw), " ")
	v = strings.Trim(v, "\"'` ")
	if strings.Contains(v, "@") {
		return ""
	}
	return v
}

// Role trims and title-cases a role. Short all-caps words such as CPA or CEO
// are kept as written.
func Role(raw string) string {
	v := strings.ReplaceAll(raw, ListDelimiter, ",")
	words := strings.Fields(v)
	if len(words) == 0 {
		return ""
	}

	caser := cases.Title(language.Und)
	for i, w := range words {
		if isAcronym(w) {
			continue
		}
		words[i] = caser.String(w)
	}
	return strings.Trim(strings.Join(words, " "), ",- ")
}

func isAcronym(w string) bool {
	letters := 0
	for _, r := range w {
		if unicode.IsLetter(r) {
			if !unicode.IsUpper(r) {
				return false
			}
			letters++
		}
	}
	return letters >= 2 && letters <= 4
}

// Contact builds a record from one candidate. Rejected fields are returned
// alongside; a candidate left without email and phone yields an invalid
// record and a contact-level rejection.
func Contact(c model.Candidate) (model.Contact, []*RejectedError) {
	contact := model.Contact{}
	if c.Message != "" {
		contact.Provenance = []string{c.Message}
	}

	var rejected []*RejectedError
	for _, f := range c.Fields {
		switch f.Kind {
		case model.FieldName:
			if contact.Name == "" {
				contact.Name = DisplayName(f.Value)
			}
		case model.FieldEmail:
			email, err := Email(f.Value)
			if err != nil {
				rejected = append(rejected, err.(*RejectedError))
				continue
			}
			contact.Emails = model.AppendUnique(contact.Emails, email)
		case model.FieldPhone:
			phone, err := Phone(f.Value)
			if err != nil {
				rejected = append(rejected, err.(*RejectedError))
				continue
			}
			contact.Phones = model.AppendUnique(contact.Phones, phone)
		case model.FieldRole:
			contact.Roles = model.AppendUnique(contact.Roles, Role(f.Value))
		}
	}

	if !contact.Valid() {
		rejected = append(rejected, reject("contact", contact.Name, "no email or phone"))
	}
	return contact, rejected
}
