// Package roster holds the contact record store and reads and writes the
// roster CSV file.
package roster

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/dhcgn/mbox-contacts/model"
	"github.com/dhcgn/mbox-contacts/normalize"
)

// UnknownName is written when a record has neither a name nor an email.
const UnknownName = "Unknown"

const (
	legacyMissing   = "N/A"
	legacySeparator = ","
)

// Header is the exact column set of a roster file.
var Header = []string{"name", "emails", "phones", "roles"}

var legacyHeader = []string{"name", "email", "phone", "role"}

// Row is one roster line ready to be written. Number is the 1-based data row.
type Row struct {
	Number  int
	Name    string
	Contact model.Contact
}

// Fields returns the CSV cells of the row.
func (r Row) Fields() []string {
	return []string{
		r.Name,
		strings.Join(r.Contact.Emails, normalize.ListDelimiter),
		strings.Join(r.Contact.Phones, normalize.ListDelimiter),
		strings.Join(r.Contact.Roles, normalize.ListDelimiter),
	}
}

// DisplayName is the name written for c: its own name, else the local part
// of its first email, else UnknownName.
func DisplayName(c model.Contact) string {
	if name := strings.TrimSpace(c.Name); name != "" {
		return name
	}
	if len(c.Emails) > 0 {
		if local, _, _ := strings.Cut(c.Emails[0], "@"); local != "" {
			return local
		}
	}
	return UnknownName
}

// Rows orders records for writing: by case-folded name, then exact name,
// then joined emails and phones.
func Rows(records []model.Contact) []Row {
	type keyed struct {
		row                   Row
		folded, emails, phones string
	}

	items := make([]keyed, len(records))
	for i, c := range records {
		name := DisplayName(c)
		items[i] = keyed{
			row:    Row{Name: name, Contact: c.Clone()},
			folded: normalize.Fold(name),
			emails: strings.Join(c.Emails, normalize.ListDelimiter),
			phones: strings.Join(c.Phones, normalize.ListDelimiter),
		}
	}

	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.folded != b.folded {
			return a.folded < b.folded
		}
		if a.row.Name != b.row.Name {
			return a.row.Name < b.row.Name
		}
		if a.emails != b.emails {
			return a.emails < b.emails
		}
		return a.phones < b.phones
	})

	rows := make([]Row, len(items))
	for i, it := range items {
		rows[i] = it.row
		rows[i].Number = i + 1
	}
	return rows
}

// Validate checks every row against the roster schema.
func Validate(rows []Row) error {
	for _, r := range rows {
		if strings.TrimSpace(r.Name) == "" {
			return &SchemaValidationError{Row: r.Number, Column: "name", Reason: "empty name"}
		}
		if strings.ContainsAny(r.Name, "\r\n") {
			return &SchemaValidationError{Row: r.Number, Column: "name", Reason: "line break in name"}
		}
		if len(r.Contact.Emails) == 0 && len(r.Contact.Phones) == 0 {
			return &SchemaValidationError{Row: r.Number, Column: "emails", Reason: "no email or phone"}
		}
		for i, values := range [][]string{r.Contact.Emails, r.Contact.Phones, r.Contact.Roles} {
			col := Header[i+1]
			for _, v := range values {
				if strings.TrimSpace(v) == "" {
					return &SchemaValidationError{Row: r.Number, Column: col, Reason: "empty value"}
				}
				if strings.Contains(v, normalize.ListDelimiter) {
					return &SchemaValidationError{Row: r.Number, Column: col, Reason: fmt.Sprintf("value %q contains the list delimiter", v)}
				}
				if strings.ContainsAny(v, "\r\n") {
					return &SchemaValidationError{Row: r.Number, Column: col, Reason: "line break in value"}
				}
			}
		}
	}
	return nil
}

// Encode validates rows and writes them with a header line.
func Encode(w io.Writer, rows []Row) error {
	if err := Validate(rows); err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, r := range rows {
		if err := cw.Write(r.Fields()); err != nil {
			return fmt.Errorf("write row %d: %w", r.Number, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush roster: %w", err)
	}
	return nil
}

// Decode reads a roster in the current or the legacy Name,Email,Phone,Role
// layout. Values are normalized again; a fallback name reads back as
// unknown.
func Decode(r io.Reader) ([]model.Contact, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, &ReadError{Err: errors.New("missing header")}
	}
	if err != nil {
		return nil, &ReadError{Err: err}
	}

	cols, legacy, err := columns(header)
	if err != nil {
		return nil, &ReadError{Err: err}
	}

	var out []model.Contact
	for row := 1; ; row++ {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &ReadError{Row: row, Err: err}
		}

		c, err := decodeRow(record, cols, legacy, row)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// ReadFile decodes the roster at path.
func ReadFile(path string) ([]model.Contact, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &ReadError{Path: path, Err: err}
	}
	defer f.Close()

	records, err := Decode(f)
	var rerr *ReadError
	if errors.As(err, &rerr) {
		rerr.Path = path
	}
	return records, err
}

// columns maps the header to cell indexes in Header order.
func columns(header []string) ([]int, bool, error) {
	names := make([]string, len(header))
	for i, h := range header {
		h = strings.TrimPrefix(h, "\ufeff")
		names[i] = strings.ToLower(strings.TrimSpace(h))
	}

	for _, layout := range []struct {
		want   []string
		legacy bool
	}{{Header, false}, {legacyHeader, true}} {
		if len(names) != len(layout.want) {
			continue
		}
		idx := make([]int, len(layout.want))
		matched := true
		for i, w := range layout.want {
			idx[i] = -1
			for j, n := range names {
				if n == w {
					idx[i] = j
					break
				}
			}
			if idx[i] < 0 {
				matched = false
				break
			}
		}
		if matched {
			return idx, layout.legacy, nil
		}
	}
	return nil, false, fmt.Errorf("unexpected header %v, want %v", header, Header)
}

func decodeRow(record []string, cols []int, legacy bool, row int) (model.Contact, error) {
	cell := func(i int) string { return strings.TrimSpace(record[cols[i]]) }
	list := func(i int) []string { return splitList(cell(i), legacy) }

	var c model.Contact
	for _, v := range list(1) {
		email, err := normalize.Email(v)
		if err != nil {
			return c, &ReadError{Row: row, Column: Header[1], Err: err}
		}
		c.Emails = model.AppendUnique(c.Emails, email)
	}
	for _, v := range list(2) {
		phone, err := normalize.Phone(v)
		if err != nil {
			return c, &ReadError{Row: row, Column: Header[2], Err: err}
		}
		c.Phones = model.AppendUnique(c.Phones, phone)
	}
	for _, v := range list(3) {
		c.Roles = model.AppendUnique(c.Roles, normalize.Role(v))
	}
	if !c.Valid() {
		return c, &ReadError{Row: row, Err: errors.New("row has no email or phone")}
	}

	name := cell(0)
	if legacy && strings.EqualFold(name, legacyMissing) {
		name = ""
	}
	name = normalize.DisplayName(name)
	if name == UnknownName || name == DisplayName(model.Contact{Emails: c.Emails}) {
		name = ""
	}
	c.Name = name
	return c, nil
}

func splitList(value string, legacy bool) []string {
	sep := normalize.ListDelimiter
	if legacy {
		if strings.EqualFold(value, legacyMissing) {
			return nil
		}
		sep = legacySeparator
	}

	var out []string
	for _, part := range strings.Split(value, sep) {
		part = strings.TrimSpace(part)
		if part == "" || (legacy && strings.EqualFold(part, legacyMissing)) {
			continue
		}
		out = append(out, part)
	}
	return out
}
