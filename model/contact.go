package model

// FieldKind names the kind of fact carried by a Field.
type FieldKind string

const (
	FieldName  FieldKind = "name"
	FieldEmail FieldKind = "email"
	FieldPhone FieldKind = "phone"
	FieldRole  FieldKind = "role"
)

// Source tells where in a message a field was found.
type Source string

const (
	SourceHeader    Source = "header"
	SourceSignature Source = "signature"
)

// Field is one raw candidate fact pulled out of a message.
type Field struct {
	Kind    FieldKind
	Value   string
	Source  Source
	Message string
}

// Candidate groups the fields believed to describe one person in one message.
type Candidate struct {
	Source  Source
	Message string
	Fields  []Field
}

// Values returns the raw values of the given kind in observation order.
func (c Candidate) Values(kind FieldKind) []string {
	var out []string
	for _, f := range c.Fields {
		if f.Kind == kind {
			out = append(out, f.Value)
		}
	}
	return out
}

// Add appends a field tagged with the candidate's source and message.
func (c *Candidate) Add(kind FieldKind, value string) {
	c.Fields = append(c.Fields, Field{Kind: kind, Value: value, Source: c.Source, Message: c.Message})
}

// Contact is the canonical record kept in the roster. An empty Name means the
// name is unknown. The set-valued fields keep first-observed order.
type Contact struct {
	Name       string
	Emails     []string
	Phones     []string
	Roles      []string
	Provenance []string
}

// Valid reports whether the contact carries at least one identifying field.
func (c Contact) Valid() bool {
	return len(c.Emails) > 0 || len(c.Phones) > 0
}

// Clone returns a deep copy of the contact.
func (c Contact) Clone() Contact {
	return Contact{
		Name:       c.Name,
		Emails:     append([]string(nil), c.Emails...),
		Phones:     append([]string(nil), c.Phones...),
		Roles:      append([]string(nil), c.Roles...),
		Provenance: append([]string(nil), c.Provenance...),
	}
}

// AppendUnique appends values not already present in dst, keeping order.
func AppendUnique(dst []string, values ...string) []string {
	for _, v := range values {
		if v == "" {
			continue
		}
		found := false
		for _, existing := range dst {
			if existing == v {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, v)
		}
	}
	return dst
}
