package roster

import (
	"github.com/dhcgn/mbox-contacts/model"
)

// Store is the ordered collection of contact records handed from extraction
// to deduplication. It is owned by one stage at a time and is not safe for
// concurrent use.
type Store struct {
	records []model.Contact
}

func NewStore(records ...model.Contact) *Store {
	s := &Store{}
	for _, c := range records {
		s.Add(c)
	}
	return s
}

// Add appends a copy of c. Records without email or phone are ignored and
// reported as not added.
func (s *Store) Add(c model.Contact) bool {
	if !c.Valid() {
		return false
	}
	s.records = append(s.records, c.Clone())
	return true
}

// Records returns a copy of the records in insertion order.
func (s *Store) Records() []model.Contact {
	out := make([]model.Contact, len(s.records))
	for i, c := range s.records {
		out[i] = c.Clone()
	}
	return out
}

// Replace swaps the whole content of the store, as done after merging.
func (s *Store) Replace(records []model.Contact) {
	next := make([]model.Contact, 0, len(records))
	for _, c := range records {
		next = append(next, c.Clone())
	}
	s.records = next
}

func (s *Store) Len() int {
	return len(s.records)
}
