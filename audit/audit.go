// Package audit writes and reads the provenance file kept next to a roster.
// The roster schema has no room for provenance, so every committed row gets
// one JSON line recording the messages it was built from.
package audit

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/dhcgn/mbox-contacts/model"
	"github.com/dhcgn/mbox-contacts/roster"
)

// Entry is one JSON line of the audit file.
type Entry struct {
	RunID       string    `json:"run_id"`
	GeneratedAt time.Time `json:"generated_at"`
	Row         int       `json:"row"`
	Name        string    `json:"name"`
	Emails      []string  `json:"emails,omitempty"`
	Phones      []string  `json:"phones,omitempty"`
	Provenance  []string  `json:"provenance"`
}

// Writer stamps every entry of one run with the same run ID and time.
type Writer struct {
	runID string
	now   time.Time
}

func NewWriter() *Writer {
	return &Writer{runID: uuid.NewString(), now: time.Now().UTC()}
}

func (w *Writer) RunID() string {
	return w.runID
}

// Entries builds one entry per roster row.
func (w *Writer) Entries(rows []roster.Row) []Entry {
	out := make([]Entry, 0, len(rows))
	for _, r := range rows {
		prov := r.Contact.Provenance
		if prov == nil {
			prov = []string{}
		}
		out = append(out, Entry{
			RunID:       w.runID,
			GeneratedAt: w.now,
			Row:         r.Number,
			Name:        r.Name,
			Emails:      r.Contact.Emails,
			Phones:      r.Contact.Phones,
			Provenance:  prov,
		})
	}
	return out
}

// Encode writes entries as JSON lines.
func Encode(dst io.Writer, entries []Entry) error {
	bw := bufio.NewWriterSize(dst, 64*1024)
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return fmt.Errorf("write audit entry %d: %w", e.Row, err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("flush audit: %w", err)
	}
	return nil
}

// Sidecar returns the audit file for rows, to be committed with the roster.
func (w *Writer) Sidecar(path string, rows []roster.Row) roster.Sidecar {
	entries := w.Entries(rows)
	return roster.Sidecar{
		Path:  path,
		Write: func(dst io.Writer) error { return Encode(dst, entries) },
	}
}

// Load reads an audit file. A missing file yields no entries.
func Load(path string) ([]Entry, error) {
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open audit file: %w", err)
	}
	defer file.Close()

	var entries []Entry
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for line := 1; scanner.Scan(); line++ {
		text := scanner.Bytes()
		if len(text) == 0 {
			continue
		}

		var e Entry
		if err := json.Unmarshal(text, &e); err != nil {
			return nil, fmt.Errorf("parse audit line %d: %w", line, err)
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read audit file: %w", err)
	}
	return entries, nil
}

// Reattach restores provenance on records read back from a roster, in file
// order. An entry for the same row is used when it shares an email or phone
// with the record; otherwise the first entry sharing an email. Records
// without a match keep their provenance. It returns how many records were
// matched.
func Reattach(records []model.Contact, entries []Entry) int {
	byRow := make(map[int]Entry, len(entries))
	byEmail := make(map[string]Entry)
	for _, e := range entries {
		byRow[e.Row] = e
		for _, email := range e.Emails {
			if _, ok := byEmail[email]; !ok {
				byEmail[email] = e
			}
		}
	}

	matched := 0
	for i := range records {
		c := &records[i]
		if e, ok := byRow[i+1]; ok && overlaps(c, e) {
			c.Provenance = model.AppendUnique(c.Provenance, e.Provenance...)
			matched++
			continue
		}
		for _, email := range c.Emails {
			if e, ok := byEmail[email]; ok {
				c.Provenance = model.AppendUnique(c.Provenance, e.Provenance...)
				matched++
				break
			}
		}
	}
	return matched
}

func overlaps(c *model.Contact, e Entry) bool {
	for _, a := range c.Emails {
		for _, b := range e.Emails {
			if a == b {
				return true
			}
		}
	}
	for _, a := range c.Phones {
		for _, b := range e.Phones {
			if a == b {
				return true
			}
		}
	}
	return false
}
