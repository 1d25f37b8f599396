package audit

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhcgn/mbox-contacts/model"
	"github.com/dhcgn/mbox-contacts/roster"
)

func contacts() []model.Contact {
	return []model.Contact{
		{Name: "Bob", Emails: []string{"bob@example.com"}, Provenance: []string{"<b1@x>", "<b2@x>"}},
		{Name: "Alice", Emails: []string{"alice@example.com"}, Provenance: []string{"<a1@x>"}},
		{Phones: []string{"5551234567"}, Provenance: []string{"archive.mbox#3"}},
	}
}

func TestEntries(t *testing.T) {
	w := NewWriter()
	_, err := uuid.Parse(w.RunID())
	require.NoError(t, err)

	entries := w.Entries(roster.Rows(contacts()))
	require.Len(t, entries, 3)
	assert.Equal(t, "Alice", entries[0].Name)
	assert.Equal(t, 1, entries[0].Row)
	assert.Equal(t, roster.UnknownName, entries[2].Name)
	for _, e := range entries {
		assert.Equal(t, w.RunID(), e.RunID)
		assert.False(t, e.GeneratedAt.IsZero())
	}
}

func TestEncode(t *testing.T) {
	var buf bytes.Buffer
	entries := NewWriter().Entries(roster.Rows(contacts()[:1]))
	require.NoError(t, Encode(&buf, entries))

	line := strings.TrimSpace(buf.String())
	assert.Contains(t, line, `"row":1`)
	assert.Contains(t, line, `"provenance":["<b1@x>","<b2@x>"]`)
	assert.NotContains(t, line, `"phones"`)
}

func TestCommitLoadReattach(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "roster.csv")
	auditPath := path + ".audit.jsonl"

	rows := roster.Rows(contacts())
	w := NewWriter()
	require.NoError(t, roster.Commit(context.Background(), path, rows, w.Sidecar(auditPath, rows)))

	records, err := roster.ReadFile(path)
	require.NoError(t, err)
	for _, c := range records {
		assert.Empty(t, c.Provenance)
	}

	entries, err := Load(auditPath)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, 3, Reattach(records, entries))
	assert.Equal(t, []string{"<a1@x>"}, records[0].Provenance)
	assert.Equal(t, []string{"<b1@x>", "<b2@x>"}, records[1].Provenance)
	assert.Equal(t, []string{"archive.mbox#3"}, records[2].Provenance)
}

func TestReattachByEmailWhenRowsMoved(t *testing.T) {
	entries := []Entry{
		{Row: 1, Emails: []string{"alice@example.com"}, Provenance: []string{"a"}},
		{Row: 2, Emails: []string{"bob@example.com"}, Provenance: []string{"b"}},
	}
	records := []model.Contact{
		{Emails: []string{"bob@example.com"}},
		{Emails: []string{"carol@example.com"}},
		{Emails: []string{"alice@example.com", "al@example.com"}},
	}

	assert.Equal(t, 2, Reattach(records, entries))
	assert.Equal(t, []string{"b"}, records[0].Provenance)
	assert.Empty(t, records[1].Provenance)
	assert.Equal(t, []string{"a"}, records[2].Provenance)
}

func TestLoadMissing(t *testing.T) {
	entries, err := Load(filepath.Join(t.TempDir(), "none.jsonl"))
	require.NoError(t, err)
	assert.Nil(t, entries)
}

func TestLoadMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{\"row\":1}\n\nnot json\n"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 3")
}
