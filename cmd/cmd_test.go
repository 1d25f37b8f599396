package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhcgn/mbox-contacts/audit"
	"github.com/dhcgn/mbox-contacts/roster"
)

const fixture = "../mbox/test_data/archive.mbox"

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root, err := NewRootCommand()
	require.NoError(t, err)

	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(append(args, "--log-level", "error"))
	err = root.ExecuteContext(context.Background())
	return out.String(), err
}

func extractFixture(t *testing.T) string {
	t.Helper()
	output := filepath.Join(t.TempDir(), "out", "roster.csv")
	_, err := runCLI(t, "extract", fixture, "--output", output)
	require.NoError(t, err)
	return output
}

func TestExtractWritesRosterAndAudit(t *testing.T) {
	output := extractFixture(t)

	records, err := roster.ReadFile(output)
	require.NoError(t, err)
	rows := roster.Rows(records)
	require.Len(t, rows, 21)
	assert.Equal(t, "Alice Adams", rows[0].Name)
	assert.Equal(t, []string{"alice.adams@firm.example.com"}, rows[0].Contact.Emails)
	assert.Len(t, rows[0].Contact.Phones, 1)
	assert.Equal(t, []string{"Attorney"}, rows[0].Contact.Roles)

	entries, err := audit.Load(output + ".audit.jsonl")
	require.NoError(t, err)
	require.Len(t, entries, 21)
	assert.Equal(t, 1, entries[0].Row)
	assert.NotEmpty(t, entries[0].RunID)
	assert.NotEmpty(t, entries[0].Provenance)

	_, err = os.Stat(roster.LockPath(output))
	assert.NoError(t, err)
}

func TestExtractWithoutDedupeKeepsCandidates(t *testing.T) {
	output := filepath.Join(t.TempDir(), "roster.csv")
	_, err := runCLI(t, "extract", "--mbox", fixture, "--output", output, "--no-dedupe")
	require.NoError(t, err)

	records, err := roster.ReadFile(output)
	require.NoError(t, err)
	assert.Len(t, records, 60)
}

func TestExtractRequiresArchive(t *testing.T) {
	_, err := runCLI(t, "extract", "--output", filepath.Join(t.TempDir(), "roster.csv"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no mbox archives")
}

func TestExtractMissingArchiveLeavesNoRoster(t *testing.T) {
	output := filepath.Join(t.TempDir(), "roster.csv")
	_, err := runCLI(t, "extract", filepath.Join(t.TempDir(), "missing.mbox"), "--output", output)
	require.Error(t, err)

	_, statErr := os.Stat(output)
	assert.True(t, os.IsNotExist(statErr))
}

func TestDedupeInPlaceIsStable(t *testing.T) {
	output := extractFixture(t)
	before, err := os.ReadFile(output)
	require.NoError(t, err)

	_, err = runCLI(t, "dedupe", "--input", output, "--output", output)
	require.NoError(t, err)

	after, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))

	entries, err := audit.Load(output + ".audit.jsonl")
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotEmpty(t, e.Provenance, "row %d", e.Row)
	}
}

func TestDedupeMergesTwoRosters(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "a.csv")
	second := filepath.Join(dir, "b.csv")
	require.NoError(t, os.WriteFile(first, []byte("name,emails,phones,roles\nAlice Adams,alice.adams@firm.example.com,,Attorney\n"), 0o644))
	require.NoError(t, os.WriteFile(second, []byte("Name,Email,Phone,Role\nA. Adams,ALICE.ADAMS@firm.example.com,+1 555 201 1000,N/A\n"), 0o644))

	output := filepath.Join(dir, "merged.csv")
	_, err := runCLI(t, "dedupe", "--input", first, "--input", second, "--output", output)
	require.NoError(t, err)

	records, err := roster.ReadFile(output)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Alice Adams", records[0].Name)
	assert.Equal(t, []string{"alice.adams@firm.example.com"}, records[0].Emails)
	assert.Equal(t, []string{"Attorney"}, records[0].Roles)
}

func TestDedupeRejectsInvalidRoster(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "bad.csv")
	require.NoError(t, os.WriteFile(input, []byte("name,emails,phones,roles\nNobody,,,\n"), 0o644))

	_, err := runCLI(t, "dedupe", "--input", input, "--output", filepath.Join(dir, "out.csv"))
	require.Error(t, err)

	var readErr *roster.ReadError
	assert.ErrorAs(t, err, &readErr)
}

func TestShowRendersRoster(t *testing.T) {
	output := extractFixture(t)

	out, err := runCLI(t, "show", output)
	require.NoError(t, err)
	assert.Contains(t, out, "roster.csv (21 contacts)")
	assert.Contains(t, out, "Alice Adams")
	assert.Contains(t, out, "case.team@client.example.org")
	assert.NotContains(t, out, "PROVENANCE")
	assert.NotContains(t, out, "msg-1@firm.example.com")

	out, err = runCLI(t, "show", output, "--provenance")
	require.NoError(t, err)
	assert.Contains(t, out, "PROVENANCE")
	assert.Contains(t, out, "msg-1@firm.example.com")
}

func TestScanPrintsStatistics(t *testing.T) {
	out, err := runCLI(t, "scan", fixture, "--top", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "Distinct contacts")
	assert.Contains(t, out, "Top recipients")
	assert.Contains(t, out, "case.team@client.example.org")

	lines := strings.Split(out, "\n")
	found := false
	for _, line := range lines {
		if strings.Contains(line, "Messages ") && strings.Contains(line, "20") {
			found = true
		}
	}
	assert.True(t, found, out)
}
