package audit

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/dhcgn/mbox-contacts/model"
	"github.com/dhcgn/mbox-contacts/roster"
)

func benchRows(n int) []roster.Row {
	records := make([]model.Contact, n)
	for i := range records {
		records[i] = model.Contact{
			Name:       fmt.Sprintf("Person %d", i),
			Emails:     []string{fmt.Sprintf("person%d@example.com", i)},
			Provenance: []string{fmt.Sprintf("<msg-%d@example.com>", i)},
		}
	}
	return roster.Rows(records)
}

// BenchmarkEncode benchmarks audit line encoding
func BenchmarkEncode(b *testing.B) {
	entries := NewWriter().Entries(benchRows(1000))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := Encode(io.Discard, entries); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkLoad benchmarks the audit file loading performance
func BenchmarkLoad(b *testing.B) {
	path := filepath.Join(b.TempDir(), "roster.csv.audit.jsonl")
	file, err := os.Create(path)
	if err != nil {
		b.Fatal(err)
	}
	if err := Encode(file, NewWriter().Entries(benchRows(10000))); err != nil {
		b.Fatal(err)
	}
	if err := file.Close(); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Load(path); err != nil {
			b.Fatal(err)
		}
	}
}
