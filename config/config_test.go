package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRules(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadRulesDefaults(t *testing.T) {
	rules, err := LoadRules("")
	require.NoError(t, err)
	assert.Equal(t, DefaultRules(), rules)
	assert.Equal(t, PolicyMerge, rules.NameMatchPolicy)
	assert.NoError(t, rules.Validate())
}

func TestLoadRulesOverrides(t *testing.T) {
	path := writeRules(t, `
name_match_policy = "Compatible"
role_keywords = ["Barrister", "Solicitor"]

[signature]
max_lines = 12
`)

	rules, err := LoadRules(path)
	require.NoError(t, err)
	assert.Equal(t, PolicyCompatible, rules.NameMatchPolicy)
	assert.Equal(t, []string{"barrister", "solicitor"}, rules.RoleKeywords)
	assert.Equal(t, 12, rules.Signature.MaxLines)

	defaults := DefaultRules()
	assert.Equal(t, defaults.Signature.MinLines, rules.Signature.MinLines)
	assert.Equal(t, defaults.SkipAddresses, rules.SkipAddresses)
	assert.Equal(t, defaults.DefaultCharset, rules.DefaultCharset)
}

func TestLoadRulesErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"unknown field", "colour = \"blue\"\n", "rules file"},
		{"bad policy", "name_match_policy = \"sometimes\"\n", "name_match_policy"},
		{"bad charset", "default_charset = \"klingon-8\"\n", "default_charset"},
		{"bad quote marker", "quote_markers = [\"(\"]\n", "quote marker"},
		{"window", "[signature]\nmin_lines = 20\n", "min_lines"},
		{"syntax", "name_match_policy = \n", "parse rules file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadRules(writeRules(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	_, err := LoadRules(filepath.Join(t.TempDir(), "missing.toml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func newCommand(t *testing.T, register func(*cobra.Command) error, args ...string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "test"}
	require.NoError(t, RegisterFlags(cmd))
	require.NoError(t, register(cmd))
	require.NoError(t, cmd.ParseFlags(args))
	return cmd
}

func TestLoadConfigExtract(t *testing.T) {
	cmd := newCommand(t, RegisterExtractFlags,
		"--mbox", "a.mbox", "--output", "out/./roster.csv", "--log-level", "WARNING", "--name-policy", "never")

	cfg, err := LoadConfig(cmd, []string{"b.mbox"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.mbox", "b.mbox"}, cfg.MboxPaths)
	assert.Equal(t, filepath.Join("out", "roster.csv"), cfg.Output)
	assert.Equal(t, filepath.Join("out", "roster.csv")+".audit.jsonl", cfg.AuditPath)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, PolicyNever, cfg.Rules.NameMatchPolicy)
	assert.False(t, cfg.NoDedupe)
}

func TestLoadConfigRejects(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"include and exclude", []string{"--output", "r.csv", "--include-header", "a", "--exclude-body", "b"}, "mutually exclusive"},
		{"audit equals output", []string{"--output", "r.csv", "--audit", "r.csv"}, "--audit"},
		{"log level", []string{"--output", "r.csv", "--log-level", "loud"}, "--log-level"},
		{"policy", []string{"--output", "r.csv", "--name-policy", "always"}, "name_match_policy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := newCommand(t, RegisterExtractFlags, tt.args...)
			_, err := LoadConfig(cmd, nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadConfigDedupe(t *testing.T) {
	cmd := newCommand(t, RegisterDedupeFlags, "--input", "a.csv", "--input", "b.csv", "--output", "a.csv")

	cfg, err := LoadConfig(cmd, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.csv", "b.csv"}, cfg.Inputs)
	assert.Equal(t, "a.csv.audit.jsonl", cfg.AuditPath)
	assert.Empty(t, cfg.MboxPaths)
}
