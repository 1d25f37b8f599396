package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Config captures all command-line options required to run a command.
type Config struct {
	MboxPaths     []string
	Inputs        []string
	Output        string
	AuditPath     string
	RulesPath     string
	NoDedupe      bool
	LogLevel      string
	LogDir        string
	IncludeHeader []string
	IncludeBody   []string
	ExcludeHeader []string
	ExcludeBody   []string
	Rules         Rules
}

// RegisterFlags attaches the flags shared by every command.
func RegisterFlags(cmd *cobra.Command) error {
	flags := cmd.PersistentFlags()
	flags.String("log-level", "info", "Logging level: debug, info, warn, error")
	flags.String("log-dir", "", "Directory for log files (stderr only when empty)")
	flags.String("rules", "", "Path to a TOML file overriding the extraction and matching rules")
	flags.String("default-charset", "", "Charset assumed for undeclared, non-UTF-8 message text (overrides rules)")
	flags.String("name-policy", "", "Name matching policy: merge, compatible, never (overrides rules)")
	return nil
}

// RegisterExtractFlags attaches the flags of the extract command.
func RegisterExtractFlags(cmd *cobra.Command) error {
	flags := cmd.Flags()
	flags.StringArray("mbox", nil, "Path to an .mbox archive (repeatable, positional arguments are accepted too)")
	flags.String("output", "", "Path of the roster CSV to write")
	flags.String("audit", "", "Path of the provenance audit file (default <output>.audit.jsonl)")
	flags.Bool("no-dedupe", false, "Write one row per extracted candidate without merging")
	registerFilterFlags(flags)
	return cmd.MarkFlagRequired("output")
}

// RegisterDedupeFlags attaches the flags of the dedupe command.
func RegisterDedupeFlags(cmd *cobra.Command) error {
	flags := cmd.Flags()
	flags.StringArray("input", nil, "Roster CSV to read (repeatable)")
	flags.String("output", "", "Path of the roster CSV to write (may equal an input)")
	flags.String("audit", "", "Path of the provenance audit file (default <output>.audit.jsonl)")
	if err := cmd.MarkFlagRequired("input"); err != nil {
		return err
	}
	return cmd.MarkFlagRequired("output")
}

// RegisterScanFlags attaches the flags of the scan command.
func RegisterScanFlags(cmd *cobra.Command) error {
	registerFilterFlags(cmd.Flags())
	return nil
}

func registerFilterFlags(flags *pflag.FlagSet) {
	flags.StringArray("include-header", nil, "Regex allow-list applied to message headers (mutually exclusive with exclude flags)")
	flags.StringArray("include-body", nil, "Regex allow-list applied to message bodies (mutually exclusive with exclude flags)")
	flags.StringArray("exclude-header", nil, "Regex block-list applied to message headers (mutually exclusive with include flags)")
	flags.StringArray("exclude-body", nil, "Regex block-list applied to message bodies (mutually exclusive with include flags)")
}

// LoadConfig converts the parsed Cobra flags and positional arguments into a
// Config with validation. Flags not registered on cmd keep their zero value.
func LoadConfig(cmd *cobra.Command, args []string) (Config, error) {
	flags := cmd.Flags()

	var cfg Config
	var err error
	if cfg.LogLevel, err = getString(flags, "log-level"); err != nil {
		return Config{}, err
	}
	if cfg.LogDir, err = getString(flags, "log-dir"); err != nil {
		return Config{}, err
	}
	if cfg.RulesPath, err = getString(flags, "rules"); err != nil {
		return Config{}, err
	}
	if cfg.MboxPaths, err = getStringArray(flags, "mbox"); err != nil {
		return Config{}, err
	}
	if cfg.Inputs, err = getStringArray(flags, "input"); err != nil {
		return Config{}, err
	}
	if cfg.Output, err = getString(flags, "output"); err != nil {
		return Config{}, err
	}
	if cfg.AuditPath, err = getString(flags, "audit"); err != nil {
		return Config{}, err
	}
	if cfg.IncludeHeader, err = getStringArray(flags, "include-header"); err != nil {
		return Config{}, err
	}
	if cfg.IncludeBody, err = getStringArray(flags, "include-body"); err != nil {
		return Config{}, err
	}
	if cfg.ExcludeHeader, err = getStringArray(flags, "exclude-header"); err != nil {
		return Config{}, err
	}
	if cfg.ExcludeBody, err = getStringArray(flags, "exclude-body"); err != nil {
		return Config{}, err
	}
	if f := flags.Lookup("no-dedupe"); f != nil {
		if cfg.NoDedupe, err = flags.GetBool("no-dedupe"); err != nil {
			return Config{}, err
		}
	}

	defaultCharset, err := getString(flags, "default-charset")
	if err != nil {
		return Config{}, err
	}
	namePolicy, err := getString(flags, "name-policy")
	if err != nil {
		return Config{}, err
	}

	cfg.Rules, err = LoadRules(cfg.RulesPath)
	if err != nil {
		return Config{}, err
	}
	if defaultCharset != "" {
		cfg.Rules.DefaultCharset = defaultCharset
	}
	if namePolicy != "" {
		cfg.Rules.NameMatchPolicy = namePolicy
	}
	cfg.Rules.normalize()

	cfg.MboxPaths = append(cfg.MboxPaths, args...)

	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	if cfg.Output != "" {
		cfg.Output = filepath.Clean(cfg.Output)
		if cfg.AuditPath == "" {
			cfg.AuditPath = DefaultAuditPath(cfg.Output)
		}
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// DefaultAuditPath returns the audit file that accompanies a roster.
func DefaultAuditPath(output string) string {
	return output + ".audit.jsonl"
}

func validateConfig(cfg Config) error {
	includeActive := len(cfg.IncludeHeader) > 0 || len(cfg.IncludeBody) > 0
	excludeActive := len(cfg.ExcludeHeader) > 0 || len(cfg.ExcludeBody) > 0
	if includeActive && excludeActive {
		return fmt.Errorf("include and exclude flags are mutually exclusive")
	}
	if cfg.Output != "" && cfg.AuditPath == cfg.Output {
		return fmt.Errorf("--audit must differ from --output")
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid --log-level: %s", cfg.LogLevel)
	}

	return cfg.Rules.Validate()
}

func getString(flags *pflag.FlagSet, name string) (string, error) {
	if flags.Lookup(name) == nil {
		return "", nil
	}
	value, err := flags.GetString(name)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(value), nil
}

func getStringArray(flags *pflag.FlagSet, name string) ([]string, error) {
	if flags.Lookup(name) == nil {
		return nil, nil
	}
	return flags.GetStringArray(name)
}
