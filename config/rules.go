package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/emersion/go-message/charset"
	"github.com/pelletier/go-toml/v2"
)

// Name matching policies understood by the deduplication engine.
const (
	PolicyMerge      = "merge"
	PolicyCompatible = "compatible"
	PolicyNever      = "never"
)

// Rules holds the heuristics used by extraction and deduplication. Every
// field can be overridden from a TOML rules file.
type Rules struct {
	DefaultCharset  string    `toml:"default_charset"`
	NameMatchPolicy string    `toml:"name_match_policy"`
	RoleKeywords    []string  `toml:"role_keywords"`
	SkipAddresses   []string  `toml:"skip_addresses"`
	QuoteMarkers    []string  `toml:"quote_markers"`
	Closings        []string  `toml:"closings"`
	Signature       Signature `toml:"signature"`
}

// Signature bounds the trailing body window scanned for a signature block.
type Signature struct {
	MaxLines      int     `toml:"max_lines"`
	MinLines      int     `toml:"min_lines"`
	Fraction      float64 `toml:"fraction"`
	NameMaxLength int     `toml:"name_max_length"`
}

// DefaultRules returns the built-in rule set.
func DefaultRules() Rules {
	return Rules{
		DefaultCharset:  "windows-1252",
		NameMatchPolicy: PolicyMerge,
		RoleKeywords: []string{
			"attorney", "lawyer", "partner", "listing partner", "associate",
			"counsel", "of counsel", "general counsel", "paralegal",
			"legal assistant", "law clerk", "clerk", "judge", "mediator",
			"arbitrator", "notary", "cpa", "accountant", "bookkeeper",
			"manager", "director", "ceo", "cfo", "coo", "president",
			"vice president", "principal", "founder", "owner", "secretary",
			"assistant", "coordinator", "officer", "realtor", "broker",
			"agent", "consultant", "investigator", "adjuster",
		},
		SkipAddresses: []string{
			"noreply", "no-reply", "no_reply", "donotreply", "do-not-reply",
			"mailer-daemon", "postmaster",
		},
		QuoteMarkers: []string{
			`^-{2,}\s*original message\s*-{2,}$`,
			`^-{2,}\s*forwarded message\s*-{2,}$`,
			`^begin forwarded message:?$`,
			`^on .+ wrote:$`,
			`^_{10,}$`,
			`^from:\s+\S.*$`,
			`^>`,
		},
		Closings: []string{
			"thanks", "thank you", "many thanks", "regards", "best",
			"best regards", "kind regards", "warm regards", "warmly",
			"sincerely", "cheers", "respectfully", "cordially",
			"yours truly", "all the best", "talk soon",
		},
		Signature: Signature{
			MaxLines:      10,
			MinLines:      4,
			Fraction:      0.4,
			NameMaxLength: 40,
		},
	}
}

// LoadRules returns the defaults overridden by the TOML file at path. An
// empty path yields the defaults.
func LoadRules(path string) (Rules, error) {
	rules := DefaultRules()
	path = strings.TrimSpace(path)
	if path == "" {
		return rules, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, fmt.Errorf("read rules file: %w", err)
	}

	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&rules); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return Rules{}, fmt.Errorf("rules file %s: %s", path, strict.String())
		}
		return Rules{}, fmt.Errorf("parse rules file %s: %w", path, err)
	}

	rules.normalize()
	if err := rules.Validate(); err != nil {
		return Rules{}, fmt.Errorf("rules file %s: %w", path, err)
	}
	return rules, nil
}

func (r *Rules) normalize() {
	r.DefaultCharset = strings.ToLower(strings.TrimSpace(r.DefaultCharset))
	r.NameMatchPolicy = strings.ToLower(strings.TrimSpace(r.NameMatchPolicy))
	r.RoleKeywords = lowerAll(r.RoleKeywords)
	r.SkipAddresses = lowerAll(r.SkipAddresses)
	r.Closings = lowerAll(r.Closings)
}

// Validate checks that the rule set is usable.
func (r Rules) Validate() error {
	switch r.NameMatchPolicy {
	case PolicyMerge, PolicyCompatible, PolicyNever:
	default:
		return fmt.Errorf("invalid name_match_policy: %q", r.NameMatchPolicy)
	}
	if r.DefaultCharset != "" {
		if _, err := charset.Reader(r.DefaultCharset, strings.NewReader("")); err != nil {
			return fmt.Errorf("invalid default_charset %q: %w", r.DefaultCharset, err)
		}
	}
	for _, pattern := range r.QuoteMarkers {
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("compile quote marker %q: %w", pattern, err)
		}
	}
	sig := r.Signature
	if sig.MaxLines <= 0 {
		return fmt.Errorf("signature.max_lines must be positive")
	}
	if sig.MinLines < 0 || sig.MinLines > sig.MaxLines {
		return fmt.Errorf("signature.min_lines must be between 0 and max_lines")
	}
	if sig.Fraction <= 0 || sig.Fraction > 1 {
		return fmt.Errorf("signature.fraction must be in (0, 1]")
	}
	if sig.NameMaxLength <= 0 {
		return fmt.Errorf("signature.name_max_length must be positive")
	}
	return nil
}

func lowerAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
