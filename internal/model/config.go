package model

import (
	"errors"
	"fmt"
	"io"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Default binaries and advisory database location, overridable via config file.
const (
	DefaultCargoBin      = "cargo"
	DefaultCargoAuditBin = "cargo-audit"
	DefaultAdvisoryDB    = "/usr/share/cargo-audit-advisory-db/advisory-db"
)

// DefaultExcludedAdvisories are advisories accepted as non-actionable for every
// run. Both are permanent exceptions: unfixable upstream or not applicable to
// distribution builds.
var DefaultExcludedAdvisories = []string{
	"RUSTSEC-2020-0071",
	"RUSTSEC-2020-0159",
}

var rustsecID = regexp.MustCompile(`^RUSTSEC-\d{4}-\d{4}$`)

// IsAdvisoryID reports whether s has the RustSec advisory id shape.
func IsAdvisoryID(s string) bool {
	return rustsecID.MatchString(s)
}

// Config drives one audit run. The zero value is not usable, start from
// DefaultConfig or LoadConfig.
type Config struct {
	// ExcludedAdvisories are advisory ids passed to the auditor as --ignore flags.
	ExcludedAdvisories []string `yaml:"excluded_advisories"`
	// AdvisoryDB is the offline RustSec advisory database checkout.
	AdvisoryDB string `yaml:"advisory_db"`
	// CargoBin and CargoAuditBin are paths or names of the external binaries.
	CargoBin      string `yaml:"cargo"`
	CargoAuditBin string `yaml:"cargo_audit"`
	// Timeout limits every single subprocess invocation. Zero means no limit.
	Timeout Duration `yaml:"timeout"`
	Verbose bool     `yaml:"verbose"`
}

func DefaultConfig() Config {
	return Config{
		ExcludedAdvisories: append([]string(nil), DefaultExcludedAdvisories...),
		AdvisoryDB:         DefaultAdvisoryDB,
		CargoBin:           DefaultCargoBin,
		CargoAuditBin:      DefaultCargoAuditBin,
	}
}

// LoadConfig decodes YAML from r on top of the defaults and validates the result.
func LoadConfig(r io.Reader) (Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	err := dec.Decode(&cfg)
	if errors.Is(err, io.EOF) {
		// empty config means defaults
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	for _, id := range c.ExcludedAdvisories {
		if !IsAdvisoryID(id) {
			return fmt.Errorf("excluded_advisories: %q is not a RustSec advisory id", id)
		}
	}
	if c.CargoBin == "" {
		return fmt.Errorf("cargo binary must not be empty")
	}
	if c.CargoAuditBin == "" {
		return fmt.Errorf("cargo_audit binary must not be empty")
	}
	if c.AdvisoryDB == "" {
		return fmt.Errorf("advisory_db must not be empty")
	}
	return nil
}

// Duration is a human readable time.Duration usable inside the config file.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return d.Duration.String(), nil
}
