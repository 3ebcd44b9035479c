package config

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Profile is a named set of dialect overrides loaded from YAML.
// Empty strings and nil pointers inherit from the base dialect.
//
//	profiles:
//	  excel-de:
//	    delimiter: ";"
//	    encoding: windows-1252
//	    header: true
type Profile struct {
	Delimiter  string `yaml:"delimiter" json:"delimiter,omitempty"`
	Quote      string `yaml:"quote" json:"quote,omitempty"`
	TrimFields *bool  `yaml:"trim" json:"trim,omitempty"`
	Encoding   string `yaml:"encoding" json:"encoding,omitempty"`
	Header     *bool  `yaml:"header" json:"header,omitempty"`
}

// Profiles holds the dialect profiles of one file.
type Profiles struct {
	Profiles map[string]Profile `yaml:"profiles"`
}

// LoadProfiles reads a profiles file. An empty path yields no profiles.
func LoadProfiles(path string) (*Profiles, error) {
	p := &Profiles{Profiles: map[string]Profile{}}
	if path == "" {
		return p, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profiles: %w", err)
	}
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("parse profiles %s: %w", path, err)
	}
	if p.Profiles == nil {
		p.Profiles = map[string]Profile{}
	}

	var errs []error
	for _, name := range p.Names() {
		prof := p.Profiles[name]
		if prof.Delimiter != "" && !validDialectChar(prof.Delimiter) {
			errs = append(errs, fmt.Errorf("profile %q: delimiter %q must be a single character, \"tab\" or \"none\"", name, prof.Delimiter))
		}
		if prof.Quote != "" && !validDialectChar(prof.Quote) {
			errs = append(errs, fmt.Errorf("profile %q: quote %q must be a single character or \"none\"", name, prof.Quote))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return p, nil
}

// Get returns the named profile.
func (p *Profiles) Get(name string) (Profile, bool) {
	if p == nil {
		return Profile{}, false
	}
	prof, ok := p.Profiles[name]
	return prof, ok
}

// Names returns the profile names in sorted order.
func (p *Profiles) Names() []string {
	if p == nil {
		return nil
	}
	names := make([]string, 0, len(p.Profiles))
	for name := range p.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Apply returns base with the profile's overrides applied.
func (prof Profile) Apply(base DialectConfig) DialectConfig {
	out := base
	if prof.Delimiter != "" {
		out.Delimiter = prof.Delimiter
	}
	if prof.Quote != "" {
		out.Quote = prof.Quote
	}
	if prof.TrimFields != nil {
		out.TrimFields = *prof.TrimFields
	}
	if prof.Encoding != "" {
		out.Encoding = prof.Encoding
	}
	if prof.Header != nil {
		out.Header = *prof.Header
	}
	return out
}
