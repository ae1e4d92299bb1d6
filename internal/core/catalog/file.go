package catalog

import (
	"fmt"
	"net/netip"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

type fileSignature struct {
	Name     string `yaml:"name"`
	Category string `yaml:"category"`
	Pattern  string `yaml:"pattern"`
	Weight   int    `yaml:"weight"`
	Enabled  *bool  `yaml:"enabled"`
}

type fileCatalog struct {
	ReplaceDefaults bool            `yaml:"replace_defaults"`
	Signatures      []fileSignature `yaml:"signatures"`
	BlockedNetworks []string        `yaml:"blocked_networks"`
}

// Load reads a YAML catalog file. See Parse for the format.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}

// Parse builds a catalog from YAML:
//
//	replace_defaults: false
//	signatures:
//	  - name: sql_injection.drop_table
//	    category: sql_injection
//	    pattern: '(?i)\bdrop\s+table\b'
//	    weight: 40
//	  - name: xss.inline_event_handler   # existing name: override in place
//	    enabled: false
//	blocked_networks:
//	  - 10.66.0.0/16
//	  - 192.0.2.44
//
// Unless replace_defaults is set, entries are merged over the built-in set:
// a known name updates that signature in place, a new name is appended.
func Parse(data []byte) (*Catalog, error) {
	var fc fileCatalog
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse catalog yaml: %w", err)
	}

	var signatures []Signature
	var blocked []netip.Prefix
	if !fc.ReplaceDefaults {
		signatures = defaultSignatures()
		blocked = defaultBlockedNetworks()
	}

	index := make(map[string]int, len(signatures))
	for i, s := range signatures {
		index[s.Name] = i
	}

	for i, fs := range fc.Signatures {
		name := strings.TrimSpace(fs.Name)
		if name == "" {
			return nil, fmt.Errorf("signature %d: name is required", i)
		}

		if pos, ok := index[name]; ok {
			updated, err := mergeSignature(signatures[pos], fs)
			if err != nil {
				return nil, fmt.Errorf("signature %q: %w", name, err)
			}
			signatures[pos] = updated
			continue
		}

		if fs.Pattern == "" {
			return nil, fmt.Errorf("signature %q: pattern is required", name)
		}
		s, err := mergeSignature(Signature{Name: name, Enabled: true}, fs)
		if err != nil {
			return nil, fmt.Errorf("signature %q: %w", name, err)
		}
		index[name] = len(signatures)
		signatures = append(signatures, s)
	}

	for _, raw := range fc.BlockedNetworks {
		p, err := ParseNetwork(raw)
		if err != nil {
			return nil, err
		}
		blocked = append(blocked, p)
	}

	return New(signatures, blocked), nil
}

func mergeSignature(s Signature, fs fileSignature) (Signature, error) {
	if fs.Pattern != "" {
		re, err := regexp.Compile(fs.Pattern)
		if err != nil {
			return Signature{}, fmt.Errorf("invalid regex pattern: %w", err)
		}
		s.Pattern = re
	}
	if fs.Category != "" {
		s.Category = fs.Category
	}
	if fs.Weight < 0 {
		return Signature{}, fmt.Errorf("weight must not be negative, got %d", fs.Weight)
	}
	if fs.Weight > 0 {
		s.Weight = fs.Weight
	}
	if fs.Enabled != nil {
		s.Enabled = *fs.Enabled
	}
	return s, nil
}
