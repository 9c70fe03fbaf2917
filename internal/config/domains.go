package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Domains maps a category to the comma-separated publisher domains queried for it.
type Domains map[string]string

// LoadDomains reads a category→domains file (YAML or JSON, chosen by
// extension). Each list is de-duplicated and sorted into a CSV; categories
// with an empty list are dropped.
func LoadDomains(path string) (Domains, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("domains file path is empty")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read domains file: %w", err)
	}
	return ParseDomains([]byte(os.ExpandEnv(string(raw))), filepath.Ext(path))
}

// ParseDomains decodes a mapping. An empty ext is treated as JSON.
func ParseDomains(data []byte, ext string) (Domains, error) {
	var lists map[string][]string
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &lists); err != nil {
			return nil, fmt.Errorf("decode yaml domains: %w", err)
		}
	case ".json", "":
		if err := json.Unmarshal(data, &lists); err != nil {
			return nil, fmt.Errorf("decode json domains: %w", err)
		}
	default:
		return nil, fmt.Errorf("domains file extension %q not recognized (expected YAML or JSON)", ext)
	}

	out := make(Domains, len(lists))
	for cat, domains := range lists {
		set := make(map[string]struct{}, len(domains))
		for _, d := range domains {
			if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
				set[d] = struct{}{}
			}
		}
		if len(set) == 0 {
			continue
		}
		uniq := make([]string, 0, len(set))
		for d := range set {
			uniq = append(uniq, d)
		}
		sort.Strings(uniq)
		out[strings.ToLower(strings.TrimSpace(cat))] = strings.Join(uniq, ",")
	}
	return out, nil
}
