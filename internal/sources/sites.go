package sources

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type siteList struct {
	Sites []string `yaml:"sites"`
}

// LoadSites reads a crawl site list from a YAML file. Both a top-level
// sites key and a bare sequence of urls are accepted.
func LoadSites(path string) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sites file: %w", err)
	}

	var wrapped siteList
	structErr := yaml.Unmarshal(raw, &wrapped)
	if structErr == nil && len(wrapped.Sites) > 0 {
		return cleanSites(wrapped.Sites), nil
	}

	var bare []string
	if err := yaml.Unmarshal(raw, &bare); err == nil && len(bare) > 0 {
		return cleanSites(bare), nil
	}

	if structErr != nil {
		return nil, fmt.Errorf("parse sites file: %w", structErr)
	}
	return nil, nil
}

func cleanSites(raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
