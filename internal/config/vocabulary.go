package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// serviceVocabularyFile is the on-disk shape of an optional category/service
// vocabulary file (original_source/cogops/agent.py's _load_config reads an
// equivalent YAML document with yaml.safe_load and pulls CATEGORY_LIST and
// SERVICE_DATA out of it). Operators who want a richer, versioned vocabulary
// than a comma-separated env var can point SERVICE_VOCABULARY_FILE at one of
// these instead.
type serviceVocabularyFile struct {
	Categories  []string `yaml:"categories"`
	ServiceData string   `yaml:"service_data"`
}

// loadServiceVocabulary reads and parses path, applying its categories/
// service_data over whatever CategoryRefinementConfig already holds. An
// empty (unset) path is not an error: the env-var-derived defaults stand. A
// path that cannot be read or parsed is an error.
func loadServiceVocabulary(path string, cfg CategoryRefinementConfig) (CategoryRefinementConfig, error) {
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read service vocabulary file %q: %w", path, err)
	}
	var doc serviceVocabularyFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return cfg, fmt.Errorf("parse service vocabulary file %q: %w", path, err)
	}
	if len(doc.Categories) > 0 {
		cfg.Categories = doc.Categories
	}
	if doc.ServiceData != "" {
		cfg.ServiceData = doc.ServiceData
	}
	return cfg, nil
}
