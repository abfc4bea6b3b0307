// Package config loads the optional YAML settings file both cmd/orchestrator
// and cmd/auditor accept via --config. Flags always win: a value loaded
// from the file is only used to fill in fields the operator left at their
// cobra-declared zero value.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the on-disk shape of an orchestrator or auditor settings file.
// Every field is optional; keys not present keep the command's flag
// defaults.
type File struct {
	Addr         string   `yaml:"addr"`
	RegistryFile string   `yaml:"registry_file"`
	WaterFile    string   `yaml:"water_file"`
	SecretsFile  string   `yaml:"secrets_file"`
	LLMProvider  string   `yaml:"llm_provider"`
	LLMModel     string   `yaml:"llm_model"`
	CORSOrigins  []string `yaml:"cors_origins"`
}

// Load reads and parses the YAML settings file at path. An empty path is
// not an error: it returns a zero File, so the caller's flag defaults
// apply unmodified.
func Load(path string) (File, error) {
	if path == "" {
		return File{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("read config file %s: %w", path, err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return File{}, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return f, nil
}

// ApplyDefault sets *dst to val when *dst is still its zero value.
func ApplyDefault(dst *string, val string) {
	if *dst == "" && val != "" {
		*dst = val
	}
}

// ApplyDefaultSlice sets *dst to val when *dst is empty.
func ApplyDefaultSlice(dst *[]string, val []string) {
	if len(*dst) == 0 && len(val) > 0 {
		*dst = val
	}
}
