package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type ToneProfile struct {
	ID             string `yaml:"id"`
	PromptTemplate string `yaml:"prompt_template"`
}

// Profiles holds tone templates and the discovery match rules.
type Profiles struct {
	FallbackTone    string        `yaml:"fallback_tone"`
	ToneProfiles    []ToneProfile `yaml:"tone_profiles"`
	Keywords        []string      `yaml:"keywords"`
	RegexVariations []string      `yaml:"regex_variations"`
}

// Template returns the prompt template registered for tone, if any.
func (p Profiles) Template(tone string) (string, bool) {
	for _, profile := range p.ToneProfiles {
		if profile.ID == tone && profile.PromptTemplate != "" {
			return profile.PromptTemplate, true
		}
	}
	return "", false
}

// LoadProfiles reads a YAML profiles file. An empty path yields zero Profiles.
func LoadProfiles(path string) (Profiles, error) {
	var profiles Profiles
	if path == "" {
		return profiles, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return profiles, fmt.Errorf("profiles file %s not found: %w", path, err)
		}
		return profiles, err
	}
	if err := yaml.Unmarshal(data, &profiles); err != nil {
		return profiles, fmt.Errorf("parse profiles %s: %w", path, err)
	}
	return profiles, nil
}
