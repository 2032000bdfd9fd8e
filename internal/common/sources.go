package common

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v2"
)

type EnergySourceConfig struct {
	Name        string `yaml:"name"`
	Renewable   bool   `yaml:"renewable"`
	Description string `yaml:"description"`
}

type EnergySourcesConfig struct {
	Sources []EnergySourceConfig `yaml:"sources"`
}

// EnergySources is the catalogue of energy sources accepted on readings and listings.
type EnergySources struct {
	byName map[string]EnergySourceConfig
}

// Contains reports whether source is catalogued. A nil catalogue accepts everything.
func (s *EnergySources) Contains(source string) bool {
	if s == nil {
		return true
	}
	_, ok := s.byName[strings.ToLower(source)]
	return ok
}

func (s *EnergySources) Names() []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.byName))
	for name := range s.byName {
		names = append(names, name)
	}
	return names
}

func LoadEnergySources(sourcesFile string) (*EnergySources, error) {
	var sourcesPath string
	if filepath.IsAbs(sourcesFile) {
		sourcesPath = sourcesFile
	} else {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		sourcesPath = filepath.Join(wd, sourcesFile)
	}

	data, err := os.ReadFile(sourcesPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read %s: %w", sourcesFile, err)
	}

	var config EnergySourcesConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("unable to parse %s: %w", sourcesFile, err)
	}
	if len(config.Sources) == 0 {
		return nil, fmt.Errorf("%s lists no energy sources", sourcesFile)
	}

	catalogue := &EnergySources{byName: make(map[string]EnergySourceConfig, len(config.Sources))}
	for i, source := range config.Sources {
		name := strings.ToLower(strings.TrimSpace(source.Name))
		if name == "" {
			return nil, fmt.Errorf("energy source at index %d missing name", i)
		}
		if _, dup := catalogue.byName[name]; dup {
			return nil, fmt.Errorf("energy source %q listed twice", name)
		}
		source.Name = name
		catalogue.byName[name] = source
	}
	return catalogue, nil
}
