package process

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// TrainerConfig describes an external training command.
type TrainerConfig struct {
	Name        string            `yaml:"name" json:"name"`
	Command     string            `yaml:"command" json:"command"`
	Args        []string          `yaml:"args" json:"args"`
	Environment map[string]string `yaml:"env" json:"env"`
	Dir         string            `yaml:"dir" json:"dir"`
	Description string            `yaml:"description" json:"description"`
}

// ConfigFile represents the structure of trainers.yaml.
type ConfigFile struct {
	Trainers []TrainerConfig `yaml:"trainers" json:"trainers"`
}

// LoadTrainers reads a configuration file (YAML or JSON) and returns trainers by name.
// A missing file means no trainers are configured.
func LoadTrainers(path string) (map[string]TrainerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]TrainerConfig{}, nil
		}
		return nil, fmt.Errorf("failed to read trainers config: %w", err)
	}

	var cfg ConfigFile
	if strings.ToLower(filepath.Ext(path)) == ".json" {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
		}
	} else {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
		}
	}

	trainers := make(map[string]TrainerConfig, len(cfg.Trainers))
	for _, tr := range cfg.Trainers {
		if tr.Name == "" {
			continue
		}
		if tr.Command == "" {
			return nil, fmt.Errorf("trainer %q has no command", tr.Name)
		}
		trainers[tr.Name] = tr
	}
	return trainers, nil
}
