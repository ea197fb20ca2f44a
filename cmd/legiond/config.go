package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// duration wraps time.Duration so YAML values like "30s" parse.
type duration time.Duration

func (d *duration) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", node.Value, err)
	}
	*d = duration(parsed)
	return nil
}

// config is the daemon configuration, loaded from a YAML file with every
// field optional.
type config struct {
	ListenAddr     string   `yaml:"listen_addr"`
	DBPath         string   `yaml:"db_path"`
	PersonaDir     string   `yaml:"persona_dir"`
	GeminiAPIKey   string   `yaml:"gemini_api_key"`
	Model          string   `yaml:"model"`
	InvokeTimeout  duration `yaml:"invoke_timeout"`
	QueueSize      int      `yaml:"queue_size"`
	ReactToSelf    bool     `yaml:"react_to_self"`
	ReactToMinions *bool    `yaml:"react_to_minions"`
}

func defaultConfig() config {
	return config{
		ListenAddr: ":8474",
		DBPath:     "legion.db",
	}
}

// loadConfig reads a YAML config file and applies defaults. A missing
// path returns the defaults; the GEMINI_API_KEY environment variable
// overrides the file.
func loadConfig(path string) (config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8474"
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "legion.db"
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		cfg.GeminiAPIKey = key
	}
	return cfg, nil
}

func (c config) reactToMinions() bool {
	if c.ReactToMinions == nil {
		return true
	}
	return *c.ReactToMinions
}
