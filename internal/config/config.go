package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models protoline.yml.
type Config struct {
	Routing RoutingConfig `yaml:"routing"`
}

// RoutingConfig drives the queue-routing decision: the named reviewer that
// receives everything automation cannot safely take, and the allowlist of
// (system, court) pairs the robot lane is trusted with.
type RoutingConfig struct {
	Reviewer   string           `yaml:"reviewer"`
	Automation []AutomationRule `yaml:"automation"`
}

// AutomationRule marks a judicial system as automation-eligible. With Courts
// set, only those courts qualify; with ExceptCourts set, every court but the
// listed ones qualifies. Setting neither trusts the system at every court.
type AutomationRule struct {
	System       string   `yaml:"system"`
	Courts       []string `yaml:"courts,omitempty"`
	ExceptCourts []string `yaml:"except_courts,omitempty"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Routing.Reviewer == "" {
		return fmt.Errorf("config.routing.reviewer is required")
	}
	for i, rule := range c.Routing.Automation {
		if rule.System == "" {
			return fmt.Errorf("config.routing.automation[%d] has empty system", i)
		}
		if len(rule.Courts) > 0 && len(rule.ExceptCourts) > 0 {
			return fmt.Errorf("automation rule for %s sets both courts and except_courts", rule.System)
		}
		for _, court := range rule.Courts {
			if court == "" {
				return fmt.Errorf("automation rule for %s has empty court", rule.System)
			}
		}
		for _, court := range rule.ExceptCourts {
			if court == "" {
				return fmt.Errorf("automation rule for %s has empty except court", rule.System)
			}
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "protoline.yml")
}

// Load reads config from the workspace, falling back to defaults when the
// file does not exist.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the built-in routing config.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// GenerateDefault returns the default config YAML, for export/import flows.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `routing:
  reviewer: Carlos

  # Automation eligibility is a safety allowlist, not a denylist: unknown
  # (system, court) combinations always go to the reviewer.
  automation:
    - system: PJe
      courts:
        - Tribunal de Justiça de Minas Gerais
        - Tribunal de Justiça do Mato Grosso do Sul
        - Tribunal Regional do Trabalho da 3ª Região

    - system: eproc
      except_courts:
        - Tribunal de Justiça do Rio Grande do Sul
`
