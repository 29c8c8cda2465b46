// Package config loads and validates the orchestrator configuration: a YAML
// file of flat scalar parameters merged over defaults, with struct-level
// validation. There is deliberately no templating or scripting layer.
package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads the YAML file at path over the defaults and validates the
// result. An empty path returns validated defaults, so a config file is
// optional when the CLI supplies the host identity.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	return cfg, nil
}

// Validate checks the assembled configuration, including per-kind parameter
// completeness of every deployment unit. Called after CLI overrides are
// applied.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			return fmt.Errorf("invalid configuration: %s", describeFirst(verrs))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}

	seen := make(map[string]string, len(c.Deployments))
	for i := range c.Deployments {
		d := &c.Deployments[i]
		key := d.Kind + "/" + d.Name
		if prev, dup := seen[key]; dup {
			return fmt.Errorf("duplicate deployment identity %q for kind %s (first declared as %s)",
				d.Name, d.Kind, prev)
		}
		seen[key] = key

		if err := d.toRequest().Validate(); err != nil {
			return fmt.Errorf("deployment %q: %w", d.Name, err)
		}
	}
	return nil
}

func describeFirst(errs validator.ValidationErrors) string {
	if len(errs) == 0 {
		return "validation failed"
	}
	e := errs[0]
	return fmt.Sprintf("field %s failed rule %q (value %v)", e.Namespace(), e.Tag(), e.Value())
}
