package render

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Policy is the static part of the canary rollout, read from YAML.
type Policy struct {
	StableEngine string   `yaml:"stable_engine"`
	CanaryEngine string   `yaml:"canary_engine"`
	Enabled      bool     `yaml:"enabled"`
	DailyCap     int64    `yaml:"daily_cap"`
	Verticals    []string `yaml:"verticals"`
}

func DefaultPolicy() Policy {
	return Policy{StableEngine: "standard"}
}

// LoadPolicy reads the policy file. A missing file yields DefaultPolicy.
func LoadPolicy(path string) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultPolicy(), nil
		}
		return Policy{}, fmt.Errorf("read canary policy %s: %w", path, err)
	}
	return ParsePolicy(data)
}

func ParsePolicy(data []byte) (Policy, error) {
	policy := DefaultPolicy()
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return Policy{}, fmt.Errorf("parse canary policy: %w", err)
	}
	if policy.StableEngine == "" {
		return Policy{}, errors.New("canary policy: stable_engine is required")
	}
	if policy.Enabled && policy.CanaryEngine == "" {
		return Policy{}, errors.New("canary policy: canary_engine is required when enabled")
	}
	if policy.DailyCap < 0 {
		return Policy{}, errors.New("canary policy: daily_cap must not be negative")
	}
	return policy, nil
}

func (p Policy) allowsVertical(vertical string) bool {
	if len(p.Verticals) == 0 {
		return true
	}
	for _, v := range p.Verticals {
		if v == vertical {
			return true
		}
	}
	return false
}
