package prompt

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadPersonaFile reads a persona from a YAML file.
func LoadPersonaFile(path string) (Persona, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Persona{}, fmt.Errorf("read persona file: %w", err)
	}
	var p Persona
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Persona{}, fmt.Errorf("parse persona file %s: %w", path, err)
	}
	return p, nil
}

// Overlay returns p with every non-empty field of o applied on top.
// Priming is enabled when either side enables it.
func (p Persona) Overlay(o Persona) Persona {
	if o.Name != "" {
		p.Name = o.Name
	}
	if o.Template != "" {
		p.Template = o.Template
	}
	if o.Description != "" {
		p.Description = o.Description
	}
	if o.Rules != "" {
		p.Rules = o.Rules
	}
	if o.Examples != "" {
		p.Examples = o.Examples
	}
	if o.Context != "" {
		p.Context = o.Context
	}
	if len(o.Exchanges) > 0 {
		p.Exchanges = o.Exchanges
	}
	p.Priming = p.Priming || o.Priming
	return p
}
