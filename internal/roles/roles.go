// Package roles holds the registry of roles a support account may be granted.
package roles

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed roles.yaml
var defaultRoles []byte

// Role is a named capability level. Higher levels carry more capability;
// administrator-equivalent roles sit at the top.
type Role struct {
	Name  string `yaml:"name" json:"name"`
	Level int    `yaml:"level" json:"level"`
}

// Registry is the set of recognized roles. Grant creation validates its role
// input against this set.
type Registry struct {
	roles map[string]Role
	order []string
}

type registryFile struct {
	Roles []Role `yaml:"roles"`
}

// Default returns the registry built from the embedded role definitions.
func Default() *Registry {
	r, err := LoadFromBytes(defaultRoles)
	if err != nil {
		// The embedded file is part of the build; failing to parse it is a bug.
		panic(fmt.Sprintf("roles: embedded registry invalid: %v", err))
	}
	return r
}

// LoadFromFile reads a YAML role registry from disk, overriding the default.
func LoadFromFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roles file: %w", err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes parses YAML bytes into a Registry.
func LoadFromBytes(data []byte) (*Registry, error) {
	var rf registryFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("parse roles YAML: %w", err)
	}
	if len(rf.Roles) == 0 {
		return nil, fmt.Errorf("roles file defines no roles")
	}

	r := &Registry{roles: make(map[string]Role, len(rf.Roles))}
	for _, role := range rf.Roles {
		if role.Name == "" {
			return nil, fmt.Errorf("role with empty name")
		}
		if _, dup := r.roles[role.Name]; dup {
			return nil, fmt.Errorf("duplicate role %q", role.Name)
		}
		r.roles[role.Name] = role
		r.order = append(r.order, role.Name)
	}
	return r, nil
}

// Lookup returns the role with the given name.
func (r *Registry) Lookup(name string) (Role, bool) {
	role, ok := r.roles[name]
	return role, ok
}

// Names returns the recognized role names in definition order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}
