// Package config loads the YAML bootstrap file describing which
// listener instances to create at process start. This is ambient
// process-bootstrap plumbing, not the management surface itself — no
// live reconfiguration flows through it; once loaded, all further
// changes go through the manager's operations (spec §1: the
// management HTTP/REST surface is an external collaborator).
package config

import (
	"fmt"
	"net"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/SametHaymana/Proxier/internal/socks5"
)

// UserSpec seeds one user into a listener's user set at bootstrap.
type UserSpec struct {
	Name     string `yaml:"name"`
	Password string `yaml:"password"`
}

// ListenerSpec describes one listener instance to create at bootstrap.
type ListenerSpec struct {
	Port              uint16     `yaml:"port"`
	AllowedAuthMethods []string  `yaml:"allowed_auth_methods"`
	MaxBandwidth      uint64     `yaml:"max_bandwidth"`
	Users             []UserSpec `yaml:"users"`
	BlockedAddresses  []string   `yaml:"blocked_addresses"`
}

// Config is the top-level YAML bootstrap document.
type Config struct {
	Listeners []ListenerSpec `yaml:"listeners"`
}

// ParseAuthMethod maps a config string to its wire auth-method byte.
func ParseAuthMethod(s string) (socks5.AuthMethod, error) {
	switch s {
	case "no_auth":
		return socks5.AuthNoAuth, nil
	case "gssapi":
		return socks5.AuthGSSAPI, nil
	case "username_password":
		return socks5.AuthUsernamePassword, nil
	default:
		return 0, fmt.Errorf("config: unknown auth method %q", s)
	}
}

// Load reads and validates the YAML configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if len(cfg.Listeners) == 0 {
		return nil, fmt.Errorf("config: at least one listener is required")
	}

	seenPorts := make(map[uint16]struct{}, len(cfg.Listeners))
	for i, l := range cfg.Listeners {
		if l.Port == 0 {
			return nil, fmt.Errorf("config: listeners[%d]: port is required", i)
		}
		if _, dup := seenPorts[l.Port]; dup {
			return nil, fmt.Errorf("config: listeners[%d]: duplicate port %d", i, l.Port)
		}
		seenPorts[l.Port] = struct{}{}

		for _, m := range l.AllowedAuthMethods {
			if _, err := ParseAuthMethod(m); err != nil {
				return nil, fmt.Errorf("config: listeners[%d]: %w", i, err)
			}
		}

		for _, addr := range l.BlockedAddresses {
			if net.ParseIP(addr) == nil {
				return nil, fmt.Errorf("config: listeners[%d]: invalid blocked address %q", i, addr)
			}
		}
	}

	return &cfg, nil
}
