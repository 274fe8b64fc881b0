package mcp

import (
	"fmt"
	"sort"

	"github.com/samsaffron/toolstream/internal/config"
)

// ServerConfig starts an MCP server over stdio.
type ServerConfig struct {
	Command string
	Args    []string
	Env     map[string]string
}

// Validate checks that the server can be started.
func (c *ServerConfig) Validate() error {
	if c.Command == "" {
		return fmt.Errorf("stdio transport requires command")
	}
	return nil
}

// ServersFromConfig converts the configured server list into a map keyed
// by server name.
func ServersFromConfig(servers []config.MCPServerConfig) (map[string]ServerConfig, error) {
	out := make(map[string]ServerConfig, len(servers))
	for _, s := range servers {
		sc := ServerConfig{Command: s.Command, Args: s.Args, Env: s.Env}
		if err := sc.Validate(); err != nil {
			return nil, fmt.Errorf("mcp server %s: %w", s.Name, err)
		}
		if _, dup := out[s.Name]; dup {
			return nil, fmt.Errorf("mcp server %s configured twice", s.Name)
		}
		out[s.Name] = sc
	}
	return out, nil
}

func sortedNames(servers map[string]ServerConfig) []string {
	names := make([]string, 0, len(servers))
	for name := range servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
