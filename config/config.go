// Package config loads the agentdesk YAML configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bazelment/agentdesk/acp"
)

// EnvConfigPath names the environment variable consulted when no --config
// flag is given.
const EnvConfigPath = "AGENTDESK_CONFIG"

// Config is the top-level configuration file.
type Config struct {
	DefaultAgent     string      `yaml:"default_agent,omitempty" jsonschema:"description=Agent used when --agent is not given"`
	PermissionPolicy string      `yaml:"permission_policy,omitempty" jsonschema:"enum=ask,enum=bypass,enum=read-only"`
	Agents           []Agent     `yaml:"agents" jsonschema:"required"`
	MCPServers       []MCPServer `yaml:"mcp_servers,omitempty" jsonschema:"description=Tool servers offered to every agent"`
	Registry         Registry    `yaml:"registry,omitempty"`
	Session          Session     `yaml:"session,omitempty"`
}

// Agent describes one ACP agent executable.
type Agent struct {
	Env        map[string]string `yaml:"env,omitempty"`
	Name       string            `yaml:"name" jsonschema:"required"`
	Command    string            `yaml:"command" jsonschema:"required"`
	AuthMethod string            `yaml:"auth_method,omitempty" jsonschema:"description=Auth method id to use when the agent requires auth"`
	Mode       string            `yaml:"mode,omitempty"`
	Model      string            `yaml:"model,omitempty"`
	Args       []string          `yaml:"args,omitempty"`
	MCPServers []MCPServer       `yaml:"mcp_servers,omitempty"`
	SkipAuth   bool              `yaml:"skip_auth,omitempty" jsonschema:"description=Create sessions without authenticating"`
}

// MCPServer is a tool server handed to the agent when a session is created.
type MCPServer struct {
	Env     map[string]string `yaml:"env,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Name    string            `yaml:"name" jsonschema:"required"`
	Type    string            `yaml:"type" jsonschema:"required,enum=stdio,enum=http,enum=sse"`
	Command string            `yaml:"command,omitempty"`
	URL     string            `yaml:"url,omitempty"`
	Args    []string          `yaml:"args,omitempty"`
}

// Registry tunes the session cache.
type Registry struct {
	Capacity     int      `yaml:"capacity,omitempty" jsonschema:"minimum=1"`
	DrainTimeout Duration `yaml:"drain_timeout,omitempty"`
	CloseTimeout Duration `yaml:"close_timeout,omitempty"`
}

// Session tunes each agent session.
type Session struct {
	CancelTimeout   Duration `yaml:"cancel_timeout,omitempty"`
	EventBufferSize int      `yaml:"event_buffer,omitempty" jsonschema:"minimum=1"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	c := &Config{
		DefaultAgent: "gemini",
		Agents: []Agent{{
			Name:    "gemini",
			Command: "gemini",
			Args:    []string{"--experimental-acp"},
		}},
	}
	c.applyDefaults()
	return c
}

// Path resolves the config file location: flagPath if set, else
// $AGENTDESK_CONFIG, else ~/.agentdesk/config.yaml. explicit reports whether
// the location was chosen by the user.
func Path(flagPath string) (path string, explicit bool, err error) {
	if flagPath != "" {
		return flagPath, true, nil
	}
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p, true, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", false, fmt.Errorf("failed to find home directory: %w", err)
	}
	return filepath.Join(home, ".agentdesk", "config.yaml"), false, nil
}

// Load reads the file Path(flagPath) resolves to. A missing default file
// yields Default(); a missing explicit file is an error.
func Load(flagPath string) (*Config, error) {
	path, explicit, err := Path(flagPath)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) && !explicit {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a configuration document.
func Parse(data []byte) (*Config, error) {
	var c Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if len(c.Agents) == 0 {
		c.Agents = Default().Agents
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.DefaultAgent == "" && len(c.Agents) > 0 {
		c.DefaultAgent = c.Agents[0].Name
	}
	if c.PermissionPolicy == "" {
		c.PermissionPolicy = "ask"
	}
	if c.Registry.Capacity == 0 {
		c.Registry.Capacity = 20
	}
	if c.Registry.DrainTimeout == 0 {
		c.Registry.DrainTimeout = Duration(5 * time.Second)
	}
	if c.Registry.CloseTimeout == 0 {
		c.Registry.CloseTimeout = Duration(3 * time.Second)
	}
	if c.Session.CancelTimeout == 0 {
		c.Session.CancelTimeout = Duration(5 * time.Second)
	}
	if c.Session.EventBufferSize == 0 {
		c.Session.EventBufferSize = 100
	}
}

// Validate reports every problem in c at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Registry.Capacity < 1 {
		errs = append(errs, fmt.Errorf("registry.capacity must be at least 1, got %d", c.Registry.Capacity))
	}
	if c.Session.EventBufferSize < 1 {
		errs = append(errs, fmt.Errorf("session.event_buffer must be at least 1, got %d", c.Session.EventBufferSize))
	}
	switch c.PermissionPolicy {
	case "ask", "bypass", "read-only":
	default:
		errs = append(errs, fmt.Errorf("unknown permission_policy %q", c.PermissionPolicy))
	}
	seen := make(map[string]bool)
	for i, a := range c.Agents {
		switch {
		case a.Name == "":
			errs = append(errs, fmt.Errorf("agents[%d]: name is required", i))
		case seen[a.Name]:
			errs = append(errs, fmt.Errorf("agents[%d]: duplicate agent name %q", i, a.Name))
		}
		seen[a.Name] = true
		if a.Command == "" {
			errs = append(errs, fmt.Errorf("agents[%d]: command is required", i))
		}
		for j, s := range a.MCPServers {
			if err := s.validate(); err != nil {
				errs = append(errs, fmt.Errorf("agents[%d].mcp_servers[%d]: %w", i, j, err))
			}
		}
	}
	for i, s := range c.MCPServers {
		if err := s.validate(); err != nil {
			errs = append(errs, fmt.Errorf("mcp_servers[%d]: %w", i, err))
		}
	}
	if c.DefaultAgent != "" && !seen[c.DefaultAgent] {
		errs = append(errs, fmt.Errorf("default_agent %q is not a configured agent", c.DefaultAgent))
	}
	return errors.Join(errs...)
}

// Agent returns the agent named name, or the default agent when name is
// empty.
func (c *Config) Agent(name string) (*Agent, error) {
	if name == "" {
		name = c.DefaultAgent
	}
	for i := range c.Agents {
		if c.Agents[i].Name == name {
			return &c.Agents[i], nil
		}
	}
	return nil, fmt.Errorf("unknown agent %q", name)
}

// SessionMCPServers returns the servers to pass to a session of a: the
// global servers followed by a's own.
func (c *Config) SessionMCPServers(a *Agent) []acp.MCPServerConfig {
	out := make([]acp.MCPServerConfig, 0, len(c.MCPServers)+len(a.MCPServers))
	for _, s := range c.MCPServers {
		out = append(out, s.ACP())
	}
	for _, s := range a.MCPServers {
		out = append(out, s.ACP())
	}
	return out
}

func (s MCPServer) validate() error {
	if s.Name == "" {
		return errors.New("name is required")
	}
	switch acp.MCPTransportType(s.Type) {
	case acp.MCPTransportStdio:
		if s.Command == "" {
			return fmt.Errorf("stdio server %q needs a command", s.Name)
		}
	case acp.MCPTransportHTTP, acp.MCPTransportSSE:
		if s.URL == "" {
			return fmt.Errorf("%s server %q needs a url", s.Type, s.Name)
		}
	default:
		return &acp.DecodingError{Field: "type", Value: s.Type}
	}
	return nil
}

// ACP converts s to its wire form. s must be valid.
func (s MCPServer) ACP() acp.MCPServerConfig {
	switch acp.MCPTransportType(s.Type) {
	case acp.MCPTransportHTTP:
		return acp.NewHTTPMCPServer(s.Name, s.URL, headers(s.Headers))
	case acp.MCPTransportSSE:
		return acp.NewSSEMCPServer(s.Name, s.URL, headers(s.Headers))
	default:
		return acp.NewStdioMCPServer(s.Name, s.Command, s.Args, envVars(s.Env))
	}
}

func envVars(m map[string]string) []acp.EnvVariable {
	out := make([]acp.EnvVariable, 0, len(m))
	for _, k := range sortedKeys(m) {
		out = append(out, acp.EnvVariable{Name: k, Value: m[k]})
	}
	return out
}

func headers(m map[string]string) []acp.HTTPHeader {
	out := make([]acp.HTTPHeader, 0, len(m))
	for _, k := range sortedKeys(m) {
		out = append(out, acp.HTTPHeader{Name: k, Value: m[k]})
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
