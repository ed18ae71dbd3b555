package acp

import (
	"encoding/json"
	"fmt"
)

// MCPTransportType is the discriminator of an MCP server configuration.
type MCPTransportType string

const (
	MCPTransportStdio MCPTransportType = "stdio"
	MCPTransportHTTP  MCPTransportType = "http"
	MCPTransportSSE   MCPTransportType = "sse"
)

// MCPServer is one transport variant of an MCP server configuration:
// *StdioMCPServer, *HTTPMCPServer or *SSEMCPServer.
type MCPServer interface {
	TransportType() MCPTransportType
	ServerName() string
}

// MCPServerConfig is a tool server the agent should connect to. Exactly one
// transport variant is held.
type MCPServerConfig struct {
	Server MCPServer
}

// EnvVariable is one environment variable for a stdio server.
type EnvVariable struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// HTTPHeader is one header sent to an http or sse server.
type HTTPHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// StdioMCPServer is launched by the agent as a subprocess.
type StdioMCPServer struct {
	Meta    map[string]interface{}
	Name    string
	Command string
	Args    []string
	Env     []EnvVariable
}

func (*StdioMCPServer) TransportType() MCPTransportType { return MCPTransportStdio }
func (s *StdioMCPServer) ServerName() string { return s.Name }

// HTTPMCPServer is reached over streamable HTTP.
type HTTPMCPServer struct {
	Meta    map[string]interface{}
	Name    string
	URL     string
	Headers []HTTPHeader
}

func (*HTTPMCPServer) TransportType() MCPTransportType { return MCPTransportHTTP }
func (s *HTTPMCPServer) ServerName() string { return s.Name }

// SSEMCPServer is reached over server-sent events.
type SSEMCPServer struct {
	Meta    map[string]interface{}
	Name    string
	URL     string
	Headers []HTTPHeader
}

func (*SSEMCPServer) TransportType() MCPTransportType { return MCPTransportSSE }
func (s *SSEMCPServer) ServerName() string { return s.Name }

// NewStdioMCPServer wraps a stdio variant.
func NewStdioMCPServer(name, command string, args []string, env []EnvVariable) MCPServerConfig {
	return MCPServerConfig{Server: &StdioMCPServer{Name: name, Command: command, Args: args, Env: env}}
}

// NewHTTPMCPServer wraps an http variant.
func NewHTTPMCPServer(name, url string, headers []HTTPHeader) MCPServerConfig {
	return MCPServerConfig{Server: &HTTPMCPServer{Name: name, URL: url, Headers: headers}}
}

// NewSSEMCPServer wraps an sse variant.
func NewSSEMCPServer(name, url string, headers []HTTPHeader) MCPServerConfig {
	return MCPServerConfig{Server: &SSEMCPServer{Name: name, URL: url, Headers: headers}}
}

// Wire shapes. Lists are always emitted because agents treat them as required.
type (
	mcpTag struct {
		Type MCPTransportType `json:"type"`
	}
	stdioWire struct {
		Meta    map[string]interface{} `json:"_meta,omitempty"`
		Type    MCPTransportType       `json:"type"`
		Name    string                 `json:"name"`
		Command string                 `json:"command"`
		Args    []string               `json:"args"`
		Env     []EnvVariable          `json:"env"`
	}
	remoteWire struct {
		Meta    map[string]interface{} `json:"_meta,omitempty"`
		Type    MCPTransportType       `json:"type"`
		Name    string                 `json:"name"`
		URL     string                 `json:"url"`
		Headers []HTTPHeader           `json:"headers"`
	}
)

// MarshalJSON always writes the "type" discriminator.
func (c MCPServerConfig) MarshalJSON() ([]byte, error) {
	switch s := c.Server.(type) {
	case *StdioMCPServer:
		return json.Marshal(stdioWire{
			Meta:    s.Meta,
			Type:    MCPTransportStdio,
			Name:    s.Name,
			Command: s.Command,
			Args:    nonNil(s.Args),
			Env:     nonNil(s.Env),
		})
	case *HTTPMCPServer:
		return json.Marshal(remoteWire{Meta: s.Meta, Type: MCPTransportHTTP, Name: s.Name, URL: s.URL, Headers: nonNil(s.Headers)})
	case *SSEMCPServer:
		return json.Marshal(remoteWire{Meta: s.Meta, Type: MCPTransportSSE, Name: s.Name, URL: s.URL, Headers: nonNil(s.Headers)})
	case nil:
		return nil, fmt.Errorf("mcp server config has no transport")
	default:
		return nil, &DecodingError{Field: "mcp server type", Value: string(s.TransportType())}
	}
}

// UnmarshalJSON reads the "type" discriminator first and dispatches on it.
// Unknown or missing types fail with a *DecodingError.
func (c *MCPServerConfig) UnmarshalJSON(data []byte) error {
	var tag mcpTag
	if err := json.Unmarshal(data, &tag); err != nil {
		return err
	}
	switch tag.Type {
	case MCPTransportStdio:
		var w stdioWire
		if err := json.Unmarshal(data, &w); err != nil {
			return err
		}
		c.Server = &StdioMCPServer{
			Meta:    w.Meta,
			Name:    w.Name,
			Command: w.Command,
			Args:    nilIfEmpty(w.Args),
			Env:     nilIfEmpty(w.Env),
		}
	case MCPTransportHTTP, MCPTransportSSE:
		var w remoteWire
		if err := json.Unmarshal(data, &w); err != nil {
			return err
		}
		if tag.Type == MCPTransportHTTP {
			c.Server = &HTTPMCPServer{Meta: w.Meta, Name: w.Name, URL: w.URL, Headers: nilIfEmpty(w.Headers)}
		} else {
			c.Server = &SSEMCPServer{Meta: w.Meta, Name: w.Name, URL: w.URL, Headers: nilIfEmpty(w.Headers)}
		}
	default:
		return &DecodingError{Field: "mcp server type", Value: string(tag.Type)}
	}
	return nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func nilIfEmpty[T any](s []T) []T {
	if len(s) == 0 {
		return nil
	}
	return s
}
