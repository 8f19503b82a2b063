package conn

import (
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/MrWong99/adagate/internal/htmlui"
	"github.com/MrWong99/adagate/internal/toolhost"
	"github.com/MrWong99/adagate/pkg/provider/ui"
)

// DefaultMaxServers bounds the tool-server list when the server config sets
// no limit.
const DefaultMaxServers = 8

// maxClientIDLen is the longest accepted client identifier.
const maxClientIDLen = 100

// Config is the decoded connection_config payload: everything one tenant
// needs to run its pipeline.
type Config struct {
	ClientID      string      `json:"client_id"`
	AuthToken     string      `json:"auth_token"`
	MCP           MCPConfig   `json:"mcp_config"`
	Visualization VizConfig   `json:"visualization_provider"`
	Preferences   Preferences `json:"preferences"`
}

// MCPConfig configures the tool layer of one connection.
type MCPConfig struct {
	// Model is the chat model for the tool-aware LLM wrapper.
	Model string `json:"model"`

	// APIKeyEnv names the environment variable holding the chat credential.
	APIKeyEnv string `json:"api_key_env"`

	// Servers lists the tool servers to initialize.
	Servers []ServerSpec `json:"servers"`

	// TimeoutSeconds bounds per-server initialization; 0 uses the default.
	TimeoutSeconds float64 `json:"timeout"`

	// MaxServers caps the server list; 0 uses [DefaultMaxServers].
	MaxServers int `json:"max_servers"`
}

// ServerSpec is one tool server entry.
type ServerSpec struct {
	Name           string            `json:"name"`
	URL            string            `json:"url"`
	Transport      string            `json:"transport"`
	Description    string            `json:"description,omitempty"`
	Headers        map[string]string `json:"headers,omitempty"`
	TimeoutSeconds float64           `json:"timeout,omitempty"`
}

// VizConfig selects and parameterises the UI provider.
type VizConfig struct {
	ProviderType   string            `json:"provider_type"`
	APIKeyEnv      string            `json:"api_key_env,omitempty"`
	BaseURL        string            `json:"base_url,omitempty"`
	Model          string            `json:"model,omitempty"`
	TimeoutSeconds float64           `json:"timeout,omitempty"`
	CustomHeaders  map[string]string `json:"custom_headers,omitempty"`
}

// Preferences carries client rendering preferences.
type Preferences struct {
	UIFramework string `json:"ui_framework,omitempty"`
}

// DecodeConfig parses the raw config object of a connection_config frame.
func DecodeConfig(raw json.RawMessage) (Config, error) {
	var cfg Config
	if len(raw) == 0 {
		return cfg, fmt.Errorf("conn: config frame has no config object")
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("conn: decode config: %w", err)
	}
	return cfg, nil
}

// Framework returns the validated UI framework preference.
func (c Config) Framework() string {
	if htmlui.KnownFramework(c.Preferences.UIFramework) {
		return c.Preferences.UIFramework
	}
	return htmlui.DefaultFramework
}

// ToolServers converts the configured MCP server entries into toolhost
// configs.
func (c Config) ToolServers() []toolhost.ServerConfig {
	out := make([]toolhost.ServerConfig, 0, len(c.MCP.Servers))
	for _, s := range c.MCP.Servers {
		timeout := time.Duration(s.TimeoutSeconds * float64(time.Second))
		if timeout <= 0 {
			timeout = time.Duration(c.MCP.TimeoutSeconds * float64(time.Second))
		}
		out = append(out, toolhost.ServerConfig{
			Name:        s.Name,
			URL:         s.URL,
			Transport:   toolhost.Transport(s.Transport),
			Description: s.Description,
			Headers:     s.Headers,
			Timeout:     timeout,
		})
	}
	return out
}

// UIConfig converts the visualization block into a ui provider config.
func (c Config) UIConfig(systemPrompt string) ui.Config {
	return ui.Config{
		ProviderType:  c.Visualization.ProviderType,
		APIKeyEnv:     c.Visualization.APIKeyEnv,
		BaseURL:       c.Visualization.BaseURL,
		Model:         c.Visualization.Model,
		Timeout:       time.Duration(c.Visualization.TimeoutSeconds * float64(time.Second)),
		CustomHeaders: c.Visualization.CustomHeaders,
		Framework:     c.Framework(),
		SystemPrompt:  systemPrompt,
	}
}

// Validate enforces the configuration rules. maxServers ≤ 0 uses the
// config's own MaxServers or [DefaultMaxServers].
func (c Config) Validate(maxServers int) error {
	if c.ClientID == "" {
		return fmt.Errorf("conn: client_id must not be empty")
	}
	if len(c.ClientID) > maxClientIDLen {
		return fmt.Errorf("conn: client_id exceeds %d characters", maxClientIDLen)
	}

	if maxServers <= 0 {
		maxServers = c.MCP.MaxServers
	}
	if maxServers <= 0 {
		maxServers = DefaultMaxServers
	}
	if len(c.MCP.Servers) > maxServers {
		return fmt.Errorf("conn: %d tool servers configured, maximum is %d", len(c.MCP.Servers), maxServers)
	}

	seen := make(map[string]bool, len(c.MCP.Servers))
	for _, s := range c.MCP.Servers {
		if s.Name == "" {
			return fmt.Errorf("conn: tool server with empty name")
		}
		if seen[s.Name] {
			return fmt.Errorf("conn: duplicate tool server name %q", s.Name)
		}
		seen[s.Name] = true

		if !toolhost.Transport(s.Transport).IsValid() {
			return fmt.Errorf("conn: tool server %q has unknown transport %q", s.Name, s.Transport)
		}
		if s.Transport != string(toolhost.TransportStdio) {
			if err := validateServerURL(s.URL); err != nil {
				return fmt.Errorf("conn: tool server %q: %w", s.Name, err)
			}
		}
	}

	if !ui.KnownType(c.Visualization.ProviderType) {
		return fmt.Errorf("conn: unknown visualization provider type %q", c.Visualization.ProviderType)
	}

	for _, envName := range []string{c.MCP.APIKeyEnv, c.Visualization.APIKeyEnv} {
		if envName == "" {
			continue
		}
		if os.Getenv(envName) == "" {
			return fmt.Errorf("conn: credential environment variable %s is empty", envName)
		}
	}
	return nil
}

// validateServerURL enforces scheme and forbidden-host rules on a tool
// server endpoint.
func validateServerURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("empty url")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("url has no host")
	}
	if hostForbidden(host) {
		return fmt.Errorf("host %q is not allowed", host)
	}
	return nil
}

// forbiddenHosts are exact-match loopback and metadata endpoints.
var forbiddenHosts = map[string]bool{
	"localhost":                true,
	"127.0.0.1":                true,
	"::1":                      true,
	"0.0.0.0":                  true,
	"169.254.169.254":          true,
	"metadata.google.internal": true,
}

// forbiddenPrefixes cover the common RFC1918 ranges and link-local space.
var forbiddenPrefixes = []string{
	"10.",
	"192.168.",
	"169.254.",
}

// hostForbidden reports whether host points at loopback, link-local metadata,
// or private address space.
func hostForbidden(host string) bool {
	lower := strings.ToLower(host)
	if forbiddenHosts[lower] {
		return true
	}
	for _, p := range forbiddenPrefixes {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	// 172.16.0.0/12 needs a numeric check.
	if ip := net.ParseIP(lower); ip != nil {
		if v4 := ip.To4(); v4 != nil && v4[0] == 172 && v4[1] >= 16 && v4[1] <= 31 {
			return true
		}
		if ip.IsLoopback() {
			return true
		}
	}
	return false
}
