// Package toolhost provides the per-connection client for external MCP tool
// servers.
//
// Each control-channel connection configures its own set of tool servers; the
// client connects to every server using the official MCP Go SDK
// (github.com/modelcontextprotocol/go-sdk), imports the discovered tools into
// a registry keyed "<server>_<tool>", and dispatches invocations to the owning
// server. Streamable-HTTP servers are called connect-per-invocation so a hung
// server can never wedge a retained session; stdio and websocket servers keep
// their initialized session for the connection's lifetime.
//
// Typical usage:
//
//	c := toolhost.New()
//	c.RegisterBuiltin(toolhost.PlannerTool())
//	c.Initialize(ctx, cfg.Servers)
//	tools := c.ListTools()
//	out, err := c.Invoke(ctx, "crm_lookup_account", `{"id":"acct-1"}`)
//	c.Close()
package toolhost

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/adagate/internal/observe"
	"github.com/MrWong99/adagate/pkg/types"
)

// Transport selects the connection mechanism for a tool server.
type Transport string

const (
	// TransportHTTP communicates via the MCP Streamable HTTP protocol.
	// Sessions are not retained; every invocation opens a fresh connect scope.
	TransportHTTP Transport = "http"

	// TransportWebsocket communicates over a long-lived websocket endpoint.
	// The initialized session is retained and reused across invocations.
	TransportWebsocket Transport = "websocket"

	// TransportStdio spawns a subprocess and communicates over stdin/stdout.
	// The initialized session is retained and reused across invocations.
	TransportStdio Transport = "stdio"
)

// IsValid reports whether t is a recognised transport.
func (t Transport) IsValid() bool {
	return t == TransportHTTP || t == TransportWebsocket || t == TransportStdio
}

// ServerConfig describes one tool server from the connection configuration.
type ServerConfig struct {
	// Name is the unique server name; it prefixes every imported tool key.
	Name string

	// URL is the endpoint for http and websocket transports.
	URL string

	// Transport selects the connection mechanism.
	Transport Transport

	// Description is optional free text carried from the client config.
	Description string

	// Headers are extra HTTP headers sent on http-transport requests.
	Headers map[string]string

	// Command is the executable line for stdio transport ("path arg1 arg2").
	Command string

	// Env holds additional environment variables for stdio subprocesses.
	Env map[string]string

	// Timeout bounds this server's initialization; zero means the client default.
	Timeout time.Duration
}

// Default timeouts. Initialization covers connect + tool listing per server;
// discovery bounds the listing inside an http connect scope; invoke bounds a
// single tool call including the connect scope for http servers.
const (
	DefaultInitTimeout      = 30 * time.Second
	DefaultDiscoveryTimeout = 10 * time.Second
	DefaultInvokeTimeout    = 20 * time.Second
)

// ToolKey builds the registry key for a tool on a named server.
func ToolKey(server, tool string) string {
	return server + "_" + tool
}

// toolEntry holds the registry record for a single tool.
type toolEntry struct {
	def    types.ToolDefinition // def.Name is the namespaced key
	server string
	name   string // original tool name on the server

	// builtinFn is non-nil for in-process tools registered via RegisterBuiltin.
	builtinFn func(ctx context.Context, args string) (string, error)
}

// serverEntry holds a configured server and, for retained transports, its session.
type serverEntry struct {
	cfg     ServerConfig
	session *mcpsdk.ClientSession // nil for http transport
}

// Client is a per-connection tool server client.
//
// All methods are safe for concurrent use; invocations on the same client
// never share mutable call state, so a hung server blocks only its own call.
// The zero value is not usable; create instances with [New].
type Client struct {
	mu      sync.RWMutex
	tools   map[string]toolEntry   // key: namespaced tool key
	servers map[string]serverEntry // key: server name

	sdk *mcpsdk.Client
	log *slog.Logger
	met *observe.Metrics

	initTimeout      time.Duration
	discoveryTimeout time.Duration
	invokeTimeout    time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger; the default is slog.Default.
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithMetrics overrides the package-default metrics instance.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Client) { c.met = m }
}

// WithInitTimeout overrides the per-server initialization timeout.
func WithInitTimeout(d time.Duration) Option {
	return func(c *Client) { c.initTimeout = d }
}

// WithInvokeTimeout overrides the per-call invocation timeout.
func WithInvokeTimeout(d time.Duration) Option {
	return func(c *Client) { c.invokeTimeout = d }
}

// WithDiscoveryTimeout overrides the tool-listing timeout for http servers.
func WithDiscoveryTimeout(d time.Duration) Option {
	return func(c *Client) { c.discoveryTimeout = d }
}

// New creates a ready-to-use Client.
func New(opts ...Option) *Client {
	c := &Client{
		tools:   make(map[string]toolEntry),
		servers: make(map[string]serverEntry),
		sdk: mcpsdk.NewClient(
			&mcpsdk.Implementation{Name: "adagate-toolhost", Version: "1.0.0"},
			nil,
		),
		log:              slog.Default(),
		met:              observe.DefaultMetrics(),
		initTimeout:      DefaultInitTimeout,
		discoveryTimeout: DefaultDiscoveryTimeout,
		invokeTimeout:    DefaultInvokeTimeout,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Initialize connects to every configured server and imports its tool
// catalogue. A server that fails to initialize is logged and skipped; the
// remaining servers stay usable. Initialize returns an error only when ctx is
// cancelled before all servers were attempted.
func (c *Client) Initialize(ctx context.Context, servers []ServerConfig) error {
	for _, cfg := range servers {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("toolhost: initialize aborted: %w", err)
		}
		if err := c.initServer(ctx, cfg); err != nil {
			c.log.Warn("tool server initialization failed, skipping",
				"server", cfg.Name, "transport", cfg.Transport, "error", err)
			continue
		}
		c.log.Info("tool server initialized", "server", cfg.Name, "transport", cfg.Transport)
	}
	return nil
}

// initServer connects to one server, discovers its tools, and registers them.
func (c *Client) initServer(ctx context.Context, cfg ServerConfig) error {
	if cfg.Name == "" {
		return fmt.Errorf("toolhost: server config must have a non-empty name")
	}
	if !cfg.Transport.IsValid() {
		return fmt.Errorf("toolhost: unknown transport %q for server %q", cfg.Transport, cfg.Name)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = c.initTimeout
	}
	initCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		discovered []mcpsdk.Tool
		session    *mcpsdk.ClientSession
		err        error
	)

	switch cfg.Transport {
	case TransportHTTP:
		// Connect-per-invocation style: discover inside a scope, then close.
		discovered, err = c.discoverHTTP(initCtx, cfg)
	default:
		// Retained session for stdio and websocket.
		session, err = c.connect(initCtx, cfg)
		if err == nil {
			discovered, err = listTools(initCtx, session)
			if err != nil {
				_ = session.Close()
				session = nil
			}
		}
	}
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Replace any previous registration for this server name.
	if old, ok := c.servers[cfg.Name]; ok {
		if old.session != nil {
			_ = old.session.Close()
		}
		for key, t := range c.tools {
			if t.server == cfg.Name {
				delete(c.tools, key)
			}
		}
	}

	c.servers[cfg.Name] = serverEntry{cfg: cfg, session: session}
	for _, tool := range discovered {
		key := ToolKey(cfg.Name, tool.Name)
		c.tools[key] = toolEntry{
			def: types.ToolDefinition{
				Name:        key,
				Description: tool.Description,
				Parameters:  schemaToMap(tool.InputSchema),
			},
			server: cfg.Name,
			name:   tool.Name,
		}
	}
	return nil
}

// discoverHTTP opens a connect scope against an http server, lists the tools,
// and closes the scope.
func (c *Client) discoverHTTP(ctx context.Context, cfg ServerConfig) ([]mcpsdk.Tool, error) {
	discCtx, cancel := context.WithTimeout(ctx, c.discoveryTimeout)
	defer cancel()

	session, err := c.connect(discCtx, cfg)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	return listTools(discCtx, session)
}

// connect establishes a single session to the server described by cfg.
func (c *Client) connect(ctx context.Context, cfg ServerConfig) (*mcpsdk.ClientSession, error) {
	var transport mcpsdk.Transport

	switch cfg.Transport {
	case TransportStdio:
		executable, args := splitCommand(cfg.Command)
		if executable == "" {
			return nil, fmt.Errorf("toolhost: stdio server %q requires a non-empty command", cfg.Name)
		}
		cmd := exec.CommandContext(ctx, executable, args...)
		cmd.Env = stdioEnv(cfg.Env)
		transport = &mcpsdk.CommandTransport{Command: cmd}

	case TransportHTTP, TransportWebsocket:
		if cfg.URL == "" {
			return nil, fmt.Errorf("toolhost: %s server %q requires a non-empty URL", cfg.Transport, cfg.Name)
		}
		st := &mcpsdk.StreamableClientTransport{Endpoint: normalizeEndpoint(cfg.URL)}
		if len(cfg.Headers) > 0 {
			st.HTTPClient = &http.Client{Transport: &headerTransport{headers: cfg.Headers}}
		}
		transport = st

	default:
		return nil, fmt.Errorf("toolhost: unknown transport %q", cfg.Transport)
	}

	session, err := c.sdk.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("toolhost: connect to server %q: %w", cfg.Name, err)
	}
	return session, nil
}

// listTools drains the tool iterator of a session.
func listTools(ctx context.Context, session *mcpsdk.ClientSession) ([]mcpsdk.Tool, error) {
	var tools []mcpsdk.Tool
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			return nil, fmt.Errorf("toolhost: list tools: %w", err)
		}
		tools = append(tools, *tool)
	}
	return tools, nil
}

// ListTools returns every registered tool descriptor, sorted by key.
func (c *Client) ListTools() []types.ToolDefinition {
	c.mu.RLock()
	defer c.mu.RUnlock()

	defs := make([]types.ToolDefinition, 0, len(c.tools))
	for _, t := range c.tools {
		defs = append(defs, t.def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Invoke calls the tool identified by its namespaced key with a JSON-encoded
// args object and returns the concatenated text content of the result.
//
// Each invocation is bounded by the invoke timeout. For http servers a fresh
// connect scope is opened, initialized, called, and closed; for retained
// transports the stored session is reused. An application-level tool error is
// returned as a Go error carrying the tool's error text. Every invocation
// feeds the tool-call counter and execution-latency histogram.
func (c *Client) Invoke(ctx context.Context, key string, args string) (string, error) {
	start := time.Now()
	out, err := c.invoke(ctx, key, args)

	status := "ok"
	if err != nil {
		status = "error"
	}
	c.met.RecordToolCall(ctx, key, status)
	c.met.ToolExecutionDuration.Record(ctx, time.Since(start).Seconds())
	return out, err
}

func (c *Client) invoke(ctx context.Context, key string, args string) (string, error) {
	c.mu.RLock()
	entry, ok := c.tools[key]
	var srv serverEntry
	if ok {
		srv = c.servers[entry.server]
	}
	c.mu.RUnlock()

	if !ok {
		return "", fmt.Errorf("toolhost: tool %q not found", key)
	}

	if entry.builtinFn != nil {
		return entry.builtinFn(ctx, args)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.invokeTimeout)
	defer cancel()

	var argsMap map[string]any
	if args != "" && args != "{}" {
		if err := json.Unmarshal([]byte(args), &argsMap); err != nil {
			return "", fmt.Errorf("toolhost: invalid args JSON for tool %q: %w", key, err)
		}
	}

	session := srv.session
	if session == nil {
		// Connect-per-invocation for http transport.
		fresh, err := c.connect(callCtx, srv.cfg)
		if err != nil {
			return "", err
		}
		defer fresh.Close()
		session = fresh
	}

	result, err := session.CallTool(callCtx, &mcpsdk.CallToolParams{
		Name:      entry.name,
		Arguments: argsMap,
	})
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("toolhost: tool %q timed out after %s: %w", key, c.invokeTimeout, err)
		}
		return "", fmt.Errorf("toolhost: call to tool %q failed: %w", key, err)
	}

	var sb strings.Builder
	for _, content := range result.Content {
		if tc, ok := content.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	if result.IsError {
		return "", fmt.Errorf("toolhost: tool %q returned an error: %s", key, sb.String())
	}
	return sb.String(), nil
}

// RegisterBuiltin registers an in-process tool under the "builtin" server
// namespace. Invoke calls the handler directly without any transport.
// A tool with the same name replaces the previous registration.
func (c *Client) RegisterBuiltin(def types.ToolDefinition, handler func(ctx context.Context, args string) (string, error)) error {
	if def.Name == "" {
		return fmt.Errorf("toolhost: builtin tool must have a non-empty name")
	}
	if handler == nil {
		return fmt.Errorf("toolhost: builtin tool %q must have a non-nil handler", def.Name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.tools[def.Name] = toolEntry{
		def:       def,
		server:    builtinServerName,
		name:      def.Name,
		builtinFn: handler,
	}
	return nil
}

// builtinServerName is the pseudo server name used for in-process tools.
const builtinServerName = "builtin"

// Close closes every retained server session and clears the registry.
// After Close returns the Client must not be used again.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for name, srv := range c.servers {
		if srv.session != nil {
			if err := srv.session.Close(); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("toolhost: close server %q: %w", name, err)
			}
		}
		delete(c.servers, name)
	}
	c.tools = make(map[string]toolEntry)
	return firstErr
}

// normalizeEndpoint rewrites ws/wss URLs to their http/https equivalents; the
// streamable transport dials over HTTP even when the config declared a
// websocket endpoint.
func normalizeEndpoint(url string) string {
	switch {
	case strings.HasPrefix(url, "ws://"):
		return "http://" + strings.TrimPrefix(url, "ws://")
	case strings.HasPrefix(url, "wss://"):
		return "https://" + strings.TrimPrefix(url, "wss://")
	}
	return url
}

// headerTransport injects static headers into every outgoing request.
type headerTransport struct {
	headers map[string]string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	for k, v := range t.headers {
		clone.Header.Set(k, v)
	}
	return http.DefaultTransport.RoundTrip(clone)
}

// schemaToMap converts any schema value to a map[string]any.
func schemaToMap(schema any) map[string]any {
	if schema == nil {
		return map[string]any{"type": "object"}
	}
	if m, ok := schema.(map[string]any); ok {
		return m
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]any{"type": "object"}
	}
	return m
}

// stdioEnv merges extra variables over the inherited process environment.
// With no extras the subprocess inherits the environment unchanged.
func stdioEnv(extra map[string]string) []string {
	if len(extra) == 0 {
		return nil
	}
	env := os.Environ()
	for k, v := range extra {
		env = append(env, k+"="+v)
	}
	return env
}

// splitCommand splits a command string into executable and arguments.
// e.g. "/bin/foo --bar baz" → ("/bin/foo", ["--bar", "baz"]).
func splitCommand(command string) (executable string, args []string) {
	parts := strings.Fields(command)
	if len(parts) == 0 {
		return "", nil
	}
	return parts[0], parts[1:]
}
