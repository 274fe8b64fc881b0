package mcp

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/samsaffron/toolstream/internal/telemetry"
	"github.com/samsaffron/toolstream/internal/toolstream"
)

// ToolNameSeparator joins a server name and a tool name in the names of
// discovered tools, as in "github__search_issues".
const ToolNameSeparator = "__"

// ServerStatus represents the current state of an MCP server.
type ServerStatus string

const (
	StatusStopped ServerStatus = "stopped"
	StatusReady   ServerStatus = "ready"
	StatusFailed  ServerStatus = "failed"
)

// ServerState holds the state of a managed MCP server.
type ServerState struct {
	Name   string
	Status ServerStatus
	Error  error
}

type managedServer struct {
	config ServerConfig
	once   sync.Once
	client *Client
	err    error
}

// Manager starts configured servers on first use, one client per server.
type Manager struct {
	logger  telemetry.Logger
	servers map[string]*managedServer
	names   []string

	// connect starts a client; tests swap in an in-memory transport.
	connect func(ctx context.Context, c *Client) error

	mu       sync.Mutex
	baseCtx  context.Context
	stopBase context.CancelFunc
}

// NewManager creates a manager for servers. Nothing is started until a
// server is first used.
func NewManager(servers map[string]ServerConfig, logger telemetry.Logger) *Manager {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		logger:   logger,
		servers:  make(map[string]*managedServer, len(servers)),
		names:    sortedNames(servers),
		connect:  func(ctx context.Context, c *Client) error { return c.Start(ctx) },
		baseCtx:  ctx,
		stopBase: cancel,
	}
	for name, cfg := range servers {
		m.servers[name] = &managedServer{config: cfg}
	}
	return m
}

// Servers returns the configured server names in sorted order.
func (m *Manager) Servers() []string {
	return append([]string(nil), m.names...)
}

// Client returns the running client for name, starting it if needed. A
// server that failed to start is not retried.
func (m *Manager) Client(ctx context.Context, name string) (*Client, error) {
	s, ok := m.servers[name]
	if !ok {
		return nil, fmt.Errorf("unknown MCP server: %s", name)
	}
	s.once.Do(func() {
		client := NewClient(name, s.config)
		// The server process outlives the request that started it.
		if err := m.connect(m.baseCtx, client); err != nil {
			m.mu.Lock()
			s.err = err
			m.mu.Unlock()
			m.logger.Error(ctx, "failed to start MCP server", "server", name, "err", err)
			return
		}
		m.logger.Info(ctx, "started MCP server", "server", name, "tools", len(client.Tools()))
		m.mu.Lock()
		s.client = client
		m.mu.Unlock()
	})
	if s.err != nil {
		return nil, s.err
	}
	return s.client, nil
}

// Definitions starts every server and returns its tools as custom tool
// definitions named "<server>__<tool>". Servers that fail to start are
// logged and skipped.
func (m *Manager) Definitions(ctx context.Context) []toolstream.CustomToolDefinition {
	var defs []toolstream.CustomToolDefinition
	for _, name := range m.names {
		client, err := m.Client(ctx, name)
		if err != nil {
			continue
		}
		for _, tool := range client.Tools() {
			defs = append(defs, toolstream.CustomToolDefinition{
				Name:        name + ToolNameSeparator + tool.Name,
				Description: fmt.Sprintf("[%s] %s", name, tool.Description),
				Schema:      tool.Schema,
			})
		}
	}
	return defs
}

// CallTool calls tool on server, starting the server if needed.
func (m *Manager) CallTool(ctx context.Context, server, tool string, args map[string]any) (string, error) {
	client, err := m.Client(ctx, server)
	if err != nil {
		return "", err
	}
	return client.CallTool(ctx, tool, args)
}

// CallQualified calls a tool by its "<server>__<tool>" name.
func (m *Manager) CallQualified(ctx context.Context, fullName string, args map[string]any) (string, error) {
	server, tool := ParseToolName(fullName)
	if server == "" {
		return "", fmt.Errorf("invalid MCP tool name: %s (expected server%stool)", fullName, ToolNameSeparator)
	}
	return m.CallTool(ctx, server, tool, args)
}

// ParseToolName splits a qualified tool name into server and tool names.
// The server name is empty when fullName is not qualified.
func ParseToolName(fullName string) (server, tool string) {
	if i := strings.Index(fullName, ToolNameSeparator); i > 0 {
		return fullName[:i], fullName[i+len(ToolNameSeparator):]
	}
	return "", fullName
}

// States returns the state of every configured server.
func (m *Manager) States() []ServerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	states := make([]ServerState, 0, len(m.names))
	for _, name := range m.names {
		s := m.servers[name]
		st := ServerState{Name: name, Status: StatusStopped}
		switch {
		case s.client != nil:
			st.Status = StatusReady
		case s.err != nil:
			st.Status = StatusFailed
			st.Error = s.err
		}
		states = append(states, st)
	}
	return states
}

// StopAll closes every running client.
func (m *Manager) StopAll() {
	m.mu.Lock()
	var clients []*Client
	for _, s := range m.servers {
		if s.client != nil {
			clients = append(clients, s.client)
		}
	}
	m.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}
	m.stopBase()
}
