package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"stockripper/internal/domain"
	"stockripper/internal/infra/config"
	"stockripper/internal/infra/tracer"
)

const clientVersion = "1.0.0"

// catalogEntry pairs a discovered tool with its compiled argument schema.
// schema is nil when the tool declares no input shape or the shape fails to
// compile; invocation then skips local validation.
type catalogEntry struct {
	tool   domain.Tool
	schema *jsonschema.Schema
}

// Conn owns the lifecycle of a single tool provider: channel, handshake,
// catalog, invocation, teardown. It is owned exclusively by its Pool.
//
// State transitions:
//
//	Disconnected -> Connecting -> Ready | Failed
//	any          -> Closed
//
// Failed is terminal for this instance. Close is idempotent.
type Conn struct {
	spec     domain.ProviderSpec
	timeouts config.TimeoutsConfig
	logger   *slog.Logger
	dialer   dialFunc

	mu      sync.RWMutex
	state   domain.ConnState
	client  rpcClient
	catalog []domain.Tool
	tools   map[string]*catalogEntry
	lastErr error

	closeOnce sync.Once
}

// NewConn creates a connection in the Disconnected state. The spec must
// already be validated by the pool.
func NewConn(spec domain.ProviderSpec, timeouts config.TimeoutsConfig, logger *slog.Logger) *Conn {
	return &Conn{
		spec:     spec,
		timeouts: timeouts,
		logger:   logger.With("provider", spec.Name),
		dialer:   dial,
		state:    domain.StateDisconnected,
	}
}

// newConnWithDialer injects a dialer (for testing).
func newConnWithDialer(spec domain.ProviderSpec, timeouts config.TimeoutsConfig, logger *slog.Logger, d dialFunc) *Conn {
	c := NewConn(spec, timeouts, logger)
	c.dialer = d
	return c
}

// Connect drives the connection to Ready or Failed. Each phase carries its own
// timeout; a timeout or error during channel establishment or handshake fails
// the connection and releases whatever was created. A catalog failure degrades
// to Ready with an empty catalog so the provider stays usable for retries.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != domain.StateDisconnected {
		state := c.state
		c.mu.Unlock()
		if state == domain.StateReady {
			return nil // already connected; no duplicate spawn
		}
		return domain.NewDomainError("Conn.Connect", domain.ErrProviderUnavailable,
			fmt.Sprintf("provider %q in state %s", c.spec.Name, state))
	}
	c.state = domain.StateConnecting
	c.mu.Unlock()

	ctx, span := tracer.StartSpan(ctx, "provider.connect",
		tracer.WithAttrs(tracer.StringAttr("provider", c.spec.Name), tracer.StringAttr("transport", string(c.spec.Transport))))
	defer span.End()

	// Phase 1: establish the channel.
	dialCtx, cancel := context.WithTimeout(ctx, c.timeouts.Connect)
	client, err := c.dialer(dialCtx, c.spec)
	cancel()
	if err != nil {
		err = phaseError("Conn.Connect", domain.ErrConnectTimeout, c.spec.Name, err)
		tracer.RecordError(span, err)
		return c.fail(err)
	}

	// Phase 2: handshake. A single round trip, so a tighter budget.
	hsCtx, cancel := context.WithTimeout(ctx, c.timeouts.Handshake)
	_, err = client.Initialize(hsCtx, initializeRequest())
	cancel()
	if err != nil {
		_ = client.Close()
		err = phaseError("Conn.Connect", domain.ErrHandshakeTimeout, c.spec.Name, err)
		tracer.RecordError(span, err)
		return c.fail(err)
	}

	// Phase 3: tool catalog. Failure here is not fatal: the provider
	// connected and handshook, so keep it Ready with an empty catalog.
	var (
		catalog []domain.Tool
		entries = make(map[string]*catalogEntry)
	)
	catCtx, cancel := context.WithTimeout(ctx, c.timeouts.Catalog)
	listed, err := client.ListTools(catCtx, mcp.ListToolsRequest{})
	cancel()
	if err != nil {
		c.logger.Warn("tool catalog unavailable, connection stays up with empty catalog", "error", err)
	} else {
		for _, t := range listed.Tools {
			tool := domain.Tool{
				Name:        t.Name,
				Description: t.Description,
				InputSchema: marshalInputSchema(t.InputSchema),
			}
			catalog = append(catalog, tool)
			entries[tool.Name] = &catalogEntry{
				tool:   tool,
				schema: c.compileSchema(tool.Name, tool.InputSchema),
			}
		}
	}

	c.mu.Lock()
	if c.state == domain.StateClosed {
		// Torn down while connecting; release the fresh channel.
		c.mu.Unlock()
		_ = client.Close()
		return domain.NewDomainError("Conn.Connect", domain.ErrConnClosed, c.spec.Name)
	}
	c.client = client
	c.catalog = catalog
	c.tools = entries
	c.state = domain.StateReady
	c.mu.Unlock()

	c.logger.Info("provider connected", "transport", c.spec.Transport, "tools", len(catalog))
	tracer.SetOK(span)
	return nil
}

// fail records the terminal Failed state unless the connection was closed
// underneath the connect attempt.
func (c *Conn) fail(err error) error {
	c.mu.Lock()
	if c.state != domain.StateClosed {
		c.state = domain.StateFailed
		c.lastErr = err
	}
	c.mu.Unlock()
	c.logger.Error("provider connection failed", "error", err)
	return err
}

// Invoke calls a tool on a Ready connection. An unknown tool name or invalid
// arguments never reach the wire. Transport errors and per-call timeouts are
// reported as invocation failures; the connection stays Ready and callers may
// retry.
func (c *Conn) Invoke(ctx context.Context, toolName string, args map[string]any) (*domain.ToolResult, error) {
	c.mu.RLock()
	state := c.state
	client := c.client
	entry := c.tools[toolName]
	c.mu.RUnlock()

	if state != domain.StateReady {
		return nil, domain.NewDomainError("Conn.Invoke", domain.ErrProviderUnavailable,
			fmt.Sprintf("provider %q in state %s", c.spec.Name, state))
	}
	if entry == nil {
		return nil, domain.NewDomainError("Conn.Invoke", domain.ErrToolNotFound,
			fmt.Sprintf("%s/%s", c.spec.Name, toolName))
	}
	if entry.schema != nil {
		if err := entry.schema.Validate(normalizeArgs(args)); err != nil {
			return nil, domain.NewDomainError("Conn.Invoke", domain.ErrInvalidArguments,
				fmt.Sprintf("%s/%s: %v", c.spec.Name, toolName, err))
		}
	}

	ctx, span := tracer.StartSpan(ctx, "provider.invoke",
		tracer.WithAttrs(tracer.StringAttr("provider", c.spec.Name), tracer.StringAttr("tool", toolName)))
	defer span.End()

	req := mcp.CallToolRequest{}
	req.Params.Name = toolName
	req.Params.Arguments = args

	callCtx, cancel := context.WithTimeout(ctx, c.timeouts.Call)
	defer cancel()

	result, err := client.CallTool(callCtx, req)
	if err != nil {
		wrapped := domain.NewDomainError("Conn.Invoke", domain.ErrInvocationFailed,
			fmt.Sprintf("%s/%s: %v", c.spec.Name, toolName, err))
		tracer.RecordError(span, wrapped)
		return nil, wrapped
	}

	tracer.SetOK(span)
	return &domain.ToolResult{
		Content:     extractContent(result),
		IsError:     result.IsError,
		IsRetryable: result.IsError,
	}, nil
}

// Close releases the underlying resource. Idempotent: closing twice, or a
// connection that never left Disconnected, returns nil.
func (c *Conn) Close() error {
	var closeErr error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		client := c.client
		c.client = nil
		c.state = domain.StateClosed
		c.tools = nil
		c.catalog = nil
		c.mu.Unlock()

		if client != nil {
			closeErr = client.Close()
		}
		c.logger.Debug("provider connection closed")
	})
	return closeErr
}

// State returns the current lifecycle state.
func (c *Conn) State() domain.ConnState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Err returns the error that drove the connection to Failed, if any.
func (c *Conn) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// Tools returns the cached catalog in discovery order. Non-Ready connections
// contribute an empty list, never an error.
func (c *Conn) Tools() []domain.Tool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state != domain.StateReady {
		return nil
	}
	out := make([]domain.Tool, len(c.catalog))
	copy(out, c.catalog)
	return out
}

// Status reports the snapshot used by the provider status endpoint.
func (c *Conn) Status() domain.ProviderStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return domain.ProviderStatus{
		Initialized: c.state == domain.StateReady,
		ToolsCount:  len(c.catalog),
	}
}

func (c *Conn) compileSchema(toolName string, raw json.RawMessage) *jsonschema.Schema {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(raw)); err != nil {
		c.logger.Warn("tool schema rejected, skipping argument validation", "tool", toolName, "error", err)
		return nil
	}
	compiled, err := compiler.Compile("schema.json")
	if err != nil {
		c.logger.Warn("tool schema failed to compile, skipping argument validation", "tool", toolName, "error", err)
		return nil
	}
	return compiled
}

func initializeRequest() mcp.InitializeRequest {
	req := mcp.InitializeRequest{}
	req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = mcp.Implementation{
		Name:    "stockripper",
		Version: clientVersion,
	}
	return req
}

// phaseError maps a phase failure to its sentinel: timeout expiry gets the
// phase-specific timeout sentinel, everything else is wrapped as-is.
func phaseError(op string, timeoutSentinel error, provider string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.NewDomainError(op, timeoutSentinel, provider)
	}
	return domain.WrapOp(op+" "+provider, err)
}

// normalizeArgs round-trips args through JSON so schema validation sees the
// same shapes (float64 numbers, nested maps) the wire encoding produces.
func normalizeArgs(args map[string]any) any {
	if args == nil {
		return map[string]any{}
	}
	data, err := json.Marshal(args)
	if err != nil {
		return args
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return args
	}
	return v
}

// marshalInputSchema converts the provider-declared input shape to raw JSON.
// Tools with no declared properties get no schema rather than an empty one.
func marshalInputSchema(s mcp.ToolInputSchema) json.RawMessage {
	if s.Properties == nil && s.Required == nil {
		return nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil
	}
	return data
}

// extractContent flattens an MCP tool result to text, marshaling any
// non-text content parts to JSON.
func extractContent(result *mcp.CallToolResult) string {
	var parts []string
	for _, content := range result.Content {
		switch v := content.(type) {
		case mcp.TextContent:
			parts = append(parts, v.Text)
		case *mcp.TextContent:
			parts = append(parts, v.Text)
		default:
			if data, err := json.Marshal(v); err == nil {
				parts = append(parts, string(data))
			}
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, "\n")
}
