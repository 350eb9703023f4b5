package provider

import (
	"context"
	"fmt"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"stockripper/internal/domain"
)

// rpcClient is the slice of the MCP client surface a connection drives.
// Kept minimal so tests can substitute fakes for the real subprocess/HTTP client.
type rpcClient interface {
	Initialize(ctx context.Context, request mcp.InitializeRequest) (*mcp.InitializeResult, error)
	ListTools(ctx context.Context, request mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

// dialFunc establishes the underlying channel for a provider spec.
// The real implementation spawns a subprocess or opens an HTTP session;
// tests inject their own.
type dialFunc func(ctx context.Context, spec domain.ProviderSpec) (rpcClient, error)

// dial opens the channel selected by spec.Transport. It honors ctx: if the
// deadline expires while the channel is still being established, the
// late-arriving resource is released rather than leaked.
func dial(ctx context.Context, spec domain.ProviderSpec) (rpcClient, error) {
	type dialResult struct {
		c   rpcClient
		err error
	}
	ch := make(chan dialResult, 1)

	go func() {
		c, err := openClient(ctx, spec)
		ch <- dialResult{c: c, err: err}
	}()

	select {
	case r := <-ch:
		return r.c, r.err
	case <-ctx.Done():
		// Reap the channel if the open eventually succeeds; a spawned but
		// unresponsive subprocess must not outlive the attempt.
		go func() {
			if r := <-ch; r.c != nil {
				_ = r.c.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

func openClient(ctx context.Context, spec domain.ProviderSpec) (rpcClient, error) {
	switch spec.Transport {
	case domain.TransportStdio:
		c, err := mcpclient.NewStdioMCPClient(spec.Command, envSlice(spec.Env), spec.Args...)
		if err != nil {
			return nil, fmt.Errorf("spawn stdio provider: %w", err)
		}
		return c, nil
	case domain.TransportHTTP:
		t, err := transport.NewStreamableHTTP(spec.URL)
		if err != nil {
			return nil, fmt.Errorf("create http transport: %w", err)
		}
		c := mcpclient.NewClient(t)
		if err := c.Start(ctx); err != nil {
			return nil, fmt.Errorf("start http client: %w", err)
		}
		return c, nil
	default:
		return nil, domain.NewDomainError("dial", domain.ErrInvalidSpec,
			fmt.Sprintf("unsupported transport %q", spec.Transport))
	}
}

// envSlice converts a map of env vars to KEY=VALUE slices for the subprocess.
// These are merged over the inherited environment by the stdio client.
func envSlice(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	result := make([]string, 0, len(env))
	for k, v := range env {
		result = append(result, k+"="+v)
	}
	return result
}
