package provider

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"stockripper/internal/domain"
	"stockripper/internal/infra/config"
)

// Pool orchestrates a named collection of provider connections: parallel
// bring-up, fault isolation, status queries, coordinated teardown.
//
// The connection map is populated at construction and never mutated afterward,
// so queries are safe for arbitrarily many concurrent task handlers once
// ConnectAll has returned.
type Pool struct {
	conns  map[string]*Conn
	order  []string // spec order, for stable listing
	logger *slog.Logger

	connectOnce sync.Once
	closeOnce   sync.Once
}

// NewPool validates every spec and builds one connection per provider.
// Malformed specs are construction-time errors, not runtime ones.
func NewPool(specs []domain.ProviderSpec, timeouts config.TimeoutsConfig, logger *slog.Logger) (*Pool, error) {
	p := &Pool{
		conns:  make(map[string]*Conn, len(specs)),
		logger: logger,
	}
	for _, spec := range specs {
		if err := spec.Validate(); err != nil {
			return nil, err
		}
		if _, dup := p.conns[spec.Name]; dup {
			return nil, domain.NewDomainError("NewPool", domain.ErrInvalidSpec,
				fmt.Sprintf("duplicate provider name %q", spec.Name))
		}
		p.conns[spec.Name] = NewConn(spec, timeouts, logger)
		p.order = append(p.order, spec.Name)
	}
	return p, nil
}

// newPoolWithConns builds a pool from pre-built connections (for testing).
func newPoolWithConns(conns []*Conn, logger *slog.Logger) *Pool {
	p := &Pool{conns: make(map[string]*Conn, len(conns)), logger: logger}
	for _, c := range conns {
		p.conns[c.spec.Name] = c
		p.order = append(p.order, c.spec.Name)
	}
	return p
}

// ConnectAll brings up every provider concurrently and waits until each one
// reaches Ready or Failed. A slow or failing provider delays nothing but
// itself; its outcome is collected and logged, never silently dropped.
// Safe to call more than once: subsequent calls are no-ops.
func (p *Pool) ConnectAll(ctx context.Context) {
	p.connectOnce.Do(func() {
		var wg sync.WaitGroup
		for name, conn := range p.conns {
			wg.Add(1)
			go func(name string, conn *Conn) {
				defer wg.Done()
				if err := conn.Connect(ctx); err != nil {
					p.logger.Warn("provider failed to initialize, pool continues",
						"provider", name, "error", err)
					return
				}
				p.logger.Info("provider ready", "provider", name, "tools", len(conn.Tools()))
			}(name, conn)
		}
		wg.Wait()
		p.logger.Info("provider pool startup complete", "providers", len(p.conns))
	})
}

// Invoke calls a tool on the named provider. The provider must be Ready;
// otherwise the call fails without touching any connection.
func (p *Pool) Invoke(ctx context.Context, providerName, toolName string, args map[string]any) (*domain.ToolResult, error) {
	conn, ok := p.conns[providerName]
	if !ok {
		return nil, domain.NewDomainError("Pool.Invoke", domain.ErrProviderUnavailable, providerName)
	}
	return conn.Invoke(ctx, toolName, args)
}

// ToolsOf returns the catalog of one provider. Unknown, Failed, or Closed
// providers contribute an empty list, never an error.
func (p *Pool) ToolsOf(providerName string) []domain.Tool {
	conn, ok := p.conns[providerName]
	if !ok {
		return nil
	}
	return conn.Tools()
}

// Tools returns all catalogs keyed by provider name, in spec order for
// deterministic iteration via Names.
func (p *Pool) Tools() map[string][]domain.Tool {
	out := make(map[string][]domain.Tool, len(p.conns))
	for name, conn := range p.conns {
		out[name] = conn.Tools()
	}
	return out
}

// Names returns the configured provider names in spec order.
func (p *Pool) Names() []string {
	out := make([]string, len(p.order))
	copy(out, p.order)
	return out
}

// Status reports, per configured provider, whether it reached Ready and how
// many tools it exposes.
func (p *Pool) Status() map[string]domain.ProviderStatus {
	out := make(map[string]domain.ProviderStatus, len(p.conns))
	for name, conn := range p.conns {
		out[name] = conn.Status()
	}
	return out
}

// CloseAll tears down every connection concurrently, regardless of individual
// task activity. Close errors are logged and tolerated; every close attempt is
// made exactly once.
func (p *Pool) CloseAll() {
	p.closeOnce.Do(func() {
		var wg sync.WaitGroup
		for name, conn := range p.conns {
			wg.Add(1)
			go func(name string, conn *Conn) {
				defer wg.Done()
				if err := conn.Close(); err != nil {
					p.logger.Warn("provider close error", "provider", name, "error", err)
				}
			}(name, conn)
		}
		wg.Wait()
		p.logger.Info("provider pool closed")
	})
}

var _ domain.ToolInvoker = (*Pool)(nil)
