package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"stockripper/internal/domain"
	"stockripper/internal/infra/config"
	"stockripper/internal/usecase"
)

type fakeStatus struct {
	servers map[string]domain.ProviderStatus
}

func (f *fakeStatus) Status() map[string]domain.ProviderStatus { return f.servers }

type noopInvoker struct{}

func (noopInvoker) Invoke(context.Context, string, string, map[string]any) (*domain.ToolResult, error) {
	return &domain.ToolResult{Content: "ok"}, nil
}
func (noopInvoker) ToolsOf(string) []domain.Tool { return nil }

type noopPeers struct{}

func (noopPeers) Send(context.Context, string, domain.PeerMessage) (*domain.PeerResponse, error) {
	return &domain.PeerResponse{Success: true}, nil
}

func testCard() domain.AgentCard {
	return domain.AgentCard{
		Name:        "market-analyst",
		Description: "analyzes stocks",
		Version:     "1.0.0",
		URL:         "http://localhost:8001",
		Capabilities: map[string]bool{
			"market_analysis": true,
		},
	}
}

func newTestServer(t *testing.T, wire func(p *usecase.Processor), rl config.RateLimitConfig) *Server {
	t.Helper()
	proc := usecase.NewProcessor(noopInvoker{}, noopPeers{}, slog.Default())
	if wire != nil {
		wire(proc)
	}
	status := &fakeStatus{servers: map[string]domain.ProviderStatus{
		"alpaca": {Initialized: true, ToolsCount: 3},
		"gmail":  {Initialized: false, ToolsCount: 0},
	}}
	return New(testCard(), proc, status, rl, ":0",
		map[string]string{"/analyze": usecase.SkillAnalyzeStock}, slog.Default())
}

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestDiscoveryEndpoint(t *testing.T) {
	srv := newTestServer(t, nil, config.RateLimitConfig{})

	rec := do(t, srv, http.MethodGet, "/.well-known/agent.json", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var card domain.AgentCard
	if err := json.Unmarshal(rec.Body.Bytes(), &card); err != nil {
		t.Fatalf("decode card: %v", err)
	}
	if card.Name != "market-analyst" || !card.Capabilities["market_analysis"] {
		t.Errorf("card = %+v", card)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t, nil, config.RateLimitConfig{})

	rec := do(t, srv, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "healthy" || body["agent"] != "market-analyst" {
		t.Errorf("body = %v", body)
	}
}

func TestProviderStatusEndpoint(t *testing.T) {
	srv := newTestServer(t, nil, config.RateLimitConfig{})

	rec := do(t, srv, http.MethodGet, "/mcp-status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var body struct {
		Servers map[string]domain.ProviderStatus `json:"mcp_servers"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if s := body.Servers["alpaca"]; !s.Initialized || s.ToolsCount != 3 {
		t.Errorf("alpaca = %+v", s)
	}
	if s := body.Servers["gmail"]; s.Initialized {
		t.Errorf("gmail = %+v", s)
	}
}

func TestTaskSubmission(t *testing.T) {
	srv := newTestServer(t, func(p *usecase.Processor) {
		p.Register("echo", func(_ context.Context, _ *usecase.Toolbox, task *domain.Task) (string, error) {
			return "got " + string(task.Payload), nil
		})
	}, config.RateLimitConfig{})

	rec := do(t, srv, http.MethodPost, "/tasks", `{"skill":"echo","payload":{"x":1}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}

	var resp taskResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Success || resp.TaskID == "" || !strings.Contains(resp.Result, `"x":1`) {
		t.Errorf("response = %+v", resp)
	}
}

func TestTaskFailureEnvelope(t *testing.T) {
	srv := newTestServer(t, nil, config.RateLimitConfig{})

	// No handler registered: the task fails, but the caller still gets a
	// well-formed envelope, not a transport error.
	rec := do(t, srv, http.MethodPost, "/tasks", `{"skill":"nope"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp taskResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Success || resp.Error == "" || resp.TaskID == "" {
		t.Errorf("response = %+v", resp)
	}
}

func TestTaskBadBody(t *testing.T) {
	srv := newTestServer(t, nil, config.RateLimitConfig{})

	rec := do(t, srv, http.MethodPost, "/tasks", `{not json`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}

	var resp taskResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Success {
		t.Error("bad body must not report success")
	}
}

func TestSkillRoutePinsSkill(t *testing.T) {
	var gotSkill string
	srv := newTestServer(t, func(p *usecase.Processor) {
		p.Register(usecase.SkillAnalyzeStock, func(_ context.Context, _ *usecase.Toolbox, task *domain.Task) (string, error) {
			gotSkill = task.Skill
			return "done", nil
		})
	}, config.RateLimitConfig{})

	// The route decides the skill even if the body names another one.
	rec := do(t, srv, http.MethodPost, "/analyze", `{"skill":"something-else","payload":{"ticker":"AAPL"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if gotSkill != usecase.SkillAnalyzeStock {
		t.Errorf("skill = %q, want %q", gotSkill, usecase.SkillAnalyzeStock)
	}
}

func TestMessagePayloadCompatibility(t *testing.T) {
	var gotPayload string
	srv := newTestServer(t, func(p *usecase.Processor) {
		p.RegisterDefault(func(_ context.Context, _ *usecase.Toolbox, task *domain.Task) (string, error) {
			gotPayload = string(task.Payload)
			return "ok", nil
		})
	}, config.RateLimitConfig{})

	rec := do(t, srv, http.MethodPost, "/tasks", `{"message":{"ticker":"AAPL"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(gotPayload, "AAPL") {
		t.Errorf("payload = %q, want message field accepted", gotPayload)
	}
}

func TestCorrelationIDEchoedAndMinted(t *testing.T) {
	srv := newTestServer(t, nil, config.RateLimitConfig{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(domain.CorrelationIDHeader, "cid-42")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if got := rec.Header().Get(domain.CorrelationIDHeader); got != "cid-42" {
		t.Errorf("echoed correlation id = %q", got)
	}

	rec = do(t, srv, http.MethodGet, "/health", "")
	if got := rec.Header().Get(domain.CorrelationIDHeader); got == "" {
		t.Error("missing correlation id should be minted")
	}
}

func TestRateLimitRejects(t *testing.T) {
	srv := newTestServer(t, func(p *usecase.Processor) {
		p.RegisterDefault(func(context.Context, *usecase.Toolbox, *domain.Task) (string, error) {
			return "ok", nil
		})
	}, config.RateLimitConfig{Enabled: true, RPS: 1, Burst: 1})

	first := do(t, srv, http.MethodPost, "/tasks", `{}`)
	if first.Code != http.StatusOK {
		t.Fatalf("first request status = %d", first.Code)
	}

	second := do(t, srv, http.MethodPost, "/tasks", `{}`)
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", second.Code)
	}

	// Read endpoints stay unthrottled.
	if rec := do(t, srv, http.MethodGet, "/health", ""); rec.Code != http.StatusOK {
		t.Errorf("health status = %d under rate limit", rec.Code)
	}
}
