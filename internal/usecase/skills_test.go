package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"stockripper/internal/domain"
)

func toolbox(tools domain.ToolInvoker, peers domain.PeerCaller) *Toolbox {
	if tools == nil {
		tools = &fakeInvoker{}
	}
	if peers == nil {
		peers = &fakePeers{}
	}
	return &Toolbox{Tools: tools, Peers: peers, Logger: slog.Default()}
}

func TestMarketAnalysisHandler(t *testing.T) {
	tools := &fakeInvoker{results: map[string]*domain.ToolResult{
		"alpaca/get_stock_quote": {Content: "AAPL: 123.45"},
		"alpaca/get_market_news": {Content: "all quiet"},
	}}
	h := NewMarketAnalysisHandler("alpaca")

	task := domain.NewTask(SkillAnalyzeStock, json.RawMessage(`{"ticker":"AAPL"}`), "")
	result, err := h(context.Background(), toolbox(tools, nil), task)
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if !strings.Contains(result, "AAPL: 123.45") || !strings.Contains(result, "all quiet") {
		t.Errorf("result = %q", result)
	}
}

func TestMarketAnalysisHandlerTickerFromText(t *testing.T) {
	tools := &fakeInvoker{results: map[string]*domain.ToolResult{
		"alpaca/get_stock_quote": {Content: "quote"},
	}}
	h := NewMarketAnalysisHandler("alpaca")

	task := domain.NewTask(SkillAnalyzeStock, json.RawMessage(`{"text":"should I buy MSFT today?"}`), "")
	if _, err := h(context.Background(), toolbox(tools, nil), task); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if len(tools.calls) == 0 || tools.calls[0] != "alpaca/get_stock_quote" {
		t.Fatalf("calls = %v", tools.calls)
	}
}

func TestMarketAnalysisHandlerNewsIsBestEffort(t *testing.T) {
	tools := &fakeInvoker{
		results: map[string]*domain.ToolResult{
			"alpaca/get_stock_quote": {Content: "AAPL: 123.45"},
		},
		errs: map[string]error{
			"alpaca/get_market_news": domain.NewDomainError("Conn.Invoke", domain.ErrToolNotFound, "get_market_news"),
		},
	}
	h := NewMarketAnalysisHandler("alpaca")

	task := domain.NewTask(SkillAnalyzeStock, json.RawMessage(`{"ticker":"AAPL"}`), "")
	result, err := h(context.Background(), toolbox(tools, nil), task)
	if err != nil {
		t.Fatalf("handler: %v (missing news tool must not fail the analysis)", err)
	}
	if !strings.Contains(result, "AAPL: 123.45") {
		t.Errorf("result = %q", result)
	}
}

func TestMarketAnalysisHandlerNoTicker(t *testing.T) {
	h := NewMarketAnalysisHandler("alpaca")
	task := domain.NewTask(SkillAnalyzeStock, json.RawMessage(`{"text":"buy the stock"}`), "")

	if _, err := h(context.Background(), toolbox(nil, nil), task); err == nil {
		t.Fatal("handler should fail without a ticker")
	}
}

func TestTradePlanHandler(t *testing.T) {
	tools := &fakeInvoker{results: map[string]*domain.ToolResult{
		"alpaca/get_portfolio": {Content: "cash: 10000"},
	}}
	peers := &fakePeers{responses: map[string]*domain.PeerResponse{
		"market-analyst": {Success: true, Result: "AAPL trending up"},
	}}
	h := NewTradePlanHandler("market-analyst", "alpaca")

	task := domain.NewTask(SkillCreateTradePlan, json.RawMessage(`{"ticker":"AAPL","action":"buy"}`), "cid-7")
	result, err := h(context.Background(), toolbox(tools, peers), task)
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if !strings.Contains(result, "BUY AAPL") || !strings.Contains(result, "cash: 10000") ||
		!strings.Contains(result, "AAPL trending up") {
		t.Errorf("result = %q", result)
	}
	if len(peers.sent) != 1 || peers.sent[0].CorrelationID != "cid-7" {
		t.Errorf("peer messages = %+v, want correlation id propagated", peers.sent)
	}
}

func TestTradePlanHandlerDegradesWithoutAnalyst(t *testing.T) {
	tools := &fakeInvoker{results: map[string]*domain.ToolResult{
		"alpaca/get_portfolio": {Content: "cash: 10000"},
	}}
	peers := &fakePeers{errs: map[string]error{
		"market-analyst": domain.NewDomainError("Peer.Send", domain.ErrPeerCallFailed, "down"),
	}}
	h := NewTradePlanHandler("market-analyst", "alpaca")

	task := domain.NewTask(SkillCreateTradePlan, json.RawMessage(`{"ticker":"AAPL"}`), "")
	result, err := h(context.Background(), toolbox(tools, peers), task)
	if err != nil {
		t.Fatalf("handler: %v (analyst outage must not fail planning)", err)
	}
	if strings.Contains(result, "Market analysis") {
		t.Errorf("result = %q, want no analysis section", result)
	}
}

func TestExecuteTradeHandler(t *testing.T) {
	tools := &fakeInvoker{results: map[string]*domain.ToolResult{
		"alpaca/place_order": {Content: "order 42 accepted"},
	}}
	h := NewExecuteTradeHandler("alpaca")

	task := domain.NewTask(SkillExecuteTrade, json.RawMessage(`{"ticker":"AAPL","action":"BUY","quantity":10}`), "")
	result, err := h(context.Background(), toolbox(tools, nil), task)
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if !strings.Contains(result, "order 42 accepted") {
		t.Errorf("result = %q", result)
	}
}

func TestExecuteTradeHandlerRejectsIncompleteOrder(t *testing.T) {
	h := NewExecuteTradeHandler("alpaca")
	cases := []string{
		`{"action":"buy","quantity":10}`,
		`{"ticker":"AAPL","quantity":10}`,
		`{"ticker":"AAPL","action":"buy"}`,
		`{"ticker":"AAPL","action":"buy","quantity":-1}`,
	}
	for _, payload := range cases {
		task := domain.NewTask(SkillExecuteTrade, json.RawMessage(payload), "")
		if _, err := h(context.Background(), toolbox(nil, nil), task); err == nil {
			t.Errorf("payload %s should be rejected", payload)
		}
	}
}

func TestTradeNotificationHandler(t *testing.T) {
	tools := &fakeInvoker{results: map[string]*domain.ToolResult{
		"gmail/send_email": {Content: "message id abc"},
	}}
	h := NewTradeNotificationHandler("gmail", "ops@example.com")

	task := domain.NewTask(SkillTradeNotification, json.RawMessage(`{"subject":"filled","body":"AAPL x10"}`), "")
	result, err := h(context.Background(), toolbox(tools, nil), task)
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if !strings.Contains(result, "ops@example.com") {
		t.Errorf("result = %q, want default recipient used", result)
	}
}

func TestTradeNotificationHandlerNoRecipient(t *testing.T) {
	h := NewTradeNotificationHandler("gmail", "")
	task := domain.NewTask(SkillTradeNotification, json.RawMessage(`{"body":"hi"}`), "")

	_, err := h(context.Background(), toolbox(nil, nil), task)
	if err == nil {
		t.Fatal("handler should fail without any recipient")
	}
	if errors.Is(err, domain.ErrInvocationFailed) {
		t.Error("missing recipient is a handler error, not an invocation one")
	}
}

func TestExtractTicker(t *testing.T) {
	cases := []struct {
		text string
		want string
	}{
		{"should I buy AAPL today?", "AAPL"},
		{"analysis for MSFT.", "MSFT"},
		{"BUY SELL THE STOCK", ""},
		{"what about (TSLA)?", "TSLA"},
		{"lowercase aapl only", ""},
		{"", ""},
		{"TOOLONGG ticker", ""},
		{"I want F now", "F"},
	}
	for _, tc := range cases {
		if got := ExtractTicker(tc.text); got != tc.want {
			t.Errorf("ExtractTicker(%q) = %q, want %q", tc.text, got, tc.want)
		}
	}
}
