package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"stockripper/internal/domain"
)

// Skill names registered by the three agent roles.
const (
	SkillAnalyzeStock      = "analyze-stock"
	SkillCreateTradePlan   = "create-trade-plan"
	SkillExecuteTrade      = "execute-trade"
	SkillTradeNotification = "trade-notification"
)

// NewMarketAnalysisHandler returns the market analyst's skill: look up the
// quote for a ticker through the market-data provider and summarize it.
func NewMarketAnalysisHandler(providerName string) Handler {
	return func(ctx context.Context, tb *Toolbox, task *domain.Task) (string, error) {
		var req struct {
			Ticker string `json:"ticker"`
			Text   string `json:"text"`
		}
		if len(task.Payload) > 0 {
			if err := json.Unmarshal(task.Payload, &req); err != nil {
				return "", domain.NewDomainError("analyze-stock", domain.ErrTaskHandlerFailed,
					fmt.Sprintf("bad payload: %v", err))
			}
		}
		ticker := req.Ticker
		if ticker == "" {
			ticker = ExtractTicker(req.Text)
		}
		if ticker == "" {
			return "", domain.NewDomainError("analyze-stock", domain.ErrTaskHandlerFailed,
				"no ticker in request")
		}

		quote, err := tb.Tools.Invoke(ctx, providerName, "get_stock_quote", map[string]any{
			"symbol": ticker,
		})
		if err != nil {
			return "", err
		}
		if quote.IsError {
			return "", domain.NewDomainError("analyze-stock", domain.ErrInvocationFailed, quote.Content)
		}

		summary := fmt.Sprintf("Analysis for %s\nQuote: %s", ticker, quote.Content)

		// News is best-effort; a provider without the tool still yields a
		// usable quote-only analysis.
		if news, err := tb.Tools.Invoke(ctx, providerName, "get_market_news", map[string]any{
			"symbol": ticker,
		}); err == nil && !news.IsError {
			summary += "\nNews: " + news.Content
		} else if err != nil {
			tb.Logger.Warn("market news unavailable", "ticker", ticker, "error", err)
		}

		return summary, nil
	}
}

// NewTradePlanHandler returns the planner's skill: gather analysis from the
// market analyst peer, pull portfolio state from the trading provider, and
// compose a plan.
func NewTradePlanHandler(analystPeer, providerName string) Handler {
	return func(ctx context.Context, tb *Toolbox, task *domain.Task) (string, error) {
		var req struct {
			Ticker string `json:"ticker"`
			Action string `json:"action"`
		}
		if len(task.Payload) > 0 {
			if err := json.Unmarshal(task.Payload, &req); err != nil {
				return "", domain.NewDomainError("create-trade-plan", domain.ErrTaskHandlerFailed,
					fmt.Sprintf("bad payload: %v", err))
			}
		}
		if req.Ticker == "" {
			return "", domain.NewDomainError("create-trade-plan", domain.ErrTaskHandlerFailed,
				"no ticker in request")
		}
		action := strings.ToLower(req.Action)
		if action == "" {
			action = "buy"
		}

		// Peer analysis is advisory; the plan degrades without it.
		analysis := ""
		payload, _ := json.Marshal(map[string]string{"ticker": req.Ticker})
		resp, err := tb.Peers.Send(ctx, analystPeer, domain.PeerMessage{
			Skill:         SkillAnalyzeStock,
			Payload:       payload,
			CorrelationID: task.CorrelationID,
		})
		if err != nil {
			tb.Logger.Warn("market analysis unavailable", "peer", analystPeer, "error", err)
		} else {
			analysis = resp.Result
		}

		portfolio, err := tb.Tools.Invoke(ctx, providerName, "get_portfolio", nil)
		if err != nil {
			return "", err
		}
		if portfolio.IsError {
			return "", domain.NewDomainError("create-trade-plan", domain.ErrInvocationFailed, portfolio.Content)
		}

		var b strings.Builder
		fmt.Fprintf(&b, "Trade plan: %s %s\n", strings.ToUpper(action), req.Ticker)
		fmt.Fprintf(&b, "Portfolio: %s\n", portfolio.Content)
		if analysis != "" {
			fmt.Fprintf(&b, "Market analysis: %s\n", analysis)
		}
		return b.String(), nil
	}
}

// NewExecuteTradeHandler returns the planner's order-placement skill.
func NewExecuteTradeHandler(providerName string) Handler {
	return func(ctx context.Context, tb *Toolbox, task *domain.Task) (string, error) {
		var req struct {
			Ticker    string `json:"ticker"`
			Action    string `json:"action"`
			Quantity  int    `json:"quantity"`
			OrderType string `json:"order_type"`
		}
		if err := json.Unmarshal(task.Payload, &req); err != nil {
			return "", domain.NewDomainError("execute-trade", domain.ErrTaskHandlerFailed,
				fmt.Sprintf("bad payload: %v", err))
		}
		if req.Ticker == "" || req.Action == "" || req.Quantity <= 0 {
			return "", domain.NewDomainError("execute-trade", domain.ErrTaskHandlerFailed,
				"ticker, action and positive quantity are required")
		}
		orderType := req.OrderType
		if orderType == "" {
			orderType = "market"
		}

		result, err := tb.Tools.Invoke(ctx, providerName, "place_order", map[string]any{
			"symbol": req.Ticker,
			"side":   strings.ToLower(req.Action),
			"qty":    req.Quantity,
			"type":   orderType,
		})
		if err != nil {
			return "", err
		}
		if result.IsError {
			return "", domain.NewDomainError("execute-trade", domain.ErrInvocationFailed, result.Content)
		}
		return fmt.Sprintf("Trade executed: %s", result.Content), nil
	}
}

// NewTradeNotificationHandler returns the mailer's skill: forward a trade
// notification through the mail provider.
func NewTradeNotificationHandler(providerName, defaultRecipient string) Handler {
	return func(ctx context.Context, tb *Toolbox, task *domain.Task) (string, error) {
		var req struct {
			Recipient string `json:"recipient"`
			Subject   string `json:"subject"`
			Body      string `json:"body"`
		}
		if err := json.Unmarshal(task.Payload, &req); err != nil {
			return "", domain.NewDomainError("trade-notification", domain.ErrTaskHandlerFailed,
				fmt.Sprintf("bad payload: %v", err))
		}
		recipient := req.Recipient
		if recipient == "" {
			recipient = defaultRecipient
		}
		if recipient == "" {
			return "", domain.NewDomainError("trade-notification", domain.ErrTaskHandlerFailed,
				"no recipient configured")
		}
		subject := req.Subject
		if subject == "" {
			subject = "Trade notification"
		}

		result, err := tb.Tools.Invoke(ctx, providerName, "send_email", map[string]any{
			"to":      recipient,
			"subject": subject,
			"body":    req.Body,
		})
		if err != nil {
			return "", err
		}
		if result.IsError {
			return "", domain.NewDomainError("trade-notification", domain.ErrInvocationFailed, result.Content)
		}
		return fmt.Sprintf("Notification sent to %s", recipient), nil
	}
}

// tickerStopwords are all-caps tokens that are English, not symbols.
var tickerStopwords = map[string]bool{
	"A": true, "I": true, "BUY": true, "SELL": true, "THE": true,
	"AND": true, "FOR": true, "OF": true, "TO": true, "STOCK": true,
}

// ExtractTicker pulls the first token that looks like a stock symbol out of
// free text: 1-5 uppercase letters, standing alone.
func ExtractTicker(text string) string {
	for _, word := range strings.Fields(text) {
		word = strings.Trim(word, ".,!?:;()\"'")
		if len(word) < 1 || len(word) > 5 || tickerStopwords[word] {
			continue
		}
		upper := true
		for _, r := range word {
			if r < 'A' || r > 'Z' {
				upper = false
				break
			}
		}
		if upper {
			return word
		}
	}
	return ""
}
