package peer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"

	"stockripper/internal/domain"
)

// Circuit breaker defaults: a dead peer fails fast after repeated errors
// instead of eating the full call timeout on every task.
const (
	defaultCBMaxFailures uint32        = 5
	defaultCBTimeout     time.Duration = 30 * time.Second
	defaultCBInterval    time.Duration = 60 * time.Second
)

// Client sends tasks to named peer agents over HTTP. Each peer gets its own
// circuit breaker; the static peer map is built once at startup with the
// agent's own URL excluded.
type Client struct {
	peers       map[string]string // peer name -> base URL
	breakers    map[string]*gobreaker.CircuitBreaker[*domain.PeerResponse]
	http        *http.Client
	callTimeout time.Duration
	logger      *slog.Logger
}

// New builds a peer client from a name -> base URL map. Any entry whose URL
// equals selfURL is dropped so an agent never calls itself.
func New(peers map[string]string, selfURL string, callTimeout time.Duration, logger *slog.Logger) *Client {
	c := &Client{
		peers:       make(map[string]string, len(peers)),
		breakers:    make(map[string]*gobreaker.CircuitBreaker[*domain.PeerResponse], len(peers)),
		callTimeout: callTimeout,
		logger:      logger,
		http: &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   callTimeout,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for name, base := range peers {
		if base == selfURL {
			continue
		}
		c.peers[name] = strings.TrimRight(base, "/")
		c.breakers[name] = newBreaker(name, logger)
	}
	return c
}

func newBreaker(peer string, logger *slog.Logger) *gobreaker.CircuitBreaker[*domain.PeerResponse] {
	return gobreaker.NewCircuitBreaker[*domain.PeerResponse](gobreaker.Settings{
		Name:        "peer:" + peer,
		MaxRequests: 1, // allow 1 probe in half-open state
		Interval:    defaultCBInterval,
		Timeout:     defaultCBTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= defaultCBMaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("peer circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
}

// Peers returns the names of configured peers.
func (c *Client) Peers() []string {
	out := make([]string, 0, len(c.peers))
	for name := range c.peers {
		out = append(out, name)
	}
	return out
}

// Send submits a task to the named peer and blocks until the peer responds or
// the call timeout elapses. Failure modes are surfaced as distinct errors:
// unknown peer, transport failure, and peer-reported task failure.
func (c *Client) Send(ctx context.Context, peerName string, msg domain.PeerMessage) (*domain.PeerResponse, error) {
	base, ok := c.peers[peerName]
	if !ok {
		return nil, domain.NewDomainError("Peer.Send", domain.ErrPeerUnknown, peerName)
	}

	resp, err := c.breakers[peerName].Execute(func() (*domain.PeerResponse, error) {
		return c.post(ctx, base, msg)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, domain.NewDomainError("Peer.Send", domain.ErrPeerCallFailed,
				fmt.Sprintf("%s: circuit open", peerName))
		}
		return nil, domain.NewDomainError("Peer.Send", domain.ErrPeerCallFailed,
			fmt.Sprintf("%s: %v", peerName, err))
	}

	if !resp.Success {
		return resp, domain.NewDomainError("Peer.Send", domain.ErrPeerTaskFailed,
			fmt.Sprintf("%s: %s", peerName, resp.Error))
	}
	return resp, nil
}

// post does one request/response exchange. Transport errors trip the breaker;
// a decodable failure envelope does not, since the peer itself is healthy.
func (c *Client) post(ctx context.Context, base string, msg domain.PeerMessage) (*domain.PeerResponse, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, base+"/tasks", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if msg.CorrelationID != "" {
		req.Header.Set(domain.CorrelationIDHeader, msg.CorrelationID)
	}

	httpResp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var out domain.PeerResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode response (status %d): %w", httpResp.StatusCode, err)
	}
	return &out, nil
}

var _ domain.PeerCaller = (*Client)(nil)
