package domain

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestDomainErrorUnwrap(t *testing.T) {
	err := NewDomainError("Conn.Invoke", ErrToolNotFound, "alpaca/get_stock_quote")

	if !errors.Is(err, ErrToolNotFound) {
		t.Error("DomainError should unwrap to its sentinel")
	}
	msg := err.Error()
	if !strings.Contains(msg, "Conn.Invoke") || !strings.Contains(msg, "alpaca/get_stock_quote") {
		t.Errorf("Error() = %q", msg)
	}
}

func TestDomainErrorNoDetail(t *testing.T) {
	err := NewDomainError("Pool.Invoke", ErrProviderUnavailable, "")
	if got := err.Error(); !strings.Contains(got, "provider unavailable") {
		t.Errorf("Error() = %q", got)
	}
}

func TestWrapOp(t *testing.T) {
	if WrapOp("op", nil) != nil {
		t.Error("WrapOp(nil) should be nil")
	}
	wrapped := WrapOp("read config", ErrConfigLoad)
	if !errors.Is(wrapped, ErrConfigLoad) {
		t.Error("wrapped error should match its sentinel")
	}
}

func TestErrorCodeOf(t *testing.T) {
	cases := []struct {
		err  error
		want ErrorCode
	}{
		{nil, CodeUnknown},
		{errors.New("random"), CodeUnknown},
		{ErrConnectTimeout, CodeConnectTimeout},
		{NewDomainError("op", ErrHandshakeTimeout, "x"), CodeHandshakeTimeout},
		{fmt.Errorf("outer: %w", ErrPeerCallFailed), CodePeerCallFailed},
		{fmt.Errorf("outer: %w", NewDomainError("op", ErrToolNotFound, "")), CodeToolNotFound},
		{WrapOp("op", ErrInvalidArguments), CodeInvalidArguments},
	}
	for _, tc := range cases {
		if got := ErrorCodeOf(tc.err); got != tc.want {
			t.Errorf("ErrorCodeOf(%v) = %s, want %s", tc.err, got, tc.want)
		}
	}
}

func TestIsRetryableError(t *testing.T) {
	retryable := []error{
		NewDomainError("Conn.Invoke", ErrInvocationFailed, "timeout"),
		NewDomainError("Peer.Send", ErrPeerCallFailed, "refused"),
	}
	for _, err := range retryable {
		if !IsRetryableError(err) {
			t.Errorf("IsRetryableError(%v) = false, want true", err)
		}
	}

	permanent := []error{
		NewDomainError("Conn.Invoke", ErrToolNotFound, ""),
		NewDomainError("Conn.Invoke", ErrInvalidArguments, ""),
		NewDomainError("Conn.Connect", ErrConnectTimeout, ""),
		NewDomainError("Peer.Send", ErrPeerUnknown, ""),
	}
	for _, err := range permanent {
		if IsRetryableError(err) {
			t.Errorf("IsRetryableError(%v) = true, want false", err)
		}
	}
}
