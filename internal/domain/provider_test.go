package domain

import (
	"errors"
	"testing"
)

func TestProviderSpecValidate(t *testing.T) {
	cases := []struct {
		name    string
		spec    ProviderSpec
		wantErr bool
	}{
		{"valid stdio", ProviderSpec{Name: "alpaca", Transport: TransportStdio, Command: "uvx"}, false},
		{"valid http", ProviderSpec{Name: "docs", Transport: TransportHTTP, URL: "http://localhost:9001/mcp"}, false},
		{"empty name", ProviderSpec{Transport: TransportStdio, Command: "uvx"}, true},
		{"stdio without command", ProviderSpec{Name: "a", Transport: TransportStdio}, true},
		{"http without url", ProviderSpec{Name: "a", Transport: TransportHTTP}, true},
		{"unknown transport", ProviderSpec{Name: "a", Transport: "smoke-signals"}, true},
		{"empty transport", ProviderSpec{Name: "a"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.spec.Validate()
			if tc.wantErr {
				if !errors.Is(err, ErrInvalidSpec) {
					t.Errorf("Validate() = %v, want ErrInvalidSpec", err)
				}
				return
			}
			if err != nil {
				t.Errorf("Validate() = %v", err)
			}
		})
	}
}

func TestConnStateString(t *testing.T) {
	cases := map[ConnState]string{
		StateDisconnected: "disconnected",
		StateConnecting:   "connecting",
		StateReady:        "ready",
		StateFailed:       "failed",
		StateClosed:       "closed",
		ConnState(99):     "unknown",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", state, got, want)
		}
	}
}
