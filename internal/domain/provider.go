package domain

import "fmt"

// Transport selects how a tool provider connection is established.
type Transport string

const (
	// TransportStdio launches the provider as a subprocess and speaks over its pipes.
	TransportStdio Transport = "stdio"
	// TransportHTTP connects to an already-running provider over streamable HTTP.
	TransportHTTP Transport = "http"
)

// ProviderSpec is the declarative launch descriptor for one tool provider.
// Immutable after configuration load.
type ProviderSpec struct {
	Name      string            `yaml:"name"`
	Transport Transport         `yaml:"transport"`
	Command   string            `yaml:"command,omitempty"`
	Args      []string          `yaml:"args,omitempty"`
	Env       map[string]string `yaml:"env,omitempty"`
	URL       string            `yaml:"url,omitempty"`
}

// Validate checks the spec for construction-time errors.
func (s ProviderSpec) Validate() error {
	if s.Name == "" {
		return NewDomainError("ProviderSpec.Validate", ErrInvalidSpec, "name must not be empty")
	}
	switch s.Transport {
	case TransportStdio:
		if s.Command == "" {
			return NewDomainError("ProviderSpec.Validate", ErrInvalidSpec,
				fmt.Sprintf("provider %q: command required for stdio transport", s.Name))
		}
	case TransportHTTP:
		if s.URL == "" {
			return NewDomainError("ProviderSpec.Validate", ErrInvalidSpec,
				fmt.Sprintf("provider %q: url required for http transport", s.Name))
		}
	default:
		return NewDomainError("ProviderSpec.Validate", ErrInvalidSpec,
			fmt.Sprintf("provider %q: unsupported transport %q", s.Name, s.Transport))
	}
	return nil
}

// ConnState is the lifecycle state of a single provider connection.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateReady
	StateFailed
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ProviderStatus is the per-provider snapshot reported by the status endpoint.
type ProviderStatus struct {
	Initialized bool `json:"initialized_successfully"`
	ToolsCount  int  `json:"tools_count"`
}
