package shared

import (
	"encoding/json"
	"time"
)

// AgentStatus represents the registry's view of an agent's health.
type AgentStatus string

const (
	StatusOnline   AgentStatus = "online"
	StatusOffline  AgentStatus = "offline"
	StatusDegraded AgentStatus = "degraded"
	StatusUnknown  AgentStatus = "unknown"
)

// StatusRank orders statuses for stable listings: online < degraded < unknown < offline.
func StatusRank(s AgentStatus) int {
	switch s {
	case StatusOnline:
		return 0
	case StatusDegraded:
		return 1
	case StatusUnknown:
		return 2
	case StatusOffline:
		return 3
	default:
		return 4
	}
}

// RuntimeKind selects the adapter protocol for an agent.
type RuntimeKind string

const (
	RuntimeNative     RuntimeKind = "native"
	RuntimeZeroStyle  RuntimeKind = "zero-style"
	RuntimeCustomHTTP RuntimeKind = "custom-http"
)

// TransportType is the agent endpoint transport.
type TransportType string

const (
	TransportHTTP  TransportType = "http"
	TransportWS    TransportType = "ws"
	TransportLocal TransportType = "local"
	TransportStdio TransportType = "stdio"
)

// TrustTier is the policy class gating sensitive operations.
type TrustTier string

const (
	TierLocal  TrustTier = "local"
	TierOrg    TrustTier = "org"
	TierPublic TrustTier = "public"
)

const DefaultCapabilityTimeoutMs = 60000

// CapabilityDescriptor describes one named operation an agent can perform.
type CapabilityDescriptor struct {
	Name         string          `json:"name" yaml:"name"`
	Description  string          `json:"description,omitempty" yaml:"description"`
	Streaming    bool            `json:"streaming" yaml:"streaming"`
	Modalities   []string        `json:"modalities,omitempty" yaml:"modalities"`
	InputSchema  json.RawMessage `json:"input_schema,omitempty" yaml:"-"`
	OutputSchema json.RawMessage `json:"output_schema,omitempty" yaml:"-"`
	MaxTimeoutMs int             `json:"max_timeout_ms,omitempty" yaml:"max_timeout_ms"`
}

// AgentEndpoint is the network address an adapter dials.
type AgentEndpoint struct {
	Transport TransportType `json:"transport" yaml:"transport"`
	URI       string        `json:"uri" yaml:"uri"`
}

// AgentManifest is the complete registration record for one agent.
type AgentManifest struct {
	AgentID      string                 `json:"agent_id" yaml:"agent_id"`
	DisplayName  string                 `json:"display_name" yaml:"display_name"`
	Version      string                 `json:"version" yaml:"version"`
	Description  string                 `json:"description,omitempty" yaml:"description"`
	RuntimeKind  RuntimeKind            `json:"runtime_kind" yaml:"runtime"`
	Endpoint     AgentEndpoint          `json:"endpoint" yaml:"endpoint"`
	Capabilities []CapabilityDescriptor `json:"capabilities" yaml:"capabilities"`
	Tags         []string               `json:"tags,omitempty" yaml:"tags"`
	TrustTier    TrustTier              `json:"trust_tier" yaml:"trust_tier"`
	Status       AgentStatus            `json:"status" yaml:"-"`
	LastSeenAt   time.Time              `json:"last_seen_at,omitempty" yaml:"-"`

	// Protocol holds custom-http request/response shaping, free-form per agent.
	Protocol map[string]string `json:"protocol,omitempty" yaml:"protocol"`
}

// Capability returns the named capability descriptor, if declared.
func (m *AgentManifest) Capability(name string) (*CapabilityDescriptor, bool) {
	for i := range m.Capabilities {
		if m.Capabilities[i].Name == name {
			return &m.Capabilities[i], true
		}
	}
	return nil, false
}

// HasTag reports whether the manifest carries the given tag.
func (m *AgentManifest) HasTag(tag string) bool {
	for _, t := range m.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so registry snapshots stay isolated from callers.
func (m *AgentManifest) Clone() *AgentManifest {
	cp := *m
	cp.Capabilities = make([]CapabilityDescriptor, len(m.Capabilities))
	copy(cp.Capabilities, m.Capabilities)
	cp.Tags = append([]string(nil), m.Tags...)
	if m.Protocol != nil {
		cp.Protocol = make(map[string]string, len(m.Protocol))
		for k, v := range m.Protocol {
			cp.Protocol[k] = v
		}
	}
	return &cp
}

// Normalize fills defaults the loader is permissive about.
func (m *AgentManifest) Normalize() {
	if m.DisplayName == "" {
		m.DisplayName = m.AgentID
	}
	if m.Version == "" {
		m.Version = "1.0.0"
	}
	if m.RuntimeKind == "" {
		m.RuntimeKind = RuntimeNative
	}
	if m.Endpoint.Transport == "" {
		m.Endpoint.Transport = TransportHTTP
	}
	if m.TrustTier == "" {
		m.TrustTier = TierOrg
	}
	if m.Status == "" {
		m.Status = StatusUnknown
	}
	for i := range m.Capabilities {
		if m.Capabilities[i].MaxTimeoutMs <= 0 {
			m.Capabilities[i].MaxTimeoutMs = DefaultCapabilityTimeoutMs
		}
		if len(m.Capabilities[i].Modalities) == 0 {
			m.Capabilities[i].Modalities = []string{"text"}
		}
	}
}

// ToolProvider identifies where a tool implementation lives.
type ToolProvider string

const (
	ProviderBuiltin  ToolProvider = "builtin"
	ProviderExternal ToolProvider = "external"
	ProviderMCP      ToolProvider = "mcp"
)

// ToolDescriptor describes a locally dispatched tool.
type ToolDescriptor struct {
	ToolID       string            `json:"tool_id"`
	Category     string            `json:"category"`
	Description  string            `json:"description,omitempty"`
	Capabilities map[string]string `json:"capabilities"` // capability name -> dispatch method name
	Provider     ToolProvider      `json:"provider"`
}
