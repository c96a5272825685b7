package shared

import "time"

// AuthMode is the credential mechanism a caller authenticated with.
type AuthMode string

const (
	AuthModePSK      AuthMode = "psk"
	AuthModePassport AuthMode = "passport"
	AuthModeMTLS     AuthMode = "mtls"
	AuthModeNone     AuthMode = "none"
)

// AuthContext is the verified identity attached to every envelope. Passport
// and mTLS fields are carried but not cryptographically verified in this
// revision.
type AuthContext struct {
	Mode            AuthMode `json:"mode"`
	PrincipalID     string   `json:"principal_id,omitempty"`
	AgentPassportID string   `json:"agent_passport_id,omitempty"`
	Signature       string   `json:"signature,omitempty"`
	KeyID           string   `json:"key_id,omitempty"`
}

// TargetKind classifies what an envelope is addressed to.
type TargetKind string

const (
	TargetAgent   TargetKind = "agent"
	TargetTool    TargetKind = "tool"
	TargetMessage TargetKind = "message"
)

// EnvelopeTarget addresses the envelope.
type EnvelopeTarget struct {
	Kind       TargetKind `json:"kind"`
	ID         string     `json:"id"`
	Capability string     `json:"capability"`
	TimeoutMs  int        `json:"timeout_ms,omitempty"`
}

// EnvelopeInput is the caller-supplied work description.
type EnvelopeInput struct {
	Task        string         `json:"task,omitempty"`
	Context     map[string]any `json:"context,omitempty"`
	Attachments []any          `json:"attachments,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// EnvelopeResponse describes how the caller wants the result shaped.
type EnvelopeResponse struct {
	Stream bool   `json:"stream"`
	Format string `json:"format,omitempty"`
}

// CanonicalEnvelope is the normalized in-process form of every call.
type CanonicalEnvelope struct {
	Trace    TraceContext     `json:"trace"`
	Auth     AuthContext      `json:"auth"`
	Target   EnvelopeTarget   `json:"target"`
	Input    EnvelopeInput    `json:"input"`
	Response EnvelopeResponse `json:"response"`
}

// Deadline resolves the effective per-call timeout: the envelope's timeout_ms,
// else the capability's max, else the global default.
func (e *CanonicalEnvelope) Deadline(cap *CapabilityDescriptor) time.Duration {
	ms := e.Target.TimeoutMs
	if ms <= 0 && cap != nil {
		ms = cap.MaxTimeoutMs
	}
	if ms <= 0 {
		ms = DefaultCapabilityTimeoutMs
	}
	return time.Duration(ms) * time.Millisecond
}

// Response is the wire envelope returned for every call, success or failure.
type Response struct {
	OK     bool         `json:"ok"`
	Trace  TraceContext `json:"trace"`
	Result any          `json:"result"`
	Error  *Error       `json:"error,omitempty"`
}

func OKResponse(trace TraceContext, result any) *Response {
	return &Response{OK: true, Trace: trace, Result: result}
}

func FailResponse(trace TraceContext, err error) *Response {
	return &Response{OK: false, Trace: trace, Error: AsError(err)}
}
