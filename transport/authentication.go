package transport

import (
	"crypto/subtle"
	"strings"
	"unicode"

	"github.com/aetherpro/fabric/shared"
	"github.com/aetherpro/fabric/shared/config"
	"go.uber.org/zap"
)

// Authenticator verifies inbound credentials and produces the AuthContext
// stamped on every envelope. Only PSK verification is active; passport and
// mTLS are reserved shapes carried through unverified.
type Authenticator struct {
	cfg    config.IConfig
	logger *zap.Logger
}

func NewAuthenticator(cfg config.IConfig, logger *zap.Logger) *Authenticator {
	return &Authenticator{cfg: cfg, logger: logger}
}

// Authenticate validates the bearer token against the configured shared
// secret with a constant-time comparison.
func (a *Authenticator) Authenticate(token string) (shared.AuthContext, error) {
	authType, err := a.cfg.AuthorizationType()
	if err != nil {
		return shared.AuthContext{}, shared.NewError(shared.ErrInternal, "internal error")
	}
	if authType == config.NoAuthorization {
		return shared.AuthContext{Mode: shared.AuthModeNone, PrincipalID: "local"}, nil
	}

	if token == "" {
		return shared.AuthContext{}, shared.NewError(shared.ErrAuthDenied, "no authentication token provided")
	}
	if malformedToken(token) {
		return shared.AuthContext{}, shared.NewError(shared.ErrAuthInvalid, "malformed authentication token")
	}

	psk, err := a.cfg.PSK()
	if err != nil || psk == "" {
		a.logger.Error("PSK not configured but authorization required")
		return shared.AuthContext{}, shared.NewError(shared.ErrInternal, "internal error")
	}

	if subtle.ConstantTimeCompare([]byte(token), []byte(psk)) != 1 {
		return shared.AuthContext{}, shared.NewError(shared.ErrAuthDenied, "invalid authentication token")
	}

	return shared.AuthContext{Mode: shared.AuthModePSK, PrincipalID: "psk-client"}, nil
}

func malformedToken(token string) bool {
	for _, r := range token {
		if unicode.IsSpace(r) || unicode.IsControl(r) || r > unicode.MaxASCII {
			return true
		}
	}
	return false
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}

// MergePassport copies caller-declared passport fields into the auth context.
// The structure is parsed into the envelope but not verified; cryptographic
// validation is an extension point.
func MergePassport(auth shared.AuthContext, args map[string]any) shared.AuthContext {
	passport, ok := args["passport"].(map[string]any)
	if !ok {
		return auth
	}
	if v, ok := passport["agent_passport_id"].(string); ok {
		auth.AgentPassportID = v
	}
	if v, ok := passport["signature"].(string); ok {
		auth.Signature = v
	}
	if v, ok := passport["key_id"].(string); ok {
		auth.KeyID = v
	}
	return auth
}
