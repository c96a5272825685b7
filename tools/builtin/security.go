package builtin

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"hash"

	"github.com/aetherpro/fabric/tools"
)

// SecurityHashTool computes message digests.
func SecurityHashTool() *tools.Tool {
	return &tools.Tool{
		ID:          "security.hash",
		Category:    "security",
		Description: "Message digests (md5, sha1, sha256, sha512)",
		Capabilities: map[string]tools.Capability{
			"hash": {
				Method:   "hash",
				Required: []string{"data"},
				Handler: func(ctx context.Context, params map[string]any) (any, error) {
					return securityHash(params)
				},
			},
		},
	}
}

func securityHash(params map[string]any) (any, error) {
	algorithm := str(params, "algorithm")
	if algorithm == "" {
		algorithm = "sha256"
	}
	var h hash.Hash
	switch algorithm {
	case "md5":
		h = md5.New()
	case "sha1":
		h = sha1.New()
	case "sha256":
		h = sha256.New()
	case "sha512":
		h = sha512.New()
	default:
		return nil, tools.Failf("BAD_ALGORITHM", "unsupported algorithm: %s", algorithm)
	}
	h.Write([]byte(str(params, "data")))
	return map[string]any{
		"algorithm": algorithm,
		"digest":    hex.EncodeToString(h.Sum(nil)),
	}, nil
}

// SecurityBase64Tool encodes and decodes base64.
func SecurityBase64Tool() *tools.Tool {
	return &tools.Tool{
		ID:          "security.base64",
		Category:    "security",
		Description: "Base64 encoding and decoding",
		Capabilities: map[string]tools.Capability{
			"encode": {
				Method:   "base64_encode",
				Required: []string{"data"},
				Handler: func(ctx context.Context, params map[string]any) (any, error) {
					return securityBase64(params)
				},
			},
		},
	}
}

func securityBase64(params map[string]any) (any, error) {
	data := str(params, "data")
	if boolean(params, "decode") {
		decoded, err := base64.StdEncoding.DecodeString(data)
		if err != nil {
			return nil, tools.Failf("DECODE_ERROR", "invalid base64 input")
		}
		return map[string]any{"decoded": string(decoded)}, nil
	}
	return map[string]any{"encoded": base64.StdEncoding.EncodeToString([]byte(data))}, nil
}
