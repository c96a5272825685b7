package builtin

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/aetherpro/fabric/shared"
	"github.com/aetherpro/fabric/tools"
)

const commandTimeout = 30 * time.Second

// SystemCommandTool executes shell commands. It is gated to local trust tier
// and carries a command denylist.
func SystemCommandTool() *tools.Tool {
	safety := &tools.SafetyRules{
		CommandDenylist: []string{
			"rm -rf /", "mkfs", "dd if=", ":(){", "shutdown", "reboot",
		},
		MinTrustTier:   shared.TierLocal,
		MaxOutputBytes: 256 << 10,
	}

	return &tools.Tool{
		ID:          "system.command",
		Category:    "system",
		Description: "Shell command execution (local trust tier only)",
		Safety:      safety,
		Capabilities: map[string]tools.Capability{
			"exec": {
				Method:   "exec",
				Required: []string{"command"},
				Handler: func(ctx context.Context, params map[string]any) (any, error) {
					return systemExec(ctx, params, safety)
				},
			},
		},
	}
}

func systemExec(ctx context.Context, params map[string]any, safety *tools.SafetyRules) (any, error) {
	command := str(params, "command")
	for _, denied := range safety.CommandDenylist {
		if strings.Contains(command, denied) {
			return nil, tools.Failf("COMMAND_DENIED", "command matches denylist pattern")
		}
	}

	timeout := commandTimeout
	if ms := integer(params, "timeout_ms", 0); ms > 0 {
		timeout = time.Duration(ms) * time.Millisecond
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, "sh", "-c", command)
	if dir := str(params, "working_dir"); dir != "" {
		cmd.Dir = dir
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		if execCtx.Err() == context.DeadlineExceeded {
			return nil, tools.Failf("COMMAND_TIMEOUT", "command exceeded %s", timeout)
		}
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return nil, tools.Failf("EXEC_ERROR", "failed to run command")
		}
	}

	limit := safety.MaxOutputBytes
	if limit <= 0 {
		limit = 256 << 10
	}
	return map[string]any{
		"exit_code": exitCode,
		"stdout":    truncateString(stdout.String(), limit),
		"stderr":    truncateString(stderr.String(), limit),
	}, nil
}

func truncateString(s string, limit int) string {
	if len(s) > limit {
		return s[:limit]
	}
	return s
}

// SystemEnvTool reads environment variables, filtering out sensitive names.
func SystemEnvTool() *tools.Tool {
	safety := &tools.SafetyRules{
		EnvDenylist:  []string{"SECRET", "TOKEN", "KEY", "PASSWORD", "CREDENTIAL"},
		MinTrustTier: shared.TierOrg,
	}

	return &tools.Tool{
		ID:          "system.env",
		Category:    "system",
		Description: "Environment variable access with sensitive-name filtering",
		Safety:      safety,
		Capabilities: map[string]tools.Capability{
			"get": {
				Method: "get",
				Handler: func(ctx context.Context, params map[string]any) (any, error) {
					return systemEnvGet(params, safety)
				},
			},
		},
	}
}

func envAllowed(name string, denylist []string) bool {
	upper := strings.ToUpper(name)
	for _, pattern := range denylist {
		if strings.Contains(upper, pattern) {
			return false
		}
	}
	return true
}

func systemEnvGet(params map[string]any, safety *tools.SafetyRules) (any, error) {
	if name := str(params, "name"); name != "" {
		if !envAllowed(name, safety.EnvDenylist) {
			return nil, tools.Failf("ACCESS_DENIED", "variable %s is filtered", name)
		}
		value, exists := os.LookupEnv(name)
		return map[string]any{"name": name, "value": value, "exists": exists}, nil
	}

	env := make(map[string]string)
	for _, kv := range os.Environ() {
		name, value, _ := strings.Cut(kv, "=")
		if envAllowed(name, safety.EnvDenylist) {
			env[name] = value
		}
	}
	return map[string]any{"variables": env, "count": len(env)}, nil
}

// SystemClockTool reports the current time.
func SystemClockTool() *tools.Tool {
	return &tools.Tool{
		ID:          "system.clock",
		Category:    "system",
		Description: "Current time in a requested zone and format",
		Capabilities: map[string]tools.Capability{
			"now": {
				Method: "now",
				Handler: func(ctx context.Context, params map[string]any) (any, error) {
					return systemNow(params)
				},
			},
		},
	}
}

func systemNow(params map[string]any) (any, error) {
	zone := str(params, "timezone")
	if zone == "" {
		zone = "UTC"
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, tools.Failf("BAD_TIMEZONE", "unknown timezone: %s", zone)
	}
	now := time.Now().In(loc)

	format := str(params, "format")
	var rendered any
	switch format {
	case "", "iso":
		rendered = now.Format(time.RFC3339)
	case "unix":
		rendered = now.Unix()
	case "rfc1123":
		rendered = now.Format(time.RFC1123)
	default:
		rendered = now.Format(format)
	}

	return map[string]any{
		"timezone": zone,
		"time":     rendered,
	}, nil
}
