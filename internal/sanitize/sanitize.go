// Package sanitize implements the single authoritative lexical gate a
// candidate shell command must pass before the sandbox executor will spawn
// it. It is a pure function of its input: no state, no I/O.
package sanitize

import (
	"fmt"
	"strings"

	"github.com/mattn/go-shellwords"
)

// Options configures the policy a Check call enforces.
type Options struct {
	// MaxLen rejects any command longer than this many bytes.
	MaxLen int
	// Strict additionally rejects ASCII control characters other than tab.
	Strict bool
	// Allowlist, when non-empty, is the set of permitted first tokens.
	// Empty means "no allowlist gate".
	Allowlist []string
}

// controlCharRejected reports whether r is one of the ASCII control
// characters spec.md §4.1 rule 4 forbids in strict mode (tab is allowed).
func controlCharRejected(r byte) bool {
	switch {
	case r == '\t':
		return false
	case r <= 0x08, r == 0x0B, r == 0x0C, (r >= 0x0E && r <= 0x1F), r == 0x7F:
		return true
	default:
		return false
	}
}

// Check applies the sanitizer policy to cmd and returns (ok, reason).
// reason is empty when ok is true.
func Check(cmd string, opts Options) (bool, string) {
	if strings.TrimSpace(cmd) == "" {
		return false, "empty or whitespace-only command"
	}

	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = 2000
	}
	if len(cmd) > maxLen {
		return false, fmt.Sprintf("command exceeds max length %d", maxLen)
	}

	if strings.ContainsAny(cmd, "\n\r\x00") {
		return false, "command contains a forbidden newline or NUL byte"
	}

	if opts.Strict {
		for i := 0; i < len(cmd); i++ {
			if controlCharRejected(cmd[i]) {
				return false, fmt.Sprintf("command contains a forbidden control character (0x%02X)", cmd[i])
			}
		}
	}

	if len(opts.Allowlist) > 0 {
		tokens, err := shellwords.Parse(cmd)
		if err != nil || len(tokens) == 0 {
			return false, "command could not be tokenized for allowlist check"
		}
		first := tokens[0]
		allowed := false
		for _, a := range opts.Allowlist {
			if a == first {
				allowed = true
				break
			}
		}
		if !allowed {
			return false, fmt.Sprintf("first token %q is not in the allowlist", first)
		}
	}

	return true, ""
}

// ParseAllowlist splits a comma-separated allowlist string the way
// SANDBOX_CMD_ALLOWLIST is configured, trimming whitespace around entries
// and dropping empties.
func ParseAllowlist(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
