package workflow

import "strings"

// directCommandPrefixes lists the step prefixes (case-sensitive, matched
// as plain string prefixes, so "lsof" matches "ls") that are used verbatim
// as the command without calling the translator, per spec.md §4.7 step 3.
var directCommandPrefixes = []string{
	"if", "while", "curl", "sudo", "rm", "wget", "apt", "apt-get", "dnf",
	"yum", "brew", "bash", "echo", "cat", "ls", "cd", "mkdir", "touch",
}

// forbiddenPrefixes lists case-insensitive step prefixes that are always
// rejected as a direct command and as a translator result, per spec.md
// §4.7 step 3.
var forbiddenPrefixes = []string{
	"open -a terminal", "cmd ", "cmd.exe", "start ", "powershell",
}

// isDirectCommand reports whether step should be used verbatim as the
// command rather than sent to the translator.
func isDirectCommand(step string) bool {
	for _, prefix := range directCommandPrefixes {
		if strings.HasPrefix(step, prefix) {
			return true
		}
	}
	return false
}

// isForbidden reports whether candidate (a step or a translator result)
// matches a forbidden prefix and must be rejected.
func isForbidden(candidate string) bool {
	lower := strings.ToLower(candidate)
	for _, prefix := range forbiddenPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}
