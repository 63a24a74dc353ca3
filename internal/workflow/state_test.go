package workflow

import "testing"

func TestIsDirectCommand(t *testing.T) {
	cases := map[string]bool{
		"echo hi":        true,
		"ls -la":         true,
		"curl example":   true,
		"print hello":    false,
		"remediate step": false,
	}
	for in, want := range cases {
		if got := isDirectCommand(in); got != want {
			t.Errorf("isDirectCommand(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestIsForbidden(t *testing.T) {
	cases := map[string]bool{
		"open -a Terminal":  true,
		"OPEN -A TERMINAL":  true,
		"cmd /c dir":        true,
		"cmd.exe /c dir":    true,
		"start notepad.exe": true,
		"powershell -c ls":  true,
		"echo hi":           false,
	}
	for in, want := range cases {
		if got := isForbidden(in); got != want {
			t.Errorf("isForbidden(%q) = %v, want %v", in, got, want)
		}
	}
}
