package cmd

import (
	"fmt"
	"os/exec"
	"os/user"

	"github.com/spf13/cobra"

	"github.com/terminusdev/terminus/internal/config"
	"github.com/terminusdev/terminus/internal/gateway"
)

// checkReadiness enumerates the two runtime preconditions spec.md §4.8
// names: upstream credentials present, and the sandbox identity
// resolvable. Degradation is reported but never refuses connections.
func checkReadiness(cfg *config.Config) gateway.Readiness {
	if !cfg.SandboxForceLocal && !cfg.SandboxSkipUserCheck {
		if _, err := exec.LookPath("sudo"); err != nil {
			return gateway.Readiness{Ready: false, Reason: "sudo not found on PATH; sandbox will fall back to local execution"}
		}
		if _, err := user.Lookup(cfg.SandboxUser); err != nil {
			return gateway.Readiness{Ready: false, Reason: fmt.Sprintf("sandbox user %q does not resolve: %v", cfg.SandboxUser, err)}
		}
	}
	if cfg.Offline() {
		return gateway.Readiness{Ready: false, Reason: "no upstream credentials (OPENAI_API_KEY); planner and translator run in offline mode"}
	}
	return gateway.Readiness{Ready: true}
}

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check startup preconditions (credentials, sandbox identity)",
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				fmt.Println("config:  FAIL -", err)
				return
			}
			fmt.Println("config:  OK")

			if cfg.Offline() {
				fmt.Println("upstream: OFFLINE (no OPENAI_API_KEY) — deterministic fake mode in effect")
			} else {
				fmt.Println("upstream: OK - credentials present")
			}

			readiness := checkReadiness(cfg)
			if readiness.Ready {
				fmt.Println("readiness: OK")
			} else {
				fmt.Println("readiness: DEGRADED -", readiness.Reason)
			}
		},
	}
}
