package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
)

// onboardAnswers mirrors the config.Config fields an operator is asked
// about; written out as config.json5-compatible JSON (JSON5 is a superset
// of JSON, so a plain json.Marshal output is always a valid config file).
type onboardAnswers struct {
	SandboxUser         string `json:"sandboxUser"`
	SandboxCmdAllowlist string `json:"sandboxCmdAllowlist"`
	ExecuteGoalMinIntervalSec float64 `json:"executeGoalMinIntervalSec"`
	ListenAddr          string `json:"listenAddr"`
}

func onboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "onboard",
		Short: "Interactively write a first-run config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			answers := onboardAnswers{
				SandboxUser:               "sandboxuser",
				ExecuteGoalMinIntervalSec: 2.0,
				ListenAddr:                ":8080",
			}
			minIntervalStr := strconv.FormatFloat(answers.ExecuteGoalMinIntervalSec, 'f', -1, 64)

			form := huh.NewForm(
				huh.NewGroup(
					huh.NewInput().
						Title("Sandbox user").
						Description("Unprivileged identity commands are dropped to via sudo -u").
						Value(&answers.SandboxUser),
					huh.NewInput().
						Title("Command allowlist").
						Description("Comma-separated first tokens, empty disables the gate").
						Value(&answers.SandboxCmdAllowlist),
					huh.NewInput().
						Title("Minimum seconds between execute_goal requests").
						Value(&minIntervalStr),
					huh.NewInput().
						Title("Listen address").
						Value(&answers.ListenAddr),
				),
			)
			if err := form.Run(); err != nil {
				return err
			}
			if v, err := strconv.ParseFloat(minIntervalStr, 64); err == nil {
				answers.ExecuteGoalMinIntervalSec = v
			}

			path := resolveConfigPath()
			data, err := json.MarshalIndent(answers, "", "  ")
			if err != nil {
				return err
			}
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
}
