package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/terminusdev/terminus/pkg/protocol"
)

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("terminus %s (protocol %d)\n", Version, protocol.ProtocolVersion)
		},
	}
}
