package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/browseragentprotocol/bap/internal/protocol"
)

// buildVersion is overridden at release build time via -ldflags.
var buildVersion = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the server and protocol version",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("bap-server %s (protocol %s)\n", buildVersion, protocol.Version)
		return nil
	},
}
