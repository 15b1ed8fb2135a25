// Command bap-server runs the BAP WebSocket listener: it loads
// configuration from the environment, wires the session manager, policy
// stack, browser engine, and method dispatcher together, and serves
// connections until it receives a termination signal.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "bap-server",
	Short: "Browser Agent Protocol server",
	Long: `bap-server exposes a Browser Agent Protocol endpoint over WebSocket:
JSON-RPC 2.0 calls drive a browser engine (go-rod/Chrome by default) through
a closed set of lifecycle, navigation, action, and observation methods.`,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}
