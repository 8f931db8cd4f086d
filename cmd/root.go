package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "xroute",
	Short: "Execute multi-step cross-chain routes",
	Long: `xroute executes routes of swaps and cross-chain transfers with a local
wallet. Every state change is stored, so interrupted routes can be resumed
and failed steps retried without repeating completed work.

Examples:
  xroute run route.json
  xroute resume <route-id>
  xroute restart <route-id>
  xroute list
  xroute transfers --watch
  xroute intents quote 100 USDC on eth to USDC on arb --recipient 0x123...
  xroute daemon`,
	Version: "0.1.0",
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "Output in JSON format")
}

func printError(err error) {
	fmt.Printf("\nError: %v\n\n", err)
}

func printSuccess(message string) {
	fmt.Printf("\n%s\n\n", message)
}
