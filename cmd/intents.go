package cmd

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	oneclick "github.com/defuse-protocol/one-click-sdk-go"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"xroute/config"
	"xroute/pkg/client"
	"xroute/pkg/parser"
	"xroute/pkg/types"
)

var (
	recipientAddr string
	refundAddr    string
	filterChain   string
	filterSymbol  string
	watchStatus   bool
	watchInterval int
)

var intentsCmd = &cobra.Command{
	Use:   "intents",
	Short: "Query the NEAR Intents 1Click API",
	Long: `Inspect the NEAR Intents network used by intents cross steps: supported
tokens, indicative quotes and deposit status.`,
}

var intentsQuoteCmd = &cobra.Command{
	Use:   "quote <amount> <source-token> [on <chain>] to <dest-token> [on <chain>] [for <recipient>]",
	Short: "Show an indicative quote",
	Long: `Ask the 1Click API for a quote. No deposit address is reserved.

Examples:
  xroute intents quote 100 USDC on eth to USDC on arb --recipient 0x123...
  xroute intents quote 0.5 ETH on eth to BTC for bc1q...`,
	Args: cobra.MinimumNArgs(1),
	Run:  runIntentsQuote,
}

var intentsTokensCmd = &cobra.Command{
	Use:     "tokens",
	Aliases: []string{"list-tokens"},
	Short:   "List all supported tokens",
	Long: `List all tokens supported by the NEAR Intents 1Click API.

Examples:
  xroute intents tokens
  xroute intents tokens --chain arb
  xroute intents tokens --symbol USDC`,
	Run: runIntentsTokens,
}

var intentsStatusCmd = &cobra.Command{
	Use:   "status <deposit-address>",
	Short: "Check the status of a deposit",
	Long: `Check the execution status of an intents transfer by its deposit address.

Examples:
  xroute intents status 0x1234...abcd
  xroute intents status 0x1234...abcd --watch --interval 10`,
	Args: cobra.ExactArgs(1),
	Run:  runIntentsStatus,
}

func init() {
	rootCmd.AddCommand(intentsCmd)
	intentsCmd.AddCommand(intentsQuoteCmd)
	intentsCmd.AddCommand(intentsTokensCmd)
	intentsCmd.AddCommand(intentsStatusCmd)

	intentsQuoteCmd.Flags().StringVar(&recipientAddr, "recipient", "", "Recipient address on the destination chain")
	intentsQuoteCmd.Flags().StringVar(&refundAddr, "refund-to", "", "Refund address on the source chain")

	intentsTokensCmd.Flags().StringVar(&filterChain, "chain", "", "Filter by blockchain")
	intentsTokensCmd.Flags().StringVar(&filterSymbol, "symbol", "", "Filter by token symbol")

	intentsStatusCmd.Flags().BoolVarP(&watchStatus, "watch", "w", false, "Watch status updates continuously")
	intentsStatusCmd.Flags().IntVar(&watchInterval, "interval", 5, "Polling interval in seconds (when watching)")
}

func intentsClient() *client.OneClickClient {
	cfg, err := config.Load()
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	if err := cfg.RequireIntents(); err != nil {
		printError(err)
		os.Exit(1)
	}
	return client.NewOneClickClient(cfg.Intents.JWTToken)
}

func runIntentsQuote(cmd *cobra.Command, args []string) {
	req, err := parser.ParseIntent(strings.Join(args, " "))
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	if recipientAddr != "" {
		req.Recipient = recipientAddr
	}
	if refundAddr != "" {
		req.RefundTo = refundAddr
	}

	verbose, _ := cmd.Flags().GetBool("verbose")
	jsonOutput, _ := cmd.Flags().GetBool("json")
	apiClient := intentsClient()

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !jsonOutput {
		s.Suffix = " Fetching quote..."
		s.Start()
	}
	quote, err := apiClient.GetQuote(context.Background(), req)
	if !jsonOutput {
		s.Stop()
	}
	if err != nil {
		if verbose {
			fmt.Printf("\nDebug: This might be due to:\n")
			fmt.Printf("  1. Invalid JWT token\n")
			fmt.Printf("  2. Token not found (try: xroute intents tokens)\n")
		}
		printError(err)
		os.Exit(1)
	}

	details := quote.GetQuote()
	if jsonOutput {
		printJSON(map[string]interface{}{
			"source_amount":     req.Amount,
			"source_token":      req.SourceToken,
			"dest_amount":       details.GetAmountOutFormatted(),
			"dest_token":        req.DestToken,
			"time_estimate_sec": details.GetTimeEstimate(),
		})
		return
	}
	displayQuote(&details, req)
}

func displayQuote(quote *oneclick.Quote, req *types.IntentRequest) {
	fmt.Println("\n" + strings.Repeat("=", 60))
	color.Green("                     INTENTS QUOTE")
	fmt.Println(strings.Repeat("=", 60))

	fmt.Printf("\n  From:              %s %s\n", quote.GetAmountInFormatted(), color.YellowString(req.SourceToken))
	fmt.Printf("  To:                ~%s %s\n", quote.GetAmountOutFormatted(), color.YellowString(req.DestToken))
	fmt.Printf("  Estimated Time:    %.0f seconds\n", quote.GetTimeEstimate())

	if req.SourceChain != "" {
		fmt.Printf("  Source Chain:      %s\n", req.SourceChain)
	}
	if req.DestChain != "" {
		fmt.Printf("  Destination Chain: %s\n", req.DestChain)
	}
	if req.Recipient != "" {
		fmt.Printf("  Recipient:         %s\n", color.CyanString(req.Recipient))
	}

	fmt.Println("\n" + strings.Repeat("=", 60) + "\n")
}

func runIntentsTokens(cmd *cobra.Command, args []string) {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	apiClient := intentsClient()

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !jsonOutput {
		s.Suffix = " Fetching supported tokens..."
		s.Start()
	}
	tokens, err := apiClient.GetSupportedTokens(context.Background())
	if !jsonOutput {
		s.Stop()
	}
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	filtered := filterTokens(tokens, filterChain, filterSymbol)
	if jsonOutput {
		printJSON(filtered)
		return
	}
	displayTokens(filtered)
}

func filterTokens(tokens []oneclick.TokenResponse, chain, symbol string) []oneclick.TokenResponse {
	var out []oneclick.TokenResponse
	for _, token := range tokens {
		if chain != "" && !strings.EqualFold(token.GetBlockchain(), chain) {
			continue
		}
		if symbol != "" && !strings.Contains(strings.ToUpper(token.GetSymbol()), strings.ToUpper(symbol)) {
			continue
		}
		out = append(out, token)
	}
	return out
}

func displayTokens(tokens []oneclick.TokenResponse) {
	if len(tokens) == 0 {
		fmt.Println("\nNo tokens found matching the criteria.")
		return
	}

	fmt.Println("\n" + strings.Repeat("=", 90))
	color.Green("                            SUPPORTED TOKENS")
	fmt.Println(strings.Repeat("=", 90))

	byChain := make(map[string][]oneclick.TokenResponse)
	for _, token := range tokens {
		byChain[token.GetBlockchain()] = append(byChain[token.GetBlockchain()], token)
	}
	chains := make([]string, 0, len(byChain))
	for chain := range byChain {
		chains = append(chains, chain)
	}
	sort.Strings(chains)

	for _, chain := range chains {
		color.Cyan("\n%s", strings.ToUpper(chain))
		fmt.Println(strings.Repeat("-", 90))
		for _, token := range byChain[chain] {
			address := token.GetContractAddress()
			if len(address) > 40 {
				address = address[:37] + "..."
			}
			fmt.Printf("  %-10s  %2.0f decimals  %s\n",
				color.YellowString(token.GetSymbol()),
				token.GetDecimals(),
				color.HiBlackString(address))
		}
	}

	fmt.Println("\n" + strings.Repeat("=", 90))
	fmt.Printf("\nTotal: %d tokens across %d blockchains\n\n", len(tokens), len(chains))
}

func runIntentsStatus(cmd *cobra.Command, args []string) {
	depositAddress := args[0]
	jsonOutput, _ := cmd.Flags().GetBool("json")
	apiClient := intentsClient()

	if !watchStatus {
		status, err := apiClient.SwapStatus(context.Background(), depositAddress)
		if err != nil {
			printError(err)
			os.Exit(1)
		}
		if jsonOutput {
			printJSON(status)
			return
		}
		displayStatus(status, depositAddress)
		return
	}

	if jsonOutput {
		fmt.Println(`{"error": "watch mode not supported with JSON output"}`)
		os.Exit(1)
	}

	ctx, stop := signalContext()
	defer stop()

	fmt.Printf("\nWatching deposit %s\n", color.CyanString(depositAddress))
	fmt.Printf("Checking every %d seconds. Press Ctrl+C to stop.\n\n", watchInterval)

	ticker := time.NewTicker(time.Duration(watchInterval) * time.Second)
	defer ticker.Stop()

	for {
		status, err := apiClient.SwapStatus(ctx, depositAddress)
		if err != nil {
			color.Red("Error: %v", err)
		} else {
			displayStatus(status, depositAddress)
			if isFinalStatus(status.Status) {
				return
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func isFinalStatus(status string) bool {
	switch status {
	case client.StatusSuccess, client.StatusCompleted, client.StatusFailed, client.StatusRefunded:
		return true
	}
	return false
}

func displayStatus(status *client.SwapStatus, depositAddress string) {
	fmt.Println("\n" + strings.Repeat("=", 70))
	color.Green("                        DEPOSIT STATUS")
	fmt.Println(strings.Repeat("=", 70))

	fmt.Printf("\n  Deposit Address: %s\n", color.CyanString(depositAddress))
	fmt.Printf("  Status:          %s\n", coloredIntentStatus(status.Status))
	fmt.Printf("  Last Updated:    %s\n", status.UpdatedAt.Format("2006-01-02 15:04:05"))
	if status.OriginTxHash != "" {
		fmt.Printf("  Deposit Tx:      %s\n", color.HiBlackString(status.OriginTxHash))
	}
	if status.DestinationTxHash != "" {
		fmt.Printf("  Withdrawal Tx:   %s\n", color.HiBlackString(status.DestinationTxHash))
	}
	if status.AmountOutFormatted != "" {
		fmt.Printf("  Amount Out:      %s\n", status.AmountOutFormatted)
	}

	fmt.Println("\n" + strings.Repeat("=", 70) + "\n")
}

func coloredIntentStatus(status string) string {
	switch status {
	case client.StatusSuccess, client.StatusCompleted:
		return color.GreenString(status)
	case "PENDING_DEPOSIT", "PENDING", "PROCESSING", "KNOWN_DEPOSIT_TX":
		return color.YellowString(status)
	case client.StatusFailed, client.StatusRefunded:
		return color.RedString(status)
	case "INCOMPLETE_DEPOSIT":
		return color.MagentaString(status)
	default:
		return status
	}
}
