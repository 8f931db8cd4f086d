package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"xroute/config"
	"xroute/pkg/bridge"
)

var (
	watchTransfers bool
	showHistory    bool
)

var transfersCmd = &cobra.Command{
	Use:   "transfers",
	Short: "Show bridge transfers of the configured wallet",
	Long: `List the bridge transfers the counterparty network still considers active.

Examples:
  xroute transfers
  xroute transfers --history
  xroute transfers --watch
  xroute transfers cancel <transaction-id>`,
	Run: runTransfers,
}

var transfersCancelCmd = &cobra.Command{
	Use:   "cancel <transaction-id>",
	Short: "Cancel a transfer the receiving chain has not prepared",
	Args:  cobra.ExactArgs(1),
	Run:   runTransfersCancel,
}

func init() {
	rootCmd.AddCommand(transfersCmd)
	transfersCmd.AddCommand(transfersCancelCmd)

	transfersCmd.Flags().BoolVarP(&watchTransfers, "watch", "w", false, "Follow transfer updates until interrupted")
	transfersCmd.Flags().BoolVar(&showHistory, "history", false, "List finished transfers instead")
}

func runTransfers(cmd *cobra.Command, args []string) {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	cfg, err := config.Load()
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	ctx, stop := signalContext()
	defer stop()

	e, err := newEngine(ctx, cfg, false)
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	defer e.Close()
	user := e.wallet.Address().Hex()

	if showHistory {
		transfers, err := e.bridge.HistoricalTransfers(ctx, user)
		if err != nil {
			printError(err)
			os.Exit(1)
		}
		if jsonOutput {
			printJSON(transfers)
			return
		}
		displayHistory(transfers)
		return
	}

	if !watchTransfers {
		s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
		if !jsonOutput {
			s.Suffix = " Fetching active transfers..."
			s.Start()
		}
		transfers, err := e.bridge.ActiveTransfers(ctx, user)
		if !jsonOutput {
			s.Stop()
		}
		if err != nil {
			printError(err)
			os.Exit(1)
		}
		if jsonOutput {
			printJSON(transfers)
			return
		}
		displayTransfers(e.bridge, transfers)
		return
	}

	if jsonOutput {
		fmt.Println(`{"error": "watch mode not supported with JSON output"}`)
		os.Exit(1)
	}
	if err := e.startEvents(ctx); err != nil {
		printError(err)
		os.Exit(1)
	}
	tracker := bridge.NewTracker(e.network, e.hub, user, func(tr bridge.ActiveTransfer, active bool) {
		state := color.YellowString(string(tr.Status))
		if !active {
			state = color.GreenString(string(tr.Status))
		}
		fmt.Printf("  %s  %s  %s\n", time.Now().Format("15:04:05"), color.CyanString(tr.TransactionID), state)
	})
	if err := tracker.Start(ctx); err != nil {
		printError(err)
		os.Exit(1)
	}
	defer tracker.Stop()

	fmt.Printf("\nWatching transfers of %s\n", color.CyanString(user))
	fmt.Println("Press Ctrl+C to stop.")
	displayTransfers(e.bridge, tracker.Active())
	<-ctx.Done()
}

func runTransfersCancel(cmd *cobra.Command, args []string) {
	cfg, err := config.Load()
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	ctx, stop := signalContext()
	defer stop()

	e, err := newEngine(ctx, cfg, true)
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	defer e.Close()

	signer, err := e.wallet.OnChain(cfg.Wallet.DefaultChain)
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " Requesting cancellation..."
	s.Start()
	err = e.bridge.Cancel(ctx, signer, args[0])
	s.Stop()
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	printSuccess(color.GreenString("Cancellation of %s requested.", args[0]))
}

func displayTransfers(b *bridge.Client, transfers []bridge.ActiveTransfer) {
	if len(transfers) == 0 {
		fmt.Println("\nNo active transfers.")
		return
	}

	fmt.Println("\n" + strings.Repeat("=", 90))
	color.Green("                              ACTIVE TRANSFERS")
	fmt.Println(strings.Repeat("=", 90))

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  TRANSACTION\tSTATUS\tCHAINS\tAMOUNT\tLINK")
	for _, tr := range transfers {
		fmt.Fprintf(w, "  %s\t%s\t%d -> %d\t%s\t%s\n",
			tr.TransactionID,
			tr.Status,
			tr.Crosschain.SendingChainID,
			tr.Crosschain.ReceivingChainID,
			tr.Crosschain.Amount,
			b.StatusLink(tr.TransactionID))
	}
	w.Flush()
	fmt.Println()
}

func displayHistory(transfers []bridge.HistoricalTransfer) {
	if len(transfers) == 0 {
		fmt.Println("\nNo finished transfers.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TRANSACTION\tSTATUS\tCHAINS\tPREPARED\tTX")
	for _, tr := range transfers {
		status := color.GreenString(tr.Status)
		hash := tr.FulfilledTxHash
		if tr.Status == bridge.HistoricalCancelled {
			status = color.RedString(tr.Status)
			hash = tr.CancelledTxHash
		}
		fmt.Fprintf(w, "%s\t%s\t%d -> %d\t%s\t%s\n",
			tr.TransactionID,
			status,
			tr.Crosschain.SendingChainID,
			tr.Crosschain.ReceivingChainID,
			tr.PreparedAt.Format("2006-01-02 15:04"),
			hash)
	}
	w.Flush()
}
