package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"text/tabwriter"

	"github.com/fatih/color"

	"xroute/pkg/types"
)

var messageText = map[types.MessageKey]string{
	types.MsgSetAllowance:       "Set allowance for {token}",
	types.MsgAllowanceWait:      "Waiting for allowance of {token}",
	types.MsgAllowanceDone:      "Allowance for {token} set",
	types.MsgPrepareTransaction: "Preparing transaction",
	types.MsgSignTransaction:    "Sign the transaction {address}",
	types.MsgWaitTransaction:    "Waiting for transaction",
	types.MsgTransactionSent:    "Transaction sent",
	types.MsgSwapDone:           "Swap completed",
	types.MsgWaitReceiver:       "Waiting for the receiving chain {txid}",
	types.MsgReceiverPrepared:   "Receiving chain prepared the transfer",
	types.MsgReadyToSign:        "Sign to claim your funds",
	types.MsgSignedWaitClaim:    "Waiting for the claim",
	types.MsgFundsClaimed:       "Funds claimed",
	types.MsgDepositSent:        "Deposit sent",
	types.MsgWaitSettlement:     "Waiting for settlement",
	types.MsgSettled:            "Settled {amount}",
	types.MsgFailed:             "Failed: {reason}",
	types.MsgCounterpartyWait:   "The counterparty did not respond in time",
	types.MsgSwitchChain:        "Switch to chain {chain}",
}

// renderMessage turns a structured message into display text
func renderMessage(m types.Message) string {
	text, ok := messageText[m.Key]
	if !ok {
		text = string(m.Key)
	}
	for name, value := range m.Params {
		text = strings.ReplaceAll(text, "{"+name+"}", value)
	}
	// drop placeholders nobody filled in
	for {
		start := strings.Index(text, "{")
		end := strings.Index(text, "}")
		if start < 0 || end < start {
			break
		}
		text = strings.TrimSpace(text[:start] + text[end+1:])
	}
	return text
}

func coloredProcessStatus(s types.ProcessStatus) string {
	switch s {
	case types.ProcessDone:
		return color.GreenString(string(s))
	case types.ProcessPending, types.ProcessActionRequired:
		return color.YellowString(string(s))
	case types.ProcessFailed, types.ProcessCancelled:
		return color.RedString(string(s))
	default:
		return string(s)
	}
}

func coloredExecutionStatus(s types.ExecutionStatus) string {
	switch s {
	case types.StatusDone:
		return color.GreenString(string(s))
	case types.StatusFailed:
		return color.RedString(string(s))
	case types.StatusActionRequired, types.StatusChainSwitchRequired:
		return color.MagentaString(string(s))
	case types.StatusPending, types.StatusResume:
		return color.YellowString(string(s))
	default:
		return string(s)
	}
}

func coloredRouteStatus(s types.RouteStatus) string {
	switch s {
	case types.RouteDone:
		return color.GreenString(string(s))
	case types.RouteFailed:
		return color.RedString(string(s))
	default:
		return color.YellowString(string(s))
	}
}

func printJSON(v interface{}) {
	jsonData, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(jsonData))
}

// displayRoute prints a route with every step and process
func displayRoute(route *types.Route) {
	fmt.Println("\n" + strings.Repeat("=", 70))
	color.Green("                          ROUTE")
	fmt.Println(strings.Repeat("=", 70))

	fmt.Printf("\n  ID:      %s\n", color.CyanString(route.ID))
	fmt.Printf("  Status:  %s\n", coloredRouteStatus(route.Status()))
	fmt.Printf("  From:    %s %s (chain %d)\n", route.FromAmount, color.YellowString(route.FromToken.Symbol), route.FromChainID)
	fmt.Printf("  To:      %s %s (chain %d)\n", route.ToAmount, color.YellowString(route.ToToken.Symbol), route.ToChainID)
	if !route.UpdatedAt.IsZero() {
		fmt.Printf("  Updated: %s\n", route.UpdatedAt.Format("2006-01-02 15:04:05"))
	}

	for i, step := range route.Steps {
		color.Cyan("\n  Step %d: %s via %s", i+1, step.Type, step.Tool)
		fmt.Printf("    Status: %s\n", coloredExecutionStatus(step.Status()))
		if step.Execution == nil || len(step.Execution.Process) == 0 {
			continue
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		for _, p := range step.Execution.Process {
			line := fmt.Sprintf("    %s\t%s\t%s", p.Type, coloredProcessStatus(p.Status), renderMessage(p.Message))
			if p.TxLink != "" {
				line += "\t" + color.HiBlackString(p.TxLink)
			} else if p.TxHash != "" {
				line += "\t" + color.HiBlackString(p.TxHash)
			}
			fmt.Fprintln(w, line)
			if p.ErrorMessage != "" {
				fmt.Fprintf(w, "    \t%s\t%s\n", color.RedString(p.ErrorCode), p.ErrorMessage)
			}
		}
		w.Flush()
	}

	fmt.Println("\n" + strings.Repeat("=", 70) + "\n")
}

// progressPrinter prints each process transition once
type progressPrinter struct {
	mu   sync.Mutex
	seen map[string]string
}

func newProgressPrinter() *progressPrinter {
	return &progressPrinter{seen: make(map[string]string)}
}

func (pp *progressPrinter) update(route *types.Route) {
	pp.mu.Lock()
	defer pp.mu.Unlock()

	for i, step := range route.Steps {
		if step.Execution == nil {
			continue
		}
		stepKey := fmt.Sprintf("step:%d", i)
		stepState := string(step.Execution.Status)
		if pp.seen[stepKey] != stepState {
			pp.seen[stepKey] = stepState
			if step.Execution.Status == types.StatusChainSwitchRequired {
				color.Magenta("  Step %d needs a switch to chain %d", i+1, step.Action.FromChainID)
			}
		}
		for _, p := range step.Execution.Process {
			state := string(p.Status) + "|" + string(p.Message.Key) + "|" + p.TxHash
			if pp.seen[p.ID] == state {
				continue
			}
			pp.seen[p.ID] = state
			fmt.Printf("  [%d] %-16s %-15s %s", i+1, p.Type, coloredProcessStatus(p.Status), renderMessage(p.Message))
			if p.TxLink != "" {
				fmt.Printf("  %s", color.HiBlackString(p.TxLink))
			}
			fmt.Println()
			if p.ErrorMessage != "" {
				color.Red("      %s", p.ErrorMessage)
			}
		}
	}
}
