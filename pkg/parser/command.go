package parser

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"xroute/pkg/types"
)

// <amount> <token> [on <chain>] to <token> [on <chain>] [for <recipient>]
var intentPattern = regexp.MustCompile(`^(\d+\.?\d*)\s+([A-Z0-9]+)(?:\s+ON\s+([A-Z0-9-]+))?\s+TO\s+([A-Z0-9]+)(?:\s+ON\s+([A-Z0-9-]+))?(?:\s+FOR\s+(\S+))?$`)

// ParseIntent parses a shorthand transfer command
// Examples:
//   - "swap 1 ETH to USDC"
//   - "1.5 ETH on eth to USDC on arb"
//   - "100 USDC on base to ETH on eth for 0xabc..."
func ParseIntent(command string) (*types.IntentRequest, error) {
	command = strings.Join(strings.Fields(command), " ")
	upper := strings.ToUpper(command)
	if strings.HasPrefix(upper, "SWAP ") {
		upper = upper[5:]
		command = command[5:]
	}

	matches := intentPattern.FindStringSubmatch(upper)
	if matches == nil {
		return nil, fmt.Errorf("invalid command format. Expected: '<amount> <token> [on <chain>] to <token> [on <chain>] [for <recipient>]' (e.g., '1 ETH on eth to USDC on arb')")
	}

	req := &types.IntentRequest{
		Amount:      matches[1],
		SourceToken: NormalizeTokenSymbol(matches[2]),
		SourceChain: strings.ToLower(matches[3]),
		DestToken:   NormalizeTokenSymbol(matches[4]),
		DestChain:   strings.ToLower(matches[5]),
	}
	if matches[6] != "" {
		// addresses are case sensitive on some chains, so take them from the raw input
		fields := strings.Fields(command)
		req.Recipient = fields[len(fields)-1]
	}
	return req, ValidateIntent(req)
}

// ValidateIntent validates that a request has all required fields
func ValidateIntent(req *types.IntentRequest) error {
	if req.Amount == "" {
		return fmt.Errorf("amount is required")
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return fmt.Errorf("invalid amount %q", req.Amount)
	}
	if !amount.IsPositive() {
		return fmt.Errorf("amount must be positive")
	}
	if req.SourceToken == "" {
		return fmt.Errorf("source token is required")
	}
	if req.DestToken == "" {
		return fmt.Errorf("destination token is required")
	}
	if req.SourceToken == req.DestToken && req.SourceChain == req.DestChain {
		return fmt.Errorf("source and destination are the same asset")
	}
	return nil
}

// NormalizeTokenSymbol normalizes token symbols to standard format
func NormalizeTokenSymbol(symbol string) string {
	symbol = strings.TrimSpace(strings.ToUpper(symbol))

	aliases := map[string]string{
		"WBTC": "BTC",
		"WETH": "ETH",
	}

	if normalized, exists := aliases[symbol]; exists {
		return normalized
	}

	return symbol
}
