package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	oneclick "github.com/defuse-protocol/one-click-sdk-go"

	"xroute/pkg/types"
)

// quoteDeadline bounds how long a deposit address accepts funds
const quoteDeadline = 24 * time.Hour

// OneClickClient wraps the 1Click SDK
type OneClickClient struct {
	client *oneclick.APIClient
	token  string
}

// NewOneClickClient creates a new 1Click API client
func NewOneClickClient(jwtToken string) *OneClickClient {
	config := oneclick.NewConfiguration()
	return &OneClickClient{
		client: oneclick.NewAPIClient(config),
		token:  jwtToken,
	}
}

// authed attaches the JWT to a per-call context
func (c *OneClickClient) authed(ctx context.Context) context.Context {
	if c.token == "" {
		return ctx
	}
	return context.WithValue(ctx, oneclick.ContextAccessToken, c.token)
}

// GetSupportedTokens retrieves all supported tokens
func (c *OneClickClient) GetSupportedTokens(ctx context.Context) ([]oneclick.TokenResponse, error) {
	resp, httpResp, err := c.client.OneClickAPI.GetTokens(c.authed(ctx)).Execute()
	if err != nil {
		return nil, fmt.Errorf("failed to get tokens: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != 200 {
		return nil, fmt.Errorf("API returned status code %d", httpResp.StatusCode)
	}

	return resp, nil
}

// FindToken searches for a token by symbol across all chains
func (c *OneClickClient) FindToken(ctx context.Context, symbol string) (*oneclick.TokenResponse, error) {
	tokens, err := c.GetSupportedTokens(ctx)
	if err != nil {
		return nil, err
	}

	symbol = strings.ToUpper(symbol)

	// Try exact match first
	for _, token := range tokens {
		if strings.ToUpper(token.GetSymbol()) == symbol {
			return &token, nil
		}
	}

	for _, token := range tokens {
		if strings.Contains(strings.ToUpper(token.GetSymbol()), symbol) {
			return &token, nil
		}
	}

	return nil, fmt.Errorf("token '%s' not found", symbol)
}

// FindTokenOnChain searches for a token by symbol on a specific chain
func (c *OneClickClient) FindTokenOnChain(ctx context.Context, symbol, chain string) (*oneclick.TokenResponse, error) {
	tokens, err := c.GetSupportedTokens(ctx)
	if err != nil {
		return nil, err
	}
	return matchOnChain(tokens, symbol, chain)
}

func matchOnChain(tokens []oneclick.TokenResponse, symbol, chain string) (*oneclick.TokenResponse, error) {
	symbol = strings.ToUpper(symbol)
	chain = strings.ToLower(chain)

	for _, token := range tokens {
		if strings.ToUpper(token.GetSymbol()) == symbol &&
			strings.ToLower(token.GetBlockchain()) == chain {
			return &token, nil
		}
	}

	return nil, fmt.Errorf("token '%s' not found on chain '%s'", symbol, chain)
}

// findRouteToken resolves a route token on a chain, by contract address when
// it has one and by symbol for the native asset
func findRouteToken(tokens []oneclick.TokenResponse, token types.Token, chain string) (*oneclick.TokenResponse, error) {
	if token.IsNative() {
		return matchOnChain(tokens, token.Symbol, chain)
	}
	for _, t := range tokens {
		if strings.EqualFold(t.GetBlockchain(), chain) && strings.EqualFold(t.GetContractAddress(), token.Address) {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("token %s (%s) not supported on chain '%s'", token.Symbol, token.Address, chain)
}

// GetQuote generates a quote for a shorthand intent request
func (c *OneClickClient) GetQuote(ctx context.Context, req *types.IntentRequest) (*oneclick.QuoteResponse, error) {
	// Find source and destination tokens
	var sourceToken, destToken *oneclick.TokenResponse
	var err error

	if req.SourceChain != "" {
		sourceToken, err = c.FindTokenOnChain(ctx, req.SourceToken, req.SourceChain)
	} else {
		sourceToken, err = c.FindToken(ctx, req.SourceToken)
	}
	if err != nil {
		return nil, fmt.Errorf("source token error: %w", err)
	}

	if req.DestChain != "" {
		destToken, err = c.FindTokenOnChain(ctx, req.DestToken, req.DestChain)
	} else {
		destToken, err = c.FindToken(ctx, req.DestToken)
	}
	if err != nil {
		return nil, fmt.Errorf("destination token error: %w", err)
	}

	amount, err := types.ToBaseUnits(req.Amount, int32(sourceToken.GetDecimals()))
	if err != nil {
		return nil, err
	}

	// Set recipient - required for the API
	recipient := req.Recipient
	if recipient == "" {
		return nil, fmt.Errorf("recipient address is required. Use --recipient flag to specify where you want to receive the tokens")
	}

	return c.quote(ctx, sourceToken.GetAssetId(), destToken.GetAssetId(), amount.String(), recipient, req.RefundTo, false)
}

// ExactQuote asks for a deposit address for an exact base-unit amount of a
// route token
type ExactQuote struct {
	FromChain string
	FromToken types.Token
	ToChain   string
	ToToken   types.Token
	Amount    string
	Recipient string
	RefundTo  string
}

// DepositQuote is a deposit address bound to a quoted trade
type DepositQuote struct {
	DepositAddress     string    `json:"depositAddress"`
	DepositMemo        string    `json:"depositMemo,omitempty"`
	AmountInFormatted  string    `json:"amountInFormatted,omitempty"`
	AmountOutFormatted string    `json:"amountOutFormatted"`
	Deadline           time.Time `json:"deadline"`
}

// QuoteExact returns a deposit address for req
func (c *OneClickClient) QuoteExact(ctx context.Context, req ExactQuote) (*DepositQuote, error) {
	tokens, err := c.GetSupportedTokens(ctx)
	if err != nil {
		return nil, err
	}
	from, err := findRouteToken(tokens, req.FromToken, req.FromChain)
	if err != nil {
		return nil, fmt.Errorf("source token error: %w", err)
	}
	to, err := findRouteToken(tokens, req.ToToken, req.ToChain)
	if err != nil {
		return nil, fmt.Errorf("destination token error: %w", err)
	}

	resp, err := c.quote(ctx, from.GetAssetId(), to.GetAssetId(), req.Amount, req.Recipient, req.RefundTo, false)
	if err != nil {
		return nil, err
	}

	details := resp.GetQuote()
	if details.GetDepositAddress() == "" {
		return nil, fmt.Errorf("quote has no deposit address")
	}
	quote := &DepositQuote{
		DepositAddress:     details.GetDepositAddress(),
		AmountInFormatted:  details.GetAmountInFormatted(),
		AmountOutFormatted: details.GetAmountOutFormatted(),
		Deadline:           time.Now().Add(quoteDeadline),
	}
	if details.HasDepositMemo() {
		quote.DepositMemo = details.GetDepositMemo()
	}
	return quote, nil
}

func (c *OneClickClient) quote(ctx context.Context, originAsset, destAsset, amount, recipient, refundTo string, dry bool) (*oneclick.QuoteResponse, error) {
	// Set refund address - use provided refund address or default to recipient
	if refundTo == "" {
		refundTo = recipient
	}

	deadline := time.Now().Add(quoteDeadline)

	quoteReq := oneclick.NewQuoteRequest(
		dry,                 // dry - false to get a real deposit address
		"EXACT_INPUT",       // swapType
		100,                 // slippageTolerance (1%)
		originAsset,         // originAsset
		"ORIGIN_CHAIN",      // depositType
		destAsset,           // destinationAsset
		amount,              // amount in smallest unit
		refundTo,            // refundTo
		"ORIGIN_CHAIN",      // refundType
		recipient,           // recipient
		"DESTINATION_CHAIN", // recipientType
		deadline,            // deadline
	)

	resp, httpResp, err := c.client.OneClickAPI.GetQuote(c.authed(ctx)).QuoteRequest(*quoteReq).Execute()
	if err != nil {
		return nil, apiError("failed to get quote from API", httpResp, err)
	}
	defer httpResp.Body.Close()

	// Check for successful status codes (200-299)
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, fmt.Errorf("API returned status code %d", httpResp.StatusCode)
	}

	if resp == nil {
		return nil, fmt.Errorf("empty quote response")
	}

	return resp, nil
}

// apiError extracts the API's message from a failed response
func apiError(what string, httpResp *http.Response, err error) error {
	if httpResp == nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	defer httpResp.Body.Close()

	bodyBytes, readErr := io.ReadAll(httpResp.Body)
	if readErr != nil || len(bodyBytes) == 0 {
		return fmt.Errorf("%s (status: %d): %w", what, httpResp.StatusCode, err)
	}

	var errorResp map[string]interface{}
	if jsonErr := json.Unmarshal(bodyBytes, &errorResp); jsonErr == nil {
		if message, ok := errorResp["message"].(string); ok {
			return fmt.Errorf("API error (status %d): %s", httpResp.StatusCode, message)
		}
		if errors, ok := errorResp["errors"]; ok {
			return fmt.Errorf("API error (status %d): %v", httpResp.StatusCode, errors)
		}
	}
	// If we can't parse it, show the raw body
	return fmt.Errorf("API error (status %d): %s", httpResp.StatusCode, string(bodyBytes))
}

// SwapStatus is the execution state of a deposit
type SwapStatus struct {
	Status             string
	AmountOutFormatted string
	OriginTxHash       string
	DestinationTxHash  string
	UpdatedAt          time.Time
}

// Terminal statuses reported by the API
const (
	StatusSuccess   = "SUCCESS"
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
	StatusRefunded  = "REFUNDED"
)

// GetSwapStatus checks the execution status of a deposit
func (c *OneClickClient) GetSwapStatus(ctx context.Context, depositAddress string) (*oneclick.GetExecutionStatusResponse, error) {
	resp, httpResp, err := c.client.OneClickAPI.GetExecutionStatus(c.authed(ctx)).DepositAddress(depositAddress).Execute()
	if err != nil {
		return nil, fmt.Errorf("failed to get status: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != 200 {
		return nil, fmt.Errorf("API returned status code %d", httpResp.StatusCode)
	}

	return resp, nil
}

// SwapStatus returns the flattened execution status of a deposit
func (c *OneClickClient) SwapStatus(ctx context.Context, depositAddress string) (*SwapStatus, error) {
	resp, err := c.GetSwapStatus(ctx, depositAddress)
	if err != nil {
		return nil, err
	}

	status := &SwapStatus{
		Status:    strings.ToUpper(resp.GetStatus()),
		UpdatedAt: resp.GetUpdatedAt(),
	}
	details := resp.GetSwapDetails()
	if details.HasAmountOutFormatted() {
		status.AmountOutFormatted = details.GetAmountOutFormatted()
	}
	if txs := details.GetOriginChainTxHashes(); len(txs) > 0 {
		status.OriginTxHash = txs[0].GetHash()
	}
	if txs := details.GetDestinationChainTxHashes(); len(txs) > 0 {
		status.DestinationTxHash = txs[0].GetHash()
	}
	return status, nil
}

// SubmitDeposit reports the deposit transaction hash to speed up processing
func (c *OneClickClient) SubmitDeposit(ctx context.Context, depositAddress, txHash string) error {
	req := oneclick.NewSubmitDepositTxRequest(depositAddress, txHash)

	_, httpResp, err := c.client.OneClickAPI.SubmitDepositTx(c.authed(ctx)).SubmitDepositTxRequest(*req).Execute()
	if err != nil {
		return fmt.Errorf("failed to submit deposit: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != 200 && httpResp.StatusCode != 201 {
		return fmt.Errorf("API returned status code %d", httpResp.StatusCode)
	}

	return nil
}
