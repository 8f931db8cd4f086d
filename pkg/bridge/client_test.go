package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xroute/pkg/allowance"
	"xroute/pkg/ledger"
	"xroute/pkg/logging"
	"xroute/pkg/types"
	"xroute/pkg/wallet"
	"xroute/pkg/wallet/wallettest"
)

var (
	user             = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	contract         = common.HexToAddress("0x1231DEB6f5749EF6cE6943a275A1D3E7486F4EaE")
	router           = common.HexToAddress("0x00000000000000000000000000000000000000dd")
	sendingManager   = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	receivingManager = common.HexToAddress("0x00000000000000000000000000000000000000e2")

	eth         = types.Token{ChainID: 1, Symbol: "ETH", Decimals: 18}
	usdc        = types.Token{Address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", ChainID: 1, Symbol: "USDC", Decimals: 6}
	usdcPolygon = types.Token{Address: "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174", ChainID: 137, Symbol: "USDC", Decimals: 6}
)

// fakeNetwork answers quotes with bids mirroring the request
type fakeNetwork struct {
	mu sync.Mutex

	quotes    []QuoteRequest
	fulfills  []FulfillRequest
	cancels   []CancelRequest
	active    []ActiveTransfer
	history   []HistoricalTransfer
	mangleBid func(*AuctionResponse)
	onQuote   func(QuoteRequest)
	onFulfill func(FulfillRequest)
	// blockQuotes makes RequestQuote wait for ctx
	blockQuotes bool
}

func (n *fakeNetwork) RequestQuote(ctx context.Context, req QuoteRequest) (*AuctionResponse, error) {
	n.mu.Lock()
	n.quotes = append(n.quotes, req)
	mangle, hook, block := n.mangleBid, n.onQuote, n.blockQuotes
	n.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	resp := bidFor(req)
	if mangle != nil {
		mangle(resp)
	}
	if hook != nil {
		hook(req)
	}
	return resp, nil
}

func (n *fakeNetwork) quoteCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.quotes)
}

func (n *fakeNetwork) Fulfill(_ context.Context, req FulfillRequest) error {
	n.mu.Lock()
	n.fulfills = append(n.fulfills, req)
	hook := n.onFulfill
	n.mu.Unlock()
	if hook != nil {
		hook(req)
	}
	return nil
}

func (n *fakeNetwork) Cancel(_ context.Context, req CancelRequest) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cancels = append(n.cancels, req)
	return nil
}

func (n *fakeNetwork) ActiveTransfers(context.Context, string) ([]ActiveTransfer, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.active, nil
}

func (n *fakeNetwork) HistoricalTransfers(context.Context, string) ([]HistoricalTransfer, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.history, nil
}

func (n *fakeNetwork) Events(ctx context.Context) (<-chan Event, error) {
	ch := make(chan Event)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

func bidFor(req QuoteRequest) *AuctionResponse {
	return &AuctionResponse{
		Bid: Bid{
			User:                    req.Initiator,
			Router:                  router.Hex(),
			InitiatorAddress:        req.Initiator,
			SendingChainID:          req.Params.FromChainID,
			SendingAssetID:          req.Params.FromToken,
			Amount:                  req.Params.Amount,
			ReceivingChainID:        req.Params.ToChainID,
			ReceivingAssetID:        req.Params.ToToken,
			AmountReceived:          "990",
			ReceivingAddress:        req.Params.Receiver,
			TransactionID:           req.TransactionID,
			Expiry:                  req.Expiry,
			CallTo:                  req.CallTo,
			SendingChainTxManager:   sendingManager.Hex(),
			ReceivingChainTxManager: receivingManager.Hex(),
		},
		BidSignature: hexutil.Encode(make([]byte, 65)),
	}
}

type harness struct {
	client  *Client
	network *fakeNetwork
	hub     *Hub
	signer  *wallettest.Signer
	ledger  *ledger.Ledger
	step    *types.Step
}

// newHarness wires a client whose network prepares and fulfills every
// transfer right away
func newHarness(t *testing.T, from types.Token, cfg Config) *harness {
	t.Helper()
	log := logging.Component(logging.Discard(), "bridge")
	hub := NewHub(0, log)
	network := &fakeNetwork{}
	network.onQuote = func(req QuoteRequest) {
		hub.Publish(Event{Kind: ReceiverTransactionPrepared, TransactionID: req.TransactionID, RelayerFee: "0"})
	}
	network.onFulfill = func(req FulfillRequest) {
		hub.Publish(Event{Kind: ReceiverTransactionFulfilled, TransactionID: req.TransactionID, TxHash: "0xf00d"})
	}

	cfg.ContractAddress = contract.Hex()
	if cfg.StatusURL == "" {
		cfg.StatusURL = "https://status.example/tx"
	}
	client := NewClient(cfg, network, hub, allowance.NewManager(nil, log), WithLogger(log))

	step := &types.Step{
		ID:   "cross-1",
		Type: types.StepCross,
		Tool: Tool,
		Action: types.Action{
			FromChainID: 1,
			ToChainID:   137,
			FromToken:   from,
			ToToken:     usdcPolygon,
			FromAmount:  "1000",
			ToAddress:   user.Hex(),
		},
	}
	step.Execution = &types.Execution{Status: types.StatusPending}

	return &harness{
		client:  client,
		network: network,
		hub:     hub,
		signer:  wallettest.New(user, 1),
		ledger: ledger.New(step.Execution, func() {
			assert.LessOrEqual(t, step.Execution.ActiveCount(), 1, "more than one active process")
		}),
		step: step,
	}
}

func (h *harness) transfer() Transfer {
	return Transfer{
		RouteID: "route-1",
		Step:    h.step,
		Cross:   h.step,
		Ledger:  h.ledger,
		Signer:  h.signer,
		EnsureChain: func(_ context.Context, chainID int64) (wallet.Signer, error) {
			return h.signer.OnChain(chainID), nil
		},
	}
}

func processTypes(exec *types.Execution) []types.ProcessType {
	out := make([]types.ProcessType, 0, len(exec.Process))
	for _, p := range exec.Process {
		out = append(out, p.Type)
	}
	return out
}

func TestExecuteNativeTransfer(t *testing.T) {
	h := newHarness(t, eth, Config{})

	require.NoError(t, h.client.Execute(context.Background(), h.transfer()))
	h.client.Release("route-1")

	exec := h.step.Execution
	assert.Equal(t, types.StatusDone, exec.Status)
	assert.Equal(t, "990", exec.ToAmount)
	assert.Equal(t, []types.ProcessType{types.ProcessCrossChain, types.ProcessReceivingChain, types.ProcessClaim}, processTypes(exec))
	for _, p := range exec.Process {
		assert.Equal(t, types.ProcessDone, p.Status, p.Type)
	}
	assert.Equal(t, "0xf00d", exec.LastProcess().TxHash)

	sent := h.signer.Transactions()
	require.Len(t, sent, 1, "no approval for the native asset")
	assert.Equal(t, int64(1), sent[0].ChainID)
	assert.Equal(t, contract, sent[0].Request.To)
	assert.Equal(t, big.NewInt(1000), sent[0].Request.Value)
	assert.Equal(t, facet.Methods["startBridgeTokensViaNXTP"].ID, sent[0].Request.Data[:4])

	quote := h.step.Estimate.Quote
	require.NotNil(t, quote)
	assert.True(t, quote.Matches(h.client.Params(h.transfer())))

	require.Len(t, h.network.fulfills, 1)
	digest, err := FulfillPayload(quote.TransactionID, "0", 137, receivingManager.Hex())
	require.NoError(t, err)
	require.Len(t, h.signer.Book.Signed, 1)
	assert.Equal(t, digest, h.signer.Book.Signed[0])
	assert.Zero(t, h.hub.Subscribers("route-1"))
}

func TestExecuteSkipsApprovalWhenAllowanceSuffices(t *testing.T) {
	h := newHarness(t, usdc, Config{})
	h.signer.Book.Allowance = big.NewInt(5000)

	require.NoError(t, h.client.Execute(context.Background(), h.transfer()))

	assert.Nil(t, h.step.Execution.FindProcess(types.ProcessTokenAllowance))
	sent := h.signer.Transactions()
	require.Len(t, sent, 1)
	assert.Zero(t, sent[0].Request.Value.Sign(), "tokens move through transferFrom, not value")
}

func TestExecuteApprovesContract(t *testing.T) {
	h := newHarness(t, usdc, Config{})

	require.NoError(t, h.client.Execute(context.Background(), h.transfer()))

	exec := h.step.Execution
	assert.Equal(t, types.ProcessTokenAllowance, exec.Process[0].Type)
	sent := h.signer.Transactions()
	require.Len(t, sent, 2)
	assert.Equal(t, usdc.HexAddress(), sent[0].Request.To)
	assert.Equal(t, contract, sent[1].Request.To)
}

func TestStaleQuoteIsReplacedBeforeBuilding(t *testing.T) {
	h := newHarness(t, eth, Config{})

	staleParams := h.client.Params(h.transfer())
	staleParams.Amount = "500"
	payload, err := json.Marshal(bidFor(QuoteRequest{Params: staleParams, TransactionID: "0x01"}))
	require.NoError(t, err)
	h.step.Estimate.Quote = &types.Quote{Tool: Tool, Params: staleParams, TransactionID: "0x01", Payload: payload}

	require.NoError(t, h.client.Execute(context.Background(), h.transfer()))

	require.Len(t, h.network.quotes, 1, "stale quote forces a new auction")
	assert.Equal(t, "1000", h.network.quotes[0].Params.Amount)
	quote := h.step.Estimate.Quote
	assert.NotEqual(t, "0x01", quote.TransactionID)
	assert.Equal(t, "1000", quote.Params.Amount)
}

func TestMismatchedBidsFailWithQuoteError(t *testing.T) {
	h := newHarness(t, eth, Config{})
	h.network.mangleBid = func(resp *AuctionResponse) {
		resp.Bid.Amount = "999"
	}

	err := h.client.Execute(context.Background(), h.transfer())
	require.Error(t, err)
	assert.Equal(t, types.KindQuote, types.KindOf(err))
	assert.Len(t, h.network.quotes, quoteAttempts)
	assert.Empty(t, h.signer.Transactions())
	assert.Nil(t, h.step.Estimate.Quote)

	exec := h.step.Execution
	assert.Equal(t, types.StatusFailed, exec.Status)
	assert.Equal(t, types.ProcessFailed, exec.LastProcess().Status)
}

func TestReceiverTimeoutIsCounterpartyTimeout(t *testing.T) {
	h := newHarness(t, eth, Config{PrepareTimeout: 20 * time.Millisecond})
	h.network.onQuote = nil

	err := h.client.Execute(context.Background(), h.transfer())
	require.Error(t, err)
	assert.Equal(t, types.KindCounterpartyTimeout, types.KindOf(err))
	assert.ErrorIs(t, err, ErrWaitTimeout)

	exec := h.step.Execution
	assert.Equal(t, types.StatusFailed, exec.Status)
	assert.Equal(t, []types.ProcessType{types.ProcessCrossChain, types.ProcessReceivingChain}, processTypes(exec))
	last := exec.LastProcess()
	assert.Equal(t, types.ProcessFailed, last.Status)
	assert.Contains(t, last.ErrorMessage, "may still complete")
	assert.Contains(t, last.ErrorMessage, "https://status.example/tx/"+h.step.Estimate.Quote.TransactionID)
}

func TestCancelledContextLeavesTransferResumable(t *testing.T) {
	h := newHarness(t, eth, Config{})
	h.network.onQuote = nil

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.client.Execute(ctx, h.transfer()) }()

	require.Eventually(t, func() bool { return h.hub.Subscribers("route-1") > 0 }, time.Second, time.Millisecond)
	cancel()

	assert.ErrorIs(t, <-done, context.Canceled)
	exec := h.step.Execution
	assert.NotEqual(t, types.StatusFailed, exec.Status)
	assert.Equal(t, types.ProcessPending, exec.LastProcess().Status)
}

func TestCancelDuringQuoteLeavesTransferResumable(t *testing.T) {
	h := newHarness(t, eth, Config{})
	h.network.blockQuotes = true

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.client.Execute(ctx, h.transfer()) }()

	require.Eventually(t, func() bool { return h.network.quoteCount() > 0 }, time.Second, time.Millisecond)
	cancel()

	assert.ErrorIs(t, <-done, context.Canceled)
	exec := h.step.Execution
	assert.NotEqual(t, types.StatusFailed, exec.Status)
	for _, p := range exec.Process {
		assert.NotEqual(t, types.ProcessFailed, p.Status)
	}
	assert.Empty(t, h.signer.Transactions())
}

func TestQuoteFailureReusesUnsentProcess(t *testing.T) {
	h := newHarness(t, eth, Config{})
	// an earlier session stopped while the transfer waited for a signature
	h.ledger.CreateAndAppend(types.ProcessCrossChain, types.ProcessActionRequired, types.NewMessage(types.MsgSignTransaction))
	h.network.mangleBid = func(resp *AuctionResponse) {
		resp.Bid.Amount = "999"
	}

	err := h.client.Execute(context.Background(), h.transfer())
	require.Error(t, err)
	assert.Equal(t, types.KindQuote, types.KindOf(err))

	exec := h.step.Execution
	require.Len(t, exec.Process, 1)
	assert.Equal(t, types.ProcessFailed, exec.Process[0].Status)
	assert.Equal(t, types.StatusFailed, exec.Status)
	assert.Zero(t, exec.ActiveCount())
}

// seedSentTransfer stores a quote and a confirmed sending transaction, as a
// previous session would have left them
func seedSentTransfer(t *testing.T, h *harness, txID string) {
	t.Helper()
	params := h.client.Params(h.transfer())
	payload, err := json.Marshal(bidFor(QuoteRequest{Params: params, TransactionID: txID, Initiator: user.Hex()}))
	require.NoError(t, err)
	h.step.Estimate.Quote = &types.Quote{Tool: Tool, Params: params, TransactionID: txID, ToAmount: "990", Payload: payload}

	p := h.ledger.CreateAndAppend(types.ProcessCrossChain, types.ProcessPending, types.NewMessage(types.MsgWaitTransaction))
	h.ledger.Mutate(p, func(p *types.Process) { p.TxHash = "0xabc" })
	h.ledger.MarkDone(p, types.NewMessage(types.MsgTransactionSent))
}

func TestResumeAfterSendDoesNotResubmit(t *testing.T) {
	h := newHarness(t, eth, Config{})
	txID := "0x" + strings.Repeat("11", 32)
	seedSentTransfer(t, h, txID)
	h.hub.Publish(Event{Kind: ReceiverTransactionPrepared, TransactionID: txID})

	require.NoError(t, h.client.Execute(context.Background(), h.transfer()))

	assert.Empty(t, h.network.quotes)
	assert.Empty(t, h.signer.Transactions())
	assert.Equal(t, types.StatusDone, h.step.Execution.Status)
	assert.Len(t, h.step.Execution.Process, 3)
}

func TestResumeRecoversFulfilledTransferFromHistory(t *testing.T) {
	h := newHarness(t, eth, Config{PrepareTimeout: time.Millisecond})
	txID := "0x" + strings.Repeat("22", 32)
	seedSentTransfer(t, h, txID)
	h.network.history = []HistoricalTransfer{{TransactionID: txID, Status: HistoricalFulfilled}}

	require.NoError(t, h.client.Execute(context.Background(), h.transfer()))

	exec := h.step.Execution
	assert.Equal(t, types.StatusDone, exec.Status)
	assert.Equal(t, []types.ProcessType{types.ProcessCrossChain, types.ProcessReceivingChain, types.ProcessClaim}, processTypes(exec))
	assert.Empty(t, h.signer.Book.Signed, "nothing left to claim")
	assert.Empty(t, h.network.fulfills)
}

func TestRejectedClaimSignatureIsSubmissionError(t *testing.T) {
	h := newHarness(t, eth, Config{})
	h.signer.Book.SignErr = wallet.ErrUserRejected

	err := h.client.Execute(context.Background(), h.transfer())
	require.Error(t, err)
	assert.Equal(t, types.KindSubmission, types.KindOf(err))

	claim := h.step.Execution.LastProcess()
	assert.Equal(t, types.ProcessClaim, claim.Type)
	assert.Equal(t, types.ProcessFailed, claim.Status)
	assert.Equal(t, "4001", claim.ErrorCode)
	assert.Empty(t, h.network.fulfills)
}

func TestClaimChainSwitchFailure(t *testing.T) {
	h := newHarness(t, eth, Config{})
	tr := h.transfer()
	tr.EnsureChain = func(context.Context, int64) (wallet.Signer, error) {
		return nil, types.NewError(types.KindChainSwitch, errors.New("unsupported"), "failed to switch")
	}

	err := h.client.Execute(context.Background(), tr)
	assert.Equal(t, types.KindChainSwitch, types.KindOf(err))
	assert.Equal(t, types.StatusFailed, h.step.Execution.Status)
}

func TestCancel(t *testing.T) {
	h := newHarness(t, eth, Config{})
	h.network.active = []ActiveTransfer{
		{TransactionID: "0xaa", Status: SenderTransactionPrepared, Crosschain: TransactionData{SendingChainID: 1}},
		{TransactionID: "0xbb", Status: ReceiverTransactionPrepared},
	}

	require.NoError(t, h.client.Cancel(context.Background(), h.signer, "0xAA"))
	require.Len(t, h.network.cancels, 1)
	assert.Equal(t, int64(1), h.network.cancels[0].ChainID)
	assert.NotEmpty(t, h.network.cancels[0].Signature)

	err := h.client.Cancel(context.Background(), h.signer, "0xbb")
	assert.ErrorIs(t, err, ErrCancelNotAllowed)

	err = h.client.Cancel(context.Background(), h.signer, "0xcc")
	assert.Error(t, err)
	assert.Len(t, h.network.cancels, 1)
}
