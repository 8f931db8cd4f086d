// Package bridge drives cross-chain transfers through the counterparty
// network's auction, prepare and fulfill protocol.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/sirupsen/logrus"

	"xroute/pkg/allowance"
	"xroute/pkg/ledger"
	"xroute/pkg/metrics"
	"xroute/pkg/swap"
	"xroute/pkg/types"
	"xroute/pkg/wallet"
)

// Tool is the tool name of steps executed by this client
const Tool = "nxtp"

// Protocol parameters of the counterparty network
const (
	PrepareTimeout  = 600 * time.Second
	FulfillTimeout  = 200 * time.Second
	TransferExpiry  = 3 * 24 * time.Hour
	DefaultGasLimit = 900000
	quoteAttempts   = 3
)

// ErrCancelNotAllowed is returned when a transfer can no longer be cancelled
var ErrCancelNotAllowed = errors.New("transfer can only be cancelled before the receiver prepared it")

// Config configures the bridge client
type Config struct {
	ContractAddress string
	Integrator      string
	Referrer        string
	PrepareTimeout  time.Duration
	FulfillTimeout  time.Duration
	QuoteAttempts   int
	// StatusURL is where users can check a transfer out of band
	StatusURL string
	GasLimit  uint64
}

func (c *Config) setDefaults() {
	if c.PrepareTimeout <= 0 {
		c.PrepareTimeout = PrepareTimeout
	}
	if c.FulfillTimeout <= 0 {
		c.FulfillTimeout = FulfillTimeout
	}
	if c.QuoteAttempts <= 0 {
		c.QuoteAttempts = quoteAttempts
	}
	if c.GasLimit == 0 {
		c.GasLimit = DefaultGasLimit
	}
	if c.Integrator == "" {
		c.Integrator = "xroute"
	}
}

// ChainSwitcher returns a signer on chainID, negotiating a switch if needed
type ChainSwitcher func(ctx context.Context, chainID int64) (wallet.Signer, error)

// Transfer is one cross-chain step handed to the client. Cross is the cross
// leg; StartSwap and EndSwap are the optional swap legs of a bridge-contract
// step. For a plain cross step Step and Cross are the same.
type Transfer struct {
	RouteID          string
	Step             *types.Step
	StartSwap        *types.Step
	Cross            *types.Step
	EndSwap          *types.Step
	Ledger           *ledger.Ledger
	Signer           wallet.Signer
	EnsureChain      ChainSwitcher
	InfiniteApproval bool
}

// Client is the bridge protocol client
type Client struct {
	cfg       Config
	network   Network
	hub       *Hub
	allowance *allowance.Manager
	venues    *swap.Registry
	links     wallet.LinkResolver
	metrics   *metrics.Collector
	log       *logrus.Entry
	now       func() time.Time
}

// ClientOption configures a Client
type ClientOption func(*Client)

func WithVenues(v *swap.Registry) ClientOption {
	return func(c *Client) { c.venues = v }
}

func WithLinks(l wallet.LinkResolver) ClientOption {
	return func(c *Client) { c.links = l }
}

func WithMetrics(m *metrics.Collector) ClientOption {
	return func(c *Client) { c.metrics = m }
}

func WithLogger(log *logrus.Entry) ClientOption {
	return func(c *Client) { c.log = log }
}

func WithClock(now func() time.Time) ClientOption {
	return func(c *Client) { c.now = now }
}

// NewClient creates a bridge client
func NewClient(cfg Config, network Network, hub *Hub, allowances *allowance.Manager, opts ...ClientOption) *Client {
	cfg.setDefaults()
	c := &Client{
		cfg:       cfg,
		network:   network,
		hub:       hub,
		allowance: allowances,
		log:       logrus.NewEntry(logrus.StandardLogger()),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Hub returns the event hub the client waits on
func (c *Client) Hub() *Hub {
	return c.hub
}

// Start subscribes to the network event stream and dispatches it to the hub
// until ctx is done
func (c *Client) Start(ctx context.Context) error {
	events, err := c.network.Events(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to bridge events: %w", err)
	}
	go c.hub.Run(ctx, events)
	return nil
}

// Release detaches every listener registered for a route
func (c *Client) Release(routeID string) {
	c.hub.Release(routeID)
}

// Execute drives a transfer to completion. A cancelled ctx leaves the
// execution resumable.
func (c *Client) Execute(ctx context.Context, t Transfer) error {
	l := t.Ledger
	log := c.log.WithFields(logrus.Fields{
		"route": t.RouteID,
		"step":  t.Step.ID,
	})

	send := l.Find(types.ProcessCrossChain)
	if send == nil || send.Status != types.ProcessDone {
		if err := c.submit(ctx, t, send, log); err != nil {
			return err
		}
	}

	quote := t.Cross.Estimate.Quote
	auction, err := decodeAuction(quote)
	if err != nil {
		return l.Fail(nil, types.NewError(types.KindQuote, err, "stored quote is unreadable"))
	}
	txID := quote.TransactionID
	log = log.WithField("txid", txID)

	prepared, err := c.awaitReceiver(ctx, t, txID, auction, log)
	if err != nil || prepared == nil {
		return err
	}

	if err := c.claim(ctx, t, txID, auction, prepared, log); err != nil {
		return err
	}

	l.Complete(auction.Bid.AmountReceived)
	log.Info("transfer completed")
	return nil
}

// submit quotes, approves and sends the sending-chain transaction. A process
// with a hash from an earlier session is only confirmed.
func (c *Client) submit(ctx context.Context, t Transfer, send *types.Process, log *logrus.Entry) error {
	l := t.Ledger
	if send != nil && send.Status.IsActive() && send.TxHash != "" {
		return c.confirmSend(ctx, t, send, common.HexToHash(send.TxHash))
	}

	if _, err := c.ensureQuote(ctx, t); err != nil {
		return c.quoteFailed(ctx, l, err)
	}

	amount, err := types.ParseAmount(t.Step.Action.FromAmount)
	if err != nil {
		return l.Fail(nil, types.NewError(types.KindSubmission, err, "invalid amount"))
	}
	err = c.allowance.Ensure(ctx, allowance.Request{
		Signer:        t.Signer,
		ChainID:       t.Step.Action.FromChainID,
		Token:         t.Step.Action.FromToken,
		Amount:        amount,
		Spender:       common.HexToAddress(c.cfg.ContractAddress),
		AllowInfinite: t.InfiniteApproval,
	}, l)
	if err != nil {
		return err
	}

	// the request may have changed while the approval was pending
	quote, err := c.ensureQuote(ctx, t)
	if err != nil {
		return c.quoteFailed(ctx, l, err)
	}
	auction, err := decodeAuction(quote)
	if err != nil {
		return l.Fail(nil, types.NewError(types.KindQuote, err, "stored quote is unreadable"))
	}

	p := l.FindOrCreate(types.ProcessCrossChain, types.ProcessActionRequired, types.NewMessage(types.MsgPrepareTransaction))
	req, err := c.buildStart(ctx, t, auction, amount)
	if err != nil {
		return l.Fail(p, types.NewError(types.KindSubmission, err, "failed to build transfer transaction"))
	}
	l.SetStatus(p, types.ProcessActionRequired, types.NewMessage(types.MsgSignTransaction))

	tx, err := t.Signer.SendTransaction(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return l.Fail(p, types.NewError(types.KindSubmission, err, "transfer transaction was not sent"))
	}

	hash := tx.Hash()
	l.Mutate(p, func(p *types.Process) {
		p.Status = types.ProcessPending
		p.TxHash = hash.Hex()
		p.TxLink = c.link(t.Step.Action.FromChainID, hash.Hex())
		p.Message = types.NewMessage(types.MsgWaitTransaction, "txid", quote.TransactionID)
	})
	log.WithField("tx", hash.Hex()).Info("transfer transaction sent")

	return c.confirmSend(ctx, t, p, hash)
}

// quoteFailed records a quote failure on the sending process. A cancelled
// ctx records nothing so the transfer stays resumable.
func (c *Client) quoteFailed(ctx context.Context, l *ledger.Ledger, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	p := l.FindOrCreate(types.ProcessCrossChain, types.ProcessPending, types.NewMessage(types.MsgPrepareTransaction))
	return l.Fail(p, err)
}

func (c *Client) confirmSend(ctx context.Context, t Transfer, p *types.Process, hash common.Hash) error {
	if _, err := t.Signer.WaitForTransaction(ctx, hash); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return t.Ledger.Fail(p, types.NewError(types.KindConfirmation, err, "transfer transaction %s failed", hash.Hex()))
	}
	t.Ledger.MarkDone(p, types.NewMessage(types.MsgTransactionSent, "tx", hash.Hex()))
	return nil
}

// Params returns the trade parameters the cross leg must be quoted for
func (c *Client) Params(t Transfer) types.TradeParams {
	action := t.Cross.Action
	receiver := action.ToAddress
	if receiver == "" {
		receiver = t.Signer.Address().Hex()
	}
	return types.TradeParams{
		FromChainID: action.FromChainID,
		FromToken:   action.FromToken.Address,
		ToChainID:   action.ToChainID,
		ToToken:     action.ToToken.Address,
		Amount:      action.FromAmount,
		Receiver:    receiver,
	}
}

// ensureQuote returns the stored quote while it still matches the request
// and has not expired, requesting a new one otherwise
func (c *Client) ensureQuote(ctx context.Context, t Transfer) (*types.Quote, error) {
	params := c.Params(t)
	tool := t.Cross.Tool

	if stored := t.Cross.Estimate.Quote; stored != nil {
		if stored.Matches(params) && !c.expired(stored) {
			return stored, nil
		}
		c.metrics.ObserveQuote(tool, "stale")
		c.log.WithFields(logrus.Fields{
			"step": t.Cross.ID,
			"txid": stored.TransactionID,
		}).Info("discarding stale quote")
	}

	req, err := c.quoteRequest(ctx, t, params)
	if err != nil {
		return nil, types.NewError(types.KindQuote, err, "failed to prepare quote request")
	}

	var lastErr error
	for attempt := 1; attempt <= c.cfg.QuoteAttempts; attempt++ {
		resp, err := c.network.RequestQuote(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.metrics.ObserveQuote(tool, "error")
			lastErr = err
			continue
		}
		if err := c.validateBid(resp, req); err != nil {
			c.metrics.ObserveQuote(tool, "invalid")
			lastErr = err
			continue
		}

		payload, err := json.Marshal(resp)
		if err != nil {
			return nil, types.NewError(types.KindQuote, err, "failed to encode quote")
		}
		quote := &types.Quote{
			Tool:          tool,
			Params:        params,
			TransactionID: req.TransactionID,
			ToAmount:      resp.Bid.AmountReceived,
			Payload:       payload,
			ReceivedAt:    c.now(),
		}
		t.Ledger.Update(func() {
			t.Cross.Estimate.Quote = quote
			t.Cross.Estimate.ToAmount = resp.Bid.AmountReceived
		})
		c.metrics.ObserveQuote(tool, "ok")
		return quote, nil
	}
	return nil, types.NewError(types.KindQuote, lastErr, "no valid quote after %d attempts", c.cfg.QuoteAttempts)
}

func (c *Client) quoteRequest(ctx context.Context, t Transfer, params types.TradeParams) (QuoteRequest, error) {
	txID, err := NewTransactionID()
	if err != nil {
		return QuoteRequest{}, err
	}
	req := QuoteRequest{
		Params:        params,
		TransactionID: txID,
		Initiator:     t.Signer.Address().Hex(),
		Expiry:        c.now().Add(TransferExpiry).Unix(),
	}
	if t.EndSwap != nil {
		call, err := c.venues.Lookup(t.EndSwap.Tool).SwapCall(ctx, t.EndSwap, common.HexToAddress(c.cfg.ContractAddress), common.HexToAddress(params.Receiver))
		if err != nil {
			return QuoteRequest{}, fmt.Errorf("receiving swap: %w", err)
		}
		req.CallTo = call.To.Hex()
		req.CallData = hexutil.Encode(call.Data)
	}
	return req, nil
}

// validateBid rejects bids that do not commit to exactly what was asked
func (c *Client) validateBid(resp *AuctionResponse, req QuoteRequest) error {
	if resp == nil || resp.BidSignature == "" {
		return errors.New("empty bid")
	}
	if !strings.EqualFold(resp.Bid.TransactionID, req.TransactionID) {
		return fmt.Errorf("bid is for transaction %s, requested %s", resp.Bid.TransactionID, req.TransactionID)
	}
	if !resp.Bid.Params().Equal(req.Params) {
		return errors.New("bid parameters do not match the request")
	}
	if resp.Bid.BidExpiry > 0 && resp.Bid.BidExpiry <= c.now().Unix() {
		return errors.New("bid already expired")
	}
	return nil
}

func (c *Client) expired(q *types.Quote) bool {
	auction, err := decodeAuction(q)
	if err != nil {
		return true
	}
	return auction.Bid.BidExpiry > 0 && auction.Bid.BidExpiry <= c.now().Unix()
}

func decodeAuction(q *types.Quote) (*AuctionResponse, error) {
	if q == nil {
		return nil, errors.New("no quote")
	}
	var resp AuctionResponse
	if err := json.Unmarshal(q.Payload, &resp); err != nil {
		return nil, fmt.Errorf("decode quote payload: %w", err)
	}
	return &resp, nil
}

func (c *Client) buildStart(ctx context.Context, t Transfer, auction *AuctionResponse, amount *big.Int) (wallet.TxRequest, error) {
	bid := auction.Bid
	user := t.Signer.Address()
	txID := common.HexToHash(bid.TransactionID)

	encoded, err := EncodeBid(bid)
	if err != nil {
		return wallet.TxRequest{}, err
	}
	signature, err := decodeHex(auction.BidSignature)
	if err != nil {
		return wallet.TxRequest{}, fmt.Errorf("bid signature: %w", err)
	}
	encrypted, err := decodeHex(bid.EncryptedCallData)
	if err != nil {
		return wallet.TxRequest{}, fmt.Errorf("encrypted call data: %w", err)
	}
	crossAmount, err := parseUint(bid.Amount)
	if err != nil {
		return wallet.TxRequest{}, err
	}

	call := StartCall{
		LiFi: LiFiData{
			TransactionID:      txID,
			Integrator:         c.cfg.Integrator,
			Referrer:           common.HexToAddress(c.cfg.Referrer),
			SendingAssetID:     t.Step.Action.FromToken.HexAddress(),
			ReceivingAssetID:   t.Step.Action.ToToken.HexAddress(),
			Receiver:           common.HexToAddress(bid.ReceivingAddress),
			DestinationChainID: big.NewInt(t.Step.Action.ToChainID),
			Amount:             amount,
		},
		NXTP: NXTPData{
			NxtpTxManager: common.HexToAddress(bid.SendingChainTxManager),
			InvariantData: InvariantData{
				ReceivingChainTxManagerAddress: common.HexToAddress(bid.ReceivingChainTxManager),
				User:                           user,
				Router:                         common.HexToAddress(bid.Router),
				Initiator:                      user,
				SendingAssetID:                 assetAddress(bid.SendingAssetID),
				ReceivingAssetID:               assetAddress(bid.ReceivingAssetID),
				SendingChainFallback:           user,
				ReceivingAddress:               common.HexToAddress(bid.ReceivingAddress),
				CallTo:                         common.HexToAddress(bid.CallTo),
				SendingChainID:                 big.NewInt(bid.SendingChainID),
				ReceivingChainID:               big.NewInt(bid.ReceivingChainID),
				CallDataHash:                   common.HexToHash(bid.CallDataHash),
				TransactionID:                  txID,
			},
			Amount:            crossAmount,
			Expiry:            big.NewInt(bid.Expiry),
			EncryptedCallData: encrypted,
			EncodedBid:        encoded,
			BidSignature:      signature,
			EncodedMeta:       []byte{},
		},
	}

	if t.StartSwap != nil {
		contract := common.HexToAddress(c.cfg.ContractAddress)
		sc, err := c.venues.Lookup(t.StartSwap.Tool).SwapCall(ctx, t.StartSwap, contract, contract)
		if err != nil {
			return wallet.TxRequest{}, fmt.Errorf("sending swap: %w", err)
		}
		fromAmount, err := types.ParseAmount(t.StartSwap.Action.FromAmount)
		if err != nil {
			return wallet.TxRequest{}, fmt.Errorf("sending swap: %w", err)
		}
		call.Swaps = []SwapData{{
			CallTo:           sc.To,
			ApproveTo:        sc.ApproveTo,
			SendingAssetID:   t.StartSwap.Action.FromToken.HexAddress(),
			ReceivingAssetID: t.StartSwap.Action.ToToken.HexAddress(),
			FromAmount:       fromAmount,
			CallData:         sc.Data,
		}}
	}

	data, err := call.Pack()
	if err != nil {
		return wallet.TxRequest{}, err
	}

	value := new(big.Int)
	if t.Step.Action.FromToken.IsNative() {
		value.Set(amount)
	}
	return wallet.TxRequest{
		To:       common.HexToAddress(c.cfg.ContractAddress),
		Data:     data,
		Value:    value,
		GasLimit: c.cfg.GasLimit,
	}, nil
}

// awaitReceiver waits until the receiving chain prepared the transfer. It
// returns a nil event without error when the transfer already finished.
func (c *Client) awaitReceiver(ctx context.Context, t Transfer, txID string, auction *AuctionResponse, log *logrus.Entry) (*Event, error) {
	l := t.Ledger
	p := l.FindOrCreate(types.ProcessReceivingChain, types.ProcessPending, types.NewMessage(types.MsgWaitReceiver, "txid", txID))

	state, data := c.lookup(ctx, t.Signer.Address().Hex(), txID, log)
	switch state {
	case ReceiverTransactionFulfilled:
		l.MarkDone(p, types.NewMessage(types.MsgReceiverPrepared, "txid", txID))
		claim := l.FindOrCreate(types.ProcessClaim, types.ProcessPending, types.NewMessage(types.MsgSignedWaitClaim, "txid", txID))
		l.MarkDone(claim, types.NewMessage(types.MsgFundsClaimed, "txid", txID))
		l.Complete(auction.Bid.AmountReceived)
		log.Info("transfer already fulfilled")
		return nil, nil
	case ReceiverTransactionCancelled, SenderTransactionCancelled:
		return nil, l.Fail(p, types.NewError(types.KindConfirmation, nil, "transfer %s was cancelled", txID))
	}

	if p.Status == types.ProcessDone {
		ev := Event{Kind: ReceiverTransactionPrepared, TransactionID: txID, TxData: c.txData(t, auction)}
		if data != nil {
			ev.TxData = data.Crosschain
			ev.RelayerFee = data.RelayerFee
		}
		return &ev, nil
	}
	if state == ReceiverTransactionPrepared || state == ReceiverPrepareSigned {
		ev := Event{Kind: ReceiverTransactionPrepared, TransactionID: txID, TxData: data.Crosschain, RelayerFee: data.RelayerFee}
		l.MarkDone(p, types.NewMessage(types.MsgReceiverPrepared, "txid", txID))
		return &ev, nil
	}

	ev, err := c.wait(ctx, t.RouteID, ReceiverTransactionPrepared, c.cfg.PrepareTimeout, txID)
	if err != nil {
		return nil, c.waitFailed(ctx, l, p, err, txID, "the receiving chain did not prepare the transfer")
	}
	l.MarkDone(p, types.NewMessage(types.MsgReceiverPrepared, "txid", txID))
	return &ev, nil
}

func (c *Client) claim(ctx context.Context, t Transfer, txID string, auction *AuctionResponse, prepared *Event, log *logrus.Entry) error {
	l := t.Ledger
	claim := l.Find(types.ProcessClaim)
	if claim != nil && claim.Status == types.ProcessDone {
		return nil
	}

	signed := claim != nil && claim.Status == types.ProcessPending && claim.Message.Key == types.MsgSignedWaitClaim
	if !signed {
		claim = l.FindOrCreate(types.ProcessClaim, types.ProcessActionRequired, types.NewMessage(types.MsgReadyToSign, "txid", txID))

		sub := c.hub.Subscribe(t.RouteID, ReceiverPrepareSigned, ForTransaction(txID), func(Event) {
			l.SetStatus(claim, types.ProcessPending, types.NewMessage(types.MsgSignedWaitClaim, "txid", txID))
		})
		defer sub.Cancel()

		signer, err := t.EnsureChain(ctx, t.Cross.Action.ToChainID)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return l.Fail(claim, err)
		}

		data := prepared.TxData
		if data.ReceivingChainTxManager == "" {
			data = c.txData(t, auction)
		}
		fee := prepared.RelayerFee
		if fee == "" {
			fee = "0"
		}
		digest, err := FulfillPayload(txID, fee, data.ReceivingChainID, data.ReceivingChainTxManager)
		if err != nil {
			return l.Fail(claim, types.NewError(types.KindSubmission, err, "failed to encode claim"))
		}
		signature, err := signer.SignMessage(ctx, digest)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return l.Fail(claim, types.NewError(types.KindSubmission, err, "claim was not signed"))
		}

		l.SetStatus(claim, types.ProcessPending, types.NewMessage(types.MsgSignedWaitClaim, "txid", txID))
		err = c.network.Fulfill(ctx, FulfillRequest{
			TransactionID: txID,
			TxData:        data,
			Signature:     hexutil.Encode(signature),
			RelayerFee:    fee,
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return l.Fail(claim, c.timeoutError(err, txID, "relayers did not accept the claim"))
		}
		log.Info("claim signed and submitted")
	}

	var state EventKind
	if signed {
		state, _ = c.lookup(ctx, t.Signer.Address().Hex(), txID, log)
	}
	var fulfilled Event
	if state == ReceiverTransactionFulfilled {
		fulfilled = Event{Kind: ReceiverTransactionFulfilled, TransactionID: txID}
	} else {
		ev, err := c.wait(ctx, t.RouteID, ReceiverTransactionFulfilled, c.cfg.FulfillTimeout, txID)
		if err != nil {
			return c.waitFailed(ctx, l, claim, err, txID, "the claim was not fulfilled")
		}
		fulfilled = ev
	}

	if fulfilled.TxHash != "" {
		l.Mutate(claim, func(p *types.Process) {
			p.TxHash = fulfilled.TxHash
			p.TxLink = c.link(t.Cross.Action.ToChainID, fulfilled.TxHash)
		})
	}
	l.MarkDone(claim, types.NewMessage(types.MsgFundsClaimed, "txid", txID))
	return nil
}

func (c *Client) wait(ctx context.Context, owner string, kind EventKind, timeout time.Duration, txID string) (Event, error) {
	start := c.now()
	ev, err := c.hub.WaitFor(ctx, owner, kind, timeout, ForTransaction(txID))
	result := "ok"
	switch {
	case errors.Is(err, ErrWaitTimeout):
		result = "timeout"
	case err != nil:
		result = "aborted"
	}
	c.metrics.ObserveWait(string(kind), result, c.now().Sub(start))
	return ev, err
}

func (c *Client) waitFailed(ctx context.Context, l *ledger.Ledger, p *types.Process, err error, txID, what string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return l.Fail(p, c.timeoutError(err, txID, what))
}

func (c *Client) timeoutError(err error, txID, what string) error {
	e := types.NewError(types.KindCounterpartyTimeout, err, "%s in time", what)
	e.Hint = "The transfer may still complete without further action. Check its status at " + c.StatusLink(txID)
	return e
}

// StatusLink points at the out-of-band status page of a transfer
func (c *Client) StatusLink(txID string) string {
	if c.cfg.StatusURL == "" {
		return "the bridge explorer (transaction " + txID + ")"
	}
	return strings.TrimRight(c.cfg.StatusURL, "/") + "/" + txID
}

// lookup reports the furthest known state of a transfer from the network's
// active and historical listings. Lookup failures are logged and ignored.
func (c *Client) lookup(ctx context.Context, user, txID string, log *logrus.Entry) (EventKind, *ActiveTransfer) {
	active, err := c.network.ActiveTransfers(ctx, user)
	if err != nil {
		log.WithError(err).Warn("failed to list active transfers")
	}
	for i := range active {
		if strings.EqualFold(active[i].TransactionID, txID) {
			return active[i].Status, &active[i]
		}
	}

	history, err := c.network.HistoricalTransfers(ctx, user)
	if err != nil {
		log.WithError(err).Warn("failed to list historical transfers")
	}
	for _, h := range history {
		if !strings.EqualFold(h.TransactionID, txID) {
			continue
		}
		switch h.Status {
		case HistoricalFulfilled:
			return ReceiverTransactionFulfilled, nil
		case HistoricalCancelled:
			return ReceiverTransactionCancelled, nil
		}
	}
	return "", nil
}

func (c *Client) txData(t Transfer, auction *AuctionResponse) TransactionData {
	bid := auction.Bid
	return TransactionData{
		TransactionID:           bid.TransactionID,
		User:                    t.Signer.Address().Hex(),
		Router:                  bid.Router,
		InitiatorAddress:        t.Signer.Address().Hex(),
		SendingChainID:          bid.SendingChainID,
		SendingAssetID:          bid.SendingAssetID,
		ReceivingChainID:        bid.ReceivingChainID,
		ReceivingAssetID:        bid.ReceivingAssetID,
		ReceivingAddress:        bid.ReceivingAddress,
		ReceivingChainTxManager: bid.ReceivingChainTxManager,
		CallTo:                  bid.CallTo,
		CallDataHash:            bid.CallDataHash,
		Amount:                  bid.AmountReceived,
		Expiry:                  bid.Expiry,
	}
}

func (c *Client) link(chainID int64, hash string) string {
	if c.links == nil {
		return ""
	}
	return c.links.TxLink(chainID, hash)
}

// ActiveTransfers lists the user's in-flight transfers
func (c *Client) ActiveTransfers(ctx context.Context, user string) ([]ActiveTransfer, error) {
	return c.network.ActiveTransfers(ctx, user)
}

// HistoricalTransfers lists the user's finished transfers
func (c *Client) HistoricalTransfers(ctx context.Context, user string) ([]HistoricalTransfer, error) {
	return c.network.HistoricalTransfers(ctx, user)
}

// Cancel asks the network to cancel a transfer. It is only honored while the
// transfer is prepared on the sending chain and nothing happened since.
func (c *Client) Cancel(ctx context.Context, signer wallet.Signer, txID string) error {
	active, err := c.network.ActiveTransfers(ctx, signer.Address().Hex())
	if err != nil {
		return fmt.Errorf("failed to list active transfers: %w", err)
	}
	var transfer *ActiveTransfer
	for i := range active {
		if strings.EqualFold(active[i].TransactionID, txID) {
			transfer = &active[i]
			break
		}
	}
	if transfer == nil {
		return fmt.Errorf("transfer %s is not active", txID)
	}
	if transfer.Status != SenderTransactionPrepared {
		return fmt.Errorf("%w (status %s)", ErrCancelNotAllowed, transfer.Status)
	}

	data := transfer.Crosschain
	digest, err := CancelPayload(txID, data.SendingChainID, c.cfg.ContractAddress)
	if err != nil {
		return fmt.Errorf("failed to encode cancel: %w", err)
	}
	signature, err := signer.SignMessage(ctx, digest)
	if err != nil {
		return types.NewError(types.KindSubmission, err, "cancel was not signed")
	}
	if err := c.network.Cancel(ctx, CancelRequest{
		TransactionID: txID,
		TxData:        data,
		Signature:     hexutil.Encode(signature),
		ChainID:       data.SendingChainID,
	}); err != nil {
		return fmt.Errorf("failed to cancel transfer %s: %w", txID, err)
	}
	c.log.WithField("txid", txID).Info("transfer cancellation requested")
	return nil
}
