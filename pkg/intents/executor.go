// Package intents executes cross steps through NEAR Intents deposit
// addresses: quote an address, deposit into it, then poll until the
// solver network settles on the destination chain.
package intents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"xroute/pkg/client"
	"xroute/pkg/ledger"
	"xroute/pkg/metrics"
	"xroute/pkg/types"
	"xroute/pkg/wallet"
)

// Tool is the tool name of steps executed through intents
const Tool = "near-intents"

const (
	defaultPollInterval = 10 * time.Second
	defaultTimeout      = 30 * time.Minute
)

// ERC20 transfer function ABI
const erc20TransferABI = `[{"constant":false,"inputs":[{"name":"_to","type":"address"},{"name":"_value","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"type":"function"}]`

var erc20 = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(erc20TransferABI))
	if err != nil {
		panic(fmt.Sprintf("failed to parse ERC20 ABI: %v", err))
	}
	return parsed
}()

// Quoter is the part of the 1Click API the executor needs
type Quoter interface {
	QuoteExact(ctx context.Context, req client.ExactQuote) (*client.DepositQuote, error)
	SwapStatus(ctx context.Context, depositAddress string) (*client.SwapStatus, error)
	SubmitDeposit(ctx context.Context, depositAddress, txHash string) error
}

// Config configures the executor
type Config struct {
	// ChainNames maps chain ids to 1Click blockchain names
	ChainNames   map[int64]string
	PollInterval time.Duration
	Timeout      time.Duration
	StatusURL    string
}

// Transfer is one intents cross step
type Transfer struct {
	RouteID string
	Step    *types.Step
	Ledger  *ledger.Ledger
	Signer  wallet.Signer
}

// Executor runs intents cross steps
type Executor struct {
	cfg     Config
	quoter  Quoter
	links   wallet.LinkResolver
	metrics *metrics.Collector
	log     *logrus.Entry
}

// New creates an executor
func New(cfg Config, quoter Quoter, links wallet.LinkResolver, m *metrics.Collector, log *logrus.Entry) *Executor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Executor{cfg: cfg, quoter: quoter, links: links, metrics: m, log: log}
}

// Execute deposits into a quoted address and waits for settlement
func (e *Executor) Execute(ctx context.Context, t Transfer) error {
	l := t.Ledger
	log := e.log.WithFields(logrus.Fields{
		"route": t.RouteID,
		"step":  t.Step.ID,
	})

	deposit := l.Find(types.ProcessDeposit)
	switch {
	case deposit != nil && deposit.Status == types.ProcessDone:
	case deposit != nil && deposit.Status.IsActive() && deposit.TxHash != "":
		if err := e.confirm(ctx, t, deposit, common.HexToHash(deposit.TxHash)); err != nil {
			return err
		}
	default:
		if err := e.deposit(ctx, t, log); err != nil {
			return err
		}
	}

	quote, err := decodeQuote(t.Step.Estimate.Quote)
	if err != nil {
		return l.Fail(nil, types.NewError(types.KindQuote, err, "stored quote is unreadable"))
	}
	return e.settle(ctx, t, quote, log)
}

// Params returns the trade parameters the step must be quoted for
func (e *Executor) Params(t Transfer) types.TradeParams {
	action := t.Step.Action
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

func (e *Executor) ensureQuote(ctx context.Context, t Transfer) (*types.Quote, *client.DepositQuote, error) {
	params := e.Params(t)
	if stored := t.Step.Estimate.Quote; stored != nil {
		dq, err := decodeQuote(stored)
		if err == nil && stored.Matches(params) && time.Now().Before(dq.Deadline) {
			return stored, dq, nil
		}
		e.metrics.ObserveQuote(Tool, "stale")
	}

	fromChain, ok := e.cfg.ChainNames[params.FromChainID]
	if !ok {
		return nil, nil, types.NewError(types.KindQuote, nil, "chain %d is not supported by intents", params.FromChainID)
	}
	toChain, ok := e.cfg.ChainNames[params.ToChainID]
	if !ok {
		return nil, nil, types.NewError(types.KindQuote, nil, "chain %d is not supported by intents", params.ToChainID)
	}

	dq, err := e.quoter.QuoteExact(ctx, client.ExactQuote{
		FromChain: fromChain,
		FromToken: t.Step.Action.FromToken,
		ToChain:   toChain,
		ToToken:   t.Step.Action.ToToken,
		Amount:    params.Amount,
		Recipient: params.Receiver,
		RefundTo:  t.Signer.Address().Hex(),
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		e.metrics.ObserveQuote(Tool, "error")
		return nil, nil, types.NewError(types.KindQuote, err, "failed to get deposit address")
	}
	if !common.IsHexAddress(dq.DepositAddress) {
		e.metrics.ObserveQuote(Tool, "invalid")
		return nil, nil, types.NewError(types.KindQuote, nil, "deposit address %q is not an EVM address", dq.DepositAddress)
	}

	payload, err := json.Marshal(dq)
	if err != nil {
		return nil, nil, types.NewError(types.KindQuote, err, "failed to encode quote")
	}
	toAmount := t.Step.Estimate.ToAmount
	if v, err := types.ToBaseUnits(dq.AmountOutFormatted, t.Step.Action.ToToken.Decimals); err == nil {
		toAmount = v.String()
	}
	quote := &types.Quote{
		Tool:          Tool,
		Params:        params,
		TransactionID: dq.DepositAddress,
		ToAmount:      toAmount,
		Payload:       payload,
		ReceivedAt:    time.Now(),
	}
	t.Ledger.Update(func() {
		t.Step.Estimate.Quote = quote
		t.Step.Estimate.ToAmount = toAmount
	})
	e.metrics.ObserveQuote(Tool, "ok")
	return quote, dq, nil
}

func (e *Executor) deposit(ctx context.Context, t Transfer, log *logrus.Entry) error {
	l := t.Ledger
	_, dq, err := e.ensureQuote(ctx, t)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		p := l.FindOrCreate(types.ProcessDeposit, types.ProcessPending, types.NewMessage(types.MsgPrepareTransaction))
		return l.Fail(p, err)
	}

	p := l.FindOrCreate(types.ProcessDeposit, types.ProcessActionRequired,
		types.NewMessage(types.MsgSignTransaction, "address", dq.DepositAddress))

	amount, err := types.ParseAmount(t.Step.Action.FromAmount)
	if err != nil {
		return l.Fail(p, types.NewError(types.KindSubmission, err, "invalid deposit amount"))
	}
	req, err := depositRequest(t.Step.Action.FromToken, common.HexToAddress(dq.DepositAddress), amount)
	if err != nil {
		return l.Fail(p, types.NewError(types.KindSubmission, err, "failed to build deposit"))
	}

	tx, err := t.Signer.SendTransaction(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return l.Fail(p, types.NewError(types.KindSubmission, err, "deposit was not sent"))
	}

	hash := tx.Hash()
	l.Mutate(p, func(p *types.Process) {
		p.Status = types.ProcessPending
		p.TxHash = hash.Hex()
		p.TxLink = e.link(t.Step.Action.FromChainID, hash.Hex())
		p.Message = types.NewMessage(types.MsgWaitTransaction, "address", dq.DepositAddress)
	})
	log.WithFields(logrus.Fields{"tx": hash.Hex(), "deposit": dq.DepositAddress}).Info("deposit sent")

	return e.confirm(ctx, t, p, hash)
}

func depositRequest(token types.Token, to common.Address, amount *big.Int) (wallet.TxRequest, error) {
	if token.IsNative() {
		return wallet.TxRequest{To: to, Value: amount, GasLimit: 21000}, nil
	}
	data, err := erc20.Pack("transfer", to, amount)
	if err != nil {
		return wallet.TxRequest{}, fmt.Errorf("failed to pack transfer data: %w", err)
	}
	return wallet.TxRequest{To: token.HexAddress(), Data: data, Value: big.NewInt(0)}, nil
}

func (e *Executor) confirm(ctx context.Context, t Transfer, p *types.Process, hash common.Hash) error {
	if _, err := t.Signer.WaitForTransaction(ctx, hash); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return t.Ledger.Fail(p, types.NewError(types.KindConfirmation, err, "deposit %s failed", hash.Hex()))
	}
	t.Ledger.MarkDone(p, types.NewMessage(types.MsgDepositSent, "tx", hash.Hex()))

	if quote := t.Step.Estimate.Quote; quote != nil {
		// best effort: settlement proceeds without it, only slower
		if err := e.quoter.SubmitDeposit(ctx, quote.TransactionID, hash.Hex()); err != nil {
			e.log.WithError(err).WithField("tx", hash.Hex()).Warn("failed to submit deposit hash")
		}
	}
	return nil
}

func (e *Executor) settle(ctx context.Context, t Transfer, dq *client.DepositQuote, log *logrus.Entry) error {
	l := t.Ledger
	p := l.FindOrCreate(types.ProcessReceivingChain, types.ProcessPending,
		types.NewMessage(types.MsgWaitSettlement, "address", dq.DepositAddress))
	if p.Status == types.ProcessDone {
		l.Complete(t.Step.Estimate.ToAmount)
		return nil
	}

	start := time.Now()
	timeout := time.NewTimer(e.cfg.Timeout)
	defer timeout.Stop()
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		status, err := e.quoter.SwapStatus(ctx, dq.DepositAddress)
		if err != nil {
			log.WithError(err).Debug("status check failed, will retry")
		} else {
			switch status.Status {
			case client.StatusSuccess, client.StatusCompleted:
				e.metrics.ObserveWait("settlement", "ok", time.Since(start))
				toAmount := t.Step.Estimate.ToAmount
				if v, err := types.ToBaseUnits(status.AmountOutFormatted, t.Step.Action.ToToken.Decimals); err == nil && status.AmountOutFormatted != "" {
					toAmount = v.String()
				}
				if status.DestinationTxHash != "" {
					l.Mutate(p, func(p *types.Process) {
						p.TxHash = status.DestinationTxHash
						p.TxLink = e.link(t.Step.Action.ToChainID, status.DestinationTxHash)
					})
				}
				l.MarkDone(p, types.NewMessage(types.MsgSettled, "amount", status.AmountOutFormatted))
				l.Complete(toAmount)
				log.WithField("received", status.AmountOutFormatted).Info("intent settled")
				return nil
			case client.StatusFailed, client.StatusRefunded:
				e.metrics.ObserveWait("settlement", "failed", time.Since(start))
				return l.Fail(p, types.NewError(types.KindConfirmation, nil, "intent %s: %s", strings.ToLower(status.Status), dq.DepositAddress))
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timeout.C:
			e.metrics.ObserveWait("settlement", "timeout", time.Since(start))
			err := types.NewError(types.KindCounterpartyTimeout, nil, "settlement not reported within %s", e.cfg.Timeout)
			err.Hint = "The transfer may still complete without further action. Check its status at " + e.statusLink(dq.DepositAddress)
			return l.Fail(p, err)
		case <-ticker.C:
		}
	}
}

func (e *Executor) statusLink(depositAddress string) string {
	if e.cfg.StatusURL == "" {
		return "xroute intents status " + depositAddress
	}
	return strings.TrimRight(e.cfg.StatusURL, "/") + "/" + depositAddress
}

func (e *Executor) link(chainID int64, hash string) string {
	if e.links == nil {
		return ""
	}
	return e.links.TxLink(chainID, hash)
}

func decodeQuote(q *types.Quote) (*client.DepositQuote, error) {
	if q == nil {
		return nil, errors.New("no quote")
	}
	var dq client.DepositQuote
	if err := json.Unmarshal(q.Payload, &dq); err != nil {
		return nil, fmt.Errorf("decode deposit quote: %w", err)
	}
	return &dq, nil
}
