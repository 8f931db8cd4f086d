// Package allowance makes sure a spender may move a signer's ERC20 tokens
// before a step that transfers them.
package allowance

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/sirupsen/logrus"

	"xroute/pkg/ledger"
	"xroute/pkg/types"
	"xroute/pkg/wallet"
)

const erc20AllowanceABI = `[
	{"constant":true,"inputs":[{"name":"_owner","type":"address"},{"name":"_spender","type":"address"}],"name":"allowance","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":false,"inputs":[{"name":"_spender","type":"address"},{"name":"_value","type":"uint256"}],"name":"approve","outputs":[{"name":"","type":"bool"}],"type":"function"}
]`

var erc20ABI = mustParseABI(erc20AllowanceABI)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("parse erc20 abi: %v", err))
	}
	return parsed
}

// Request describes the allowance a step needs
type Request struct {
	Signer        wallet.Signer
	ChainID       int64
	Token         types.Token
	Amount        *big.Int
	Spender       common.Address
	AllowInfinite bool
}

// Manager checks and sets ERC20 allowances
type Manager struct {
	links wallet.LinkResolver
	log   *logrus.Entry
}

// NewManager creates an allowance manager
func NewManager(links wallet.LinkResolver, log *logrus.Entry) *Manager {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Manager{links: links, log: log}
}

// Ensure approves Spender for at least Amount. It is a no-op for the native
// asset and when the current allowance already suffices. On resume it reuses
// an approval that was already sent.
func (m *Manager) Ensure(ctx context.Context, req Request, l *ledger.Ledger) error {
	if req.Token.IsNative() {
		return nil
	}

	if p := l.Find(types.ProcessTokenAllowance); p != nil {
		switch {
		case p.Status == types.ProcessDone:
			return nil
		case p.Status.IsActive() && p.TxHash != "":
			return m.confirm(ctx, req, l, p, common.HexToHash(p.TxHash))
		}
	}

	token := req.Token.HexAddress()
	current, err := m.Allowance(ctx, req.Signer, token, req.Spender)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p := l.FindOrCreate(types.ProcessTokenAllowance, types.ProcessPending, m.message(types.MsgSetAllowance, req))
		return l.Fail(p, types.NewError(types.KindAllowance, err, "failed to read allowance of %s", req.Token.Symbol))
	}
	if current.Cmp(req.Amount) >= 0 {
		m.log.WithFields(logrus.Fields{
			"token":   req.Token.Symbol,
			"spender": req.Spender.Hex(),
		}).Debug("allowance already sufficient")
		return nil
	}

	p := l.FindOrCreate(types.ProcessTokenAllowance, types.ProcessActionRequired, m.message(types.MsgSetAllowance, req))

	amount := req.Amount
	if req.AllowInfinite {
		amount = math.MaxBig256
	}
	data, err := erc20ABI.Pack("approve", req.Spender, amount)
	if err != nil {
		return l.Fail(p, types.NewError(types.KindAllowance, err, "failed to encode approval"))
	}

	tx, err := req.Signer.SendTransaction(ctx, wallet.TxRequest{To: token, Data: data})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return l.Fail(p, types.NewError(types.KindAllowance, err, "approval of %s was not sent", req.Token.Symbol))
	}

	hash := tx.Hash()
	l.Mutate(p, func(p *types.Process) {
		p.Status = types.ProcessPending
		p.TxHash = hash.Hex()
		p.TxLink = m.link(req.ChainID, hash.Hex())
		p.Message = m.message(types.MsgAllowanceWait, req)
	})

	return m.confirm(ctx, req, l, p, hash)
}

func (m *Manager) confirm(ctx context.Context, req Request, l *ledger.Ledger, p *types.Process, hash common.Hash) error {
	if _, err := req.Signer.WaitForTransaction(ctx, hash); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return l.Fail(p, types.NewError(types.KindAllowance, err, "approval %s failed", hash.Hex()))
	}
	l.MarkDone(p, m.message(types.MsgAllowanceDone, req))
	return nil
}

// Allowance reads the ERC20 allowance of the signer for spender
func (m *Manager) Allowance(ctx context.Context, signer wallet.Signer, token, spender common.Address) (*big.Int, error) {
	data, err := erc20ABI.Pack("allowance", signer.Address(), spender)
	if err != nil {
		return nil, fmt.Errorf("failed to pack allowance call: %w", err)
	}
	out, err := signer.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data})
	if err != nil {
		return nil, fmt.Errorf("failed to call allowance: %w", err)
	}
	values, err := erc20ABI.Unpack("allowance", out)
	if err != nil {
		return nil, fmt.Errorf("failed to decode allowance: %w", err)
	}
	current, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected allowance type %T", values[0])
	}
	return current, nil
}

func (m *Manager) message(key types.MessageKey, req Request) types.Message {
	return types.NewMessage(key, "token", req.Token.Symbol, "spender", req.Spender.Hex())
}

func (m *Manager) link(chainID int64, hash string) string {
	if m.links == nil {
		return ""
	}
	return m.links.TxLink(chainID, hash)
}
