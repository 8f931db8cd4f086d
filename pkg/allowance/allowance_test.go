package allowance

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xroute/pkg/ledger"
	"xroute/pkg/logging"
	"xroute/pkg/types"
	"xroute/pkg/wallet"
	"xroute/pkg/wallet/wallettest"
)

var (
	owner   = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	spender = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	usdc    = types.Token{Address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", ChainID: 1, Symbol: "USDC", Decimals: 6}
)

type staticLinks struct{}

func (staticLinks) TxLink(chainID int64, hash string) string {
	return "https://scan/" + hash
}

func setup(t *testing.T) (*Manager, *wallettest.Signer, *ledger.Ledger) {
	t.Helper()
	signer := wallettest.New(owner, 1)
	exec := &types.Execution{Status: types.StatusPending}
	l := ledger.New(exec, nil)
	return NewManager(staticLinks{}, logging.Component(logging.Discard(), "allowance")), signer, l
}

func request(signer wallet.Signer, token types.Token, amount int64) Request {
	return Request{
		Signer:  signer,
		ChainID: 1,
		Token:   token,
		Amount:  big.NewInt(amount),
		Spender: spender,
	}
}

func TestNativeTokenIsNoop(t *testing.T) {
	m, signer, l := setup(t)
	signer.Book.CallErr = errors.New("must not be called")

	err := m.Ensure(context.Background(), request(signer, types.Token{ChainID: 1, Symbol: "ETH"}, 100), l)
	require.NoError(t, err)
	assert.Empty(t, l.Execution().Process)
	assert.Empty(t, signer.Transactions())
}

func TestSufficientAllowanceSkipsApproval(t *testing.T) {
	m, signer, l := setup(t)
	signer.Book.Allowance = big.NewInt(1000)

	err := m.Ensure(context.Background(), request(signer, usdc, 1000), l)
	require.NoError(t, err)
	assert.Empty(t, l.Execution().Process)
	assert.Empty(t, signer.Transactions())
}

func TestInsufficientAllowanceApprovesExactAmount(t *testing.T) {
	m, signer, l := setup(t)
	signer.Book.Allowance = big.NewInt(10)

	err := m.Ensure(context.Background(), request(signer, usdc, 1000), l)
	require.NoError(t, err)

	require.Len(t, l.Execution().Process, 1)
	p := l.Execution().Process[0]
	assert.Equal(t, types.ProcessTokenAllowance, p.Type)
	assert.Equal(t, types.ProcessDone, p.Status)
	assert.Equal(t, types.MsgAllowanceDone, p.Message.Key)
	assert.NotEmpty(t, p.TxHash)
	assert.Equal(t, "https://scan/"+p.TxHash, p.TxLink)

	sent := signer.Transactions()
	require.Len(t, sent, 1)
	assert.Equal(t, usdc.HexAddress(), sent[0].Request.To)

	args, err := erc20ABI.Methods["approve"].Inputs.Unpack(sent[0].Request.Data[4:])
	require.NoError(t, err)
	assert.Equal(t, spender, args[0])
	assert.Equal(t, big.NewInt(1000), args[1])
}

func TestInfiniteApproval(t *testing.T) {
	m, signer, l := setup(t)
	req := request(signer, usdc, 1000)
	req.AllowInfinite = true

	require.NoError(t, m.Ensure(context.Background(), req, l))

	sent := signer.Transactions()
	require.Len(t, sent, 1)
	args, err := erc20ABI.Methods["approve"].Inputs.Unpack(sent[0].Request.Data[4:])
	require.NoError(t, err)
	assert.Equal(t, math.MaxBig256, args[1])
}

func TestReadFailureIsAllowanceError(t *testing.T) {
	m, signer, l := setup(t)
	signer.Book.CallErr = errors.New("rpc down")

	err := m.Ensure(context.Background(), request(signer, usdc, 1000), l)
	require.Error(t, err)
	assert.Equal(t, types.KindAllowance, types.KindOf(err))
	assert.Equal(t, types.StatusFailed, l.Execution().Status)
	require.Len(t, l.Execution().Process, 1)
	assert.Equal(t, types.ProcessFailed, l.Execution().Process[0].Status)
}

func TestReadFailureReusesUnsentApproval(t *testing.T) {
	m, signer, l := setup(t)
	l.CreateAndAppend(types.ProcessTokenAllowance, types.ProcessActionRequired, types.Message{})
	signer.Book.CallErr = errors.New("rpc down")

	err := m.Ensure(context.Background(), request(signer, usdc, 1000), l)
	require.Error(t, err)
	require.Len(t, l.Execution().Process, 1)
	assert.Equal(t, types.ProcessFailed, l.Execution().Process[0].Status)
	assert.Zero(t, l.Execution().ActiveCount())
}

func TestCancelledReadRecordsNothing(t *testing.T) {
	m, signer, l := setup(t)
	signer.Book.CallErr = context.Canceled
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := m.Ensure(ctx, request(signer, usdc, 1000), l)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, l.Execution().Process)
	assert.NotEqual(t, types.StatusFailed, l.Execution().Status)
}

func TestCancelledSendLeavesApprovalResumable(t *testing.T) {
	m, signer, l := setup(t)
	signer.FailSend(0, context.Canceled)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := m.Ensure(ctx, request(signer, usdc, 1000), l)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotEqual(t, types.StatusFailed, l.Execution().Status)
	for _, p := range l.Execution().Process {
		assert.NotEqual(t, types.ProcessFailed, p.Status)
	}

	require.NoError(t, m.Ensure(context.Background(), request(signer, usdc, 1000), l))
	require.Len(t, l.Execution().Process, 1)
	assert.Equal(t, types.ProcessDone, l.Execution().Process[0].Status)
}

func TestRejectedSignatureIsAllowanceError(t *testing.T) {
	m, signer, l := setup(t)
	signer.FailSend(0, wallet.ErrUserRejected)

	err := m.Ensure(context.Background(), request(signer, usdc, 1000), l)
	require.Error(t, err)
	assert.Equal(t, types.KindAllowance, types.KindOf(err))
	assert.True(t, wallet.IsUserRejected(err))

	p := l.Execution().LastProcess()
	assert.Equal(t, types.ProcessFailed, p.Status)
	assert.Equal(t, "4001", p.ErrorCode)
}

func TestConfirmationFailureIsAllowanceError(t *testing.T) {
	m, signer, l := setup(t)
	signer.FailWait(signer.NextHash(), wallet.ErrReverted)

	err := m.Ensure(context.Background(), request(signer, usdc, 1000), l)
	require.Error(t, err)
	assert.Equal(t, types.KindAllowance, types.KindOf(err))
	assert.ErrorIs(t, err, wallet.ErrReverted)
	assert.Equal(t, types.ProcessFailed, l.Execution().LastProcess().Status)
}

func TestResumeWaitsForSentApproval(t *testing.T) {
	m, signer, l := setup(t)
	p := l.CreateAndAppend(types.ProcessTokenAllowance, types.ProcessPending, types.Message{})
	l.Mutate(p, func(p *types.Process) { p.TxHash = "0x1234" })
	signer.Book.CallErr = errors.New("allowance must not be re-read")

	require.NoError(t, m.Ensure(context.Background(), request(signer, usdc, 1000), l))
	assert.Equal(t, types.ProcessDone, p.Status)
	assert.Empty(t, signer.Transactions())
	assert.Equal(t, []common.Hash{common.HexToHash("0x1234")}, signer.Book.Waited)

	require.NoError(t, m.Ensure(context.Background(), request(signer, usdc, 1000), l), "done approval is reused")
	assert.Len(t, l.Execution().Process, 1)
}
