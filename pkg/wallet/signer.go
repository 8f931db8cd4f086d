package wallet

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
)

// Provider error codes, following EIP-1193
const (
	CodeUserRejected = 4001
	CodeInternal     = -32603
)

// ErrUserRejected is returned when the wallet owner declines a request
var ErrUserRejected = &ProviderError{Code: CodeUserRejected, Message: "user rejected the request"}

// ErrReverted is returned when a mined transaction has a failed status
var ErrReverted = errors.New("transaction reverted")

// ProviderError is a failure reported by the wallet provider
type ProviderError struct {
	Code    int
	Message string
	Err     error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (code %d): %v", e.Message, e.Code, e.Err)
	}
	return fmt.Sprintf("%s (code %d)", e.Message, e.Code)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// ErrorCode exposes the provider code to the engine's error taxonomy
func (e *ProviderError) ErrorCode() string {
	return strconv.Itoa(e.Code)
}

// IsUserRejected reports whether err is a user rejection
func IsUserRejected(err error) bool {
	var perr *ProviderError
	return errors.As(err, &perr) && perr.Code == CodeUserRejected
}

// TxRequest is a transaction to be signed and sent
type TxRequest struct {
	To       common.Address
	Data     []byte
	Value    *big.Int
	GasLimit uint64
}

// PendingTx is a broadcast transaction
type PendingTx interface {
	Hash() common.Hash
	Wait(ctx context.Context) (*gethtypes.Receipt, error)
}

// Signer is the wallet contract the engine consumes
type Signer interface {
	Address() common.Address
	ChainID(ctx context.Context) (int64, error)
	SendTransaction(ctx context.Context, req TxRequest) (PendingTx, error)
	WaitForTransaction(ctx context.Context, hash common.Hash) (*gethtypes.Receipt, error)
	SignMessage(ctx context.Context, msg []byte) ([]byte, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error)
}

// LinkResolver builds explorer links for transactions
type LinkResolver interface {
	TxLink(chainID int64, hash string) string
}

type pendingTx struct {
	hash common.Hash
	wait func(ctx context.Context, hash common.Hash) (*gethtypes.Receipt, error)
}

// NewPendingTx wraps a hash and a wait function
func NewPendingTx(hash common.Hash, wait func(ctx context.Context, hash common.Hash) (*gethtypes.Receipt, error)) PendingTx {
	return &pendingTx{hash: hash, wait: wait}
}

func (p *pendingTx) Hash() common.Hash {
	return p.hash
}

func (p *pendingTx) Wait(ctx context.Context) (*gethtypes.Receipt, error) {
	return p.wait(ctx, p.hash)
}
