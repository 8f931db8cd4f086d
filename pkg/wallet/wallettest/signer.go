// Package wallettest provides an in-memory signer for tests.
package wallettest

import (
	"context"
	"encoding/binary"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"xroute/pkg/wallet"
)

// SentTx is a transaction recorded by the fake signer
type SentTx struct {
	ChainID int64
	Hash    common.Hash
	Request wallet.TxRequest
}

// Book is the state shared by every chain view of one fake wallet
type Book struct {
	mu sync.Mutex

	Sent     []SentTx
	Waited   []common.Hash
	Signed   [][]byte
	nonce    uint64
	failSend map[int]error
	failWait map[common.Hash]error

	// Allowance is returned for every allowance read
	Allowance *big.Int
	// CallErr fails every contract read when set
	CallErr error
	// SignErr fails every message signature when set
	SignErr error
	// WaitErr fails every receipt wait when set
	WaitErr error
}

// Signer is a fake wallet.Signer bound to one chain
type Signer struct {
	Addr  common.Address
	Chain int64
	Book  *Book
}

var _ wallet.Signer = (*Signer)(nil)

// New returns a signer on chainID with an empty book
func New(addr common.Address, chainID int64) *Signer {
	return &Signer{
		Addr:  addr,
		Chain: chainID,
		Book: &Book{
			Allowance: big.NewInt(0),
			failSend:  map[int]error{},
			failWait:  map[common.Hash]error{},
		},
	}
}

// OnChain returns a view of the same wallet on another chain
func (s *Signer) OnChain(chainID int64) *Signer {
	return &Signer{Addr: s.Addr, Chain: chainID, Book: s.Book}
}

// FailSend makes the n-th send (zero based) fail with err
func (s *Signer) FailSend(n int, err error) {
	s.Book.mu.Lock()
	defer s.Book.mu.Unlock()
	s.Book.failSend[n] = err
}

// FailWait makes waiting on hash fail with err
func (s *Signer) FailWait(hash common.Hash, err error) {
	s.Book.mu.Lock()
	defer s.Book.mu.Unlock()
	s.Book.failWait[hash] = err
}

// Transactions returns a copy of every sent transaction
func (s *Signer) Transactions() []SentTx {
	s.Book.mu.Lock()
	defer s.Book.mu.Unlock()
	return append([]SentTx(nil), s.Book.Sent...)
}

// NextHash returns the hash the next sent transaction will get
func (s *Signer) NextHash() common.Hash {
	s.Book.mu.Lock()
	defer s.Book.mu.Unlock()
	return hashFor(s.Book.nonce)
}

func hashFor(nonce uint64) common.Hash {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], nonce)
	return crypto.Keccak256Hash(buf[:])
}

func (s *Signer) Address() common.Address {
	return s.Addr
}

func (s *Signer) ChainID(context.Context) (int64, error) {
	return s.Chain, nil
}

func (s *Signer) SendTransaction(_ context.Context, req wallet.TxRequest) (wallet.PendingTx, error) {
	s.Book.mu.Lock()
	defer s.Book.mu.Unlock()

	attempt := int(s.Book.nonce)
	if err, ok := s.Book.failSend[attempt]; ok {
		delete(s.Book.failSend, attempt)
		return nil, err
	}

	hash := hashFor(s.Book.nonce)
	s.Book.nonce++
	s.Book.Sent = append(s.Book.Sent, SentTx{ChainID: s.Chain, Hash: hash, Request: req})
	return wallet.NewPendingTx(hash, s.WaitForTransaction), nil
}

func (s *Signer) WaitForTransaction(ctx context.Context, hash common.Hash) (*gethtypes.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.Book.mu.Lock()
	defer s.Book.mu.Unlock()

	s.Book.Waited = append(s.Book.Waited, hash)
	if err, ok := s.Book.failWait[hash]; ok {
		return nil, err
	}
	if s.Book.WaitErr != nil {
		return nil, s.Book.WaitErr
	}
	return &gethtypes.Receipt{TxHash: hash, Status: gethtypes.ReceiptStatusSuccessful, BlockNumber: big.NewInt(1)}, nil
}

func (s *Signer) SignMessage(_ context.Context, msg []byte) ([]byte, error) {
	s.Book.mu.Lock()
	defer s.Book.mu.Unlock()

	if s.Book.SignErr != nil {
		return nil, s.Book.SignErr
	}
	s.Book.Signed = append(s.Book.Signed, msg)
	sig := make([]byte, 65)
	copy(sig, crypto.Keccak256(msg))
	sig[64] = 27
	return sig, nil
}

// CallContract answers ERC20 allowance reads with Book.Allowance
func (s *Signer) CallContract(context.Context, ethereum.CallMsg) ([]byte, error) {
	s.Book.mu.Lock()
	defer s.Book.mu.Unlock()

	if s.Book.CallErr != nil {
		return nil, s.Book.CallErr
	}
	return common.LeftPadBytes(s.Book.Allowance.Bytes(), 32), nil
}
