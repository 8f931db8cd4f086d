package wallet

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"
)

const (
	defaultTransferGas = uint64(21000)
	defaultCallGas     = uint64(100000)
	defaultPollEvery   = 2 * time.Second
)

// KeyWallet signs with a local private key on any chain in the registry.
// Signing and broadcasting are serialized so concurrent routes never race on
// nonces.
type KeyWallet struct {
	registry     *Registry
	privateKey   *ecdsa.PrivateKey
	address      common.Address
	pollInterval time.Duration
	log          *logrus.Entry

	mu sync.Mutex
}

// NewKeyWallet parses a hex private key
func NewKeyWallet(registry *Registry, hexKey string, log *logrus.Entry) (*KeyWallet, error) {
	if hexKey == "" {
		return nil, fmt.Errorf("private key not configured")
	}
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	return &KeyWallet{
		registry:     registry,
		privateKey:   privateKey,
		address:      crypto.PubkeyToAddress(privateKey.PublicKey),
		pollInterval: defaultPollEvery,
		log:          log,
	}, nil
}

// SetPollInterval changes how often receipts are polled
func (w *KeyWallet) SetPollInterval(d time.Duration) {
	w.pollInterval = d
}

// Address returns the wallet address
func (w *KeyWallet) Address() common.Address {
	return w.address
}

// OnChain returns a signer bound to chainID
func (w *KeyWallet) OnChain(chainID int64) (*KeySigner, error) {
	if _, ok := w.registry.Network(chainID); !ok {
		return nil, fmt.Errorf("chain %d is not configured", chainID)
	}
	return &KeySigner{wallet: w, chainID: chainID}, nil
}

// SwitchChain activates chainID programmatically
func (w *KeyWallet) SwitchChain(_ context.Context, chainID int64) (Signer, error) {
	signer, err := w.OnChain(chainID)
	if err != nil {
		return nil, err
	}
	return signer, nil
}

// KeySigner is a KeyWallet bound to one chain
type KeySigner struct {
	wallet  *KeyWallet
	chainID int64
}

var _ Signer = (*KeySigner)(nil)

func (s *KeySigner) Address() common.Address {
	return s.wallet.address
}

func (s *KeySigner) ChainID(_ context.Context) (int64, error) {
	return s.chainID, nil
}

// SendTransaction signs req with an EIP-155 signer and broadcasts it
func (s *KeySigner) SendTransaction(ctx context.Context, req TxRequest) (PendingTx, error) {
	backend, err := s.wallet.registry.Backend(s.chainID)
	if err != nil {
		return nil, &ProviderError{Code: CodeInternal, Message: "no provider", Err: err}
	}
	network, _ := s.wallet.registry.Network(s.chainID)

	s.wallet.mu.Lock()
	defer s.wallet.mu.Unlock()

	from := s.wallet.address

	nonce, err := backend.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, &ProviderError{Code: CodeInternal, Message: "failed to get nonce", Err: err}
	}

	gasPrice, err := s.gasPrice(ctx, backend, network)
	if err != nil {
		return nil, &ProviderError{Code: CodeInternal, Message: "failed to get gas price", Err: err}
	}

	value := req.Value
	if value == nil {
		value = big.NewInt(0)
	}

	gasLimit := s.gasLimit(ctx, backend, network, req, value)

	to := req.To
	tx := gethtypes.NewTx(&gethtypes.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     req.Data,
	})

	signedTx, err := gethtypes.SignTx(tx, gethtypes.NewEIP155Signer(big.NewInt(s.chainID)), s.wallet.privateKey)
	if err != nil {
		return nil, &ProviderError{Code: CodeInternal, Message: "failed to sign transaction", Err: err}
	}

	if err := backend.SendTransaction(ctx, signedTx); err != nil {
		return nil, &ProviderError{Code: CodeInternal, Message: "failed to send transaction", Err: err}
	}

	s.wallet.log.WithFields(logrus.Fields{
		"chain": s.chainID,
		"tx":    signedTx.Hash().Hex(),
		"nonce": nonce,
	}).Debug("transaction broadcast")

	return NewPendingTx(signedTx.Hash(), s.WaitForTransaction), nil
}

func (s *KeySigner) gasPrice(ctx context.Context, backend Backend, network Network) (*big.Int, error) {
	if network.GasPrice != nil {
		return big.NewInt(*network.GasPrice), nil
	}
	return backend.SuggestGasPrice(ctx)
}

func (s *KeySigner) gasLimit(ctx context.Context, backend Backend, network Network, req TxRequest, value *big.Int) uint64 {
	if req.GasLimit > 0 {
		return req.GasLimit
	}
	if network.GasLimit != nil {
		return *network.GasLimit
	}

	to := req.To
	estimated, err := backend.EstimateGas(ctx, ethereum.CallMsg{
		From:  s.wallet.address,
		To:    &to,
		Value: value,
		Data:  req.Data,
	})
	if err == nil {
		return estimated * 120 / 100
	}
	if len(req.Data) == 0 {
		return defaultTransferGas
	}
	return defaultCallGas
}

// WaitForTransaction polls until the transaction is mined
func (s *KeySigner) WaitForTransaction(ctx context.Context, hash common.Hash) (*gethtypes.Receipt, error) {
	backend, err := s.wallet.registry.Backend(s.chainID)
	if err != nil {
		return nil, &ProviderError{Code: CodeInternal, Message: "no provider", Err: err}
	}

	ticker := time.NewTicker(s.wallet.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := backend.TransactionReceipt(ctx, hash)
		switch {
		case err == nil && receipt != nil:
			if receipt.Status == gethtypes.ReceiptStatusFailed {
				return receipt, fmt.Errorf("%w: %s", ErrReverted, hash.Hex())
			}
			return receipt, nil
		case err != nil && !errors.Is(err, ethereum.NotFound):
			return nil, &ProviderError{Code: CodeInternal, Message: "failed to get transaction receipt", Err: err}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// SignMessage produces an EIP-191 personal signature
func (s *KeySigner) SignMessage(_ context.Context, msg []byte) ([]byte, error) {
	sig, err := crypto.Sign(accounts.TextHash(msg), s.wallet.privateKey)
	if err != nil {
		return nil, &ProviderError{Code: CodeInternal, Message: "failed to sign message", Err: err}
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// CallContract executes a read-only call at the latest block
func (s *KeySigner) CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	backend, err := s.wallet.registry.Backend(s.chainID)
	if err != nil {
		return nil, &ProviderError{Code: CodeInternal, Message: "no provider", Err: err}
	}
	return backend.CallContract(ctx, msg, nil)
}
