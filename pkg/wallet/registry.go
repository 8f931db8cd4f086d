package wallet

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Backend is the subset of an RPC client the wallet needs
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *gethtypes.Transaction) error
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error)
	Close()
}

// Network is the configuration of one EVM chain
type Network struct {
	Key         string
	ChainID     int64
	RPCURL      string
	ExplorerURL string
	GasLimit    *uint64
	GasPrice    *int64
}

// DialFunc connects to a chain's RPC endpoint
type DialFunc func(ctx context.Context, url string) (Backend, error)

func dialEthclient(ctx context.Context, url string) (Backend, error) {
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// RegistryOption configures a Registry
type RegistryOption func(*Registry)

// WithDialer replaces the RPC dialer
func WithDialer(dial DialFunc) RegistryOption {
	return func(r *Registry) {
		r.dial = dial
	}
}

// Registry owns the RPC connections for every configured chain. It is built
// at startup, opened once and closed at shutdown.
type Registry struct {
	mu       sync.RWMutex
	networks map[int64]Network
	backends map[int64]Backend
	dial     DialFunc
}

// NewRegistry creates a registry for the given networks
func NewRegistry(networks []Network, opts ...RegistryOption) *Registry {
	r := &Registry{
		networks: make(map[int64]Network, len(networks)),
		backends: make(map[int64]Backend, len(networks)),
		dial:     dialEthclient,
	}
	for _, n := range networks {
		r.networks[n.ChainID] = n
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Open connects to every network and checks the reported chain id
func (r *Registry) Open(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, n := range r.networks {
		if _, ok := r.backends[id]; ok {
			continue
		}
		if n.RPCURL == "" {
			return fmt.Errorf("RPC URL not configured for network %s", n.Key)
		}
		backend, err := r.dial(ctx, n.RPCURL)
		if err != nil {
			return fmt.Errorf("failed to connect to %s: %w", n.Key, err)
		}
		remote, err := backend.ChainID(ctx)
		if err != nil {
			backend.Close()
			return fmt.Errorf("failed to read chain id from %s: %w", n.Key, err)
		}
		if remote.Int64() != id {
			backend.Close()
			return fmt.Errorf("network %s reports chain id %d, configured %d", n.Key, remote.Int64(), id)
		}
		r.backends[id] = backend
	}
	return nil
}

// Close releases every connection
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, backend := range r.backends {
		backend.Close()
		delete(r.backends, id)
	}
}

// Backend returns the open connection for a chain
func (r *Registry) Backend(chainID int64) (Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	backend, ok := r.backends[chainID]
	if !ok {
		if _, known := r.networks[chainID]; !known {
			return nil, fmt.Errorf("chain %d is not configured", chainID)
		}
		return nil, fmt.Errorf("chain %d is not connected", chainID)
	}
	return backend, nil
}

// Network returns the configuration of a chain
func (r *Registry) Network(chainID int64) (Network, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.networks[chainID]
	return n, ok
}

// Lookup finds a network by key or numeric id
func (r *Registry) Lookup(key string) (Network, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, n := range r.networks {
		if strings.EqualFold(n.Key, key) || fmt.Sprint(n.ChainID) == key {
			return n, true
		}
	}
	return Network{}, false
}

// Networks returns all networks ordered by chain id
func (r *Registry) Networks() []Network {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Network, 0, len(r.networks))
	for _, n := range r.networks {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChainID < out[j].ChainID })
	return out
}

// TxLink returns the explorer URL of a transaction, empty if unknown
func (r *Registry) TxLink(chainID int64, hash string) string {
	n, ok := r.Network(chainID)
	if !ok || n.ExplorerURL == "" || hash == "" {
		return ""
	}
	return strings.TrimRight(n.ExplorerURL, "/") + "/tx/" + hash
}
