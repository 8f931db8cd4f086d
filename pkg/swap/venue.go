// Package swap turns a swap step into the contract call a DEX venue expects.
package swap

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"xroute/pkg/types"
)

// Call is the on-chain call that performs a swap
type Call struct {
	To    common.Address
	Data  []byte
	Value *big.Int
	// ApproveTo is the spender that must hold an allowance for the input token
	ApproveTo common.Address
}

// Venue builds swap calls for one tool
type Venue interface {
	SwapCall(ctx context.Context, step *types.Step, from, to common.Address) (*Call, error)
}

// Registry maps tool names to venues. Tools without a venue use the router
// supplied transaction request.
type Registry struct {
	mu     sync.RWMutex
	venues map[string]Venue
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{venues: make(map[string]Venue)}
}

// Register adds a venue for tool
func (r *Registry) Register(tool string, v Venue) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.venues[strings.ToLower(tool)] = v
}

// Lookup returns the venue for tool, falling back to Prebuilt
func (r *Registry) Lookup(tool string) Venue {
	if r != nil {
		r.mu.RLock()
		v, ok := r.venues[strings.ToLower(tool)]
		r.mu.RUnlock()
		if ok {
			return v
		}
	}
	return Prebuilt{}
}

// Prebuilt uses the transaction request the router attached to the estimate
type Prebuilt struct{}

func (Prebuilt) SwapCall(_ context.Context, step *types.Step, _, _ common.Address) (*Call, error) {
	req := step.Estimate.TransactionRequest
	if req == nil {
		return nil, fmt.Errorf("step %s has no transaction request for tool %q", step.ID, step.Tool)
	}
	if !common.IsHexAddress(req.To) {
		return nil, fmt.Errorf("step %s: invalid swap target %q", step.ID, req.To)
	}
	data, err := hexutil.Decode(req.Data)
	if err != nil {
		return nil, fmt.Errorf("step %s: invalid swap call data: %w", step.ID, err)
	}

	value := new(big.Int)
	if req.Value != "" {
		value, err = parseValue(req.Value)
		if err != nil {
			return nil, fmt.Errorf("step %s: %w", step.ID, err)
		}
	}

	call := &Call{
		To:        common.HexToAddress(req.To),
		Data:      data,
		Value:     value,
		ApproveTo: common.HexToAddress(req.To),
	}
	if common.IsHexAddress(step.Estimate.ApprovalAddress) {
		call.ApproveTo = common.HexToAddress(step.Estimate.ApprovalAddress)
	}
	return call, nil
}

func parseValue(s string) (*big.Int, error) {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, err := hexutil.DecodeBig(s)
		if err != nil {
			return nil, fmt.Errorf("invalid swap value %q: %w", s, err)
		}
		return v, nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid swap value %q", s)
	}
	return v, nil
}
