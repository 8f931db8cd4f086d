// Package chainswitch makes sure the wallet is on the chain a step signs on.
//
// Wallets either switch programmatically (ModeImmediate) or need the user to
// confirm the switch elsewhere (ModeConfirm). In confirm mode the negotiator
// publishes a Request and suspends until Confirm or Reject is called. At most
// one request is outstanding per wallet. Concurrent callers wait for it and
// share its signer when they need the same chain.
package chainswitch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"xroute/pkg/metrics"
	"xroute/pkg/types"
	"xroute/pkg/wallet"
)

// Mode is the switching capability of the wallet class
type Mode string

const (
	ModeImmediate Mode = "immediate"
	ModeConfirm   Mode = "confirm"
)

// ParseMode parses a configured mode, defaulting to immediate
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeImmediate:
		return ModeImmediate, nil
	case ModeConfirm:
		return ModeConfirm, nil
	default:
		return "", fmt.Errorf("unknown chain switch mode %q", s)
	}
}

// Hook asks the wallet layer for a signer on chainID
type Hook func(ctx context.Context, chainID int64) (wallet.Signer, error)

// ErrRejected is returned when a pending request is rejected
var ErrRejected = errors.New("chain switch rejected")

// Request is an outstanding chain switch awaiting confirmation
type Request struct {
	ID        string
	Wallet    common.Address
	ChainID   int64
	CreatedAt time.Time

	resolve chan error
	done    chan struct{}
	signer  wallet.Signer
	err     error
}

// Option configures a Negotiator
type Option func(*Negotiator)

// WithNotify registers a callback for new confirm-mode requests
func WithNotify(fn func(Request)) Option {
	return func(n *Negotiator) {
		n.notify = fn
	}
}

// WithLogger sets the logger
func WithLogger(log *logrus.Entry) Option {
	return func(n *Negotiator) {
		n.log = log
	}
}

// WithMetrics records switch outcomes
func WithMetrics(c *metrics.Collector) Option {
	return func(n *Negotiator) {
		n.metrics = c
	}
}

// Negotiator coordinates chain switches for every route sharing a wallet
type Negotiator struct {
	mode    Mode
	hook    Hook
	notify  func(Request)
	log     *logrus.Entry
	metrics *metrics.Collector

	mu       sync.Mutex
	byWallet map[common.Address]*Request
	byID     map[string]*Request
}

// New creates a negotiator
func New(mode Mode, hook Hook, opts ...Option) *Negotiator {
	n := &Negotiator{
		mode:     mode,
		hook:     hook,
		log:      logrus.NewEntry(logrus.StandardLogger()),
		byWallet: make(map[common.Address]*Request),
		byID:     make(map[string]*Request),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Mode returns the configured mode
func (n *Negotiator) Mode() Mode {
	return n.mode
}

// EnsureChain returns a signer on chainID. onSuspend runs before waiting for
// a confirm-mode request so the caller can mark its step
// CHAIN_SWITCH_REQUIRED.
func (n *Negotiator) EnsureChain(ctx context.Context, signer wallet.Signer, chainID int64, onSuspend func()) (wallet.Signer, error) {
	for {
		current, err := signer.ChainID(ctx)
		if err != nil {
			return nil, types.NewError(types.KindChainSwitch, err, "failed to read active chain")
		}
		if current == chainID {
			return signer, nil
		}

		n.mu.Lock()
		if pending, ok := n.byWallet[signer.Address()]; ok {
			n.mu.Unlock()
			select {
			case <-pending.done:
				if pending.ChainID == chainID && pending.err == nil {
					return pending.signer, nil
				}
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		req := &Request{
			ID:        uuid.New().String(),
			Wallet:    signer.Address(),
			ChainID:   chainID,
			CreatedAt: time.Now(),
			resolve:   make(chan error, 1),
			done:      make(chan struct{}),
		}
		n.byWallet[req.Wallet] = req
		n.byID[req.ID] = req
		n.mu.Unlock()

		next, err := n.negotiate(ctx, req, current, onSuspend)
		n.finish(req, next, err)

		result := "ok"
		if err != nil {
			result = "failed"
		}
		n.metrics.ObserveChainSwitch(string(n.mode), result)
		return next, err
	}
}

func (n *Negotiator) negotiate(ctx context.Context, req *Request, from int64, onSuspend func()) (wallet.Signer, error) {
	log := n.log.WithFields(logrus.Fields{
		"wallet": req.Wallet.Hex(),
		"from":   from,
		"to":     req.ChainID,
	})

	if n.mode == ModeConfirm {
		if onSuspend != nil {
			onSuspend()
		}
		if n.notify != nil {
			n.notify(*req)
		}
		log.WithField("request", req.ID).Info("waiting for chain switch confirmation")

		select {
		case err := <-req.resolve:
			if err != nil {
				return nil, types.NewError(types.KindChainSwitch, err, "switch to chain %d was not confirmed", req.ChainID)
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	signer, err := n.hook(ctx, req.ChainID)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, types.NewError(types.KindChainSwitch, err, "failed to switch to chain %d", req.ChainID)
	}
	active, err := signer.ChainID(ctx)
	if err != nil {
		return nil, types.NewError(types.KindChainSwitch, err, "failed to read active chain")
	}
	if active != req.ChainID {
		return nil, types.NewError(types.KindChainSwitch, nil, "wallet is on chain %d, chain %d required", active, req.ChainID)
	}

	log.Info("chain switched")
	return signer, nil
}

func (n *Negotiator) finish(req *Request, signer wallet.Signer, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	req.signer = signer
	req.err = err
	if n.byWallet[req.Wallet] == req {
		delete(n.byWallet, req.Wallet)
	}
	delete(n.byID, req.ID)
	close(req.done)
}

// Pending lists outstanding requests, oldest first
func (n *Negotiator) Pending() []Request {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Request, 0, len(n.byID))
	for _, req := range n.byID {
		out = append(out, *req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Confirm resolves a pending request after the user switched networks
func (n *Negotiator) Confirm(id string) error {
	return n.resolve(id, nil)
}

// Reject abandons a pending request; the waiting step fails
func (n *Negotiator) Reject(id string) error {
	return n.resolve(id, ErrRejected)
}

func (n *Negotiator) resolve(id string, result error) error {
	n.mu.Lock()
	req, ok := n.byID[id]
	n.mu.Unlock()
	if !ok {
		return fmt.Errorf("chain switch request %s not found", id)
	}
	select {
	case req.resolve <- result:
		return nil
	default:
		return fmt.Errorf("chain switch request %s already resolved", id)
	}
}
