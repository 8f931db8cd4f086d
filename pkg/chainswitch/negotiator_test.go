package chainswitch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xroute/pkg/logging"
	"xroute/pkg/types"
	"xroute/pkg/wallet"
	"xroute/pkg/wallet/wallettest"
)

var addr = common.HexToAddress("0x00000000000000000000000000000000000000aa")

func quietLog() Option {
	return WithLogger(logging.Component(logging.Discard(), "chainswitch"))
}

func switchingHook(base *wallettest.Signer, calls *int32) Hook {
	return func(_ context.Context, chainID int64) (wallet.Signer, error) {
		atomic.AddInt32(calls, 1)
		return base.OnChain(chainID), nil
	}
}

func waitForPending(t *testing.T, n *Negotiator) Request {
	t.Helper()
	var pending []Request
	require.Eventually(t, func() bool {
		pending = n.Pending()
		return len(pending) > 0
	}, time.Second, time.Millisecond)
	return pending[0]
}

func TestParseMode(t *testing.T) {
	mode, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeImmediate, mode)

	mode, err = ParseMode("confirm")
	require.NoError(t, err)
	assert.Equal(t, ModeConfirm, mode)

	_, err = ParseMode("telepathy")
	assert.Error(t, err)
}

func TestSameChainReturnsImmediately(t *testing.T) {
	var calls int32
	signer := wallettest.New(addr, 1)
	n := New(ModeConfirm, switchingHook(signer, &calls), quietLog())

	got, err := n.EnsureChain(context.Background(), signer, 1, func() { t.Fatal("must not suspend") })
	require.NoError(t, err)
	assert.Same(t, signer, got)
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestImmediateSwitch(t *testing.T) {
	var calls int32
	signer := wallettest.New(addr, 1)
	n := New(ModeImmediate, switchingHook(signer, &calls), quietLog())

	got, err := n.EnsureChain(context.Background(), signer, 137, nil)
	require.NoError(t, err)
	chainID, _ := got.ChainID(context.Background())
	assert.Equal(t, int64(137), chainID)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Empty(t, n.Pending())
}

func TestImmediateSwitchFailure(t *testing.T) {
	signer := wallettest.New(addr, 1)

	failing := New(ModeImmediate, func(context.Context, int64) (wallet.Signer, error) {
		return nil, errors.New("unsupported chain")
	}, quietLog())
	_, err := failing.EnsureChain(context.Background(), signer, 137, nil)
	assert.Equal(t, types.KindChainSwitch, types.KindOf(err))

	stuck := New(ModeImmediate, func(context.Context, int64) (wallet.Signer, error) {
		return signer, nil
	}, quietLog())
	_, err = stuck.EnsureChain(context.Background(), signer, 137, nil)
	assert.Equal(t, types.KindChainSwitch, types.KindOf(err))
	assert.Empty(t, stuck.Pending(), "request is discarded after failure")
}

func TestConfirmModeSuspendsUntilConfirmed(t *testing.T) {
	var calls int32
	var suspended int32
	var notified []Request
	signer := wallettest.New(addr, 1)
	n := New(ModeConfirm, switchingHook(signer, &calls), quietLog(), WithNotify(func(r Request) {
		notified = append(notified, r)
	}))

	result := make(chan error, 1)
	go func() {
		_, err := n.EnsureChain(context.Background(), signer, 10, func() { atomic.AddInt32(&suspended, 1) })
		result <- err
	}()

	req := waitForPending(t, n)
	assert.Equal(t, int64(10), req.ChainID)
	assert.Equal(t, addr, req.Wallet)
	assert.Equal(t, int32(1), atomic.LoadInt32(&suspended))
	assert.Zero(t, atomic.LoadInt32(&calls), "hook runs only after confirmation")

	require.NoError(t, n.Confirm(req.ID))
	require.NoError(t, <-result)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Len(t, notified, 1)
	assert.Empty(t, n.Pending())
	assert.Error(t, n.Confirm(req.ID), "resolved requests are gone")
}

func TestConfirmModeReject(t *testing.T) {
	var calls int32
	signer := wallettest.New(addr, 1)
	n := New(ModeConfirm, switchingHook(signer, &calls), quietLog())

	result := make(chan error, 1)
	go func() {
		_, err := n.EnsureChain(context.Background(), signer, 10, nil)
		result <- err
	}()

	req := waitForPending(t, n)
	require.NoError(t, n.Reject(req.ID))

	err := <-result
	assert.Equal(t, types.KindChainSwitch, types.KindOf(err))
	assert.ErrorIs(t, err, ErrRejected)
}

func TestConfirmModeAbandonedByContext(t *testing.T) {
	var calls int32
	signer := wallettest.New(addr, 1)
	n := New(ModeConfirm, switchingHook(signer, &calls), quietLog())

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() {
		_, err := n.EnsureChain(ctx, signer, 10, nil)
		result <- err
	}()

	waitForPending(t, n)
	cancel()
	assert.ErrorIs(t, <-result, context.Canceled)
	assert.Empty(t, n.Pending())
}

func TestSingleOutstandingRequestPerWallet(t *testing.T) {
	var calls int32
	signer := wallettest.New(addr, 1)
	n := New(ModeConfirm, switchingHook(signer, &calls), quietLog())

	const routes = 5
	var wg sync.WaitGroup
	errs := make(chan error, routes)
	for i := 0; i < routes; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := n.EnsureChain(context.Background(), signer, 10, nil)
			if err == nil {
				chainID, _ := s.ChainID(context.Background())
				if chainID != 10 {
					err = errors.New("wrong chain")
				}
			}
			errs <- err
		}()
	}

	req := waitForPending(t, n)
	// give the other callers time to queue behind the outstanding request
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, n.Pending(), 1)

	require.NoError(t, n.Confirm(req.ID))
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "waiters share the confirmed switch")
}

func TestDifferentChainsQueue(t *testing.T) {
	var calls int32
	signer := wallettest.New(addr, 1)
	n := New(ModeConfirm, switchingHook(signer, &calls), quietLog())

	first := make(chan error, 1)
	go func() {
		_, err := n.EnsureChain(context.Background(), signer, 10, nil)
		first <- err
	}()
	req := waitForPending(t, n)

	second := make(chan error, 1)
	go func() {
		_, err := n.EnsureChain(context.Background(), signer, 56, nil)
		second <- err
	}()
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, n.Pending(), 1)

	require.NoError(t, n.Confirm(req.ID))
	require.NoError(t, <-first)

	next := waitForPending(t, n)
	assert.Equal(t, int64(56), next.ChainID)
	require.NoError(t, n.Confirm(next.ID))
	require.NoError(t, <-second)
}
