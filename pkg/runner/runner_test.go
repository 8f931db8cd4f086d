package runner

import (
	"context"
	"errors"
	"math/big"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xroute/pkg/bridge"
	"xroute/pkg/chainswitch"
	"xroute/pkg/intents"
	"xroute/pkg/logging"
	"xroute/pkg/store"
	"xroute/pkg/types"
	"xroute/pkg/wallet"
	"xroute/pkg/wallet/wallettest"
)

var (
	user   = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	router = "0x00000000000000000000000000000000000000cc"

	eth     = types.Token{ChainID: 1, Symbol: "ETH", Decimals: 18}
	usdc    = types.Token{Address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", ChainID: 1, Symbol: "USDC", Decimals: 6}
	dai     = types.Token{Address: "0x6B175474E89094C44Da98b954EedeAC495271d0F", ChainID: 1, Symbol: "DAI", Decimals: 18}
	usdcPol = types.Token{Address: "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174", ChainID: 137, Symbol: "USDC", Decimals: 6}
)

// fakeBridge completes every transfer unless exec is set
type fakeBridge struct {
	mu        sync.Mutex
	transfers []bridge.Transfer
	released  []string
	exec      func(ctx context.Context, t bridge.Transfer) error
}

func (b *fakeBridge) Execute(ctx context.Context, t bridge.Transfer) error {
	b.mu.Lock()
	b.transfers = append(b.transfers, t)
	exec := b.exec
	b.mu.Unlock()
	if exec != nil {
		return exec(ctx, t)
	}
	p := t.Ledger.CreateAndAppend(types.ProcessCrossChain, types.ProcessPending, types.NewMessage(types.MsgWaitTransaction))
	t.Ledger.MarkDone(p, types.NewMessage(types.MsgTransactionSent))
	t.Ledger.Complete("990")
	return nil
}

func (b *fakeBridge) Release(routeID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.released = append(b.released, routeID)
}

func (b *fakeBridge) releasedRoutes() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.released...)
}

type fakeIntents struct {
	transfers []intents.Transfer
}

func (f *fakeIntents) Execute(_ context.Context, t intents.Transfer) error {
	f.transfers = append(f.transfers, t)
	p := t.Ledger.CreateAndAppend(types.ProcessDeposit, types.ProcessPending, types.NewMessage(types.MsgDepositSent))
	t.Ledger.MarkDone(p, types.NewMessage(types.MsgSettled))
	t.Ledger.Complete("42")
	return nil
}

type harness struct {
	runner  *Runner
	signer  *wallettest.Signer
	bridge  *fakeBridge
	intents *fakeIntents
	store   *store.FileStore
	chains  *chainswitch.Negotiator
	hooks   []int64
}

func newHarness(t *testing.T, mode chainswitch.Mode) *harness {
	t.Helper()
	log := logging.Component(logging.Discard(), "runner")
	s, err := store.NewFileStore(filepath.Join(t.TempDir(), "routes.json"), log)
	require.NoError(t, err)

	h := &harness{
		signer:  wallettest.New(user, 1),
		bridge:  &fakeBridge{},
		intents: &fakeIntents{},
		store:   s,
	}
	var hookMu sync.Mutex
	hook := func(_ context.Context, chainID int64) (wallet.Signer, error) {
		hookMu.Lock()
		h.hooks = append(h.hooks, chainID)
		hookMu.Unlock()
		return h.signer.OnChain(chainID), nil
	}
	var negotiator *chainswitch.Negotiator
	negotiator = chainswitch.New(mode, hook, chainswitch.WithLogger(log), chainswitch.WithNotify(func(req chainswitch.Request) {
		negotiator.Confirm(req.ID)
	}))
	h.chains = negotiator

	h.runner = New(h.signer, negotiator, nil,
		WithStore(s),
		WithBridge(h.bridge),
		WithIntents(h.intents),
		WithLogger(log),
	)
	return h
}

func swapStep(id string, from, to types.Token) *types.Step {
	return &types.Step{
		ID:   id,
		Type: types.StepSwap,
		Tool: "uniswap",
		Action: types.Action{
			FromChainID: from.ChainID,
			ToChainID:   to.ChainID,
			FromToken:   from,
			ToToken:     to,
			FromAmount:  "1000",
		},
		Estimate: types.Estimate{
			FromAmount: "1000",
			ToAmount:   "2000",
			TransactionRequest: &types.TransactionRequest{
				To:   router,
				Data: "0xdeadbeef",
			},
		},
	}
}

func crossStep(id, tool string) *types.Step {
	return &types.Step{
		ID:   id,
		Type: types.StepCross,
		Tool: tool,
		Action: types.Action{
			FromChainID: 1,
			ToChainID:   137,
			FromToken:   usdc,
			ToToken:     usdcPol,
			FromAmount:  "2000",
		},
	}
}

func newRoute(id string, steps ...*types.Step) *types.Route {
	return &types.Route{ID: id, FromChainID: 1, ToChainID: 137, FromAmount: "1000", Steps: steps}
}

// recorder collects snapshots delivered to an update callback
type recorder struct {
	mu    sync.Mutex
	snaps []*types.Route
}

func (r *recorder) update(route *types.Route) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, route)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snaps)
}

func (r *recorder) stepStatuses(stepID string) []types.ExecutionStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []types.ExecutionStatus
	for _, snap := range r.snaps {
		for _, step := range snap.Steps {
			if step.ID != stepID {
				continue
			}
			status := step.Status()
			if len(out) == 0 || out[len(out)-1] != status {
				out = append(out, status)
			}
		}
	}
	return out
}

func processTypes(exec *types.Execution) []types.ProcessType {
	out := make([]types.ProcessType, 0, len(exec.Process))
	for _, p := range exec.Process {
		out = append(out, p.Type)
	}
	return out
}

func TestStartSwapWithApproval(t *testing.T) {
	h := newHarness(t, chainswitch.ModeImmediate)
	route := newRoute("r1", swapStep("s1", usdc, dai))
	rec := &recorder{}

	require.NoError(t, h.runner.Start(context.Background(), route, rec.update))

	exec := route.Steps[0].Execution
	assert.Equal(t, types.StatusDone, exec.Status)
	assert.Equal(t, "2000", exec.ToAmount)
	assert.Equal(t, "2000", route.ToAmount)
	assert.Equal(t, []types.ProcessType{types.ProcessTokenAllowance, types.ProcessSwap}, processTypes(exec))

	sent := h.signer.Transactions()
	require.Len(t, sent, 2)
	assert.Equal(t, common.HexToAddress(usdc.Address), sent[0].Request.To, "approval goes to the token")
	assert.Equal(t, common.HexToAddress(router), sent[1].Request.To)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, sent[1].Request.Data)

	stored, err := h.store.Load(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, types.RouteDone, stored.Status())
	assert.Equal(t, "2000", stored.ToAmount)

	require.NotZero(t, rec.count())
	assert.Equal(t, types.RouteDone, rec.snaps[rec.count()-1].Status())
	assert.Equal(t, []string{"r1"}, h.bridge.releasedRoutes(), "listeners released on exit")
}

func TestStartRejectsStartedRoute(t *testing.T) {
	h := newHarness(t, chainswitch.ModeImmediate)
	route := newRoute("r1", swapStep("s1", eth, dai))
	route.Steps[0].Execution = &types.Execution{Status: types.StatusPending}

	err := h.runner.Start(context.Background(), route, nil)
	assert.ErrorIs(t, err, ErrAlreadyStarted)
}

func TestStartRejectsInvalidRoute(t *testing.T) {
	h := newHarness(t, chainswitch.ModeImmediate)
	assert.Error(t, h.runner.Start(context.Background(), newRoute("r1"), nil))
}

func TestCrossStepsDispatchByTool(t *testing.T) {
	h := newHarness(t, chainswitch.ModeImmediate)
	route := newRoute("r1", crossStep("c1", bridge.Tool), crossStep("c2", intents.Tool))

	require.NoError(t, h.runner.Start(context.Background(), route, nil))

	require.Len(t, h.bridge.transfers, 1)
	bt := h.bridge.transfers[0]
	assert.Equal(t, "r1", bt.RouteID)
	assert.Same(t, route.Steps[0], bt.Step)
	assert.Same(t, route.Steps[0], bt.Cross)
	assert.NotNil(t, bt.EnsureChain)

	require.Len(t, h.intents.transfers, 1)
	assert.Same(t, route.Steps[1], h.intents.transfers[0].Step)
	assert.Equal(t, "42", route.ToAmount)
}

func TestBridgeContractStepSplitsLegs(t *testing.T) {
	h := newHarness(t, chainswitch.ModeImmediate)
	start := swapStep("inner-start", eth, usdc)
	cross := crossStep("inner-cross", bridge.Tool)
	end := swapStep("inner-end", usdcPol, usdcPol)
	step := &types.Step{
		ID:            "lifi-1",
		Type:          types.StepBridgeContract,
		Tool:          "lifi",
		Action:        cross.Action,
		IncludedSteps: []*types.Step{start, cross, end},
	}
	step.Action.FromToken = eth

	require.NoError(t, h.runner.Start(context.Background(), newRoute("r1", step), nil))

	require.Len(t, h.bridge.transfers, 1)
	bt := h.bridge.transfers[0]
	assert.Same(t, step, bt.Step)
	assert.Same(t, start, bt.StartSwap)
	assert.Same(t, cross, bt.Cross)
	assert.Same(t, end, bt.EndSwap)
}

func TestUnknownToolFailsStep(t *testing.T) {
	h := newHarness(t, chainswitch.ModeImmediate)
	route := newRoute("r1", crossStep("c1", "carrier-pigeon"), crossStep("c2", bridge.Tool))

	err := h.runner.Start(context.Background(), route, nil)
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindUnknown))

	assert.Equal(t, types.StatusFailed, route.Steps[0].Status())
	assert.Nil(t, route.Steps[1].Execution, "later steps never start")
	assert.Empty(t, h.bridge.transfers)
	assert.Equal(t, types.RouteFailed, route.Status())
	assert.Equal(t, []string{"r1"}, h.bridge.releasedRoutes())
}

func TestForeignErrorsBecomeUnknown(t *testing.T) {
	h := newHarness(t, chainswitch.ModeImmediate)
	h.bridge.exec = func(context.Context, bridge.Transfer) error {
		return errors.New("boom")
	}
	route := newRoute("r1", crossStep("c1", bridge.Tool))

	err := h.runner.Start(context.Background(), route, nil)
	assert.True(t, types.IsKind(err, types.KindUnknown))
	assert.Equal(t, types.StatusFailed, route.Steps[0].Status())
}

func TestChainSwitchBeforeStep(t *testing.T) {
	h := newHarness(t, chainswitch.ModeImmediate)
	route := newRoute("r1", swapStep("s1", usdcPol, usdcPol))
	route.Steps[0].Action.FromToken = types.Token{ChainID: 137, Symbol: "MATIC", Decimals: 18}

	require.NoError(t, h.runner.Start(context.Background(), route, nil))

	assert.Equal(t, []int64{137}, h.hooks)
	sent := h.signer.Transactions()
	require.Len(t, sent, 1)
	assert.Equal(t, int64(137), sent[0].ChainID)
}

func TestConfirmModeMarksChainSwitchRequired(t *testing.T) {
	h := newHarness(t, chainswitch.ModeConfirm)
	step := swapStep("s1", usdcPol, usdcPol)
	step.Action.FromToken = types.Token{ChainID: 137, Symbol: "MATIC", Decimals: 18}
	rec := &recorder{}

	require.NoError(t, h.runner.Start(context.Background(), newRoute("r1", step), rec.update))

	statuses := rec.stepStatuses("s1")
	assert.Contains(t, statuses, types.StatusChainSwitchRequired)
	assert.Equal(t, types.StatusDone, statuses[len(statuses)-1])
}

func TestChainSwitchFailureFailsStep(t *testing.T) {
	h := newHarness(t, chainswitch.ModeImmediate)
	h.runner.chains = chainswitch.New(chainswitch.ModeImmediate, func(context.Context, int64) (wallet.Signer, error) {
		return nil, wallet.ErrUserRejected
	})
	step := swapStep("s1", usdcPol, usdcPol)

	err := h.runner.Start(context.Background(), newRoute("r1", step), nil)
	assert.True(t, types.IsKind(err, types.KindChainSwitch))
	assert.Equal(t, types.StatusFailed, step.Status())
	assert.Empty(t, h.signer.Transactions())

	p := step.Execution.LastProcess()
	require.NotNil(t, p)
	assert.Equal(t, types.ProcessSwitchChain, p.Type)
	assert.Equal(t, types.ProcessFailed, p.Status)
	assert.Equal(t, "4001", p.ErrorCode)
	assert.Contains(t, p.ErrorMessage, "failed to switch to chain")
	assert.Equal(t, types.MsgFailed, p.Message.Key)
}

func TestRestartFromFailedReplaysOnlyTheFailedProcess(t *testing.T) {
	h := newHarness(t, chainswitch.ModeImmediate)
	route := newRoute("r1", swapStep("s1", eth, dai), swapStep("s2", eth, dai))
	h.signer.FailSend(1, wallet.ErrUserRejected)

	err := h.runner.Start(context.Background(), route, nil)
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindSubmission))
	assert.Equal(t, types.StatusDone, route.Steps[0].Status())
	assert.Equal(t, types.StatusFailed, route.Steps[1].Status())
	failed := route.Steps[1].Execution.LastProcess()
	assert.Equal(t, types.ProcessFailed, failed.Status)
	assert.Equal(t, "4001", failed.ErrorCode)

	assert.ErrorIs(t, h.runner.Resume(context.Background(), route, nil), ErrRouteFailed)

	rec := &recorder{}
	require.NoError(t, h.runner.RestartFromFailed(context.Background(), route, rec.update))

	assert.Equal(t, types.RouteDone, route.Status())
	assert.Len(t, route.Steps[0].Execution.Process, 1, "done step is not replayed")
	require.Len(t, route.Steps[1].Execution.Process, 1, "failed process was popped")
	assert.Equal(t, types.ProcessDone, route.Steps[1].Execution.Process[0].Status)
	assert.Len(t, h.signer.Transactions(), 2)

	statuses := rec.stepStatuses("s2")
	require.NotEmpty(t, statuses)
	assert.Equal(t, types.StatusResume, statuses[0])
	assert.Equal(t, types.StatusDone, statuses[len(statuses)-1])
}

func TestResumeMatchesUninterruptedRun(t *testing.T) {
	build := func() *types.Route {
		return newRoute("r1", swapStep("s1", usdc, dai), crossStep("c1", bridge.Tool))
	}

	straight := newHarness(t, chainswitch.ModeImmediate)
	want := build()
	require.NoError(t, straight.runner.Start(context.Background(), want, nil))

	h := newHarness(t, chainswitch.ModeImmediate)
	got := build()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// interrupt once the swap is broadcast
	err := h.runner.Start(ctx, got, func(snap *types.Route) {
		if p := snap.Steps[0].Execution.FindProcess(types.ProcessSwap); p != nil && p.TxHash != "" {
			cancel()
		}
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, types.RouteInProgress, got.Status())

	stored, err := h.store.Load(context.Background(), "r1")
	require.NoError(t, err)
	require.NoError(t, h.runner.Resume(context.Background(), stored, nil))

	assert.Equal(t, want.Status(), stored.Status())
	assert.Equal(t, want.ToAmount, stored.ToAmount)
	for i := range want.Steps {
		assert.Equal(t, processTypes(want.Steps[i].Execution), processTypes(stored.Steps[i].Execution))
		assert.Equal(t, want.Steps[i].Execution.ToAmount, stored.Steps[i].Execution.ToAmount)
	}
	assert.Equal(t, len(straight.signer.Transactions()), len(h.signer.Transactions()), "nothing sent twice")
}

func TestGoRefusesConcurrentRunsAndDetaches(t *testing.T) {
	h := newHarness(t, chainswitch.ModeImmediate)
	entered := make(chan struct{})
	release := make(chan struct{})
	h.bridge.exec = func(ctx context.Context, t bridge.Transfer) error {
		close(entered)
		select {
		case <-release:
		case <-ctx.Done():
			return ctx.Err()
		}
		t.Ledger.Complete("990")
		return nil
	}
	route := newRoute("r1", crossStep("c1", bridge.Tool))
	rec := &recorder{}

	handle, err := h.runner.Go(context.Background(), route, OpStart, rec.update)
	require.NoError(t, err)
	<-entered

	running, ok := h.runner.Running("r1")
	require.True(t, ok)
	assert.Same(t, handle, running)

	_, err = h.runner.Go(context.Background(), route.Clone(), OpResume, nil)
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	handle.Detach()
	seen := rec.count()
	close(release)
	require.NoError(t, handle.Wait())

	assert.Equal(t, seen, rec.count(), "no updates after detach")
	assert.Equal(t, types.RouteDone, handle.Snapshot().Status())
	stored, err := h.store.Load(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, types.RouteDone, stored.Status(), "detached execution keeps persisting")

	_, ok = h.runner.Running("r1")
	assert.False(t, ok)
}

func TestHandleCancelLeavesRouteResumable(t *testing.T) {
	h := newHarness(t, chainswitch.ModeImmediate)
	entered := make(chan struct{})
	h.bridge.exec = func(ctx context.Context, t bridge.Transfer) error {
		t.Ledger.CreateAndAppend(types.ProcessCrossChain, types.ProcessPending, types.NewMessage(types.MsgWaitReceiver))
		close(entered)
		<-ctx.Done()
		return ctx.Err()
	}
	route := newRoute("r1", crossStep("c1", bridge.Tool))

	handle, err := h.runner.Go(context.Background(), route, OpStart, nil)
	require.NoError(t, err)
	<-entered
	select {
	case <-handle.Done():
		t.Fatal("handle finished before cancel")
	default:
	}
	handle.Cancel()
	<-handle.Done()

	assert.ErrorIs(t, handle.Wait(), context.Canceled)
	assert.Equal(t, types.StatusPending, route.Steps[0].Status())
	assert.Equal(t, []string{"r1"}, h.bridge.releasedRoutes())
}

func TestResumePending(t *testing.T) {
	h := newHarness(t, chainswitch.ModeImmediate)
	ctx := context.Background()

	pending := newRoute("pending", swapStep("s1", eth, dai))
	pending.Steps[0].Execution = &types.Execution{Status: types.StatusPending}
	done := newRoute("done", swapStep("s1", eth, dai))
	done.Steps[0].Execution = &types.Execution{Status: types.StatusDone}
	failed := newRoute("failed", swapStep("s1", eth, dai))
	failed.Steps[0].Execution = &types.Execution{Status: types.StatusFailed}
	fresh := newRoute("fresh", swapStep("s1", eth, dai))
	for _, r := range []*types.Route{pending, done, failed, fresh} {
		require.NoError(t, h.store.Save(ctx, r))
	}

	handles, err := h.runner.ResumePending(ctx)
	require.NoError(t, err)
	require.Len(t, handles, 1)
	assert.Equal(t, "pending", handles[0].RouteID())
	require.NoError(t, handles[0].Wait())

	stored, err := h.store.Load(ctx, "pending")
	require.NoError(t, err)
	assert.Equal(t, types.RouteDone, stored.Status())
	require.Len(t, h.signer.Transactions(), 1)
	assert.Zero(t, h.signer.Transactions()[0].Request.Value.Cmp(big.NewInt(0)))
}

func TestSnapshotsAreIndependentCopies(t *testing.T) {
	h := newHarness(t, chainswitch.ModeImmediate)
	route := newRoute("r1", swapStep("s1", eth, dai))
	var first *types.Route
	var once sync.Once

	require.NoError(t, h.runner.Start(context.Background(), route, func(snap *types.Route) {
		once.Do(func() { first = snap })
	}))

	require.NotNil(t, first)
	assert.Nil(t, first.Steps[0].Execution, "first snapshot predates the step")
	assert.False(t, route.UpdatedAt.Before(first.UpdatedAt))
	assert.WithinDuration(t, time.Now(), route.CreatedAt, time.Minute)
}
