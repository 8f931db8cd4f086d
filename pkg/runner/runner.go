// Package runner drives routes step by step, persisting every change so an
// interrupted route can be resumed from its last incomplete process.
package runner

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"xroute/pkg/allowance"
	"xroute/pkg/bridge"
	"xroute/pkg/intents"
	"xroute/pkg/ledger"
	"xroute/pkg/metrics"
	"xroute/pkg/store"
	"xroute/pkg/swap"
	"xroute/pkg/types"
	"xroute/pkg/wallet"
)

var (
	// ErrAlreadyStarted is returned by Start for a route with executions
	ErrAlreadyStarted = errors.New("route has already started")
	// ErrRouteFailed is returned by Resume for a failed route
	ErrRouteFailed = errors.New("route has failed, restart it from the failed step")
	// ErrAlreadyRunning is returned when the route is executing in this process
	ErrAlreadyRunning = errors.New("route is already running")
)

// Operation selects how Go enters a route
type Operation string

const (
	OpStart   Operation = "start"
	OpResume  Operation = "resume"
	OpRestart Operation = "restart"
)

// ChainSwitcher makes sure the wallet signs on the right chain
type ChainSwitcher interface {
	EnsureChain(ctx context.Context, signer wallet.Signer, chainID int64, onSuspend func()) (wallet.Signer, error)
}

// Bridge executes nxtp cross steps
type Bridge interface {
	Execute(ctx context.Context, t bridge.Transfer) error
	Release(routeID string)
}

// Intents executes near-intents cross steps
type Intents interface {
	Execute(ctx context.Context, t intents.Transfer) error
}

// Option configures a Runner
type Option func(*Runner)

func WithStore(s store.Store) Option {
	return func(r *Runner) { r.store = s }
}

func WithBridge(b Bridge) Option {
	return func(r *Runner) { r.bridge = b }
}

func WithIntents(i Intents) Option {
	return func(r *Runner) { r.intents = i }
}

func WithVenues(v *swap.Registry) Option {
	return func(r *Runner) { r.venues = v }
}

func WithLinks(l wallet.LinkResolver) Option {
	return func(r *Runner) { r.links = l }
}

func WithMetrics(m *metrics.Collector) Option {
	return func(r *Runner) { r.metrics = m }
}

func WithLogger(log *logrus.Entry) Option {
	return func(r *Runner) { r.log = log }
}

// WithInfiniteApproval approves max uint256 instead of the step amount
func WithInfiniteApproval(on bool) Option {
	return func(r *Runner) { r.infinite = on }
}

// Runner executes routes
type Runner struct {
	chains     ChainSwitcher
	allowances *allowance.Manager
	store      store.Store
	bridge     Bridge
	intents    Intents
	venues     *swap.Registry
	links      wallet.LinkResolver
	metrics    *metrics.Collector
	log        *logrus.Entry
	infinite   bool

	// signer is the shared wallet connection, replaced after each switch
	signerMu sync.Mutex
	signer   wallet.Signer

	mu      sync.Mutex
	running map[string]*Handle
}

// New creates a runner signing with signer
func New(signer wallet.Signer, chains ChainSwitcher, allowances *allowance.Manager, opts ...Option) *Runner {
	r := &Runner{
		signer:     signer,
		chains:     chains,
		allowances: allowances,
		log:        logrus.NewEntry(logrus.StandardLogger()),
		running:    make(map[string]*Handle),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.allowances == nil {
		r.allowances = allowance.NewManager(r.links, r.log)
	}
	return r
}

// Start executes a route that has not begun and blocks until it stops
func (r *Runner) Start(ctx context.Context, route *types.Route, onUpdate UpdateFunc) error {
	return r.runSync(ctx, route, OpStart, onUpdate)
}

// Resume continues a route from its last incomplete process
func (r *Runner) Resume(ctx context.Context, route *types.Route, onUpdate UpdateFunc) error {
	return r.runSync(ctx, route, OpResume, onUpdate)
}

// RestartFromFailed discards the failed attempt of every failed step and
// resumes the route
func (r *Runner) RestartFromFailed(ctx context.Context, route *types.Route, onUpdate UpdateFunc) error {
	return r.runSync(ctx, route, OpRestart, onUpdate)
}

func (r *Runner) runSync(ctx context.Context, route *types.Route, op Operation, onUpdate UpdateFunc) error {
	h, err := r.Go(ctx, route, op, onUpdate)
	if err != nil {
		return err
	}
	return h.Wait()
}

// Go enters route with op in the background. The runner owns route until the
// handle is done; callers read progress from snapshots only.
func (r *Runner) Go(ctx context.Context, route *types.Route, op Operation, onUpdate UpdateFunc) (*Handle, error) {
	if err := route.Validate(); err != nil {
		return nil, err
	}
	switch op {
	case OpStart:
		if route.Started() {
			return nil, fmt.Errorf("route %s: %w", route.ID, ErrAlreadyStarted)
		}
	case OpResume:
		if route.Status() == types.RouteFailed {
			return nil, fmt.Errorf("route %s: %w", route.ID, ErrRouteFailed)
		}
	case OpRestart:
	default:
		return nil, fmt.Errorf("unknown operation %q", op)
	}

	r.mu.Lock()
	if _, ok := r.running[route.ID]; ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("route %s: %w", route.ID, ErrAlreadyRunning)
	}
	ctx, cancel := context.WithCancel(ctx)
	h := newHandle(route.ID, cancel, onUpdate)
	r.running[route.ID] = h
	r.mu.Unlock()

	rc := r.newRun(route, h)
	if op == OpRestart {
		rc.popFailed()
	}

	go func() {
		err := rc.run(ctx)
		cancel()
		r.mu.Lock()
		delete(r.running, route.ID)
		r.mu.Unlock()
		h.finish(err)
	}()
	return h, nil
}

// Running returns the handle of a route executing in this process
func (r *Runner) Running(routeID string) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.running[routeID]
	return h, ok
}

// ResumePending resumes every stored route that started and has neither
// finished nor failed
func (r *Runner) ResumePending(ctx context.Context) ([]*Handle, error) {
	if r.store == nil {
		return nil, nil
	}
	routes, err := store.Pending(ctx, r.store)
	if err != nil {
		return nil, fmt.Errorf("failed to load pending routes: %w", err)
	}

	handles := make([]*Handle, 0, len(routes))
	for _, route := range routes {
		h, err := r.Go(ctx, route, OpResume, nil)
		if err != nil {
			if errors.Is(err, ErrAlreadyRunning) {
				continue
			}
			r.log.WithError(err).WithField("route", route.ID).Warn("route cannot be resumed")
			continue
		}
		r.log.WithField("route", route.ID).Info("resuming route")
		handles = append(handles, h)
	}
	return handles, nil
}

func (r *Runner) currentSigner() wallet.Signer {
	r.signerMu.Lock()
	defer r.signerMu.Unlock()
	return r.signer
}

func (r *Runner) setSigner(s wallet.Signer) {
	r.signerMu.Lock()
	r.signer = s
	r.signerMu.Unlock()
}

// routeRun is one execution of a route
type routeRun struct {
	r      *Runner
	route  *types.Route
	handle *Handle
	log    *logrus.Entry

	// mu guards the route's executions; every ledger of the route shares it
	mu sync.Mutex
	// saveMu orders snapshots so they are persisted in mutation order
	saveMu sync.Mutex
}

func (r *Runner) newRun(route *types.Route, h *Handle) *routeRun {
	return &routeRun{
		r:      r,
		route:  route,
		handle: h,
		log:    r.log.WithField("route", route.ID),
	}
}

func (rc *routeRun) ledger(step *types.Step) *ledger.Ledger {
	return ledger.New(step.Execution, rc.notify, ledger.WithLock(&rc.mu))
}

// notify persists a snapshot, then hands it to the update callback
func (rc *routeRun) notify() {
	rc.saveMu.Lock()
	defer rc.saveMu.Unlock()

	rc.mu.Lock()
	rc.route.UpdatedAt = time.Now()
	snap := rc.route.Clone()
	rc.mu.Unlock()

	if s := rc.r.store; s != nil {
		// the context of the run may be gone; the last state must still land
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := s.Save(ctx, snap); err != nil {
			rc.log.WithError(err).Warn("failed to persist route")
		}
		cancel()
	}
	rc.handle.deliver(snap)
}

func (rc *routeRun) popFailed() {
	for _, step := range rc.route.Steps {
		if step.Execution == nil {
			continue
		}
		last := step.Execution.LastProcess()
		failed := step.Execution.Status == types.StatusFailed ||
			(last != nil && (last.Status == types.ProcessFailed || last.Status == types.ProcessCancelled))
		if !failed {
			continue
		}
		if rc.ledger(step).PopFailed() {
			rc.log.WithField("step", step.ID).Info("discarded failed process")
		}
	}
}

func (rc *routeRun) run(ctx context.Context) error {
	r := rc.r
	r.metrics.RouteStarted()
	defer r.metrics.RouteStopped()
	if r.bridge != nil {
		defer r.bridge.Release(rc.route.ID)
	}

	rc.mu.Lock()
	if rc.route.CreatedAt.IsZero() {
		rc.route.CreatedAt = time.Now()
	}
	rc.mu.Unlock()
	rc.notify()

	for _, step := range rc.route.Steps {
		if step.Status() == types.StatusDone {
			continue
		}
		err := rc.executeStep(ctx, step)
		status := rc.status(step)
		r.metrics.ObserveStep(string(step.Type), string(status))
		if err != nil {
			if ctx.Err() != nil {
				rc.log.WithField("step", step.ID).Info("execution interrupted, route can be resumed")
				return ctx.Err()
			}
			r.metrics.ObserveRoute("failed")
			return err
		}
		if status != types.StatusDone {
			err := types.NewError(types.KindUnknown, nil, "step %s stopped in status %s", step.ID, status)
			rc.logUnknown(step, err)
			r.metrics.ObserveRoute("failed")
			return rc.ledger(step).Fail(nil, err)
		}
	}

	rc.mu.Lock()
	if last := rc.route.Steps[len(rc.route.Steps)-1]; last.Execution != nil {
		rc.route.ToAmount = last.Execution.ToAmount
	}
	rc.mu.Unlock()
	rc.notify()

	r.metrics.ObserveRoute("done")
	rc.log.WithField("received", rc.route.ToAmount).Info("route completed")
	return nil
}

func (rc *routeRun) status(step *types.Step) types.ExecutionStatus {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return step.Status()
}

func (rc *routeRun) executeStep(ctx context.Context, step *types.Step) error {
	rc.mu.Lock()
	if step.Execution == nil {
		step.Execution = &types.Execution{Status: types.StatusPending, UpdatedAt: time.Now()}
	}
	rc.mu.Unlock()

	l := rc.ledger(step)
	l.SetExecutionStatus(types.StatusPending)
	log := rc.log.WithFields(logrus.Fields{
		"step": step.ID,
		"type": step.Type,
		"tool": step.Tool,
	})
	log.Info("executing step")

	signer, err := rc.ensureChain(ctx, l, step.Action.FromChainID)
	if err != nil {
		return err
	}

	switch step.Type {
	case types.StepSwap:
		err = rc.swap(ctx, step, l, signer)
	case types.StepCross:
		err = rc.cross(ctx, step, l, signer)
	case types.StepBridgeContract:
		err = rc.bridgeContract(ctx, step, l, signer)
	default:
		err = rc.unknown(step, l, "unsupported step type %q", step.Type)
	}

	var execErr *types.ExecutionError
	if err != nil && ctx.Err() == nil && !errors.As(err, &execErr) {
		rc.logUnknown(step, err)
		err = l.Fail(nil, types.NewError(types.KindUnknown, err, "step %s failed", step.ID))
	}
	return err
}

// ensureChain returns a signer on chainID and marks the step
// CHAIN_SWITCH_REQUIRED while a confirmation is outstanding
func (rc *routeRun) ensureChain(ctx context.Context, l *ledger.Ledger, chainID int64) (wallet.Signer, error) {
	r := rc.r
	current := r.currentSigner()
	if r.chains == nil {
		return current, nil
	}

	suspended := false
	next, err := r.chains.EnsureChain(ctx, current, chainID, func() {
		suspended = true
		l.SetExecutionStatus(types.StatusChainSwitchRequired)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !types.IsKind(err, types.KindChainSwitch) {
			err = types.NewError(types.KindChainSwitch, err, "failed to switch to chain %d", chainID)
		}
		p := l.FindOrCreate(types.ProcessSwitchChain, types.ProcessPending,
			types.NewMessage(types.MsgSwitchChain, "chain", strconv.FormatInt(chainID, 10)))
		return nil, l.Fail(p, err)
	}
	if suspended {
		l.SetExecutionStatus(types.StatusPending)
	}
	if next != current {
		r.setSigner(next)
	}
	return next, nil
}

func (rc *routeRun) chainSwitcher(l *ledger.Ledger) bridge.ChainSwitcher {
	return func(ctx context.Context, chainID int64) (wallet.Signer, error) {
		return rc.ensureChain(ctx, l, chainID)
	}
}

func (rc *routeRun) cross(ctx context.Context, step *types.Step, l *ledger.Ledger, signer wallet.Signer) error {
	r := rc.r
	switch {
	case step.Tool == bridge.Tool && r.bridge != nil:
		return r.bridge.Execute(ctx, bridge.Transfer{
			RouteID:          rc.route.ID,
			Step:             step,
			Cross:            step,
			Ledger:           l,
			Signer:           signer,
			EnsureChain:      rc.chainSwitcher(l),
			InfiniteApproval: r.infinite,
		})
	case step.Tool == intents.Tool && r.intents != nil:
		return r.intents.Execute(ctx, intents.Transfer{
			RouteID: rc.route.ID,
			Step:    step,
			Ledger:  l,
			Signer:  signer,
		})
	}
	return rc.unknown(step, l, "no executor for cross tool %q", step.Tool)
}

func (rc *routeRun) bridgeContract(ctx context.Context, step *types.Step, l *ledger.Ledger, signer wallet.Signer) error {
	t := bridge.Transfer{
		RouteID:          rc.route.ID,
		Step:             step,
		Ledger:           l,
		Signer:           signer,
		EnsureChain:      rc.chainSwitcher(l),
		InfiniteApproval: rc.r.infinite,
	}
	for _, inner := range step.IncludedSteps {
		switch {
		case inner.Type == types.StepCross:
			t.Cross = inner
		case inner.Type == types.StepSwap && t.Cross == nil:
			t.StartSwap = inner
		case inner.Type == types.StepSwap:
			t.EndSwap = inner
		}
	}
	if t.Cross == nil || t.Cross.Tool != bridge.Tool || rc.r.bridge == nil {
		tool := ""
		if t.Cross != nil {
			tool = t.Cross.Tool
		}
		return rc.unknown(step, l, "no executor for bridge contract cross tool %q", tool)
	}
	return rc.r.bridge.Execute(ctx, t)
}

func (rc *routeRun) unknown(step *types.Step, l *ledger.Ledger, format string, args ...interface{}) error {
	err := types.NewError(types.KindUnknown, nil, format, args...)
	rc.logUnknown(step, err)
	return l.Fail(nil, err)
}

func (rc *routeRun) logUnknown(step *types.Step, err error) {
	rc.log.WithError(err).WithFields(logrus.Fields{
		"step": step.ID,
		"type": step.Type,
		"tool": step.Tool,
	}).Error("unexpected execution error")
}
