// Package ledger records the processes of a step's execution. Every mutation
// goes through the ledger so observers are notified after each change.
package ledger

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"xroute/pkg/types"
)

// NotifyFunc is invoked after every mutation, outside the ledger lock
type NotifyFunc func()

// Option configures a Ledger
type Option func(*Ledger)

// WithLock shares a lock with readers that snapshot the owning route
func WithLock(mu sync.Locker) Option {
	return func(l *Ledger) {
		l.mu = mu
	}
}

// WithClock overrides the timestamp source
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		l.now = now
	}
}

// Ledger is the append-only process log of one execution
type Ledger struct {
	mu     sync.Locker
	exec   *types.Execution
	notify NotifyFunc
	now    func() time.Time
}

// New binds a ledger to an execution
func New(exec *types.Execution, notify NotifyFunc, opts ...Option) *Ledger {
	l := &Ledger{
		mu:     &sync.Mutex{},
		exec:   exec,
		notify: notify,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Execution returns the underlying execution
func (l *Ledger) Execution() *types.Execution {
	return l.exec
}

// CreateAndAppend appends a new process and notifies observers
func (l *Ledger) CreateAndAppend(typ types.ProcessType, status types.ProcessStatus, msg types.Message) *types.Process {
	l.mu.Lock()
	p := l.appendLocked(typ, status, msg)
	l.mu.Unlock()
	l.fire()
	return p
}

func (l *Ledger) appendLocked(typ types.ProcessType, status types.ProcessStatus, msg types.Message) *types.Process {
	now := l.now()
	p := &types.Process{
		ID:        uuid.New().String(),
		Type:      typ,
		Status:    status,
		Message:   msg,
		StartedAt: now,
	}
	l.exec.Process = append(l.exec.Process, p)
	l.syncStatusLocked(status)
	l.exec.UpdatedAt = now
	return p
}

// Find returns the latest process of a type, or nil
func (l *Ledger) Find(typ types.ProcessType) *types.Process {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.exec.FindProcess(typ)
}

// FindOrCreate returns the latest non-failed process of a type, appending a
// new one if there is none. Existing in-flight processes are moved to status.
func (l *Ledger) FindOrCreate(typ types.ProcessType, status types.ProcessStatus, msg types.Message) *types.Process {
	l.mu.Lock()
	p := l.exec.FindProcess(typ)
	switch {
	case p == nil || p.Status == types.ProcessFailed || p.Status == types.ProcessCancelled:
		p = l.appendLocked(typ, status, msg)
	case p.Status == types.ProcessDone:
		l.mu.Unlock()
		return p
	default:
		p.Status = status
		p.Message = msg
		l.syncStatusLocked(status)
		l.exec.UpdatedAt = l.now()
	}
	l.mu.Unlock()
	l.fire()
	return p
}

// SetStatus moves a non-terminal process to a new status and message
func (l *Ledger) SetStatus(p *types.Process, status types.ProcessStatus, msg types.Message) {
	l.Mutate(p, func(p *types.Process) {
		p.Status = status
		p.Message = msg
	})
}

// Mutate applies fn to a non-terminal process. Terminal processes are left
// untouched so late event handlers cannot reopen them.
func (l *Ledger) Mutate(p *types.Process, fn func(p *types.Process)) {
	l.mu.Lock()
	if p.Status.IsTerminal() {
		l.mu.Unlock()
		return
	}
	fn(p)
	l.syncStatusLocked(p.Status)
	l.exec.UpdatedAt = l.now()
	l.mu.Unlock()
	l.fire()
}

// MarkDone completes a process. No-op if it is already terminal.
func (l *Ledger) MarkDone(p *types.Process, msg types.Message) {
	l.mu.Lock()
	if p.Status.IsTerminal() {
		l.mu.Unlock()
		return
	}
	now := l.now()
	p.Status = types.ProcessDone
	p.Message = msg
	p.DoneAt = &now
	if l.exec.Status == types.StatusActionRequired {
		l.exec.Status = types.StatusPending
	}
	l.exec.UpdatedAt = now
	l.mu.Unlock()
	l.fire()
}

// MarkFailed fails a process. No-op if it is already terminal.
func (l *Ledger) MarkFailed(p *types.Process, code, message string) {
	l.mu.Lock()
	if p.Status.IsTerminal() {
		l.mu.Unlock()
		return
	}
	now := l.now()
	p.Status = types.ProcessFailed
	p.ErrorCode = code
	p.ErrorMessage = message
	p.Message = types.NewMessage(types.MsgFailed, "reason", message)
	p.FailedAt = &now
	l.exec.UpdatedAt = now
	l.mu.Unlock()
	l.fire()
}

// Fail records err on the process, if any, and fails the execution
func (l *Ledger) Fail(p *types.Process, err error) error {
	if p != nil {
		msg := err.Error()
		var execErr *types.ExecutionError
		if errors.As(err, &execErr) && execErr.Hint != "" {
			msg = msg + ". " + execErr.Hint
		}
		l.MarkFailed(p, types.ErrorCode(err), msg)
	}
	l.SetExecutionStatus(types.StatusFailed)
	return err
}

// SetExecutionStatus changes the execution status unless it is terminal
func (l *Ledger) SetExecutionStatus(status types.ExecutionStatus) {
	l.mu.Lock()
	if l.exec.Status == status || l.exec.Status.IsTerminal() {
		l.mu.Unlock()
		return
	}
	l.exec.Status = status
	l.exec.UpdatedAt = l.now()
	l.mu.Unlock()
	l.fire()
}

// Complete marks the execution DONE and records the received amount
func (l *Ledger) Complete(toAmount string) {
	l.mu.Lock()
	if l.exec.Status.IsTerminal() {
		l.mu.Unlock()
		return
	}
	l.exec.Status = types.StatusDone
	if toAmount != "" {
		l.exec.ToAmount = toAmount
	}
	l.exec.UpdatedAt = l.now()
	l.mu.Unlock()
	l.fire()
}

// Update runs fn under the ledger lock and notifies observers. It covers step
// data stored next to the execution, such as a quote on the estimate.
func (l *Ledger) Update(fn func()) {
	l.mu.Lock()
	fn()
	l.exec.UpdatedAt = l.now()
	l.mu.Unlock()
	l.fire()
}

// PopFailed removes the last process if it is FAILED or CANCELLED and marks
// the execution RESUME. It reports whether a process was removed.
func (l *Ledger) PopFailed() bool {
	l.mu.Lock()
	last := l.exec.LastProcess()
	popped := false
	if last != nil && (last.Status == types.ProcessFailed || last.Status == types.ProcessCancelled) {
		l.exec.Process = l.exec.Process[:len(l.exec.Process)-1]
		popped = true
	}
	l.exec.Status = types.StatusResume
	l.exec.UpdatedAt = l.now()
	l.mu.Unlock()
	l.fire()
	return popped
}

// syncStatusLocked mirrors an in-flight process status onto the execution
func (l *Ledger) syncStatusLocked(status types.ProcessStatus) {
	if l.exec.Status.IsTerminal() {
		return
	}
	switch status {
	case types.ProcessActionRequired:
		l.exec.Status = types.StatusActionRequired
	case types.ProcessPending:
		l.exec.Status = types.StatusPending
	}
}

func (l *Ledger) fire() {
	if l.notify != nil {
		l.notify()
	}
}
