package types

import (
	"fmt"
	"time"
)

// StepType is the variant tag of a step
type StepType string

const (
	StepSwap           StepType = "swap"
	StepCross          StepType = "cross"
	StepBridgeContract StepType = "lifi"
)

// Action describes what a step intends to do
type Action struct {
	FromChainID int64   `json:"fromChainId"`
	ToChainID   int64   `json:"toChainId"`
	FromToken   Token   `json:"fromToken"`
	ToToken     Token   `json:"toToken"`
	FromAmount  string  `json:"fromAmount"`
	FromAddress string  `json:"fromAddress,omitempty"`
	ToAddress   string  `json:"toAddress,omitempty"`
	Slippage    float64 `json:"slippage,omitempty"`
}

// FeeCost is one line of a step's fee breakdown
type FeeCost struct {
	Name       string `json:"name"`
	Percentage string `json:"percentage,omitempty"`
	Token      Token  `json:"token"`
	Amount     string `json:"amount"`
	Included   bool   `json:"included"`
}

// TransactionRequest is router-supplied call data for a swap venue
type TransactionRequest struct {
	To       string `json:"to"`
	Data     string `json:"data"`
	Value    string `json:"value,omitempty"`
	GasLimit uint64 `json:"gasLimit,omitempty"`
}

// Estimate is the router's quote for a step
type Estimate struct {
	FromAmount         string              `json:"fromAmount"`
	ToAmount           string              `json:"toAmount"`
	ToAmountMin        string              `json:"toAmountMin,omitempty"`
	ApprovalAddress    string              `json:"approvalAddress,omitempty"`
	ExecutionDuration  int64               `json:"executionDuration,omitempty"`
	FeeCosts           []FeeCost           `json:"feeCosts,omitempty"`
	TransactionRequest *TransactionRequest `json:"transactionRequest,omitempty"`
	Quote              *Quote              `json:"quote,omitempty"`
}

// Step is one action within a route
type Step struct {
	ID            string     `json:"id"`
	Type          StepType   `json:"type"`
	Tool          string     `json:"tool"`
	Action        Action     `json:"action"`
	Estimate      Estimate   `json:"estimate"`
	IncludedSteps []*Step    `json:"includedSteps,omitempty"`
	Execution     *Execution `json:"execution,omitempty"`
}

// Status returns the execution status, NOT_STARTED if the step has not begun
func (s *Step) Status() ExecutionStatus {
	if s.Execution == nil {
		return StatusNotStarted
	}
	return s.Execution.Status
}

// Validate checks that the step is executable
func (s *Step) Validate() error {
	switch s.Type {
	case StepSwap, StepCross, StepBridgeContract:
	default:
		return fmt.Errorf("step %s: unsupported type %q", s.ID, s.Type)
	}
	if s.Action.FromChainID <= 0 || s.Action.ToChainID <= 0 {
		return fmt.Errorf("step %s: chain ids are required", s.ID)
	}
	if err := s.Action.FromToken.validate(); err != nil {
		return fmt.Errorf("step %s: %w", s.ID, err)
	}
	if err := s.Action.ToToken.validate(); err != nil {
		return fmt.Errorf("step %s: %w", s.ID, err)
	}
	if _, err := ParseAmount(s.Action.FromAmount); err != nil {
		return fmt.Errorf("step %s: %w", s.ID, err)
	}
	if s.Type == StepBridgeContract {
		crosses := 0
		for _, inner := range s.IncludedSteps {
			if inner.Type == StepCross {
				crosses++
			}
		}
		if crosses != 1 {
			return fmt.Errorf("step %s: bridge contract step needs exactly one cross step, got %d", s.ID, crosses)
		}
	}
	return nil
}

// Route is an ordered sequence of steps
type Route struct {
	ID          string    `json:"id"`
	FromChainID int64     `json:"fromChainId"`
	ToChainID   int64     `json:"toChainId"`
	FromToken   Token     `json:"fromToken"`
	ToToken     Token     `json:"toToken"`
	FromAmount  string    `json:"fromAmount"`
	ToAmount    string    `json:"toAmount,omitempty"`
	FromAddress string    `json:"fromAddress,omitempty"`
	ToAddress   string    `json:"toAddress,omitempty"`
	Steps       []*Step   `json:"steps"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Status derives the aggregate route status from its steps
func (r *Route) Status() RouteStatus {
	done := 0
	for _, step := range r.Steps {
		switch step.Status() {
		case StatusFailed:
			return RouteFailed
		case StatusDone:
			done++
		}
	}
	if len(r.Steps) > 0 && done == len(r.Steps) {
		return RouteDone
	}
	return RouteInProgress
}

// Started reports whether any step has an execution attached
func (r *Route) Started() bool {
	for _, step := range r.Steps {
		if step.Execution != nil {
			return true
		}
	}
	return false
}

// Validate checks route executability: well-formed tokens, chains and amounts
func (r *Route) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("route id is required")
	}
	if len(r.Steps) == 0 {
		return fmt.Errorf("route %s has no steps", r.ID)
	}
	for _, step := range r.Steps {
		if err := step.Validate(); err != nil {
			return fmt.Errorf("route %s: %w", r.ID, err)
		}
	}
	return nil
}

// Clone returns a copy whose executions can be read while the original keeps
// being mutated.
func (r *Route) Clone() *Route {
	if r == nil {
		return nil
	}
	out := *r
	out.Steps = cloneSteps(r.Steps)
	return &out
}

func cloneSteps(steps []*Step) []*Step {
	if steps == nil {
		return nil
	}
	out := make([]*Step, len(steps))
	for i, step := range steps {
		cp := *step
		cp.IncludedSteps = cloneSteps(step.IncludedSteps)
		cp.Execution = step.Execution.Clone()
		if step.Estimate.Quote != nil {
			q := *step.Estimate.Quote
			cp.Estimate.Quote = &q
		}
		out[i] = &cp
	}
	return out
}

// Execution is the runtime record attached to a step once it begins
type Execution struct {
	Status    ExecutionStatus `json:"status"`
	Process   []*Process      `json:"process"`
	ToAmount  string          `json:"toAmount,omitempty"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Clone deep-copies the execution and its processes
func (e *Execution) Clone() *Execution {
	if e == nil {
		return nil
	}
	out := *e
	out.Process = make([]*Process, len(e.Process))
	for i, p := range e.Process {
		cp := *p
		if p.Message.Params != nil {
			cp.Message.Params = make(map[string]string, len(p.Message.Params))
			for k, v := range p.Message.Params {
				cp.Message.Params[k] = v
			}
		}
		out.Process[i] = &cp
	}
	return &out
}

// LastProcess returns the most recently appended process
func (e *Execution) LastProcess() *Process {
	if e == nil || len(e.Process) == 0 {
		return nil
	}
	return e.Process[len(e.Process)-1]
}

// FindProcess returns the latest process of the given type
func (e *Execution) FindProcess(typ ProcessType) *Process {
	if e == nil {
		return nil
	}
	for i := len(e.Process) - 1; i >= 0; i-- {
		if e.Process[i].Type == typ {
			return e.Process[i]
		}
	}
	return nil
}

// ActiveCount returns how many processes are in flight
func (e *Execution) ActiveCount() int {
	if e == nil {
		return 0
	}
	n := 0
	for _, p := range e.Process {
		if p.Status.IsActive() {
			n++
		}
	}
	return n
}

// Process is one atomic unit of work inside an execution
type Process struct {
	ID           string        `json:"id"`
	Type         ProcessType   `json:"type"`
	Status       ProcessStatus `json:"status"`
	Message      Message       `json:"message"`
	TxHash       string        `json:"txHash,omitempty"`
	TxLink       string        `json:"txLink,omitempty"`
	ErrorCode    string        `json:"errorCode,omitempty"`
	ErrorMessage string        `json:"errorMessage,omitempty"`
	StartedAt    time.Time     `json:"startedAt"`
	DoneAt       *time.Time    `json:"doneAt,omitempty"`
	FailedAt     *time.Time    `json:"failedAt,omitempty"`
}
