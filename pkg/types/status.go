package types

// ExecutionStatus is the runtime status of a step's execution
type ExecutionStatus string

const (
	StatusNotStarted          ExecutionStatus = "NOT_STARTED"
	StatusPending             ExecutionStatus = "PENDING"
	StatusActionRequired      ExecutionStatus = "ACTION_REQUIRED"
	StatusChainSwitchRequired ExecutionStatus = "CHAIN_SWITCH_REQUIRED"
	StatusResume              ExecutionStatus = "RESUME"
	StatusDone                ExecutionStatus = "DONE"
	StatusFailed              ExecutionStatus = "FAILED"
)

// IsTerminal reports whether no further transitions are expected
func (s ExecutionStatus) IsTerminal() bool {
	return s == StatusDone || s == StatusFailed
}

// ProcessStatus is the status of one atomic action inside an execution
type ProcessStatus string

const (
	ProcessNotStarted     ProcessStatus = "NOT_STARTED"
	ProcessPending        ProcessStatus = "PENDING"
	ProcessActionRequired ProcessStatus = "ACTION_REQUIRED"
	ProcessDone           ProcessStatus = "DONE"
	ProcessFailed         ProcessStatus = "FAILED"
	ProcessCancelled      ProcessStatus = "CANCELLED"
)

// IsTerminal reports whether the process reached DONE, FAILED or CANCELLED
func (s ProcessStatus) IsTerminal() bool {
	return s == ProcessDone || s == ProcessFailed || s == ProcessCancelled
}

// IsActive reports whether the process is currently in flight
func (s ProcessStatus) IsActive() bool {
	return s == ProcessPending || s == ProcessActionRequired
}

// ProcessType tags what a process does
type ProcessType string

const (
	ProcessTokenAllowance ProcessType = "TOKEN_ALLOWANCE"
	ProcessSwap           ProcessType = "SWAP"
	ProcessCrossChain     ProcessType = "CROSS_CHAIN"
	ProcessReceivingChain ProcessType = "RECEIVING_CHAIN"
	ProcessClaim          ProcessType = "CLAIM"
	ProcessDeposit        ProcessType = "DEPOSIT"
	ProcessSwitchChain    ProcessType = "SWITCH_CHAIN"
)

// RouteStatus is derived from the statuses of a route's steps and never stored
type RouteStatus string

const (
	RouteInProgress RouteStatus = "IN_PROGRESS"
	RouteDone       RouteStatus = "DONE"
	RouteFailed     RouteStatus = "FAILED"
)
