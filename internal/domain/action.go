package domain

import "time"

// ActionStatus is the lifecycle state of a scheduled resolution action.
type ActionStatus string

const (
	ActionStatusPending   ActionStatus = "pending"
	ActionStatusReady     ActionStatus = "ready"
	ActionStatusExecuting ActionStatus = "executing"
	ActionStatusDone      ActionStatus = "done"
	ActionStatusFailed    ActionStatus = "failed"
)

// Terminal reports whether the status is a final state. At most one
// non-terminal action may exist per external market at any time; the action
// store enforces this with a partial unique index.
func (s ActionStatus) Terminal() bool {
	return s == ActionStatusDone || s == ActionStatusFailed
}

// MirrorMarket links an external provider market to the on-chain market
// instance that echoes it and must be resolved once the external market
// resolves.
type MirrorMarket struct {
	Provider         Provider
	ExternalMarketID string
	MirrorKey        string
	OracleSource     string
	Resolved         bool
	CreatedAt        time.Time
}

// ResolutionAction is one deferred on-chain resolution for an externally
// resolved market. Execution is delegated to the external executor
// collaborator; this pipeline only decides what must happen and when.
type ResolutionAction struct {
	ID               string // UUID assigned at creation
	Provider         Provider
	ExternalMarketID string
	MirrorKey        string
	OracleSource     string
	Outcome          Outcome
	ExecutorActionID string // assigned by the executor collaborator
	ScheduledFor     time.Time
	Status           ActionStatus
	Error            string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
