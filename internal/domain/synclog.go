package domain

import "time"

// SyncOutcome is the terminal result of one provider sync run.
type SyncOutcome string

const (
	SyncOutcomeSuccess SyncOutcome = "success"
	SyncOutcomeFailure SyncOutcome = "failure"
)

// SyncLogEntry is one append-only audit record per provider sync run. It is
// never mutated after creation; exactly one entry is written per run whether
// the run succeeded or failed.
type SyncLogEntry struct {
	ID        string // UUID assigned at the start of the run
	Provider  Provider
	Outcome   SyncOutcome
	Added     int
	Updated   int
	Unchanged int
	Duration  time.Duration
	Error     string // empty on success
	StartedAt time.Time
}

// Touched returns the total number of records examined during the run.
func (e SyncLogEntry) Touched() int {
	return e.Added + e.Updated + e.Unchanged
}
