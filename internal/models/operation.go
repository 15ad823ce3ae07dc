package models

import "time"

// Verb names a snapshot operation.
type Verb string

const (
	VerbCreate      Verb = "create"
	VerbDelete      Verb = "delete"
	VerbListAll     Verb = "list_all"
	VerbListCurrent Verb = "list_current"
	VerbRevert      Verb = "revert"
	VerbDeleteAll   Verb = "delete_all"
)

// Verbs lists every verb in CLI order.
var Verbs = []Verb{VerbCreate, VerbDelete, VerbListAll, VerbListCurrent, VerbRevert, VerbDeleteAll}

// Mutating reports whether the verb issues a vCenter task.
func (v Verb) Mutating() bool {
	switch v {
	case VerbCreate, VerbDelete, VerbRevert, VerbDeleteAll:
		return true
	}
	return false
}

const (
	OperationSucceeded = "succeeded"
	OperationFailed    = "failed"
	OperationRejected  = "rejected"
)

// Operation is a journal entry for one mutating snapshot request.
type Operation struct {
	ID         string    `json:"id"`
	VM         string    `json:"vm"`
	Verb       Verb      `json:"verb"`
	Snapshot   string    `json:"snapshot,omitempty"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}
