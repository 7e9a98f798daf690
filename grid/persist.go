package grid

import "time"

// Snapshot is the minimal persisted state for crash recovery: the active
// generation (with its bindings), the position, and the risk counters.
// Written after each tick that mutated the ledger, read once on restart.
type Snapshot struct {
	InstanceID  string      `json:"instance_id"`
	Symbol      string      `json:"symbol"`
	State       State       `json:"state"`
	Generation  *Generation `json:"generation"`
	Position    Position    `json:"position"`
	Risk        RiskState   `json:"risk"`
	Performance Performance `json:"performance"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Event is one row of the append-only audit journal.
type Event struct {
	InstanceID string    `json:"instance_id"`
	Type       string    `json:"type"` // fill, rebalance, halt, start, stop
	Detail     string    `json:"detail"`
	At         time.Time `json:"at"`
}

// Persister stores snapshots and journal events. The gorm/sqlite store
// implements it; a nil persister disables persistence (paper runs).
type Persister interface {
	SaveSnapshot(snap *Snapshot) error
	LoadSnapshot(instanceID string) (*Snapshot, error)
	AppendEvent(ev *Event) error
}
