package task

// Outcome labels a progress publication. Running snapshots flow at the
// engine's cadence; exactly one terminal outcome is published per task.
type Outcome string

const (
	Running   Outcome = "running"
	Completed Outcome = "completed"
	Cancelled Outcome = "cancelled"
	Failed    Outcome = "failed"
)

func (o Outcome) Terminal() bool { return o != Running }

// ProgressFunc receives progress publications. Implementations must be
// cheap or spin off their own work; the engine loop calls them inline.
type ProgressFunc func(Snapshot, Outcome)
