package persistence

// Persistence bundles the history log and the status index so the engine
// can depend on a single abstraction.
type Persistence struct {
	History   HistoryLog
	Instances InstanceStore
}
