package syncer

// State is the orchestrator's connectivity and activity state.
type State int

const (
	Idle State = iota
	Syncing
	Offline
)

var stateNames = []string{"idle", "syncing", "offline"}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}
