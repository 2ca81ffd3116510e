package updater

// State names the update cycle position. Transitions:
// Idle → Checking → Downloading → Applying → Verifying →
// {Committed | RollingBack} → Idle.
type State string

const (
	StateIdle        State = "idle"
	StateChecking    State = "checking"
	StateDownloading State = "downloading"
	StateApplying    State = "applying"
	StateVerifying   State = "verifying"
	StateCommitted   State = "committed"
	StateRollingBack State = "rolling_back"
)

func (s State) String() string { return string(s) }
