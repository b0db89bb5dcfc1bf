package conversation

import "fmt"

// ConfigError reports an invalid Setup. It is surfaced by NewRun before any
// turn executes; a run is never started from a bad setup.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid setup: %s", e.Reason)
}

// SchedulingDeadlockError reports that no eligible speaker remained while no
// termination rule had fired. The run is forced to terminate and the
// diagnostic is recorded in the transcript summary.
type SchedulingDeadlockError struct {
	Reason string
}

func (e *SchedulingDeadlockError) Error() string {
	return fmt.Sprintf("scheduling deadlock: %s", e.Reason)
}
