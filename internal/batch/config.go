package batch

import (
	"runtime"
)

// Config holds configuration for concurrent meeting execution
type Config struct {
	MaxWorkers int // Maximum number of meetings run at the same time
}

// DefaultConfig returns sensible defaults for meeting batches
func DefaultConfig() Config {
	return Config{
		MaxWorkers: runtime.NumCPU(),
	}
}

// ConfigureRunner creates a Runner from the given configuration
func ConfigureRunner(config Config) *Runner {
	return NewRunner(config.MaxWorkers)
}
