/*
Package jobqueue configuration - tunable parameters for the meeting queue.

A queued meeting is one full conversation run, so jobs are long compared
to typical queue work. The defaults below assume provider latency in the
seconds and meetings of a dozen turns:

  - MaxWorkers bounds concurrent meetings, and with them concurrent
    provider traffic. Raise it only together with provider rate limits.
  - MaxRetries is deliberately small. Transient provider errors are
    already retried per call inside the run; a job-level retry replays
    the whole meeting and should stay rare.
  - JobTimeout caps one run. Budget roughly turn limit x call timeout
    plus retry headroom.
*/
package jobqueue

import (
	"time"

	"github.com/riverqueue/river"
)

// QueueConfig holds all configurable parameters for the meeting queue
type QueueConfig struct {
	MaxWorkers int           // Concurrent meeting runs (default: 4)
	MaxRetries int           // Attempts per job including the first (default: 3)
	JobTimeout time.Duration // Maximum time a single meeting may run (default: 30 minutes)
}

// DefaultQueueConfig returns the default configuration
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		MaxWorkers: 4,
		MaxRetries: 3,
		JobTimeout: 30 * time.Minute,
	}
}

// RiverQueueConfig converts our config to River's queue configuration format
func (c *QueueConfig) RiverQueueConfig() map[string]river.QueueConfig {
	return map[string]river.QueueConfig{
		river.QueueDefault: {
			MaxWorkers: c.MaxWorkers,
		},
	}
}
