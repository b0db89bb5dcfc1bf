package usage

import (
	"sync"

	"github.com/aideepspeak/pkg/models"
)

// Aggregator accumulates token usage across the turns of a run. Purely
// additive; it carries no retry or failure logic of its own. Safe for
// concurrent use, although a single run records turns sequentially.
type Aggregator struct {
	mu           sync.Mutex
	total        models.Usage
	perCharacter map[string]models.Usage
	calls        int
}

// NewAggregator returns an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{
		perCharacter: make(map[string]models.Usage),
	}
}

// Add records one model call's usage against the speaker. Cached responses
// carry the usage of the call that originally produced them and are recorded
// the same way.
func (a *Aggregator) Add(speaker string, u models.Usage) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.total.Add(u)

	per := a.perCharacter[speaker]
	per.Add(u)
	if u.Model != "" {
		per.Model = u.Model
	}
	a.perCharacter[speaker] = per

	a.calls++
}

// Total returns the accumulated usage across all speakers.
func (a *Aggregator) Total() models.Usage {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.total
}

// PerCharacter returns a copy of the per-speaker usage totals.
func (a *Aggregator) PerCharacter() map[string]models.Usage {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make(map[string]models.Usage, len(a.perCharacter))
	for speaker, u := range a.perCharacter {
		out[speaker] = u
	}
	return out
}

// Calls returns how many model calls have been recorded.
func (a *Aggregator) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

// Snapshot assembles the transcript summary block from the current totals.
func (a *Aggregator) Snapshot(totalTurns int, terminationReason string) models.Summary {
	a.mu.Lock()
	defer a.mu.Unlock()

	per := make(map[string]models.Usage, len(a.perCharacter))
	for speaker, u := range a.perCharacter {
		per[speaker] = u
	}

	return models.Summary{
		TotalTurns:        totalTurns,
		TotalUsage:        a.total,
		PerCharacter:      per,
		TerminationReason: terminationReason,
	}
}
