package usage

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aideepspeak/pkg/models"
)

func TestAggregatorAccumulates(t *testing.T) {
	agg := NewAggregator()

	agg.Add("Aria", models.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15, Model: "gpt-4o"})
	agg.Add("Brom", models.Usage{PromptTokens: 20, CompletionTokens: 10, TotalTokens: 30, Model: "claude-3-5-sonnet-20240620"})
	agg.Add("Aria", models.Usage{PromptTokens: 2, CompletionTokens: 3, TotalTokens: 5, Model: "gpt-4o"})

	total := agg.Total()
	assert.Equal(t, 32, total.PromptTokens)
	assert.Equal(t, 18, total.CompletionTokens)
	assert.Equal(t, 50, total.TotalTokens)
	assert.Equal(t, 3, agg.Calls())

	per := agg.PerCharacter()
	assert.Equal(t, 20, per["Aria"].TotalTokens)
	assert.Equal(t, "gpt-4o", per["Aria"].Model)
	assert.Equal(t, 30, per["Brom"].TotalTokens)
}

func TestAggregatorSnapshot(t *testing.T) {
	agg := NewAggregator()
	agg.Add("Aria", models.Usage{TotalTokens: 15})

	summary := agg.Snapshot(5, "turn limit reached")

	assert.Equal(t, 5, summary.TotalTurns)
	assert.Equal(t, 15, summary.TotalUsage.TotalTokens)
	assert.Equal(t, "turn limit reached", summary.TerminationReason)
	assert.Contains(t, summary.PerCharacter, "Aria")

	// The snapshot must be detached from later mutation.
	agg.Add("Aria", models.Usage{TotalTokens: 100})
	assert.Equal(t, 15, summary.PerCharacter["Aria"].TotalTokens)
}

func TestAggregatorConcurrentAdds(t *testing.T) {
	agg := NewAggregator()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				agg.Add("Aria", models.Usage{TotalTokens: 1})
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1000, agg.Total().TotalTokens)
	assert.Equal(t, 1000, agg.Calls())
}
