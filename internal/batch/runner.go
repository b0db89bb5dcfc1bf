package batch

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/aideepspeak/internal/conversation"
	"github.com/aideepspeak/pkg/models"
)

// meetingTask pairs a setup with the dependencies its run will use.
type meetingTask struct {
	id    string
	setup models.Setup
	deps  conversation.Deps
}

// MeetingResult reports the outcome of one queued conversation run.
type MeetingResult struct {
	TaskID     string
	Transcript models.Transcript
	Err        error
}

// Runner executes queued conversation setups on a bounded worker pool.
// Tasks usually share one response cache through their Deps, so prompts
// repeated across meetings are answered from disk instead of the provider.
type Runner struct {
	tasks      []*meetingTask
	results    map[string]*MeetingResult
	maxWorkers int
	mu         sync.Mutex
}

// NewRunner creates a runner that executes at most maxWorkers meetings
// concurrently.
func NewRunner(maxWorkers int) *Runner {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	return &Runner{
		results:    make(map[string]*MeetingResult),
		maxWorkers: maxWorkers,
	}
}

// Add queues one setup. The id must be unique within the runner; the
// setup's conversation id is the natural choice.
func (r *Runner) Add(id string, setup models.Setup, deps conversation.Deps) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = append(r.tasks, &meetingTask{id: id, setup: setup, deps: deps})
}

// Len returns the number of queued setups.
func (r *Runner) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

// RunAll executes every queued setup and returns the results keyed by
// task id. Individual failures are captured per task and do not stop the
// rest of the batch.
func (r *Runner) RunAll(ctx context.Context) map[string]*MeetingResult {
	r.mu.Lock()
	tasks := make([]*meetingTask, len(r.tasks))
	copy(tasks, r.tasks)
	r.mu.Unlock()

	taskCh := make(chan *meetingTask, len(tasks))
	resultCh := make(chan *MeetingResult, len(tasks))

	workerCount := r.maxWorkers
	if workerCount > len(tasks) {
		workerCount = len(tasks)
	}

	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range taskCh {
				resultCh <- r.runOne(ctx, task)
			}
		}()
	}

	for _, task := range tasks {
		taskCh <- task
	}
	close(taskCh)

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	results := make(map[string]*MeetingResult, len(tasks))
	for result := range resultCh {
		results[result.TaskID] = result
	}

	r.mu.Lock()
	r.results = results
	r.mu.Unlock()

	return results
}

// Results returns a copy of the outcome of the last RunAll call.
func (r *Runner) Results() map[string]*MeetingResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]*MeetingResult, len(r.results))
	for id, result := range r.results {
		out[id] = result
	}
	return out
}

func (r *Runner) runOne(ctx context.Context, task *meetingTask) *MeetingResult {
	result := &MeetingResult{TaskID: task.id}

	run, err := conversation.NewRun(ctx, task.setup, task.deps)
	if err != nil {
		log.Warn().Err(err).Str("task", task.id).Msg("Meeting setup rejected")
		result.Err = err
		return result
	}

	doc, err := run.RunAll(ctx)
	if err != nil {
		log.Warn().Err(err).Str("task", task.id).Msg("Meeting run failed")
		result.Err = err
		return result
	}

	log.Info().Str("task", task.id).Int("turns", doc.Summary.TotalTurns).
		Str("reason", doc.Summary.TerminationReason).Msg("Meeting finished")
	result.Transcript = doc
	return result
}
