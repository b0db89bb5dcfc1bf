/*
Package jobqueue runs meetings asynchronously on a River-based job queue.

The API server inserts one job per requested meeting; workers execute the
conversation and archive the transcript. For tuning parameters see
queue_config.go.
*/
package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/rs/zerolog/log"

	"github.com/aideepspeak/internal/archive"
	"github.com/aideepspeak/internal/conversation"
	"github.com/aideepspeak/pkg/models"
)

// MeetingRunner executes one conversation setup to completion.
type MeetingRunner interface {
	RunMeeting(ctx context.Context, setup models.Setup) (models.Transcript, error)
}

// MeetingJobArgs carries one queued meeting through River.
type MeetingJobArgs struct {
	MeetingID string       `json:"meeting_id"`
	Setup     models.Setup `json:"setup"`
}

// Kind returns the job kind for River
func (MeetingJobArgs) Kind() string {
	return "meeting_run"
}

// MeetingWorker executes meeting jobs
type MeetingWorker struct {
	river.WorkerDefaults[MeetingJobArgs]
	runner  MeetingRunner
	archive *archive.Store
	config  *QueueConfig
}

// NewMeetingWorker builds a worker. The archive store may be nil; finished
// meetings are then only written by the run's own transcript writer.
func NewMeetingWorker(runner MeetingRunner, store *archive.Store, config *QueueConfig) *MeetingWorker {
	if config == nil {
		config = DefaultQueueConfig()
	}
	return &MeetingWorker{runner: runner, archive: store, config: config}
}

// Timeout bounds one meeting run; River cancels the job's context after it.
func (w *MeetingWorker) Timeout(*river.Job[MeetingJobArgs]) time.Duration {
	return w.config.JobTimeout
}

// Work runs the meeting and archives the transcript.
func (w *MeetingWorker) Work(ctx context.Context, job *river.Job[MeetingJobArgs]) error {
	args := job.Args

	log.Info().
		Str("meeting_id", args.MeetingID).
		Int("attempt", job.Attempt).
		Msg("Meeting job started")

	doc, err := w.runner.RunMeeting(ctx, args.Setup)
	if err != nil {
		var cfgErr *conversation.ConfigError
		if errors.As(err, &cfgErr) {
			// An invalid setup will not become valid on a later attempt
			log.Warn().Err(err).Str("meeting_id", args.MeetingID).Msg("Meeting setup rejected, cancelling job")
			return river.JobCancel(err)
		}
		return fmt.Errorf("meeting run failed: %w", err)
	}

	if w.archive != nil {
		record := models.MeetingRecord{
			ID:         doc.ConversationID,
			Name:       doc.Name,
			Setup:      args.Setup,
			Transcript: doc,
			CreatedAt:  time.Now(),
		}
		if err := w.archive.SaveMeeting(ctx, record); err != nil {
			// The meeting itself finished; losing the archive row is logged,
			// not worth re-running the whole conversation
			log.Error().Err(err).Str("meeting_id", args.MeetingID).Msg("Failed to archive meeting")
		}
	}

	log.Info().
		Str("meeting_id", args.MeetingID).
		Int("turns", doc.Summary.TotalTurns).
		Str("reason", doc.Summary.TerminationReason).
		Msg("Meeting job finished")
	return nil
}

// JobQueue manages the River client and its worker pool
type JobQueue struct {
	client *river.Client[pgx.Tx]
	pool   *pgxpool.Pool
	config *QueueConfig
}

// NewJobQueue creates a job queue backed by the given database. A nil
// config selects DefaultQueueConfig.
func NewJobQueue(databaseURL string, runner MeetingRunner, store *archive.Store, config *QueueConfig) (*JobQueue, error) {
	if config == nil {
		config = DefaultQueueConfig()
	}

	pool, err := pgxpool.New(context.Background(), databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	workers := river.NewWorkers()
	river.AddWorker(workers, NewMeetingWorker(runner, store, config))

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues:  config.RiverQueueConfig(),
		Workers: workers,
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create River client: %w", err)
	}

	return &JobQueue{
		client: client,
		pool:   pool,
		config: config,
	}, nil
}

// Start starts the job queue workers
func (jq *JobQueue) Start(ctx context.Context) error {
	return jq.client.Start(ctx)
}

// Stop stops the job queue workers
func (jq *JobQueue) Stop(ctx context.Context) error {
	return jq.client.Stop(ctx)
}

// Close releases the connection pool. Call after Stop.
func (jq *JobQueue) Close() {
	jq.pool.Close()
}

// QueueMeeting inserts one meeting job and returns the meeting id the
// caller can poll the archive with.
func (jq *JobQueue) QueueMeeting(ctx context.Context, setup models.Setup) (string, error) {
	meetingID := setup.ConversationID
	if meetingID == "" {
		return "", fmt.Errorf("setup has no conversation id")
	}

	args := MeetingJobArgs{MeetingID: meetingID, Setup: setup}
	result, err := jq.client.Insert(ctx, args, &river.InsertOpts{
		MaxAttempts: jq.config.MaxRetries,
	})
	if err != nil {
		return "", fmt.Errorf("failed to queue meeting job: %w", err)
	}

	log.Info().Str("meeting_id", meetingID).Int64("job_id", result.Job.ID).Msg("Meeting queued")
	return meetingID, nil
}
