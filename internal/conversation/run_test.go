package conversation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aideepspeak/internal/transcript"
	"github.com/aideepspeak/pkg/models"
)

// scriptedCaller is shared by every character of a run. It counts connector
// calls fleet-wide and answers from a pure function of the prompt, so
// replies are as deterministic as the real cache expects.
type scriptedCaller struct {
	mu      sync.Mutex
	calls   int
	respond func(prompt string) (string, models.Usage, error)
}

func (s *scriptedCaller) Call(ctx context.Context, prompt string) (string, models.Usage, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	if s.respond != nil {
		return s.respond(prompt)
	}
	return fmt.Sprintf("Reply to a prompt of %d words.", len(strings.Fields(prompt))), testUsage(), nil
}

func (s *scriptedCaller) GetModel() string {
	return "fake-model"
}

func (s *scriptedCaller) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *scriptedCaller) factory(ctx context.Context, provider string, params models.ModelParams) (ModelCaller, error) {
	return s, nil
}

func testUsage() models.Usage {
	return models.Usage{PromptTokens: 7, CompletionTokens: 3, TotalTokens: 10, Model: "fake-model"}
}

func testSetup(turnLimit int) models.Setup {
	return models.Setup{
		ConversationID: "11111111-2222-3333-4444-555555555555",
		Version:        "1",
		Name:           "Harbor Defense Council",
		Topic:          "Defending the harbor",
		Characters: []models.Character{
			{Name: "Aria", Position: "Strategist", AssignedModel: "openai-gpt"},
			{Name: "Brom", Position: "Quartermaster", AssignedModel: "claude"},
			{Name: "Cara", Position: "Harbormaster", AssignedModel: "gemini"},
		},
		MeetingParameters: models.MeetingParameters{TurnLimit: turnLimit},
	}
}

func speakerNames(msgs []models.Message) []string {
	names := make([]string, len(msgs))
	for i, m := range msgs {
		names[i] = m.Speaker
	}
	return names
}

func TestNewRunValidation(t *testing.T) {
	caller := &scriptedCaller{}

	tests := []struct {
		name   string
		mutate func(*models.Setup)
		reason string
	}{
		{
			"no characters",
			func(s *models.Setup) { s.Characters = nil },
			"at least one character",
		},
		{
			"duplicate names",
			func(s *models.Setup) { s.Characters[1].Name = "Aria" },
			"duplicate character name",
		},
		{
			"unknown provider",
			func(s *models.Setup) { s.Characters[0].AssignedModel = "watson" },
			"unsupported provider",
		},
		{
			"zero turn limit",
			func(s *models.Setup) { s.MeetingParameters.TurnLimit = 0 },
			"turn limit",
		},
		{
			"unknown speaker policy",
			func(s *models.Setup) { s.MeetingParameters.SpeakerPolicy = "loudest_first" },
			"unknown speaker policy",
		},
		{
			"unknown failure policy",
			func(s *models.Setup) { s.MeetingParameters.OnCharacterFailure = "panic" },
			"unknown failure policy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setup := testSetup(5)
			tt.mutate(&setup)

			_, err := NewRun(context.Background(), setup, Deps{NewCaller: caller.factory})
			require.Error(t, err)

			var cfgErr *ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Contains(t, err.Error(), tt.reason)
		})
	}
}

func TestNewRunRequiresCallerFactory(t *testing.T) {
	_, err := NewRun(context.Background(), testSetup(5), Deps{})

	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestNewRunFillsDefaults(t *testing.T) {
	caller := &scriptedCaller{}
	setup := testSetup(5)
	setup.ConversationID = ""

	run, err := NewRun(context.Background(), setup, Deps{NewCaller: caller.factory})
	require.NoError(t, err)

	assert.NotEmpty(t, run.ConversationID(), "a missing conversation id is generated")
	assert.Equal(t, models.PolicyRoundRobin, run.setup.MeetingParameters.SpeakerPolicy)
	assert.Equal(t, models.FailureSkip, run.setup.MeetingParameters.OnCharacterFailure)
	assert.Equal(t, defaultMaxWords, run.setup.MeetingParameters.MaxWords)
	assert.Equal(t, "The Logkeeper", run.setup.Logkeeper.Name)
	assert.Equal(t, StateInitializing, run.State())
}

func TestOpeningMessageIsTurnZero(t *testing.T) {
	caller := &scriptedCaller{}
	setup := testSetup(3)
	setup.MeetingContext.OpeningMessage = "Welcome, council. The harbor needs us."

	run, err := NewRun(context.Background(), setup, Deps{NewCaller: caller.factory})
	require.NoError(t, err)

	msg, live, err := run.Step(context.Background())
	require.NoError(t, err)
	require.True(t, live)

	assert.Equal(t, 0, msg.TurnIndex)
	assert.Equal(t, "The Logkeeper", msg.Speaker)
	assert.Equal(t, "Welcome, council. The harbor needs us.", msg.Text)
	assert.False(t, msg.CacheHit)
	assert.Equal(t, 0, caller.callCount(), "the opening message costs no model call")
}

func TestTurnIndicesStrictlyIncreasingNoGaps(t *testing.T) {
	caller := &scriptedCaller{}
	setup := testSetup(4)
	setup.MeetingContext.OpeningMessage = "Let us begin."

	run, err := NewRun(context.Background(), setup, Deps{NewCaller: caller.factory})
	require.NoError(t, err)

	doc, err := run.RunAll(context.Background())
	require.NoError(t, err)

	require.NotEmpty(t, doc.Messages)
	for i, msg := range doc.Messages {
		assert.Equal(t, i, msg.TurnIndex, "turn indices must be gapless and strictly increasing")
	}
}

func TestStepIdempotentAfterTermination(t *testing.T) {
	caller := &scriptedCaller{}
	run, err := NewRun(context.Background(), testSetup(2), Deps{NewCaller: caller.factory})
	require.NoError(t, err)

	_, err = run.RunAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateTerminated, run.State())

	recorded := len(run.Transcript().Messages)
	calls := caller.callCount()

	for i := 0; i < 3; i++ {
		msg, live, err := run.Step(context.Background())
		require.NoError(t, err)
		assert.False(t, live)
		assert.Zero(t, msg)
	}

	assert.Equal(t, recorded, len(run.Transcript().Messages), "no messages after termination")
	assert.Equal(t, calls, caller.callCount(), "no model calls after termination")
	assert.Equal(t, StateTerminated, run.State())
}

func TestRunCancellation(t *testing.T) {
	caller := &scriptedCaller{}
	run, err := NewRun(context.Background(), testSetup(5), Deps{NewCaller: caller.factory})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, live, err := run.Step(ctx)
	require.Error(t, err)
	assert.False(t, live)
	assert.Equal(t, StateFailed, run.State())
	assert.Equal(t, "run cancelled", run.Summary().TerminationReason)

	_, live, err = run.Step(context.Background())
	require.Error(t, err, "a failed run stays failed")
	assert.False(t, live)
}

func TestRunWritesTranscriptFile(t *testing.T) {
	caller := &scriptedCaller{}
	setup := testSetup(2)

	writer, err := transcript.NewWriter(t.TempDir(), setup.ConversationID)
	require.NoError(t, err)

	run, err := NewRun(context.Background(), setup, Deps{NewCaller: caller.factory, Writer: writer})
	require.NoError(t, err)

	doc, err := run.RunAll(context.Background())
	require.NoError(t, err)

	loaded, err := transcript.Load(writer.Path())
	require.NoError(t, err)
	assert.Equal(t, doc.ConversationID, loaded.ConversationID)
	assert.Len(t, loaded.Messages, len(doc.Messages))
	assert.Equal(t, "turn limit reached", loaded.Summary.TerminationReason)
	assert.Equal(t, doc.Summary.TotalUsage, loaded.Summary.TotalUsage)
}

func TestSummaryAccounting(t *testing.T) {
	caller := &scriptedCaller{}
	run, err := NewRun(context.Background(), testSetup(3), Deps{NewCaller: caller.factory})
	require.NoError(t, err)

	doc, err := run.RunAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, len(doc.Messages), doc.Summary.TotalTurns)
	assert.Equal(t, 30, doc.Summary.TotalUsage.TotalTokens, "three turns at ten tokens each")
	assert.Equal(t, 10, doc.Summary.PerCharacter["Aria"].TotalTokens)
	assert.Equal(t, 10, doc.Summary.PerCharacter["Brom"].TotalTokens)
	assert.Equal(t, 10, doc.Summary.PerCharacter["Cara"].TotalTokens)
}
