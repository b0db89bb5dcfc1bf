package conversation

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/aideepspeak/internal/aiconnectors"
	"github.com/aideepspeak/internal/logging"
	"github.com/aideepspeak/internal/respcache"
	"github.com/aideepspeak/internal/transcript"
	"github.com/aideepspeak/internal/usage"
	"github.com/aideepspeak/pkg/models"
)

// State identifies where a run is in its lifecycle.
type State string

const (
	StateInitializing     State = "initializing"
	StateSelectingSpeaker State = "selecting_speaker"
	StateBuildingPrompt   State = "building_prompt"
	StateAwaitingResponse State = "awaiting_response"
	StateRecording        State = "recording"
	StateTerminating      State = "terminating"
	StateTerminated       State = "terminated"
	StateFailed           State = "failed"
)

// Defaults applied to a Setup before validation
const (
	defaultMaxWords       = 1500
	defaultReadingMinutes = 7
	defaultWordsPerMinute = 200
)

// ModelCaller is the "generate completion" capability the scheduler needs
// from a model backend. Production runs use llm.ResilientCaller; tests
// substitute fakes.
type ModelCaller interface {
	Call(ctx context.Context, prompt string) (string, models.Usage, error)
	GetModel() string
}

// CallerFactory builds the caller for one character's assigned provider.
type CallerFactory func(ctx context.Context, provider string, params models.ModelParams) (ModelCaller, error)

// Deps carries a run's collaborators. Cache, Logger and Writer may be nil;
// the caller factory is required.
type Deps struct {
	Cache     *respcache.Store
	NewCaller CallerFactory
	Logger    *logging.MeetingLogger
	Writer    *transcript.Writer
}

// agent pairs a character with its model caller, so the scheduler can
// fingerprint a request with the same parameters the caller will use.
type agent struct {
	character models.Character
	caller    ModelCaller
}

// Run is the state machine for a single conversation. Turns are strictly
// sequential; Step serializes concurrent callers. Snapshot accessors may be
// polled from other goroutines while a turn is in flight.
type Run struct {
	setup models.Setup
	deps  Deps

	stepMu sync.Mutex
	mu     sync.RWMutex

	state          State
	messages       []models.Message
	nextTurn       int
	characterTurns int
	spokenTurns    map[string]int
	wordCount      int
	summary        models.Summary
	runErr         error

	rrCursor int
	rng      *rand.Rand

	agents    map[string]agent
	logkeeper agent
	agg       *usage.Aggregator
}

// NewRun validates the setup and prepares a run. Validation failures are
// reported as ConfigError before any turn executes. The passed setup is not
// mutated; defaults are applied to the run's own copy.
func NewRun(ctx context.Context, setup models.Setup, deps Deps) (*Run, error) {
	if deps.NewCaller == nil {
		return nil, &ConfigError{Reason: "a caller factory is required"}
	}

	applyDefaults(&setup)
	if err := validateSetup(setup); err != nil {
		return nil, err
	}

	r := &Run{
		setup:       setup,
		deps:        deps,
		state:       StateInitializing,
		spokenTurns: make(map[string]int),
		agents:      make(map[string]agent),
		agg:         usage.NewAggregator(),
	}

	seed := respcache.DefaultSeed
	if deps.Cache != nil {
		seed = deps.Cache.Seed()
	}
	r.rng = rand.New(rand.NewSource(int64(seed)))

	for _, c := range setup.Characters {
		caller, err := deps.NewCaller(ctx, c.AssignedModel, c.ModelParams)
		if err != nil {
			return nil, &ConfigError{Reason: fmt.Sprintf("failed to build a connector for %s: %v", c.Name, err)}
		}
		r.agents[c.Name] = agent{character: c, caller: caller}
	}

	caller, err := deps.NewCaller(ctx, setup.Logkeeper.AssignedModel, setup.Logkeeper.ModelParams)
	if err != nil {
		return nil, &ConfigError{Reason: fmt.Sprintf("failed to build a connector for logkeeper %s: %v", setup.Logkeeper.Name, err)}
	}
	r.logkeeper = agent{character: setup.Logkeeper, caller: caller}

	log.Debug().
		Str("conversation_id", setup.ConversationID).
		Int("characters", len(setup.Characters)).
		Str("policy", setup.MeetingParameters.SpeakerPolicy).
		Msg("Initialized conversation run")

	return r, nil
}

// Step executes one turn of the conversation. It returns the turn's primary
// message and true while the run is live, and a zero message and false once
// the run has terminated. Calling Step after termination has no side
// effects.
func (r *Run) Step(ctx context.Context) (models.Message, bool, error) {
	r.stepMu.Lock()
	defer r.stepMu.Unlock()

	switch r.State() {
	case StateTerminated:
		return models.Message{}, false, nil
	case StateFailed:
		return models.Message{}, false, r.runErr
	}

	if err := ctx.Err(); err != nil {
		r.fail("run cancelled", err)
		return models.Message{}, false, err
	}

	// The first step plays the opening message when the setup has one. It is
	// spoken by the logkeeper and costs no model call.
	if r.State() == StateInitializing {
		r.setState(StateSelectingSpeaker)
		if opening := strings.TrimSpace(r.setup.MeetingContext.OpeningMessage); opening != "" {
			msg := r.record(models.Message{Speaker: r.setup.Logkeeper.Name, Text: opening})
			r.deps.Logger.Log("%s: %s", msg.Speaker, msg.Text)
			return msg, true, nil
		}
	}

	r.setState(StateSelectingSpeaker)
	speaker, err := r.selectSpeaker(ctx)
	if err != nil {
		var deadlock *SchedulingDeadlockError
		if errors.As(err, &deadlock) {
			r.finalize(ctx, err.Error(), false)
			return models.Message{}, false, err
		}
		r.fail("speaker selection failed", err)
		return models.Message{}, false, err
	}

	r.setState(StateBuildingPrompt)
	prompt := BuildCharacterPrompt(r.setup, r.history(), speaker)

	r.setState(StateAwaitingResponse)
	text, used, cacheHit, err := r.invoke(ctx, r.agents[speaker.Name], prompt)
	if err != nil {
		return r.recordTurnFailure(ctx, speaker, err)
	}

	r.setState(StateRecording)
	r.countCharacterTurn(speaker.Name)
	msg := r.record(models.Message{Speaker: speaker.Name, Text: text, Usage: used, CacheHit: cacheHit})
	r.agg.Add(speaker.Name, used)

	if reason, done := r.checkTermination(ctx); done {
		r.finalize(ctx, reason, true)
		return msg, true, nil
	}

	r.setState(StateSelectingSpeaker)
	return msg, true, nil
}

// RunAll drives Step until the run terminates and returns the final
// transcript. A scheduling deadlock ends the run with its diagnostic in the
// summary and is not treated as a failure here.
func (r *Run) RunAll(ctx context.Context) (models.Transcript, error) {
	for {
		_, live, err := r.Step(ctx)
		if err != nil {
			var deadlock *SchedulingDeadlockError
			if errors.As(err, &deadlock) {
				return r.Transcript(), nil
			}
			return r.Transcript(), err
		}
		if !live {
			return r.Transcript(), nil
		}
	}
}

// Transcript returns a snapshot of the conversation so far.
func (r *Run) Transcript() models.Transcript {
	r.mu.RLock()
	defer r.mu.RUnlock()

	msgs := make([]models.Message, len(r.messages))
	copy(msgs, r.messages)

	return models.Transcript{
		ConversationID: r.setup.ConversationID,
		Name:           r.setup.Name,
		Messages:       msgs,
		Summary:        r.summary,
	}
}

// Summary returns the termination summary; zero until the run has ended.
func (r *Run) Summary() models.Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.summary
}

// State returns the run's current lifecycle state.
func (r *Run) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// ConversationID returns the id the run was validated with.
func (r *Run) ConversationID() string {
	return r.setup.ConversationID
}

// TranscriptPath returns where the transcript file is written, if a writer
// is attached.
func (r *Run) TranscriptPath() string {
	return r.deps.Writer.Path()
}

// invoke resolves one model request through the cache: lookup, on miss call
// the backend and store the result. The bool reports whether the response
// came from the cache.
func (r *Run) invoke(ctx context.Context, a agent, prompt string) (string, models.Usage, bool, error) {
	model := a.caller.GetModel()

	var fingerprint string
	if r.deps.Cache != nil {
		fingerprint = respcache.Fingerprint(prompt, model, a.character.ModelParams, r.deps.Cache.Seed())
		if entry, ok := r.deps.Cache.Lookup(fingerprint); ok {
			r.deps.Logger.LogResponse(a.character.Name, entry.Response, true)
			return entry.Response, entry.UsageInfo, true, nil
		}
	}

	r.deps.Logger.LogPrompt(a.character.Name, model, prompt)
	text, used, err := a.caller.Call(ctx, prompt)
	if err != nil {
		return "", models.Usage{}, false, err
	}

	if r.deps.Cache != nil {
		r.deps.Cache.Put(fingerprint, prompt, model, text, used, 0)
	}
	r.deps.Logger.LogResponse(a.character.Name, text, false)
	return text, used, false, nil
}

// recordTurnFailure handles a turn whose connector call failed after
// retries: a system placeholder message keeps the transcript
// self-explanatory, then the speaker is skipped or the run terminated per
// the configured policy. The failed turn still counts against the turn
// limit so a dead provider cannot loop forever.
func (r *Run) recordTurnFailure(ctx context.Context, speaker models.Character, callErr error) (models.Message, bool, error) {
	r.deps.Logger.LogError(fmt.Sprintf("turn failed for %s", speaker.Name), callErr)
	log.Warn().Err(callErr).Str("speaker", speaker.Name).Msg("Character turn failed")

	r.mu.Lock()
	r.characterTurns++
	r.mu.Unlock()

	msg := r.record(models.Message{
		Speaker: "System",
		Text:    fmt.Sprintf("[System] %s could not respond: %v", speaker.Name, callErr),
		System:  true,
	})

	if r.setup.MeetingParameters.OnCharacterFailure == models.FailureTerminate {
		r.finalize(ctx, fmt.Sprintf("character failure: %s", speaker.Name), false)
		return msg, true, nil
	}

	if reason, done := r.checkTermination(ctx); done {
		r.finalize(ctx, reason, true)
		return msg, true, nil
	}

	r.setState(StateSelectingSpeaker)
	return msg, true, nil
}

// checkTermination evaluates the meeting's termination rules after a turn.
// The goal check is last because it costs a model call.
func (r *Run) checkTermination(ctx context.Context) (string, bool) {
	p := r.setup.MeetingParameters

	r.mu.RLock()
	turns := r.characterTurns
	words := r.wordCount
	var lastText string
	if len(r.messages) > 0 {
		lastText = r.messages[len(r.messages)-1].Text
	}
	r.mu.RUnlock()

	if turns >= p.TurnLimit {
		return "turn limit reached", true
	}
	if p.StopPhrase != "" && strings.Contains(lastText, p.StopPhrase) {
		return "stop phrase detected", true
	}
	if words >= p.MaxWords {
		return "word budget reached", true
	}
	if minutes := float64(words) / float64(p.WordsPerMinute); minutes >= float64(p.MaxReadingMinutes) {
		return "reading time budget reached", true
	}
	if p.GoalCheck && turns*2 >= p.TurnLimit && r.goalReached(ctx) {
		return "goal reached", true
	}
	return "", false
}

// goalReached asks the manager model whether the meeting goal is met. The
// check itself is recorded as a system message, so transcripts show why a
// conversation kept going or stopped.
func (r *Run) goalReached(ctx context.Context) bool {
	prompt := BuildGoalCheckPrompt(r.history(), r.setup.MeetingContext.Goal)
	text, used, cacheHit, err := r.invoke(ctx, r.logkeeper, prompt)
	if err != nil {
		log.Warn().Err(err).Msg("Goal check failed, continuing the conversation")
		return false
	}

	r.record(models.Message{
		Speaker:  "SystemCheck",
		Text:     "[Goal Check] " + text,
		Usage:    used,
		CacheHit: cacheHit,
		System:   true,
	})
	r.agg.Add("SystemCheck", used)

	return strings.Contains(strings.ToUpper(text), "YES")
}

// finalize moves the run through Terminating into Terminated: an optional
// closing turn, then the summary snapshot and the final transcript flush.
func (r *Run) finalize(ctx context.Context, reason string, allowClosing bool) {
	r.setState(StateTerminating)
	r.deps.Logger.LogSection("MEETING ENDED: " + reason)

	if allowClosing && r.setup.MeetingParameters.ClosingMessage {
		r.closingTurn(ctx)
	}

	summary := r.agg.Snapshot(r.turnCount(), reason)

	r.mu.Lock()
	r.summary = summary
	r.state = StateTerminated
	r.mu.Unlock()

	r.flush()
	r.deps.Logger.Close()

	log.Debug().
		Str("conversation_id", r.setup.ConversationID).
		Str("reason", reason).
		Int("turns", summary.TotalTurns).
		Int("total_tokens", summary.TotalUsage.TotalTokens).
		Msg("Conversation terminated")
}

// closingTurn asks the manager model whether a final wrap-up is needed and,
// if it names a valid character, lets that character speak once more.
// Failures here never block termination.
func (r *Run) closingTurn(ctx context.Context) {
	checkPrompt := BuildClosingCheckPrompt(r.history())
	text, used, cacheHit, err := r.invoke(ctx, r.logkeeper, checkPrompt)
	if err != nil {
		log.Warn().Err(err).Msg("Closing check failed, skipping the closing message")
		return
	}

	r.record(models.Message{
		Speaker:  "SystemCheck",
		Text:     "[Closing Check] " + text,
		Usage:    used,
		CacheHit: cacheHit,
		System:   true,
	})
	r.agg.Add("SystemCheck", used)

	if strings.Contains(strings.ToUpper(text), "NO") {
		return
	}

	chosen, ok := r.agents[strings.TrimSpace(text)]
	if !ok {
		log.Debug().Str("answer", strings.TrimSpace(text)).Msg("Closing check did not name a known character, skipping")
		return
	}

	closingPrompt := BuildClosingPrompt(chosen.character)
	closing, used, cacheHit, err := r.invoke(ctx, chosen, closingPrompt)
	if err != nil {
		log.Warn().Err(err).Str("speaker", chosen.character.Name).Msg("Closing message failed, terminating without one")
		return
	}

	r.record(models.Message{
		Speaker:  chosen.character.Name,
		Text:     closing,
		Usage:    used,
		CacheHit: cacheHit,
	})
	r.agg.Add(chosen.character.Name, used)
}

// record appends a message to the transcript, assigning the next turn index,
// and flushes the document. Append-only: indices are strictly increasing
// with no gaps and a recorded message is never mutated.
func (r *Run) record(msg models.Message) models.Message {
	r.mu.Lock()
	msg.TurnIndex = r.nextTurn
	r.nextTurn++
	if msg.Timestamp == "" {
		msg.Timestamp = models.Now()
	}
	r.messages = append(r.messages, msg)
	r.wordCount += msg.WordCount()
	r.mu.Unlock()

	r.flush()
	return msg
}

// flush writes the current transcript snapshot. Write failures are reported
// but do not stop the run; the in-memory transcript stays authoritative.
func (r *Run) flush() {
	if err := r.deps.Writer.Write(r.Transcript()); err != nil {
		log.Warn().Err(err).Msg("Failed to write transcript file")
	}
}

// fail marks the run as Failed and seals the transcript with the reason.
func (r *Run) fail(reason string, err error) {
	summary := r.agg.Snapshot(r.turnCount(), reason)

	r.mu.Lock()
	r.summary = summary
	r.state = StateFailed
	r.runErr = err
	r.mu.Unlock()

	r.flush()
	r.deps.Logger.LogError(reason, err)
	r.deps.Logger.Close()
}

func (r *Run) countCharacterTurn(name string) {
	r.mu.Lock()
	r.characterTurns++
	r.spokenTurns[name]++
	r.mu.Unlock()
}

func (r *Run) turnCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.nextTurn
}

func (r *Run) history() []models.Message {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.Message, len(r.messages))
	copy(out, r.messages)
	return out
}

func (r *Run) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

func applyDefaults(setup *models.Setup) {
	if setup.ConversationID == "" {
		setup.ConversationID = uuid.NewString()
	}
	if setup.Logkeeper.Name == "" {
		setup.Logkeeper = models.DefaultLogkeeper()
	}

	p := &setup.MeetingParameters
	if p.SpeakerPolicy == "" {
		p.SpeakerPolicy = models.PolicyRoundRobin
	}
	if p.OnCharacterFailure == "" {
		p.OnCharacterFailure = models.FailureSkip
	}
	if p.MaxWords <= 0 {
		p.MaxWords = defaultMaxWords
	}
	if p.MaxReadingMinutes <= 0 {
		p.MaxReadingMinutes = defaultReadingMinutes
	}
	if p.WordsPerMinute <= 0 {
		p.WordsPerMinute = defaultWordsPerMinute
	}
}

func validateSetup(setup models.Setup) error {
	if len(setup.Characters) == 0 {
		return &ConfigError{Reason: "at least one character is required"}
	}
	if setup.MeetingParameters.TurnLimit <= 0 {
		return &ConfigError{Reason: "turn limit must be positive"}
	}

	seen := make(map[string]bool, len(setup.Characters))
	for _, c := range setup.Characters {
		if c.Name == "" {
			return &ConfigError{Reason: "character with an empty name"}
		}
		if seen[c.Name] {
			return &ConfigError{Reason: fmt.Sprintf("duplicate character name: %s", c.Name)}
		}
		seen[c.Name] = true

		if _, err := aiconnectors.ParseProvider(c.AssignedModel); err != nil {
			return &ConfigError{Reason: fmt.Sprintf("character %s: %v", c.Name, err)}
		}
	}

	if _, err := aiconnectors.ParseProvider(setup.Logkeeper.AssignedModel); err != nil {
		return &ConfigError{Reason: fmt.Sprintf("logkeeper %s: %v", setup.Logkeeper.Name, err)}
	}

	switch setup.MeetingParameters.SpeakerPolicy {
	case models.PolicyManager, models.PolicyRoundRobin, models.PolicyRandom:
	default:
		return &ConfigError{Reason: fmt.Sprintf("unknown speaker policy: %s", setup.MeetingParameters.SpeakerPolicy)}
	}

	switch setup.MeetingParameters.OnCharacterFailure {
	case models.FailureSkip, models.FailureTerminate:
	default:
		return &ConfigError{Reason: fmt.Sprintf("unknown failure policy: %s", setup.MeetingParameters.OnCharacterFailure)}
	}

	return nil
}
