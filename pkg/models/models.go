package models

import (
	"strings"
	"time"
)

// Timestamp layouts used in transcripts and log file names
const (
	TimeLayout     = "2006-01-02 15:04:05"
	FileTimeLayout = "20060102_150405"
)

// Speaker policy values for MeetingParameters.SpeakerPolicy
const (
	PolicyManager    = "manager"
	PolicyRoundRobin = "round_robin"
	PolicyRandom     = "random"
)

// Failure policy values for MeetingParameters.OnCharacterFailure
const (
	FailureSkip      = "skip"
	FailureTerminate = "terminate"
)

// Setup and character models

// ModelParams holds the sampling knobs for one character's model.
// Zero values mean "provider default"; MaxTokens caps output length.
type ModelParams struct {
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	TopP        float64 `json:"top_p,omitempty"`
	TopK        int     `json:"top_k,omitempty"`
	Model       string  `json:"model,omitempty"`
}

// Character represents one participant: a persona bound to a model backend
type Character struct {
	Name          string      `json:"name"`
	Position      string      `json:"position"`
	Role          string      `json:"role,omitempty"`
	Hierarchy     int         `json:"hierarchy,omitempty"`
	Persona       string      `json:"persona,omitempty"`
	AssignedModel string      `json:"assigned_model"`
	ModelParams   ModelParams `json:"model_params,omitempty"`
}

// WorldContext describes the shared setting injected into every prompt
type WorldContext struct {
	Era                string `json:"era,omitempty"`
	Year               string `json:"year,omitempty"`
	Season             string `json:"season,omitempty"`
	TechnologicalLevel string `json:"technological_level,omitempty"`
	CultureAndSociety  string `json:"culture_and_society,omitempty"`
	Religions          string `json:"religions,omitempty"`
	MagicAndMyths      string `json:"magic_and_myths,omitempty"`
	PoliticalClimate   string `json:"political_climate,omitempty"`
}

// MeetingContext carries the situational framing for one meeting
type MeetingContext struct {
	Date                  string   `json:"date,omitempty"`
	Time                  string   `json:"time,omitempty"`
	Location              string   `json:"location,omitempty"`
	RecentEvents          []string `json:"recent_events,omitempty"`
	SummaryOfLastMeetings string   `json:"summary_of_last_meetings,omitempty"`
	TagsKeywords          []string `json:"tags_keywords,omitempty"`
	Category              string   `json:"category,omitempty"`
	RoomSetup             string   `json:"room_setup,omitempty"`
	PurposeAndContext     string   `json:"purpose_and_context,omitempty"`
	Goal                  string   `json:"goal,omitempty"`
	BriefingMaterials     string   `json:"briefing_materials,omitempty"`
	ProtocolReminder      string   `json:"protocol_reminder,omitempty"`
	OpeningMessage        string   `json:"opening_message,omitempty"`
	AgendaOutline         []string `json:"agenda_outline,omitempty"`
}

// MeetingParameters controls turn scheduling and termination. Immutable
// for the lifetime of a run.
type MeetingParameters struct {
	TurnLimit            int    `json:"turn_limit"`
	MaxTurnsPerCharacter int    `json:"max_turns_per_character,omitempty"`
	SpeakerPolicy        string `json:"speaker_policy,omitempty"`
	MaxWords             int    `json:"max_words,omitempty"`
	MaxReadingMinutes    int    `json:"max_reading_minutes,omitempty"`
	WordsPerMinute       int    `json:"words_per_minute,omitempty"`
	GoalCheck            bool   `json:"goal_check,omitempty"`
	StopPhrase           string `json:"stop_phrase,omitempty"`
	OnCharacterFailure   string `json:"on_character_failure,omitempty"`
	ClosingMessage       bool   `json:"closing_message,omitempty"`
}

// LoggingConfig controls where a run writes its transcript and log files
type LoggingConfig struct {
	Dir   string `json:"dir,omitempty"`
	Debug bool   `json:"debug,omitempty"`
}

// Setup is the read-only aggregate that fully describes one conversation
type Setup struct {
	ConversationID    string            `json:"conversation_id"`
	Version           string            `json:"version"`
	Name              string            `json:"name,omitempty"`
	Topic             string            `json:"topic,omitempty"`
	Characters        []Character       `json:"characters"`
	WorldContext      WorldContext      `json:"world_context"`
	MeetingContext    MeetingContext    `json:"meeting_context"`
	MeetingParameters MeetingParameters `json:"meeting_parameters"`
	Logkeeper         Character         `json:"logkeeper"`
	SimulationTime    string            `json:"simulation_time,omitempty"`
	Logging           LoggingConfig     `json:"logging,omitempty"`
}

// DefaultLogkeeper returns the record-keeper character used when a setup
// does not declare its own.
func DefaultLogkeeper() Character {
	return Character{
		Name:          "The Logkeeper",
		Position:      "Logkeeper",
		Persona:       "A meticulous, neutral record keeper who moderates the meeting and never takes sides.",
		AssignedModel: "openai-gpt",
	}
}

// Transcript models

// Usage carries the token accounting for one model call
type Usage struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	TTFBSeconds      float64 `json:"ttfb_seconds,omitempty"`
	Model            string  `json:"model,omitempty"`
}

// Add accumulates another call's counters into u. TTFB is per-call and is
// left untouched.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// Message is one turn's contribution to a transcript. Append-only; the
// turn index is assigned by the scheduler and never reused.
type Message struct {
	Speaker   string `json:"speaker"`
	TurnIndex int    `json:"turn_index"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
	Usage     Usage  `json:"usage,omitempty"`
	CacheHit  bool   `json:"cache_hit,omitempty"`
	System    bool   `json:"system,omitempty"`
}

// WordCount reports the whitespace-delimited word count of the message text
func (m Message) WordCount() int {
	return len(strings.Fields(m.Text))
}

// Summary is the closing block persisted with every transcript
type Summary struct {
	TotalTurns        int              `json:"total_turns"`
	TotalUsage        Usage            `json:"total_usage"`
	PerCharacter      map[string]Usage `json:"per_character"`
	TerminationReason string           `json:"termination_reason"`
}

// Transcript is the ordered, append-only record of one conversation run
type Transcript struct {
	ConversationID string    `json:"conversation_id"`
	Name           string    `json:"name,omitempty"`
	Messages       []Message `json:"messages"`
	Summary        Summary   `json:"summary"`
}

// Archive models

// MeetingRecord is a completed meeting as stored in the archive
type MeetingRecord struct {
	ID         string     `json:"id" db:"id"`
	Name       string     `json:"name" db:"name"`
	Setup      Setup      `json:"setup" db:"setup"`
	Transcript Transcript `json:"transcript" db:"transcript"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}

// Now returns the current time formatted with TimeLayout
func Now() string {
	return time.Now().Format(TimeLayout)
}
