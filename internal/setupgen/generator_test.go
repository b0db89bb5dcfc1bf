package setupgen

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aideepspeak/internal/aiconnectors"
	"github.com/aideepspeak/pkg/models"
)

const charactersReply = "Here is the cast you asked for:\n```json\n" + `{
  "characters": [
    {"name": " Aria ", "position": "Strategist", "role": "Leads the planning", "hierarchy_level": 1},
    {"name": "Brom", "position": "Quartermaster", "role": "Keeps the stores", "hierarchy_level": 2},
    {"name": "Cara", "position": "Harbormaster", "role": "Commands the docks", "hierarchy_level": 3},
    {"name": "Doran", "position": "Envoy", "role": "Speaks for the allies", "hierarchy_level": 4}
  ]
}` + "\n```"

const worldReply = `{
  "world_or_simulation_context": {
    "era": "Late bronze age",
    "year": 1177,
    "season": "Storm season",
    "technological_level": "Sail and oar",
    "culture_and_society": "City states bound by trade",
    "religions": ["The Tides", "The Forge Cult"],
    "political_climate": "Uneasy alliances",
    "magic_and_myths": "Omens are read in the waves"
  }
}`

const meetingReply = `{
  "meeting_setup": {
    "date": "Year 3, day 112",
    "time": "15:00",
    "location": {"name": "The harbor fort", "description": "A squat tower overlooking the quays"},
    "recent_events": [
      {"event_description": "Raiders sighted offshore"},
      "The grain fleet is late"
    ],
    "summary_of_last_meetings": "Alliances were weighed and found wanting.",
    "room_setup": {"description": "A round table of salvaged ship timber"},
    "purpose_and_context": {"purpose": "Agree on a defense plan", "context": "The city cannot survive a blockade"},
    "goal": {"objectives": ["Agree on a defense plan", "Assign the watch"]},
    "briefing_materials": {"documents": [{"title": "Fleet Report", "description": "Hulls fit for battle"}]},
    "protocol_reminder": {"speaking_order": ["The strategist opens"], "customs": ["No blades at the table"]},
    "opening_message": {"speaker": "Aria", "message": "The sea brought us wealth. Today it brings war."},
    "agenda_outline": {"2": "Threat assessment", "1": "Opening remarks", "3": "Assignments"}
  }
}`

// setupCaller answers each generation stage with a canned reply.
type setupCaller struct {
	calls int
	fail  map[string]error
}

func (c *setupCaller) Call(ctx context.Context, prompt string) (string, models.Usage, error) {
	c.calls++
	usage := models.Usage{PromptTokens: 40, CompletionTokens: 80, TotalTokens: 120, TTFBSeconds: 0.5}

	switch {
	case strings.Contains(prompt, "list of 4-6 characters"):
		if err := c.fail["characters"]; err != nil {
			return "", models.Usage{}, err
		}
		return charactersReply, usage, nil
	case strings.Contains(prompt, "detailed world context"):
		if err := c.fail["world"]; err != nil {
			return "", models.Usage{}, err
		}
		return worldReply, usage, nil
	case strings.Contains(prompt, "meeting/conversation setup details"):
		if err := c.fail["meeting"]; err != nil {
			return "", models.Usage{}, err
		}
		return meetingReply, usage, nil
	}
	return "", models.Usage{}, errors.New("unexpected prompt")
}

func (c *setupCaller) GetModel() string { return "gpt-4o" }

func testGenerator(caller ModelCaller, dir string) *Generator {
	return New(caller, nil, Options{OutDir: dir, Rand: rand.New(rand.NewSource(7))})
}

func TestGenerateComposesSetup(t *testing.T) {
	caller := &setupCaller{}
	gen := testGenerator(caller, t.TempDir())

	setup, err := gen.Generate(context.Background(), "Defending the harbor")
	require.NoError(t, err)
	assert.Equal(t, 3, caller.calls)

	_, err = uuid.Parse(setup.ConversationID)
	assert.NoError(t, err, "the conversation id is a generated uuid")
	assert.Equal(t, "2.0", setup.Version)
	assert.Equal(t, "Defending the harbor", setup.Topic)
	assert.Equal(t, "Defending the harbor", setup.Name)
	assert.Equal(t, "1.5s", setup.SimulationTime)

	require.Len(t, setup.Characters, 4)
	assert.Equal(t, "Aria", setup.Characters[0].Name, "names are trimmed")
	assert.Equal(t, "Strategist", setup.Characters[0].Position)
	assert.Equal(t, 1, setup.Characters[0].Hierarchy)
	for _, c := range setup.Characters {
		_, err := aiconnectors.ParseProvider(c.AssignedModel)
		assert.NoError(t, err, "character %s got model %q outside the pool", c.Name, c.AssignedModel)
	}

	assert.Equal(t, "Late bronze age", setup.WorldContext.Era)
	assert.Equal(t, "1177", setup.WorldContext.Year, "a bare number year is accepted")
	assert.Equal(t, "The Tides, The Forge Cult", setup.WorldContext.Religions)

	meeting := setup.MeetingContext
	assert.Equal(t, "Year 3, day 112", meeting.Date)
	assert.Equal(t, "The harbor fort. A squat tower overlooking the quays", meeting.Location)
	assert.Equal(t, []string{"Raiders sighted offshore", "The grain fleet is late"}, meeting.RecentEvents,
		"object and bare-string events both decode")
	assert.Equal(t, "A round table of salvaged ship timber", meeting.RoomSetup)
	assert.Equal(t, "Agree on a defense plan. The city cannot survive a blockade", meeting.PurposeAndContext)
	assert.Equal(t, "Agree on a defense plan; Assign the watch", meeting.Goal)
	assert.Equal(t, "Fleet Report: Hulls fit for battle", meeting.BriefingMaterials)
	assert.Equal(t, "The strategist opens; No blades at the table", meeting.ProtocolReminder)
	assert.Equal(t, "The sea brought us wealth. Today it brings war.", meeting.OpeningMessage)
	assert.Equal(t, []string{"Opening remarks", "Threat assessment", "Assignments"}, meeting.AgendaOutline,
		"the numbered agenda map is ordered numerically")

	assert.Equal(t, "The Logkeeper", setup.Logkeeper.Name)
	assert.Equal(t, defaultTurnLimit, setup.MeetingParameters.TurnLimit)
	assert.True(t, setup.MeetingParameters.GoalCheck)
	assert.True(t, setup.MeetingParameters.ClosingMessage)
}

func TestGenerateRequiresTopic(t *testing.T) {
	gen := testGenerator(&setupCaller{}, t.TempDir())

	_, err := gen.Generate(context.Background(), "   ")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "topic is required")
}

func TestGenerateRejectsEmptyCast(t *testing.T) {
	caller := &setupCaller{}
	gen := testGenerator(caller, t.TempDir())

	withEmptyCast := func(ctx context.Context, prompt string) (string, models.Usage, error) {
		if strings.Contains(prompt, "list of 4-6 characters") {
			return `{"characters": []}`, models.Usage{}, nil
		}
		return caller.Call(ctx, prompt)
	}

	_, err := New(callerFunc(withEmptyCast), nil, Options{Rand: rand.New(rand.NewSource(1))}).
		Generate(context.Background(), "Defending the harbor")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty cast")
}

func TestGenerateSurfacesStageErrors(t *testing.T) {
	tests := []struct {
		stage  string
		prefix string
	}{
		{"characters", "generate characters"},
		{"world", "generate world context"},
		{"meeting", "generate meeting setup"},
	}

	for _, tt := range tests {
		t.Run(tt.stage, func(t *testing.T) {
			caller := &setupCaller{fail: map[string]error{tt.stage: errors.New("provider down")}}
			gen := testGenerator(caller, t.TempDir())

			_, err := gen.Generate(context.Background(), "Defending the harbor")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.prefix)
			assert.Contains(t, err.Error(), "provider down")
		})
	}
}

func TestGenerateRejectsUnparseableReply(t *testing.T) {
	broken := func(ctx context.Context, prompt string) (string, models.Usage, error) {
		return "I would rather not answer in JSON today.", models.Usage{}, nil
	}

	_, err := New(callerFunc(broken), nil, Options{Rand: rand.New(rand.NewSource(1))}).
		Generate(context.Background(), "Defending the harbor")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "generate characters")
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	gen := testGenerator(&setupCaller{}, dir)

	setup, err := gen.Generate(context.Background(), "Defending the harbor")
	require.NoError(t, err)

	path, err := gen.Save(setup)
	require.NoError(t, err)
	assert.Contains(t, path, "setup_")

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, setup, loaded)
}

func TestLoadRejectsBrokenFile(t *testing.T) {
	_, err := Load("does-not-exist.json")
	require.Error(t, err)
}

func TestAgendaWireForms(t *testing.T) {
	var fromList agendaWire
	require.NoError(t, json.Unmarshal([]byte(`["a", "b"]`), &fromList))
	assert.Equal(t, agendaWire{"a", "b"}, fromList)

	var fromMap agendaWire
	require.NoError(t, json.Unmarshal([]byte(`{"10": "last", "2": "second", "1": "first"}`), &fromMap))
	assert.Equal(t, agendaWire{"first", "second", "last"}, fromMap,
		"numeric keys sort numerically, not lexically")

	var bad agendaWire
	assert.Error(t, json.Unmarshal([]byte(`42`), &bad))
}

func TestStringListForms(t *testing.T) {
	var fromList stringList
	require.NoError(t, json.Unmarshal([]byte(`["x", "y"]`), &fromList))
	assert.Equal(t, stringList{"x", "y"}, fromList)

	var fromString stringList
	require.NoError(t, json.Unmarshal([]byte(`"solo"`), &fromString))
	assert.Equal(t, stringList{"solo"}, fromString)

	var fromEmpty stringList
	require.NoError(t, json.Unmarshal([]byte(`""`), &fromEmpty))
	assert.Empty(t, fromEmpty)
}

// callerFunc adapts a function to the ModelCaller seam.
type callerFunc func(ctx context.Context, prompt string) (string, models.Usage, error)

func (f callerFunc) Call(ctx context.Context, prompt string) (string, models.Usage, error) {
	return f(ctx, prompt)
}

func (f callerFunc) GetModel() string { return "gpt-4o" }
