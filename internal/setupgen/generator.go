package setupgen

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/aideepspeak/internal/aiconnectors"
	"github.com/aideepspeak/internal/llm"
	"github.com/aideepspeak/internal/logging"
	"github.com/aideepspeak/pkg/models"
)

const (
	defaultVersion   = "2.0"
	defaultTurnLimit = 12
)

// ModelCaller is the slice of a model connector setup generation needs.
type ModelCaller interface {
	Call(ctx context.Context, prompt string) (string, models.Usage, error)
	GetModel() string
}

// Options tunes a Generator. Zero values fall back to defaults.
type Options struct {
	Version string     // stamped into generated setups
	OutDir  string     // where Save writes setup files
	Rand    *rand.Rand // source for per-character model assignment
}

// Generator produces complete conversation setups from a topic through a
// sequence of model calls: cast, world context, then meeting framing.
type Generator struct {
	caller  ModelCaller
	logger  *logging.MeetingLogger
	version string
	outDir  string
	rng     *rand.Rand
}

// New builds a Generator. The logger may be nil.
func New(caller ModelCaller, logger *logging.MeetingLogger, opts Options) *Generator {
	if opts.Version == "" {
		opts.Version = defaultVersion
	}
	if opts.OutDir == "" {
		opts.OutDir = "."
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	return &Generator{
		caller:  caller,
		logger:  logger,
		version: opts.Version,
		outDir:  opts.OutDir,
		rng:     opts.Rand,
	}
}

// Generate asks the model for characters, world context and meeting framing
// for the topic and assembles a runnable setup. Each character is assigned a
// provider drawn from the assignment pool.
func (g *Generator) Generate(ctx context.Context, topic string) (models.Setup, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return models.Setup{}, fmt.Errorf("a topic is required")
	}

	var totalTTFB float64

	var cast charactersPayload
	usage, err := g.ask(ctx, BuildCharactersPrompt(topic), &cast)
	if err != nil {
		return models.Setup{}, fmt.Errorf("generate characters: %w", err)
	}
	totalTTFB += usage.TTFBSeconds
	if len(cast.Characters) == 0 {
		return models.Setup{}, fmt.Errorf("generate characters: the model returned an empty cast")
	}

	var world worldPayload
	usage, err = g.ask(ctx, BuildWorldPrompt(topic), &world)
	if err != nil {
		return models.Setup{}, fmt.Errorf("generate world context: %w", err)
	}
	totalTTFB += usage.TTFBSeconds

	var meeting meetingPayload
	usage, err = g.ask(ctx, BuildMeetingPrompt(topic), &meeting)
	if err != nil {
		return models.Setup{}, fmt.Errorf("generate meeting setup: %w", err)
	}
	totalTTFB += usage.TTFBSeconds

	characters := make([]models.Character, 0, len(cast.Characters))
	for _, c := range cast.Characters {
		characters = append(characters, models.Character{
			Name:          strings.TrimSpace(c.Name),
			Position:      c.Position,
			Role:          c.Role,
			Hierarchy:     c.Hierarchy,
			AssignedModel: string(aiconnectors.RandomProvider(g.rng)),
		})
	}

	setup := models.Setup{
		ConversationID: uuid.NewString(),
		Version:        g.version,
		Name:           topic,
		Topic:          topic,
		Characters:     characters,
		WorldContext:   world.context(),
		MeetingContext: meeting.context(),
		MeetingParameters: models.MeetingParameters{
			TurnLimit:      defaultTurnLimit,
			GoalCheck:      true,
			ClosingMessage: true,
		},
		Logkeeper:      models.DefaultLogkeeper(),
		SimulationTime: formatSimulationTime(totalTTFB),
	}

	log.Debug().
		Str("conversation_id", setup.ConversationID).
		Str("topic", topic).
		Int("characters", len(characters)).
		Msg("Generated conversation setup")

	return setup, nil
}

// Save writes the setup as an indented JSON file and returns its path.
func (g *Generator) Save(setup models.Setup) (string, error) {
	name := fmt.Sprintf("setup_%s.json", time.Now().Format(models.FileTimeLayout))
	path := filepath.Join(g.outDir, name)

	data, err := json.MarshalIndent(setup, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal setup: %w", err)
	}
	if err := os.MkdirAll(g.outDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create directory %s: %w", g.outDir, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write setup file: %w", err)
	}

	log.Info().Str("path", path).Msg("Setup file written")
	return path, nil
}

// Load reads a setup file previously produced by Save or written by hand.
func Load(path string) (models.Setup, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.Setup{}, fmt.Errorf("failed to read setup file: %w", err)
	}

	var setup models.Setup
	if err := json.Unmarshal(data, &setup); err != nil {
		return models.Setup{}, fmt.Errorf("failed to parse setup file %s: %w", path, err)
	}
	return setup, nil
}

func (g *Generator) ask(ctx context.Context, prompt string, target interface{}) (models.Usage, error) {
	raw, usage, err := g.caller.Call(ctx, prompt)
	if err != nil {
		return models.Usage{}, err
	}
	if _, err := llm.ProcessModelResponse(raw, target, g.logger); err != nil {
		return usage, err
	}
	return usage, nil
}

func formatSimulationTime(seconds float64) string {
	return time.Duration(seconds * float64(time.Second)).Round(time.Millisecond).String()
}

// Wire shapes for the model's JSON replies. Decoding is tolerant where
// models are known to vary: bare strings for events, a string or list for
// religions, numbers where strings are expected, and a list or numbered map
// for the agenda.

type charactersPayload struct {
	Characters []struct {
		Name      string `json:"name"`
		Position  string `json:"position"`
		Role      string `json:"role"`
		Hierarchy int    `json:"hierarchy_level"`
	} `json:"characters"`
}

type worldPayload struct {
	World struct {
		Era                string      `json:"era"`
		Year               looseString `json:"year"`
		Season             string      `json:"season"`
		TechnologicalLevel string      `json:"technological_level"`
		CultureAndSociety  string      `json:"culture_and_society"`
		Religions          stringList  `json:"religions"`
		PoliticalClimate   string      `json:"political_climate"`
		MagicAndMyths      string      `json:"magic_and_myths"`
	} `json:"world_or_simulation_context"`
}

func (p worldPayload) context() models.WorldContext {
	w := p.World
	return models.WorldContext{
		Era:                w.Era,
		Year:               string(w.Year),
		Season:             w.Season,
		TechnologicalLevel: w.TechnologicalLevel,
		CultureAndSociety:  w.CultureAndSociety,
		Religions:          strings.Join(w.Religions, ", "),
		MagicAndMyths:      w.MagicAndMyths,
		PoliticalClimate:   w.PoliticalClimate,
	}
}

type meetingPayload struct {
	Meeting struct {
		Date                  looseString  `json:"date"`
		Time                  looseString  `json:"time"`
		Location              locationWire `json:"location"`
		RecentEvents          []eventWire  `json:"recent_events"`
		SummaryOfLastMeetings string       `json:"summary_of_last_meetings"`
		RoomSetup             roomWire     `json:"room_setup"`
		PurposeAndContext     purposeWire  `json:"purpose_and_context"`
		Goal                  goalWire     `json:"goal"`
		BriefingMaterials     briefingWire `json:"briefing_materials"`
		ProtocolReminder      protocolWire `json:"protocol_reminder"`
		OpeningMessage        openingWire  `json:"opening_message"`
		AgendaOutline         agendaWire   `json:"agenda_outline"`
	} `json:"meeting_setup"`
}

// TODO: ask for tags_keywords and category in the meeting prompt and map
// them here; MeetingContext already carries the fields.
func (p meetingPayload) context() models.MeetingContext {
	m := p.Meeting

	events := make([]string, 0, len(m.RecentEvents))
	for _, e := range m.RecentEvents {
		if e.EventDescription != "" {
			events = append(events, e.EventDescription)
		}
	}

	docs := make([]string, 0, len(m.BriefingMaterials.Documents))
	for _, d := range m.BriefingMaterials.Documents {
		switch {
		case d.Title != "" && d.Description != "":
			docs = append(docs, d.Title+": "+d.Description)
		case d.Title != "":
			docs = append(docs, d.Title)
		case d.Description != "":
			docs = append(docs, d.Description)
		}
	}

	protocol := append(m.ProtocolReminder.SpeakingOrder, m.ProtocolReminder.Customs...)

	return models.MeetingContext{
		Date:                  string(m.Date),
		Time:                  string(m.Time),
		Location:              m.Location.flatten(),
		RecentEvents:          events,
		SummaryOfLastMeetings: m.SummaryOfLastMeetings,
		RoomSetup:             m.RoomSetup.Description,
		PurposeAndContext:     m.PurposeAndContext.flatten(),
		Goal:                  strings.Join(m.Goal.Objectives, "; "),
		BriefingMaterials:     strings.Join(docs, "; "),
		ProtocolReminder:      strings.Join(protocol, "; "),
		OpeningMessage:        m.OpeningMessage.Message,
		AgendaOutline:         []string(m.AgendaOutline),
	}
}

type locationWire struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (l locationWire) flatten() string {
	switch {
	case l.Name != "" && l.Description != "":
		return l.Name + ". " + l.Description
	case l.Name != "":
		return l.Name
	default:
		return l.Description
	}
}

type eventWire struct {
	EventDescription string `json:"event_description"`
}

func (e *eventWire) UnmarshalJSON(data []byte) error {
	type alias eventWire
	var a alias
	if err := json.Unmarshal(data, &a); err == nil {
		*e = eventWire(a)
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("recent event: expected an object or string")
	}
	e.EventDescription = s
	return nil
}

type roomWire struct {
	Description string `json:"description"`
}

type purposeWire struct {
	Purpose string `json:"purpose"`
	Context string `json:"context"`
}

func (p purposeWire) flatten() string {
	switch {
	case p.Purpose != "" && p.Context != "":
		return p.Purpose + ". " + p.Context
	case p.Purpose != "":
		return p.Purpose
	default:
		return p.Context
	}
}

type goalWire struct {
	Objectives stringList `json:"objectives"`
}

type briefingWire struct {
	Documents []struct {
		Title       string `json:"title"`
		Description string `json:"description"`
	} `json:"documents"`
}

type protocolWire struct {
	SpeakingOrder stringList `json:"speaking_order"`
	Customs       stringList `json:"customs"`
}

type openingWire struct {
	Speaker string `json:"speaker"`
	Message string `json:"message"`
}

// agendaWire accepts the numbered-map form from the example prompt as well
// as a plain list, preserving numeric order for the map form.
type agendaWire []string

func (a *agendaWire) UnmarshalJSON(data []byte) error {
	var list stringList
	if err := json.Unmarshal(data, &list); err == nil {
		*a = agendaWire(list)
		return nil
	}

	var numbered map[string]string
	if err := json.Unmarshal(data, &numbered); err != nil {
		return fmt.Errorf("agenda outline: expected a list or numbered map")
	}

	keys := make([]string, 0, len(numbered))
	for k := range numbered {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		ni, errI := strconv.Atoi(keys[i])
		nj, errJ := strconv.Atoi(keys[j])
		if errI == nil && errJ == nil {
			return ni < nj
		}
		return keys[i] < keys[j]
	})

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, numbered[k])
	}
	*a = agendaWire(out)
	return nil
}

// looseString accepts JSON strings and bare numbers; models are not
// consistent about quoting years, dates and times.
type looseString string

func (s *looseString) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		*s = looseString(str)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		*s = looseString(n.String())
		return nil
	}
	return fmt.Errorf("expected a string or number")
}

// stringList accepts a JSON array of strings or a single string.
type stringList []string

func (l *stringList) UnmarshalJSON(data []byte) error {
	var many []string
	if err := json.Unmarshal(data, &many); err == nil {
		*l = many
		return nil
	}

	var one string
	if err := json.Unmarshal(data, &one); err != nil {
		return fmt.Errorf("expected a string or list of strings")
	}
	if one != "" {
		*l = []string{one}
	}
	return nil
}
