package conversation

import (
	"fmt"
	"strings"

	"github.com/aideepspeak/pkg/models"
)

// promptHistoryWindow is how many recent messages a character sees when
// composing a reply. The window is part of the prompt, so changing it
// invalidates cached responses.
const promptHistoryWindow = 12

// ConversationText renders messages as "Speaker: text" lines, the form every
// manager and character prompt embeds the history in.
func ConversationText(history []models.Message) string {
	lines := make([]string, 0, len(history))
	for _, msg := range history {
		lines = append(lines, fmt.Sprintf("%s: %s", msg.Speaker, msg.Text))
	}
	return strings.Join(lines, "\n")
}

// BuildCharacterPrompt renders the prompt one character answers for its turn.
// It is a pure function of the setup, the history window and the character;
// identical inputs must yield identical bytes or cache fingerprinting breaks.
func BuildCharacterPrompt(setup models.Setup, history []models.Message, c models.Character) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are %s, a %s.\n", c.Name, c.Position)
	if c.Role != "" {
		fmt.Fprintf(&b, "Role: %s.\n", c.Role)
	}
	if c.Persona != "" {
		fmt.Fprintf(&b, "Persona: %s\n", c.Persona)
	}

	if world := describeWorld(setup.WorldContext); world != "" {
		fmt.Fprintf(&b, "\nWorld: %s\n", world)
	}

	meeting := setup.MeetingContext
	if meeting.PurposeAndContext != "" {
		fmt.Fprintf(&b, "\nMeeting context: %s.\n", meeting.PurposeAndContext)
	}
	if len(meeting.RecentEvents) > 0 {
		fmt.Fprintf(&b, "Recent events: %s.\n", strings.Join(meeting.RecentEvents, "; "))
	}

	if window := ConversationText(lastMessages(history, promptHistoryWindow)); window != "" {
		fmt.Fprintf(&b, "\nConversation so far:\n%s\n", window)
	}

	b.WriteString("\nPlease respond in-character.")
	return b.String()
}

// BuildNominationPrompt asks the manager model to pick the next speaker.
func BuildNominationPrompt(history []models.Message, names []string) string {
	return fmt.Sprintf(
		"You are the 'group chat manager' AI.\n"+
			"Here is the conversation so far:\n"+
			"----------------------\n"+
			"%s\n"+
			"----------------------\n"+
			"Available characters: %s\n"+
			"Which single character should speak next? Return just the name (no explanation).",
		ConversationText(history), strings.Join(names, ", "))
}

// BuildGoalCheckPrompt asks the manager model whether the meeting goal is met.
func BuildGoalCheckPrompt(history []models.Message, goal string) string {
	return fmt.Sprintf(
		"Conversation so far:\n%s\n\n"+
			"Meeting goal: %s\n\n"+
			"Have we met the goal or purpose? Reply YES or NO.",
		ConversationText(history), goal)
}

// BuildClosingCheckPrompt asks the manager model whether a closing message is
// needed, and from whom.
func BuildClosingCheckPrompt(history []models.Message) string {
	return fmt.Sprintf(
		"Based on the conversation, do we need a final closing message to wrap up?\n"+
			"If yes, provide the EXACT name of who should speak. If no, just say 'NO'.\n\n"+
			"Conversation so far:\n%s\n",
		ConversationText(history))
}

// BuildClosingPrompt renders the final wrap-up request for the chosen speaker.
func BuildClosingPrompt(c models.Character) string {
	return fmt.Sprintf("You are %s. Please provide a final closing message for this meeting.", c.Name)
}

func describeWorld(w models.WorldContext) string {
	parts := make([]string, 0, 8)
	add := func(label, value string) {
		if value != "" {
			parts = append(parts, label+": "+value)
		}
	}
	add("Era", w.Era)
	add("Year", w.Year)
	add("Season", w.Season)
	add("Technology", w.TechnologicalLevel)
	add("Culture", w.CultureAndSociety)
	add("Religions", w.Religions)
	add("Magic and myths", w.MagicAndMyths)
	add("Political climate", w.PoliticalClimate)
	return strings.Join(parts, ". ")
}

func lastMessages(history []models.Message, n int) []models.Message {
	if len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}
