package setupgen

import "fmt"

const charactersExample = `{
  "characters": [
    {"name": "Khal", "position": "Queen", "role": "Ruler and final authority", "hierarchy_level": 1},
    {"name": "Tyrion Lann", "position": "Hand of the Queen", "role": "Chief advisor and strategist", "hierarchy_level": 2},
    {"name": "Blade", "position": "Master of Whisperers", "role": "Spymaster and intelligence gatherer", "hierarchy_level": 3}
  ]
}`

const worldExample = `{
  "world_or_simulation_context": {
    "era": "Medieval Fantasy",
    "year": "300 AC (After Conquest)",
    "season": "Late Summer",
    "technological_level": "Medieval with elements of magic",
    "culture_and_society": "Feudal society with noble houses, knights, and smallfolk",
    "religions": ["Faith of the Seven", "Old Gods of the Forest"],
    "political_climate": "Power struggles among noble families",
    "magic_and_myths": "Magic exists, with dragons and prophecies playing significant roles"
  }
}`

const meetingExample = `{
  "meeting_setup": {
    "date": "1234/11/23",
    "time": "15:00",
    "location": {"name": "The war room of the Red Keep", "description": "A circular chamber dominated by the painted table"},
    "recent_events": [
      {"event_description": "Enemy banners were sighted two days' ride from the city."},
      {"event_description": "The grain fleet from the south is overdue."}
    ],
    "summary_of_last_meetings": "Previous meetings focused on alliances and assessing military strength.",
    "room_setup": {"description": "Seats arranged in a circle to symbolize equal standing"},
    "purpose_and_context": {"purpose": "Agree on a defense strategy", "context": "The realm is under threat from several directions at once"},
    "goal": {"objectives": ["Agree on a defense strategy", "Assign responsibilities"]},
    "briefing_materials": {"documents": [{"title": "Military Readiness Report", "description": "Troop counts and supply levels"}]},
    "protocol_reminder": {"speaking_order": ["The chair opens the meeting", "Advisors speak in order of rank"], "customs": ["Wait for the chair before voicing opinions"]},
    "opening_message": {"speaker": "Khal", "message": "Esteemed members of the council, we gather under the shadow of uncertainty."},
    "agenda_outline": {"1": "Opening remarks", "2": "Threat assessment", "3": "Strategy discussion", "4": "Assignments and next steps"}
  }
}`

// BuildCharactersPrompt asks the model for the meeting's cast.
func BuildCharactersPrompt(topic string) string {
	return fmt.Sprintf(`Topic: %s
Please generate a list of 4-6 characters for this meeting/conversation.
For each character include:
- name
- position/title
- role/responsibility
- hierarchy level (1-10, where 1 is highest)

Example:
%s

Requirements: your response MUST be in JSON format`, topic, charactersExample)
}

// BuildWorldPrompt asks the model for the shared world context.
func BuildWorldPrompt(topic string) string {
	return fmt.Sprintf(`Topic: %s
Generate a detailed world context that includes:
- Current era/time period
- Year
- Season
- Technological level
- Culture and society
- Religions
- Political climate
- Magic and myths

Example:
%s

Requirements: your response MUST be in JSON format`, topic, worldExample)
}

// BuildMeetingPrompt asks the model for the meeting framing itself.
func BuildMeetingPrompt(topic string) string {
	return fmt.Sprintf(`Topic: %s
Generate meeting/conversation setup details including:
- Date and time
- Meeting location and its description
- Recent events leading to this meeting
- Summary of last meetings
- Room setup
- Meeting purpose and goals
- Briefing materials (documents, reports, etc.)
- Protocol, speaking order and customs
- Opening message and its speaker
- Agenda outline (briefly outline the order of discussions)

Example:
%s

Requirements: your response MUST be in JSON format, suitable for games and meeting session playback programs.`, topic, meetingExample)
}
