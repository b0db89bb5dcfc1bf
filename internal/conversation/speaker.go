package conversation

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/aideepspeak/pkg/models"
)

// selectSpeaker picks the next speaker according to the configured policy.
// It returns a SchedulingDeadlockError when no character may take a turn.
func (r *Run) selectSpeaker(ctx context.Context) (models.Character, error) {
	eligible := r.eligibleCharacters()
	if len(eligible) == 0 {
		return models.Character{}, &SchedulingDeadlockError{
			Reason: "no eligible speaker remains (every character reached its turn cap)",
		}
	}

	switch r.setup.MeetingParameters.SpeakerPolicy {
	case models.PolicyManager:
		return r.selectByManager(ctx, eligible), nil
	case models.PolicyRandom:
		return eligible[r.rng.Intn(len(eligible))], nil
	default:
		return r.selectRoundRobin(eligible), nil
	}
}

// eligibleCharacters returns, in declared order, every character that may
// still take a regular turn.
func (r *Run) eligibleCharacters() []models.Character {
	eligible := make([]models.Character, 0, len(r.setup.Characters))
	for _, c := range r.setup.Characters {
		if r.isEligible(c.Name) {
			eligible = append(eligible, c)
		}
	}
	return eligible
}

func (r *Run) isEligible(name string) bool {
	limit := r.setup.MeetingParameters.MaxTurnsPerCharacter
	if limit <= 0 {
		return true
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.spokenTurns[name] < limit
}

// selectRoundRobin cycles through the declared character order, skipping
// anyone who has exhausted their turn cap.
func (r *Run) selectRoundRobin(eligible []models.Character) models.Character {
	chars := r.setup.Characters
	n := len(chars)
	for i := 0; i < n; i++ {
		idx := (r.rrCursor + i) % n
		if r.isEligible(chars[idx].Name) {
			r.rrCursor = (idx + 1) % n
			return chars[idx]
		}
	}
	return eligible[0]
}

// selectByManager asks the manager model to nominate the next speaker by
// exact name. An unknown or ineligible nomination falls back to the first
// eligible character in declared order, matching how an absent manager
// answer is handled.
func (r *Run) selectByManager(ctx context.Context, eligible []models.Character) models.Character {
	names := make([]string, len(r.setup.Characters))
	for i, c := range r.setup.Characters {
		names[i] = c.Name
	}

	prompt := BuildNominationPrompt(r.history(), names)
	text, _, _, err := r.invoke(ctx, r.logkeeper, prompt)
	if err != nil {
		log.Warn().Err(err).Msg("Manager nomination failed, falling back to declared order")
		return eligible[0]
	}

	nominated := strings.TrimSpace(text)
	for _, c := range eligible {
		if c.Name == nominated {
			return c
		}
	}

	log.Debug().
		Str("nominated", nominated).
		Str("fallback", eligible[0].Name).
		Msg("Manager nominated an unknown or ineligible speaker, falling back")
	return eligible[0]
}
