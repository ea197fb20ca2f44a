package emotion

import (
	"fmt"
	"strings"

	"legion/pkg/entity"
)

// Cue renders a short textual description of an emotional state for prompt
// injection. It names only the axes far enough from neutral to matter, so
// a resting minion gets a near-empty cue.
func Cue(s entity.EmotionalState) string {
	var parts []string

	switch {
	case s.Valence > 0.4:
		parts = append(parts, "in a good mood")
	case s.Valence < -0.4:
		parts = append(parts, "in a sour mood")
	}

	switch {
	case s.Energy > 0.7:
		parts = append(parts, "energetic")
	case s.Energy < 0.3:
		parts = append(parts, "running low on energy")
	}

	if s.Stress > 0.6 {
		parts = append(parts, "under stress")
	}
	if s.Arousal > 0.5 {
		parts = append(parts, "keyed up")
	}
	if s.Curiosity > 0.6 {
		parts = append(parts, "very curious")
	}
	if s.Sociability > 0.6 {
		parts = append(parts, "chatty")
	}

	if len(parts) == 0 {
		return "You are feeling calm and neutral."
	}
	return fmt.Sprintf("You are currently %s.", strings.Join(parts, ", "))
}
