// Package emotion computes per-minion emotional state. The engine is pure:
// Update takes the current state plus an interaction summary and returns a
// new state, so the minion runtime stays the single writer of its own
// state. All axes are clamped to their documented bounds on every update.
package emotion

import "legion/pkg/entity"

// Interaction summarizes one completed exchange for state updates.
type Interaction struct {
	// Sentiment is the perceived tone of the exchange in [-1,1].
	Sentiment float64

	// Intensity is how demanding the exchange was, in [0,1].
	Intensity float64

	// Novelty is how unfamiliar the content was, in [0,1].
	Novelty float64

	// Addressed reports whether the minion was directly addressed.
	Addressed bool

	// Failed reports whether the minion's invocation failed.
	Failed bool
}

// Engine applies interaction updates and idle decay to emotional states.
type Engine struct {
	cfg Config
}

// Config holds the engine's update rates. Zero values take defaults.
type Config struct {
	MoodRate    float64 // how fast mood axes track the interaction (default 0.3)
	DecayRate   float64 // how fast axes drift back to baseline (default 0.1)
	EnergyCost  float64 // energy spent per turn (default 0.05)
	StressSpike float64 // stress added by a failed invocation (default 0.25)
}

func (c Config) withDefaults() Config {
	out := c
	if out.MoodRate == 0 {
		out.MoodRate = 0.3
	}
	if out.DecayRate == 0 {
		out.DecayRate = 0.1
	}
	if out.EnergyCost == 0 {
		out.EnergyCost = 0.05
	}
	if out.StressSpike == 0 {
		out.StressSpike = 0.25
	}
	return out
}

// New creates an Engine.
func New(cfg Config) *Engine {
	return &Engine{cfg: cfg.withDefaults()}
}

// Baseline is the neutral resting state new minions start from.
func Baseline() entity.EmotionalState {
	return entity.EmotionalState{
		Curiosity:   0.3,
		Sociability: 0.3,
		Energy:      0.8,
		Stress:      0.1,
	}
}

// Update returns the state after one interaction. The input state is not
// modified.
func (e *Engine) Update(s entity.EmotionalState, in Interaction) entity.EmotionalState {
	rate := e.cfg.MoodRate

	s.Valence += rate * (in.Sentiment - s.Valence)
	s.Arousal += rate * (in.Intensity - s.Arousal)
	s.Curiosity += rate * (in.Novelty - s.Curiosity)
	s.Creativity += rate * in.Novelty * 0.5

	if in.Addressed {
		s.Sociability += rate * (1 - s.Sociability)
		s.Dominance += rate * 0.2
	} else {
		s.Sociability -= e.cfg.DecayRate * s.Sociability
	}

	s.Energy -= e.cfg.EnergyCost * (1 + in.Intensity)

	if in.Failed {
		s.Stress += e.cfg.StressSpike
		s.Valence -= rate * 0.5
		s.Dominance -= rate * 0.3
	} else {
		s.Stress -= e.cfg.DecayRate * s.Stress
	}

	return clamp(s)
}

// Decay drifts a state toward the baseline by one idle step.
func (e *Engine) Decay(s entity.EmotionalState) entity.EmotionalState {
	base := Baseline()
	r := e.cfg.DecayRate

	s.Valence += r * (base.Valence - s.Valence)
	s.Arousal += r * (base.Arousal - s.Arousal)
	s.Dominance += r * (base.Dominance - s.Dominance)
	s.Curiosity += r * (base.Curiosity - s.Curiosity)
	s.Creativity += r * (base.Creativity - s.Creativity)
	s.Sociability += r * (base.Sociability - s.Sociability)
	s.Energy += r * (base.Energy - s.Energy)
	s.Stress += r * (base.Stress - s.Stress)

	return clamp(s)
}

// clamp bounds mood axes to [-1,1] and energy/stress to [0,1].
func clamp(s entity.EmotionalState) entity.EmotionalState {
	s.Valence = clampRange(s.Valence, -1, 1)
	s.Arousal = clampRange(s.Arousal, -1, 1)
	s.Dominance = clampRange(s.Dominance, -1, 1)
	s.Curiosity = clampRange(s.Curiosity, -1, 1)
	s.Creativity = clampRange(s.Creativity, -1, 1)
	s.Sociability = clampRange(s.Sociability, -1, 1)
	s.Energy = clampRange(s.Energy, 0, 1)
	s.Stress = clampRange(s.Stress, 0, 1)
	return s
}

func clampRange(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
