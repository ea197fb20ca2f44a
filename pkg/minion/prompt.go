package minion

import (
	"fmt"
	"strings"

	"legion/pkg/emotion"
	"legion/pkg/entity"
)

// BuildSystemPrompt assembles the invocation context: persona instruction
// text, the emotional cue, and the memory cues. Empty cues are omitted.
func BuildSystemPrompt(p entity.Persona, es entity.EmotionalState, recentCue, recallCue string) string {
	var sections []string

	sections = append(sections, fmt.Sprintf("You are %s. %s", p.Name, p.Personality))
	if len(p.Quirks) > 0 {
		sections = append(sections, "Quirks: "+strings.Join(p.Quirks, "; "))
	}
	if len(p.Tools) > 0 {
		sections = append(sections, "You may use these tools: "+strings.Join(p.Tools, ", "))
	}

	sections = append(sections, emotion.Cue(es))

	if recentCue != "" {
		sections = append(sections, recentCue)
	}
	if recallCue != "" {
		sections = append(sections, recallCue)
	}

	sections = append(sections,
		"Respond in character with a single conversational message. Keep it brief.")

	return strings.Join(sections, "\n\n")
}

// positiveWords and negativeWords drive the naive sentiment heuristic used
// to derive emotional interactions from message text. Good enough for mood
// drift; not a classifier.
var positiveWords = []string{"thanks", "great", "love", "nice", "awesome", "good", "well done", "perfect"}

var negativeWords = []string{"wrong", "bad", "hate", "terrible", "broken", "stupid", "useless", "fail"}

// sentimentOf estimates the tone of a message in [-1,1].
func sentimentOf(content string) float64 {
	lower := strings.ToLower(content)
	score := 0.0
	for _, w := range positiveWords {
		if strings.Contains(lower, w) {
			score += 0.4
		}
	}
	for _, w := range negativeWords {
		if strings.Contains(lower, w) {
			score -= 0.4
		}
	}
	if score > 1 {
		return 1
	}
	if score < -1 {
		return -1
	}
	return score
}

// intensityOf estimates how demanding a message is in [0,1] from its
// length and emphasis.
func intensityOf(content string) float64 {
	v := float64(len(content)) / 400
	if strings.Contains(content, "!") {
		v += 0.2
	}
	if strings.Contains(content, "?") {
		v += 0.1
	}
	if v > 1 {
		return 1
	}
	return v
}

// noveltyOf estimates how unfamiliar the produced reply was in [0,1].
// Longer replies suggest the minion had more new ground to cover.
func noveltyOf(reply string) float64 {
	v := float64(len(reply)) / 600
	if v > 1 {
		return 1
	}
	return v
}
