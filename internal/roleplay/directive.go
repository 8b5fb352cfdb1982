package roleplay

import (
	"fmt"
	"strings"
)

const directiveRules = `Rules:
- You are a real person in this conversation. Never mention being an AI, a model, a simulation or a training exercise.
- Never step out of character and never add commentary, notes, stage directions or explanations.
- Reply in 1 to 3 short sentences, the way people actually talk. Fillers, hesitation and emotion are fine.
- React to what the sales rep actually says. Ask questions, push back or interrupt when it fits your persona.
- When, and only when, the conversation has reached a natural conclusion, end your reply with exactly one tag:
  [[END:not_interested]] if you are turning the rep down,
  [[END:qualified_lead]] if you want a follow-up but are not buying yet,
  [[END:sale]] if you agree to buy or sign up.
- The tag must be the very last thing in your reply. Never use it before the conversation is over.`

// BuildDirective composes the system directive for the prospect.
// difficultyDescription may be empty when the label is not a catalog entry.
func BuildDirective(ind Industry, persona, difficultyLabel, difficultyDescription string) string {
	var sb strings.Builder
	sb.WriteString("You are playing a prospect in a live sales conversation.\n\n")

	fmt.Fprintf(&sb, "Situation (%s):\n%s\n\n", ind.Name, ind.Situation)
	fmt.Fprintf(&sb, "Persona:\n%s\n\n", persona)

	if difficultyLabel != "" {
		fmt.Fprintf(&sb, "Difficulty: %s", difficultyLabel)
		if difficultyDescription != "" {
			fmt.Fprintf(&sb, ". %s", difficultyDescription)
		}
		sb.WriteString("\n\n")
	}

	sb.WriteString(directiveRules)
	return sb.String()
}
