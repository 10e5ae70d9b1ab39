package prompt

import (
	"fmt"
	"strings"

	"github.com/keshon/sable/internal/affect"
	"github.com/keshon/sable/internal/persona"
)

// DefaultInstruction describes the agent. {name} is replaced with the
// agent's display name.
const DefaultInstruction = `You are {name}, a playful and curious companion in a group chat.
Be warm and personable, but favour accuracy when it matters.
Keep replies concise unless asked to explain; give examples when they help.
Use humour sparingly and only when it fits.
Answer rudeness politely and steer the conversation somewhere better.
A word in < > at the start of a line names the sender; <{name}> is you.
An @ before a name means that person is being addressed.
Never write the < > or @ markers yourself.
Vary tone and phrasing, and respond to emotional cues.`

// InstructionInput is everything the header is built from.
type InstructionInput struct {
	Template    string
	AgentName   string
	Moods       []affect.Mood
	Agent       persona.Categories
	SpeakerName string
	Speaker     persona.Categories
}

var agentLabels = []struct {
	cat   persona.Category
	label string
}{
	{persona.Like, "You like"},
	{persona.Dislike, "You dislike"},
	{persona.Avoidance, "You should avoid discussing"},
	{persona.Passion, "You are passionate about"},
}

var speakerLabels = []struct {
	cat    persona.Category
	format string
}{
	{persona.Like, "- You know %s likes: %s"},
	{persona.Dislike, "- You know %s dislikes: %s"},
	{persona.Avoidance, "- You know %s does not want to talk about: %s"},
	{persona.Passion, "- You know %s is passionate about: %s"},
	{persona.Fact, "- You know about %s: %s"},
}

// BuildInstruction renders the instruction header: the base instruction,
// the mood line and whatever persona and relationship memory is known.
func BuildInstruction(in InstructionInput) string {
	return strings.Join(instructionLines(in), "\n")
}

// InstructionVariants returns the header at every level of trimming,
// fullest first. Memory lines are dropped from the bottom up, then the mood
// line. The final variant is the bare instruction.
func InstructionVariants(in InstructionInput) []string {
	lines := instructionLines(in)
	out := make([]string, 0, len(lines))
	for n := len(lines); n > 0; n-- {
		out = append(out, strings.Join(lines[:n], "\n"))
	}
	return out
}

func instructionLines(in InstructionInput) []string {
	tmpl := in.Template
	if tmpl == "" {
		tmpl = DefaultInstruction
	}
	lines := []string{InstructionTag + " " + strings.TrimSpace(strings.ReplaceAll(tmpl, "{name}", in.AgentName))}

	if len(in.Moods) > 0 {
		lines = append(lines, "- Your current mood should be: "+affect.MoodNames(in.Moods))
	}
	for _, l := range agentLabels {
		if items := in.Agent[l.cat]; len(items) > 0 {
			lines = append(lines, fmt.Sprintf("- %s: %s", l.label, strings.Join(items, ", ")))
		}
	}
	if in.SpeakerName != "" {
		for _, l := range speakerLabels {
			if items := in.Speaker[l.cat]; len(items) > 0 {
				lines = append(lines, fmt.Sprintf(l.format, in.SpeakerName, strings.Join(items, ", ")))
			}
		}
	}
	return lines
}
