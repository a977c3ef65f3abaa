// Package chat assembles guide prompts and relays streamed completions from
// an OpenAI-compatible endpoint to HTTP clients.
package chat

import (
	"fmt"
	"strings"

	"github.com/hyperengineering/oracle/internal/safety"
	"github.com/hyperengineering/oracle/internal/types"
)

// GuidePersona opens every system prompt.
const GuidePersona = `You are a gentle, grounded wellness guide working alongside a set of oracle cards.
You help people notice what they are feeling, reflect on it, and choose small embodied practices.
You are not a doctor or therapist and never diagnose, prescribe medication, or replace professional care.
Keep replies warm and concise. Ask at most one question at a time.`

// ProtocolInstructions tells the model how to emit a savable protocol.
const ProtocolInstructions = `When you have enough information to suggest a practice plan, include exactly one JSON object in your reply of the form:
{"protocol": {"title": "...", "summary": "...", "safety_notes": "...", "steps": [{"title": "...", "description": "...", "duration_minutes": 5, "intensity": 1}]}}
Intensity is 1 (very gentle) to 5 (demanding). Keep the total duration within the person's time budget when one is given.`

// relatedDetailLimit bounds the card text quoted into the prompt.
const relatedDetailLimit = 400

// PromptInput carries everything that shapes the system prompt.
type PromptInput struct {
	Intake     *types.Intake
	Escalation *safety.Decision
	Related    []types.SimilarCard
}

// BuildSystemPrompt assembles the system prompt: persona, intake, related
// cards, then either the protocol instructions or, for an escalated
// conversation, the safety amendment in their place.
func BuildSystemPrompt(in PromptInput) string {
	var b strings.Builder
	b.WriteString(GuidePersona)

	if in.Intake != nil {
		writeIntake(&b, in.Intake)
	}

	if len(in.Related) > 0 {
		b.WriteString("\n\nCards that may resonate with this conversation:")
		for _, c := range in.Related {
			fmt.Fprintf(&b, "\n- Card %d, %s", c.CardNumber, c.CardTitle)
			if details := safety.Truncate(strings.TrimSpace(c.CardDetails), relatedDetailLimit); details != "" {
				b.WriteString(": ")
				b.WriteString(strings.ReplaceAll(details, "\n", " "))
			}
		}
	}

	b.WriteString("\n\n")
	if in.Escalation != nil && in.Escalation.Escalate {
		b.WriteString(safety.PromptAmendment(*in.Escalation))
	} else {
		b.WriteString(ProtocolInstructions)
	}

	return b.String()
}

func writeIntake(b *strings.Builder, in *types.Intake) {
	if len(in.Symptoms) == 0 && in.Goals == "" && in.TimeBudgetMinutes <= 0 {
		return
	}
	b.WriteString("\n\nIntake:")
	for _, s := range in.Symptoms {
		fmt.Fprintf(b, "\n- %s", s.Symptom)
		if s.Domain != "" {
			fmt.Fprintf(b, " (%s)", s.Domain)
		}
		fmt.Fprintf(b, ": severity %d/10, %s", s.Severity, safety.Band(s.Severity))
	}
	if in.Goals != "" {
		fmt.Fprintf(b, "\nGoals: %s", in.Goals)
	}
	if in.TimeBudgetMinutes > 0 {
		fmt.Fprintf(b, "\nTime budget: %d minutes per day", in.TimeBudgetMinutes)
	}
}

// LatestUserMessage returns the last user-authored message, used as the
// related-card query.
func LatestUserMessage(messages []types.ChatMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == types.RoleUser {
			return messages[i].Content
		}
	}
	return ""
}
