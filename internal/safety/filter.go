// Package safety decides whether a conversation should be treated as a
// safety escalation and describes symptom severity for prompt context.
//
// The filter never blocks a request. An escalation only changes the prompt
// sent to the model and produces an audit event.
package safety

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hyperengineering/oracle/internal/types"
)

// Severity thresholds. CriticalFrom is the lower bound of the "critical"
// band; HardSeverity triggers escalation. They are tuned independently.
const (
	CriticalFrom        = 8
	DefaultHardSeverity = 9
)

// Band names for symptom severity.
const (
	BandMild     = "mild"
	BandModerate = "moderate"
	BandSevere   = "severe"
	BandCritical = "critical"
)

// ActionSoftened is recorded on audit events: the prompt was restricted to
// low-intensity grounding content with crisis resources.
const ActionSoftened = "prompt_restricted_to_grounding"

// snippetLimit bounds the message text kept on an audit event.
const snippetLimit = 200

// CrisisKeywords is checked in order against every user message; the first
// match is reported as the reason.
var CrisisKeywords = []string{
	"suicide",
	"suicidal",
	"kill myself",
	"end my life",
	"want to die",
	"better off dead",
	"no reason to live",
	"self-harm",
	"self harm",
	"hurt myself",
	"cutting myself",
	"overdose",
	"hearing voices",
	"voices telling me",
	"seeing things that aren't there",
	"losing touch with reality",
	"psychosis",
	"panic attack",
	"can't breathe",
	"dissociating",
	"nothing feels real",
	"out of my body",
}

// Band returns the severity band for a 1-10 score. Scores below 1 are mild
// and above 10 critical.
func Band(severity int) string {
	switch {
	case severity <= 3:
		return BandMild
	case severity <= 5:
		return BandModerate
	case severity < CriticalFrom:
		return BandSevere
	default:
		return BandCritical
	}
}

// Decision is the outcome of checking one conversation.
type Decision struct {
	Escalate    bool
	TriggerType string
	Reason      string
	// Message is the user text that matched, or the latest user message for
	// severity triggers.
	Message string
}

// Filter checks conversations against the keyword list and intake severity.
type Filter struct {
	keywords     []string
	hardSeverity int
}

// NewFilter creates a Filter. A non-positive hardSeverity uses the default.
// A nil keywords slice uses CrisisKeywords.
func NewFilter(keywords []string, hardSeverity int) *Filter {
	if keywords == nil {
		keywords = CrisisKeywords
	}
	if hardSeverity <= 0 {
		hardSeverity = DefaultHardSeverity
	}
	lowered := make([]string, len(keywords))
	for i, k := range keywords {
		lowered[i] = strings.ToLower(k)
	}
	return &Filter{keywords: lowered, hardSeverity: hardSeverity}
}

// HardSeverity returns the escalation threshold in use.
func (f *Filter) HardSeverity() int {
	return f.hardSeverity
}

// Check scans every user-authored message, then the intake. A keyword match
// takes precedence as the reported reason.
func (f *Filter) Check(messages []types.ChatMessage, intake *types.Intake) Decision {
	for _, m := range messages {
		if m.Role != types.RoleUser {
			continue
		}
		text := strings.ToLower(m.Content)
		for _, k := range f.keywords {
			if strings.Contains(text, k) {
				return Decision{
					Escalate:    true,
					TriggerType: types.TriggerKeyword,
					Reason:      k,
					Message:     m.Content,
				}
			}
		}
	}

	if intake != nil {
		var names []string
		for _, s := range intake.Symptoms {
			if s.Severity >= f.hardSeverity {
				names = append(names, s.Symptom)
			}
		}
		if len(names) > 0 {
			sort.Strings(names)
			return Decision{
				Escalate:    true,
				TriggerType: types.TriggerSeverity,
				Reason:      "high severity: " + strings.Join(names, ", "),
				Message:     lastUserMessage(messages),
			}
		}
	}

	return Decision{}
}

// Event builds the audit record for an escalation decision.
func (d Decision) Event(userID string) types.EscalationEvent {
	return types.EscalationEvent{
		UserID:         userID,
		TriggerType:    d.TriggerType,
		Reason:         d.Reason,
		ActionTaken:    ActionSoftened,
		MessageSnippet: Truncate(d.Message, snippetLimit),
	}
}

// PromptAmendment is appended to the system prompt when a conversation is
// escalated.
func PromptAmendment(d Decision) string {
	return fmt.Sprintf(`SAFETY MODE (%s): The person may be in acute distress.
- Offer only gentle grounding practices at intensity 1-2 (slow breathing, feeling the feet on the floor, naming five things they can see).
- Do not suggest fasting, breath retention, cold exposure, intense movement, or any practice above intensity 2.
- Acknowledge their experience warmly and without judgement.
- Clearly encourage them to contact a crisis line or emergency services now if they are in danger, and to reach out to a trusted person or health professional.
- Do not produce a protocol in this reply.`, d.TriggerType)
}

func lastUserMessage(messages []types.ChatMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == types.RoleUser {
			return messages[i].Content
		}
	}
	return ""
}

// Truncate shortens s to at most limit runes.
func Truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}
