package validation

import (
	"fmt"

	"github.com/hyperengineering/oracle/internal/types"
)

// Request limits.
const (
	MaxMessages        = 100
	MaxMessageLength   = 8000
	MaxSymptoms        = 20
	MaxSymptomLength   = 100
	MaxGoalsLength     = 1000
	MaxTimeBudget      = 24 * 60
	MaxDeckNameLength  = 100
	MaxDescription     = 2000
	MaxProductIDs      = 20
	MaxProtocolSteps   = 50
	MaxTitleLength     = 200
	MaxStepDescription = 4000
	MaxStepMinutes     = 600
)

var roles = []string{types.RoleUser, types.RoleAssistant, types.RoleSystem}

// ValidateChatRequest validates the body of POST /api/v1/chat.
func ValidateChatRequest(req types.ChatRequest) []ValidationError {
	var c Collector
	validateMessages(&c, req.Messages)
	if req.Intake != nil {
		validateIntake(&c, req.Intake)
	}
	return c.Errors()
}

// ValidateLegacyChatRequest validates the body of POST /api/v1/chat/legacy.
func ValidateLegacyChatRequest(req types.LegacyChatRequest) []ValidationError {
	var c Collector
	validateMessages(&c, req.Messages)
	c.Add(ValidateRequired("userId", req.UserID))
	ValidateText(&c, "userId", req.UserID, 128)
	return c.Errors()
}

func validateMessages(c *Collector, msgs []types.ChatMessage) {
	if len(msgs) == 0 {
		c.Add(&ValidationError{Field: "messages", Message: "must contain at least one message"})
		return
	}
	if len(msgs) > MaxMessages {
		c.Add(&ValidationError{Field: "messages", Message: fmt.Sprintf("exceeds maximum of %d messages", MaxMessages)})
		return
	}
	for i, m := range msgs {
		prefix := fmt.Sprintf("messages[%d]", i)
		c.Add(ValidateEnum(prefix+".role", m.Role, roles))
		ValidateText(c, prefix+".content", m.Content, MaxMessageLength)
	}
}

func validateIntake(c *Collector, in *types.Intake) {
	if len(in.Symptoms) > MaxSymptoms {
		c.Add(&ValidationError{Field: "intake.symptoms", Message: fmt.Sprintf("exceeds maximum of %d symptoms", MaxSymptoms)})
	}
	for i, s := range in.Symptoms {
		prefix := fmt.Sprintf("intake.symptoms[%d]", i)
		c.Add(ValidateRequired(prefix+".symptom", s.Symptom))
		ValidateText(c, prefix+".symptom", s.Symptom, MaxSymptomLength)
		ValidateText(c, prefix+".domain", s.Domain, MaxSymptomLength)
		c.Add(ValidateRange(prefix+".severity", s.Severity, 1, 10))
	}
	ValidateText(c, "intake.goals", in.Goals, MaxGoalsLength)
	c.Add(ValidateRange("intake.time_budget_minutes", in.TimeBudgetMinutes, 0, MaxTimeBudget))
}

// ValidateProtocol validates a protocol a user asks to save.
func ValidateProtocol(p types.Protocol) []ValidationError {
	var c Collector
	c.Add(ValidateRequired("title", p.Title))
	ValidateText(&c, "title", p.Title, MaxTitleLength)
	ValidateText(&c, "summary", p.Summary, MaxDescription)
	ValidateText(&c, "safety_notes", p.SafetyNotes, MaxDescription)

	if len(p.Steps) == 0 {
		c.Add(&ValidationError{Field: "steps", Message: "must contain at least one step"})
	}
	if len(p.Steps) > MaxProtocolSteps {
		c.Add(&ValidationError{Field: "steps", Message: fmt.Sprintf("exceeds maximum of %d steps", MaxProtocolSteps)})
	}
	for i, s := range p.Steps {
		prefix := fmt.Sprintf("steps[%d]", i)
		c.Add(ValidateRequired(prefix+".title", s.Title))
		ValidateText(&c, prefix+".title", s.Title, MaxTitleLength)
		ValidateText(&c, prefix+".description", s.Description, MaxStepDescription)
		c.Add(ValidateRange(prefix+".duration_minutes", s.DurationMinutes, 0, MaxStepMinutes))
		// 0 means the model left intensity unset.
		c.Add(ValidateRange(prefix+".intensity", s.Intensity, 0, 5))
	}
	return c.Errors()
}

// ValidateNewDeck validates a deck creation request.
func ValidateNewDeck(d types.NewDeck) []ValidationError {
	var c Collector
	c.Add(ValidateRequired("name", d.Name))
	ValidateText(&c, "name", d.Name, MaxDeckNameLength)
	ValidateText(&c, "description", d.Description, MaxDescription)
	if len(d.ProductIDs) > MaxProductIDs {
		c.Add(&ValidationError{Field: "product_ids", Message: fmt.Sprintf("exceeds maximum of %d product ids", MaxProductIDs)})
	}
	for i, id := range d.ProductIDs {
		field := fmt.Sprintf("product_ids[%d]", i)
		c.Add(ValidateRequired(field, id))
		ValidateText(&c, field, id, MaxTitleLength)
	}
	return c.Errors()
}
