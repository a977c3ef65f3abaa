package guide

import "time"

// Message is one conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Symptom is one intake item; severity is 1-10.
type Symptom struct {
	Symptom  string `json:"symptom"`
	Domain   string `json:"domain"`
	Severity int    `json:"severity"`
}

// Intake is the questionnaire sent with a chat request.
type Intake struct {
	Symptoms          []Symptom `json:"symptoms"`
	Goals             string    `json:"goals,omitempty"`
	TimeBudgetMinutes int       `json:"time_budget_minutes,omitempty"`
}

// ChatRequest is the body of POST /api/v1/chat.
type ChatRequest struct {
	Messages []Message `json:"messages"`
	Intake   *Intake   `json:"intake,omitempty"`
}

// Step is one ordered protocol step.
type Step struct {
	Title           string `json:"title"`
	Description     string `json:"description"`
	DurationMinutes int    `json:"duration_minutes,omitempty"`
	Intensity       int    `json:"intensity,omitempty"`
}

// Protocol is a practice plan produced by the guide.
type Protocol struct {
	ID          string     `json:"id,omitempty"`
	Title       string     `json:"title"`
	Summary     string     `json:"summary"`
	SafetyNotes string     `json:"safety_notes,omitempty"`
	Steps       []Step     `json:"steps"`
	CreatedAt   *time.Time `json:"created_at,omitempty"`
}

// Reply is the outcome of one streamed chat turn.
type Reply struct {
	Text     string
	Protocol *Protocol
}
