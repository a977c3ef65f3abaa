package types

import (
	"encoding/json"
	"time"
)

// SectionKey names one of the fixed (heading, content) pairs a card carries.
type SectionKey string

const (
	SectionOpeningInvocation SectionKey = "opening_invocation"
	SectionSpiralOfInquiry   SectionKey = "spiral_of_inquiry"
	SectionAcknowledgement   SectionKey = "acknowledgement"
	SectionSpiralOfSeeing    SectionKey = "spiral_of_seeing"
	SectionLivingInquiry     SectionKey = "living_inquiry"
	SectionGuidedAudio       SectionKey = "guided_audio"
	SectionEmbodimentRitual  SectionKey = "embodiment_ritual"
	SectionBenediction       SectionKey = "benediction"
)

// SectionKeys lists the named sections in reading order.
var SectionKeys = []SectionKey{
	SectionOpeningInvocation,
	SectionSpiralOfInquiry,
	SectionAcknowledgement,
	SectionSpiralOfSeeing,
	SectionLivingInquiry,
	SectionGuidedAudio,
	SectionEmbodimentRitual,
	SectionBenediction,
}

// DefaultHeadings are applied to every new card and survive when the source
// never supplies a heading of its own.
var DefaultHeadings = map[SectionKey]string{
	SectionOpeningInvocation: "Opening Invocation & Altar Ritual",
	SectionSpiralOfInquiry:   "Spiral of Inquiry",
	SectionAcknowledgement:   "Acknowledgement",
	SectionSpiralOfSeeing:    "The Spiral of Seeing",
	SectionLivingInquiry:     "Living Inquiry",
	SectionGuidedAudio:       "Guided Audio",
	SectionEmbodimentRitual:  "Practical Embodiment",
	SectionBenediction:       "Closing Benediction",
}

// DefaultAudioContent is the placeholder for cards without recorded audio.
const DefaultAudioContent = "[Audio content to be added]"

// Embedding status values for cards.
const (
	EmbeddingPending  = "pending"
	EmbeddingComplete = "complete"
	EmbeddingFailed   = "failed"
)

// Section is one heading/content pair on a card.
type Section struct {
	Heading string `json:"heading"`
	Content string `json:"content"`
}

// Card is one unit of deck content, addressed by its deck-scoped number.
type Card struct {
	ID            string `json:"id"`
	DeckID        string `json:"deck_id"`
	CardNumber    int    `json:"card_number"`
	CardTitle     string `json:"card_title"`
	ImageFileName string `json:"image_file_name"`
	CardDetails   string `json:"card_details"`

	OpeningInvocation Section `json:"opening_invocation"`
	SpiralOfInquiry   Section `json:"spiral_of_inquiry"`
	Acknowledgement   Section `json:"acknowledgement"`
	SpiralOfSeeing    Section `json:"spiral_of_seeing"`
	LivingInquiry     Section `json:"living_inquiry"`
	GuidedAudio       Section `json:"guided_audio"`
	EmbodimentRitual  Section `json:"embodiment_ritual"`
	Benediction       Section `json:"benediction"`

	// ContentSections holds deck-specific free-form fields for decks that do
	// not use the named sections.
	ContentSections map[string]string `json:"content_sections"`

	EmbeddingStatus string    `json:"-"`
	Embedding       []float32 `json:"-"`
	CreatedAt       time.Time `json:"created_at"`
}

// NewCard returns a card with the default headings and content filled in.
func NewCard(number int, title string) Card {
	c := Card{
		CardNumber:      number,
		CardTitle:       title,
		ContentSections: map[string]string{},
	}
	for _, key := range SectionKeys {
		c.Section(key).Heading = DefaultHeadings[key]
	}
	c.GuidedAudio.Content = DefaultAudioContent
	return c
}

// Section returns a pointer to the named section, or nil for an unknown key.
func (c *Card) Section(key SectionKey) *Section {
	switch key {
	case SectionOpeningInvocation:
		return &c.OpeningInvocation
	case SectionSpiralOfInquiry:
		return &c.SpiralOfInquiry
	case SectionAcknowledgement:
		return &c.Acknowledgement
	case SectionSpiralOfSeeing:
		return &c.SpiralOfSeeing
	case SectionLivingInquiry:
		return &c.LivingInquiry
	case SectionGuidedAudio:
		return &c.GuidedAudio
	case SectionEmbodimentRitual:
		return &c.EmbodimentRitual
	case SectionBenediction:
		return &c.Benediction
	}
	return nil
}

// SetField assigns a string value to a named card column. Column names follow
// the cards table: card_title, image_file_name, card_details and
// <section>_heading / <section>_content. It reports false for names that are
// not card columns; card_number is numeric and handled by the caller.
func (c *Card) SetField(name, value string) bool {
	switch name {
	case "card_title":
		c.CardTitle = value
		return true
	case "image_file_name":
		c.ImageFileName = value
		return true
	case "card_details":
		c.CardDetails = value
		return true
	}
	for _, key := range SectionKeys {
		prefix := string(key)
		switch name {
		case prefix + "_heading":
			c.Section(key).Heading = value
			return true
		case prefix + "_content":
			c.Section(key).Content = value
			return true
		}
	}
	return false
}

// EmbeddingText is the text used to embed a card for related-card lookup.
func (c *Card) EmbeddingText() string {
	if c.CardDetails == "" {
		return c.CardTitle
	}
	if c.CardTitle == "" {
		return c.CardDetails
	}
	return c.CardTitle + "\n" + c.CardDetails
}

// MarshalJSON ensures a nil ContentSections map marshals as {} not null.
func (c Card) MarshalJSON() ([]byte, error) {
	if c.ContentSections == nil {
		c.ContentSections = map[string]string{}
	}
	type Alias Card
	return json.Marshal(Alias(c))
}

// Deck is a named collection of cards with shared access flags.
type Deck struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	IsFree      bool      `json:"is_free"`
	IsStarter   bool      `json:"is_starter"`
	ProductIDs  []string  `json:"product_ids"`
	CardCount   int64     `json:"card_count"`
	CreatedAt   time.Time `json:"created_at"`
}

// MarshalJSON ensures nil ProductIDs marshal as [] not null.
func (d Deck) MarshalJSON() ([]byte, error) {
	if d.ProductIDs == nil {
		d.ProductIDs = []string{}
	}
	type Alias Deck
	return json.Marshal(Alias(d))
}

// NewDeck is the input for creating a deck.
type NewDeck struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	IsFree      bool     `json:"is_free"`
	IsStarter   bool     `json:"is_starter"`
	ProductIDs  []string `json:"product_ids,omitempty"`
}

// SimilarCard is a card with its cosine similarity to a query embedding.
type SimilarCard struct {
	Card
	Similarity float64 `json:"similarity"`
}

// BatchProgress reports one committed insert batch during an import.
type BatchProgress struct {
	Batch    int `json:"batch"`
	Batches  int `json:"batches"`
	Inserted int `json:"inserted"`
	Total    int `json:"total"`
}

// ImportResult summarizes a deck import.
type ImportResult struct {
	DeckID   string   `json:"deck_id"`
	DeckName string   `json:"deck_name"`
	Format   string   `json:"format"`
	Parsed   int      `json:"parsed"`
	Imported int      `json:"imported"`
	Batches  int      `json:"batches"`
	Archive  string   `json:"archive,omitempty"`
	Warnings []string `json:"warnings"`
}

// MarshalJSON ensures nil Warnings marshal as [] not null.
func (r ImportResult) MarshalJSON() ([]byte, error) {
	if r.Warnings == nil {
		r.Warnings = []string{}
	}
	type Alias ImportResult
	return json.Marshal(Alias(r))
}

// Chat roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// ChatMessage is one turn of a conversation transcript.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Symptom is one reported intake item, severity on a 1-10 scale.
type Symptom struct {
	Symptom  string `json:"symptom"`
	Domain   string `json:"domain"`
	Severity int    `json:"severity"`
}

// Intake is the structured questionnaire a user fills before a session.
type Intake struct {
	Symptoms          []Symptom `json:"symptoms"`
	Goals             string    `json:"goals,omitempty"`
	TimeBudgetMinutes int       `json:"time_budget_minutes,omitempty"`
}

// ChatRequest is the body of POST /api/v1/chat.
type ChatRequest struct {
	Messages []ChatMessage `json:"messages"`
	Intake   *Intake       `json:"intake,omitempty"`
}

// LegacyChatRequest is the body of the older healing guide endpoint, which
// identifies the caller in the body instead of a bearer token.
type LegacyChatRequest struct {
	Messages []ChatMessage `json:"messages"`
	UserID   string        `json:"userId"`
}

// Escalation trigger types.
const (
	TriggerKeyword  = "keyword"
	TriggerSeverity = "severity"
)

// EscalationEvent is the audit record written when the safety filter fires.
type EscalationEvent struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	TriggerType    string    `json:"trigger_type"`
	Reason         string    `json:"reason"`
	ActionTaken    string    `json:"action_taken"`
	MessageSnippet string    `json:"message_snippet"`
	CreatedAt      time.Time `json:"created_at"`
}

// ProtocolStep is one ordered step of a generated wellness protocol.
type ProtocolStep struct {
	Title           string `json:"title"`
	Description     string `json:"description"`
	DurationMinutes int    `json:"duration_minutes,omitempty"`
	Intensity       int    `json:"intensity,omitempty"`
}

// Protocol is a generated bundle of steps a user may choose to save.
type Protocol struct {
	ID          string         `json:"id,omitempty"`
	UserID      string         `json:"user_id,omitempty"`
	Title       string         `json:"title"`
	Summary     string         `json:"summary"`
	SafetyNotes string         `json:"safety_notes,omitempty"`
	Steps       []ProtocolStep `json:"steps"`
	CreatedAt   *time.Time     `json:"created_at,omitempty"`
}

// MarshalJSON ensures nil Steps marshal as [] not null.
func (p Protocol) MarshalJSON() ([]byte, error) {
	if p.Steps == nil {
		p.Steps = []ProtocolStep{}
	}
	type Alias Protocol
	return json.Marshal(Alias(p))
}

// StoreStats holds aggregate store statistics.
type StoreStats struct {
	DeckCount      int64          `json:"deck_count"`
	CardCount      int64          `json:"card_count"`
	EmbeddingStats EmbeddingStats `json:"embedding_stats"`
}

// EmbeddingStats tracks embedding pipeline health.
type EmbeddingStats struct {
	Complete int64 `json:"complete"`
	Pending  int64 `json:"pending"`
	Failed   int64 `json:"failed"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status         string         `json:"status"`
	Version        string         `json:"version"`
	ChatModel      string         `json:"chat_model"`
	EmbeddingModel string         `json:"embedding_model,omitempty"`
	DeckCount      int64          `json:"deck_count"`
	CardCount      int64          `json:"card_count"`
	Embeddings     EmbeddingStats `json:"embeddings"`
}

// ErrorResponse is the body shape the chat relay uses for failures.
type ErrorResponse struct {
	Error string `json:"error"`
}

// DeckListResponse is the body of GET /api/v1/decks.
type DeckListResponse struct {
	Decks []Deck `json:"decks"`
}

// CardListResponse is the body of GET /api/v1/decks/{deck}/cards.
type CardListResponse struct {
	DeckID   string `json:"deck_id"`
	DeckName string `json:"deck_name"`
	Cards    []Card `json:"cards"`
}

// ProtocolListResponse is the body of GET /api/v1/protocols.
type ProtocolListResponse struct {
	Protocols []Protocol `json:"protocols"`
}
