package types

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestNewCard_AppliesDefaults(t *testing.T) {
	c := NewCard(7, "Awakening")

	if c.CardNumber != 7 {
		t.Errorf("CardNumber: got %d, want 7", c.CardNumber)
	}
	if c.CardTitle != "Awakening" {
		t.Errorf("CardTitle: got %q, want %q", c.CardTitle, "Awakening")
	}
	for _, key := range SectionKeys {
		s := c.Section(key)
		if s.Heading != DefaultHeadings[key] {
			t.Errorf("%s heading: got %q, want %q", key, s.Heading, DefaultHeadings[key])
		}
	}
	if c.OpeningInvocation.Heading != "Opening Invocation & Altar Ritual" {
		t.Errorf("OpeningInvocation heading: got %q", c.OpeningInvocation.Heading)
	}
	if c.OpeningInvocation.Content != "" {
		t.Errorf("OpeningInvocation content: got %q, want empty", c.OpeningInvocation.Content)
	}
	if c.GuidedAudio.Content != DefaultAudioContent {
		t.Errorf("GuidedAudio content: got %q, want %q", c.GuidedAudio.Content, DefaultAudioContent)
	}
}

func TestCard_SectionUnknownKey(t *testing.T) {
	c := NewCard(1, "x")
	if s := c.Section("nope"); s != nil {
		t.Errorf("expected nil for unknown section, got %+v", s)
	}
}

func TestCard_SetField(t *testing.T) {
	c := NewCard(1, "")

	cases := []struct {
		name  string
		value string
		check func() string
	}{
		{"card_title", "Awakening", func() string { return c.CardTitle }},
		{"image_file_name", "card-1.png", func() string { return c.ImageFileName }},
		{"card_details", "The Distortion: Fear", func() string { return c.CardDetails }},
		{"spiral_of_seeing_heading", "Seeing", func() string { return c.SpiralOfSeeing.Heading }},
		{"benediction_content", "Go gently", func() string { return c.Benediction.Content }},
		{"guided_audio_content", "", func() string { return c.GuidedAudio.Content }},
	}

	for _, tc := range cases {
		if !c.SetField(tc.name, tc.value) {
			t.Errorf("SetField(%q) reported unknown column", tc.name)
			continue
		}
		if got := tc.check(); got != tc.value {
			t.Errorf("SetField(%q): got %q, want %q", tc.name, got, tc.value)
		}
	}

	if c.SetField("vimeo_video_id", "123") {
		t.Error("SetField should reject non-column names")
	}
	if c.SetField("card_number", "1") {
		t.Error("SetField should leave card_number to the caller")
	}
}

func TestCard_EmbeddingText(t *testing.T) {
	c := Card{CardTitle: "Awakening", CardDetails: "The Distortion: Fear"}
	if got := c.EmbeddingText(); got != "Awakening\nThe Distortion: Fear" {
		t.Errorf("got %q", got)
	}

	c = Card{CardTitle: "Only title"}
	if got := c.EmbeddingText(); got != "Only title" {
		t.Errorf("got %q", got)
	}
}

func TestCard_JSONSnakeCaseKeys(t *testing.T) {
	c := NewCard(3, "Trust")
	c.ContentSections = nil

	data, err := json.Marshal(c)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	raw := string(data)

	for _, key := range []string{
		`"deck_id"`, `"card_number"`, `"card_title"`, `"image_file_name"`,
		`"card_details"`, `"opening_invocation"`, `"embodiment_ritual"`,
		`"content_sections":{}`,
	} {
		if !strings.Contains(raw, key) {
			t.Errorf("Missing JSON key %s in output: %s", key, raw)
		}
	}
	if strings.Contains(raw, "embedding") {
		t.Errorf("embedding fields must not be serialized: %s", raw)
	}
}

func TestDeck_NilProductIDsMarshalAsArray(t *testing.T) {
	data, err := json.Marshal(Deck{Name: "Sacred Rewrite"})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if !strings.Contains(string(data), `"product_ids":[]`) {
		t.Errorf("expected product_ids as [], got %s", data)
	}
}

func TestImportResult_NilWarningsMarshalAsArray(t *testing.T) {
	data, err := json.Marshal(ImportResult{DeckName: "x"})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if !strings.Contains(string(data), `"warnings":[]`) {
		t.Errorf("expected warnings as [], got %s", data)
	}
}

func TestProtocol_UnmarshalFromModelOutput(t *testing.T) {
	raw := `{"title":"Calm Evening","summary":"Wind down","safety_notes":"Stop if dizzy",
		"steps":[{"title":"Breath","description":"Box breathing","duration_minutes":5,"intensity":1}]}`

	var p Protocol
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if p.Title != "Calm Evening" || len(p.Steps) != 1 {
		t.Fatalf("unexpected protocol: %+v", p)
	}
	if p.Steps[0].Intensity != 1 || p.Steps[0].DurationMinutes != 5 {
		t.Errorf("unexpected step: %+v", p.Steps[0])
	}
}
