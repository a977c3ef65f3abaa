package importer

import (
	"regexp"
	"strings"
)

// Transform normalizes a raw cell before it is assigned.
type Transform func(string) string

// Column maps one positional CSV cell onto a card field.
//
// Field is a cards table column (see types.Card.SetField), "card_number", or
// any other name, which lands in the card's content_sections bag. When
// HeadingField is set, a leading "Exercise: <Title>" style line is split off
// the cell into HeadingField and the remainder is stored under Field.
type Column struct {
	Index        int
	Field        string
	Transform    Transform
	HeadingField string
}

// Layout describes one deck's CSV export.
type Layout struct {
	Format   string
	DeckName string

	// MinFields is the number of cells a data row must have; shorter rows are
	// rejected as malformed. Missing trailing cells beyond it keep defaults.
	MinFields int

	// SkipHeader drops the first non-blank line.
	SkipHeader bool

	// KeepRow, when set, filters data rows after splitting.
	KeepRow func(fields []string) bool

	// MaxCardNumber, when positive, produces a warning for numbers outside
	// 1..MaxCardNumber. Such rows are still imported.
	MaxCardNumber int

	Columns []Column
}

// sourceKeyField documents the deck key column of the Sacred Rewrite export.
// The target deck is chosen by the import request, so the cell is not stored.
const sourceKeyField = "deck_name"

// SacredRewrite is the 21-column export with every named section as a pair of
// heading/content columns.
var SacredRewrite = Layout{
	Format:        "sacred-rewrite",
	DeckName:      "Sacred Rewrite",
	MinFields:     4,
	SkipHeader:    true,
	MaxCardNumber: 63,
	Columns: []Column{
		{Index: 0, Field: sourceKeyField},
		{Index: 1, Field: "image_file_name"},
		{Index: 2, Field: "card_number"},
		{Index: 3, Field: "card_title"},
		{Index: 4, Field: "card_details"},
		{Index: 5, Field: "opening_invocation_heading"},
		{Index: 6, Field: "opening_invocation_content"},
		{Index: 7, Field: "spiral_of_inquiry_heading"},
		{Index: 8, Field: "spiral_of_inquiry_content"},
		{Index: 9, Field: "acknowledgement_heading"},
		{Index: 10, Field: "acknowledgement_content"},
		{Index: 11, Field: "spiral_of_seeing_heading"},
		{Index: 12, Field: "spiral_of_seeing_content"},
		{Index: 13, Field: "living_inquiry_heading"},
		{Index: 14, Field: "living_inquiry_content"},
		{Index: 15, Field: "guided_audio_heading"},
		{Index: 16, Field: "guided_audio_content"},
		{Index: 17, Field: "embodiment_ritual_heading"},
		{Index: 18, Field: "embodiment_ritual_content"},
		{Index: 19, Field: "benediction_heading"},
		{Index: 20, Field: "benediction_content"},
	},
}

// MagicNotLogic is the six-column export with a journalling prompt and a
// Vimeo video per card.
var MagicNotLogic = Layout{
	Format:     "magic-not-logic",
	DeckName:   "Magic not Logic",
	MinFields:  2,
	SkipHeader: true,
	Columns: []Column{
		{Index: 0, Field: "image_file_name"},
		{Index: 1, Field: "card_number"},
		{Index: 2, Field: "card_details"},
		{Index: 3, Field: "journalling_heading"},
		{Index: 4, Field: "journalling_activity"},
		{Index: 5, Field: "vimeo_video_id", Transform: VimeoID},
	},
}

// ArtOfSelfHealing rows are keyed "TAoSH-"; anything else in the file
// (headers, notes) is skipped.
var ArtOfSelfHealing = Layout{
	Format:    "art-of-self-healing",
	DeckName:  "The Art of Self-Healing",
	MinFields: 3,
	KeepRow: func(fields []string) bool {
		return strings.HasPrefix(fields[0], "TAoSH-")
	},
	Columns: []Column{
		{Index: 0, Field: "image_file_name"},
		{Index: 1, Field: "card_number"},
		{Index: 2, Field: "card_details"},
		{Index: 3, Field: "exercise", HeadingField: "exercise_heading"},
	},
}

// FlatText is the format name for Markdown-like card documents.
const FlatText = "flat-text"

var layouts = map[string]Layout{
	SacredRewrite.Format:    SacredRewrite,
	MagicNotLogic.Format:    MagicNotLogic,
	ArtOfSelfHealing.Format: ArtOfSelfHealing,
}

// LayoutFor returns the CSV layout registered for format.
func LayoutFor(format string) (Layout, bool) {
	l, ok := layouts[format]
	return l, ok
}

// Formats lists every supported import format.
func Formats() []string {
	return []string{SacredRewrite.Format, MagicNotLogic.Format, ArtOfSelfHealing.Format, FlatText}
}

var (
	embeddedHeading = regexp.MustCompile(`(?i)^\s*(?:exercise|journalling|journaling|activity)[ \t]*:[ \t]*`)
	titleBreak      = regexp.MustCompile(`[.!?][ \t]+|[ \t]+[-–][ \t]+`)
)

// ExtractHeading splits a leading "Exercise: <Title>" line off text. When the
// cell is a single line the title ends at the first sentence break; a lone
// sentence with closing punctuation is body, not title. Without a title
// heading is empty and body is text unchanged.
func ExtractHeading(text string) (heading, body string) {
	loc := embeddedHeading.FindStringIndex(text)
	if loc == nil {
		return "", text
	}
	rest := text[loc[1]:]

	if i := strings.IndexByte(rest, '\n'); i >= 0 {
		heading, body = rest[:i], rest[i+1:]
	} else if m := titleBreak.FindStringIndex(rest); m != nil {
		heading, body = rest[:m[0]], rest[m[1]:]
	} else {
		heading = strings.TrimSpace(rest)
		if heading == "" || strings.ContainsAny(heading[len(heading)-1:], ".!?") {
			return "", text
		}
	}

	heading = strings.TrimSpace(heading)
	if heading == "" {
		return "", text
	}
	return heading, strings.TrimSpace(body)
}

var vimeoDigits = regexp.MustCompile(`(\d+)\D*$`)

// VimeoID reduces a Vimeo URL to its numeric id; bare ids pass through.
func VimeoID(v string) string {
	v = strings.TrimSpace(v)
	if !strings.Contains(v, "vimeo.com") {
		return v
	}
	if m := vimeoDigits.FindStringSubmatch(strings.TrimRight(v, "/")); m != nil {
		return m[1]
	}
	return v
}
