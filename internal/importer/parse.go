package importer

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/hyperengineering/oracle/internal/cardtext"
	"github.com/hyperengineering/oracle/internal/csvline"
	"github.com/hyperengineering/oracle/internal/types"
)

var (
	ErrUnknownFormat = errors.New("unknown import format")
	ErrNoCards       = errors.New("no cards found in input")
	ErrMalformedRow  = errors.New("malformed row")
)

// Parsed is the outcome of parsing one import file.
type Parsed struct {
	Cards    []types.Card
	Warnings []string
}

// ParseCSV maps the rows of a CSV export onto cards using layout. Individual
// cells never fail: a non-numeric card number becomes 0 with a warning. A row
// with fewer than layout.MinFields cells aborts the parse.
func ParseCSV(layout Layout, text string, multiline bool) (*Parsed, error) {
	var rows []string
	for _, line := range csvline.LogicalLines(text, multiline) {
		if strings.TrimSpace(line) != "" {
			rows = append(rows, line)
		}
	}
	if layout.SkipHeader && len(rows) > 0 {
		rows = rows[1:]
	}

	out := &Parsed{}
	for i, row := range rows {
		rowNum := i + 1
		fields := csvline.Parse(row)
		if layout.KeepRow != nil && !layout.KeepRow(fields) {
			continue
		}
		if len(fields) < layout.MinFields {
			return nil, fmt.Errorf("%w: row %d has %d fields, need at least %d",
				ErrMalformedRow, rowNum, len(fields), layout.MinFields)
		}

		card, warnings := mapRow(layout, fields, rowNum)
		out.Cards = append(out.Cards, card)
		out.Warnings = append(out.Warnings, warnings...)
	}

	if len(out.Cards) == 0 {
		return nil, ErrNoCards
	}
	out.Warnings = append(out.Warnings, duplicateNumbers(out.Cards)...)
	return out, nil
}

// duplicateNumbers warns about card numbers that collide within one import,
// which happens when several rows carry unparseable numbers.
func duplicateNumbers(cards []types.Card) []string {
	var warnings []string
	seen := make(map[int]bool, len(cards))
	for _, c := range cards {
		if seen[c.CardNumber] {
			warnings = append(warnings, fmt.Sprintf("card number %d appears more than once", c.CardNumber))
		}
		seen[c.CardNumber] = true
	}
	return warnings
}

func mapRow(layout Layout, fields []string, rowNum int) (types.Card, []string) {
	card := types.NewCard(0, "")
	var warnings []string

	for _, col := range layout.Columns {
		value := ""
		if col.Index < len(fields) {
			value = fields[col.Index]
		}
		if col.Transform != nil {
			value = col.Transform(value)
		}

		if col.HeadingField != "" {
			heading, body := ExtractHeading(value)
			assign(&card, col.HeadingField, heading)
			value = body
		}

		switch col.Field {
		case sourceKeyField:
			continue
		case "card_number":
			n, err := strconv.Atoi(value)
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("row %d: card number %q is not numeric, using 0", rowNum, value))
				n = 0
			} else if layout.MaxCardNumber > 0 && (n < 1 || n > layout.MaxCardNumber) {
				warnings = append(warnings, fmt.Sprintf("row %d: card number %d outside 1-%d", rowNum, n, layout.MaxCardNumber))
			}
			card.CardNumber = n
		default:
			assign(&card, col.Field, value)
		}
	}

	return card, warnings
}

// assign writes value to a card column or the content_sections bag. Empty
// cells leave section defaults in place.
func assign(card *types.Card, field, value string) {
	if value == "" {
		if _, ok := columnSection(field); ok {
			return
		}
	}
	if card.SetField(field, value) {
		return
	}
	if card.ContentSections == nil {
		card.ContentSections = map[string]string{}
	}
	card.ContentSections[field] = value
}

// columnSection reports whether field names one of the card's named section
// columns.
func columnSection(field string) (types.SectionKey, bool) {
	for _, key := range types.SectionKeys {
		if field == string(key)+"_heading" || field == string(key)+"_content" {
			return key, true
		}
	}
	return "", false
}

// ParseFlatText parses a Markdown-like card document.
func ParseFlatText(text string) (*Parsed, error) {
	cards := cardtext.Parse(text)
	if len(cards) == 0 {
		return nil, ErrNoCards
	}

	return &Parsed{Cards: cards, Warnings: duplicateNumbers(cards)}, nil
}

// Parse dispatches on format.
func Parse(format, text string, multiline bool) (*Parsed, error) {
	if format == FlatText {
		return ParseFlatText(text)
	}
	layout, ok := LayoutFor(format)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	return ParseCSV(layout, text, multiline)
}
