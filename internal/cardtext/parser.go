// Package cardtext parses flat-text deck exports (Markdown-like headings) into
// card records.
//
// Each card starts at a "# Card <n>, <title>" line. Inside a card, section
// boundary lines switch the parser between states; text accumulated since the
// previous boundary is flushed into the section that was active before it.
// The parser never fails: unknown headings and noise are dropped and missing
// sections keep their defaults.
package cardtext

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/hyperengineering/oracle/internal/types"
)

type state int

const (
	stateNone state = iota
	stateDistortion
	stateHigherTruth
	stateOpeningInvocation
	stateSpiralOfInquiry
	stateAcknowledgement
	stateSpiralOfSeeing
	stateLivingInquiry
	stateGuidedAudio
	stateEmbodimentRitual
	stateBenediction
)

// sectionFor maps section states to the card section they fill.
var sectionFor = map[state]types.SectionKey{
	stateOpeningInvocation: types.SectionOpeningInvocation,
	stateSpiralOfInquiry:   types.SectionSpiralOfInquiry,
	stateAcknowledgement:   types.SectionAcknowledgement,
	stateSpiralOfSeeing:    types.SectionSpiralOfSeeing,
	stateLivingInquiry:     types.SectionLivingInquiry,
	stateGuidedAudio:       types.SectionGuidedAudio,
	stateEmbodimentRitual:  types.SectionEmbodimentRitual,
	stateBenediction:       types.SectionBenediction,
}

type transition struct {
	pattern *regexp.Regexp
	target  state
}

// boundary builds a case-insensitive pattern for a line that starts, after
// optional '#' marks, with one of the alternatives.
func boundary(alternatives string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)^#*\s*(?:` + alternatives + `)`)
}

// transitions is checked in order; the first match wins.
var transitions = []transition{
	{boundary(`The Distortion:`), stateDistortion},
	{boundary(`The Higher Truth:`), stateHigherTruth},
	{boundary(`Opening Invocation\b`), stateOpeningInvocation},
	{boundary(`Spiral of Inquiry\b`), stateSpiralOfInquiry},
	{boundary(`Acknowledgement\b`), stateAcknowledgement},
	{boundary(`The Spiral of Seeing\b`), stateSpiralOfSeeing},
	{boundary(`Living Inquiry\b|Inquiry Prompts\b`), stateLivingInquiry},
	{boundary(`Guided Audio\b|Audio\b`), stateGuidedAudio},
	{boundary(`Practical Embodiment\b|Embodiment\b`), stateEmbodimentRitual},
	{boundary(`Closing Benediction\b|Benediction\b`), stateBenediction},
}

var cardHeader = regexp.MustCompile(`(?i)^#\s*Card\s+(\d+)\s*,\s*(.*)$`)

// docRefMarkers identify citation artefacts left by the document converter.
var docRefMarkers = []string{":contentReference[", "oaicite:"}

func isNoise(line string) bool {
	if strings.HasPrefix(line, "###") || strings.HasPrefix(line, "## Page") {
		return true
	}
	for _, m := range docRefMarkers {
		if strings.Contains(line, m) {
			return true
		}
	}
	return false
}

// Parse converts the full text of one document into cards in source order.
func Parse(text string) []types.Card {
	p := &parser{}
	for _, raw := range strings.Split(text, "\n") {
		p.line(strings.TrimSpace(raw))
	}
	p.finishCard()
	return p.cards
}

type parser struct {
	cards []types.Card

	current     *types.Card
	state       state
	pending     []string
	distortion  string
	higherTruth string
}

func (p *parser) line(line string) {
	if m := cardHeader.FindStringSubmatch(line); m != nil {
		p.finishCard()
		number, _ := strconv.Atoi(m[1])
		c := types.NewCard(number, m[2])
		p.current = &c
		return
	}
	if p.current == nil || line == "" || isNoise(line) {
		return
	}

	for _, t := range transitions {
		if t.pattern.MatchString(line) {
			p.flush()
			p.enter(t.target, line)
			return
		}
	}

	if strings.HasPrefix(line, "#") {
		return
	}
	p.pending = append(p.pending, line)
}

// enter switches to target. Text after the first colon on the boundary line
// starts the new section's content. A Markdown heading line for a named
// section replaces the default heading with its own label.
func (p *parser) enter(target state, line string) {
	p.state = target
	isHeading := strings.HasPrefix(line, "#")
	label := strings.TrimSpace(strings.TrimLeft(line, "#"))
	rest := ""
	if i := strings.Index(label, ":"); i >= 0 {
		rest = strings.TrimSpace(label[i+1:])
		label = strings.TrimSpace(label[:i])
	}
	if key, ok := sectionFor[target]; ok && isHeading && label != "" {
		p.current.Section(key).Heading = label
	}
	if rest != "" {
		p.pending = append(p.pending, rest)
	}
}

// flush writes the lines accumulated since the last boundary into the section
// that was active and clears them.
func (p *parser) flush() {
	lines := p.pending
	p.pending = nil
	if p.current == nil {
		return
	}

	switch p.state {
	case stateNone:
		return
	case stateDistortion:
		p.distortion = strings.TrimSpace(strings.Join(lines, " "))
	case stateHigherTruth:
		p.higherTruth = strings.TrimSpace(strings.Join(lines, " "))
	default:
		content := strings.TrimSpace(strings.Join(lines, "\n"))
		if content != "" {
			p.current.Section(sectionFor[p.state]).Content = content
		}
	}
}

func (p *parser) finishCard() {
	if p.current == nil {
		return
	}
	p.flush()
	p.current.CardDetails = cardDetails(p.distortion, p.higherTruth)
	p.cards = append(p.cards, *p.current)

	p.current = nil
	p.state = stateNone
	p.distortion = ""
	p.higherTruth = ""
}

func cardDetails(distortion, higherTruth string) string {
	details := "The Distortion: " + distortion
	if higherTruth != "" {
		details += "\nThe Higher Truth: " + higherTruth
	}
	return details
}
