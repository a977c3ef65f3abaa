package guide

import (
	"encoding/json"
	"regexp"
)

var protocolStart = regexp.MustCompile(`\{\s*"protocol"\s*:`)

// ExtractProtocol scans text for the first well-formed {"protocol": {...}}
// object. Incomplete or invalid candidates are ignored, so callers can run it
// on a growing buffer after every delta.
func ExtractProtocol(text string) (*Protocol, bool) {
	for _, loc := range protocolStart.FindAllStringIndex(text, -1) {
		end := matchingBrace(text, loc[0])
		if end < 0 {
			continue
		}

		var wrapper struct {
			Protocol *Protocol `json:"protocol"`
		}
		if err := json.Unmarshal([]byte(text[loc[0]:end+1]), &wrapper); err != nil {
			continue
		}
		p := wrapper.Protocol
		if p == nil || (p.Title == "" && len(p.Steps) == 0) {
			continue
		}
		return p, true
	}
	return nil, false
}

// matchingBrace returns the index of the brace closing the object that opens
// at start, or -1 if the object is not closed yet.
func matchingBrace(text string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
