package guide

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// doneSentinel terminates a completion stream.
const doneSentinel = "[DONE]"

// ErrIncompleteStream is returned when a stream ends before [DONE]. The relay
// omits [DONE] when the upstream fails mid-reply, so the text read so far is
// a truncated answer.
var ErrIncompleteStream = fmt.Errorf("stream ended before [DONE]: %w", io.ErrUnexpectedEOF)

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// ReadStream consumes a server-sent event stream of completion chunks and
// returns the accumulated assistant text. onDelta, when set, receives each
// non-empty content fragment as it arrives. Comments, blank lines, non-data
// fields and undecodable chunks are skipped. Reading stops at [DONE]; on any
// other end of input the partial text is returned with an error.
func ReadStream(r io.Reader, onDelta func(string)) (string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var text strings.Builder
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == doneSentinel {
			return text.String(), nil
		}
		if data == "" {
			continue
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		for _, choice := range chunk.Choices {
			if delta := choice.Delta.Content; delta != "" {
				text.WriteString(delta)
				if onDelta != nil {
					onDelta(delta)
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return text.String(), fmt.Errorf("read stream: %w", err)
	}
	return text.String(), ErrIncompleteStream
}
