package relay

import (
	"bytes"
	"encoding/json"
)

// EventKind distinguishes decoded upstream events.
type EventKind int

const (
	EventDelta EventKind = iota
	EventDone
)

// Event is one decoded upstream SSE event.
type Event struct {
	Kind    EventKind
	Content string
}

var (
	// The space after the colon is optional in SSE, so "data:{...}" decodes too.
	dataPrefix = []byte("data:")
	doneMarker = []byte("[DONE]")
)

// chunk is the part of an OpenAI streaming chunk the relay reads.
type chunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// Decoder turns upstream bytes into events. It holds an incomplete trailing line
// between calls, so read boundaries need not align with lines, events or UTF-8
// sequences. A Decoder is not safe for concurrent use.
type Decoder struct {
	pending []byte
}

// Feed consumes p and returns the events completed by it.
func (d *Decoder) Feed(p []byte) []Event {
	d.pending = append(d.pending, p...)

	var events []Event
	for {
		i := bytes.IndexByte(d.pending, '\n')
		if i < 0 {
			break
		}
		line := d.pending[:i]
		if ev, ok := decodeLine(line); ok {
			events = append(events, ev)
		}
		d.pending = d.pending[i+1:]
	}
	if len(d.pending) == 0 {
		d.pending = nil
	}
	return events
}

// Flush decodes a final line left without a trailing newline.
func (d *Decoder) Flush() []Event {
	line := d.pending
	d.pending = nil
	if ev, ok := decodeLine(line); ok {
		return []Event{ev}
	}
	return nil
}

func decodeLine(line []byte) (Event, bool) {
	line = bytes.TrimSuffix(line, []byte("\r"))
	if !bytes.HasPrefix(line, dataPrefix) {
		return Event{}, false
	}
	payload := bytes.TrimSpace(line[len(dataPrefix):])
	if bytes.Equal(payload, doneMarker) {
		return Event{Kind: EventDone}, true
	}

	var c chunk
	if err := json.Unmarshal(payload, &c); err != nil {
		return Event{}, false
	}
	if len(c.Choices) == 0 || c.Choices[0].Delta.Content == "" {
		return Event{}, false
	}
	return Event{Kind: EventDelta, Content: c.Choices[0].Delta.Content}, true
}
