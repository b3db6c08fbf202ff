// Package sse normalizes the backend's Server-Sent-Events output into one
// canonical shape: every frame is `data: {"event": <string>, "data": <value>}`.
//
// The backend is inconsistent about framing. It may send a JSON object that
// names its own event, a bare `event:` line followed by a `data:` line with
// text or JSON, several JSON objects glued together on one data line, or a
// literal [DONE] sentinel. ParseDataLine handles one data line; Normalizer
// handles line assembly across chunk boundaries.
package sse

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"

	"flowgate/internal/shared"

	"github.com/tidwall/gjson"
)

// Frame is one canonical {event, data} unit. When the upstream object
// already carried its own event key, Verbatim holds it and is sent as is.
type Frame struct {
	Event    string
	Data     json.RawMessage
	Verbatim json.RawMessage
}

type wireFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// MarshalJSON returns the frame body without the SSE envelope
func (f Frame) MarshalJSON() ([]byte, error) {
	if f.Verbatim != nil {
		var buf bytes.Buffer
		if err := json.Compact(&buf, f.Verbatim); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	data := f.Data
	if data == nil {
		data = json.RawMessage("null")
	}
	return json.Marshal(wireFrame{Event: f.Event, Data: data})
}

// Encode returns the frame as `data: <json>\n\n`
func (f Frame) Encode() ([]byte, error) {
	body, err := f.MarshalJSON()
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(body)+8)
	out = append(out, "data: "...)
	out = append(out, body...)
	out = append(out, '\n', '\n')
	return out, nil
}

func stringFrame(event, text string) Frame {
	// marshalling a string cannot fail
	data, _ := json.Marshal(text)
	return Frame{Event: event, Data: data}
}

// ErrorFrame reports a failure that ended the stream early
func ErrorFrame(message string) Frame {
	return stringFrame(shared.ErrorEvent, message)
}

var objectBoundary = regexp.MustCompile(`\}\s*\{`)

// ParseDataLine turns the trimmed remainder of one `data:` line into frames.
// fallbackEvent names frames whose payload does not carry its own event.
func ParseDataLine(raw, fallbackEvent string) []Frame {
	if raw == shared.DoneSentinel {
		return []Frame{stringFrame(shared.EndEvent, shared.DoneSentinel)}
	}
	if frame, ok := dispatch(raw, fallbackEvent); ok {
		return []Frame{frame}
	}

	fragments := splitConcatenated(raw)
	frames := make([]Frame, 0, len(fragments))
	for _, fragment := range fragments {
		if frame, ok := dispatch(fragment, fallbackEvent); ok {
			frames = append(frames, frame)
			continue
		}
		frames = append(frames, stringFrame(fallbackEvent, fragment))
	}
	return frames
}

// dispatch parses text as a single JSON value. Objects with their own event
// key pass through verbatim, everything else is wrapped under fallbackEvent.
func dispatch(text, fallbackEvent string) (Frame, bool) {
	if text == "" || !json.Valid([]byte(text)) {
		return Frame{}, false
	}
	value := gjson.Parse(text)
	if value.IsObject() {
		if event := value.Get("event"); event.Exists() {
			return Frame{Event: event.String(), Verbatim: json.RawMessage(text)}, true
		}
	}
	return Frame{Event: fallbackEvent, Data: json.RawMessage(text)}, true
}

// splitConcatenated cuts `{...}{...}` at each object boundary and restores
// the braces the cut consumed.
func splitConcatenated(raw string) []string {
	parts := objectBoundary.Split(raw, -1)
	if len(parts) == 1 {
		return parts
	}
	for i := range parts {
		if i > 0 {
			parts[i] = "{" + parts[i]
		}
		if i < len(parts)-1 {
			parts[i] += "}"
		}
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
