package research

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// ContentType is the media type of a research stream.
const ContentType = "text/event-stream"

// WriteFrame writes ev as one server-sent event: "event: <type>" followed by a
// single JSON "data:" line.
func WriteFrame(w io.Writer, ev Event) error {
	data, err := EncodeData(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type(), data)
	return err
}

// WriteComment writes an SSE comment line, used for keep-alive pings.
func WriteComment(w io.Writer, text string) error {
	_, err := fmt.Fprintf(w, ": %s\n\n", strings.ReplaceAll(text, "\n", " "))
	return err
}

// EncodeData returns the JSON payload carried in the data field for ev.
func EncodeData(ev Event) ([]byte, error) {
	var payload any
	switch e := ev.(type) {
	case StatusEvent:
		payload = e.Status
	case QueryRewrittenEvent:
		payload = e.Query
	case SearchResultsEvent:
		payload = e.Text
	case SourcesEvent:
		sources := e.Sources
		if sources == nil {
			sources = []Source{}
		}
		payload = sources
	case SynthesisStartEvent, CompleteEvent:
		payload = nil
	case TextDeltaEvent:
		payload = e.Delta
	case ErrorEvent:
		payload = e
	case UnknownEvent:
		if len(e.Data) == 0 {
			return []byte("null"), nil
		}
		return e.Data, nil
	default:
		return nil, fmt.Errorf("unsupported research event %T", ev)
	}
	return json.Marshal(payload)
}

// DecodeEvent rebuilds an event from its tag and JSON payload. Unrecognized
// tags yield UnknownEvent so newer servers stay readable.
func DecodeEvent(eventType string, data []byte) (Event, error) {
	switch EventType(eventType) {
	case EventStatus:
		var status Status
		if err := json.Unmarshal(data, &status); err != nil {
			return nil, fmt.Errorf("decode status: %w", err)
		}
		if !status.Valid() {
			// A phase added by a newer server; readers skip it like an unknown tag.
			return UnknownEvent{Name: eventType, Data: append([]byte(nil), data...)}, nil
		}
		return StatusEvent{Status: status}, nil
	case EventQueryRewritten:
		var query string
		if err := json.Unmarshal(data, &query); err != nil {
			return nil, fmt.Errorf("decode query-rewritten: %w", err)
		}
		return QueryRewrittenEvent{Query: query}, nil
	case EventSearchResults:
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return nil, fmt.Errorf("decode search-results: %w", err)
		}
		return SearchResultsEvent{Text: text}, nil
	case EventSources:
		sources := []Source{}
		if err := json.Unmarshal(data, &sources); err != nil {
			return nil, fmt.Errorf("decode sources: %w", err)
		}
		if sources == nil {
			sources = []Source{}
		}
		return SourcesEvent{Sources: sources}, nil
	case EventSynthesisStart:
		return SynthesisStartEvent{}, nil
	case EventTextDelta:
		var delta string
		if err := json.Unmarshal(data, &delta); err != nil {
			return nil, fmt.Errorf("decode text-delta: %w", err)
		}
		return TextDeltaEvent{Delta: delta}, nil
	case EventComplete:
		return CompleteEvent{}, nil
	case EventError:
		var ev ErrorEvent
		if len(bytes.TrimSpace(data)) > 0 {
			if err := json.Unmarshal(data, &ev); err != nil {
				return nil, fmt.Errorf("decode error: %w", err)
			}
		}
		return ev, nil
	default:
		return UnknownEvent{Name: eventType, Data: append([]byte(nil), data...)}, nil
	}
}

// FrameReader parses a server-sent event stream into research events.
type FrameReader struct {
	r *bufio.Reader
}

// NewFrameReader wraps r.
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{r: bufio.NewReader(r)}
}

// Next returns the next event. Comments are skipped. It returns io.EOF when
// the stream ends cleanly between frames and io.ErrUnexpectedEOF when it ends
// inside one.
func (f *FrameReader) Next() (Event, error) {
	var (
		eventType string
		data      []string
		inFrame   bool
	)

	for {
		line, err := f.r.ReadString('\n')
		if err != nil {
			if err != io.EOF {
				return nil, err
			}
			rest := strings.TrimSpace(line)
			if inFrame || (rest != "" && !strings.HasPrefix(rest, ":")) {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, io.EOF
		}
		line = strings.TrimRight(line, "\r\n")

		switch {
		case line == "":
			if !inFrame {
				continue
			}
			if eventType == "" {
				eventType = "message"
			}
			return DecodeEvent(eventType, []byte(strings.Join(data, "\n")))
		case strings.HasPrefix(line, ":"):
			// comment
		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			inFrame = true
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
			inFrame = true
		}
	}
}
