package research

// EventType tags a research event on the wire.
type EventType string

const (
	EventStatus         EventType = "status"
	EventQueryRewritten EventType = "query-rewritten"
	EventSearchResults  EventType = "search-results"
	EventSources        EventType = "sources"
	EventSynthesisStart EventType = "synthesis-start"
	EventTextDelta      EventType = "text-delta"
	EventComplete       EventType = "complete"
	EventError          EventType = "error"
)

// Event is one unit on the research stream. The set of implementations is
// closed; decoders map unrecognized tags to UnknownEvent.
type Event interface {
	Type() EventType
	isEvent()
}

// StatusEvent reports a phase transition.
type StatusEvent struct {
	Status Status
}

// QueryRewrittenEvent carries the rewritten search query.
type QueryRewrittenEvent struct {
	Query string
}

// SearchResultsEvent carries the raw search stage output.
type SearchResultsEvent struct {
	Text string
}

// SourcesEvent carries the citations extracted from the search results.
type SourcesEvent struct {
	Sources []Source
}

// SynthesisStartEvent marks the start of streamed answer tokens.
type SynthesisStartEvent struct{}

// TextDeltaEvent is one increment of the synthesized answer.
type TextDeltaEvent struct {
	Delta string
}

// CompleteEvent terminates a successful run.
type CompleteEvent struct{}

// ErrorEvent terminates a failed run. Message is always generic.
type ErrorEvent struct {
	Message string `json:"message"`
}

// UnknownEvent preserves a frame whose tag this build does not recognize.
type UnknownEvent struct {
	Name string
	Data []byte
}

func (StatusEvent) Type() EventType         { return EventStatus }
func (QueryRewrittenEvent) Type() EventType { return EventQueryRewritten }
func (SearchResultsEvent) Type() EventType  { return EventSearchResults }
func (SourcesEvent) Type() EventType        { return EventSources }
func (SynthesisStartEvent) Type() EventType { return EventSynthesisStart }
func (TextDeltaEvent) Type() EventType      { return EventTextDelta }
func (CompleteEvent) Type() EventType       { return EventComplete }
func (ErrorEvent) Type() EventType          { return EventError }
func (e UnknownEvent) Type() EventType      { return EventType(e.Name) }

func (StatusEvent) isEvent()         {}
func (QueryRewrittenEvent) isEvent() {}
func (SearchResultsEvent) isEvent()  {}
func (SourcesEvent) isEvent()        {}
func (SynthesisStartEvent) isEvent() {}
func (TextDeltaEvent) isEvent()      {}
func (CompleteEvent) isEvent()       {}
func (ErrorEvent) isEvent()          {}
func (UnknownEvent) isEvent()        {}
