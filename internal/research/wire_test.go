package research

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFrameFormat(t *testing.T) {
	var buf bytes.Buffer

	require.NoError(t, WriteFrame(&buf, StatusEvent{Status: StatusSearching}))
	require.NoError(t, WriteFrame(&buf, SynthesisStartEvent{}))
	require.NoError(t, WriteFrame(&buf, TextDeltaEvent{Delta: "line one\nline two"}))
	require.NoError(t, WriteFrame(&buf, SourcesEvent{}))
	require.NoError(t, WriteFrame(&buf, ErrorEvent{Message: GenericFailureMessage}))

	assert.Equal(t, ""+
		"event: status\ndata: \"searching\"\n\n"+
		"event: synthesis-start\ndata: null\n\n"+
		"event: text-delta\ndata: \"line one\\nline two\"\n\n"+
		"event: sources\ndata: []\n\n"+
		"event: error\ndata: {\"message\":\"research failed\"}\n\n",
		buf.String())
}

func TestFrameRoundTripPreservesOrder(t *testing.T) {
	events := []Event{
		StatusEvent{Status: StatusRewritingQuery},
		QueryRewrittenEvent{Query: "quantum computing 2026"},
		StatusEvent{Status: StatusSearching},
		SearchResultsEvent{Text: "See [A](https://a.example)"},
		SourcesEvent{Sources: []Source{{Title: "A", URL: "https://a.example", Domain: "a.example"}}},
		StatusEvent{Status: StatusSynthesizing},
		SynthesisStartEvent{},
		TextDeltaEvent{Delta: "Hello"},
		TextDeltaEvent{Delta: " world\n"},
		StatusEvent{Status: StatusComplete},
		CompleteEvent{},
	}

	var buf bytes.Buffer
	for i, ev := range events {
		require.NoError(t, WriteFrame(&buf, ev))
		if i == 3 {
			require.NoError(t, WriteComment(&buf, "ping"))
		}
	}

	reader := NewFrameReader(&buf)
	var got []Event
	for {
		ev, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		got = append(got, ev)
	}
	assert.Equal(t, events, got)
}

func TestFrameReaderUnknownAndTruncated(t *testing.T) {
	stream := "event: citation-preview\ndata: {\"x\":1}\n\nevent: status\ndata: \"searching\""
	reader := NewFrameReader(strings.NewReader(stream))

	ev, err := reader.Next()
	require.NoError(t, err)
	assert.Equal(t, UnknownEvent{Name: "citation-preview", Data: []byte(`{"x":1}`)}, ev)
	assert.Equal(t, EventType("citation-preview"), ev.Type())

	_, err = reader.Next()
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestFrameReaderCRLFAndMultilineData(t *testing.T) {
	stream := "event: search-results\r\ndata: \"a\r\n\r\n"
	ev, err := NewFrameReader(strings.NewReader(stream)).Next()
	require.Error(t, err, "a split JSON string is not valid")
	assert.Nil(t, ev)

	stream = ": hello\r\n\r\nevent: complete\r\ndata: null\r\n\r\n"
	ev, err = NewFrameReader(strings.NewReader(stream)).Next()
	require.NoError(t, err)
	assert.Equal(t, CompleteEvent{}, ev)
}

func TestDecodeEventErrors(t *testing.T) {
	_, err := DecodeEvent("status", []byte(`{`))
	require.Error(t, err)

	ev, err := DecodeEvent("error", nil)
	require.NoError(t, err)
	assert.Equal(t, ErrorEvent{}, ev)

	ev, err = DecodeEvent("sources", []byte(`null`))
	require.NoError(t, err)
	assert.Equal(t, SourcesEvent{Sources: []Source{}}, ev)
}

func TestDecodeEventUnknownStatusIsSkippable(t *testing.T) {
	ev, err := DecodeEvent("status", []byte(`"ranking"`))
	require.NoError(t, err)
	assert.Equal(t, UnknownEvent{Name: "status", Data: []byte(`"ranking"`)}, ev)

	ev, err = DecodeEvent("status", []byte(`"searching"`))
	require.NoError(t, err)
	assert.Equal(t, StatusEvent{Status: StatusSearching}, ev)
}
