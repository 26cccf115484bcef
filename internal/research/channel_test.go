package research

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(ch *Channel) []Event {
	var events []Event
	for ev := range ch.Events() {
		events = append(events, ev)
	}
	return events
}

func TestChannelHappyPathOrder(t *testing.T) {
	ctx := context.Background()
	ch := NewChannel(16)

	require.NoError(t, ch.Emit(ctx, StatusEvent{Status: StatusRewritingQuery}))
	require.NoError(t, ch.Emit(ctx, QueryRewrittenEvent{Query: "q"}))
	require.NoError(t, ch.Emit(ctx, SynthesisStartEvent{}))
	require.NoError(t, ch.EmitDelta(ctx, "hello"))
	require.NoError(t, ch.Emit(ctx, StatusEvent{Status: StatusComplete}))
	require.NoError(t, ch.Emit(ctx, CompleteEvent{}))
	assert.True(t, ch.Done())
	ch.Close()
	ch.Close()

	events := drain(ch)
	require.Len(t, events, 6)
	assert.Equal(t, TextDeltaEvent{Delta: "hello"}, events[3])
	assert.Equal(t, CompleteEvent{}, events[5])
}

func TestChannelRejectsDeltaBeforeSynthesis(t *testing.T) {
	ch := NewChannel(4)
	err := ch.EmitDelta(context.Background(), "early")
	assert.ErrorIs(t, err, ErrDeltaBeforeSynthesis)
}

func TestChannelRejectsInterleavedControlEvents(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name  string
		setup []Event
		next  Event
	}{
		{"sources during stream", []Event{SynthesisStartEvent{}}, SourcesEvent{}},
		{"status during stream", []Event{SynthesisStartEvent{}}, StatusEvent{Status: StatusSearching}},
		{"second synthesis start", []Event{SynthesisStartEvent{}}, SynthesisStartEvent{}},
		{"complete without status", []Event{SynthesisStartEvent{}}, CompleteEvent{}},
		{"complete before synthesis", nil, CompleteEvent{}},
		{"status complete before synthesis", nil, StatusEvent{Status: StatusComplete}},
		{"anything after status complete", []Event{SynthesisStartEvent{}, StatusEvent{Status: StatusComplete}}, QueryRewrittenEvent{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := NewChannel(8)
			for _, ev := range tt.setup {
				require.NoError(t, ch.Emit(ctx, ev))
			}
			assert.ErrorIs(t, ch.Emit(ctx, tt.next), ErrInterleave)
		})
	}
}

func TestChannelRejectsDeltaAfterStatusComplete(t *testing.T) {
	ctx := context.Background()
	ch := NewChannel(8)
	require.NoError(t, ch.Emit(ctx, SynthesisStartEvent{}))
	require.NoError(t, ch.Emit(ctx, StatusEvent{Status: StatusComplete}))
	assert.ErrorIs(t, ch.EmitDelta(ctx, "late"), ErrInterleave)
}

func TestChannelErrorPathAllowedFromAnyPhase(t *testing.T) {
	ctx := context.Background()

	for _, setup := range [][]Event{
		nil,
		{StatusEvent{Status: StatusSearching}},
		{SynthesisStartEvent{}},
	} {
		ch := NewChannel(8)
		for _, ev := range setup {
			require.NoError(t, ch.Emit(ctx, ev))
		}
		require.NoError(t, ch.Emit(ctx, StatusEvent{Status: StatusError}))
		require.NoError(t, ch.Emit(ctx, ErrorEvent{Message: GenericFailureMessage}))
		assert.True(t, ch.Done())
		assert.ErrorIs(t, ch.Emit(ctx, StatusEvent{Status: StatusSearching}), ErrChannelClosed)
		assert.ErrorIs(t, ch.EmitDelta(ctx, "x"), ErrChannelClosed)
	}
}

func TestChannelRejectsErrorWithoutStatusError(t *testing.T) {
	ctx := context.Background()

	for _, setup := range [][]Event{
		nil,
		{StatusEvent{Status: StatusSearching}},
		{SynthesisStartEvent{}},
		{SynthesisStartEvent{}, StatusEvent{Status: StatusComplete}},
	} {
		ch := NewChannel(8)
		for _, ev := range setup {
			require.NoError(t, ch.Emit(ctx, ev))
		}
		assert.ErrorIs(t, ch.Emit(ctx, ErrorEvent{Message: GenericFailureMessage}), ErrInterleave)
		assert.False(t, ch.Done())
	}
}

func TestChannelClosedRejectsEmission(t *testing.T) {
	ch := NewChannel(1)
	ch.Close()
	assert.ErrorIs(t, ch.Emit(context.Background(), StatusEvent{Status: StatusSearching}), ErrChannelClosed)
	assert.Empty(t, drain(ch))
}

func TestChannelEmitRespectsContext(t *testing.T) {
	ch := NewChannel(1)
	require.NoError(t, ch.Emit(context.Background(), StatusEvent{Status: StatusRewritingQuery}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := ch.Emit(ctx, QueryRewrittenEvent{Query: "blocked"})
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestChannelRejectsMisroutedEvents(t *testing.T) {
	ch := NewChannel(1)
	ctx := context.Background()
	require.Error(t, ch.Emit(ctx, nil))
	require.Error(t, ch.Emit(ctx, TextDeltaEvent{Delta: "x"}))
	require.Error(t, ch.Emit(ctx, UnknownEvent{Name: "future"}))
}
