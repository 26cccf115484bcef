package research

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chatlens/chatlens/internal/ailink"
	"github.com/chatlens/chatlens/internal/metrics"
	"github.com/chatlens/chatlens/internal/observability"
)

// ErrStageFailed wraps every stage invocation failure returned by Run.
var ErrStageFailed = errors.New("research stage failed")

// GenericFailureMessage is the only failure detail clients ever see.
const GenericFailureMessage = "research failed"

const defaultPersistTimeout = 10 * time.Second

// Persister stores the messages of a completed run.
type Persister interface {
	SaveMessages(ctx context.Context, batch MessageBatch) error
}

// Models pins a model designator per stage. Empty fields use provider routing.
type Models struct {
	QueryRewriter string
	WebSearch     string
	Synthesis     string
}

func (m Models) forStage(stage ailink.Stage) string {
	switch stage {
	case ailink.StageQueryRewriter:
		return m.QueryRewriter
	case ailink.StageWebSearch:
		return m.WebSearch
	case ailink.StageSynthesis:
		return m.Synthesis
	default:
		return ""
	}
}

// Orchestrator runs the three research stages and reports progress on a Channel.
type Orchestrator struct {
	Invoker        ailink.Invoker
	Persister      Persister
	Models         Models
	PersistTimeout time.Duration
	Logger         *logging.Logger

	Now   func() time.Time
	NewID func() string
}

// Outcome is what a successful run produced. Messages are persisted by Finish.
type Outcome struct {
	Request        Request
	RewrittenQuery string
	SearchResults  string
	Sources        []Source
	Answer         string
	Deltas         int
	Messages       []Message
}

// Run executes the pipeline for req, emitting every event on ch and closing it
// before returning. On a stage failure it emits status(error) and an error
// frame and returns an error wrapping ErrStageFailed. Nothing is persisted.
func (o *Orchestrator) Run(ctx context.Context, req Request, ch *Channel) (*Outcome, error) {
	defer ch.Close()

	if o == nil || o.Invoker == nil {
		return nil, errors.New("research orchestrator not configured")
	}

	start := o.now()
	logger := o.logger()
	if logger != nil {
		logger.Info("Research run started",
			zap.String("request_id", req.ID),
			zap.String("chat_id", req.ChatID),
		)
	}

	outcome, err := o.run(ctx, req, ch)
	status := "complete"
	switch {
	case err == nil:
	case ctx.Err() != nil:
		status = "cancelled"
	default:
		status = "error"
	}
	metrics.RecordResearchRun(status)

	if logger != nil {
		fields := []zap.Field{
			zap.String("request_id", req.ID),
			zap.String("chat_id", req.ChatID),
			zap.String("status", status),
			zap.Duration("duration", o.now().Sub(start)),
		}
		if err != nil {
			fields = append(fields, failureFields(err)...)
			logger.Error("Research run failed", append(fields, zap.Error(err))...)
		} else {
			logger.Info("Research run completed", append(fields,
				zap.Int("sources", len(outcome.Sources)),
				zap.Int("deltas", outcome.Deltas),
			)...)
		}
	}
	return outcome, err
}

// failureFields names the failed stage and its provider error code.
func failureFields(err error) []zap.Field {
	var ie *ailink.InvokeError
	if !errors.As(err, &ie) || ie == nil {
		return nil
	}
	fields := []zap.Field{zap.String("stage", string(ie.Stage))}
	if ie.Code != "" {
		fields = append(fields, zap.String("error_code", ie.Code))
	}
	return fields
}

func (o *Orchestrator) run(ctx context.Context, req Request, ch *Channel) (*Outcome, error) {
	out := &Outcome{Request: req}

	if err := ch.Emit(ctx, StatusEvent{Status: StatusRewritingQuery}); err != nil {
		return nil, err
	}
	rewritten, err := o.invoke(ctx, ailink.StageQueryRewriter, req.Query)
	if err != nil {
		return nil, o.fail(ctx, ch, ailink.StageQueryRewriter, err)
	}
	out.RewrittenQuery = rewritten
	if err := ch.Emit(ctx, QueryRewrittenEvent{Query: rewritten}); err != nil {
		return nil, err
	}

	if err := ch.Emit(ctx, StatusEvent{Status: StatusSearching}); err != nil {
		return nil, err
	}
	results, err := o.invoke(ctx, ailink.StageWebSearch, SearchPrompt(rewritten))
	if err != nil {
		return nil, o.fail(ctx, ch, ailink.StageWebSearch, err)
	}
	out.SearchResults = results
	out.Sources = ExtractSources(results)
	if err := ch.Emit(ctx, SearchResultsEvent{Text: results}); err != nil {
		return nil, err
	}
	if err := ch.Emit(ctx, SourcesEvent{Sources: out.Sources}); err != nil {
		return nil, err
	}

	if err := ch.Emit(ctx, StatusEvent{Status: StatusSynthesizing}); err != nil {
		return nil, err
	}
	if err := ch.Emit(ctx, SynthesisStartEvent{}); err != nil {
		return nil, err
	}
	answer, deltas, err := o.synthesize(ctx, ch, SynthesisPrompt(req.Query, rewritten, results, out.Sources))
	if err != nil {
		return nil, err
	}
	out.Answer = answer
	out.Deltas = deltas

	if err := ch.Emit(ctx, StatusEvent{Status: StatusComplete}); err != nil {
		return nil, err
	}
	if err := ch.Emit(ctx, CompleteEvent{}); err != nil {
		return nil, err
	}

	out.Messages = o.buildMessages(req, out)
	return out, nil
}

// synthesize forwards the streamed answer to ch and returns the full text.
func (o *Orchestrator) synthesize(ctx context.Context, ch *Channel, prompt string) (string, int, error) {
	stage := ailink.StageSynthesis
	start := o.now()

	stream, err := o.Invoker.InvokeStreaming(ctx, ailink.Invocation{Stage: stage, Model: o.Models.forStage(stage), Prompt: prompt})
	if err != nil {
		metrics.RecordStage(string(stage), false, o.now().Sub(start))
		return "", 0, o.fail(ctx, ch, stage, err)
	}
	defer stream.Close() //nolint:errcheck // stream already drained or abandoned

	var (
		answer strings.Builder
		deltas int
	)
	for {
		delta, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			metrics.RecordStage(string(stage), false, o.now().Sub(start))
			metrics.RecordTokens(deltas)
			return "", deltas, o.fail(ctx, ch, stage, err)
		}
		if delta == "" {
			continue
		}
		if err := ch.EmitDelta(ctx, delta); err != nil {
			metrics.RecordTokens(deltas)
			return "", deltas, err
		}
		answer.WriteString(delta)
		deltas++
	}

	metrics.RecordStage(string(stage), true, o.now().Sub(start))
	metrics.RecordTokens(deltas)
	return answer.String(), deltas, nil
}

func (o *Orchestrator) invoke(ctx context.Context, stage ailink.Stage, prompt string) (string, error) {
	start := o.now()
	text, err := o.Invoker.Invoke(ctx, ailink.Invocation{Stage: stage, Model: o.Models.forStage(stage), Prompt: prompt})
	metrics.RecordStage(string(stage), err == nil, o.now().Sub(start))

	if logger := o.logger(); logger != nil {
		logger.Debug("Research stage finished",
			zap.String("stage", string(stage)),
			zap.Bool("success", err == nil),
			zap.Duration("duration", o.now().Sub(start)),
		)
	}
	return text, err
}

// fail emits the terminal error frames and wraps cause. Emission is best
// effort: a cancelled context means the client is gone.
func (o *Orchestrator) fail(ctx context.Context, ch *Channel, stage ailink.Stage, cause error) error {
	if err := ch.Emit(ctx, StatusEvent{Status: StatusError}); err == nil {
		_ = ch.Emit(ctx, ErrorEvent{Message: GenericFailureMessage})
	}
	return fmt.Errorf("%w: %s: %w", ErrStageFailed, stage, cause)
}

func (o *Orchestrator) buildMessages(req Request, out *Outcome) []Message {
	now := o.now().UTC()
	return []Message{
		{
			ID:             o.newID(),
			ConversationID: req.ChatID,
			Role:           RoleUser,
			Parts:          []Part{{Type: PartText, Text: req.Query}},
			CreatedAt:      now,
		},
		{
			ID:             o.newID(),
			ConversationID: req.ChatID,
			Role:           RoleAssistant,
			Parts: []Part{
				{Type: PartResearch, RewrittenQuery: out.RewrittenQuery, Sources: out.Sources},
				{Type: PartText, Text: out.Answer},
			},
			// Ordered after the user turn even at clock resolution.
			CreatedAt: now.Add(time.Millisecond),
		},
	}
}

// Finish persists a completed run in one batch. It runs on a context detached
// from the request so a closed connection cannot abort the write. Failures are
// logged and counted; the client already has its answer.
func (o *Orchestrator) Finish(ctx context.Context, outcome *Outcome) error {
	if outcome == nil || len(outcome.Messages) == 0 {
		return nil
	}
	if o.Persister == nil {
		return errors.New("research persister not configured")
	}

	timeout := o.PersistTimeout
	if timeout <= 0 {
		timeout = defaultPersistTimeout
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	batch := MessageBatch{
		ConversationID: outcome.Request.ChatID,
		OwnerID:        outcome.Request.OwnerID,
		Title:          ConversationTitle(outcome.Request.Query),
		Messages:       outcome.Messages,
	}

	err := o.Persister.SaveMessages(ctx, batch)
	metrics.RecordPersist(err == nil)
	if err != nil {
		if logger := o.logger(); logger != nil {
			logger.Error("Failed to persist research messages",
				zap.String("request_id", outcome.Request.ID),
				zap.String("chat_id", outcome.Request.ChatID),
				zap.Int("messages", len(outcome.Messages)),
				zap.Error(err),
			)
		}
		return fmt.Errorf("persist research messages: %w", err)
	}
	return nil
}

func (o *Orchestrator) logger() *logging.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return observability.ServerLogger
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func (o *Orchestrator) newID() string {
	if o.NewID != nil {
		return o.NewID()
	}
	return uuid.NewString()
}

// SearchPrompt builds the web-search stage input from the rewritten query.
func SearchPrompt(rewrittenQuery string) string {
	return "Search the web for: " + rewrittenQuery
}

// SynthesisPrompt concatenates everything the synthesis stage needs.
func SynthesisPrompt(query, rewrittenQuery, searchResults string, sources []Source) string {
	var b strings.Builder
	b.WriteString("Original question:\n")
	b.WriteString(query)
	b.WriteString("\n\nRewritten search query:\n")
	b.WriteString(rewrittenQuery)
	b.WriteString("\n\nSearch results:\n")
	b.WriteString(searchResults)
	b.WriteString("\n\nSources:\n")
	b.WriteString(FormatSources(sources))
	return b.String()
}
