package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/chatlens/chatlens/internal/errors"
	"github.com/chatlens/chatlens/internal/metrics"
	"github.com/chatlens/chatlens/internal/observability"
	"github.com/chatlens/chatlens/internal/research"
	"github.com/chatlens/chatlens/internal/server/middleware"
)

const maxResearchBodyBytes = 64 << 10

// ResearchRunner executes a research run and persists it once delivered.
type ResearchRunner interface {
	Run(ctx context.Context, req research.Request, ch *research.Channel) (*research.Outcome, error)
	Finish(ctx context.Context, outcome *research.Outcome) error
}

// ResearchOptions bounds each streamed run.
type ResearchOptions struct {
	MaxQueryLength    int
	MaxDuration       time.Duration
	ChannelBuffer     int
	KeepaliveInterval time.Duration
}

// ResearchHandler streams research runs as server-sent events.
type ResearchHandler struct {
	runner ResearchRunner
	opts   ResearchOptions
	active atomic.Int64

	// persisting tracks Finish calls still running after their response ended.
	persisting sync.WaitGroup
}

// NewResearchHandler builds the POST /research handler.
func NewResearchHandler(runner ResearchRunner, opts ResearchOptions) *ResearchHandler {
	if opts.MaxDuration <= 0 {
		opts.MaxDuration = 120 * time.Second
	}
	return &ResearchHandler{runner: runner, opts: opts}
}

// Active returns the number of streams currently open.
func (h *ResearchHandler) Active() int64 {
	return h.active.Load()
}

func (h *ResearchHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.SessionFrom(r.Context())
	if !ok {
		respondWithError(w, r, apperrors.NewUnauthorizedError("authentication required"))
		return
	}

	var req research.Request
	r.Body = http.MaxBytesReader(w, r.Body, maxResearchBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, r, apperrors.WrapInvalidInput(r.Context(), err, "request body must be a JSON object with id, query and chatId"))
		return
	}
	req.OwnerID = session.UserID

	if err := req.Validate(h.opts.MaxQueryLength); err != nil {
		var verr *research.ValidationError
		if errors.As(err, &verr) {
			respondWithError(w, r, apperrors.NewValidationError("invalid research request", verr.Fields))
			return
		}
		respondWithError(w, r, apperrors.WrapInvalidInput(r.Context(), err, "invalid research request"))
		return
	}

	h.stream(w, r, req)
}

func (h *ResearchHandler) stream(w http.ResponseWriter, r *http.Request, req research.Request) {
	logger := observability.ServerLogger
	requestID := middleware.GetRequestID(r.Context())

	ctx, cancel := context.WithTimeout(r.Context(), h.opts.MaxDuration)
	defer cancel()

	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Now().Add(h.opts.MaxDuration + 5*time.Second))

	header := w.Header()
	header.Set("Content-Type", research.ContentType)
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		if logger != nil {
			logger.Error("Response does not support streaming", zap.String("request_id", requestID), zap.Error(err))
		}
		return
	}

	metrics.SetActiveStreams(h.active.Add(1))
	defer func() { metrics.SetActiveStreams(h.active.Add(-1)) }()

	ch := research.NewChannel(h.opts.ChannelBuffer)
	g, gctx := errgroup.WithContext(ctx)

	var (
		outcome *research.Outcome
		runErr  error
	)
	g.Go(func() error {
		// A failed run has already reported itself on the channel; the writer
		// must still drain those frames, so it is not a group error.
		outcome, runErr = h.runner.Run(gctx, req, ch)
		return nil
	})
	g.Go(func() error {
		return writeEvents(gctx, w, rc, ch, h.opts.KeepaliveInterval)
	})

	writeErr := g.Wait()

	switch {
	case writeErr != nil:
		if logger != nil {
			logger.Info("Research stream aborted",
				zap.String("request_id", requestID),
				zap.String("chat_id", req.ChatID),
				zap.Error(writeErr))
		}
	case runErr != nil:
		// Already logged by the orchestrator; the client saw the error frame.
	case outcome != nil:
		h.finishAfterResponse(r.Context(), outcome)
	}
}

// finishAfterResponse persists outcome once ServeHTTP has returned, so the
// server can end the response without waiting on the store. Finish logs and
// counts its own failures.
func (h *ResearchHandler) finishAfterResponse(ctx context.Context, outcome *research.Outcome) {
	ctx = context.WithoutCancel(ctx)
	h.persisting.Add(1)
	go func() {
		defer h.persisting.Done()
		_ = h.runner.Finish(ctx, outcome)
	}()
}

// Drain waits for pending persistence to finish or ctx to end.
func (h *ResearchHandler) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.persisting.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("pending research persistence: %w", ctx.Err())
	}
}

// writeEvents copies channel events to the response until the channel closes.
// Any write or flush failure ends the stream.
func writeEvents(ctx context.Context, w http.ResponseWriter, rc *http.ResponseController, ch *research.Channel, keepalive time.Duration) error {
	var tick <-chan time.Time
	if keepalive > 0 {
		ticker := time.NewTicker(keepalive)
		defer ticker.Stop()
		tick = ticker.C
	}

	events := ch.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := research.WriteFrame(w, ev); err != nil {
				return fmt.Errorf("write %s frame: %w", ev.Type(), err)
			}
			if err := rc.Flush(); err != nil {
				return fmt.Errorf("flush %s frame: %w", ev.Type(), err)
			}
		case <-tick:
			if err := research.WriteComment(w, "ping"); err != nil {
				return fmt.Errorf("write keepalive: %w", err)
			}
			if err := rc.Flush(); err != nil {
				return fmt.Errorf("flush keepalive: %w", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
