package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"

	gferrors "github.com/fulmenhq/gofulmen/errors"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/chatlens/chatlens/internal/config"
	apperrors "github.com/chatlens/chatlens/internal/errors"
	"github.com/chatlens/chatlens/internal/observability"
	"github.com/chatlens/chatlens/internal/research"
	"github.com/chatlens/chatlens/internal/research/client"
)

var (
	researchServer string
	researchToken  string
	researchChatID string
	researchJSON   bool
)

var (
	errAbruptDisconnect = errors.New("stream ended without a terminal event")
	errRunFailed        = errors.New("research run failed")
)

// remoteError is a non-stream response from the research endpoint.
type remoteError struct {
	Status  int
	Code    string
	Message string
}

func (e *remoteError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("server returned %d %s: %s", e.Status, e.Code, e.Message)
}

var researchCmd = &cobra.Command{
	Use:   "research <query>",
	Short: "Run a research query against a chatlens server",
	Long: `Stream a research run from a running server, printing each phase, the
rewritten query, the extracted sources and the synthesized answer as it arrives.

The bearer token is read from --token or CHATLENS_TOKEN.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runResearch,
}

func init() {
	rootCmd.AddCommand(researchCmd)

	researchCmd.Flags().StringVar(&researchServer, "server", "", "server base URL (default derived from server.host and server.port)")
	researchCmd.Flags().StringVar(&researchToken, "token", "", "bearer token")
	researchCmd.Flags().StringVar(&researchChatID, "chat", "", "conversation id to append to (default: new conversation)")
	researchCmd.Flags().BoolVar(&researchJSON, "json", false, "print the final research state as JSON instead of streaming text")
}

func runResearch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	baseURL := strings.TrimSpace(researchServer)
	if baseURL == "" {
		cfg, err := config.Load(ctx)
		if err != nil {
			return apperrors.WrapConfigInvalid(ctx, err, "config load failed")
		}
		baseURL = "http://" + net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	}

	token := strings.TrimSpace(researchToken)
	if token == "" {
		token = strings.TrimSpace(os.Getenv(GetAppIdentity().EnvPrefix + "TOKEN"))
	}

	chatID := strings.TrimSpace(researchChatID)
	if chatID == "" {
		chatID = uuid.NewString()
	}

	req := research.Request{
		ID:     uuid.NewString(),
		Query:  strings.Join(args, " "),
		ChatID: chatID,
	}
	if err := req.Validate(0); err != nil {
		return apperrors.WrapInvalidInput(ctx, err, "invalid research request")
	}

	observability.CLILogger.Debug("Starting research",
		zap.String("server", baseURL),
		zap.String("chat_id", chatID),
		zap.String("request_id", req.ID))

	rc := &researchClient{httpClient: http.DefaultClient, baseURL: baseURL, token: token}
	out := cmd.OutOrStdout()

	var render func(research.Event, client.State)
	if !researchJSON {
		render = (&textRenderer{w: out}).render
	}

	state, err := rc.stream(ctx, req, render)

	if researchJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(researchResult{ChatID: chatID, State: state}); encErr != nil {
			return encErr
		}
	}

	return researchExitError(ctx, err)
}

// researchResult is the --json output.
type researchResult struct {
	ChatID string `json:"chatId"`
	client.State
}

func researchExitError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	var remote *remoteError
	switch {
	case errors.As(err, &remote):
		code := remote.Code
		if code == "" {
			code = apperrors.CodeExternalService
		}
		return gferrors.NewErrorEnvelope(code, remote.Error())
	case errors.Is(err, errRunFailed), errors.Is(err, errAbruptDisconnect):
		return apperrors.WrapExternalService(ctx, err, err.Error())
	default:
		return apperrors.WrapExternalService(ctx, err, "research request failed")
	}
}

// researchClient posts a research request and folds the event stream through
// the client reducer.
type researchClient struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// stream runs one research request. render, when set, sees every event with
// the state after applying it. The returned state is the last one reached,
// also on error.
func (c *researchClient) stream(ctx context.Context, req research.Request, render func(research.Event, client.State)) (client.State, error) {
	holder := client.NewHolder()

	body, err := json.Marshal(req)
	if err != nil {
		return holder.Snapshot(), fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.baseURL, "/")+"/research", bytes.NewReader(body))
	if err != nil {
		return holder.Snapshot(), fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", research.ContentType)
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return holder.Snapshot(), fmt.Errorf("post research: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return holder.Snapshot(), decodeRemoteError(resp)
	}

	reader := research.NewFrameReader(resp.Body)
	for {
		ev, err := reader.Next()
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return holder.Snapshot(), errAbruptDisconnect
		}
		if err != nil {
			return holder.Snapshot(), fmt.Errorf("read research stream: %w", err)
		}

		state := holder.Apply(ev)
		if render != nil {
			render(ev, state)
		}

		switch e := ev.(type) {
		case research.CompleteEvent:
			return state, nil
		case research.ErrorEvent:
			return state, fmt.Errorf("%w: %s", errRunFailed, e.Message)
		}
	}
}

func decodeRemoteError(resp *http.Response) error {
	remote := &remoteError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	var payload struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&payload); err == nil {
		remote.Code = payload.Error.Code
		if payload.Error.Message != "" {
			remote.Message = payload.Error.Message
		}
	}
	return remote
}

// textRenderer prints a research run as it streams.
type textRenderer struct {
	w         io.Writer
	inAnswer  bool
	lastPhase research.Status
}

func (r *textRenderer) render(ev research.Event, state client.State) {
	switch e := ev.(type) {
	case research.StatusEvent:
		if e.Status == r.lastPhase || e.Status.Terminal() {
			return
		}
		r.lastPhase = e.Status
		r.endAnswer()
		_, _ = fmt.Fprintf(r.w, "» %s\n", phaseLabel(e.Status))
	case research.QueryRewrittenEvent:
		_, _ = fmt.Fprintf(r.w, "  query: %s\n", e.Query)
	case research.SourcesEvent:
		if len(e.Sources) == 0 {
			_, _ = fmt.Fprintln(r.w, "  no sources found")
			return
		}
		for i, src := range e.Sources {
			title := src.Title
			if strings.TrimSpace(title) == "" {
				title = src.URL
			}
			_, _ = fmt.Fprintf(r.w, "  [%d] %s (%s)\n", i+1, title, src.Domain)
		}
	case research.SynthesisStartEvent:
		_, _ = fmt.Fprintln(r.w)
		r.inAnswer = true
	case research.TextDeltaEvent:
		_, _ = io.WriteString(r.w, e.Delta)
	case research.CompleteEvent:
		r.endAnswer()
	case research.ErrorEvent:
		r.endAnswer()
		_, _ = fmt.Fprintf(r.w, "error: %s\n", e.Message)
	}
}

func (r *textRenderer) endAnswer() {
	if r.inAnswer {
		_, _ = fmt.Fprintln(r.w)
		r.inAnswer = false
	}
}

func phaseLabel(s research.Status) string {
	switch s {
	case research.StatusRewritingQuery:
		return "Rewriting query"
	case research.StatusSearching:
		return "Searching the web"
	case research.StatusSynthesizing:
		return "Synthesizing answer"
	default:
		return string(s)
	}
}
