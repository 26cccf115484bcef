package ailink

import "context"

// Stage names one model call of the research pipeline. It doubles as the
// routing role and the prompt slug.
type Stage string

const (
	StageQueryRewriter Stage = "query-rewriter"
	StageWebSearch     Stage = "web-search"
	StageSynthesis     Stage = "synthesis"
)

// Stages lists the pipeline stages in execution order.
var Stages = []Stage{StageQueryRewriter, StageWebSearch, StageSynthesis}

// Invocation is one stage call: the stage selects the system instruction,
// Model optionally pins the model designator, and Prompt is the user turn.
type Invocation struct {
	Stage  Stage
	Model  string
	Prompt string
}

// TokenStream yields synthesis text deltas until Recv returns io.EOF.
type TokenStream interface {
	Recv() (string, error)
	Close() error
}

// Invoker executes single pipeline stages. It never retries.
type Invoker interface {
	Invoke(ctx context.Context, inv Invocation) (string, error)
	InvokeStreaming(ctx context.Context, inv Invocation) (TokenStream, error)
}
