package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/chatlens/chatlens/internal/ailink"
	"github.com/chatlens/chatlens/internal/ailink/prompt"
	"github.com/chatlens/chatlens/internal/config"
	"github.com/chatlens/chatlens/internal/research"
)

// buildInvoker loads stage prompts (embedded defaults plus prompts_dir
// overrides) and the provider registry.
func buildInvoker(cfg *config.Config) (*ailink.Service, error) {
	prompts, err := prompt.RegistryWithOverrides(cfg.AILink.PromptsDir)
	if err != nil {
		return nil, fmt.Errorf("load prompts: %w", err)
	}
	return &ailink.Service{
		Providers: ailink.NewRegistry(cfg.AILink),
		Prompts:   prompts,
	}, nil
}

func researchModels(cfg config.ResearchConfig) research.Models {
	return research.Models{
		QueryRewriter: cfg.Models.QueryRewriter,
		WebSearch:     cfg.Models.WebSearch,
		Synthesis:     cfg.Models.Synthesis,
	}
}

// stageResolution is the provider a stage would call, or why it cannot.
type stageResolution struct {
	Stage      ailink.Stage
	ProviderID string
	Model      string
	Credential string
	// Warning is set when the stage routes but may not behave as its prompt expects.
	Warning string
	Err     error
}

// searchModelWarning is reported when a search prompt falls back to a model
// nobody chose for searching.
const searchModelWarning = "prompt needs a search-capable model; set research.models.web_search or the provider's web-search model"

// resolveStages resolves every pipeline stage without calling a provider.
func resolveStages(svc *ailink.Service, models research.Models) []stageResolution {
	pinned := map[ailink.Stage]string{
		ailink.StageQueryRewriter: models.QueryRewriter,
		ailink.StageWebSearch:     models.WebSearch,
		ailink.StageSynthesis:     models.Synthesis,
	}

	out := make([]stageResolution, 0, len(ailink.Stages))
	for _, stage := range ailink.Stages {
		res := stageResolution{Stage: stage}
		def, err := svc.Prompts.Get(string(stage))
		if err != nil {
			res.Err = fmt.Errorf("prompt: %w", err)
			out = append(out, res)
			continue
		}
		resolved, err := svc.Providers.Resolve(string(stage), def, pinned[stage])
		if err != nil {
			res.Err = err
			out = append(out, res)
			continue
		}
		res.ProviderID = resolved.ProviderID
		res.Model = resolved.Model
		res.Credential = resolved.Credential.Label
		if def.NeedsWebSearch() && !searchModelPinned(stage, pinned[stage], resolved.Provider) {
			res.Warning = searchModelWarning
		}
		out = append(out, res)
	}
	return out
}

func searchModelPinned(stage ailink.Stage, override string, provider ailink.ProviderInstanceConfig) bool {
	if strings.TrimSpace(override) != "" {
		return true
	}
	return strings.TrimSpace(provider.Models[string(stage)]) != ""
}

// providerHealthChecker reports unhealthy while any stage cannot be routed.
type providerHealthChecker struct {
	svc    *ailink.Service
	models research.Models
}

func (p providerHealthChecker) CheckHealth(ctx context.Context) error {
	for _, res := range resolveStages(p.svc, p.models) {
		if res.Err != nil {
			return fmt.Errorf("%s: %w", res.Stage, res.Err)
		}
	}
	return nil
}
