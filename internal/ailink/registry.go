package ailink

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/chatlens/chatlens/internal/ailink/driver"
	"github.com/chatlens/chatlens/internal/ailink/driver/openai"
	"github.com/chatlens/chatlens/internal/ailink/prompt"
)

// Registry routes stage roles to provider instances and caches one driver per
// provider credential.
type Registry struct {
	cfg Config

	mu      sync.Mutex
	drivers map[string]driver.Driver
	rr      map[string]int
}

// ResolvedProvider is the provider, credential, driver and model chosen for one call.
type ResolvedProvider struct {
	ProviderID string
	Provider   ProviderInstanceConfig
	Credential CredentialConfig
	Driver     driver.Driver
	Model      string
}

func NewRegistry(cfg Config) *Registry {
	return &Registry{cfg: cfg}
}

// Config returns the registry's configuration.
func (r *Registry) Config() Config {
	if r == nil {
		return Config{}
	}
	return r.cfg
}

// Resolve picks the provider for role and the model to call. modelOverride wins
// over the provider's per-role model, which wins over the prompt's preferred
// models and then the provider default.
func (r *Registry) Resolve(role string, promptDef *prompt.Prompt, modelOverride string) (*ResolvedProvider, error) {
	providerID, providerCfg, err := r.resolveProvider(role)
	if err != nil {
		return nil, err
	}

	cred, credKey, err := selectCredential(providerCfg, func(groupKey string, n int) int {
		return r.rrIndex(providerID+":"+groupKey, n)
	})
	if err != nil {
		return nil, fmt.Errorf("provider %q: %w", providerID, err)
	}

	drv, err := r.driverFor(providerID, providerCfg, cred, credKey)
	if err != nil {
		return nil, err
	}

	model, err := resolveModel(providerCfg, role, promptDef, modelOverride)
	if err != nil {
		return nil, fmt.Errorf("provider %q: %w", providerID, err)
	}

	return &ResolvedProvider{
		ProviderID: providerID,
		Provider:   providerCfg,
		Credential: cred,
		Driver:     drv,
		Model:      model,
	}, nil
}

// resolveProvider walks the routing chain for role: an explicit route, then
// the first enabled provider claiming the role, then the default provider,
// then the only enabled provider.
func (r *Registry) resolveProvider(role string) (string, ProviderInstanceConfig, error) {
	if r == nil {
		return "", ProviderInstanceConfig{}, fmt.Errorf("ailink registry not configured")
	}
	role = strings.TrimSpace(role)

	if routed := strings.TrimSpace(r.cfg.Routing[role]); role != "" && routed != "" {
		return r.enabledProvider(routed, fmt.Sprintf("routed for role %q", role))
	}

	ids := sortedProviderIDs(r.cfg.Providers)
	if role != "" {
		for _, id := range ids {
			if p := r.cfg.Providers[id]; p.Enabled && contains(p.Roles, role) {
				return id, p, nil
			}
		}
	}

	if id := strings.TrimSpace(r.cfg.DefaultProvider); id != "" {
		return r.enabledProvider(id, "default")
	}

	var enabled []string
	for _, id := range ids {
		if r.cfg.Providers[id].Enabled {
			enabled = append(enabled, id)
		}
	}
	switch len(enabled) {
	case 0:
		return "", ProviderInstanceConfig{}, fmt.Errorf("no enabled providers configured")
	case 1:
		return enabled[0], r.cfg.Providers[enabled[0]], nil
	default:
		return "", ProviderInstanceConfig{}, fmt.Errorf("no provider routing configured for role %q among %s", role, strings.Join(enabled, ", "))
	}
}

func (r *Registry) enabledProvider(id, how string) (string, ProviderInstanceConfig, error) {
	p, ok := r.cfg.Providers[id]
	switch {
	case !ok:
		return "", ProviderInstanceConfig{}, fmt.Errorf("provider %q (%s) is not configured", id, how)
	case !p.Enabled:
		return "", ProviderInstanceConfig{}, fmt.Errorf("provider %q (%s) is disabled", id, how)
	}
	return id, p, nil
}

// usable reports whether a credential can be selected. Unlabelled
// credentials count as enabled when they carry a key.
func (c CredentialConfig) usable() bool {
	if strings.TrimSpace(c.APIKey) == "" {
		return false
	}
	return c.Enabled || strings.TrimSpace(c.Label) == ""
}

// selectCredential returns the credential to call with and the key its driver
// is cached under. A labelled default wins; otherwise the highest priority
// group is used, rotating within it under the round_robin policy.
func selectCredential(cfg ProviderInstanceConfig, rrNext func(groupKey string, n int) int) (CredentialConfig, string, error) {
	if len(cfg.Credentials) == 0 {
		return CredentialConfig{}, "", fmt.Errorf("no credentials configured")
	}

	var candidates []CredentialConfig
	for _, cred := range cfg.Credentials {
		if cred.usable() {
			candidates = append(candidates, cred)
		}
	}
	if len(candidates) == 0 {
		// The driver reports the missing key on first call.
		return cfg.Credentials[0], credentialKey(cfg.Credentials[0], "0"), nil
	}

	if want := strings.TrimSpace(cfg.DefaultCredential); want != "" {
		if i := slices.IndexFunc(candidates, func(c CredentialConfig) bool {
			return strings.EqualFold(strings.TrimSpace(c.Label), want)
		}); i >= 0 {
			return candidates[i], strings.TrimSpace(candidates[i].Label), nil
		}
	}

	top := slices.MaxFunc(candidates, func(a, b CredentialConfig) int { return a.Priority - b.Priority }).Priority
	group := slices.DeleteFunc(slices.Clone(candidates), func(c CredentialConfig) bool { return c.Priority != top })

	pick := 0
	if rrNext != nil && strings.EqualFold(strings.TrimSpace(cfg.SelectionPolicy), "round_robin") {
		pick = rrNext(strconv.Itoa(top), len(group))
	}
	return group[pick], credentialKey(group[pick], fmt.Sprintf("p%d-%d", top, pick)), nil
}

func credentialKey(cred CredentialConfig, fallback string) string {
	if label := strings.TrimSpace(cred.Label); label != "" {
		return label
	}
	return fallback
}

// defaultBaseURLs lists the supported ai_provider types. An empty URL means
// the client's own default.
var defaultBaseURLs = map[string]string{
	"openai": "",
	"xai":    openai.XAIBaseURL,
}

// driverFor returns the cached driver for a provider credential, creating it
// on first use.
func (r *Registry) driverFor(providerID string, providerCfg ProviderInstanceConfig, cred CredentialConfig, credKey string) (driver.Driver, error) {
	if strings.TrimSpace(providerID) == "" {
		return nil, fmt.Errorf("provider id is required")
	}
	cacheKey := providerID
	if credKey = strings.TrimSpace(credKey); credKey != "" {
		cacheKey += ":" + credKey
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if drv, ok := r.drivers[cacheKey]; ok {
		return drv, nil
	}

	kind := strings.ToLower(strings.TrimSpace(providerCfg.AIProvider))
	baseURL, supported := defaultBaseURLs[kind]
	if !supported {
		if kind == "" {
			kind = "(unset)"
		}
		return nil, fmt.Errorf("unsupported ai_provider %q for provider %q", kind, providerID)
	}
	if configured := strings.TrimSpace(providerCfg.BaseURL); configured != "" {
		baseURL = configured
	}

	client := openai.NewClient(baseURL, cred.APIKey)
	client.Provider = kind
	client.Timeout = r.cfg.DefaultTimeout
	if r.drivers == nil {
		r.drivers = map[string]driver.Driver{}
	}
	r.drivers[cacheKey] = client
	return client, nil
}

func resolveModel(providerCfg ProviderInstanceConfig, role string, promptDef *prompt.Prompt, override string) (string, error) {
	if model := strings.TrimSpace(override); model != "" {
		return model, nil
	}

	if providerCfg.Models != nil {
		if model := strings.TrimSpace(providerCfg.Models[strings.TrimSpace(role)]); model != "" {
			return model, nil
		}
	}

	for _, model := range preferredModels(promptDef) {
		if model = strings.TrimSpace(model); model != "" {
			return model, nil
		}
	}

	if providerCfg.Models != nil {
		if model := strings.TrimSpace(providerCfg.Models["default"]); model != "" {
			return model, nil
		}
	}

	return "", fmt.Errorf("model not configured for role %q", role)
}

// preferredModels reads the prompt's provider_hints.preferred_models, which
// YAML may give as a single string or a list.
func preferredModels(promptDef *prompt.Prompt) []string {
	if promptDef == nil {
		return nil
	}
	var models []string
	add := func(v any) {
		if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
			models = append(models, s)
		}
	}
	switch hint := promptDef.Config.ProviderHints["preferred_models"].(type) {
	case []string:
		for _, m := range hint {
			add(m)
		}
	case []any:
		for _, m := range hint {
			add(m)
		}
	default:
		add(hint)
	}
	return models
}

// rrIndex returns the next rotation slot for key among n choices.
func (r *Registry) rrIndex(key string, n int) int {
	if n <= 1 || r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rr == nil {
		r.rr = map[string]int{}
	}
	slot := r.rr[key] % n
	r.rr[key] = slot + 1
	return slot
}

func sortedProviderIDs(providers map[string]ProviderInstanceConfig) []string {
	ids := make([]string, 0, len(providers))
	for id := range providers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func contains(values []string, needle string) bool {
	needle = strings.TrimSpace(needle)
	return needle != "" && slices.ContainsFunc(values, func(v string) bool {
		return strings.EqualFold(strings.TrimSpace(v), needle)
	})
}
