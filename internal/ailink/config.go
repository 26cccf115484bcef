package ailink

import "time"

// Config defines provider configuration for AILink.
type Config struct {
	DefaultProvider string        `mapstructure:"default_provider"`
	DefaultTimeout  time.Duration `mapstructure:"default_timeout"`

	// PromptsDir overrides embedded stage prompts by slug.
	PromptsDir string `mapstructure:"prompts_dir"`

	// TraceFile, when set, receives one NDJSON line per provider call.
	TraceFile string `mapstructure:"trace_file"`

	// Providers is a set of provider instances keyed by a user-defined id (slug).
	// Each instance declares its underlying provider type via AIProvider.
	Providers map[string]ProviderInstanceConfig `mapstructure:"providers"`

	// Routing maps a stage role (query-rewriter, web-search, synthesis) to a provider id.
	Routing map[string]string `mapstructure:"routing"`
}

// ProviderInstanceConfig defines a configured provider instance (e.g. "work-openai").
type ProviderInstanceConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// AIProvider is the driver identifier ("openai" or "xai").
	AIProvider string `mapstructure:"ai_provider"`

	// SelectionPolicy controls which credential is chosen.
	// Supported values: "priority" (default), "round_robin".
	SelectionPolicy string `mapstructure:"selection_policy"`

	// DefaultCredential, if set, forces selecting the matching credential label.
	DefaultCredential string `mapstructure:"default_credential"`

	BaseURL string `mapstructure:"base_url"`

	// Models maps a stage role, or "default", to a model designator.
	Models map[string]string `mapstructure:"models"`
	Roles  []string          `mapstructure:"roles"`

	Credentials []CredentialConfig `mapstructure:"credentials"`
}

// CredentialConfig is a single credential for a provider instance.
type CredentialConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Label    string `mapstructure:"label"`
	APIKey   string `mapstructure:"api_key"`
	Priority int    `mapstructure:"priority"`
}
