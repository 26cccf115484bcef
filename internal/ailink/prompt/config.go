package prompt

// Config describes a prompt definition loaded from YAML frontmatter.
type Config struct {
	Slug           string         `yaml:"slug" json:"slug" validate:"required,slug"`
	Name           string         `yaml:"name,omitempty" json:"name,omitempty"`
	Description    string         `yaml:"description,omitempty" json:"description,omitempty"`
	Version        string         `yaml:"version,omitempty" json:"version,omitempty"`
	Input          InputSpec      `yaml:"input,omitempty" json:"input,omitempty"`
	SystemTemplate string         `yaml:"system_template,omitempty" json:"system_template,omitempty" validate:"required"`
	UserTemplate   string         `yaml:"user_template,omitempty" json:"user_template,omitempty"`
	Temperature    *float32       `yaml:"temperature,omitempty" json:"temperature,omitempty" validate:"omitempty,gte=0,lte=2"`
	MaxTokens      *int           `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty" validate:"omitempty,gt=0"`
	ProviderHints  map[string]any `yaml:"provider_hints,omitempty" json:"provider_hints,omitempty"`
}

// InputSpec defines prompt input requirements.
type InputSpec struct {
	RequiredVariables []string `yaml:"required_variables,omitempty" json:"required_variables,omitempty"`
	OptionalVariables []string `yaml:"optional_variables,omitempty" json:"optional_variables,omitempty"`
}

// Prompt wraps a validated prompt configuration with its source.
type Prompt struct {
	Config Config
	Source string
}

// NeedsWebSearch reports whether the prompt expects a search-capable model.
func (p *Prompt) NeedsWebSearch() bool {
	if p == nil {
		return false
	}
	needs, _ := p.Config.ProviderHints["needs_web_search"].(bool)
	return needs
}
