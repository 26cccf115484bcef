package config

import (
	"os"
	"strconv"
	"strings"
)

// Provider and routing maps are keyed by user-chosen ids, so they cannot be
// listed as EnvVarSpecs. They are read by scanning the environment:
//
//	{PREFIX}AILINK_PROVIDERS_<ID>_<FIELD>=value
//	{PREFIX}AILINK_ROUTING_<ROLE>=provider-id
//
// <ID> and <ROLE> are upper snake case and become kebab-case slugs.

// providerField maps a trailing key suffix onto a provider setting.
type providerField struct {
	suffix []string
	key    string
	parse  func(string) any
}

var providerFields = []providerField{
	{suffix: []string{"ENABLED"}, key: "enabled", parse: parseEnvBool},
	{suffix: []string{"AI", "PROVIDER"}, key: "ai_provider", parse: lowerTrimmed},
	{suffix: []string{"BASE", "URL"}, key: "base_url", parse: trimmed},
	{suffix: []string{"DEFAULT", "CREDENTIAL"}, key: "default_credential", parse: trimmed},
	{suffix: []string{"SELECTION", "POLICY"}, key: "selection_policy", parse: lowerTrimmed},
	{suffix: []string{"ROLES"}, key: "roles", parse: parseRoleList},
}

func applyAILinkDynamicEnvOverrides(prefix string, overrides map[string]any) {
	providersKey := prefix + "AILINK_PROVIDERS_"
	routingKey := prefix + "AILINK_ROUTING_"

	for _, entry := range os.Environ() {
		key, value, ok := strings.Cut(entry, "=")
		if !ok || strings.TrimSpace(value) == "" {
			continue
		}
		if rest, found := strings.CutPrefix(key, providersKey); found {
			applyProviderEnv(overrides, strings.Split(rest, "_"), value)
			continue
		}
		if rest, found := strings.CutPrefix(key, routingKey); found {
			role, provider := toSlug(rest), strings.TrimSpace(value)
			if role != "" && provider != "" {
				nestedMap(overrides, "ailink", "routing")[role] = provider
			}
		}
	}
}

// applyProviderEnv splits parts into a provider id and a field at the first
// position where the remainder names a known field.
func applyProviderEnv(overrides map[string]any, parts []string, value string) {
	for split := 1; split < len(parts); split++ {
		id := toSlug(strings.Join(parts[:split], "_"))
		if id == "" {
			return
		}
		if applyProviderField(overrides, id, parts[split:], value) {
			return
		}
	}
}

func applyProviderField(overrides map[string]any, id string, field []string, value string) bool {
	provider := func() map[string]any {
		return nestedMap(overrides, "ailink", "providers", id)
	}

	for _, f := range providerFields {
		if equalParts(field, f.suffix) {
			provider()[f.key] = f.parse(value)
			return true
		}
	}

	switch {
	case field[0] == "MODELS" && len(field) >= 2:
		models := nestedMap(provider(), "models")
		models[strings.ToLower(strings.Join(field[1:], "_"))] = trimmed(value)
		return true
	case field[0] == "CREDENTIALS" && len(field) >= 3:
		idx, err := strconv.Atoi(field[1])
		if err != nil || idx < 0 {
			return false
		}
		name := strings.ToLower(strings.Join(field[2:], "_"))
		credentialAt(provider(), idx)[name] = credentialValue(name, value)
		return true
	}
	return false
}

func credentialValue(name, value string) any {
	switch name {
	case "enabled":
		return parseEnvBool(value)
	case "priority":
		if n, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return n
		}
	}
	return trimmed(value)
}

// nestedMap walks keys from root, creating maps as needed.
func nestedMap(root map[string]any, keys ...string) map[string]any {
	current := root
	for _, key := range keys {
		next, ok := current[key].(map[string]any)
		if !ok {
			next = map[string]any{}
			current[key] = next
		}
		current = next
	}
	return current
}

// credentialAt grows provider["credentials"] to hold idx and returns that entry.
func credentialAt(provider map[string]any, idx int) map[string]any {
	creds, _ := provider["credentials"].([]any)
	for len(creds) <= idx {
		creds = append(creds, map[string]any{})
	}
	provider["credentials"] = creds

	entry, ok := creds[idx].(map[string]any)
	if !ok {
		entry = map[string]any{}
		creds[idx] = entry
	}
	return entry
}

func equalParts(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func parseEnvBool(v string) any { return strings.EqualFold(strings.TrimSpace(v), "true") }
func trimmed(v string) any      { return strings.TrimSpace(v) }
func lowerTrimmed(v string) any { return strings.ToLower(strings.TrimSpace(v)) }

func parseRoleList(v string) any {
	roles := []any{}
	for _, role := range strings.Split(v, ",") {
		if slug := toSlug(strings.ReplaceAll(role, "-", "_")); slug != "" {
			roles = append(roles, slug)
		}
	}
	return roles
}

// toSlug turns an upper snake case key fragment into a kebab-case slug.
func toSlug(raw string) string {
	var words []string
	for _, word := range strings.Split(raw, "_") {
		if word = strings.ToLower(strings.TrimSpace(word)); word != "" {
			words = append(words, word)
		}
	}
	return strings.Join(words, "-")
}
