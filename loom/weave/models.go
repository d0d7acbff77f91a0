package weave

import (
	"fmt"
	"strings"
)

// Model is the closed set of chat models the engine can budget for.
type Model int

const (
	GPT3 Model = iota
	GPT4
)

// DefaultModel is used when configuration does not select one.
const DefaultModel = GPT3

// ModelProfile is the static descriptor of a model.
type ModelProfile struct {
	Name       string
	MaxContext int
}

var modelProfiles = [...]ModelProfile{
	GPT3: {Name: "gpt-3.5-turbo", MaxContext: 4_096},
	GPT4: {Name: "gpt-4", MaxContext: 8_192},
}

// Models lists every known model in declaration order.
func Models() []Model {
	out := make([]Model, len(modelProfiles))
	for i := range modelProfiles {
		out[i] = Model(i)
	}
	return out
}

func (m Model) Profile() ModelProfile { return modelProfiles[m] }

// Name is the provider-side model identifier.
func (m Model) Name() string { return modelProfiles[m].Name }

// MaxContext is the model's full context window in tokens.
func (m Model) MaxContext() int { return modelProfiles[m].MaxContext }

func (m Model) String() string { return m.Name() }

// ParseModel resolves a provider model name, case-insensitively.
func ParseModel(name string) (Model, error) {
	name = strings.TrimSpace(strings.ToLower(name))
	for i, p := range modelProfiles {
		if p.Name == name {
			return Model(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown model %q", ErrBadConfig, name)
}
