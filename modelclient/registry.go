package modelclient

import "fmt"

// Provider identifies which concrete adapter backs a Client.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
	ProviderBedrock   Provider = "bedrock"
)

// Registry resolves a configured Client by provider name, used by LLM nodes
// and by the proxy manager's transform targets (spec.md §4.5).
type Registry struct {
	clients map[Provider]Client
}

// NewRegistry builds a Registry from a provider-to-client map.
func NewRegistry(clients map[Provider]Client) *Registry {
	return &Registry{clients: clients}
}

// Get returns the client registered for provider, or an error if absent.
func (r *Registry) Get(p Provider) (Client, error) {
	c, ok := r.clients[p]
	if !ok {
		return nil, fmt.Errorf("modelclient: no client registered for provider %q", p)
	}
	return c, nil
}
