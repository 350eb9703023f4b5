package domain

// AgentSkill describes one named operation an agent advertises on its card.
type AgentSkill struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tags        []string `json:"tags,omitempty"`
}

// AgentCard is the self-description an agent publishes on its discovery
// endpoint for peers and operational tooling.
type AgentCard struct {
	Name         string            `json:"name"`
	Description  string            `json:"description"`
	Version      string            `json:"version"`
	URL          string            `json:"url"`
	Capabilities map[string]bool   `json:"capabilities"`
	Endpoints    map[string]string `json:"endpoints"`
	Skills       []AgentSkill      `json:"skills,omitempty"`
}
