package registry

// Vault is one watchlisted vault the service scores continuously.
type Vault struct {
	Address string `json:"address"`
	Version string `json:"version"`
	Label   string `json:"label,omitempty"`
}
