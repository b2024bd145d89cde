package types

// Event represents a typed notification emitted during settlement processing.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
