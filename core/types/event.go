package types

// Event represents a typed event emitted during state transitions. Keys lists
// the attribute names in their canonical emission order so indexers can
// rebuild positional payloads.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	Keys       []string          `json:"keys,omitempty"`
}

// Set appends the attribute, recording its position.
func (e *Event) Set(key, value string) {
	if e.Attributes == nil {
		e.Attributes = make(map[string]string)
	}
	if _, exists := e.Attributes[key]; !exists {
		e.Keys = append(e.Keys, key)
	}
	e.Attributes[key] = value
}

// Ordered returns the attribute values in emission order.
func (e *Event) Ordered() []string {
	if e == nil {
		return nil
	}
	values := make([]string, 0, len(e.Keys))
	for _, key := range e.Keys {
		values = append(values, e.Attributes[key])
	}
	return values
}
