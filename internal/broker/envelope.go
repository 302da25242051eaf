package broker

import "encoding/json"

// Envelope is the wire shape internal/publisher wraps every outbox
// event in before handing it to a Broker. Kind is "checkpoint" or
// "reorg" (store.Event.Kind, carried through unchanged).
type Envelope struct {
	Version string          `json:"version"`
	Kind    string          `json:"kind"`
	Height  int64           `json:"height"`
	Payload json.RawMessage `json:"payload"`
}
