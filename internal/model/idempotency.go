package model

import "encoding/json"

// IdempotencyRecord is the state of an idempotency key reservation.
// Completed records carry the response to replay.
type IdempotencyRecord struct {
	Completed bool            `json:"completed"`
	Response  json.RawMessage `json:"response,omitempty"`
}
