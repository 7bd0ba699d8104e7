package models

// Envelope is the client-facing message frame used on both the websocket
// request path and the push path, and for commands sent to devices.
type Envelope struct {
	Action string `json:"action"`
	Data   any    `json:"data,omitempty"`
}
