package monitor

import "time"

// Event is one observed message passing through the gateway.
type Event struct {
	Timestamp time.Time
	Kind      string // "USER", "ASSISTANT" or "INTERRUPT"
	ChannelID string
	Username  string
	Content   string
}

// Monitor receives a copy of every message the gateway routes.
type Monitor interface {
	Start() error
	Stop() error
	OnEvent(ev Event)
}
