package bus

import (
	"time"

	"github.com/cognicrew/crewdesk/internal/agent"
)

// SessionEnded is published by a channel when a chat session closes. The
// turns are the channel's own copy of the session history.
type SessionEnded struct {
	Channel       string
	SessionID     string
	AccountID     string
	AgentID       string
	Department    string
	Turns         []agent.Turn
	CustomerName  string
	CustomerEmail string
	Platform      string
	Reason        string
	Timestamp     time.Time
}

// TicketResult reports what happened to a SessionEnded event.
type TicketResult struct {
	Channel   string
	SessionID string
	TicketID  string
	Created   bool
	Err       string
}
