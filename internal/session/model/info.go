package model

import "time"

// SessionInfo is the lightweight metadata record used for listing sessions
// without loading their full chat history.
type SessionInfo struct {
	SessionID           string    `json:"sessionId"`
	Cwd                 string    `json:"cwd"`
	Summary             string    `json:"summary,omitempty"`
	MessageCount        int       `json:"messageCount"`
	LastActivity        time.Time `json:"lastActivity"`
	LastUserMessage     string    `json:"lastUserMessage,omitempty"`
	LastAssistantMessage string   `json:"lastAssistantMessage,omitempty"`
	HasAgentResponse    bool      `json:"hasAgentResponse"`
}

// ActiveSession is the registry-side record for a session the gateway has
// live state for (as opposed to one merely discovered on disk).
type ActiveSession struct {
	ID           string
	Cwd          string
	CreatedAt    time.Time
	LastActivity time.Time
	Modes        *Modes
	Models       map[string]interface{}
}
