package ws

import (
	"time"

	"github.com/saker-ai/render-bridge/internal/server"
)

// Event types pushed to panel clients.
const (
	eventStatus = "status"
	eventError  = "error"
	eventPong   = "pong"

	EventServerStarted = "server-started"
	EventServerStopped = "server-stopped"
	EventCleanup       = "cleanup"
)

type incomingMessage struct {
	Type string `json:"type"`
}

type outgoingEvent struct {
	Type    string         `json:"type"`
	Status  *server.Status `json:"status,omitempty"`
	Message string         `json:"message,omitempty"`
	Time    time.Time      `json:"time,omitzero"`
}
