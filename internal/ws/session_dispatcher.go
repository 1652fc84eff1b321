package ws

import "context"
import "go.uber.org/zap"

type incomingHandler func(context.Context, incomingMessage)

func (s *session) dispatchIncoming(ctx context.Context, msg incomingMessage) {
	handlers := map[string]incomingHandler{
		"status-request": s.onStatusRequest,
		"heartbeat":      s.onHeartbeat,
	}

	if handler, ok := handlers[msg.Type]; ok {
		handler(ctx, msg)
		return
	}
	s.logger.Debug("ws unknown message type",
		zap.String("session_id", s.id),
		zap.String("type", msg.Type),
	)
	s.sendJSON(outgoingEvent{Type: eventError, Message: "unknown message type: " + msg.Type})
}

func (s *session) onStatusRequest(_ context.Context, _ incomingMessage) {
	s.sendStatus(eventStatus)
}

func (s *session) onHeartbeat(_ context.Context, _ incomingMessage) {
	s.sendJSON(outgoingEvent{Type: eventPong})
}
