package communication

import "errors"

var (
	// Server startup/shutdown errors
	ErrServerStartFailed = errors.New("failed to start server")
	ErrGRPCListenFailed  = errors.New("failed to listen on address")

	// Client connection errors
	ErrConnectionFailed = errors.New("failed to connect to worker")
	ErrTransportClosed  = errors.New("transport closed")

	// Message handling errors
	ErrInvalidAction     = errors.New("invalid action")
	ErrInvalidReply      = errors.New("invalid reply")
	ErrMessageSendFailed = errors.New("failed to send message")

	// Serialization/deserialization errors
	ErrPayloadMarshalFailed   = errors.New("failed to marshal payload")
	ErrPayloadUnmarshalFailed = errors.New("failed to unmarshal payload")
	ErrMessageMarshalFailed   = errors.New("failed to marshal message")
	ErrInvalidJSON            = errors.New("invalid JSON in message")
)
