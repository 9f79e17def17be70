package inksync

// ConnectionState tracks the relay connection lifecycle. Exactly one client
// exists per overlay and all transitions happen on the host event loop, so
// state changes are totally ordered.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateReconnecting ConnectionState = "reconnecting"
	StateFailed       ConnectionState = "failed"
	StateClosed       ConnectionState = "closed"
)
