package constants

// HTTP paths served by the relay.
const (
	PathHealth   = "/health"
	PathReady    = "/ready"
	PathWS       = "/ws"
	PathSessions = "/sessions"
)
