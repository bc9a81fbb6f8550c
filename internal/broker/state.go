package broker

// ConnState is the supervisor's view of the broker session.
type ConnState int32

const (
	Disconnected ConnState = iota
	Connecting
	Connected
	// Degraded: a health check failed and the session is being torn down.
	Degraded
)

func (s ConnState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Degraded:
		return "degraded"
	default:
		return "unknown"
	}
}
