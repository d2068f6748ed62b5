package platform

// State is a runtime's position in the Disconnected -> Connecting ->
// Connected -> {Disconnected, Error} state machine.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateError        State = "error"
)
