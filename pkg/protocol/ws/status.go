package ws

// Status is the connection state of a relay entry. Terminated and Banned
// are absorbing: once either is reached the entry never leaves it.
type Status int32

// The relay states.
const (
	StatusInitialized Status = iota
	StatusPending
	StatusConnecting
	StatusConnected
	StatusDisconnected
	StatusSleeping
	StatusTerminated
	StatusBanned
)

var statusNames = map[Status]string{
	StatusInitialized:  "initialized",
	StatusPending:      "pending",
	StatusConnecting:   "connecting",
	StatusConnected:    "connected",
	StatusDisconnected: "disconnected",
	StatusSleeping:     "sleeping",
	StatusTerminated:   "terminated",
	StatusBanned:       "banned",
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return "unknown"
}

// Absorbing reports whether the state can never be left.
func (s Status) Absorbing() bool {
	return s == StatusTerminated || s == StatusBanned
}

// DisconnectReason distinguishes how a connection ended.
type DisconnectReason int32

// The ways a connection ends.
const (
	ReasonRemoteClose DisconnectReason = iota + 1
	ReasonLocalClose
	ReasonIoError
	ReasonTimeout
)

var disconnectNames = map[DisconnectReason]string{
	ReasonRemoteClose: "remote close",
	ReasonLocalClose:  "local close",
	ReasonIoError:     "io error",
	ReasonTimeout:     "timeout",
}

func (d DisconnectReason) String() string {
	if n, ok := disconnectNames[d]; ok {
		return n
	}
	return "unknown"
}
