package client

import "fmt"

// State is where a client is in its connection lifecycle. Negative states are errors, reached only from a
// connection attempt or an established connection.
type State int

const (
	ConnectTokenExpired       State = -6
	InvalidConnectToken       State = -5
	ConnectionTimedOut        State = -4
	ChallengeResponseTimedOut State = -3
	ConnectionRequestTimedOut State = -2
	ConnectionDenied          State = -1
	Disconnected              State = 0
	SendingConnectionRequest  State = 1
	SendingChallengeResponse  State = 2
	Connected                 State = 3
)

func (s State) String() string {
	switch s {
	case ConnectTokenExpired:
		return "connect token expired"
	case InvalidConnectToken:
		return "invalid connect token"
	case ConnectionTimedOut:
		return "connection timed out"
	case ChallengeResponseTimedOut:
		return "challenge response timed out"
	case ConnectionRequestTimedOut:
		return "connection request timed out"
	case ConnectionDenied:
		return "connection denied"
	case Disconnected:
		return "disconnected"
	case SendingConnectionRequest:
		return "sending connection request"
	case SendingChallengeResponse:
		return "sending challenge response"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("unknown state %d", int(s))
	}
}

func (s State) IsError() bool { return s < Disconnected }
func (s State) IsPending() bool {
	return s == SendingConnectionRequest || s == SendingChallengeResponse
}
func (s State) IsConnected() bool    { return s == Connected }
func (s State) IsDisconnected() bool { return s <= Disconnected }
