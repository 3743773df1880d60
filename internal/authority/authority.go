package authority

import (
	"errors"

	"github.com/cbeuw/netcode/internal/token"
)

// ClientInfo is what the authority remembers about a client id
type ClientInfo struct {
	ClientID   uint64
	IssueCount uint64
	// LastIssued and LastExpire are the create and expire timestamps of the most recent token, in unix seconds
	LastIssued int64
	LastExpire int64
	Revoked    bool
}

var ErrClientNotFound = errors.New("client id is not known to the authority")
var ErrClientRevoked = errors.New("client has been revoked")

// Issuer mints connect tokens and keeps a registry of the clients it has minted them for
type Issuer interface {
	IssueToken(clientID uint64, userData []byte) (*token.ConnectToken, error)
	GetClientInfo(clientID uint64) (ClientInfo, error)
	ListAllClients() ([]ClientInfo, error)
	RevokeClient(clientID uint64) error
	DeleteClient(clientID uint64) error
}
