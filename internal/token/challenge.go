package token

import (
	"github.com/cbeuw/netcode/internal/common"
)

const ChallengeTokenBytes = 300

// Challenge is what the server asks a client to echo back before it gets a slot. It is sealed under a key only
// the server knows, so a client that can echo it must be receiving packets at the address it claims.
type Challenge struct {
	ClientID uint64
	UserData [UserDataBytes]byte
}

func SealChallenge(c *Challenge, sequence uint64, key []byte) (sealed [ChallengeTokenBytes]byte, err error) {
	plain := make([]byte, ChallengeTokenBytes-MACBytes)
	w := common.NewWireWriter(plain)
	w.Uint64(c.ClientID)
	w.Bytes(c.UserData[:])
	if err = w.Err(); err != nil {
		return
	}
	var ciphertext []byte
	ciphertext, err = common.Seal(key, common.MakeNonce(common.RoleChallengeToken, sequence), plain, nil)
	if err != nil {
		return
	}
	copy(sealed[:], ciphertext)
	return
}

func OpenChallenge(sealed []byte, sequence uint64, key []byte) (*Challenge, error) {
	if len(sealed) != ChallengeTokenBytes {
		return nil, ErrMalformed
	}
	plain, err := common.Open(key, common.MakeNonce(common.RoleChallengeToken, sequence), sealed, nil)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}
	c := new(Challenge)
	r := common.NewWireReader(plain)
	c.ClientID = r.Uint64()
	r.Bytes(c.UserData[:])
	if r.Err() != nil {
		return nil, ErrMalformed
	}
	return c, nil
}
