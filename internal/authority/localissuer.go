package authority

import (
	"encoding/binary"
	"errors"

	"github.com/cbeuw/netcode/internal/common"
	"github.com/cbeuw/netcode/internal/token"
	log "github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

var u64 = binary.BigEndian.Uint64

func u64ToB(value uint64) []byte {
	oct := make([]byte, 8)
	binary.BigEndian.PutUint64(oct, value)
	return oct
}

func clientBucket(clientID uint64) []byte { return u64ToB(clientID) }

var (
	keyIssueCount = []byte("IssueCount")
	keyLastIssued = []byte("LastIssued")
	keyLastExpire = []byte("LastExpire")
	keyRevoked    = []byte("Revoked")
)

// localIssuer mints tokens with a private key it holds and keeps its client registry in a bbolt database, one
// bucket per client id
type localIssuer struct {
	db     *bolt.DB
	world  common.WorldState
	config Config
}

func MakeLocalIssuer(dbPath string, worldState common.WorldState, config Config) (*localIssuer, error) {
	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, err
	}
	ret := &localIssuer{
		db:     db,
		world:  worldState,
		config: config,
	}
	return ret, nil
}

func readInfo(clientID uint64, bucket *bolt.Bucket) ClientInfo {
	info := ClientInfo{ClientID: clientID}
	if v := bucket.Get(keyIssueCount); len(v) == 8 {
		info.IssueCount = u64(v)
	}
	if v := bucket.Get(keyLastIssued); len(v) == 8 {
		info.LastIssued = int64(u64(v))
	}
	if v := bucket.Get(keyLastExpire); len(v) == 8 {
		info.LastExpire = int64(u64(v))
	}
	if v := bucket.Get(keyRevoked); len(v) == 1 {
		info.Revoked = v[0] == 1
	}
	return info
}

// IssueToken mints a connect token for clientID and records it. Revoked clients get ErrClientRevoked.
func (issuer *localIssuer) IssueToken(clientID uint64, userData []byte) (tok *token.ConnectToken, err error) {
	err = issuer.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(clientBucket(clientID))
		if err != nil {
			return err
		}
		info := readInfo(clientID, bucket)
		if info.Revoked {
			return ErrClientRevoked
		}

		tok, err = token.Generate(issuer.world, token.Params{
			ServerAddrs:    issuer.config.ServerAddrs,
			ProtocolID:     issuer.config.ProtocolID,
			ClientID:       clientID,
			PrivateKey:     issuer.config.PrivateKey,
			TimeoutSeconds: issuer.config.TimeoutSeconds,
			ExpireSeconds:  issuer.config.ExpireSeconds,
			UserData:       userData,
		})
		if err != nil {
			return err
		}

		if err = bucket.Put(keyIssueCount, u64ToB(info.IssueCount+1)); err != nil {
			return err
		}
		if err = bucket.Put(keyLastIssued, u64ToB(tok.CreateTimestamp)); err != nil {
			return err
		}
		return bucket.Put(keyLastExpire, u64ToB(tok.ExpireTimestamp))
	})
	if err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{
		"clientID":        clientID,
		"expireTimestamp": tok.ExpireTimestamp,
	}).Debug("connect token issued")
	return tok, nil
}

func (issuer *localIssuer) GetClientInfo(clientID uint64) (info ClientInfo, err error) {
	err = issuer.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(clientBucket(clientID))
		if bucket == nil {
			return ErrClientNotFound
		}
		info = readInfo(clientID, bucket)
		return nil
	})
	return
}

func (issuer *localIssuer) ListAllClients() (infos []ClientInfo, err error) {
	err = issuer.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, bucket *bolt.Bucket) error {
			if len(name) != 8 {
				return nil
			}
			infos = append(infos, readInfo(u64(name), bucket))
			return nil
		})
	})
	if infos == nil {
		infos = []ClientInfo{}
	}
	return
}

// RevokeClient stops any further tokens being issued to clientID. Unknown ids are registered as revoked. Tokens
// already issued stay valid until they expire.
func (issuer *localIssuer) RevokeClient(clientID uint64) error {
	err := issuer.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(clientBucket(clientID))
		if err != nil {
			return err
		}
		return bucket.Put(keyRevoked, []byte{1})
	})
	if err == nil {
		log.WithField("clientID", clientID).Info("client revoked")
	}
	return err
}

func (issuer *localIssuer) DeleteClient(clientID uint64) error {
	return issuer.db.Update(func(tx *bolt.Tx) error {
		err := tx.DeleteBucket(clientBucket(clientID))
		if errors.Is(err, bolt.ErrBucketNotFound) {
			return ErrClientNotFound
		}
		return err
	})
}

func (issuer *localIssuer) Close() error {
	return issuer.db.Close()
}
