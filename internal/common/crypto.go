package common

import (
	"crypto/cipher"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	KeyBytes    = chacha20poly1305.KeySize
	MACBytes    = chacha20poly1305.Overhead
	NonceBytes  = chacha20poly1305.NonceSize
	XNonceBytes = chacha20poly1305.NonceSizeX
)

// ErrAuthenticationFailed is returned whenever a ciphertext fails to open. Wrong keys, wrong nonces, tampered
// associated data and truncated input are deliberately indistinguishable.
var ErrAuthenticationFailed = errors.New("authentication failed")

var errKeySize = fmt.Errorf("key must be %v bytes", KeyBytes)

// Nonce roles. Packets use their packet type as the role, so the roles below start above any packet type.
const (
	RoleChallengeToken byte = 0x80
)

// MakeNonce composes a 12 byte nonce from a role prefix and a monotonically increasing sequence number
func MakeNonce(role byte, sequence uint64) []byte {
	nonce := make([]byte, NonceBytes)
	nonce[0] = role
	binary.LittleEndian.PutUint64(nonce[4:], sequence)
	return nonce
}

func makeAEAD(key []byte, x bool) (cipher.AEAD, error) {
	if len(key) != KeyBytes {
		return nil, errKeySize
	}
	if x {
		return chacha20poly1305.NewX(key)
	}
	return chacha20poly1305.New(key)
}

func seal(x bool, key, nonce, plaintext, ad []byte) ([]byte, error) {
	aead, err := makeAEAD(key, x)
	if err != nil {
		return nil, err
	}
	if len(nonce) != aead.NonceSize() {
		// check here so it doesn't panic
		return nil, errors.New("incorrect nonce size")
	}
	return aead.Seal(nil, nonce, plaintext, ad), nil
}

func open(x bool, key, nonce, ciphertextWithTag, ad []byte) ([]byte, error) {
	aead, err := makeAEAD(key, x)
	if err != nil {
		return nil, err
	}
	if len(nonce) != aead.NonceSize() || len(ciphertextWithTag) < aead.Overhead() {
		return nil, ErrAuthenticationFailed
	}
	plain, err := aead.Open(nil, nonce, ciphertextWithTag, ad)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}
	return plain, nil
}

// Seal encrypts and authenticates plaintext with ChaCha20-Poly1305. The returned slice is the ciphertext
// followed by the tag.
func Seal(key, nonce, plaintext, ad []byte) ([]byte, error) {
	return seal(false, key, nonce, plaintext, ad)
}

func Open(key, nonce, ciphertextWithTag, ad []byte) ([]byte, error) {
	return open(false, key, nonce, ciphertextWithTag, ad)
}

// XSeal is Seal with XChaCha20-Poly1305 and a 24 byte nonce
func XSeal(key, nonce, plaintext, ad []byte) ([]byte, error) {
	return seal(true, key, nonce, plaintext, ad)
}

func XOpen(key, nonce, ciphertextWithTag, ad []byte) ([]byte, error) {
	return open(true, key, nonce, ciphertextWithTag, ad)
}

// GenerateKey returns a fresh random key read from randSource
func GenerateKey(randSource io.Reader) (key [KeyBytes]byte) {
	RandRead(randSource, key[:])
	return
}

func backoff(f func() error) {
	err := f()
	if err == nil {
		return
	}
	waitDur := [10]time.Duration{5 * time.Millisecond, 10 * time.Millisecond, 30 * time.Millisecond, 50 * time.Millisecond,
		100 * time.Millisecond, 300 * time.Millisecond, 500 * time.Millisecond, 1 * time.Second,
		3 * time.Second, 5 * time.Second}
	for i := 0; i < 10; i++ {
		log.Errorf("Failed to get random: %v. Retrying...", err)
		err = f()
		if err == nil {
			return
		}
		time.Sleep(waitDur[i])
	}
	log.Fatal("Cannot get random after 10 retries")
}

func RandRead(randSource io.Reader, buf []byte) {
	backoff(func() error {
		_, err := io.ReadFull(randSource, buf)
		return err
	})
}

func RandUint64(randSource io.Reader) uint64 {
	var b [8]byte
	RandRead(randSource, b[:])
	return binary.LittleEndian.Uint64(b[:])
}
