package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
)

// ID identifies a refresh session or a one-time challenge.
type ID [16]byte

// Secret is the random half of an opaque token. Only its hash is stored.
type Secret [32]byte

const tokenRawSize = len(ID{}) + len(Secret{})

var errTokenSize = errors.New("invalid token size")

func NewID() (ID, error) {
	var id ID
	_, err := rand.Read(id[:])
	return id, err
}

func (id ID) String() string {
	return base64.RawURLEncoding.EncodeToString(id[:])
}

func ParseID(s string) (ID, error) {
	var id ID

	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return id, err
	}
	if len(raw) != len(id) {
		return id, errors.New("invalid id size")
	}

	copy(id[:], raw)
	return id, nil
}

func NewSecret() (Secret, error) {
	var secret Secret
	_, err := rand.Read(secret[:])
	return secret, err
}

func (s Secret) Hash() [32]byte {
	return sha256.Sum256(s[:])
}

// EncodeToken joins id and secret into one base64url token.
func EncodeToken(id ID, secret Secret) string {
	var raw [tokenRawSize]byte
	copy(raw[:len(id)], id[:])
	copy(raw[len(id):], secret[:])
	return base64.RawURLEncoding.EncodeToString(raw[:])
}

// DecodeToken splits a token produced by EncodeToken.
func DecodeToken(token string) (ID, Secret, error) {
	var (
		id     ID
		secret Secret
	)

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return id, secret, err
	}
	if len(raw) != tokenRawSize {
		return id, secret, errTokenSize
	}

	copy(id[:], raw[:len(id)])
	copy(secret[:], raw[len(id):])
	return id, secret, nil
}

// NewToken returns a fresh id, its token, and the hash to persist.
func NewToken() (ID, string, [32]byte, error) {
	id, err := NewID()
	if err != nil {
		return ID{}, "", [32]byte{}, err
	}
	secret, err := NewSecret()
	if err != nil {
		return ID{}, "", [32]byte{}, err
	}
	return id, EncodeToken(id, secret), secret.Hash(), nil
}
