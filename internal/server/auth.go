package server

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// ErrAuthRejected marks a failed handshake. Fatal for the transport; the
// client must not retry with the same credentials.
var ErrAuthRejected = errors.New("authentication rejected")

// Authenticator verifies the identity presented in the connect handshake.
// Token issuance belongs to the external auth collaborator.
type Authenticator interface {
	Authenticate(userID, authToken string) error
}

// HMACAuthenticator accepts tokens that are the hex HMAC-SHA256 of the user
// id under the shared secret the auth service signs with.
type HMACAuthenticator struct {
	secret []byte
}

func NewHMACAuthenticator(secret string) *HMACAuthenticator {
	return &HMACAuthenticator{secret: []byte(secret)}
}

func (a *HMACAuthenticator) Authenticate(userID, authToken string) error {
	if userID == "" || authToken == "" {
		return ErrAuthRejected
	}
	mac := hmac.New(sha256.New, a.secret)
	mac.Write([]byte(userID))
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(authToken)) {
		return ErrAuthRejected
	}
	return nil
}

// Token derives the token for a user id, shared with tests and local tools.
func (a *HMACAuthenticator) Token(userID string) string {
	mac := hmac.New(sha256.New, a.secret)
	mac.Write([]byte(userID))
	return hex.EncodeToString(mac.Sum(nil))
}
