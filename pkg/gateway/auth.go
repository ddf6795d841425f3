package gateway

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

// maxAuthAttempts is how many bad signatures a connection gets before
// it is cut
const maxAuthAttempts = 3

// Authenticator runs challenge-response authentication over a shared
// token. The token itself never crosses the wire: the server sends a
// random challenge and the client answers with an HMAC of it.
type Authenticator struct {
	token string
}

// NewAuthenticator creates an authenticator for the given token
func NewAuthenticator(token string) *Authenticator {
	return &Authenticator{token: token}
}

// Challenge generates a cryptographically random 32-byte challenge
func (a *Authenticator) Challenge() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate challenge: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Sign computes the expected answer for a challenge. Clients use the
// same computation on their side.
func (a *Authenticator) Sign(challenge string) string {
	h := hmac.New(sha256.New, []byte(a.token))
	h.Write([]byte(challenge))
	return hex.EncodeToString(h.Sum(nil))
}

// Verify checks a signature against a challenge in constant time
func (a *Authenticator) Verify(challenge, signature string) bool {
	expected := a.Sign(challenge)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}

// HandleResponse processes a client's answer to its pending challenge
func (a *Authenticator) HandleResponse(client *Client, signature string) AuthResult {
	if client.Challenge == "" {
		return AuthResult{
			Event:   "auth.failure",
			Message: "no pending challenge",
		}
	}

	if !a.Verify(client.Challenge, signature) {
		client.AuthAttempts++
		if client.AuthAttempts >= maxAuthAttempts {
			return AuthResult{
				Event:   "auth.failure",
				Message: "too many failed attempts",
			}
		}
		return AuthResult{
			Event:   "auth.failure",
			Message: "invalid signature",
		}
	}

	client.Authenticated = true
	client.AuthAttempts = 0
	client.Challenge = ""

	return AuthResult{
		Event:   "auth.success",
		Success: true,
	}
}
