// ABOUTME: Agent admission via a shared enrollment key, stored as a bcrypt hash.
// ABOUTME: An empty configured hash disables agent auth (development mode).

package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// ErrBadEnrollmentKey indicates the presented enrollment key does not match.
var ErrBadEnrollmentKey = errors.New("invalid enrollment key")

// AgentVerifier checks the enrollment key agents present at connect time.
type AgentVerifier struct {
	hash []byte
}

// NewAgentVerifier creates a verifier from the configured bcrypt hash.
// An empty hash admits every agent.
func NewAgentVerifier(hash string) *AgentVerifier {
	return &AgentVerifier{hash: []byte(hash)}
}

// Enabled reports whether agent auth is configured.
func (v *AgentVerifier) Enabled() bool {
	return len(v.hash) > 0
}

// VerifyKey checks the presented enrollment key against the stored hash.
func (v *AgentVerifier) VerifyKey(key string) error {
	if !v.Enabled() {
		return nil
	}
	if err := bcrypt.CompareHashAndPassword(v.hash, []byte(key)); err != nil {
		return ErrBadEnrollmentKey
	}
	return nil
}

// HashEnrollmentKey produces the bcrypt hash to place in configuration.
func HashEnrollmentKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
