// Package identity issues and reads the anonymous chat session token.
package identity

import (
	"time"

	"github.com/google/uuid"
)

const (
	CookieName = "tehiskokk_session_id"
	// MaxAge is one year, in seconds.
	MaxAge = 365 * 24 * 60 * 60
)

// Provider returns a stable session token, minting one when none is held.
// ClearSession forgets the token so the next GetSessionID mints a new one.
type Provider interface {
	GetSessionID() string
	ClearSession()
}

// NewToken returns a random UUIDv4 string.
func NewToken() string {
	return uuid.NewString()
}

func lifetime() time.Duration {
	return time.Duration(MaxAge) * time.Second
}
