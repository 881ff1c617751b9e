// Package auth provides the credential verifier chain used to authenticate
// WebSocket connections and RPC callers.
package auth

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
)

// Rejection reasons. They are sent to clients verbatim.
const (
	ReasonAuthRequired   = "Authentication required"
	ReasonRevoked        = "Token has been revoked"
	ReasonInvalidated    = "Token has been invalidated"
	ReasonUserNotFound   = "User not found"
	ReasonDisabled       = "Account is disabled"
	ReasonInvalidAPIKey  = "Invalid or expired API key"
	ReasonInvalidToken   = "Invalid authentication token"
	ReasonInternalFailed = "Authentication error"
)

var (
	// ErrUnsupported is returned by a Verifier that does not recognise the
	// credential scheme. The chain moves on to the next verifier.
	ErrUnsupported = errors.New("unsupported credential")

	// ErrNotFound is returned by stores when a record does not exist.
	ErrNotFound = errors.New("not found")
)

// RejectError is a terminal authentication failure with a client-facing reason.
type RejectError struct {
	Reason string
}

func (e *RejectError) Error() string {
	return "authentication rejected: " + e.Reason
}

// Reject returns a RejectError for the given reason.
func Reject(reason string) error {
	return &RejectError{Reason: reason}
}

// RejectReason returns the client-facing reason for err.
// Errors that are not rejections map to a generic reason so internal
// details never reach the wire.
func RejectReason(err error) string {
	var rej *RejectError
	if errors.As(err, &rej) {
		return rej.Reason
	}
	return ReasonInternalFailed
}

// Identity is an authenticated caller.
type Identity struct {
	UserID   int64
	Username string
	Scheme   string // name of the verifier that accepted the credential
}

// User is the subset of the account record needed for authentication.
type User struct {
	ID                  int64
	Username            string
	AccountDisabled     bool
	TokensInvalidatedAt *time.Time
}

// APIKey is a stored API key record.
type APIKey struct {
	UserID    int64
	Active    bool
	ExpiresAt *time.Time
}

// Usable reports whether the key is active and not expired at now.
func (k *APIKey) Usable(now time.Time) bool {
	if !k.Active {
		return false
	}
	return k.ExpiresAt == nil || now.Before(*k.ExpiresAt)
}

// UserStore looks up accounts.
type UserStore interface {
	FindUser(ctx context.Context, id int64) (*User, error)
}

// APIKeyStore looks up API keys by hash.
type APIKeyStore interface {
	FindAPIKey(ctx context.Context, keyHash string) (*APIKey, error)
}

// RevocationStore answers credential revocation questions.
type RevocationStore interface {
	IsBlacklisted(ctx context.Context, token string) (bool, error)
	IsInvalidatedSince(ctx context.Context, userID int64, issuedAt time.Time) (bool, error)
}

// Verifier is a credential verification strategy.
type Verifier interface {
	// Name returns the verifier name (used in config).
	Name() string
	// Verify returns the identity behind token, ErrUnsupported if the token
	// is not in this verifier's scheme, a *RejectError for a terminal
	// rejection, or any other error for an unexpected failure.
	Verify(ctx context.Context, token string) (*Identity, error)
}

// Chain tries verifiers in order. The first verifier that claims the
// credential decides the outcome.
type Chain struct {
	verifiers []Verifier
}

// NewChain creates a new verifier chain.
func NewChain(verifiers ...Verifier) *Chain {
	return &Chain{verifiers: verifiers}
}

// Name returns the chain name.
func (c *Chain) Name() string {
	return "chain"
}

// Verify runs the chain.
func (c *Chain) Verify(ctx context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, Reject(ReasonAuthRequired)
	}

	for _, v := range c.verifiers {
		id, err := v.Verify(ctx, token)
		if errors.Is(err, ErrUnsupported) {
			continue
		}
		if err != nil {
			var rej *RejectError
			if !errors.As(err, &rej) {
				zlog.Error().Msgf("verifier failed unexpectedly: verifier=%s error=%v", v.Name(), err)
			}
			return nil, err
		}
		return id, nil
	}

	return nil, Reject(ReasonInvalidToken)
}

// Verifiers returns all verifiers in the chain.
func (c *Chain) Verifiers() []Verifier {
	return c.verifiers
}

var _ Verifier = (*Chain)(nil)
