package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// APIKeySettings represents the configuration for APIKeyVerifier.
type APIKeySettings struct {
	Prefix string `yaml:"prefix" mapstructure:"prefix" default:"ab_" validate:"required"`
}

// APIKeyVerifier verifies long-lived API keys identified by a fixed prefix.
type APIKeyVerifier struct {
	prefix string
	keys   APIKeyStore
	users  UserStore
	now    func() time.Time
}

// NewAPIKeyVerifier creates a new API key verifier.
func NewAPIKeyVerifier(settings APIKeySettings, keys APIKeyStore, users UserStore) *APIKeyVerifier {
	return &APIKeyVerifier{
		prefix: settings.Prefix,
		keys:   keys,
		users:  users,
		now:    time.Now,
	}
}

func (v *APIKeyVerifier) Name() string {
	return "apikey"
}

func (v *APIKeyVerifier) Verify(ctx context.Context, token string) (*Identity, error) {
	if !strings.HasPrefix(token, v.prefix) {
		return nil, ErrUnsupported
	}

	key, err := v.keys.FindAPIKey(ctx, HashCredential(token))
	if errors.Is(err, ErrNotFound) {
		return nil, Reject(ReasonInvalidAPIKey)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to look up api key")
	}
	if !key.Usable(v.now()) {
		return nil, Reject(ReasonInvalidAPIKey)
	}

	user, err := v.users.FindUser(ctx, key.UserID)
	if errors.Is(err, ErrNotFound) {
		return nil, Reject(ReasonInvalidAPIKey)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to look up user %d", key.UserID)
	}
	if user.AccountDisabled {
		return nil, Reject(ReasonDisabled)
	}

	return &Identity{
		UserID:   user.ID,
		Username: user.Username,
		Scheme:   v.Name(),
	}, nil
}

// HashCredential returns the storage hash of a raw API key or revoked token.
func HashCredential(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

var _ Verifier = (*APIKeyVerifier)(nil)
