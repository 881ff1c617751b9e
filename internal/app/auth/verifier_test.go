package auth

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/shelfcast/internal/infra/config"
)

const testSecret = "test-secret-0123456789"

type fakeUsers struct {
	users map[int64]*User
	err   error
}

func (f *fakeUsers) FindUser(_ context.Context, id int64) (*User, error) {
	if f.err != nil {
		return nil, f.err
	}
	u, ok := f.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return u, nil
}

type fakeKeys struct {
	keys map[string]*APIKey
}

func (f *fakeKeys) FindAPIKey(_ context.Context, hash string) (*APIKey, error) {
	k, ok := f.keys[hash]
	if !ok {
		return nil, ErrNotFound
	}
	return k, nil
}

type fakeRevocations struct {
	blacklist   map[string]bool
	invalidated map[int64]time.Time
	err         error
}

func (f *fakeRevocations) IsBlacklisted(_ context.Context, token string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.blacklist[token], nil
}

func (f *fakeRevocations) IsInvalidatedSince(_ context.Context, userID int64, issuedAt time.Time) (bool, error) {
	at, ok := f.invalidated[userID]
	if !ok {
		return false, nil
	}
	return issuedAt.Before(at), nil
}

type fixture struct {
	users       *fakeUsers
	keys        *fakeKeys
	revocations *fakeRevocations
	chain       *Chain
}

func newFixture() *fixture {
	f := &fixture{
		users: &fakeUsers{users: map[int64]*User{
			7: {ID: 7, Username: "listener"},
			8: {ID: 8, Username: "disabled", AccountDisabled: true},
		}},
		keys:        &fakeKeys{keys: map[string]*APIKey{}},
		revocations: &fakeRevocations{blacklist: map[string]bool{}, invalidated: map[int64]time.Time{}},
	}
	f.chain = NewChain(
		NewJWTVerifier(JWTSettings{Secret: testSecret}, f.users, f.revocations),
		NewAPIKeyVerifier(APIKeySettings{Prefix: "ab_"}, f.keys, f.users),
	)
	return f
}

func issue(t *testing.T, userID int64, issuedAt time.Time) string {
	t.Helper()
	token, err := IssueToken(JWTSettings{Secret: testSecret}, userID, "ignored", time.Hour, issuedAt)
	require.NoError(t, err)
	return token
}

func assertRejected(t *testing.T, err error, reason string) {
	t.Helper()
	var rej *RejectError
	require.True(t, errors.As(err, &rej), "expected RejectError, got %v", err)
	assert.Equal(t, reason, rej.Reason)
	assert.Equal(t, reason, RejectReason(err))
}

func TestChain_JWT(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	t.Run("valid token", func(t *testing.T) {
		f := newFixture()
		id, err := f.chain.Verify(ctx, issue(t, 7, now))
		require.NoError(t, err)
		assert.Equal(t, int64(7), id.UserID)
		assert.Equal(t, "listener", id.Username)
		assert.Equal(t, "jwt", id.Scheme)
	})

	t.Run("revoked", func(t *testing.T) {
		f := newFixture()
		token := issue(t, 7, now)
		f.revocations.blacklist[token] = true

		_, err := f.chain.Verify(ctx, token)
		assertRejected(t, err, ReasonRevoked)
	})

	t.Run("invalidated after issue", func(t *testing.T) {
		f := newFixture()
		f.revocations.invalidated[7] = now
		_, err := f.chain.Verify(ctx, issue(t, 7, now.Add(-time.Minute)))
		assertRejected(t, err, ReasonInvalidated)
	})

	t.Run("issued after invalidation", func(t *testing.T) {
		f := newFixture()
		f.revocations.invalidated[7] = now.Add(-time.Hour)
		_, err := f.chain.Verify(ctx, issue(t, 7, now))
		require.NoError(t, err)
	})

	t.Run("user not found", func(t *testing.T) {
		f := newFixture()
		_, err := f.chain.Verify(ctx, issue(t, 99, now))
		assertRejected(t, err, ReasonUserNotFound)
	})

	t.Run("account disabled", func(t *testing.T) {
		f := newFixture()
		_, err := f.chain.Verify(ctx, issue(t, 8, now))
		assertRejected(t, err, ReasonDisabled)
	})

	t.Run("store failure is not a rejection", func(t *testing.T) {
		f := newFixture()
		f.revocations.err = errors.New("database is locked")

		_, err := f.chain.Verify(ctx, issue(t, 7, now))
		require.Error(t, err)
		var rej *RejectError
		assert.False(t, errors.As(err, &rej))
		assert.Equal(t, ReasonInternalFailed, RejectReason(err))
	})

	t.Run("wrong secret falls through to invalid token", func(t *testing.T) {
		f := newFixture()
		token, err := IssueToken(JWTSettings{Secret: "another-secret-0123456789"}, 7, "x", time.Hour, now)
		require.NoError(t, err)

		_, err = f.chain.Verify(ctx, token)
		assertRejected(t, err, ReasonInvalidToken)
	})

	t.Run("expired token", func(t *testing.T) {
		f := newFixture()
		token, err := IssueToken(JWTSettings{Secret: testSecret}, 7, "x", time.Minute, now.Add(-time.Hour))
		require.NoError(t, err)

		_, err = f.chain.Verify(ctx, token)
		assertRejected(t, err, ReasonInvalidToken)
	})
}

func TestChain_APIKey(t *testing.T) {
	ctx := context.Background()
	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)

	tests := []struct {
		name   string
		key    *APIKey
		reason string
	}{
		{name: "active key", key: &APIKey{UserID: 7, Active: true}},
		{name: "active key with future expiry", key: &APIKey{UserID: 7, Active: true, ExpiresAt: &future}},
		{name: "inactive key", key: &APIKey{UserID: 7, Active: false}, reason: ReasonInvalidAPIKey},
		{name: "expired key", key: &APIKey{UserID: 7, Active: true, ExpiresAt: &past}, reason: ReasonInvalidAPIKey},
		{name: "owner missing", key: &APIKey{UserID: 99, Active: true}, reason: ReasonInvalidAPIKey},
		{name: "owner disabled", key: &APIKey{UserID: 8, Active: true}, reason: ReasonDisabled},
		{name: "unknown key", reason: ReasonInvalidAPIKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			raw := "ab_0123456789"
			if tt.key != nil {
				f.keys.keys[HashCredential(raw)] = tt.key
			}

			id, err := f.chain.Verify(ctx, raw)
			if tt.reason != "" {
				assertRejected(t, err, tt.reason)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, int64(7), id.UserID)
			assert.Equal(t, "apikey", id.Scheme)
		})
	}
}

func TestChain_UnknownScheme(t *testing.T) {
	f := newFixture()

	_, err := f.chain.Verify(context.Background(), "garbage")
	assertRejected(t, err, ReasonInvalidToken)

	_, err = f.chain.Verify(context.Background(), "")
	assertRejected(t, err, ReasonAuthRequired)
}

func TestChain_Order(t *testing.T) {
	f := newFixture()
	// With only the API key verifier, a valid JWT is not recognised.
	chain := NewChain(NewAPIKeyVerifier(APIKeySettings{Prefix: "ab_"}, f.keys, f.users))

	_, err := chain.Verify(context.Background(), issue(t, 7, time.Now()))
	assertRejected(t, err, ReasonInvalidToken)
}

func TestHashCredential(t *testing.T) {
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", HashCredential(""))
	assert.Len(t, HashCredential("ab_x"), 64)
}

func TestNewChainFromConfig(t *testing.T) {
	f := newFixture()
	stores := Stores{Users: f.users, APIKeys: f.keys, Revocations: f.revocations}

	t.Run("builds in order with defaults", func(t *testing.T) {
		cfg := &config.Config{Auth: config.AuthConfig{Verifiers: []config.VerifierConfig{
			{Type: "apikey"},
			{Type: "jwt", Settings: map[string]any{"secret": testSecret}},
		}}}

		chain, err := NewChainFromConfig(cfg, stores)
		require.NoError(t, err)
		require.Len(t, chain.Verifiers(), 2)
		assert.Equal(t, "apikey", chain.Verifiers()[0].Name())
		assert.Equal(t, "jwt", chain.Verifiers()[1].Name())

		apiKey, ok := chain.Verifiers()[0].(*APIKeyVerifier)
		require.True(t, ok)
		assert.Equal(t, "ab_", apiKey.prefix)
	})

	t.Run("short secret is rejected", func(t *testing.T) {
		cfg := &config.Config{Auth: config.AuthConfig{Verifiers: []config.VerifierConfig{
			{Type: "jwt", Settings: map[string]any{"secret": "short"}},
		}}}

		_, err := NewChainFromConfig(cfg, stores)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Secret")
	})

	t.Run("unknown type", func(t *testing.T) {
		cfg := &config.Config{Auth: config.AuthConfig{Verifiers: []config.VerifierConfig{{Type: "ldap"}}}}

		_, err := NewChainFromConfig(cfg, stores)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported verifier type")
	})

	t.Run("empty", func(t *testing.T) {
		_, err := NewChainFromConfig(&config.Config{}, stores)
		require.Error(t, err)
	})
}
