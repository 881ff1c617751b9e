package auth

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/golang-jwt/jwt/v5"
	zlog "github.com/rs/zerolog/log"
)

// JWTSettings represents the configuration for JWTVerifier.
type JWTSettings struct {
	Secret string `yaml:"secret" mapstructure:"secret" validate:"required,min=16"`
	Issuer string `yaml:"issuer" mapstructure:"issuer"`
}

// Claims are the claims carried by a session credential.
type Claims struct {
	jwt.RegisteredClaims
	UserID   int64  `json:"id"`
	Username string `json:"username"`
}

// JWTVerifier verifies HS256 session credentials and re-checks revocation,
// invalidation and account state on every call.
type JWTVerifier struct {
	secret      []byte
	issuer      string
	users       UserStore
	revocations RevocationStore
}

// NewJWTVerifier creates a new JWT verifier.
func NewJWTVerifier(settings JWTSettings, users UserStore, revocations RevocationStore) *JWTVerifier {
	return &JWTVerifier{
		secret:      []byte(settings.Secret),
		issuer:      settings.Issuer,
		users:       users,
		revocations: revocations,
	}
}

func (v *JWTVerifier) Name() string {
	return "jwt"
}

// Verify returns ErrUnsupported for anything that is not a valid signed
// credential so that other schemes get a chance.
func (v *JWTVerifier) Verify(ctx context.Context, token string) (*Identity, error) {
	claims, err := v.parse(token)
	if err != nil {
		zlog.Debug().Msgf("jwt verification skipped: %v", err)
		return nil, ErrUnsupported
	}

	blacklisted, err := v.revocations.IsBlacklisted(ctx, token)
	if err != nil {
		return nil, errors.Wrap(err, "failed to check token blacklist")
	}
	if blacklisted {
		return nil, Reject(ReasonRevoked)
	}

	var issuedAt time.Time
	if claims.IssuedAt != nil {
		issuedAt = claims.IssuedAt.Time
	}
	invalidated, err := v.revocations.IsInvalidatedSince(ctx, claims.UserID, issuedAt)
	if err != nil {
		return nil, errors.Wrap(err, "failed to check token invalidation")
	}
	if invalidated {
		return nil, Reject(ReasonInvalidated)
	}

	user, err := v.users.FindUser(ctx, claims.UserID)
	if errors.Is(err, ErrNotFound) {
		return nil, Reject(ReasonUserNotFound)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to look up user %d", claims.UserID)
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

func (v *JWTVerifier) parse(token string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse token")
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, errors.New("invalid token claims")
	}
	if claims.UserID == 0 {
		return nil, errors.New("token carries no user id")
	}
	return claims, nil
}

// IssueToken signs a session credential for the given user.
func IssueToken(settings JWTSettings, userID int64, username string, ttl time.Duration, now time.Time) (string, error) {
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    settings.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		UserID:   userID,
		Username: username,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(settings.Secret))
	if err != nil {
		return "", errors.Wrap(err, "failed to sign token")
	}
	return signed, nil
}

var _ Verifier = (*JWTVerifier)(nil)
