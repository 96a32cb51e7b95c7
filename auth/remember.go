package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/awnumar/memguard"
	"github.com/golang-jwt/jwt/v5"

	"github.com/jmcleod/opsvault/internal/clock"
	"github.com/jmcleod/opsvault/internal/util"
)

// RememberTTL is how long a remember-device token stays valid.
const RememberTTL = 15 * 24 * time.Hour

const rememberIDBytes = 16

// RememberClaims are the claims of a remember-device token.
type RememberClaims struct {
	jwt.RegisteredClaims
	Generation uint64 `json:"gen"`
}

// RememberManager issues and checks remember-device tokens. A token is
// bound to one user and to that user's RememberGeneration, so bumping the
// generation revokes every outstanding token at once.
type RememberManager struct {
	key   *memguard.LockedBuffer
	users *UserStore
	clock clock.Clock
}

// NewRememberManager signs tokens with key, which must be at least 32
// bytes. The caller's copy of key is wiped.
func NewRememberManager(key []byte, users *UserStore, clk clock.Clock) (*RememberManager, error) {
	if len(key) < 32 {
		return nil, fmt.Errorf("remember token key must be at least 32 bytes, got %d", len(key))
	}
	return &RememberManager{
		key:   memguard.NewBufferFromBytes(key),
		users: users,
		clock: clock.OrReal(clk),
	}, nil
}

// Close destroys the signing key.
func (r *RememberManager) Close() {
	r.key.Destroy()
}

// Issue returns a signed token for u and its expiry.
func (r *RememberManager) Issue(u User) (string, time.Time, error) {
	jti, err := util.RandomToken(rememberIDBytes)
	if err != nil {
		return "", time.Time{}, err
	}
	now := r.clock.Now()
	exp := now.Add(RememberTTL)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, RememberClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Generation: u.RememberGeneration,
	})
	signed, err := token.SignedString(r.key.Bytes())
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing remember token: %w", err)
	}
	return signed, exp, nil
}

// Validate returns the user a token vouches for. Any failure reports false.
func (r *RememberManager) Validate(ctx context.Context, token string) (string, bool) {
	userID, err := r.verify(ctx, token)
	return userID, err == nil
}

func (r *RememberManager) verify(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrRememberTokenInvalid
	}
	claims := &RememberClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return r.key.Bytes(), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(r.clock.Now),
	)
	if err != nil || !parsed.Valid {
		return "", ErrRememberTokenInvalid
	}
	if claims.Subject == "" || claims.ID == "" {
		return "", ErrRememberTokenInvalid
	}

	u, err := r.users.Get(ctx, claims.Subject)
	if errors.Is(err, ErrUserNotFound) {
		return "", ErrRememberTokenInvalid
	}
	if err != nil {
		return "", err
	}
	if u.Disabled || claims.Generation != u.RememberGeneration {
		return "", ErrRememberTokenInvalid
	}
	return u.ID, nil
}

// RevokeAll invalidates every remember token issued to userID.
func (r *RememberManager) RevokeAll(ctx context.Context, userID string) error {
	_, err := r.users.Modify(ctx, userID, r.clock.Now(), func(u *User) error {
		u.RememberGeneration++
		return nil
	})
	return err
}
