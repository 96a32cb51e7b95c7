package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/jmcleod/opsvault/crypto"
	"github.com/jmcleod/opsvault/internal/util"
	"github.com/jmcleod/opsvault/storage"
)

const (
	recordTypeUser     = "USER"
	recordTypeUsername = "USERNAME"

	maxUsernameLength = 64
	// MinPasswordLength is the shortest login password CreateUser and
	// ChangePassword accept.
	MinPasswordLength = 10

	modifyAttempts = 5
)

// User is a login account. Users are never deleted, only disabled.
type User struct {
	ID                  string       `json:"id"`
	Username            string       `json:"username"`
	PasswordHash        string       `json:"password_hash"`
	SecondFactorSeed    crypto.Field `json:"second_factor_seed,omitzero"`
	SecondFactorEnabled bool         `json:"second_factor_enabled"`
	LastTOTPStep        int64        `json:"last_totp_step,omitempty"`
	RememberGeneration  uint64       `json:"remember_generation"`
	Disabled            bool         `json:"disabled,omitempty"`
	CreatedAt           time.Time    `json:"created_at"`
	UpdatedAt           time.Time    `json:"updated_at"`

	version uint64
}

// NormalizeUsername folds a username to its stored form.
func NormalizeUsername(s string) string {
	return strings.ToLower(util.Normalize(strings.TrimSpace(s)))
}

func validateUsername(name string) error {
	if name == "" {
		return &ValidationError{Msg: "username must not be empty"}
	}
	if len(name) > maxUsernameLength {
		return &ValidationError{Msg: fmt.Sprintf("username exceeds maximum length of %d", maxUsernameLength)}
	}
	for _, r := range name {
		if r == ':' || r == '/' || unicode.IsControl(r) || unicode.IsSpace(r) {
			return &ValidationError{Msg: fmt.Sprintf("username contains forbidden character %q", r)}
		}
	}
	return nil
}

func validatePassword(pw string) error {
	if len([]rune(pw)) < MinPasswordLength {
		return &ValidationError{Msg: fmt.Sprintf("password must be at least %d characters", MinPasswordLength)}
	}
	return nil
}

// UserStore keeps users in the __users namespace: one USER record per
// account and a USERNAME index record mapping the normalized name to the ID.
type UserStore struct {
	repo storage.Repository
}

// NewUserStore returns a UserStore on repo.
func NewUserStore(repo storage.Repository) *UserStore {
	return &UserStore{repo: repo}
}

// Create stores a new user. Both records are written in one batch so a
// username is never indexed without its user.
func (s *UserStore) Create(ctx context.Context, u User) (User, error) {
	u.Username = NormalizeUsername(u.Username)
	if err := validateUsername(u.Username); err != nil {
		return User{}, err
	}
	u.version = 1
	env, err := storage.EncodeJSON(u, u.version)
	if err != nil {
		return User{}, err
	}
	idx, err := storage.EncodeJSON(u.ID, 1)
	if err != nil {
		return User{}, err
	}
	err = s.repo.Batch(ctx, storage.NamespaceUsers, func(tx storage.BatchTx) error {
		if err := tx.PutCAS(recordTypeUsername, u.Username, 0, idx); err != nil {
			if errors.Is(err, storage.ErrCASFailed) {
				return ErrUsernameTaken
			}
			return err
		}
		return tx.PutCAS(recordTypeUser, u.ID, 0, env)
	})
	if err != nil {
		return User{}, err
	}
	return u, nil
}

// Get loads a user by ID.
func (s *UserStore) Get(ctx context.Context, id string) (User, error) {
	env, err := s.repo.Get(ctx, storage.NamespaceUsers, recordTypeUser, id)
	if errors.Is(err, storage.ErrNotFound) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, err
	}
	var u User
	if err := storage.DecodeJSON(env, &u); err != nil {
		return User{}, err
	}
	u.version = env.Version
	return u, nil
}

// ByUsername loads a user by username.
func (s *UserStore) ByUsername(ctx context.Context, username string) (User, error) {
	env, err := s.repo.Get(ctx, storage.NamespaceUsers, recordTypeUsername, NormalizeUsername(username))
	if errors.Is(err, storage.ErrNotFound) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, err
	}
	var id string
	if err := storage.DecodeJSON(env, &id); err != nil {
		return User{}, err
	}
	return s.Get(ctx, id)
}

// List returns every user ordered by ID.
func (s *UserStore) List(ctx context.Context) ([]User, error) {
	ids, err := s.repo.List(ctx, storage.NamespaceUsers, recordTypeUser)
	if err != nil {
		return nil, err
	}
	users := make([]User, 0, len(ids))
	for _, id := range ids {
		u, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, nil
}

// Modify applies fn to the current user record and stores the result with
// a compare-and-swap, rerunning fn on a fresh copy when a concurrent write
// wins. An error from fn aborts without writing.
func (s *UserStore) Modify(ctx context.Context, id string, now time.Time, fn func(*User) error) (User, error) {
	for range modifyAttempts {
		u, err := s.Get(ctx, id)
		if err != nil {
			return User{}, err
		}
		if err := fn(&u); err != nil {
			return User{}, err
		}
		u.UpdatedAt = now.UTC()
		env, err := storage.EncodeJSON(u, u.version+1)
		if err != nil {
			return User{}, err
		}
		err = s.repo.PutCAS(ctx, storage.NamespaceUsers, recordTypeUser, id, u.version, env)
		if errors.Is(err, storage.ErrCASFailed) {
			continue
		}
		if err != nil {
			return User{}, err
		}
		u.version++
		return u, nil
	}
	return User{}, fmt.Errorf("updating user %s: %w", id, storage.ErrCASFailed)
}
