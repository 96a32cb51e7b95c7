package auth

import "errors"

var (
	// ErrInvalidCredentials is the single failure for any bad login,
	// whether the user is unknown, disabled or the password is wrong.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidCode indicates a wrong, malformed or replayed one-time code.
	ErrInvalidCode = errors.New("invalid code")
	// ErrRejected indicates the second-factor challenge was abandoned after
	// too many failures. It is always returned alongside ErrInvalidCode.
	ErrRejected = errors.New("too many second-factor attempts")
	// ErrCSRFMismatch indicates a missing or wrong CSRF token.
	ErrCSRFMismatch = errors.New("csrf token mismatch")
	// ErrSessionExpired indicates the session is missing, expired, idle or
	// not in the state the operation needs.
	ErrSessionExpired = errors.New("session expired")
	// ErrRememberTokenInvalid indicates a remember-device token that fails
	// any check.
	ErrRememberTokenInvalid = errors.New("remember token invalid")
	// ErrUserNotFound indicates no user with the given ID or username.
	ErrUserNotFound = errors.New("user not found")
	// ErrUsernameTaken indicates CreateUser was given an existing username.
	ErrUsernameTaken = errors.New("username already exists")
	// ErrNoPendingSetup indicates EnableSecondFactor without a live setup.
	ErrNoPendingSetup = errors.New("no pending second-factor setup")
	// ErrSecondFactorEnabled indicates setup was requested while 2FA is on.
	ErrSecondFactorEnabled = errors.New("second factor already enabled")
	// ErrSecondFactorDisabled indicates a disable request while 2FA is off.
	ErrSecondFactorDisabled = errors.New("second factor not enabled")
)

// ValidationError reports malformed input such as a short password.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }
