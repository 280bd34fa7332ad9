// Package session holds the management API login shared by every task of
// an export.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/ckp-export/pkg/logging"
)

// ErrNoSession is returned when a login succeeds without a session id.
var ErrNoSession = errors.New("login returned no session id")

// Credentials identify the management API user.
type Credentials struct {
	User     string
	Password string
}

// Session is a logged-in management API session. It is acquired once per
// process and shared read-only by all tasks.
type Session struct {
	ID      string
	Started time.Time
}

// Authenticator opens and closes management API sessions.
type Authenticator interface {
	Login(ctx context.Context, creds Credentials) (*Session, error)
	Logout(ctx context.Context, s *Session) error
}

// Scope logs in, calls fn with the session and always logs out afterwards,
// even when fn fails. A logout failure is joined with fn's error.
func Scope(ctx context.Context, auth Authenticator, creds Credentials, fn func(*Session) error) (err error) {
	s, err := auth.Login(ctx, creds)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if s == nil || s.ID == "" {
		return ErrNoSession
	}

	logger := logging.NewLogger(logging.ComponentSession)
	logger.Info().Str("user", creds.User).Msg("Logged in")

	defer func() {
		// logout must run even if ctx was cancelled by the caller
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()

		if lerr := auth.Logout(lctx, s); lerr != nil {
			logger.Warn().Err(lerr).Msg("Logout failed")
			err = errors.Join(err, fmt.Errorf("logout: %w", lerr))
			return
		}
		logger.Info().Dur("session_duration", time.Since(s.Started)).Msg("Logged out")
	}()

	return fn(s)
}
