package quantics

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Config holds connection settings for the Quantics service.
type Config struct {
	BaseURL  string
	Username string
	Password string
	Timeout  time.Duration
	Logger   zerolog.Logger
}

// AuthSession is the product of one login exchange. Sessions are owned
// by the CredentialCache and reused until invalidated.
type AuthSession struct {
	UserID     string    `json:"user_id"`
	Token      string    `json:"token"`
	ObtainedAt time.Time `json:"obtained_at"`
}

// Result is the normalized outcome of one statistic call. Metadata is
// meaningful when Success is true, Error when it is false; a degenerate
// success may carry neither.
type Result struct {
	Success           bool                   `json:"success"`
	ChartsHTML        string                 `json:"charts_html,omitempty"`
	Metadata          map[string]interface{} `json:"metadata,omitempty"`
	Error             string                 `json:"error,omitempty"`
	OutputDescription string                 `json:"output_description,omitempty"`
}

// AuthError reports a failed login exchange. It aborts the statistic
// call that needed the session, but a later call may log in again.
type AuthError struct {
	Status  int
	Message string
}

func (e *AuthError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("authentication failed: %s (status %d)", e.Message, e.Status)
	}
	return fmt.Sprintf("authentication failed: %s", e.Message)
}
