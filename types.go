package rtauth

import (
	"context"
	"io"
	"log/slog"
	"time"

	internalaudit "github.com/greensec/rtauth/internal/audit"
)

// TokenPair is what Login and Refresh hand back to the client.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Principal is the authenticated identity extracted from a valid access
// token. Roles are exactly the roles sealed into the token at issuance.
type Principal struct {
	ID        string
	Roles     []string
	ExpiresAt time.Time
}

// HasRole reports whether role is among the principal's roles.
func (p *Principal) HasRole(role string) bool {
	if p == nil {
		return false
	}
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// UserRecord is the account data the engine needs for password sign-in and
// second-factor checks.
type UserRecord struct {
	PrincipalID  string
	Identifier   string
	Name         string
	PasswordHash string
	Role         string
	// SecondFactorSecret is the base32 TOTP secret, empty when not enrolled.
	SecondFactorSecret string
}

// UserProvider looks users up by their sign-in identifier. Implementations
// return ErrUserNotFound (or an error wrapping it) for unknown identifiers.
type UserProvider interface {
	FindByIdentifier(ctx context.Context, identifier string) (UserRecord, error)
}

// SecretUpdater is optionally implemented by a UserProvider that can persist
// second-factor secrets.
type SecretUpdater interface {
	UpdateSecret(ctx context.Context, principalID, secret string) error
}

// PasswordChecker compares a plaintext password to a stored hash.
type PasswordChecker interface {
	Check(plain, hash string) bool
}

// AuditEvent is one structured audit record.
type AuditEvent = internalaudit.Event

// AuditSink receives audit events from the engine's dispatcher.
type AuditSink = internalaudit.Sink

// NoOpSink discards audit events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink forwards audit events into a buffered channel.
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink writes one JSON object per audit event.
type JSONWriterSink = internalaudit.JSONWriterSink

// SlogSink writes audit events through a structured logger.
type SlogSink = internalaudit.SlogSink

// NewChannelSink creates a [ChannelSink] with the given buffer.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink creates a [JSONWriterSink] over w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

// NewSlogSink creates a [SlogSink] logging at level.
func NewSlogSink(logger *slog.Logger, level slog.Level) *SlogSink {
	return internalaudit.NewSlogSink(logger, level)
}
