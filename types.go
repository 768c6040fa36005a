package rentauth

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/MrEthical07/rentauth/credential"
	internalaudit "github.com/MrEthical07/rentauth/internal/audit"
	"github.com/MrEthical07/rentauth/otp"
)

// TokenPair is what a successful Login or Refresh hands back. The refresh
// token is shown to the caller once; only its hash is stored.
type TokenPair struct {
	UserID           string
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// RegisterRequest creates an account. FullName, when set, seeds the profile.
type RegisterRequest struct {
	Username string
	Email    string
	Password string
	FullName string
}

// SecurityEventType names a notification the account owner should see.
type SecurityEventType string

const (
	SecurityEventRefreshReuse    SecurityEventType = "refresh_reuse"
	SecurityEventPasswordChanged SecurityEventType = "password_changed"
	SecurityEventAccountLocked   SecurityEventType = "account_locked"
)

type SecurityEvent struct {
	Type      SecurityEventType
	At        time.Time
	IP        string
	UserAgent string
}

// Notifier delivers codes and security notices out of band. The engine never
// sends mail or SMS itself; implementations usually enqueue a job.
type Notifier interface {
	NotifyOTP(ctx context.Context, user credential.User, purpose otp.Purpose, code string) error
	NotifySecurityEvent(ctx context.Context, user credential.User, event SecurityEvent) error
}

type nopNotifier struct{}

func (nopNotifier) NotifyOTP(context.Context, credential.User, otp.Purpose, string) error {
	return nil
}

func (nopNotifier) NotifySecurityEvent(context.Context, credential.User, SecurityEvent) error {
	return nil
}

// AuditEvent is the structured audit record.
type AuditEvent = internalaudit.Event

// AuditSink receives audit events from the dispatcher goroutine.
type AuditSink = internalaudit.Sink

type NoOpSink = internalaudit.NoOpSink

type ChannelSink = internalaudit.ChannelSink

type JSONWriterSink = internalaudit.JSONWriterSink

type SlogSink = internalaudit.SlogSink

type MultiSink = internalaudit.MultiSink

func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

func NewSlogSink(logger *slog.Logger) *SlogSink {
	return internalaudit.NewSlogSink(logger)
}
