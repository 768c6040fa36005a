package credential

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no user (or profile) matches.
	ErrNotFound = errors.New("credential: not found")
	// ErrDuplicate is returned when a username or email is already taken.
	ErrDuplicate = errors.New("credential: username or email already registered")
	// ErrInvalid reports input that fails validation before reaching storage.
	ErrInvalid = errors.New("credential: invalid input")
	// ErrUnavailable wraps repository failures other than the sentinels above.
	ErrUnavailable = errors.New("credential: storage unavailable")
)

// User is an account row. Users are never hard-deleted; Active=false
// deactivates them.
type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	Active       bool
	Verified     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Profile is optional per-user display data.
type Profile struct {
	UserID    string
	FullName  string
	Bio       string
	AvatarURL string
	Location  string
	Birthdate *time.Time
	UpdatedAt time.Time
}

// Action names an entry in the activity log.
type Action string

const (
	ActionLogin          Action = "login"
	ActionLoginFailed    Action = "login_failed"
	ActionLoginStepUp    Action = "login_step_up"
	ActionRefresh        Action = "refresh"
	ActionRefreshFailed  Action = "refresh_failed"
	ActionRefreshReuse   Action = "refresh_reuse"
	ActionLogout         Action = "logout"
	ActionLogoutAll      Action = "logout_all"
	ActionRegister       Action = "register"
	ActionVerifyEmail    Action = "verify_email"
	ActionOTPFailed      Action = "otp_failed"
	ActionPasswordChange Action = "password_change"
	ActionPasswordFailed Action = "password_change_failed"
	ActionStatusChange   Action = "status_change"
)

// Activity is one append-only audit row. UserID is empty for attempts
// against identifiers that do not resolve to an account.
type Activity struct {
	UserID    string
	Action    Action
	IP        string
	UserAgent string
	CreatedAt time.Time
}

// Repository is the persistence boundary for accounts. Implementations
// return ErrNotFound and ErrDuplicate unwrapped or wrapped; any other error is
// treated as an outage.
type Repository interface {
	// UserByIdentifier matches identifier against lower(username) and
	// lower(email). identifier arrives already normalized.
	UserByIdentifier(ctx context.Context, identifier string) (User, error)
	UserByID(ctx context.Context, userID string) (User, error)
	CreateUser(ctx context.Context, u User) error
	SetVerified(ctx context.Context, userID string, at time.Time) error
	SetActive(ctx context.Context, userID string, active bool, at time.Time) error
	SetPasswordHash(ctx context.Context, userID, hash string, at time.Time) error
	AppendActivity(ctx context.Context, a Activity) error
	UpsertProfile(ctx context.Context, p Profile) error
	ProfileOf(ctx context.Context, userID string) (Profile, error)
}
