package session

import (
	"errors"
	"time"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidToken covers tampered signatures, malformed claims and
	// tokens of the wrong kind. ErrTokenExpired is separate so callers can
	// distinguish the two in logs, but both must surface to clients as the
	// same generic authentication failure.
	ErrInvalidToken    = errors.New("invalid token")
	ErrTokenExpired    = errors.New("token expired")
	ErrTokenReplayed   = errors.New("refresh token already used")
	ErrSessionRevoked  = errors.New("session revoked")
	ErrSessionNotFound = errors.New("session not found")
	ErrDuplicateDevice = errors.New("session already exists for device")
	ErrForbidden       = errors.New("session belongs to another user")
)

// TokenPayload is the signed content of one token. It is embedded in the
// token string and never persisted on its own.
type TokenPayload struct {
	UserID    int64
	DeviceID  string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshIssuedAt  time.Time
	RefreshExpiresAt time.Time
}

type LoginResult struct {
	TokenPair
	DeviceID string
}

// DeviceMeta is descriptive only; nothing authenticates against it.
type DeviceMeta struct {
	DeviceName string
	UserAgent  string
	IP         string
}
