package model

import "time"

// Session is the single active session for one logical device of one user.
// DeviceID is minted at login and stays stable across refresh rotations;
// IssuedAt/ExpiresAt always mirror the most recently issued, non-blacklisted
// refresh token for that device.
type Session struct {
	DeviceID   string    `json:"device_id"`
	UserID     int64     `json:"user_id"`
	DeviceName string    `json:"device_name"`
	UserAgent  string    `json:"user_agent"`
	IP         string    `json:"ip"`
	IssuedAt   time.Time `json:"issued_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}
