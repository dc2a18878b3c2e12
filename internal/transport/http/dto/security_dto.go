package dto

import "time"

type DeviceSessionResponse struct {
	DeviceID     string    `json:"device_id"`
	DeviceName   string    `json:"device_name"`
	IP           string    `json:"ip"`
	LastActiveAt time.Time `json:"last_active_at"`
	IsCurrent    bool      `json:"is_current"`
}

type RevokeAllResponse struct {
	Revoked int64 `json:"revoked"`
}
