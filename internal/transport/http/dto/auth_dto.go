package dto

type LoginRequest struct {
	UserID     int64  `json:"user_id"`
	DeviceName string `json:"device_name"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type AuthTokensResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresInSec int64  `json:"expires_in_sec"`
	DeviceID     string `json:"device_id,omitempty"`
}

type LogoutResponse struct {
	OK bool `json:"ok"`
}
