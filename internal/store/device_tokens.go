package store

import (
	"context"
	"time"
)

// DeviceToken represents a push notification token for a device
type DeviceToken struct {
	ID        string    `json:"id"`
	DeviceID  string    `json:"device_id"`
	Token     string    `json:"token"`
	Platform  string    `json:"platform"` // "ios" or "android"
	CreatedAt time.Time `json:"created_at"`
}

// RegisterDeviceToken registers or updates a push token. A token re-registered
// from a different device moves to that device.
func (s *Store) RegisterDeviceToken(ctx context.Context, deviceID, token, platform string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO device_tokens (device_id, token, platform)
		VALUES ($1, $2, $3)
		ON CONFLICT (token) DO UPDATE SET
			device_id = EXCLUDED.device_id,
			platform = EXCLUDED.platform,
			created_at = NOW()
	`, deviceID, token, platform)
	return err
}

// UnregisterDeviceToken removes a push token
func (s *Store) UnregisterDeviceToken(ctx context.Context, token string) error {
	_, err := s.db.Exec(ctx, `
		DELETE FROM device_tokens WHERE token = $1
	`, token)
	return err
}

// ListDeviceTokens returns all registered push tokens
func (s *Store) ListDeviceTokens(ctx context.Context) ([]DeviceToken, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, device_id, token, platform, created_at
		FROM device_tokens
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tokens []DeviceToken
	for rows.Next() {
		var t DeviceToken
		if err := rows.Scan(&t.ID, &t.DeviceID, &t.Token, &t.Platform, &t.CreatedAt); err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}
