package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/pavelanni/eikenprep/internal/model"
)

// Keys of the per-device local state.
const (
	KeyUser     = "eiken_user"
	KeyDarkMode = "eiken_dark_mode"
)

// SetState upserts a key-value pair for a device.
func (s *Store) SetState(device, key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO local_state (device, key, value, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(device, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		device, key, value, time.Now(),
	)
	return err
}

// GetState returns the value for a device key.
// Returns empty string and nil error if the key is missing.
func (s *Store) GetState(device, key string) (string, error) {
	var value string
	err := s.db.QueryRow(
		`SELECT value FROM local_state WHERE device = ? AND key = ?`, device, key,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// ClearState removes every key of a device.
func (s *Store) ClearState(device string) error {
	_, err := s.db.Exec(`DELETE FROM local_state WHERE device = ?`, device)
	return err
}

// SaveUser stores the device's user record.
func (s *Store) SaveUser(device string, u model.User) error {
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("encode user: %w", err)
	}
	return s.SetState(device, KeyUser, string(data))
}

// LoadUser returns the device's user record, or nil when none is stored.
// A record that no longer parses is treated as absent.
func (s *Store) LoadUser(device string) (*model.User, error) {
	raw, err := s.GetState(device, KeyUser)
	if err != nil || raw == "" {
		return nil, err
	}
	var u model.User
	if err := json.Unmarshal([]byte(raw), &u); err != nil || u.ID == "" {
		slog.Warn("ignoring unreadable stored user", "device", device, "error", err)
		return nil, nil
	}
	return &u, nil
}

// SetDarkMode stores the dark mode preference.
func (s *Store) SetDarkMode(device string, on bool) error {
	return s.SetState(device, KeyDarkMode, strconv.FormatBool(on))
}

// DarkMode reads the dark mode preference. Anything but "true" is off.
func (s *Store) DarkMode(device string) (bool, error) {
	raw, err := s.GetState(device, KeyDarkMode)
	if err != nil {
		return false, err
	}
	return raw == "true", nil
}
