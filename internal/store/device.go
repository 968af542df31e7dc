package store

import (
	"database/sql"
	"time"
)

// DeviceTTL is how long an unused device keeps its local state.
const DeviceTTL = 180 * 24 * time.Hour

// CreateDevice registers a new device id.
func (s *Store) CreateDevice(id string) error {
	now := time.Now()
	_, err := s.db.Exec(
		`INSERT INTO devices (id, created_at, last_seen_at) VALUES (?, ?, ?)`,
		id, now, now,
	)
	return err
}

// TouchDevice records activity on a device. It reports false when the device
// is unknown or has expired; an expired device's state is removed.
func (s *Store) TouchDevice(id string) (bool, error) {
	var lastSeen time.Time
	err := s.db.QueryRow(`SELECT last_seen_at FROM devices WHERE id = ?`, id).Scan(&lastSeen)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	now := time.Now()
	if now.Sub(lastSeen) > DeviceTTL {
		_ = s.DeleteDevice(id)
		return false, nil
	}
	_, err = s.db.Exec(`UPDATE devices SET last_seen_at = ? WHERE id = ?`, now, id)
	return err == nil, err
}

// DeleteDevice removes a device and its local state. Logged results stay.
func (s *Store) DeleteDevice(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM local_state WHERE device = ?`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM devices WHERE id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

// CleanupStaleDevices removes devices unused for longer than DeviceTTL and
// returns their ids.
func (s *Store) CleanupStaleDevices() ([]string, error) {
	cutoff := time.Now().Add(-DeviceTTL)
	rows, err := s.db.Query(`SELECT id FROM devices WHERE last_seen_at < ?`, cutoff)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, id := range ids {
		if err := s.DeleteDevice(id); err != nil {
			return ids[:i], err
		}
	}
	return ids, nil
}
