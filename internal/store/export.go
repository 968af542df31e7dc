package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pavelanni/eikenprep/internal/model"
)

// LogResult appends a finished exam result to the result log.
func (s *Store) LogResult(device string, u model.User, r model.ExamResult) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO exam_results (device, user_id, user_name, completed_at, result) VALUES (?, ?, ?, ?, ?)`,
		device, u.ID, u.Name, r.CompletedAt, string(data),
	)
	return err
}

// ListResults returns logged results in completion order. An empty userID
// lists every account.
func (s *Store) ListResults(userID string) ([]model.ResultRecord, error) {
	query := `SELECT device, user_id, user_name, result FROM exam_results`
	var args []any
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY completed_at, id`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var records []model.ResultRecord
	for rows.Next() {
		var rec model.ResultRecord
		var raw string
		if err := rows.Scan(&rec.Device, &rec.UserID, &rec.UserName, &raw); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(raw), &rec.Result); err != nil {
			return nil, fmt.Errorf("decode result of %s: %w", rec.UserID, err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// ExportResults builds the export document for the logged results.
func (s *Store) ExportResults(userID string) (model.ResultExport, error) {
	records, err := s.ListResults(userID)
	if err != nil {
		return model.ResultExport{}, fmt.Errorf("list results: %w", err)
	}
	if records == nil {
		records = []model.ResultRecord{}
	}
	return model.ResultExport{
		ExportedAt: time.Now().UTC(),
		Count:      len(records),
		Results:    records,
	}, nil
}
