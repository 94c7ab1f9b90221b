package transfer

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

const historySchema = `
CREATE TABLE IF NOT EXISTS transfer_history (
    id TEXT PRIMARY KEY,
    direction TEXT NOT NULL,
    file_name TEXT NOT NULL,
    file_size INTEGER NOT NULL,
    sender_id TEXT NOT NULL,
    sender_name TEXT NOT NULL,
    target_id TEXT NOT NULL DEFAULT '',
    target_name TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    save_path TEXT NOT NULL DEFAULT '',
    error TEXT NOT NULL DEFAULT '',
    finished_at TEXT NOT NULL -- RFC3339
);

CREATE INDEX IF NOT EXISTS idx_history_finished_at ON transfer_history(finished_at);
`

// dbTransfer is the scan shape; finished_at is stored as TEXT.
type dbTransfer struct {
	ID         string `db:"id"`
	Direction  string `db:"direction"`
	FileName   string `db:"file_name"`
	FileSize   int64  `db:"file_size"`
	SenderID   string `db:"sender_id"`
	SenderName string `db:"sender_name"`
	TargetID   string `db:"target_id"`
	TargetName string `db:"target_name"`
	Status     string `db:"status"`
	SavePath   string `db:"save_path"`
	Error      string `db:"error"`
	FinishedAt string `db:"finished_at"`
}

// HistoryStore persists finished transfers, both directions, for the CLI.
type HistoryStore struct {
	db *sqlx.DB
}

func NewHistoryStore(db *sqlx.DB) (*HistoryStore, error) {
	if _, err := db.Exec(historySchema); err != nil {
		return nil, fmt.Errorf("failed to initialize history schema: %w", err)
	}
	return &HistoryStore{db: db}, nil
}

// Add upserts a terminal transfer. Re-adding the same id (a retried record)
// replaces the previous row.
func (h *HistoryStore) Add(t Transfer) error {
	if !t.Status.Terminal() {
		return fmt.Errorf("transfer %s is not finished (%s)", t.ID, t.Status)
	}

	row := dbTransfer{
		ID:         t.ID,
		Direction:  string(t.Direction),
		FileName:   t.FileName,
		FileSize:   t.FileSize,
		SenderID:   t.SenderID,
		SenderName: t.SenderName,
		TargetID:   t.TargetID,
		TargetName: t.TargetName,
		Status:     string(t.Status),
		SavePath:   t.SavePath,
		Error:      t.Error,
		FinishedAt: t.UpdatedAt.UTC().Format(time.RFC3339),
	}

	query := `INSERT OR REPLACE INTO transfer_history
	          (id, direction, file_name, file_size, sender_id, sender_name, target_id, target_name, status, save_path, error, finished_at)
	          VALUES (:id, :direction, :file_name, :file_size, :sender_id, :sender_name, :target_id, :target_name, :status, :save_path, :error, :finished_at)`
	if _, err := h.db.NamedExec(query, row); err != nil {
		return fmt.Errorf("failed to record transfer %s: %w", t.ID, err)
	}
	return nil
}

// Recent returns up to limit finished transfers, newest first.
func (h *HistoryStore) Recent(limit int) ([]Transfer, error) {
	if limit <= 0 {
		limit = 50
	}

	var rows []dbTransfer
	err := h.db.Select(&rows,
		`SELECT id, direction, file_name, file_size, sender_id, sender_name, target_id, target_name, status, save_path, error, finished_at
		 FROM transfer_history ORDER BY finished_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}

	out := make([]Transfer, 0, len(rows))
	for _, row := range rows {
		finishedAt, err := time.Parse(time.RFC3339, row.FinishedAt)
		if err != nil {
			continue // skip corrupt rows
		}
		out = append(out, Transfer{
			ID:         row.ID,
			Direction:  Direction(row.Direction),
			FileName:   row.FileName,
			FileSize:   row.FileSize,
			SenderID:   row.SenderID,
			SenderName: row.SenderName,
			TargetID:   row.TargetID,
			TargetName: row.TargetName,
			Status:     Status(row.Status),
			SavePath:   row.SavePath,
			Error:      row.Error,
			UpdatedAt:  finishedAt,
		})
	}
	return out, nil
}

// Clear wipes the history table.
func (h *HistoryStore) Clear() error {
	if _, err := h.db.Exec(`DELETE FROM transfer_history`); err != nil {
		return fmt.Errorf("failed to clear history: %w", err)
	}
	return nil
}
