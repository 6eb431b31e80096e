package memory

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"hyfa/internal/domain"

	_ "modernc.org/sqlite"
)

// SQLiteHistory implements domain.HistoryStore on an in-memory SQLite database.
// The database lives only as long as the process; nothing is written to disk.
type SQLiteHistory struct {
	db     *sql.DB
	size   int
	logger *slog.Logger
}

func NewSQLiteHistory(size int, logger *slog.Logger) (*SQLiteHistory, error) {
	if size <= 0 {
		size = DefaultHistorySize
	}
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", "file::memory:")
	if err != nil {
		return nil, fmt.Errorf("cannot open history database: %w", err)
	}

	// Every connection to ":memory:" is a separate database, so pin exactly one.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	store := &SQLiteHistory{db: db, size: size, logger: logger}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("history schema: %w", err)
	}

	logger.Debug("sqlite history ready", "size", size)
	return store, nil
}

func (s *SQLiteHistory) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS history (
		id       INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id  TEXT NOT NULL,
		role     TEXT NOT NULL,
		content  TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_history_user ON history(user_id, id);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteHistory) Get(ctx context.Context, userID string) ([]domain.ConversationMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content FROM history WHERE user_id = ? ORDER BY id ASC`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	out := make([]domain.ConversationMessage, 0, s.size)
	for rows.Next() {
		var role, content string
		if err := rows.Scan(&role, &content); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		out = append(out, domain.ConversationMessage{Role: domain.Role(role), Content: content})
	}
	return out, rows.Err()
}

// Append inserts messages and trims the user's rows to the newest size entries
// inside one transaction.
func (s *SQLiteHistory) Append(ctx context.Context, userID string, messages ...domain.ConversationMessage) error {
	if len(messages) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for _, m := range messages {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO history (user_id, role, content) VALUES (?, ?, ?)`,
			userID, string(m.Role), m.Content,
		); err != nil {
			return fmt.Errorf("insert history: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM history WHERE user_id = ? AND id NOT IN (
			SELECT id FROM history WHERE user_id = ? ORDER BY id DESC LIMIT ?
		)`,
		userID, userID, s.size,
	); err != nil {
		return fmt.Errorf("trim history: %w", err)
	}

	return tx.Commit()
}

func (s *SQLiteHistory) Close() error {
	return s.db.Close()
}
