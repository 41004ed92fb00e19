package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresDedupChecker is the cold tier of request deduplication.
// Processed request ids live in event_log.processed_requests; the hot
// tier (in-memory LRU) sits in front of this.
type PostgresDedupChecker struct {
	db *sql.DB
}

func NewPostgresDedupChecker(db *sql.DB) *PostgresDedupChecker {
	return &PostgresDedupChecker{db: db}
}

// IsDuplicate reports whether the request id has already been
// processed for the given operation.
func (c *PostgresDedupChecker) IsDuplicate(op string, requestID string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	var exists int
	err := c.db.QueryRowContext(ctx, `
		SELECT 1
		FROM event_log.processed_requests
		WHERE op = $1 AND request_id = $2
		LIMIT 1
	`, op, requestID).Scan(&exists)

	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// MarkProcessed records a request id after the operation succeeded.
func (c *PostgresDedupChecker) MarkProcessed(ctx context.Context, op string, requestID string) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO event_log.processed_requests (op, request_id)
		VALUES ($1, $2)
		ON CONFLICT (op, request_id) DO NOTHING
	`, op, requestID)
	if err != nil {
		return fmt.Errorf("mark processed %s:%s: %w", op, requestID, err)
	}
	return nil
}

// RecentKeys returns the newest composite keys for warming the LRU
// tier after a restart.
func (c *PostgresDedupChecker) RecentKeys(ctx context.Context, limit int) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT op, request_id
		FROM event_log.processed_requests
		ORDER BY processed_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var op, requestID string
		if err := rows.Scan(&op, &requestID); err != nil {
			return nil, err
		}
		keys = append(keys, fmt.Sprintf("%s:%s", op, requestID))
	}
	return keys, rows.Err()
}
