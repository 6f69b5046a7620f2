package repository

import (
	"context"
	"database/sql"

	"tenant-auth-policy/internal/passwordpolicy/domain"
)

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a password history repository that uses the given db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// List returns up to limit entries for the user, newest first. A limit <= 0 returns nothing.
func (r *PostgresRepository) List(ctx context.Context, userID string, limit int) ([]*domain.HistoryEntry, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, password_hash, created_at FROM password_history
		WHERE user_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.HistoryEntry
	for rows.Next() {
		var e domain.HistoryEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.PasswordHash, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// Add inserts e and sets its ID.
func (r *PostgresRepository) Add(ctx context.Context, e *domain.HistoryEntry) error {
	return r.db.QueryRowContext(ctx, `
		INSERT INTO password_history (user_id, password_hash, created_at) VALUES ($1, $2, $3)
		RETURNING id`, e.UserID, e.PasswordHash, e.CreatedAt).Scan(&e.ID)
}

// Trim deletes all but the newest keep entries for the user.
func (r *PostgresRepository) Trim(ctx context.Context, userID string, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM password_history WHERE user_id = $1 AND id NOT IN (
			SELECT id FROM password_history WHERE user_id = $1
			ORDER BY created_at DESC, id DESC LIMIT $2)`, userID, keep)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
