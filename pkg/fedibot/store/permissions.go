// Package store – permissions.go implements the permitted-user registry.
//
// Like the access list in similar assistants, the bot does NOT respond to
// everyone: only accounts added to this registry can trigger it.
// Authorization is monotonic — there is no removal path.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// PermittedUser is one authorized account.
type PermittedUser struct {
	// UserID is the account identifier on the instance.
	UserID string

	// AddedBy is who granted the authorization ("cli" or an account id).
	AddedBy string

	// AddedAt is when the authorization was granted.
	AddedAt time.Time
}

// PermissionRegistry persists the set of accounts allowed to use the bot.
// Safe for concurrent use.
type PermissionRegistry struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPermissionRegistry creates a registry on an open bot database.
func NewPermissionRegistry(db *sql.DB, logger *slog.Logger) *PermissionRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &PermissionRegistry{
		db:     db,
		logger: logger.With("component", "permissions"),
	}
}

// Add authorizes an account. Adding an already-present account is a no-op.
func (r *PermissionRegistry) Add(ctx context.Context, userID, addedBy string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO permitted_users (user_id, added_by, added_at) VALUES (?, ?, ?)`,
		userID, addedBy, now,
	)
	if err != nil {
		return fmt.Errorf("add permitted user %q: %w", userID, err)
	}

	if n, err := res.RowsAffected(); err == nil && n > 0 {
		r.logger.Info("permitted user added", "user", userID, "by", addedBy)
	}
	return nil
}

// IsPermitted reports whether the account may trigger the bot.
func (r *PermissionRegistry) IsPermitted(ctx context.Context, userID string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx,
		`SELECT 1 FROM permitted_users WHERE user_id = ?`, userID,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check permitted user %q: %w", userID, err)
	}
	return true, nil
}

// List returns all authorized accounts, oldest first.
func (r *PermissionRegistry) List(ctx context.Context) ([]PermittedUser, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT user_id, added_by, added_at FROM permitted_users ORDER BY added_at, user_id`)
	if err != nil {
		return nil, fmt.Errorf("list permitted users: %w", err)
	}
	defer rows.Close()

	var users []PermittedUser
	for rows.Next() {
		var u PermittedUser
		var addedAt string
		if err := rows.Scan(&u.UserID, &u.AddedBy, &addedAt); err != nil {
			return nil, fmt.Errorf("scan permitted user: %w", err)
		}
		u.AddedAt, _ = time.Parse(time.RFC3339, addedAt)
		users = append(users, u)
	}
	return users, rows.Err()
}
