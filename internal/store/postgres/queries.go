package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/alfredjeanlab/relay/internal/model"
)

const userColumns = "id, name, email, role, status, created_at"

func queryListUsers(ctx context.Context, db *sql.DB) ([]model.User, error) {
	rows, err := db.QueryContext(ctx, "SELECT "+userColumns+" FROM users ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := []model.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return users, nil
}

func queryStats(ctx context.Context, db *sql.DB) (model.DatabaseStats, error) {
	var stats model.DatabaseStats
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&stats.UsersCount); err != nil {
		return model.DatabaseStats{}, fmt.Errorf("count users: %w", err)
	}

	rows, err := db.QueryContext(ctx, `SELECT table_name FROM information_schema.tables
		WHERE table_schema = 'public' AND table_name <> 'schema_migrations'
		ORDER BY table_name`)
	if err != nil {
		return model.DatabaseStats{}, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	stats.Tables = []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return model.DatabaseStats{}, fmt.Errorf("scan table name: %w", err)
		}
		stats.Tables = append(stats.Tables, name)
	}
	if err := rows.Err(); err != nil {
		return model.DatabaseStats{}, fmt.Errorf("iterate tables: %w", err)
	}
	return stats, nil
}

func seedUsers(ctx context.Context, db *sql.DB, users []model.User) (int, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin seed: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var count int64
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&count); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	if count > 0 {
		return 0, nil
	}

	for _, u := range users {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO users (name, email, role, status) VALUES ($1, $2, $3, $4)",
			u.Name, u.Email, u.Role, u.Status,
		); err != nil {
			return 0, fmt.Errorf("insert %s: %w", u.Email, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit seed: %w", err)
	}
	return len(users), nil
}

// scannable is the interface satisfied by both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

func scanUser(row scannable) (model.User, error) {
	var (
		u         model.User
		createdAt time.Time
	)
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Role, &u.Status, &createdAt); err != nil {
		return model.User{}, err
	}
	u.CreatedAt = createdAt.UTC().Format(time.RFC3339)
	return u, nil
}
