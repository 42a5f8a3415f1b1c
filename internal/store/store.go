// Package store defines the data access surface the command executor reads
// from, plus the sample data both backends seed on first start.
package store

import (
	"context"

	"github.com/alfredjeanlab/relay/internal/model"
)

// UsersTable is the only application table.
const UsersTable = "users"

// Store is implemented by the sqlite and postgres backends.
type Store interface {
	ListUsers(ctx context.Context) ([]model.User, error)
	Stats(ctx context.Context) (model.DatabaseStats, error)

	// SeedSampleUsers inserts SampleUsers when the users table is empty and
	// returns how many rows were written.
	SeedSampleUsers(ctx context.Context) (int, error)

	Close() error
}

// SampleUsers are written by SeedSampleUsers.
var SampleUsers = []model.User{
	{Name: "John Doe", Email: "john@example.com", Role: "admin", Status: "active"},
	{Name: "Jane Smith", Email: "jane@example.com", Role: "user", Status: "active"},
	{Name: "Bob Johnson", Email: "bob@example.com", Role: "user", Status: "inactive"},
	{Name: "Alice Brown", Email: "alice@example.com", Role: "editor", Status: "active"},
}
