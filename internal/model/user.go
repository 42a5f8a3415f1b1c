package model

// User is a row of the users table as returned by get_users.
type User struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
}

// DatabaseStats summarizes the store for get_db_stats.
type DatabaseStats struct {
	UsersCount int64    `json:"users_count"`
	Tables     []string `json:"tables"`
}
