package model

import "time"

// User is an admin-interface account. Session permissions are the union of
// the user's role permissions and group permissions.
type User struct {
	ID           int64     `json:"id" db:"id"`
	Username     string    `json:"username" db:"username"`
	PasswordHash string    `json:"-" db:"password_hash"`
	RoleID       int64     `json:"role_id" db:"role_id"`
	GroupID      *int64    `json:"group_id,omitempty" db:"group_id"`
	Status       int       `json:"status" db:"status"` // 1 = active
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// Role carries a named permission document. Permissions is the JSON-encoded
// permission set ({"all": bool, "modules": {...}, "databases": {...}}).
type Role struct {
	ID          int64  `json:"id" db:"id"`
	Name        string `json:"name" db:"name"`
	Permissions string `json:"permissions" db:"permissions"`
}

// Group is a second, independent permission source merged with the role at
// login. Same document shape as Role.
type Group struct {
	ID          int64  `json:"id" db:"id"`
	Name        string `json:"name" db:"name"`
	Permissions string `json:"permissions" db:"permissions"`
}
