package entity

import (
	"time"
)

// User is the aggregate root for the accounts domain.
// Password holds the bcrypt hash, never the plaintext.
type User struct {
	ID        int64
	Username  string
	Email     string
	Password  string
	FirstName string
	LastName  string
	IsAdmin   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DisplayName is the first name, or the email when no first name was given.
func (u *User) DisplayName() string {
	if u.FirstName != "" {
		return u.FirstName
	}
	return u.Email
}
