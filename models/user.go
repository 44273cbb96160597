package models

import "time"

type User struct {
	Id           int64         `json:"id" db:"id"`
	Username     string        `json:"username" db:"username"`
	Email        string        `json:"email" db:"email"`
	PasswordHash string        `json:"-" db:"password_hash"`
	FirstName    string        `json:"first_name" db:"first_name"`
	LastName     string        `json:"last_name" db:"last_name"`
	PhoneNumber  *string       `json:"phone_number" db:"phone_number"`
	IsActive     bool          `json:"is_active" db:"is_active"`
	DateJoined   time.Time     `json:"date_joined" db:"date_joined"`
	LastLogin    *time.Time    `json:"last_login" db:"last_login"`
	Tokens       *TokenDetails `json:"tokens,omitempty" db:"-"`
}
