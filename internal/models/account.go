package models

import (
	"time"

	"github.com/google/uuid"
)

// Account is a marketplace user. Credits is the internal currency balance
// (1 credit is nominally 1 JPY) and only moves through credit_history rows.
type Account struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"display_name"`
	PasswordHash string    `json:"-"`
	Credits      int64     `json:"credits"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
