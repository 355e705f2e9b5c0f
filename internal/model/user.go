package model

import "time"

// User is an application account awaiting phone verification.
type User struct {
	ID          string    `json:"id"`
	PhoneNumber string    `json:"phone_number,omitempty"`
	Verified    bool      `json:"verified"`
	CreatedAt   time.Time `json:"created_at"`
}
