package model

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleParent       Role = "parent"
	RolePsychologist Role = "psychologist"
)

func (r Role) Valid() bool {
	return r == RoleParent || r == RolePsychologist
}

type User struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	Role         Role      `json:"role"`
	Verified     bool      `json:"verified"`
	PasswordHash []byte    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}
