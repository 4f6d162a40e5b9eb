package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"gorm.io/gorm"
)

// BaseModel contains common fields for all models
type BaseModel struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

// Role represents a caller role in the system
type Role string

const (
	RoleAdmin   Role = "admin"   // tenant administrator, may manage settings
	RoleService Role = "service" // machine caller, may invoke trigger endpoints
	RoleUser    Role = "user"    // regular caller, may submit and read messages
)

// Claims represents JWT token claims. Every authenticated request carries the
// tenant it operates on; all configuration and message state is partitioned
// by TenantID.
type Claims struct {
	UserID   uint   `json:"user_id"`
	TenantID uint   `json:"tenant_id"`
	Email    string `json:"email"`
	Role     Role   `json:"role"`
	jwt.RegisteredClaims
}

// TokenPair represents access and refresh tokens
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}
