package domain

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

type User struct {
	ID            string         `json:"id" db:"id"` // номер телефона
	Role          Role           `json:"role" db:"role"`
	SiteURL       *string        `json:"site_url,omitempty" db:"site_url"`
	WebsiteConfig types.JSONText `json:"website_config,omitempty" db:"website_config"`
	CreatedAt     time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at" db:"updated_at"`
}
