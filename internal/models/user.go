package models

import (
	"time"

	"github.com/google/uuid"
)

// Role represents a user's role in the platform.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleOrganizer Role = "organizer"
)

// User is an organizer account that hosts bookings.
type User struct {
	ID                  uuid.UUID            `json:"id"`
	Email               string               `json:"email"`
	Password            string               `json:"-"`
	FullName            string               `json:"full_name"`
	Role                Role                 `json:"role"`
	TimeZone            string               `json:"time_zone"`
	Locale              string               `json:"locale"`
	DestinationCalendar *DestinationCalendar `json:"destination_calendar,omitempty"`
	CreatedAt           time.Time            `json:"created_at"`
	UpdatedAt           time.Time            `json:"updated_at"`
}

// UserPublic is User without sensitive fields for API responses.
type UserPublic struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name"`
	Role      Role      `json:"role"`
	TimeZone  string    `json:"time_zone"`
	CreatedAt time.Time `json:"created_at"`
}

// ToPublic converts User to UserPublic.
func (u *User) ToPublic() UserPublic {
	return UserPublic{
		ID:        u.ID,
		Email:     u.Email,
		FullName:  u.FullName,
		Role:      u.Role,
		TimeZone:  u.TimeZone,
		CreatedAt: u.CreatedAt,
	}
}
