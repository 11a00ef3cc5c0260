package users

import (
	"strings"
	"time"
)

// User is an account created on first Google sign-in.
type User struct {
	ID        string    `gorm:"column:id;primaryKey;size:64" json:"id"`
	GoogleID  string    `gorm:"column:google_id;size:190;not null;uniqueIndex:idx_users_google_id" json:"-"`
	Email     string    `gorm:"column:email;size:320;not null;default:''" json:"email"`
	FullName  string    `gorm:"column:full_name;size:320;not null;default:''" json:"full_name"`
	Picture   string    `gorm:"column:picture;size:1024;not null;default:''" json:"picture"`
	CreatedAt time.Time `gorm:"column:created_at;not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null" json:"-"`
}

// TableName exposes the table backing users.
func (User) TableName() string {
	return "users"
}

// Profile carries the attributes the identity provider vouches for.
type Profile struct {
	GoogleID string
	Email    string
	FullName string
	Picture  string
}

func (p Profile) normalized() Profile {
	return Profile{
		GoogleID: normalize(p.GoogleID),
		Email:    normalize(p.Email),
		FullName: normalize(p.FullName),
		Picture:  normalize(p.Picture),
	}
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
