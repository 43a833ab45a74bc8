package models

import "time"

// User is the signed-in identity used for attribution and display.
type User struct {
	UID         string `json:"uid"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName,omitempty"`
	Company     string `json:"company,omitempty"`
	Position    string `json:"position,omitempty"`
}

// Ref returns the attribution reference for u. The name falls back to the email.
func (u *User) Ref() *UserRef {
	if u == nil {
		return nil
	}
	name := u.DisplayName
	if name == "" {
		name = u.Email
	}
	return &UserRef{UID: u.UID, Name: name, Email: u.Email}
}

// Profile is the stored profile document of a user.
type Profile struct {
	UID         string    `json:"uid"`
	Email       string    `json:"email"`
	DisplayName string    `json:"displayName,omitempty"`
	Company     string    `json:"company,omitempty"`
	Position    string    `json:"position,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	LastLoginAt time.Time `json:"lastLoginAt"`
}

// Credential is a locally stored email/password login.
type Credential struct {
	UID          string
	Email        string
	PasswordHash string
	DisplayName  string
	CreatedAt    time.Time
}
