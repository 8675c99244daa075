package models

import (
	"time"

	"go-tours/utils/apifeatures"
)

const (
	RoleUser      = "user"
	RoleGuide     = "guide"
	RoleLeadGuide = "lead-guide"
	RoleAdmin     = "admin"
)

// User keeps the bcrypt hash in Password. Reads strip it with UserHidden and
// the reset fields never serialize to JSON.
type User struct {
	Base                 `bson:",inline"`
	Name                 string     `json:"name" bson:"name" validate:"required"`
	Email                string     `json:"email" bson:"email" validate:"required,email"`
	Photo                string     `json:"photo,omitempty" bson:"photo,omitempty"`
	Role                 string     `json:"role" bson:"role" validate:"required,oneof=user guide lead-guide admin"`
	Password             string     `json:"password,omitempty" bson:"password" validate:"required"`
	PasswordChangedAt    *time.Time `json:"-" bson:"passwordChangedAt,omitempty"`
	PasswordResetToken   string     `json:"-" bson:"passwordResetToken,omitempty"`
	PasswordResetExpires *time.Time `json:"-" bson:"passwordResetExpires,omitempty"`
	Active               *bool      `json:"-" bson:"active,omitempty"`
}

// UserHidden are the stored fields no read may project.
var UserHidden = []string{"password", "passwordResetToken", "passwordResetExpires", "active"}

// PasswordInput is the body of every operation that sets a password.
type PasswordInput struct {
	Password        string `json:"password" validate:"required,min=8"`
	PasswordConfirm string `json:"passwordConfirm" validate:"required,eqfield=Password"`
}

type SignupInput struct {
	Name  string `json:"name" validate:"required"`
	Email string `json:"email" validate:"required,email"`
	Role  string `json:"role" validate:"omitempty,oneof=user guide lead-guide admin"`
	PasswordInput
}

var UserSchema = apifeatures.Schema{
	"name":  {Kind: apifeatures.String},
	"email": {Kind: apifeatures.String},
	"photo": {Kind: apifeatures.String},
	"role":  {Kind: apifeatures.String, Multi: true},
}.WithBase()

// IsActive treats a missing flag as active.
func (u *User) IsActive() bool {
	return u.Active == nil || *u.Active
}

// ChangedPasswordAfter reports whether the password changed after a token
// issued at iat (unix seconds).
func (u *User) ChangedPasswordAfter(iat int64) bool {
	if u.PasswordChangedAt == nil {
		return false
	}
	return u.PasswordChangedAt.Unix() > iat
}

// HasRole reports whether the user holds one of roles.
func (u *User) HasRole(roles ...string) bool {
	for _, r := range roles {
		if u.Role == r {
			return true
		}
	}
	return false
}
