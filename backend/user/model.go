package user

import (
	"net/mail"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"unilink/backend/apperr"
)

type Role string

const (
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
)

func (r Role) Valid() bool {
	return r == RoleStudent || r == RoleTeacher
}

// Profile is a registered account.
type Profile struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email,omitempty"`
	Username  string    `json:"username"`
	FullName  string    `json:"full_name"`
	Role      Role      `json:"role"`
	Bio       string    `json:"bio"`
	AvatarURL string    `json:"avatar_url"`
	AvatarKey string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

var usernamePattern = regexp.MustCompile(`^[a-z0-9_.]{3,30}$`)

const (
	minPasswordLen = 8
	maxFullNameLen = 100
	maxBioLen      = 500
)

type registration struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
	Role     Role   `json:"role"`
}

// normalize trims and validates the request in place.
func (r *registration) normalize() error {
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
	r.Username = strings.ToLower(strings.TrimSpace(r.Username))
	r.FullName = strings.TrimSpace(r.FullName)
	if r.Role == "" {
		r.Role = RoleStudent
	}

	if addr, err := mail.ParseAddress(r.Email); err != nil || addr.Address != r.Email {
		return apperr.Invalid("a valid email is required")
	}
	if !usernamePattern.MatchString(r.Username) {
		return apperr.Invalid("username must be 3-30 characters of a-z, 0-9, _ or .")
	}
	if utf8.RuneCountInString(r.Password) < minPasswordLen {
		return apperr.Invalid("password must be at least 8 characters")
	}
	if utf8.RuneCountInString(r.FullName) > maxFullNameLen {
		return apperr.Invalid("full name is too long")
	}
	if !r.Role.Valid() {
		return apperr.Invalid("role must be student or teacher")
	}
	return nil
}

type profileUpdate struct {
	FullName *string `json:"full_name"`
	Bio      *string `json:"bio"`
}

func (u *profileUpdate) apply(p *Profile) error {
	if u.FullName != nil {
		name := strings.TrimSpace(*u.FullName)
		if utf8.RuneCountInString(name) > maxFullNameLen {
			return apperr.Invalid("full name is too long")
		}
		p.FullName = name
	}
	if u.Bio != nil {
		bio := strings.TrimSpace(*u.Bio)
		if utf8.RuneCountInString(bio) > maxBioLen {
			return apperr.Invalid("bio is too long")
		}
		p.Bio = bio
	}
	return nil
}
