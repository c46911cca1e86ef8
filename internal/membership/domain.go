package membership

import (
	"fmt"
	"net/mail"
	"strings"

	"librarium/internal/library"
)

// RegisterBorrowerRequest describes a new library patron.
type RegisterBorrowerRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// normalize trims both fields and lower-cases the email so uniqueness is
// case-insensitive.
func (r RegisterBorrowerRequest) normalize() RegisterBorrowerRequest {
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
	r.Name = strings.TrimSpace(r.Name)
	return r
}

func (r RegisterBorrowerRequest) validate() error {
	if r.Name == "" {
		return fmt.Errorf("%w: missing name", library.ErrInvalidInput)
	}
	if r.Email == "" {
		return fmt.Errorf("%w: missing email", library.ErrInvalidInput)
	}
	addr, err := mail.ParseAddress(r.Email)
	if err != nil || addr.Address != r.Email {
		return fmt.Errorf("%w: malformed email %q", library.ErrInvalidInput, r.Email)
	}
	return nil
}
