package catalog

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"librarium/internal/library"
)

// RegisterBookRequest describes a new copy to add to the catalog.
type RegisterBookRequest struct {
	ISBN       string     `json:"isbn"`
	Title      string     `json:"title"`
	Author     string     `json:"author"`
	BorrowerID *uuid.UUID `json:"borrower_id,omitempty"`
}

// normalize trims text fields and treats a nil UUID as "no borrower".
func (r RegisterBookRequest) normalize() RegisterBookRequest {
	r.ISBN = strings.TrimSpace(r.ISBN)
	r.Title = strings.TrimSpace(r.Title)
	r.Author = strings.TrimSpace(r.Author)
	if r.BorrowerID != nil && *r.BorrowerID == uuid.Nil {
		r.BorrowerID = nil
	}
	return r
}

func (r RegisterBookRequest) validate() error {
	var missing []string
	if r.ISBN == "" {
		missing = append(missing, "isbn")
	}
	if r.Title == "" {
		missing = append(missing, "title")
	}
	if r.Author == "" {
		missing = append(missing, "author")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", library.ErrInvalidInput, strings.Join(missing, ", "))
	}
	return nil
}
