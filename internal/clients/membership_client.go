package clients

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"librarium/internal/library"
	"librarium/internal/membership"
)

var _ membership.Service = (*MembershipClient)(nil)

type MembershipClient struct {
	client
}

func NewMembershipClient(baseURL string, opts ...Option) *MembershipClient {
	return &MembershipClient{client: newClient(baseURL, opts)}
}

func (c *MembershipClient) RegisterBorrower(ctx context.Context, req membership.RegisterBorrowerRequest) (*library.Borrower, error) {
	var borrower library.Borrower
	if err := c.do(ctx, http.MethodPost, "/borrowers", req, &borrower); err != nil {
		return nil, err
	}
	return &borrower, nil
}

func (c *MembershipClient) BorrowBook(ctx context.Context, borrowerID, bookID uuid.UUID) (*library.Book, error) {
	return c.transition(ctx, "borrow", borrowerID, bookID)
}

func (c *MembershipClient) ReturnBook(ctx context.Context, borrowerID, bookID uuid.UUID) (*library.Book, error) {
	return c.transition(ctx, "return", borrowerID, bookID)
}

func (c *MembershipClient) transition(ctx context.Context, action string, borrowerID, bookID uuid.UUID) (*library.Book, error) {
	var book library.Book
	path := fmt.Sprintf("/borrowers/%s/%s/%s", borrowerID, action, bookID)
	if err := c.do(ctx, http.MethodPost, path, nil, &book); err != nil {
		return nil, err
	}
	return &book, nil
}

func (c *MembershipClient) GetAllBorrowers(ctx context.Context) ([]*library.Borrower, error) {
	var borrowers []*library.Borrower
	if err := c.do(ctx, http.MethodGet, "/borrowers", nil, &borrowers); err != nil {
		return nil, err
	}
	return borrowers, nil
}

func (c *MembershipClient) GetBorrowerByID(ctx context.Context, id uuid.UUID) (*library.Borrower, error) {
	var borrower library.Borrower
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/borrowers/%s", id), nil, &borrower); err != nil {
		return nil, err
	}
	return &borrower, nil
}

func (c *MembershipClient) GetBorrowedBooks(ctx context.Context, borrowerID uuid.UUID) ([]*library.Book, error) {
	var books []*library.Book
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/borrowers/%s/books", borrowerID), nil, &books); err != nil {
		return nil, err
	}
	return books, nil
}
