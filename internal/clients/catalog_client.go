package clients

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"librarium/internal/catalog"
	"librarium/internal/library"
	"librarium/pkg/eventstore"
)

var _ catalog.Service = (*CatalogClient)(nil)

type CatalogClient struct {
	client
}

func NewCatalogClient(baseURL string, opts ...Option) *CatalogClient {
	return &CatalogClient{client: newClient(baseURL, opts)}
}

func (c *CatalogClient) RegisterBook(ctx context.Context, req catalog.RegisterBookRequest) (*library.Book, error) {
	var book library.Book
	if err := c.do(ctx, http.MethodPost, "/books", req, &book); err != nil {
		return nil, err
	}
	return &book, nil
}

func (c *CatalogClient) GetAllBooks(ctx context.Context) ([]*library.Book, error) {
	var books []*library.Book
	if err := c.do(ctx, http.MethodGet, "/books", nil, &books); err != nil {
		return nil, err
	}
	return books, nil
}

func (c *CatalogClient) GetBookByID(ctx context.Context, id uuid.UUID) (*library.Book, error) {
	var book library.Book
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/books/%s", id), nil, &book); err != nil {
		return nil, err
	}
	return &book, nil
}

func (c *CatalogClient) GetBookHistory(ctx context.Context, id uuid.UUID) ([]eventstore.Event, error) {
	var events []eventstore.Event
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/books/%s/history", id), nil, &events); err != nil {
		return nil, err
	}
	return events, nil
}
