package membership

import (
	"log/slog"
	"net/http"

	"librarium/internal/httpx"
)

// Handler exposes the membership service over HTTP.
type Handler struct {
	service Service
	logger  *slog.Logger
}

// NewHandler returns a Handler backed by service.
func NewHandler(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// HandleRegisterBorrower serves POST /borrowers.
func (h *Handler) HandleRegisterBorrower(w http.ResponseWriter, r *http.Request) {
	var req RegisterBorrowerRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	borrower, err := h.service.RegisterBorrower(r.Context(), req)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, borrower)
}

// HandleListBorrowers serves GET /borrowers.
func (h *Handler) HandleListBorrowers(w http.ResponseWriter, r *http.Request) {
	borrowers, err := h.service.GetAllBorrowers(r.Context())
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, borrowers)
}

// HandleGetBorrower serves GET /borrowers/{id}.
func (h *Handler) HandleGetBorrower(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLParamUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	borrower, err := h.service.GetBorrowerByID(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, borrower)
}

// HandleBorrowedBooks serves GET /borrowers/{id}/books.
func (h *Handler) HandleBorrowedBooks(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLParamUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	books, err := h.service.GetBorrowedBooks(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, books)
}

// HandleBorrow serves POST /borrowers/{borrowerID}/borrow/{bookID}.
func (h *Handler) HandleBorrow(w http.ResponseWriter, r *http.Request) {
	h.handleTransition(w, r, h.service.BorrowBook)
}

// HandleReturn serves POST /borrowers/{borrowerID}/return/{bookID}.
func (h *Handler) HandleReturn(w http.ResponseWriter, r *http.Request) {
	h.handleTransition(w, r, h.service.ReturnBook)
}

func (h *Handler) handleTransition(w http.ResponseWriter, r *http.Request, op transitionFunc) {
	borrowerID, err := httpx.URLParamUUID(r, "borrowerID")
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	bookID, err := httpx.URLParamUUID(r, "bookID")
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	book, err := op(r.Context(), borrowerID, bookID)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, book)
}
