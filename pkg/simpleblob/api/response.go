package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"
	"github.com/tendant/simple-blob/pkg/simpleblob"
)

// Response is the JSON envelope of every blob endpoint except the listing
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ListResponse is the envelope of GET /api/blobs
type ListResponse struct {
	Success bool               `json:"success"`
	Count   int                `json:"count"`
	Files   []*simpleblob.Blob `json:"files"`
}

func respond(w http.ResponseWriter, r *http.Request, status int, body any) {
	render.Status(r, status)
	render.JSON(w, r, body)
}

func respondError(w http.ResponseWriter, r *http.Request, status int, message string) {
	respond(w, r, status, Response{Success: false, Error: message})
}

// User-facing messages for validation failures
const (
	msgNoFile       = "No file provided"
	msgOnlyPDF      = "Only PDF files are allowed."
	msgFileTooLarge = "File too large. Maximum size is 50MB."
	msgInvalidTags  = "Tags must be provided as an object"
	msgInvalidName  = "Invalid blob name"
	msgRateLimited  = "Too many requests from this IP, please try again later."
)

func validationMessage(err error) string {
	switch {
	case errors.Is(err, simpleblob.ErrFileTooLarge):
		return msgFileTooLarge
	case errors.Is(err, simpleblob.ErrInvalidContentType):
		return msgOnlyPDF
	case errors.Is(err, simpleblob.ErrInvalidTags):
		return msgInvalidTags
	case errors.Is(err, simpleblob.ErrMissingFileName):
		return msgNoFile
	}
	return err.Error()
}

// respondServiceError maps service errors onto the envelope. Validation
// errors are the client's fault; everything else, not-found included, is 500.
func respondServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	if simpleblob.IsValidation(err) {
		respondError(w, r, http.StatusBadRequest, validationMessage(err))
		return
	}
	slog.ErrorContext(r.Context(), "request failed", "op", op, "path", r.URL.Path, "error", err)
	respondError(w, r, http.StatusInternalServerError, err.Error())
}
