package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/tendant/simple-blob/pkg/simpleblob"
)

const (
	tagsSuffix = "/tags"

	// Room for multipart boundaries and headers around the file part.
	multipartOverhead = 1 << 20
	multipartMemory   = 32 << 20
	maxTagsBodySize   = 1 << 20
)

// BlobHandler serves the /api/blobs endpoints
type BlobHandler struct {
	service simpleblob.Service
}

// NewBlobHandler creates a new blob handler
func NewBlobHandler(service simpleblob.Service) *BlobHandler {
	return &BlobHandler{service: service}
}

// Routes returns the routes for blobs. Blob names may contain slashes, so
// single-blob routes match a wildcard and a trailing /tags selects the tag
// endpoints.
func (h *BlobHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.ListBlobs)
	r.Post("/", h.UploadBlob)
	r.Get("/*", h.getBlobOrTags)
	r.Put("/*", h.putTags)
	r.Delete("/*", h.DeleteBlob)

	return r
}

// blobName decodes the wildcard part of the path. chi matches on the raw
// path when the request carried escaped slashes, so those need unescaping.
func blobName(r *http.Request) (string, error) {
	name := chi.URLParam(r, "*")
	if r.URL.RawPath != "" {
		decoded, err := url.PathUnescape(name)
		if err != nil {
			return "", err
		}
		name = decoded
	}
	if name == "" {
		return "", errors.New("empty blob name")
	}
	return name, nil
}

// ListBlobs lists every blob under the upload folder
func (h *BlobHandler) ListBlobs(w http.ResponseWriter, r *http.Request) {
	blobs, err := h.service.ListBlobs(r.Context())
	if err != nil {
		respondServiceError(w, r, "list", err)
		return
	}
	if blobs == nil {
		blobs = []*simpleblob.Blob{}
	}
	respond(w, r, http.StatusOK, ListResponse{
		Success: true,
		Count:   len(blobs),
		Files:   blobs,
	})
}

func (h *BlobHandler) getBlobOrTags(w http.ResponseWriter, r *http.Request) {
	name, err := blobName(r)
	if err != nil {
		respondError(w, r, http.StatusBadRequest, msgInvalidName)
		return
	}
	if blob, ok := strings.CutSuffix(name, tagsSuffix); ok && blob != "" {
		h.GetTags(w, r, blob)
		return
	}
	h.GetBlob(w, r, name)
}

// GetBlob returns one blob record
func (h *BlobHandler) GetBlob(w http.ResponseWriter, r *http.Request, name string) {
	blob, err := h.service.GetBlob(r.Context(), name)
	if err != nil {
		respondServiceError(w, r, "get", err)
		return
	}
	respond(w, r, http.StatusOK, Response{Success: true, Data: blob})
}

// GetTags returns the tag set of a blob. Tag reads degrade to an empty set.
func (h *BlobHandler) GetTags(w http.ResponseWriter, r *http.Request, name string) {
	tags, err := h.service.GetTags(r.Context(), name)
	if err != nil {
		respondServiceError(w, r, "get_tags", err)
		return
	}
	respond(w, r, http.StatusOK, Response{Success: true, Data: tags})
}

// UploadBlob accepts a multipart form with a single PDF in the "file" field
func (h *BlobHandler) UploadBlob(w http.ResponseWriter, r *http.Request) {
	const limit = simpleblob.MaxUploadSize + multipartOverhead
	if r.ContentLength > limit {
		respondError(w, r, http.StatusBadRequest, msgFileTooLarge)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			respondError(w, r, http.StatusBadRequest, msgFileTooLarge)
		default:
			slog.DebugContext(r.Context(), "invalid multipart body", "error", err)
			respondError(w, r, http.StatusBadRequest, msgNoFile)
		}
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, r, http.StatusBadRequest, msgNoFile)
		return
	}
	defer file.Close()

	if !simpleblob.IsPDF(header.Header.Get("Content-Type")) {
		respondError(w, r, http.StatusBadRequest, msgOnlyPDF)
		return
	}
	if header.Size > simpleblob.MaxUploadSize {
		respondError(w, r, http.StatusBadRequest, msgFileTooLarge)
		return
	}

	blob, err := h.service.UploadBlob(r.Context(), simpleblob.UploadRequest{
		FileName:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        file,
	})
	if err != nil {
		respondServiceError(w, r, "upload", err)
		return
	}

	respond(w, r, http.StatusCreated, Response{
		Success: true,
		Message: "File uploaded successfully",
		Data:    blob,
	})
}

// DeleteBlob removes a blob
func (h *BlobHandler) DeleteBlob(w http.ResponseWriter, r *http.Request) {
	name, err := blobName(r)
	if err != nil {
		respondError(w, r, http.StatusBadRequest, msgInvalidName)
		return
	}

	result, err := h.service.DeleteBlob(r.Context(), name)
	if err != nil {
		respondServiceError(w, r, "delete", err)
		return
	}
	respond(w, r, http.StatusOK, Response{
		Success: true,
		Message: "File deleted successfully",
		Data:    result,
	})
}

// SetTagsRequest is the request body for replacing a blob's tags
type SetTagsRequest struct {
	Tags json.RawMessage `json:"tags"`
}

func (h *BlobHandler) putTags(w http.ResponseWriter, r *http.Request) {
	name, err := blobName(r)
	if err != nil {
		respondError(w, r, http.StatusBadRequest, msgInvalidName)
		return
	}
	blob, ok := strings.CutSuffix(name, tagsSuffix)
	if !ok || blob == "" {
		respondError(w, r, http.StatusNotFound, "Route not found")
		return
	}
	h.SetTags(w, r, blob)
}

// SetTags replaces the tag set of a blob
func (h *BlobHandler) SetTags(w http.ResponseWriter, r *http.Request, name string) {
	var req SetTagsRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTagsBodySize)).Decode(&req); err != nil {
		respondError(w, r, http.StatusBadRequest, msgInvalidTags)
		return
	}
	tags, err := decodeTags(req.Tags)
	if err != nil {
		slog.DebugContext(r.Context(), "invalid tags body", "blob", name, "error", err)
		respondError(w, r, http.StatusBadRequest, msgInvalidTags)
		return
	}

	result, err := h.service.SetTags(r.Context(), name, tags)
	if err != nil {
		respondServiceError(w, r, "set_tags", err)
		return
	}
	respond(w, r, http.StatusOK, Response{
		Success: true,
		Message: "Tags updated successfully",
		Data:    result,
	})
}

// decodeTags accepts a JSON object of scalars. Numbers and booleans are kept
// in their JSON text form.
func decodeTags(raw json.RawMessage) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, simpleblob.ErrInvalidTags
	}

	var values map[string]any
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	if err := dec.Decode(&values); err != nil {
		return nil, fmt.Errorf("%w: %v", simpleblob.ErrInvalidTags, err)
	}
	if values == nil {
		return nil, simpleblob.ErrInvalidTags
	}

	tags := make(map[string]string, len(values))
	for k, v := range values {
		switch val := v.(type) {
		case string:
			tags[k] = val
		case json.Number:
			tags[k] = val.String()
		case bool:
			tags[k] = strconv.FormatBool(val)
		default:
			return nil, fmt.Errorf("%w: value of %q is not a scalar", simpleblob.ErrInvalidTags, k)
		}
	}
	return tags, nil
}
