package api

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"

	"imagetovideo/internal/blob"
	"imagetovideo/internal/generation"
	"imagetovideo/internal/ledger"
	"imagetovideo/internal/metrics"
)

// uploadFieldName is the multipart field carrying the source image.
const uploadFieldName = "image"

// multipartOverhead is allowed on top of the file size for headers and
// boundaries.
const multipartOverhead = 1 << 20

// Submitter is satisfied by *generation.Client.
type Submitter interface {
	Submit(ctx context.Context, image io.Reader, filename string) (string, error)
}

type UploadHandler struct {
	ledger    *ledger.Ledger
	blobs     *blob.Service
	generator Submitter
}

func NewUploadHandler(l *ledger.Ledger, blobs *blob.Service, generator Submitter) *UploadHandler {
	return &UploadHandler{
		ledger:    l,
		blobs:     blobs,
		generator: generator,
	}
}

type UploadResponse struct {
	Success bool   `json:"success"`
	VideoID string `json:"videoId"`
	Message string `json:"message"`
	Credits *int64 `json:"credits,omitempty"`
}

// POST /upload
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	email := GetEmail(r)
	if email == "" {
		unauthorized(w, "Authentication required")
		return
	}

	if !h.ledger.HasSufficient(r.Context(), email, ledger.GenerationCost) {
		metrics.RecordUpload("insufficient_credits")
		paymentRequired(w, "Not enough credits to generate a video")
		return
	}

	file, fileHeader, cleanup, ok := readSingleFileUpload(w, r, h.blobs.MaxUploadBytes()+multipartOverhead)
	if !ok {
		metrics.RecordUpload("rejected")
		return
	}
	defer cleanup()
	defer file.Close()

	stored, err := h.blobs.Save(r.Context(), blob.KindUpload, fileHeader.Filename, file)
	if !handleBlobSaveError(w, err) {
		metrics.RecordUpload("rejected")
		return
	}
	defer func() {
		if err := h.blobs.Delete(stored.StoragePath); err != nil {
			slog.Warn("error removing staged upload", "component", "api", "error", err, "blob_id", stored.ID)
		}
	}()

	prepared, err := h.prepare(stored.StoragePath)
	if !handleImagePrepareError(w, err) {
		metrics.RecordUpload("rejected")
		return
	}

	videoID, err := h.generator.Submit(r.Context(), bytes.NewReader(prepared.Data), "image.jpg")
	if err != nil {
		metrics.RecordUpload("upstream_error")
		slog.Error("error submitting generation job", "component", "api", "error", err, "email", email)
		badGateway(w, "The video service rejected the image")
		return
	}

	resp := UploadResponse{
		Success: true,
		VideoID: videoID,
		Message: "Video is being generated",
	}

	// The job already exists upstream; a failed debit is logged rather than
	// hiding the job ID from the user.
	balance, err := h.ledger.ApplyDelta(r.Context(), ledger.DeltaRequest{
		Email:   email,
		Delta:   -ledger.GenerationCost,
		VideoID: videoID,
	})
	if err != nil {
		slog.Error("error debiting generation", "component", "api", "error", err, "email", email, "video_id", videoID)
	} else {
		resp.Credits = &balance
		metrics.RecordCredits("generation", ledger.GenerationCost)
	}

	metrics.RecordUpload("accepted")
	writeJSON(w, http.StatusOK, resp)
}

func (h *UploadHandler) prepare(storagePath string) (*blob.Prepared, error) {
	f, err := h.blobs.Open(storagePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return blob.PrepareForGeneration(f)
}

func readSingleFileUpload(
	w http.ResponseWriter,
	r *http.Request,
	maxBytes int64,
) (multipart.File, *multipart.FileHeader, func(), bool) {
	if maxBytes > 0 {
		r.Body = http.MaxBytesReader(nil, r.Body, maxBytes)
	}

	err := r.ParseMultipartForm(1 << 20)
	if err != nil {
		if isBodyTooLargeError(err) {
			payloadTooLarge(w, "File exceeds maximum upload size")
		} else {
			badRequest(w, "Invalid multipart upload")
		}
		return nil, nil, func() {}, false
	}

	cleanup := func() {
		if r.MultipartForm != nil {
			r.MultipartForm.RemoveAll()
		}
	}

	file, fileHeader, err := r.FormFile(uploadFieldName)
	if err != nil {
		badRequest(w, "File field 'image' is required")
		cleanup()
		return nil, nil, func() {}, false
	}

	if fileHeader == nil || strings.TrimSpace(fileHeader.Filename) == "" {
		file.Close()
		cleanup()
		badRequest(w, "File name is required")
		return nil, nil, func() {}, false
	}

	return file, fileHeader, cleanup, true
}

func handleBlobSaveError(w http.ResponseWriter, err error) bool {
	if err == nil {
		return true
	}

	if errors.Is(err, blob.ErrFileTooLarge) {
		payloadTooLarge(w, "File exceeds maximum upload size")
		return false
	}
	if errors.Is(err, blob.ErrDisallowedType) {
		writeError(w, http.StatusBadRequest, ErrCodeUnsupportedMedia, "Only JPEG, PNG and WEBP images are accepted")
		return false
	}
	if errors.Is(err, blob.ErrExecutableFile) {
		badRequest(w, "Executable files are not allowed")
		return false
	}

	slog.Error("error saving upload", "component", "api", "error", err)
	internalError(w)
	return false
}

func handleImagePrepareError(w http.ResponseWriter, err error) bool {
	if err == nil {
		return true
	}

	if errors.Is(err, blob.ErrInvalidImage) {
		badRequest(w, "Invalid image file")
		return false
	}

	slog.Error("error preparing image", "component", "api", "error", err)
	internalError(w)
	return false
}

func isBodyTooLargeError(err error) bool {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "request body too large")
}

var _ Submitter = (*generation.Client)(nil)
