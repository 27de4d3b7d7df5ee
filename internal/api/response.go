package api

import (
	"encoding/json"
	"net/http"

	"imagetovideo/internal/constants"
)

const (
	ErrCodeInvalidRequest      = constants.ErrCodeInvalidRequest
	ErrCodeUnauthorized        = constants.ErrCodeUnauthorized
	ErrCodeNotFound            = constants.ErrCodeNotFound
	ErrCodeInternal            = constants.ErrCodeInternal
	ErrCodeRateLimitExceeded   = constants.ErrCodeRateLimited
	ErrCodePayloadTooLarge     = constants.ErrCodePayloadTooLarge
	ErrCodeUnsupportedMedia    = constants.ErrCodeUnsupportedMedia
	ErrCodeInsufficientCredits = constants.ErrCodeInsufficientCredits
	ErrCodeUpstream            = constants.ErrCodeUpstream
	ErrCodeInvalidSignature    = constants.ErrCodeInvalidSignature
)

type ErrorResponse struct {
	Success bool        `json:"success"`
	Error   ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// StatusResponse is the poll reply for every outcome except a ready video.
type StatusResponse struct {
	Success bool   `json:"success"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

func writeStatus(w http.ResponseWriter, status int, state, message string) {
	writeJSON(w, status, StatusResponse{Status: state, Message: message})
}

func badRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, message)
}

func unauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

func paymentRequired(w http.ResponseWriter, message string) {
	writeError(w, http.StatusPaymentRequired, ErrCodeInsufficientCredits, message)
}

func payloadTooLarge(w http.ResponseWriter, message string) {
	writeError(w, http.StatusRequestEntityTooLarge, ErrCodePayloadTooLarge, message)
}


func badGateway(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadGateway, ErrCodeUpstream, message)
}

func internalError(w http.ResponseWriter) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, "An internal error occurred")
}
