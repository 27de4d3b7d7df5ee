package api

import (
	"bytes"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"imagetovideo/internal/blob"
)

func multipartBody(t *testing.T, field, filename string, size int) (*bytes.Buffer, string) {
	t.Helper()

	body := bytes.NewBuffer(nil)
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile(field, filename)
	if err != nil {
		t.Fatalf("CreateFormFile() error = %v", err)
	}
	if _, err := part.Write(bytes.Repeat([]byte{'a'}, size)); err != nil {
		t.Fatalf("part.Write() error = %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("writer.Close() error = %v", err)
	}
	return body, writer.FormDataContentType()
}

func TestReadSingleFileUpload(t *testing.T) {
	tests := []struct {
		name     string
		field    string
		size     int
		json     bool
		wantOK   bool
		wantCode int
		wantErr  string
	}{
		{name: "image field", field: "image", size: 512, wantOK: true},
		{name: "over limit", field: "image", size: 2048, wantCode: http.StatusRequestEntityTooLarge, wantErr: ErrCodePayloadTooLarge},
		{name: "wrong field", field: "file", size: 512, wantCode: http.StatusBadRequest, wantErr: ErrCodeInvalidRequest},
		{name: "json body", json: true, wantCode: http.StatusBadRequest, wantErr: ErrCodeInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req *http.Request
			if tt.json {
				req = httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader(`{"image":"x"}`))
				req.Header.Set("Content-Type", "application/json")
			} else {
				body, contentType := multipartBody(t, tt.field, "photo.png", tt.size)
				req = httptest.NewRequest(http.MethodPost, "/upload", body)
				req.Header.Set("Content-Type", contentType)
			}
			rr := httptest.NewRecorder()

			file, header, cleanup, ok := readSingleFileUpload(rr, req, 1024)
			defer cleanup()
			if file != nil {
				defer file.Close()
			}

			if ok != tt.wantOK {
				t.Fatalf("readSingleFileUpload() ok = %v, want %v (status %d)", ok, tt.wantOK, rr.Code)
			}
			if tt.wantOK {
				if header == nil || header.Filename != "photo.png" {
					t.Fatalf("readSingleFileUpload() header = %#v, want photo.png", header)
				}
				return
			}

			if rr.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rr.Code, tt.wantCode)
			}
			if resp := decodeBody[ErrorResponse](t, rr); resp.Error.Code != tt.wantErr {
				t.Fatalf("error.code = %q, want %q", resp.Error.Code, tt.wantErr)
			}
		})
	}
}

func TestHandleBlobSaveError(t *testing.T) {
	tests := []struct {
		err      error
		wantCode int
		wantErr  string
	}{
		{fmt.Errorf("saving: %w", blob.ErrFileTooLarge), http.StatusRequestEntityTooLarge, ErrCodePayloadTooLarge},
		{fmt.Errorf("saving: %w", blob.ErrDisallowedType), http.StatusBadRequest, ErrCodeUnsupportedMedia},
		{blob.ErrExecutableFile, http.StatusBadRequest, ErrCodeInvalidRequest},
		{errors.New("disk full"), http.StatusInternalServerError, ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			rr := httptest.NewRecorder()
			if handleBlobSaveError(rr, tt.err) {
				t.Fatal("handleBlobSaveError() = true, want false")
			}
			if rr.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rr.Code, tt.wantCode)
			}
			if resp := decodeBody[ErrorResponse](t, rr); resp.Error.Code != tt.wantErr {
				t.Fatalf("error.code = %q, want %q", resp.Error.Code, tt.wantErr)
			}
		})
	}

	if !handleBlobSaveError(httptest.NewRecorder(), nil) {
		t.Fatal("handleBlobSaveError(nil) = false, want true")
	}
}
