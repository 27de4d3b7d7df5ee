package blob

import (
	"bytes"
	"errors"
	"image"
	"testing"
)

func TestTargetSize(t *testing.T) {
	tests := []struct {
		name          string
		width, height int
		want          Size
	}{
		{name: "widescreen", width: 1920, height: 1080, want: SizeLandscape},
		{name: "wide", width: 3000, height: 1000, want: SizeLandscape},
		{name: "phone portrait", width: 1080, height: 1920, want: SizePortrait},
		{name: "square", width: 500, height: 500, want: SizeSquare},
		{name: "four by three", width: 800, height: 600, want: SizeLandscape},
		{name: "three by four", width: 600, height: 800, want: SizePortrait},
		{name: "nearly square", width: 900, height: 1000, want: SizeSquare},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TargetSize(tt.width, tt.height); got != tt.want {
				t.Fatalf("TargetSize(%d, %d) = %+v, want %+v", tt.width, tt.height, got, tt.want)
			}
		})
	}
}

func TestPrepareForGenerationProducesSupportedJPEG(t *testing.T) {
	tests := []struct {
		name          string
		width, height int
		want          Size
	}{
		{name: "landscape upscale", width: 320, height: 180, want: SizeLandscape},
		{name: "portrait", width: 90, height: 160, want: SizePortrait},
		{name: "square", width: 40, height: 40, want: SizeSquare},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prepared, err := PrepareForGeneration(bytes.NewReader(encodeTestPNG(t, tt.width, tt.height)))
			if err != nil {
				t.Fatalf("PrepareForGeneration() error = %v", err)
			}
			if prepared.MimeType != "image/jpeg" {
				t.Fatalf("MimeType = %q, want image/jpeg", prepared.MimeType)
			}

			decoded, format, err := image.Decode(bytes.NewReader(prepared.Data))
			if err != nil {
				t.Fatalf("image.Decode() error = %v", err)
			}
			if format != "jpeg" {
				t.Fatalf("format = %q, want jpeg", format)
			}
			if decoded.Bounds().Dx() != tt.want.Width || decoded.Bounds().Dy() != tt.want.Height {
				t.Fatalf("dimensions = %dx%d, want %dx%d", decoded.Bounds().Dx(), decoded.Bounds().Dy(), tt.want.Width, tt.want.Height)
			}
		})
	}
}

func TestCoverRectIsCentred(t *testing.T) {
	got := coverRect(image.Rect(0, 0, 2000, 1000), SizeSquare)
	want := image.Rect(500, 0, 1500, 1000)
	if got != want {
		t.Fatalf("coverRect() = %v, want %v", got, want)
	}
}

func TestPrepareForGenerationRejectsInvalidImageData(t *testing.T) {
	_, err := PrepareForGeneration(bytes.NewReader([]byte("not-an-image")))
	if !errors.Is(err, ErrInvalidImage) {
		t.Fatalf("PrepareForGeneration() error = %v, want ErrInvalidImage", err)
	}
}
