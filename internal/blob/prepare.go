package blob

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	_ "image/png"
	"io"
	"math"

	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const PreparedQuality = 90

var ErrInvalidImage = errors.New("invalid image")

// Size is a frame size accepted by the generation API.
type Size struct {
	Width  int
	Height int
}

var (
	SizeLandscape = Size{Width: 1024, Height: 576}
	SizePortrait  = Size{Width: 576, Height: 1024}
	SizeSquare    = Size{Width: 768, Height: 768}
)

type Prepared struct {
	Data     []byte
	MimeType string
	Width    int
	Height   int
}

// TargetSize picks the supported frame closest to the image's aspect ratio.
func TargetSize(width, height int) Size {
	ar := float64(width) / float64(height)
	switch {
	case math.Abs(ar-16.0/9.0) < math.Abs(ar-9.0/16.0):
		return SizeLandscape
	case math.Abs(ar-9.0/16.0) < math.Abs(ar-1):
		return SizePortrait
	default:
		return SizeSquare
	}
}

// PrepareForGeneration decodes a JPEG, PNG or WEBP image, cover-crops it to
// its target size around the centre and re-encodes it as JPEG.
func PrepareForGeneration(src io.Reader) (*Prepared, error) {
	img, _, err := image.Decode(src)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}

	bounds := img.Bounds()
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		return nil, fmt.Errorf("%w: empty dimensions", ErrInvalidImage)
	}

	target := TargetSize(bounds.Dx(), bounds.Dy())
	dst := image.NewRGBA(image.Rect(0, 0, target.Width, target.Height))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, coverRect(bounds, target), xdraw.Over, nil)

	buf := bytes.NewBuffer(nil)
	if err := jpeg.Encode(buf, dst, &jpeg.Options{Quality: PreparedQuality}); err != nil {
		return nil, fmt.Errorf("encoding jpeg: %w", err)
	}

	return &Prepared{
		Data:     buf.Bytes(),
		MimeType: "image/jpeg",
		Width:    target.Width,
		Height:   target.Height,
	}, nil
}

// coverRect is the centred region of bounds with the target's aspect ratio.
func coverRect(bounds image.Rectangle, target Size) image.Rectangle {
	w, h := float64(bounds.Dx()), float64(bounds.Dy())
	scale := math.Max(float64(target.Width)/w, float64(target.Height)/h)

	cropW := int(math.Round(float64(target.Width) / scale))
	cropH := int(math.Round(float64(target.Height) / scale))
	cropW = min(max(cropW, 1), bounds.Dx())
	cropH = min(max(cropH, 1), bounds.Dy())

	x0 := bounds.Min.X + (bounds.Dx()-cropW)/2
	y0 := bounds.Min.Y + (bounds.Dy()-cropH)/2
	return image.Rect(x0, y0, x0+cropW, y0+cropH)
}
