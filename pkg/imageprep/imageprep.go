package imageprep

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/lehigh-university-libraries/ocrworker/pkg/engine"
)

// ErrEmptyImage is returned when a request carries no image bytes.
var ErrEmptyImage = errors.New("image data is empty")

// Options control Prepare.
type Options struct {
	// MinHeight upscales images shorter than this many pixels. Zero disables.
	MinHeight int
	// MaxScale caps the upscale factor.
	MaxScale int
	// Grayscale converts the image before it is handed to the engines.
	Grayscale bool
}

// DefaultOptions doubles small clipboard captures, which helps the
// recognizers with thin UI fonts.
func DefaultOptions() Options {
	return Options{MinHeight: 64, MaxScale: 4}
}

// DecodeBase64 decodes a raw base64 payload or a data: URL into an image and
// validates that it is a decodable raster format.
func DecodeBase64(s string) (engine.Image, error) {
	s = strings.TrimSpace(s)
	var hintMIME string
	if strings.HasPrefix(s, "data:") {
		if idx := strings.IndexByte(s, ','); idx > 0 {
			meta := s[len("data:"):idx]
			if semi := strings.IndexByte(meta, ';'); semi >= 0 {
				hintMIME = meta[:semi]
			} else {
				hintMIME = meta
			}
			s = s[idx+1:]
		}
	}
	if s == "" {
		return engine.Image{}, ErrEmptyImage
	}

	var data []byte
	var err error
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.URLEncoding, base64.RawStdEncoding, base64.RawURLEncoding} {
		data, err = enc.DecodeString(s)
		if err == nil {
			break
		}
	}
	if err != nil {
		return engine.Image{}, fmt.Errorf("invalid base64 image: %w", err)
	}

	return FromBytes(data, hintMIME)
}

// ReadFile loads an image from disk.
func ReadFile(path string) (engine.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return engine.Image{}, fmt.Errorf("failed to read image: %w", err)
	}
	return FromBytes(data, "")
}

// FromBytes validates encoded image bytes and fills in size and MIME type.
func FromBytes(data []byte, hintMIME string) (engine.Image, error) {
	if len(data) == 0 {
		return engine.Image{}, ErrEmptyImage
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return engine.Image{}, fmt.Errorf("unsupported image data: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return engine.Image{}, fmt.Errorf("image has no pixels (%dx%d)", cfg.Width, cfg.Height)
	}

	mime := "image/" + format
	if hintMIME != "" && strings.HasPrefix(hintMIME, "image/") {
		mime = hintMIME
	}

	return engine.Image{Data: data, MIME: mime, Width: cfg.Width, Height: cfg.Height}, nil
}

// Prepare applies upscaling and optional grayscale conversion. Images that
// need neither are returned unchanged.
func Prepare(img engine.Image, opts Options) (engine.Image, error) {
	scale := 1
	if opts.MinHeight > 0 && img.Height > 0 && img.Height < opts.MinHeight {
		scale = (opts.MinHeight + img.Height - 1) / img.Height
		scale = max(scale, 2)
		if opts.MaxScale > 0 {
			scale = min(scale, opts.MaxScale)
		}
	}
	if scale == 1 && !opts.Grayscale {
		return img, nil
	}

	src, _, err := image.Decode(bytes.NewReader(img.Data))
	if err != nil {
		return engine.Image{}, fmt.Errorf("failed to decode image: %w", err)
	}

	var dst image.Image = src
	if opts.Grayscale {
		dst = imaging.Grayscale(dst)
	}
	if scale > 1 {
		b := src.Bounds()
		dst = imaging.Resize(dst, b.Dx()*scale, b.Dy()*scale, imaging.Lanczos)
	}

	return encodePNG(dst)
}

// Blank returns a white PNG of the given size, used to warm engines up.
func Blank(width, height int) engine.Image {
	img, err := encodePNG(imaging.New(width, height, color.White))
	if err != nil {
		// encoding an in-memory NRGBA image as PNG cannot fail
		panic(err)
	}
	return img
}

func encodePNG(img image.Image) (engine.Image, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return engine.Image{}, fmt.Errorf("failed to encode image: %w", err)
	}
	b := img.Bounds()
	return engine.Image{Data: buf.Bytes(), MIME: "image/png", Width: b.Dx(), Height: b.Dy()}, nil
}

// Base64 encodes the image bytes for HTTP backends.
func Base64(img engine.Image) string {
	return base64.StdEncoding.EncodeToString(img.Data)
}
