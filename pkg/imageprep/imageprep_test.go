package imageprep

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, h/2, color.Black)
	}
	return encodeTestPNG(t, img)
}

// colorPNG is an opaque image filled with c.
func colorPNG(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return encodeTestPNG(t, img)
}

func encodeTestPNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode() error = %v", err)
	}
	return buf.Bytes()
}

func TestDecodeBase64(t *testing.T) {
	raw := testPNG(t, 40, 20)
	std := base64.StdEncoding.EncodeToString(raw)

	tests := []struct {
		name      string
		input     string
		wantMIME  string
		wantErr   bool
		wantEmpty bool
	}{
		{name: "standard base64", input: std, wantMIME: "image/png"},
		{name: "data url", input: "data:image/png;base64," + std, wantMIME: "image/png"},
		{name: "unpadded base64", input: base64.RawStdEncoding.EncodeToString(raw), wantMIME: "image/png"},
		{name: "url-safe base64", input: base64.URLEncoding.EncodeToString(raw), wantMIME: "image/png"},
		{name: "surrounding whitespace", input: "\n " + std + " \n", wantMIME: "image/png"},
		{name: "empty", input: "", wantErr: true, wantEmpty: true},
		{name: "empty data url", input: "data:image/png;base64,", wantErr: true, wantEmpty: true},
		{name: "not base64", input: "%%%not-base64%%%", wantErr: true},
		{name: "not an image", input: base64.StdEncoding.EncodeToString([]byte("plain text")), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, err := DecodeBase64(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatal("DecodeBase64() expected error")
				}
				if tt.wantEmpty && !errors.Is(err, ErrEmptyImage) {
					t.Errorf("DecodeBase64() error = %v, want ErrEmptyImage", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeBase64() error = %v", err)
			}
			if img.MIME != tt.wantMIME {
				t.Errorf("MIME = %q, want %q", img.MIME, tt.wantMIME)
			}
			if img.Width != 40 || img.Height != 20 {
				t.Errorf("size = %dx%d, want 40x20", img.Width, img.Height)
			}
			if !bytes.Equal(img.Data, raw) {
				t.Error("decoded bytes differ from the original")
			}
		})
	}
}

func TestPrepare(t *testing.T) {
	tests := []struct {
		name       string
		w, h       int
		fill       color.Color
		opts       Options
		wantW      int
		wantH      int
		wantSameIn bool
		wantGray   bool
	}{
		{name: "tall image untouched", w: 100, h: 100, opts: DefaultOptions(), wantW: 100, wantH: 100, wantSameIn: true},
		{name: "short image doubled", w: 100, h: 40, opts: DefaultOptions(), wantW: 200, wantH: 80},
		{name: "tiny image capped", w: 10, h: 5, opts: DefaultOptions(), wantW: 40, wantH: 20},
		{name: "disabled", w: 10, h: 5, opts: Options{}, wantW: 10, wantH: 5, wantSameIn: true},
		{name: "grayscale only", w: 30, h: 100, fill: color.RGBA{R: 200, A: 255}, opts: Options{MinHeight: 64, Grayscale: true}, wantW: 30, wantH: 100, wantGray: true},
		{name: "grayscale and upscale", w: 20, h: 10, fill: color.RGBA{G: 180, B: 40, A: 255}, opts: Options{MinHeight: 20, MaxScale: 4, Grayscale: true}, wantW: 40, wantH: 20, wantGray: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := testPNG(t, tt.w, tt.h)
			if tt.fill != nil {
				data = colorPNG(t, tt.w, tt.h, tt.fill)
			}
			in, err := FromBytes(data, "")
			if err != nil {
				t.Fatalf("FromBytes() error = %v", err)
			}
			out, err := Prepare(in, tt.opts)
			if err != nil {
				t.Fatalf("Prepare() error = %v", err)
			}
			if out.Width != tt.wantW || out.Height != tt.wantH {
				t.Errorf("Prepare() size = %dx%d, want %dx%d", out.Width, out.Height, tt.wantW, tt.wantH)
			}
			if tt.wantSameIn != bytes.Equal(in.Data, out.Data) {
				t.Errorf("Prepare() re-encoded = %v, want %v", !bytes.Equal(in.Data, out.Data), !tt.wantSameIn)
			}
			cfg, _, err := image.DecodeConfig(bytes.NewReader(out.Data))
			if err != nil {
				t.Fatalf("prepared image is not decodable: %v", err)
			}
			if cfg.Width != tt.wantW || cfg.Height != tt.wantH {
				t.Errorf("encoded size = %dx%d, want %dx%d", cfg.Width, cfg.Height, tt.wantW, tt.wantH)
			}
			if tt.wantGray {
				decoded, err := png.Decode(bytes.NewReader(out.Data))
				if err != nil {
					t.Fatal(err)
				}
				r, g, b, _ := decoded.At(tt.wantW/2, tt.wantH/2).RGBA()
				if r != g || g != b {
					t.Errorf("pixel = %d %d %d, want gray", r, g, b)
				}
				if r == 0 {
					t.Error("grayscale of a coloured fill should not be black")
				}
			}
		})
	}
}

func TestBlank(t *testing.T) {
	img := Blank(256, 64)
	if img.MIME != "image/png" || img.Width != 256 || img.Height != 64 {
		t.Errorf("Blank() = %s %dx%d", img.MIME, img.Width, img.Height)
	}
	decoded, err := png.Decode(bytes.NewReader(img.Data))
	if err != nil {
		t.Fatalf("Blank() is not a PNG: %v", err)
	}
	r, g, b, _ := decoded.At(10, 10).RGBA()
	if r != 0xffff || g != 0xffff || b != 0xffff {
		t.Errorf("Blank() pixel = %d %d %d, want white", r, g, b)
	}
	if Base64(img) != base64.StdEncoding.EncodeToString(img.Data) {
		t.Error("Base64() mismatch")
	}
}

func TestReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.png")
	if err := os.WriteFile(path, testPNG(t, 12, 8), 0644); err != nil {
		t.Fatal(err)
	}
	img, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if img.Width != 12 || img.Height != 8 {
		t.Errorf("ReadFile() size = %dx%d", img.Width, img.Height)
	}
	if _, err := ReadFile(filepath.Join(t.TempDir(), "missing.png")); err == nil {
		t.Error("ReadFile() expected error for missing file")
	}
}
