package loaders

import (
	"context"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kirillkom/enterprise-rag/internal/core/domain"
)

const labelSVG = `<?xml version="1.0" encoding="UTF-8"?>
<svg xmlns="http://www.w3.org/2000/svg" width="100" height="50" viewBox="0 0 100 50">
  <rect x="10" y="10" width="80" height="30" fill="black"/>
</svg>`

func TestImageLoaderRasterizesSVGBeforeOCR(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("expected multipart file: %v", err)
			return
		}
		cfg, err := png.DecodeConfig(file)
		if err != nil {
			t.Errorf("upload %s is not a png: %v", header.Filename, err)
			http.Error(w, "not png", http.StatusUnsupportedMediaType)
			return
		}
		if cfg.Width != 1024 || cfg.Height != 512 {
			t.Errorf("raster size = %dx%d, want 1024x512", cfg.Width, cfg.Height)
		}
		_, _ = w.Write([]byte(`{"text":"black label"}`))
	}))
	defer server.Close()

	path := writeFile(t, t.TempDir(), "label.svg", []byte(labelSVG))
	text, err := NewDefaultDispatcher(Options{OCREndpoint: server.URL, Timeout: time.Second}).Parse(context.Background(), path)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if text != "black label" {
		t.Fatalf("unexpected text %q", text)
	}
}

func TestImageLoaderRejectsUnparsableSVG(t *testing.T) {
	ocr := ocrServer(t, http.StatusOK, "unused")
	path := writeFile(t, t.TempDir(), "broken.svg", []byte("<svg><path d="))
	_, err := ImageLoader{OCR: NewOCR(ocr.URL, "", time.Second)}.Extract(context.Background(), path)
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestSVGCanvas(t *testing.T) {
	for _, tc := range []struct {
		w, h         float64
		wantW, wantH int
	}{
		{100, 50, 1024, 512},
		{0, 0, 1024, 1024},
		{2048, 1024, 2048, 1024},
		{8192, 4096, 4096, 2048},
	} {
		if w, h := svgCanvas(tc.w, tc.h); w != tc.wantW || h != tc.wantH {
			t.Errorf("svgCanvas(%v, %v) = %d, %d; want %d, %d", tc.w, tc.h, w, h, tc.wantW, tc.wantH)
		}
	}
}
