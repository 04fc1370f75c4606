package loaders

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"
	"golang.org/x/sync/errgroup"
)

const maxPDFWorkers = 8

// PDFLoader extracts each page's link URIs, its text and the OCR text of its
// embedded images, then joins the pages in order. Pages run on a bounded
// pool unless Parallel is off; the first failing page fails the document.
type PDFLoader struct {
	Parallel   bool
	MaxWorkers int
	// OCR reads embedded raster images. Without an endpoint they are skipped.
	OCR *OCR

	countPages  func(path string) (int, error)
	extractPage func(ctx context.Context, path string, index int) (string, error)
}

func NewPDFLoader(parallel bool, maxWorkers int, ocr *OCR) *PDFLoader {
	l := &PDFLoader{
		Parallel:   parallel,
		MaxWorkers: maxWorkers,
		OCR:        ocr,
		countPages: countPDFPages,
	}
	l.extractPage = l.extractPDFPage
	return l
}

func (l *PDFLoader) Extract(ctx context.Context, path string) (string, error) {
	n, err := l.countPages(path)
	if err != nil {
		return "", fmt.Errorf("open pdf %s: %w", path, err)
	}
	name := filepath.Base(path)
	started := time.Now()
	pages := make([]string, n)

	if !l.Parallel || n <= 1 {
		slog.Info("pdf_processing", "file", name, "pages", n, "mode", "sequential")
		for i := 0; i < n; i++ {
			if err := ctx.Err(); err != nil {
				return "", err
			}
			if pages[i], err = l.extractPage(ctx, path, i); err != nil {
				return "", fmt.Errorf("pdf %s page %d/%d: %w", name, i+1, n, err)
			}
		}
	} else {
		workers := l.workers(n)
		slog.Info("pdf_processing", "file", name, "pages", n, "mode", "parallel", "workers", workers)
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(workers)
		for i := 0; i < n; i++ {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				text, err := l.extractPage(gctx, path, i)
				if err != nil {
					return fmt.Errorf("pdf %s page %d/%d: %w", name, i+1, n, err)
				}
				pages[i] = text
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			slog.Error("pdf_processing_failed", "file", name, "error", err)
			return "", err
		}
	}

	slog.Info("pdf_processed", "file", name, "pages", n, "duration_ms", time.Since(started).Milliseconds())
	return strings.Join(pages, " "), nil
}

func (l *PDFLoader) workers(pages int) int {
	if l.MaxWorkers > 0 {
		return l.MaxWorkers
	}
	return max(1, min(pages, runtime.NumCPU(), maxPDFWorkers))
}

func countPDFPages(path string) (int, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return r.NumPage(), nil
}

// extractPDFPage opens its own reader so pages can be read concurrently.
func (l *PDFLoader) extractPDFPage(ctx context.Context, path string, index int) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed page: %v", r)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	page := r.Page(index + 1)
	if page.V.IsNull() {
		return "", nil
	}

	var sb strings.Builder
	annots := page.V.Key("Annots")
	for i := 0; i < annots.Len(); i++ {
		uri := annots.Index(i).Key("A").Key("URI")
		if uri.Kind() == pdf.String {
			sb.WriteString(" ")
			sb.WriteString(uri.RawString())
		}
	}
	body, err := page.GetPlainText(nil)
	if err != nil {
		return "", err
	}
	sb.WriteString(body)
	if l.OCR.Enabled() {
		images := pdfImages{
			ctx:       ctx,
			ocr:       l.OCR,
			file:      f,
			name:      filepath.Base(path),
			page:      index + 1,
			encrypted: !r.Trailer().Key("Encrypt").IsNull(),
		}
		if ocrText := images.text(page); ocrText != "" {
			sb.WriteString(" ")
			sb.WriteString(ocrText)
		}
	}
	return sb.String(), nil
}
