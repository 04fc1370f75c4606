package loaders

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/kirillkom/enterprise-rag/internal/core/domain"
)

// Loader extracts plain text from one file format.
type Loader interface {
	Extract(ctx context.Context, path string) (string, error)
}

const (
	mimeZip  = "application/zip"
	mimeText = "text/plain"
	mimeOLE  = "application/x-ole-storage"
)

// acceptedMIME maps an extension to the content types its bytes may sniff as.
// A file whose sniffed type is not listed for its extension is rejected.
var acceptedMIME = map[string][]string{
	"txt":   {mimeText},
	"md":    {mimeText, "text/markdown"},
	"csv":   {"text/csv", mimeText},
	"json":  {"application/json", mimeText},
	"jsonl": {"application/x-ndjson", "application/json", mimeText},
	"yaml":  {mimeText, "text/yaml", "application/x-yaml"},
	"yml":   {mimeText, "text/yaml", "application/x-yaml"},
	"xml":   {"text/xml", "application/xml"},
	"html":  {"text/html"},
	"xlsx":  {"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", mimeZip},
	"xls":   {"application/vnd.ms-excel", mimeOLE},
	"docx":  {"application/vnd.openxmlformats-officedocument.wordprocessingml.document", mimeZip},
	"doc":   {"application/msword", mimeOLE},
	"pptx":  {"application/vnd.openxmlformats-officedocument.presentationml.presentation", mimeZip},
	"ppt":   {"application/vnd.ms-powerpoint", mimeOLE},
	"pdf":   {"application/pdf"},
	"png":   {"image/png"},
	"jpg":   {"image/jpeg"},
	"jpeg":  {"image/jpeg"},
	"tiff":  {"image/tiff"},
	"svg":   {"image/svg+xml"},
	"mp3":   {"audio/mpeg"},
	"wav":   {"audio/wav", "audio/x-wav", "audio/wave"},
}

// Dispatcher picks a Loader by extension after checking that the file's
// content agrees with it.
type Dispatcher struct {
	loaders map[string]Loader
}

func NewDispatcher(loaders map[string]Loader) *Dispatcher {
	return &Dispatcher{loaders: loaders}
}

// SupportedTypes lists the extensions that have both a MIME rule and a loader.
func (d *Dispatcher) SupportedTypes() []string {
	out := make([]string, 0, len(d.loaders))
	for ext := range d.loaders {
		if _, ok := acceptedMIME[ext]; ok {
			out = append(out, ext)
		}
	}
	sort.Strings(out)
	return out
}

// Detect returns the lower-cased extension and the sniffed MIME type.
func (d *Dispatcher) Detect(path string) (string, string, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return "", "", fmt.Errorf("stat %s: %w", path, err)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return "", "", domain.InvalidInput("detect file type", "%s is a symbolic link", filepath.Base(path))
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return "", "", fmt.Errorf("detect mime type of %s: %w", path, err)
	}
	return ext, baseMIME(mt.String()), nil
}

func (d *Dispatcher) Parse(ctx context.Context, path string) (string, error) {
	ext, mime, err := d.Detect(path)
	if err != nil {
		return "", err
	}
	loader, ok := d.loaders[ext]
	accepted, known := acceptedMIME[ext]
	if !ok || !known {
		return "", domain.InvalidInput("parse file", "unsupported file type %q, supported: %s", ext, strings.Join(d.SupportedTypes(), ", "))
	}
	if !slices.Contains(accepted, mime) {
		return "", domain.InvalidInput("parse file", "content type %s does not match extension .%s", mime, ext)
	}

	slog.Debug("file_parse_started", "file", filepath.Base(path), "type", ext, "mime", mime)
	return loader.Extract(ctx, path)
}

func baseMIME(raw string) string {
	if i := strings.IndexByte(raw, ';'); i >= 0 {
		raw = raw[:i]
	}
	return strings.ToLower(strings.TrimSpace(raw))
}

type Options struct {
	OCREndpoint         string
	OCRFallbackEndpoint string
	ASREndpoint         string
	PDFParallel         bool
	PDFMaxWorkers       int
	DocConverterCommand string
	Timeout             time.Duration
}

// NewDefaultDispatcher wires a loader for every supported extension.
func NewDefaultDispatcher(opts Options) *Dispatcher {
	ocr := NewOCR(opts.OCREndpoint, opts.OCRFallbackEndpoint, opts.Timeout)
	docx := DocxLoader{OCR: ocr, ConvertCommand: opts.DocConverterCommand}
	pptx := PptxLoader{OCR: ocr, ConvertCommand: opts.DocConverterCommand}
	image := ImageLoader{OCR: ocr}
	audio := NewAudioLoader(opts.ASREndpoint, 0)

	return NewDispatcher(map[string]Loader{
		"txt":   TextLoader{},
		"json":  TextLoader{},
		"jsonl": TextLoader{},
		"xml":   TextLoader{},
		"csv":   CSVLoader{},
		"md":    MarkdownLoader{},
		"html":  HTMLLoader{},
		"yaml":  YAMLLoader{},
		"yml":   YAMLLoader{},
		"xlsx":  SpreadsheetLoader{},
		"xls":   SpreadsheetLoader{},
		"docx":  docx,
		"doc":   docx,
		"pptx":  pptx,
		"ppt":   pptx,
		"pdf":   NewPDFLoader(opts.PDFParallel, opts.PDFMaxWorkers, ocr),
		"png":   image,
		"jpg":   image,
		"jpeg":  image,
		"tiff":  image,
		"svg":   image,
		"mp3":   audio,
		"wav":   audio,
	})
}
