package loaders

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
)

// maxPDFImageBytes bounds both raw and decoded image streams.
const maxPDFImageBytes = 64 << 20

// pdfImages OCRs the image XObjects a page references, in resource name order.
type pdfImages struct {
	ctx       context.Context
	ocr       *OCR
	file      io.ReaderAt
	name      string
	page      int
	encrypted bool
}

func (p pdfImages) text(page pdf.Page) string {
	xobjects := page.Resources().Key("XObject")
	keys := xobjects.Keys()
	sort.Strings(keys)

	var out []string
	for _, key := range keys {
		if p.ctx.Err() != nil {
			break
		}
		obj := xobjects.Key(key)
		if obj.Key("Subtype").Name() != "Image" {
			continue
		}
		text, err := p.recognize(obj)
		if err != nil {
			slog.Warn("pdf_image_ocr_failed", "file", p.name, "page", p.page, "image", key, "error", err)
			continue
		}
		if text != "" {
			out = append(out, text)
		}
	}
	return strings.Join(out, " ")
}

func (p pdfImages) recognize(obj pdf.Value) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed image stream: %v", r)
		}
	}()

	var tmp string
	switch filter := imageFilter(obj); filter {
	case "DCTDecode", "JPXDecode":
		if p.encrypted {
			return "", errors.New("encrypted image streams are not supported")
		}
		raw, err := rawStream(p.file, obj)
		if err != nil {
			return "", err
		}
		ext := ".jpg"
		if filter == "JPXDecode" {
			ext = ".jp2"
		}
		tmp, err = writeTemp(ext, func(w io.Writer) error {
			_, err := w.Write(raw)
			return err
		})
		if err != nil {
			return "", err
		}
	case "", "FlateDecode":
		img, err := decodeSamples(obj)
		if err != nil {
			return "", err
		}
		tmp, err = writeTemp(".png", func(w io.Writer) error { return png.Encode(w, img) })
		if err != nil {
			return "", err
		}
	default:
		return "", fmt.Errorf("unsupported image filter %s", filter)
	}
	defer os.Remove(tmp)

	return p.ocr.Recognize(p.ctx, tmp)
}

// imageFilter returns the last filter applied to a stream, "" for none.
func imageFilter(obj pdf.Value) string {
	filter := obj.Key("Filter")
	switch filter.Kind() {
	case pdf.Name:
		return filter.Name()
	case pdf.Array:
		if n := filter.Len(); n == 1 {
			return filter.Index(0).Name()
		} else if n > 1 {
			return "chained"
		}
	}
	return ""
}

// rawStream returns the undecoded bytes of a stream. The reader has no
// accessor for them, but a stream value formats as "<<dict>>@offset".
func rawStream(f io.ReaderAt, obj pdf.Value) ([]byte, error) {
	s := obj.String()
	at := strings.LastIndexByte(s, '@')
	if at < 0 {
		return nil, errors.New("value is not a stream")
	}
	offset, err := strconv.ParseInt(s[at+1:], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("stream offset: %w", err)
	}
	n := obj.Key("Length").Int64()
	if n <= 0 || n > maxPDFImageBytes {
		return nil, fmt.Errorf("image stream length %d out of range", n)
	}
	buf := make([]byte, n)
	if _, err := f.ReadAt(buf, offset); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return buf, nil
}

// decodeSamples rebuilds an 8-bit gray, RGB or CMYK raster from its samples.
func decodeSamples(obj pdf.Value) (image.Image, error) {
	w, h := int(obj.Key("Width").Int64()), int(obj.Key("Height").Int64())
	if bpc := obj.Key("BitsPerComponent").Int64(); bpc != 8 {
		return nil, fmt.Errorf("unsupported bits per component %d", bpc)
	}
	components := map[string]int{"DeviceGray": 1, "DeviceRGB": 3, "DeviceCMYK": 4}[obj.Key("ColorSpace").Name()]
	if components == 0 {
		return nil, fmt.Errorf("unsupported color space %s", obj.Key("ColorSpace"))
	}
	if w <= 0 || h <= 0 || w*h*components > maxPDFImageBytes {
		return nil, fmt.Errorf("image size %dx%d out of range", w, h)
	}

	rc := obj.Reader()
	defer rc.Close()
	samples := make([]byte, w*h*components)
	if _, err := io.ReadFull(rc, samples); err != nil {
		return nil, fmt.Errorf("read image samples: %w", err)
	}

	rect := image.Rect(0, 0, w, h)
	switch components {
	case 1:
		return &image.Gray{Pix: samples, Stride: w, Rect: rect}, nil
	case 4:
		return &image.CMYK{Pix: samples, Stride: 4 * w, Rect: rect}, nil
	}
	img := image.NewNRGBA(rect)
	for i := 0; i < w*h; i++ {
		copy(img.Pix[4*i:], samples[3*i:3*i+3])
		img.Pix[4*i+3] = 0xff
	}
	return img, nil
}
