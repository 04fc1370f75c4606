package loaders

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"html"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/gomarkdown/markdown"
	mdhtml "github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html/charset"
	"gopkg.in/yaml.v3"
)

// readText reads a file and decodes it to UTF-8 when it is not already.
func readText(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return decodeText(raw, "text/plain")
}

func decodeText(raw []byte, contentType string) (string, error) {
	raw = bytes.TrimPrefix(raw, []byte("\xef\xbb\xbf"))
	if utf8.Valid(raw) {
		return string(raw), nil
	}
	enc, name, _ := charset.DetermineEncoding(raw, contentType)
	decoded, err := enc.NewDecoder().Bytes(raw)
	if err != nil {
		return "", fmt.Errorf("decode %s text: %w", name, err)
	}
	return string(decoded), nil
}

// TextLoader returns file contents as they are. Used for txt, json, jsonl and xml.
type TextLoader struct{}

func (TextLoader) Extract(_ context.Context, path string) (string, error) {
	return readText(path)
}

// CSVLoader emits one line per record with fields joined by commas.
type CSVLoader struct{}

func (CSVLoader) Extract(_ context.Context, path string) (string, error) {
	text, err := readText(path)
	if err != nil {
		return "", err
	}
	r := csv.NewReader(strings.NewReader(text))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var lines []string
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read csv %s: %w", path, err)
		}
		lines = append(lines, strings.Join(record, ","))
	}
	return strings.Join(lines, "\n"), nil
}

// MarkdownLoader renders markdown and keeps only its text.
type MarkdownLoader struct{}

func (MarkdownLoader) Extract(_ context.Context, path string) (string, error) {
	text, err := readText(path)
	if err != nil {
		return "", err
	}
	p := parser.NewWithExtensions(parser.CommonExtensions)
	rendered := markdown.Render(p.Parse([]byte(text)), mdhtml.NewRenderer(mdhtml.RendererOptions{Flags: mdhtml.CommonFlags}))
	stripped := bluemonday.StrictPolicy().SanitizeBytes(rendered)
	return html.UnescapeString(collapseBlankLines(string(stripped))), nil
}

// HTMLLoader drops scripts and styles and returns the document text.
type HTMLLoader struct{}

func (HTMLLoader) Extract(_ context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	body, err := charset.NewReader(f, "text/html")
	if err != nil {
		return "", fmt.Errorf("decode html %s: %w", path, err)
	}
	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return "", fmt.Errorf("parse html %s: %w", path, err)
	}
	doc.Find("script, style, noscript, head").Remove()

	var lines []string
	for _, line := range strings.Split(doc.Text(), "\n") {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n"), nil
}

// YAMLLoader re-emits every document of the file in canonical form.
type YAMLLoader struct{}

func (YAMLLoader) Extract(_ context.Context, path string) (string, error) {
	text, err := readText(path)
	if err != nil {
		return "", err
	}
	dec := yaml.NewDecoder(strings.NewReader(text))
	var out []string
	for {
		var node yaml.Node
		err := dec.Decode(&node)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse yaml %s: %w", path, err)
		}
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(&node); err != nil {
			return "", fmt.Errorf("encode yaml %s: %w", path, err)
		}
		_ = enc.Close()
		out = append(out, strings.TrimSpace(buf.String()))
	}
	return strings.Join(out, "\n---\n"), nil
}

func collapseBlankLines(s string) string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}
