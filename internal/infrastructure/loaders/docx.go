package loaders

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kirillkom/enterprise-rag/internal/core/domain"
)

// xmlNode is a generic element tree; children keep document order.
type xmlNode struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
	Content string     `xml:",chardata"`
	Nodes   []xmlNode  `xml:",any"`
}

func (n xmlNode) attr(local string) string {
	for _, a := range n.Attrs {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}

func (n xmlNode) child(local string) (xmlNode, bool) {
	for _, c := range n.Nodes {
		if c.XMLName.Local == local {
			return c, true
		}
	}
	return xmlNode{}, false
}

// find returns the first descendant with the given local name.
func (n xmlNode) find(local string) (xmlNode, bool) {
	for _, c := range n.Nodes {
		if c.XMLName.Local == local {
			return c, true
		}
		if found, ok := c.find(local); ok {
			return found, true
		}
	}
	return xmlNode{}, false
}

var headingPrefix = map[string]string{
	"Title":    "# ",
	"Heading1": "# ",
	"Heading2": "## ",
	"Heading3": "### ",
	"Heading4": "#### ",
	"Heading5": "##### ",
	"Heading6": "###### ",
}

// DocxLoader walks word/document.xml in order: headings become markdown,
// tables become pipe-delimited rows and embedded images are OCR'd inline.
// Headers, footnotes and footers are appended as labelled sections.
// Legacy .doc files are converted first when ConvertCommand is set.
type DocxLoader struct {
	OCR *OCR
	// ConvertCommand is the converter used for .doc, e.g. "soffice --headless".
	ConvertCommand string
}

func (l DocxLoader) Extract(ctx context.Context, file string) (string, error) {
	if strings.EqualFold(filepath.Ext(file), ".doc") {
		converted, cleanup, err := convertLegacy(ctx, l.ConvertCommand, file, "docx")
		if err != nil {
			return "", err
		}
		defer cleanup()
		file = converted
	}

	zr, err := zip.OpenReader(file)
	if err != nil {
		return "", domain.InvalidInput("extract docx", "%s is not a valid docx archive: %v", filepath.Base(file), err)
	}
	defer zr.Close()

	doc := &docxReader{ctx: ctx, zip: &zr.Reader, ocr: l.OCR, name: filepath.Base(file)}
	return doc.text()
}

// convertLegacy turns a binary Office file into its XML successor with an
// external converter invoked LibreOffice style as
// "<cmd> <args...> --convert-to <target> --outdir <dir> <file>".
func convertLegacy(ctx context.Context, command, file, target string) (string, func(), error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return "", nil, domain.InvalidInput("extract "+strings.TrimPrefix(filepath.Ext(file), "."),
			"legacy %s needs DOC_CONVERTER_COMMAND to be configured", filepath.Ext(file))
	}
	dir, err := os.MkdirTemp("", "erag-convert-*")
	if err != nil {
		return "", nil, fmt.Errorf("create conversion dir: %w", err)
	}
	cleanup := func() { _ = os.RemoveAll(dir) }

	args := append(fields[1:], "--convert-to", target, "--outdir", dir, file)
	if out, err := exec.CommandContext(ctx, fields[0], args...).CombinedOutput(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("convert %s to %s: %w: %s", filepath.Base(file), target, err, strings.TrimSpace(string(out)))
	}
	converted := filepath.Join(dir, strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))+"."+target)
	if _, err := os.Stat(converted); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("convert %s to %s: no output produced", filepath.Base(file), target)
	}
	slog.Info("legacy_office_converted", "file", filepath.Base(file), "target", target)
	return converted, cleanup, nil
}

type docxReader struct {
	ctx  context.Context
	zip  *zip.Reader
	ocr  *OCR
	name string
	rels map[string]string
}

func (d *docxReader) text() (string, error) {
	body, err := d.parse("word/document.xml")
	if err != nil {
		return "", err
	}
	d.rels = d.relationships("word/_rels/document.xml.rels")

	var sections []string
	if headers := d.partTexts("word/header"); len(headers) > 0 {
		sections = append(sections, "[HEADER]\n"+strings.Join(headers, "\n"))
	}
	if root, ok := body.child("body"); ok {
		if text := d.blocks(root); strings.TrimSpace(text) != "" {
			sections = append(sections, text)
		}
	}
	if notes := d.notes("word/footnotes.xml"); len(notes) > 0 {
		sections = append(sections, "[FOOTNOTES]\n"+strings.Join(notes, "\n"))
	}
	if notes := d.notes("word/endnotes.xml"); len(notes) > 0 {
		sections = append(sections, "[ENDNOTES]\n"+strings.Join(notes, "\n"))
	}
	if footers := d.partTexts("word/footer"); len(footers) > 0 {
		sections = append(sections, "[FOOTER]\n"+strings.Join(footers, "\n"))
	}
	return strings.Join(sections, "\n\n"), nil
}

func (d *docxReader) blocks(parent xmlNode) string {
	var sb strings.Builder
	for _, n := range parent.Nodes {
		switch n.XMLName.Local {
		case "p":
			sb.WriteString(d.paragraph(n))
		case "tbl":
			sb.WriteString(d.table(n))
		case "sdt":
			if content, ok := n.child("sdtContent"); ok {
				sb.WriteString(d.blocks(content))
			}
		}
	}
	return sb.String()
}

func (d *docxReader) paragraph(p xmlNode) string {
	prefix := ""
	if style, ok := p.find("pStyle"); ok {
		prefix = headingPrefix[style.attr("val")]
	}
	var sb strings.Builder
	d.inline(p, &sb)
	if strings.TrimSpace(sb.String()) != "" {
		return prefix + sb.String() + "\n"
	}
	if prefix == "" {
		return "\n"
	}
	return ""
}

func (d *docxReader) inline(n xmlNode, sb *strings.Builder) {
	for _, c := range n.Nodes {
		switch c.XMLName.Local {
		case "pPr", "rPr":
		case "t":
			sb.WriteString(c.Content)
		case "tab":
			sb.WriteString("\t")
		case "br", "cr":
			sb.WriteString("\n")
		case "drawing", "pict":
			if text := d.image(c); text != "" {
				sb.WriteString(" " + text + " ")
			}
		case "hyperlink":
			var link strings.Builder
			d.inline(c, &link)
			if target := d.rels[c.attr("id")]; target != "" {
				sb.WriteString(" " + link.String() + " (" + target + ") ")
			} else {
				sb.WriteString(link.String())
			}
		default:
			d.inline(c, sb)
		}
	}
}

func (d *docxReader) table(tbl xmlNode) string {
	var rows []string
	for _, tr := range tbl.Nodes {
		if tr.XMLName.Local != "tr" {
			continue
		}
		var cells []string
		for _, tc := range tr.Nodes {
			if tc.XMLName.Local != "tc" {
				continue
			}
			var cell strings.Builder
			for _, p := range tc.Nodes {
				switch p.XMLName.Local {
				case "p":
					cell.WriteString(strings.TrimSpace(d.paragraph(p)))
				case "tbl":
					cell.WriteString(strings.TrimSpace(d.table(p)))
				}
			}
			cells = append(cells, strings.TrimSpace(cell.String()))
		}
		rows = append(rows, strings.Join(cells, " | "))
	}
	return strings.Join(rows, "\n") + "\n"
}

// image OCRs the picture referenced by a drawing. Failures are logged and
// the image is skipped.
func (d *docxReader) image(drawing xmlNode) string {
	if !d.ocr.Enabled() {
		return ""
	}
	blip, ok := drawing.find("blip")
	if !ok {
		if blip, ok = drawing.find("imagedata"); !ok {
			return ""
		}
	}
	target := d.rels[blip.attr("embed")]
	if target == "" {
		target = d.rels[blip.attr("id")]
	}
	if target == "" {
		return ""
	}
	return d.ocrMember(path.Clean(path.Join("word", target)))
}

// ocrMember OCRs an image stored in the archive. Failures are logged and
// yield no text.
func (d *docxReader) ocrMember(member string) string {
	tmp, err := d.extract(member)
	if err != nil {
		slog.Warn("office_image_extract_failed", "file", d.name, "image", member, "error", err)
		return ""
	}
	defer os.Remove(tmp)

	if strings.EqualFold(path.Ext(member), ".svg") {
		raster, err := rasterizeSVG(tmp)
		if err != nil {
			slog.Warn("office_image_extract_failed", "file", d.name, "image", member, "error", err)
			return ""
		}
		defer os.Remove(raster)
		tmp = raster
	}

	text, err := d.ocr.Recognize(d.ctx, tmp)
	if err != nil {
		slog.Warn("office_image_ocr_failed", "file", d.name, "image", member, "error", err)
		return ""
	}
	return text
}

func (d *docxReader) extract(member string) (string, error) {
	f, err := d.zip.Open(member)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return writeTemp(path.Ext(member), func(w io.Writer) error {
		_, err := io.Copy(w, f)
		return err
	})
}

func (d *docxReader) parse(member string) (xmlNode, error) {
	f, err := d.zip.Open(member)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return xmlNode{}, domain.InvalidInput("extract docx", "%s has no %s", d.name, member)
		}
		return xmlNode{}, err
	}
	defer f.Close()

	var root xmlNode
	if err := xml.NewDecoder(f).Decode(&root); err != nil {
		return xmlNode{}, fmt.Errorf("parse %s of %s: %w", member, d.name, err)
	}
	return root, nil
}

func (d *docxReader) relationships(member string) map[string]string {
	rels := map[string]string{}
	root, err := d.parse(member)
	if err != nil {
		return rels
	}
	for _, r := range root.Nodes {
		if r.XMLName.Local == "Relationship" {
			rels[r.attr("Id")] = r.attr("Target")
		}
	}
	return rels
}

// partTexts collects the non-empty paragraphs of every part whose name starts
// with prefix, e.g. word/header1.xml, word/header2.xml.
func (d *docxReader) partTexts(prefix string) []string {
	var names []string
	for _, f := range d.zip.File {
		if strings.HasPrefix(f.Name, prefix) && strings.HasSuffix(f.Name, ".xml") {
			names = append(names, f.Name)
		}
	}
	sort.Strings(names)

	seen := map[string]bool{}
	var out []string
	for _, name := range names {
		root, err := d.parse(name)
		if err != nil {
			continue
		}
		for _, line := range strings.Split(d.blocks(root), "\n") {
			if line = strings.TrimSpace(line); line != "" && !seen[line] {
				seen[line] = true
				out = append(out, line)
			}
		}
	}
	return out
}

// notes lists footnotes or endnotes, skipping Word's separator notes.
func (d *docxReader) notes(member string) []string {
	root, err := d.parse(member)
	if err != nil {
		return nil
	}
	var out []string
	for _, n := range root.Nodes {
		id := n.attr("id")
		if id == "-1" || id == "0" {
			continue
		}
		var sb strings.Builder
		d.inline(n, &sb)
		if text := strings.Join(strings.Fields(sb.String()), " "); text != "" {
			out = append(out, "["+id+"] "+text)
		}
	}
	return out
}
