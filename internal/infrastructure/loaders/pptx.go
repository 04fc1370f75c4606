package loaders

import (
	"archive/zip"
	"context"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/kirillkom/enterprise-rag/internal/core/domain"
)

var slidePart = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

// PptxLoader reads slides in order. Each slide lists its shapes top to
// bottom: text frames as paragraphs, tables as tab-separated rows, grouped
// shapes on one line and pictures through OCR. Speaker notes and comments
// follow the shapes; SmartArt text is appended at the end. Legacy .ppt is
// converted first when ConvertCommand is set.
type PptxLoader struct {
	OCR            *OCR
	ConvertCommand string
}

func (l PptxLoader) Extract(ctx context.Context, file string) (string, error) {
	if strings.EqualFold(filepath.Ext(file), ".ppt") {
		converted, cleanup, err := convertLegacy(ctx, l.ConvertCommand, file, "pptx")
		if err != nil {
			return "", err
		}
		defer cleanup()
		file = converted
	}

	zr, err := zip.OpenReader(file)
	if err != nil {
		return "", domain.InvalidInput("extract pptx", "%s is not a valid pptx archive: %v", filepath.Base(file), err)
	}
	defer zr.Close()

	deck := &pptxReader{docxReader: &docxReader{ctx: ctx, zip: &zr.Reader, ocr: l.OCR, name: filepath.Base(file)}}
	return deck.text()
}

type pptxReader struct {
	*docxReader
	authors map[string]string
}

type slideShape struct {
	x, y int64
	text string
}

func (p *pptxReader) text() (string, error) {
	slides := p.slides()
	if len(slides) == 0 {
		return "", domain.InvalidInput("extract pptx", "%s has no slides", p.name)
	}
	p.authors = p.commentAuthors()
	slog.Info("pptx_processing", "file", p.name, "slides", len(slides))

	var out []string
	for i, member := range slides {
		if err := p.ctx.Err(); err != nil {
			return "", err
		}
		out = append(out, p.slide(i+1, member)...)
	}
	if smartArt := p.smartArt(); len(smartArt) > 0 {
		out = append(out, "", "[SmartArt]")
		out = append(out, smartArt...)
	}
	return strings.Join(out, "\n"), nil
}

// slides returns the slide parts ordered by their number.
func (p *pptxReader) slides() []string {
	type numbered struct {
		n    int
		name string
	}
	var found []numbered
	for _, f := range p.zip.File {
		if m := slidePart.FindStringSubmatch(f.Name); m != nil {
			n, _ := strconv.Atoi(m[1])
			found = append(found, numbered{n, f.Name})
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].n < found[j].n })
	names := make([]string, len(found))
	for i, f := range found {
		names[i] = f.name
	}
	return names
}

func (p *pptxReader) slide(n int, member string) []string {
	lines := []string{fmt.Sprintf("--- Slide %d ---", n)}
	root, err := p.parse(member)
	if err != nil {
		slog.Warn("pptx_slide_unreadable", "file", p.name, "slide", n, "error", err)
		return lines
	}
	dir := path.Dir(member)
	rels := p.relationships(path.Join(dir, "_rels", path.Base(member)+".rels"))

	if tree, ok := root.find("spTree"); ok {
		for _, shape := range p.shapes(tree, rels, dir) {
			lines = append(lines, shape.text)
		}
	}

	var notes, comments []string
	for _, target := range rels {
		part := path.Clean(path.Join(dir, target))
		switch {
		case strings.Contains(part, "/notesSlides/"):
			notes = append(notes, part)
		case strings.Contains(part, "/comments/"):
			comments = append(comments, part)
		}
	}
	sort.Strings(notes)
	sort.Strings(comments)
	for _, part := range notes {
		if text := p.notes(part); text != "" {
			lines = append(lines, "[Slide Notes]: "+text)
		}
	}
	for _, part := range comments {
		lines = append(lines, p.comments(part)...)
	}
	return lines
}

// shapes renders the direct children of a shape tree sorted by position.
func (p *pptxReader) shapes(tree xmlNode, rels map[string]string, dir string) []slideShape {
	var out []slideShape
	for _, n := range tree.Nodes {
		var text string
		switch n.XMLName.Local {
		case "sp":
			if body, ok := n.child("txBody"); ok {
				text = frameText(body)
			}
		case "graphicFrame":
			if tbl, ok := n.find("tbl"); ok {
				text = tableText(tbl)
			}
		case "pic":
			if blip, ok := n.find("blip"); ok && p.ocr.Enabled() {
				if target := rels[blip.attr("embed")]; target != "" {
					text = p.ocrMember(path.Clean(path.Join(dir, target)))
				}
			}
		case "grpSp":
			if texts := groupTexts(n); len(texts) > 0 {
				text = "[Group]: " + strings.Join(texts, " | ")
			}
		}
		if text == "" {
			continue
		}
		x, y := shapeOffset(n)
		out = append(out, slideShape{x: x, y: y, text: text})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].y != out[j].y {
			return out[i].y < out[j].y
		}
		return out[i].x < out[j].x
	})
	return out
}

func shapeOffset(shape xmlNode) (int64, int64) {
	off, ok := shape.find("off")
	if !ok {
		return 0, 0
	}
	x, _ := strconv.ParseInt(off.attr("x"), 10, 64)
	y, _ := strconv.ParseInt(off.attr("y"), 10, 64)
	return x, y
}

// frameText joins the paragraphs of a DrawingML text body.
func frameText(body xmlNode) string {
	var paragraphs []string
	for _, para := range body.Nodes {
		if para.XMLName.Local != "p" {
			continue
		}
		var sb strings.Builder
		runText(para, &sb)
		paragraphs = append(paragraphs, sb.String())
	}
	return strings.TrimSpace(strings.Join(paragraphs, "\n"))
}

func runText(n xmlNode, sb *strings.Builder) {
	for _, c := range n.Nodes {
		switch c.XMLName.Local {
		case "pPr", "rPr", "endParaRPr":
		case "t":
			sb.WriteString(c.Content)
		case "br":
			sb.WriteString("\n")
		default:
			runText(c, sb)
		}
	}
}

func tableText(tbl xmlNode) string {
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
			cell := ""
			if body, ok := tc.child("txBody"); ok {
				cell = strings.ReplaceAll(frameText(body), "\n", " ")
			}
			cells = append(cells, cell)
		}
		rows = append(rows, strings.Join(cells, "\t"))
	}
	return strings.TrimSpace(strings.Join(rows, "\n"))
}

func groupTexts(group xmlNode) []string {
	var out []string
	for _, n := range group.Nodes {
		switch n.XMLName.Local {
		case "sp":
			if body, ok := n.child("txBody"); ok {
				if text := frameText(body); text != "" {
					out = append(out, text)
				}
			}
		case "grpSp":
			out = append(out, groupTexts(n)...)
		}
	}
	return out
}

// notes returns the body placeholder text of a notes slide, skipping the
// slide image and slide number placeholders.
func (p *pptxReader) notes(member string) string {
	root, err := p.parse(member)
	if err != nil {
		return ""
	}
	tree, ok := root.find("spTree")
	if !ok {
		return ""
	}
	var out []string
	for _, sp := range tree.Nodes {
		if sp.XMLName.Local != "sp" {
			continue
		}
		if ph, ok := sp.find("ph"); !ok || ph.attr("type") != "body" {
			continue
		}
		if body, ok := sp.child("txBody"); ok {
			if text := frameText(body); text != "" {
				out = append(out, text)
			}
		}
	}
	return strings.Join(out, "\n")
}

// comments reads legacy (<p:text>) and modern (<a:t> runs) comment parts.
func (p *pptxReader) comments(member string) []string {
	root, err := p.parse(member)
	if err != nil {
		return nil
	}
	var out []string
	for _, cm := range root.Nodes {
		if cm.XMLName.Local != "cm" {
			continue
		}
		text := ""
		if legacy, ok := cm.child("text"); ok {
			text = strings.TrimSpace(legacy.Content)
		} else if body, ok := cm.find("txBody"); ok {
			text = strings.ReplaceAll(frameText(body), "\n", " ")
		}
		if text == "" {
			continue
		}
		author := p.authors[cm.attr("authorId")]
		if author == "" {
			author = "Unknown author"
		}
		out = append(out, "[Comment by "+author+"]: "+text)
	}
	return out
}

// commentAuthors merges the legacy and modern author lists, keyed by id.
func (p *pptxReader) commentAuthors() map[string]string {
	authors := map[string]string{}
	for _, member := range []string{"ppt/commentAuthors.xml", "ppt/authors.xml"} {
		root, err := p.parse(member)
		if err != nil {
			continue
		}
		for _, a := range root.Nodes {
			if id, name := a.attr("id"), a.attr("name"); id != "" && name != "" {
				authors[id] = name
			}
		}
	}
	return authors
}

// smartArt collects the text of SmartArt data parts, minus placeholder runs.
func (p *pptxReader) smartArt() []string {
	var names []string
	for _, f := range p.zip.File {
		if strings.HasPrefix(f.Name, "ppt/diagrams/data") && strings.HasSuffix(f.Name, ".xml") {
			names = append(names, f.Name)
		}
	}
	sort.Strings(names)

	var out []string
	for _, name := range names {
		root, err := p.parse(name)
		if err != nil {
			continue
		}
		collectText(root, &out)
	}
	return out
}

func collectText(n xmlNode, out *[]string) {
	for _, c := range n.Nodes {
		if c.XMLName.Local == "t" && len(c.Nodes) == 0 {
			if text := strings.TrimSpace(c.Content); text != "" && text != "[Text]" {
				*out = append(*out, text)
			}
			continue
		}
		collectText(c, out)
	}
}
